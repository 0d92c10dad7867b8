package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/sfu/internal/domain"
)

// ErrReplyUndeliverable means the requester stopped waiting before its
// reply could be handed over.
var ErrReplyUndeliverable = errors.New("failed to send back signaling message response")

const InvalidRequestReason = "Invalid Request"

type MessageKind uint8

const (
	KindOk MessageKind = iota
	KindErr
	KindOffer
	KindAnswer
	KindLeave
)

func (k MessageKind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindErr:
		return "err"
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindLeave:
		return "leave"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// SignalingProtocolMessage is the in-process contract between signaling
// transports and the goroutine owning negotiation state. Payload carries
// the offer or answer JSON, or the reason of an Err.
type SignalingProtocolMessage struct {
	Kind       MessageKind
	SessionID  domain.SessionID
	EndpointID domain.EndpointID
	Payload    []byte
}

func Offer(sid domain.SessionID, eid domain.EndpointID, offer []byte) SignalingProtocolMessage {
	return SignalingProtocolMessage{Kind: KindOffer, SessionID: sid, EndpointID: eid, Payload: offer}
}

func Leave(sid domain.SessionID, eid domain.EndpointID) SignalingProtocolMessage {
	return SignalingProtocolMessage{Kind: KindLeave, SessionID: sid, EndpointID: eid}
}

func (m SignalingProtocolMessage) ok() SignalingProtocolMessage {
	return SignalingProtocolMessage{Kind: KindOk, SessionID: m.SessionID, EndpointID: m.EndpointID}
}

func (m SignalingProtocolMessage) fail(reason string) SignalingProtocolMessage {
	return SignalingProtocolMessage{Kind: KindErr, SessionID: m.SessionID, EndpointID: m.EndpointID, Payload: []byte(reason)}
}

func (m SignalingProtocolMessage) answer(answer []byte) SignalingProtocolMessage {
	return SignalingProtocolMessage{Kind: KindAnswer, SessionID: m.SessionID, EndpointID: m.EndpointID, Payload: answer}
}

// Reason is the error text of an Err message.
func (m SignalingProtocolMessage) Reason() string {
	if m.Kind != KindErr {
		return ""
	}
	return string(m.Payload)
}

// SignalingMessage is one request together with its single-slot reply
// channel. A reply is delivered at most once.
type SignalingMessage struct {
	Request SignalingProtocolMessage

	ctx   context.Context
	reply chan SignalingProtocolMessage
}

// NewSignalingMessage wraps req. ctx is the requester's: once it is done
// the reply counts as undeliverable.
func NewSignalingMessage(ctx context.Context, req SignalingProtocolMessage) (SignalingMessage, <-chan SignalingProtocolMessage) {
	reply := make(chan SignalingProtocolMessage, 1)
	return SignalingMessage{Request: req, ctx: ctx, reply: reply}, reply
}

func (m SignalingMessage) respond(resp SignalingProtocolMessage) error {
	if m.ctx != nil {
		if err := m.ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrReplyUndeliverable, err)
		}
	}
	select {
	case m.reply <- resp:
		return nil
	default:
		return ErrReplyUndeliverable
	}
}
