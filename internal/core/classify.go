package core

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/stun/v3"
)

// Classify demultiplexes a datagram by its first byte (RFC 7983). Media
// comes out as RTPRaw: it is still SRTP protected at this point. buf is
// copied, so callers may reuse it.
func Classify(now time.Time, transport TransportContext, buf []byte) (TaggedMessageEvent, error) {
	ev := TaggedMessageEvent{Now: now, Transport: transport}
	if len(buf) == 0 {
		return ev, ErrUnclassifiedDatagram
	}
	data := bytes.Clone(buf)

	switch b := data[0]; {
	case b <= 3:
		if !stun.IsMessage(data) {
			return ev, fmt.Errorf("%w: bad stun header", ErrUnclassifiedDatagram)
		}
		m := &stun.Message{Raw: data}
		if err := m.Decode(); err != nil {
			return ev, fmt.Errorf("decode stun: %w", err)
		}
		ev.Message = STUNMessage{Message: m}
	case b >= 20 && b <= 63:
		ev.Message = DTLSRaw{Payload: data}
	case b >= 128 && b <= 191:
		ev.Message = RTPRaw{Payload: data}
	default:
		return ev, fmt.Errorf("%w: first byte %d", ErrUnclassifiedDatagram, b)
	}
	return ev, nil
}

// isRTCP tells RTCP from RTP by the second byte (RFC 5761).
func isRTCP(buf []byte) bool {
	return len(buf) >= 2 && buf[1] >= 192 && buf[1] <= 223
}

// ParseMedia parses plaintext RTP or RTCP.
func ParseMedia(buf []byte) (MessageEvent, error) {
	if isRTCP(buf) {
		packets, err := rtcp.Unmarshal(buf)
		if err != nil {
			return nil, fmt.Errorf("unmarshal rtcp: %w", err)
		}
		return RTCPPackets{Packets: packets}, nil
	}
	p := &rtp.Packet{}
	if err := p.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("unmarshal rtp: %w", err)
	}
	return RTPPacket{Packet: p}, nil
}

// DecryptMedia replaces an RTPRaw event with the parsed packet(s), using
// the remote SRTP context installed for the sender's address. Other events
// are returned unchanged.
func (s *ServerStates) DecryptMedia(ev TaggedMessageEvent) (TaggedMessageEvent, error) {
	raw, ok := ev.Message.(RTPRaw)
	if !ok {
		return ev, nil
	}
	ctx, ok := s.RemoteSRTPContext(ev.Transport.RemoteAddr)
	if !ok {
		return ev, fmt.Errorf("%w %s", ErrNoSRTPContext, ev.Transport.RemoteAddr)
	}

	var (
		plain []byte
		err   error
	)
	if isRTCP(raw.Payload) {
		plain, err = ctx.DecryptRTCP(nil, raw.Payload, nil)
	} else {
		plain, err = ctx.DecryptRTP(nil, raw.Payload, nil)
	}
	if err != nil {
		return ev, fmt.Errorf("srtp decrypt: %w", err)
	}

	msg, err := ParseMedia(plain)
	if err != nil {
		return ev, err
	}
	ev.Message = msg
	return ev, nil
}
