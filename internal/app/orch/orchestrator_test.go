package orch

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sfu/internal/core"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert, err := webrtc.GenerateCertificate(key)
	require.NoError(t, err)
	states, err := core.NewServerStates(
		core.NewServerConfig([]webrtc.Certificate{*cert}),
		netip.MustParseAddrPort("127.0.0.1:3478"),
	)
	require.NoError(t, err)
	return NewOrchestrator(states)
}

func offerJSON(t *testing.T, mid string) []byte {
	t.Helper()
	lines := []string{
		"v=0",
		"o=- 1 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=ice-ufrag:someUfrag",
		"a=ice-pwd:somePasswordSomePassword",
		"a=fingerprint:sha-256 AB:CD",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=setup:actpass",
	}
	if mid != "" {
		lines = append(lines, "a=mid:"+mid)
	}
	lines = append(lines, "a=sendrecv", "a=rtpmap:111 opus/48000/2")
	b, err := json.Marshal(core.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  strings.Join(lines, "\r\n") + "\r\n",
	})
	require.NoError(t, err)
	return b
}

// handle dispatches req and returns every reply that was delivered.
func handle(t *testing.T, o *Orchestrator, req SignalingProtocolMessage) []SignalingProtocolMessage {
	t.Helper()
	msg, reply := NewSignalingMessage(context.Background(), req)
	require.NoError(t, o.HandleSignalingMessage(msg))

	var got []SignalingProtocolMessage
	for {
		select {
		case r := <-reply:
			got = append(got, r)
		default:
			return got
		}
	}
}

func TestHandleOffer(t *testing.T) {
	o := newTestOrchestrator(t)
	replies := handle(t, o, Offer(3, 4, offerJSON(t, "0")))
	require.Len(t, replies, 1)

	resp := replies[0]
	assert.Equal(t, KindAnswer, resp.Kind)
	assert.EqualValues(t, 3, resp.SessionID)
	assert.EqualValues(t, 4, resp.EndpointID)

	var answer core.SessionDescription
	require.NoError(t, json.Unmarshal(resp.Payload, &answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Contains(t, answer.SDP, "a=mid:0")
	assert.Equal(t, 1, o.States.CandidateCount())
}

func TestHandleOfferErrors(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantReason string
	}{
		{name: "not json", payload: []byte("v=0"), wantReason: "decode offer"},
		{name: "missing mid", payload: offerJSON(t, ""), wantReason: core.ErrRemoteDescriptionWithoutMidValue.Error()},
		{name: "unknown mid", payload: offerJSON(t, "5"), wantReason: core.ErrTransceiverMidNil.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrchestrator(t)
			replies := handle(t, o, Offer(1, 1, tt.payload))
			require.Len(t, replies, 1)
			assert.Equal(t, KindErr, replies[0].Kind)
			assert.Contains(t, replies[0].Reason(), tt.wantReason)
			assert.Zero(t, o.States.CandidateCount())
		})
	}
}

func TestHandleLeave(t *testing.T) {
	o := newTestOrchestrator(t)
	replies := handle(t, o, Leave(1, 2))
	require.Len(t, replies, 1)
	assert.Equal(t, KindOk, replies[0].Kind)
	assert.EqualValues(t, 1, replies[0].SessionID)
	assert.EqualValues(t, 2, replies[0].EndpointID)
}

func TestHandleInvalidRequest(t *testing.T) {
	for _, kind := range []MessageKind{KindOk, KindErr, KindAnswer, MessageKind(42)} {
		t.Run(kind.String(), func(t *testing.T) {
			o := newTestOrchestrator(t)
			replies := handle(t, o, SignalingProtocolMessage{Kind: kind, SessionID: 1, EndpointID: 1})
			require.Len(t, replies, 1)
			assert.Equal(t, KindErr, replies[0].Kind)
			assert.Equal(t, InvalidRequestReason, replies[0].Reason())
		})
	}
}

func TestHandleRequesterGone(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, reply := NewSignalingMessage(ctx, Leave(1, 1))
	err := o.HandleSignalingMessage(msg)
	assert.ErrorIs(t, err, ErrReplyUndeliverable)
	assert.Empty(t, reply)

	var zero SignalingMessage
	assert.ErrorIs(t, o.HandleSignalingMessage(zero), ErrReplyUndeliverable)
}

func TestRespondOnce(t *testing.T) {
	msg, reply := NewSignalingMessage(context.Background(), Leave(1, 1))
	require.NoError(t, msg.respond(msg.Request.ok()))
	assert.ErrorIs(t, msg.respond(msg.Request.ok()), ErrReplyUndeliverable)
	assert.Len(t, reply, 1)
}

func TestRunKeepsServingAfterFailedReply(t *testing.T) {
	o := newTestOrchestrator(t)
	requests := make(chan SignalingMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx, requests)
		close(done)
	}()

	gone, goneCancel := context.WithCancel(context.Background())
	goneCancel()
	first, _ := NewSignalingMessage(gone, Leave(1, 1))
	requests <- first

	second, reply := NewSignalingMessage(context.Background(), Offer(1, 2, offerJSON(t, "0")))
	requests <- second

	select {
	case resp := <-reply:
		assert.Equal(t, KindAnswer, resp.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	o := newTestOrchestrator(t)
	requests := make(chan SignalingMessage)
	close(requests)
	o.Run(context.Background(), requests)
}
