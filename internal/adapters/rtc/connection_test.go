package rtc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sfu/internal/core"
)

func TestProbe_Offer(t *testing.T) {
	p, err := NewProbe(1, 1)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offer, err := p.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	var parsed sdp.SessionDescription
	require.NoError(t, parsed.UnmarshalString(offer.SDP))
	require.Len(t, parsed.MediaDescriptions, 3)
	assert.Equal(t, "audio", parsed.MediaDescriptions[0].MediaName.Media)
	assert.Equal(t, "video", parsed.MediaDescriptions[1].MediaName.Media)
	assert.Equal(t, "application", parsed.MediaDescriptions[2].MediaName.Media)
}

func TestProbe_NegotiatesWithServerStates(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert, err := webrtc.GenerateCertificate(key)
	require.NoError(t, err)
	states, err := core.NewServerStates(core.NewServerConfig([]webrtc.Certificate{*cert}), netip.MustParseAddrPort("127.0.0.1:3478"))
	require.NoError(t, err)

	p, err := NewProbe(5, 9)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offer, err := p.CreateOffer(ctx)
	require.NoError(t, err)

	answer, err := states.AcceptOffer(5, 9, core.SessionDescription{Type: offer.Type, SDP: offer.SDP})
	require.NoError(t, err)
	assert.True(t, strings.Contains(answer.SDP, "a=ice-lite"))

	require.NoError(t, p.ApplyAnswer(webrtc.SessionDescription{Type: answer.Type, SDP: answer.SDP}))
	require.NotNil(t, p.RemoteDescription())
	assert.Equal(t, 1, states.CandidateCount())
}

func TestProbe_ApplyAnswerRejectsOffer(t *testing.T) {
	p, err := NewProbe(1, 1)
	require.NoError(t, err)
	defer p.Close()

	err = p.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	assert.ErrorIs(t, err, ErrNotAnswer)
}

func TestLoggerFactory(t *testing.T) {
	l := loggerFactory{}.NewLogger("ice")
	require.NotNil(t, l)
	l.Debugf("%d candidates", 2)
	l.Warn("warned")
}
