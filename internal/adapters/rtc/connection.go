package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/domain"
)

var ErrNotAnswer = errors.New("description is not an answer")

// Probe is a browser-like peer used to exercise the server: it offers an
// audio and a video transceiver plus one data channel.
type Probe struct {
	pc  *webrtc.PeerConnection
	dc  *webrtc.DataChannel
	sid domain.SessionID
	eid domain.EndpointID

	iceConnected chan struct{}
	connectOnce  sync.Once
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

func NewProbe(sid domain.SessionID, eid domain.EndpointID) (*Probe, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	p := &Probe{pc: pc, sid: sid, eid: eid, iceConnected: make(chan struct{})}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}
	if p.dc, err = pc.CreateDataChannel("probe", nil); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Stringer("sid", sid).Stringer("eid", eid).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateConnected {
			p.connectOnce.Do(func() { close(p.iceConnected) })
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Stringer("sid", sid).Stringer("eid", eid).Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	return p, nil
}

// CreateOffer returns the local offer once ICE gathering completed, so
// every host candidate is inlined.
func (p *Probe) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}
	return *p.pc.LocalDescription(), nil
}

func (p *Probe) ApplyAnswer(answer webrtc.SessionDescription) error {
	if answer.Type != webrtc.SDPTypeAnswer {
		return ErrNotAnswer
	}
	return p.pc.SetRemoteDescription(answer)
}

// WaitICEConnected blocks until the ICE agent reached the server.
func (p *Probe) WaitICEConnected(ctx context.Context) error {
	select {
	case <-p.iceConnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Probe) RemoteDescription() *webrtc.SessionDescription {
	return p.pc.RemoteDescription()
}

func (p *Probe) Close() {
	if err := p.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Stringer("sid", p.sid).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Stringer("sid", p.sid).Stringer("eid", p.eid).Msg("closed")
}
