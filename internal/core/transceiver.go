package core

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pion/webrtc/v4"
)

// RTPTransceiver is a local media capability offered to every endpoint
// of a session.
type RTPTransceiver struct {
	Mid       string
	Kind      webrtc.RTPCodecType
	Direction webrtc.RTPTransceiverDirection
	Codecs    []webrtc.RTPCodecParameters

	negotiated bool
}

// TransceiverTemplate is the configured shape of a transceiver, before
// codecs are attached.
type TransceiverTemplate struct {
	Mid       string `mapstructure:"mid"`
	Kind      string `mapstructure:"kind"`
	Direction string `mapstructure:"direction"`
}

func NewTransceiver(t TransceiverTemplate, codecs []webrtc.RTPCodecParameters) (*RTPTransceiver, error) {
	kind := webrtc.NewRTPCodecType(t.Kind)
	if kind == webrtc.RTPCodecTypeUnknown {
		return nil, fmt.Errorf("transceiver %q: unknown kind %q", t.Mid, t.Kind)
	}
	dir := webrtc.RTPTransceiverDirectionSendrecv
	if t.Direction != "" {
		dir = webrtc.NewRTPTransceiverDirection(t.Direction)
		if dir == webrtc.RTPTransceiverDirectionUnknown {
			return nil, fmt.Errorf("transceiver %q: unknown direction %q", t.Mid, t.Direction)
		}
	}
	var own []webrtc.RTPCodecParameters
	for _, c := range codecs {
		if codecKind(c) == kind {
			own = append(own, c)
		}
	}
	return &RTPTransceiver{
		Mid:       t.Mid,
		Kind:      kind,
		Direction: dir,
		Codecs:    own,
	}, nil
}

func (t *RTPTransceiver) Negotiated() bool { return t.negotiated }

func (t *RTPTransceiver) clone() *RTPTransceiver {
	c := *t
	c.Codecs = slices.Clone(t.Codecs)
	return &c
}

func cloneTransceivers(ts []*RTPTransceiver) []*RTPTransceiver {
	out := make([]*RTPTransceiver, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.clone())
	}
	return out
}

func findByMid(mid string, ts []*RTPTransceiver) *RTPTransceiver {
	for _, t := range ts {
		if t.Mid == mid {
			return t
		}
	}
	return nil
}

func codecKind(c webrtc.RTPCodecParameters) webrtc.RTPCodecType {
	mime := strings.ToLower(c.MimeType)
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return webrtc.RTPCodecTypeAudio
	case strings.HasPrefix(mime, "video/"):
		return webrtc.RTPCodecTypeVideo
	default:
		return webrtc.RTPCodecTypeUnknown
	}
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// DefaultCodecs is opus for audio and VP8 for video.
func DefaultCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: slices.Clone(videoFeedback),
			},
			PayloadType: 96,
		},
	}
}

// DefaultTransceivers is one audio and one video transceiver at mids 0 and 1.
func DefaultTransceivers() []TransceiverTemplate {
	return []TransceiverTemplate{
		{Mid: "0", Kind: "audio", Direction: "sendrecv"},
		{Mid: "1", Kind: "video", Direction: "sendrecv"},
	}
}
