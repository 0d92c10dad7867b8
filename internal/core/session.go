package core

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/sfu/internal/domain"
)

// SessionConfig is what a Session needs from the server: shared and
// read-only.
type SessionConfig struct {
	LocalAddr      netip.AddrPort
	Fingerprints   []webrtc.DTLSFingerprint
	Transceivers   []*RTPTransceiver
	MaxMessageSize uint32
}

// Endpoint is one peer of a session as far as negotiation is concerned.
type Endpoint struct {
	id           domain.EndpointID
	username     domain.UserName
	transceivers []*RTPTransceiver
	origin       sdp.Origin
}

func (e *Endpoint) ID() domain.EndpointID           { return e.id }
func (e *Endpoint) Username() domain.UserName       { return e.username }
func (e *Endpoint) Transceivers() []*RTPTransceiver { return e.transceivers }

// Session is one conference. Its local transceivers are the template every
// endpoint negotiates against.
type Session struct {
	id        domain.SessionID
	cfg       SessionConfig
	endpoints map[domain.EndpointID]*Endpoint
}

func NewSession(id domain.SessionID, cfg SessionConfig) *Session {
	return &Session{
		id:        id,
		cfg:       cfg,
		endpoints: make(map[domain.EndpointID]*Endpoint),
	}
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) AddTransceiver(t *RTPTransceiver) {
	s.cfg.Transceivers = append(s.cfg.Transceivers, t)
}

func (s *Session) Transceivers() []*RTPTransceiver {
	return cloneTransceivers(s.cfg.Transceivers)
}

func (s *Session) Endpoint(id domain.EndpointID) (*Endpoint, bool) {
	e, ok := s.endpoints[id]
	return e, ok
}

func (s *Session) EndpointCount() int { return len(s.endpoints) }

// EndpointIDs returns the ids in ascending order.
func (s *Session) EndpointIDs() []domain.EndpointID {
	ids := make([]domain.EndpointID, 0, len(s.endpoints))
	for id := range s.endpoints {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) bindCandidate(id domain.EndpointID, username domain.UserName) (previous domain.UserName) {
	e, ok := s.endpoints[id]
	if !ok {
		return ""
	}
	previous, e.username = e.username, username
	return previous
}

// GenerateMatchedSDP builds a description whose m-lines mirror the remote
// one in order. With includeUnmatched the local transceivers the remote
// did not mention are appended, plus a data section if none was offered.
func (s *Session) GenerateMatchedSDP(
	remote *sdp.SessionDescription,
	creds ConnectionCredentials,
	transceivers []*RTPTransceiver,
	includeUnmatched bool,
) (*sdp.SessionDescription, error) {
	d, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return nil, fmt.Errorf("new description: %w", err)
	}

	var sections []mediaSection
	haveApplication := false
	usedMids := make(map[string]struct{})

	for _, m := range remote.MediaDescriptions {
		mid := getMidValue(m)
		if mid == "" {
			return nil, ErrRemoteDescriptionWithoutMidValue
		}
		if _, dup := usedMids[mid]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateMid, mid)
		}

		if m.MediaName.Media == mediaSectionApplication {
			sections = append(sections, mediaSection{id: mid, data: true})
			usedMids[mid] = struct{}{}
			haveApplication = true
			continue
		}

		kind := webrtc.NewRTPCodecType(m.MediaName.Media)
		direction := getPeerDirection(m)
		if kind == webrtc.RTPCodecTypeUnknown || direction == webrtc.RTPTransceiverDirectionUnknown {
			continue
		}

		t := findByMid(mid, transceivers)
		if t == nil {
			return nil, fmt.Errorf("%w: %q", ErrTransceiverMidNil, mid)
		}
		if t.Kind != kind {
			return nil, fmt.Errorf("%w: %q is %s locally, offered as %s", ErrTransceiverMidNil, mid, t.Kind, kind)
		}
		t.negotiated = true
		section := mediaSection{
			id:           mid,
			transceivers: []*RTPTransceiver{t},
			rids:         getRids(m),
			remote:       m,
		}
		if !includeUnmatched {
			section.offeredDirection = direction
		}
		sections = append(sections, section)
		usedMids[mid] = struct{}{}
	}

	if includeUnmatched {
		nextMid := func() string {
			for i := len(sections); ; i++ {
				mid := strconv.Itoa(i)
				if _, used := usedMids[mid]; !used {
					usedMids[mid] = struct{}{}
					return mid
				}
			}
		}
		for _, t := range transceivers {
			if t.negotiated {
				continue
			}
			t.Mid = nextMid()
			t.negotiated = true
			sections = append(sections, mediaSection{id: t.Mid, transceivers: []*RTPTransceiver{t}})
		}
		if !haveApplication {
			sections = append(sections, mediaSection{id: nextMid(), data: true})
		}
	}

	return populateSDP(d, sections, populateParams{
		fingerprints:   s.cfg.Fingerprints,
		localAddr:      s.cfg.LocalAddr,
		ice:            creds.ICE,
		connectionRole: creds.DTLS.ConnectionRole(),
		maxMessageSize: s.cfg.MaxMessageSize,
	}), nil
}

// CreatePendingAnswer answers offer for one endpoint. The endpoint is
// recorded only when the answer was produced.
func (s *Session) CreatePendingAnswer(
	endpointID domain.EndpointID,
	offer *SessionDescription,
	creds ConnectionCredentials,
) (SessionDescription, error) {
	parsed := offer.Parsed()
	if parsed == nil {
		var err error
		if parsed, err = offer.Unmarshal(); err != nil {
			return SessionDescription{}, err
		}
	}

	transceivers := s.Transceivers()
	d, err := s.GenerateMatchedSDP(parsed, creds, transceivers, false)
	if err != nil {
		return SessionDescription{}, err
	}

	var origin sdp.Origin
	if e, ok := s.endpoints[endpointID]; ok {
		origin = e.origin
	}
	updateSDPOrigin(&origin, d)

	raw, err := d.Marshal()
	if err != nil {
		return SessionDescription{}, fmt.Errorf("marshal answer: %w", err)
	}

	e, ok := s.endpoints[endpointID]
	if !ok {
		e = &Endpoint{id: endpointID}
		s.endpoints[endpointID] = e
	}
	e.origin = origin
	e.transceivers = transceivers

	return SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(raw), parsed: d}, nil
}
