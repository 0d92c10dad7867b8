package core

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pion/srtp/v3"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/sfu/internal/domain"
)

const DefaultIdleTimeout = 30 * time.Second

// ServerConfig is shared by every session and never mutated once the
// server states are built.
type ServerConfig struct {
	Certificates   []webrtc.Certificate
	IdleTimeout    time.Duration
	Transceivers   []TransceiverTemplate
	Codecs         []webrtc.RTPCodecParameters
	MaxMessageSize uint32
}

func NewServerConfig(certs []webrtc.Certificate) *ServerConfig {
	return &ServerConfig{
		Certificates:   certs,
		IdleTimeout:    DefaultIdleTimeout,
		Transceivers:   DefaultTransceivers(),
		Codecs:         DefaultCodecs(),
		MaxMessageSize: defaultMaxMessageSize,
	}
}

func (c *ServerConfig) WithIdleTimeout(d time.Duration) *ServerConfig {
	c.IdleTimeout = d
	return c
}

func (c *ServerConfig) WithTransceivers(ts []TransceiverTemplate) *ServerConfig {
	c.Transceivers = ts
	return c
}

// ServerStates is the negotiation authority of one media port. It is not
// safe for concurrent use: a single goroutine owns it and everybody else
// talks to that goroutine.
type ServerStates struct {
	cfg          *ServerConfig
	localAddr    netip.AddrPort
	fingerprints []webrtc.DTLSFingerprint
	transceivers []*RTPTransceiver
	now          func() time.Time

	sessions   map[domain.SessionID]*Session
	candidates map[domain.UserName]*Candidate
	// keyed by remote address: classification happens before ICE tells us
	// which endpoint a datagram belongs to.
	localSRTPContexts  map[netip.AddrPort]*srtp.Context
	remoteSRTPContexts map[netip.AddrPort]*srtp.Context
}

func NewServerStates(cfg *ServerConfig, localAddr netip.AddrPort) (*ServerStates, error) {
	if len(cfg.Certificates) == 0 {
		return nil, ErrInvalidCertificate
	}
	fingerprints, err := cfg.Certificates[0].GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if len(fingerprints) == 0 {
		return nil, ErrInvalidCertificate
	}

	transceivers := make([]*RTPTransceiver, 0, len(cfg.Transceivers))
	for _, tpl := range cfg.Transceivers {
		t, err := NewTransceiver(tpl, cfg.Codecs)
		if err != nil {
			return nil, err
		}
		transceivers = append(transceivers, t)
	}

	return &ServerStates{
		cfg:                cfg,
		localAddr:          localAddr,
		fingerprints:       fingerprints,
		transceivers:       transceivers,
		now:                time.Now,
		sessions:           make(map[domain.SessionID]*Session),
		candidates:         make(map[domain.UserName]*Candidate),
		localSRTPContexts:  make(map[netip.AddrPort]*srtp.Context),
		remoteSRTPContexts: make(map[netip.AddrPort]*srtp.Context),
	}, nil
}

func (s *ServerStates) LocalAddr() netip.AddrPort { return s.localAddr }
func (s *ServerStates) Config() *ServerConfig     { return s.cfg }

// AcceptOffer negotiates offer for one endpoint and returns the answer.
// Nothing is registered when negotiation fails.
func (s *ServerStates) AcceptOffer(
	sessionID domain.SessionID,
	endpointID domain.EndpointID,
	offer SessionDescription,
) (SessionDescription, error) {
	parsed, err := offer.Unmarshal()
	if err != nil {
		return SessionDescription{}, err
	}
	remote, err := CredentialsFromSDP(parsed)
	if err != nil {
		return SessionDescription{}, err
	}
	local, err := NewLocalCredentials(s.cfg.Certificates, remote.DTLS.Role)
	if err != nil {
		return SessionDescription{}, err
	}

	session := s.CreateOrGetSession(sessionID)
	answer, err := session.CreatePendingAnswer(endpointID, &offer, local)
	if err != nil {
		return SessionDescription{}, err
	}

	candidate := NewCandidate(sessionID, endpointID, remote, local, offer, answer, s.now().Add(s.cfg.IdleTimeout))
	s.AddCandidate(candidate)
	if previous := session.bindCandidate(endpointID, candidate.Username()); previous != "" && previous != candidate.Username() {
		s.RemoveCandidate(previous)
	}
	return answer, nil
}

func (s *ServerStates) CreateOrGetSession(id domain.SessionID) *Session {
	if session, ok := s.sessions[id]; ok {
		return session
	}
	session := NewSession(id, SessionConfig{
		LocalAddr:      s.localAddr,
		Fingerprints:   s.fingerprints,
		Transceivers:   cloneTransceivers(s.transceivers),
		MaxMessageSize: s.cfg.MaxMessageSize,
	})
	s.sessions[id] = session
	return session
}

func (s *ServerStates) Session(id domain.SessionID) (*Session, bool) {
	session, ok := s.sessions[id]
	return session, ok
}

func (s *ServerStates) SessionCount() int { return len(s.sessions) }

// AddCandidate stores c under its username and returns the candidate it
// replaced, if any.
func (s *ServerStates) AddCandidate(c *Candidate) *Candidate {
	username := c.Username()
	previous := s.candidates[username]
	s.candidates[username] = c
	return previous
}

func (s *ServerStates) RemoveCandidate(username domain.UserName) *Candidate {
	c, ok := s.candidates[username]
	if !ok {
		return nil
	}
	delete(s.candidates, username)
	return c
}

func (s *ServerStates) FindCandidate(username domain.UserName) (*Candidate, bool) {
	c, ok := s.candidates[username]
	return c, ok
}

func (s *ServerStates) CandidateCount() int { return len(s.candidates) }

// ExpiredCandidates counts candidates past their idle deadline.
func (s *ServerStates) ExpiredCandidates(now time.Time) int {
	n := 0
	for _, c := range s.candidates {
		if c.Expired(now) {
			n++
		}
	}
	return n
}

// CandidateForBindingRequest matches a STUN binding request to the
// candidate named by its USERNAME attribute. The request must carry a
// FINGERPRINT and a MESSAGE-INTEGRITY keyed with the candidate's local
// ICE password.
func (s *ServerStates) CandidateForBindingRequest(m *stun.Message) (*Candidate, error) {
	if m.Type != stun.BindingRequest {
		return nil, ErrNotBindingRequest
	}
	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return nil, fmt.Errorf("binding request username: %w", err)
	}
	c, ok := s.candidates[domain.UserName(username.String())]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownUsername, username.String())
	}
	if err := stun.Fingerprint.Check(m); err != nil {
		return nil, fmt.Errorf("%w: fingerprint: %w", ErrBindingIntegrity, err)
	}
	if err := stun.NewShortTermIntegrity(c.LocalCredentials().ICE.Password).Check(m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBindingIntegrity, err)
	}
	return c, nil
}

func (s *ServerStates) SetLocalSRTPContext(remote netip.AddrPort, ctx *srtp.Context) {
	s.localSRTPContexts[remote] = ctx
}

func (s *ServerStates) LocalSRTPContext(remote netip.AddrPort) (*srtp.Context, bool) {
	ctx, ok := s.localSRTPContexts[remote]
	return ctx, ok
}

func (s *ServerStates) SetRemoteSRTPContext(remote netip.AddrPort, ctx *srtp.Context) {
	s.remoteSRTPContexts[remote] = ctx
}

func (s *ServerStates) RemoteSRTPContext(remote netip.AddrPort) (*srtp.Context, bool) {
	ctx, ok := s.remoteSRTPContexts[remote]
	return ctx, ok
}

// RemoveSRTPContexts forgets both directions for remote.
func (s *ServerStates) RemoveSRTPContexts(remote netip.AddrPort) {
	delete(s.localSRTPContexts, remote)
	delete(s.remoteSRTPContexts, remote)
}
