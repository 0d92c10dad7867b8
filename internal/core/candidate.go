package core

import (
	"time"

	"github.com/dkeye/sfu/internal/domain"
)

// Candidate is one negotiated endpoint connection. It is the unit looked
// up by ICE username when inbound packets are demultiplexed.
type Candidate struct {
	sessionID  domain.SessionID
	endpointID domain.EndpointID
	remote     ConnectionCredentials
	local      ConnectionCredentials
	offer      SessionDescription
	answer     SessionDescription
	expiresAt  time.Time
}

func NewCandidate(
	sessionID domain.SessionID,
	endpointID domain.EndpointID,
	remote, local ConnectionCredentials,
	offer, answer SessionDescription,
	expiresAt time.Time,
) *Candidate {
	return &Candidate{
		sessionID:  sessionID,
		endpointID: endpointID,
		remote:     remote,
		local:      local,
		offer:      offer,
		answer:     answer,
		expiresAt:  expiresAt,
	}
}

// Username is the USERNAME attribute the remote peer sends in STUN binding
// requests addressed to us: our ufrag first, then theirs.
func (c *Candidate) Username() domain.UserName {
	return domain.NewUserName(c.local.ICE.UsernameFragment, c.remote.ICE.UsernameFragment)
}

func (c *Candidate) SessionID() domain.SessionID              { return c.sessionID }
func (c *Candidate) EndpointID() domain.EndpointID            { return c.endpointID }
func (c *Candidate) LocalCredentials() ConnectionCredentials  { return c.local }
func (c *Candidate) RemoteCredentials() ConnectionCredentials { return c.remote }
func (c *Candidate) RemoteDescription() SessionDescription    { return c.offer }
func (c *Candidate) LocalDescription() SessionDescription     { return c.answer }
func (c *Candidate) ExpiresAt() time.Time                     { return c.expiresAt }

// Expired only reports; nothing evicts expired candidates yet.
func (c *Candidate) Expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}
