package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidID = errors.New("invalid id")

type (
	SessionID  uint64
	EndpointID uint64
	// UserName is the ICE username ("local:remote" ufrag pair) a peer puts
	// in its STUN binding requests.
	UserName string
)

func ParseSessionID(s string) (SessionID, error) {
	v, err := parseID(s)
	return SessionID(v), err
}

func ParseEndpointID(s string) (EndpointID, error) {
	v, err := parseID(s)
	return EndpointID(v), err
}

func parseID(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidID, s)
	}
	return v, nil
}

func NewUserName(localUfrag, remoteUfrag string) UserName {
	return UserName(localUfrag + ":" + remoteUfrag)
}

func (s SessionID) String() string  { return strconv.FormatUint(uint64(s), 10) }
func (e EndpointID) String() string { return strconv.FormatUint(uint64(e), 10) }
