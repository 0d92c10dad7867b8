package core

import "errors"

var (
	ErrInvalidCertificate               = errors.New("invalid certificate")
	ErrRemoteDescriptionWithoutMidValue = errors.New("remote description without mid value")
	ErrTransceiverMidNil                = errors.New("no local transceiver for remote mid")
	ErrMissingICEUfrag                  = errors.New("remote description missing ice-ufrag")
	ErrMissingICEPwd                    = errors.New("remote description missing ice-pwd")
	ErrInvalidFingerprint               = errors.New("invalid fingerprint attribute")
	ErrUnclassifiedDatagram             = errors.New("unclassified datagram")
	ErrNotBindingRequest                = errors.New("not a stun binding request")
	ErrUnknownUsername                  = errors.New("no candidate for username")
	ErrNoSRTPContext                    = errors.New("no srtp context for remote address")
	ErrBindingIntegrity                 = errors.New("binding request failed integrity check")
	ErrDuplicateMid                     = errors.New("remote description repeats mid")
)
