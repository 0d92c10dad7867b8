package core

import (
	"fmt"
	"strings"

	"github.com/pion/randutil"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const (
	iceUfragLength = 16
	icePwdLength   = 32
	iceCharset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	attrICEUfrag    = "ice-ufrag"
	attrICEPwd      = "ice-pwd"
	attrFingerprint = "fingerprint"
)

type DTLSParameters struct {
	Role         webrtc.DTLSRole
	Fingerprints []webrtc.DTLSFingerprint
}

// ConnectionCredentials holds one side's ICE and DTLS identity.
// Values are copied, never mutated after derivation.
type ConnectionCredentials struct {
	ICE  webrtc.ICEParameters
	DTLS DTLSParameters
}

// CredentialsFromSDP reads the remote side's credentials from a parsed
// description. Session-level attributes win over media-level ones.
func CredentialsFromSDP(d *sdp.SessionDescription) (ConnectionCredentials, error) {
	ufrag, ok := lookupAttribute(d, attrICEUfrag)
	if !ok || ufrag == "" {
		return ConnectionCredentials{}, ErrMissingICEUfrag
	}
	pwd, ok := lookupAttribute(d, attrICEPwd)
	if !ok || pwd == "" {
		return ConnectionCredentials{}, ErrMissingICEPwd
	}
	fingerprints, err := fingerprintsFromSDP(d)
	if err != nil {
		return ConnectionCredentials{}, err
	}

	_, lite := d.Attribute(sdp.AttrKeyICELite)
	return ConnectionCredentials{
		ICE: webrtc.ICEParameters{
			UsernameFragment: ufrag,
			Password:         pwd,
			ICELite:          lite,
		},
		DTLS: DTLSParameters{
			Role:         dtlsRoleFromSDP(d),
			Fingerprints: fingerprints,
		},
	}, nil
}

// NewLocalCredentials generates fresh ICE credentials and picks the DTLS
// role opposite to the remote one. An auto or unknown remote role makes
// us the DTLS server, leaving the offerer to start the handshake.
func NewLocalCredentials(certs []webrtc.Certificate, remoteRole webrtc.DTLSRole) (ConnectionCredentials, error) {
	if len(certs) == 0 {
		return ConnectionCredentials{}, ErrInvalidCertificate
	}
	fingerprints, err := certs[0].GetFingerprints()
	if err != nil {
		return ConnectionCredentials{}, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	ufrag, err := randutil.GenerateCryptoRandomString(iceUfragLength, iceCharset)
	if err != nil {
		return ConnectionCredentials{}, fmt.Errorf("generate ice ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(icePwdLength, iceCharset)
	if err != nil {
		return ConnectionCredentials{}, fmt.Errorf("generate ice pwd: %w", err)
	}

	role := webrtc.DTLSRoleServer
	if remoteRole == webrtc.DTLSRoleServer {
		role = webrtc.DTLSRoleClient
	}

	return ConnectionCredentials{
		ICE: webrtc.ICEParameters{
			UsernameFragment: ufrag,
			Password:         pwd,
			ICELite:          true,
		},
		DTLS: DTLSParameters{
			Role:         role,
			Fingerprints: fingerprints,
		},
	}, nil
}

// ConnectionRole is the a=setup value advertising this DTLS role.
func (p DTLSParameters) ConnectionRole() sdp.ConnectionRole {
	switch p.Role {
	case webrtc.DTLSRoleClient:
		return sdp.ConnectionRoleActive
	case webrtc.DTLSRoleServer:
		return sdp.ConnectionRolePassive
	default:
		return sdp.ConnectionRoleActpass
	}
}

func lookupAttribute(d *sdp.SessionDescription, key string) (string, bool) {
	if v, ok := d.Attribute(key); ok {
		return v, true
	}
	for _, m := range d.MediaDescriptions {
		if v, ok := m.Attribute(key); ok {
			return v, true
		}
	}
	return "", false
}

func dtlsRoleFromSDP(d *sdp.SessionDescription) webrtc.DTLSRole {
	setup, ok := lookupAttribute(d, sdp.AttrKeyConnectionSetup)
	if !ok {
		return webrtc.DTLSRoleAuto
	}
	switch setup {
	case sdp.ConnectionRoleActive.String():
		return webrtc.DTLSRoleClient
	case sdp.ConnectionRolePassive.String():
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func fingerprintsFromSDP(d *sdp.SessionDescription) ([]webrtc.DTLSFingerprint, error) {
	var out []webrtc.DTLSFingerprint
	seen := make(map[string]struct{})

	collect := func(attrs []sdp.Attribute) error {
		for _, a := range attrs {
			if a.Key != attrFingerprint {
				continue
			}
			parts := strings.Fields(a.Value)
			if len(parts) != 2 {
				return fmt.Errorf("%w: %q", ErrInvalidFingerprint, a.Value)
			}
			fp := webrtc.DTLSFingerprint{Algorithm: strings.ToLower(parts[0]), Value: parts[1]}
			key := fp.Algorithm + " " + strings.ToLower(fp.Value)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, fp)
		}
		return nil
	}

	if err := collect(d.Attributes); err != nil {
		return nil, err
	}
	for _, m := range d.MediaDescriptions {
		if err := collect(m.Attributes); err != nil {
			return nil, err
		}
	}
	return out, nil
}
