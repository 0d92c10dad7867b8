package core

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const (
	mediaSectionApplication = "application"

	sctpPort              = 5000
	defaultMaxMessageSize = 262144

	attrRid       = "rid"
	attrSimulcast = "simulcast"
	attrRtpmap    = "rtpmap"
	attrFmtp      = "fmtp"
	attrRTCPFb    = "rtcp-fb"
)

// SessionDescription is an SDP message in the shape browsers exchange:
// {"type":"offer","sdp":"v=0..."}.
type SessionDescription struct {
	Type webrtc.SDPType `json:"type"`
	SDP  string         `json:"sdp"`

	parsed *sdp.SessionDescription
}

// Unmarshal parses SDP and caches the result.
func (d *SessionDescription) Unmarshal() (*sdp.SessionDescription, error) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.UnmarshalString(d.SDP); err != nil {
		return nil, fmt.Errorf("parse %s: %w", d.Type, err)
	}
	d.parsed = parsed
	return parsed, nil
}

func (d *SessionDescription) Parsed() *sdp.SessionDescription { return d.parsed }

type simulcastRid struct {
	id        string
	direction string
	paused    bool
}

type mediaSection struct {
	id           string
	transceivers []*RTPTransceiver
	data         bool
	rids         []simulcastRid
	// remote is the offered m-line this section answers; nil when offering.
	remote *sdp.MediaDescription
	// offeredDirection is unknown when offering.
	offeredDirection webrtc.RTPTransceiverDirection
}

func getMidValue(m *sdp.MediaDescription) string {
	for _, a := range m.Attributes {
		if a.Key == sdp.AttrKeyMID {
			return a.Value
		}
	}
	return ""
}

// getPeerDirection returns the first direction attribute of the m-line.
func getPeerDirection(m *sdp.MediaDescription) webrtc.RTPTransceiverDirection {
	for _, a := range m.Attributes {
		if dir := webrtc.NewRTPTransceiverDirection(a.Key); dir != webrtc.RTPTransceiverDirectionUnknown {
			return dir
		}
	}
	return webrtc.RTPTransceiverDirectionUnknown
}

// getRids collects a=rid lines in declaration order and marks the ones
// paused (~) by a=simulcast.
func getRids(m *sdp.MediaDescription) []simulcastRid {
	var rids []simulcastRid
	index := make(map[string]int)
	var simulcast string
	for _, a := range m.Attributes {
		switch a.Key {
		case attrRid:
			fields := strings.Fields(a.Value)
			if len(fields) == 0 {
				continue
			}
			r := simulcastRid{id: fields[0]}
			if len(fields) > 1 {
				r.direction = fields[1]
			}
			index[r.id] = len(rids)
			rids = append(rids, r)
		case attrSimulcast:
			simulcast = a.Value
		}
	}
	for _, part := range strings.Fields(simulcast) {
		for _, alt := range strings.FieldsFunc(part, func(r rune) bool { return r == ';' || r == ',' }) {
			if !strings.HasPrefix(alt, "~") {
				continue
			}
			if i, ok := index[strings.TrimPrefix(alt, "~")]; ok {
				rids[i].paused = true
			}
		}
	}
	return rids
}

func hasSend(d webrtc.RTPTransceiverDirection) bool {
	return d == webrtc.RTPTransceiverDirectionSendrecv || d == webrtc.RTPTransceiverDirectionSendonly
}

func hasRecv(d webrtc.RTPTransceiverDirection) bool {
	return d == webrtc.RTPTransceiverDirectionSendrecv || d == webrtc.RTPTransceiverDirectionRecvonly
}

// answerDirection mirrors what the peer offered, limited to what the
// local transceiver can do.
func answerDirection(local, offered webrtc.RTPTransceiverDirection) webrtc.RTPTransceiverDirection {
	if offered == webrtc.RTPTransceiverDirectionUnknown {
		return local
	}
	send := hasRecv(offered) && hasSend(local)
	recv := hasSend(offered) && hasRecv(local)
	switch {
	case send && recv:
		return webrtc.RTPTransceiverDirectionSendrecv
	case send:
		return webrtc.RTPTransceiverDirectionSendonly
	case recv:
		return webrtc.RTPTransceiverDirectionRecvonly
	default:
		return webrtc.RTPTransceiverDirectionInactive
	}
}

type remoteCodec struct {
	payloadType uint8
	name        string
	clockRate   uint32
	channels    uint16
	fmtp        string
}

func remoteCodecs(m *sdp.MediaDescription) []remoteCodec {
	var codecs []remoteCodec
	fmtps := make(map[uint8]string)
	for _, a := range m.Attributes {
		switch a.Key {
		case attrRtpmap:
			pt, rest, ok := strings.Cut(a.Value, " ")
			if !ok {
				continue
			}
			n, err := strconv.ParseUint(pt, 10, 8)
			if err != nil {
				continue
			}
			parts := strings.Split(rest, "/")
			c := remoteCodec{payloadType: uint8(n), name: parts[0]}
			if len(parts) > 1 {
				if v, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
					c.clockRate = uint32(v)
				}
			}
			if len(parts) > 2 {
				if v, err := strconv.ParseUint(parts[2], 10, 16); err == nil {
					c.channels = uint16(v)
				}
			}
			codecs = append(codecs, c)
		case attrFmtp:
			pt, rest, ok := strings.Cut(a.Value, " ")
			if !ok {
				continue
			}
			if n, err := strconv.ParseUint(pt, 10, 8); err == nil {
				fmtps[uint8(n)] = rest
			}
		}
	}
	for i := range codecs {
		codecs[i].fmtp = fmtps[codecs[i].payloadType]
	}
	return codecs
}

func codecName(c webrtc.RTPCodecParameters) string {
	if _, name, ok := strings.Cut(c.MimeType, "/"); ok {
		return name
	}
	return c.MimeType
}

// matchCodecs keeps the local codecs the remote m-line also offers, using
// the remote payload type. With no remote m-line (or one without rtpmap
// lines) the local list is used as is.
func matchCodecs(local []webrtc.RTPCodecParameters, remote *sdp.MediaDescription) []webrtc.RTPCodecParameters {
	if remote == nil {
		return local
	}
	offered := remoteCodecs(remote)
	if len(offered) == 0 {
		return local
	}
	var out []webrtc.RTPCodecParameters
	for _, rc := range offered {
		for _, lc := range local {
			if !strings.EqualFold(rc.name, codecName(lc)) || rc.clockRate != lc.ClockRate {
				continue
			}
			if lc.Channels > 0 && rc.channels > 0 && lc.Channels != rc.channels {
				continue
			}
			matched := lc
			matched.PayloadType = webrtc.PayloadType(rc.payloadType)
			if rc.fmtp != "" {
				matched.SDPFmtpLine = rc.fmtp
			}
			out = append(out, matched)
			break
		}
	}
	return out
}

type populateParams struct {
	fingerprints   []webrtc.DTLSFingerprint
	localAddr      netip.AddrPort
	ice            webrtc.ICEParameters
	connectionRole sdp.ConnectionRole
	maxMessageSize uint32
}

func connectionInformation(addr netip.AddrPort) *sdp.ConnectionInformation {
	addrType := "IP4"
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		addrType = "IP6"
	}
	return &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: addrType,
		Address:     &sdp.Address{Address: addr.Addr().Unmap().String()},
	}
}

func hostCandidate(addr netip.AddrPort) string {
	return fmt.Sprintf("1 1 udp 2130706431 %s %d typ host", addr.Addr().Unmap(), addr.Port())
}

func (p populateParams) finish(media *sdp.MediaDescription, first bool) {
	media.WithICECredentials(p.ice.UsernameFragment, p.ice.Password)
	for _, fp := range p.fingerprints {
		media.WithFingerprint(fp.Algorithm, strings.ToUpper(fp.Value))
	}
	if first {
		media.WithValueAttribute(sdp.AttrKeyCandidate, hostCandidate(p.localAddr))
		media.WithPropertyAttribute(sdp.AttrKeyEndOfCandidates)
	}
}

func addDataMediaSection(d *sdp.SessionDescription, s mediaSection, p populateParams, first bool) {
	media := (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   mediaSectionApplication,
			Port:    sdp.RangedPort{Value: int(p.localAddr.Port())},
			Protos:  []string{"UDP", "DTLS", "SCTP"},
			Formats: []string{"webrtc-datachannel"},
		},
		ConnectionInformation: connectionInformation(p.localAddr),
	}).
		WithValueAttribute(sdp.AttrKeyConnectionSetup, p.connectionRole.String()).
		WithValueAttribute(sdp.AttrKeyMID, s.id).
		WithPropertyAttribute(webrtc.RTPTransceiverDirectionSendrecv.String()).
		WithPropertyAttribute("sctp-port:" + strconv.Itoa(sctpPort)).
		WithValueAttribute("max-message-size", strconv.FormatUint(uint64(p.maxMessageSize), 10))
	p.finish(media, first)
	d.WithMedia(media)
}

// addTransceiverSDP writes one RTP m-line. It reports false when the
// section had to be rejected for lack of a common codec.
func addTransceiverSDP(d *sdp.SessionDescription, s mediaSection, p populateParams, first bool) bool {
	t := s.transceivers[0]
	codecs := matchCodecs(t.Codecs, s.remote)

	media := sdp.NewJSEPMediaDescription(t.Kind.String(), []string{})
	if len(codecs) == 0 {
		media.MediaName.Port = sdp.RangedPort{Value: 0}
		media.MediaName.Formats = []string{"0"}
		media.WithValueAttribute(sdp.AttrKeyMID, s.id)
		media.WithPropertyAttribute(webrtc.RTPTransceiverDirectionInactive.String())
		d.WithMedia(media)
		return false
	}

	media.MediaName.Port = sdp.RangedPort{Value: int(p.localAddr.Port())}
	media.ConnectionInformation = connectionInformation(p.localAddr)
	media.WithValueAttribute(sdp.AttrKeyConnectionSetup, p.connectionRole.String()).
		WithValueAttribute(sdp.AttrKeyMID, s.id).
		WithPropertyAttribute(sdp.AttrKeyRTCPMux).
		WithPropertyAttribute(sdp.AttrKeyRTCPRsize)

	for _, c := range codecs {
		pt := uint8(c.PayloadType)
		media.WithCodec(pt, codecName(c), c.ClockRate, c.Channels, c.SDPFmtpLine)
		for _, fb := range c.RTCPFeedback {
			media.WithValueAttribute(attrRTCPFb, strings.TrimSpace(fmt.Sprintf("%d %s %s", pt, fb.Type, fb.Parameter)))
		}
	}

	if len(s.rids) > 0 {
		recv := make([]string, 0, len(s.rids))
		for _, r := range s.rids {
			media.WithValueAttribute(attrRid, r.id+" recv")
			if r.paused {
				recv = append(recv, "~"+r.id)
			} else {
				recv = append(recv, r.id)
			}
		}
		media.WithValueAttribute(attrSimulcast, "recv "+strings.Join(recv, ";"))
	}

	media.WithPropertyAttribute(answerDirection(t.Direction, s.offeredDirection).String())
	p.finish(media, first)
	d.WithMedia(media)
	return true
}

// populateSDP fills d with one m-line per section, in order, and bundles
// every accepted mid.
func populateSDP(d *sdp.SessionDescription, sections []mediaSection, p populateParams) *sdp.SessionDescription {
	if p.maxMessageSize == 0 {
		p.maxMessageSize = defaultMaxMessageSize
	}
	bundle := make([]string, 0, len(sections))
	for _, s := range sections {
		first := len(bundle) == 0
		if s.data {
			addDataMediaSection(d, s, p, first)
			bundle = append(bundle, s.id)
			continue
		}
		if len(s.transceivers) == 0 {
			continue
		}
		if addTransceiverSDP(d, s, p, first) {
			bundle = append(bundle, s.id)
		}
	}

	d.WithPropertyAttribute(sdp.AttrKeyICELite)
	if len(bundle) > 0 {
		d.WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+strings.Join(bundle, " "))
	}
	return d
}

// updateSDPOrigin keeps one origin per peer: the first answer fixes the
// session id, every later one reuses it with a bumped version.
func updateSDPOrigin(origin *sdp.Origin, d *sdp.SessionDescription) {
	if origin.SessionVersion == 0 {
		origin.SessionID = d.Origin.SessionID
		origin.SessionVersion = d.Origin.SessionVersion
		return
	}
	origin.SessionVersion++
	d.Origin.SessionID = origin.SessionID
	d.Origin.SessionVersion = origin.SessionVersion
}
