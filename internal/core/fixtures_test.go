package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/netip"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

var testLocalAddr = netip.MustParseAddrPort("192.0.2.10:3478")

func testCertificate(t testing.TB) webrtc.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert, err := webrtc.GenerateCertificate(key)
	require.NoError(t, err)
	return *cert
}

func testServerStates(t testing.TB) *ServerStates {
	t.Helper()
	s, err := NewServerStates(NewServerConfig([]webrtc.Certificate{testCertificate(t)}), testLocalAddr)
	require.NoError(t, err)
	return s
}

func sdpLines(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

const (
	testRemoteUfrag = "remoteUfragAAAA"
	testRemotePwd   = "remotePasswordRemotePassword0000"
	testRemoteFP    = "sha-256 0A:1B:2C:3D:4E:5F:60:71:82:93:A4:B5:C6:D7:E8:F9:0A:1B:2C:3D:4E:5F:60:71:82:93:A4:B5:C6:D7:E8:F9"
)

func sessionHeader(ufrag string) []string {
	return []string{
		"v=0",
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1",
		"s=-",
		"t=0 0",
		"a=group:BUNDLE 0 1",
		"a=fingerprint:" + testRemoteFP,
		"a=ice-ufrag:" + ufrag,
		"a=ice-pwd:" + testRemotePwd,
	}
}

func audioSection(mid, direction string) []string {
	lines := []string{
		"m=audio 9 UDP/TLS/RTP/SAVPF 111 0",
		"c=IN IP4 0.0.0.0",
		"a=setup:actpass",
	}
	if mid != "" {
		lines = append(lines, "a=mid:"+mid)
	}
	if direction != "" {
		lines = append(lines, "a="+direction)
	}
	return append(lines,
		"a=rtcp-mux",
		"a=rtpmap:111 opus/48000/2",
		"a=fmtp:111 minptime=10;useinbandfec=1",
		"a=rtpmap:0 PCMU/8000",
	)
}

func videoSection(mid string) []string {
	lines := []string{
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=setup:actpass",
	}
	if mid != "" {
		lines = append(lines, "a=mid:"+mid)
	}
	return append(lines,
		"a=sendonly",
		"a=rtcp-mux",
		"a=rtpmap:96 VP8/90000",
		"a=rtcp-fb:96 nack",
		"a=rid:hi send",
		"a=rid:lo send",
		"a=simulcast:send hi;~lo",
	)
}

func applicationSection(mid string) []string {
	return []string{
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
		"c=IN IP4 0.0.0.0",
		"a=setup:actpass",
		"a=mid:" + mid,
		"a=sctp-port:5000",
	}
}

func offer(sections ...[]string) SessionDescription {
	return offerWithUfrag(testRemoteUfrag, sections...)
}

func offerWithUfrag(ufrag string, sections ...[]string) SessionDescription {
	lines := sessionHeader(ufrag)
	for _, s := range sections {
		lines = append(lines, s...)
	}
	return SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpLines(lines...)}
}
