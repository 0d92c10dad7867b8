package core

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pion/datachannel"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/sctp"
	"github.com/pion/stun/v3"
)

type TransportContext struct {
	LocalAddr  netip.AddrPort
	RemoteAddr netip.AddrPort
}

// TaggedMessageEvent is one classified inbound datagram.
type TaggedMessageEvent struct {
	Now       time.Time
	Transport TransportContext
	Message   MessageEvent
}

// MessageEvent is one of DTLSRaw, DTLSSCTP, DTLSApplication, RTPRaw,
// RTPPacket, RTCPPackets or STUNMessage.
type MessageEvent interface {
	messageEvent()
}

// DTLSRaw is a DTLS record not yet fed to a handshake or decrypted.
type DTLSRaw struct{ Payload []byte }

// DTLSSCTP is a data channel message carried over SCTP.
type DTLSSCTP struct{ Message DataChannelMessage }

// DTLSApplication is decrypted DTLS application data.
type DTLSApplication struct{ Payload []byte }

// RTPRaw is an RTP or RTCP datagram still under SRTP protection.
type RTPRaw struct{ Payload []byte }

type RTPPacket struct{ Packet *rtp.Packet }

type RTCPPackets struct{ Packets []rtcp.Packet }

// STUNMessage is an ICE connectivity check.
type STUNMessage struct{ Message *stun.Message }

func (DTLSRaw) messageEvent()         {}
func (DTLSSCTP) messageEvent()        {}
func (DTLSApplication) messageEvent() {}
func (RTPRaw) messageEvent()          {}
func (RTPPacket) messageEvent()       {}
func (RTCPPackets) messageEvent()     {}
func (STUNMessage) messageEvent()     {}

type DataChannelMessageType uint8

const (
	DataChannelMessageTypeNone DataChannelMessageType = iota
	DataChannelMessageTypeControl
	DataChannelMessageTypeBinary
	DataChannelMessageTypeText
)

func (t DataChannelMessageType) String() string {
	switch t {
	case DataChannelMessageTypeControl:
		return "control"
	case DataChannelMessageTypeBinary:
		return "binary"
	case DataChannelMessageTypeText:
		return "text"
	default:
		return "none"
	}
}

func DataChannelMessageTypeFromPPI(ppi sctp.PayloadProtocolIdentifier) DataChannelMessageType {
	switch ppi {
	case sctp.PayloadTypeWebRTCDCEP:
		return DataChannelMessageTypeControl
	case sctp.PayloadTypeWebRTCString, sctp.PayloadTypeWebRTCStringEmpty:
		return DataChannelMessageTypeText
	case sctp.PayloadTypeWebRTCBinary, sctp.PayloadTypeWebRTCBinaryEmpty:
		return DataChannelMessageTypeBinary
	default:
		return DataChannelMessageTypeNone
	}
}

// PPI is the SCTP payload protocol identifier for a message of this type.
// Empty payloads have their own identifiers.
func (t DataChannelMessageType) PPI(empty bool) sctp.PayloadProtocolIdentifier {
	switch {
	case t == DataChannelMessageTypeControl:
		return sctp.PayloadTypeWebRTCDCEP
	case t == DataChannelMessageTypeText && empty:
		return sctp.PayloadTypeWebRTCStringEmpty
	case t == DataChannelMessageTypeText:
		return sctp.PayloadTypeWebRTCString
	case t == DataChannelMessageTypeBinary && empty:
		return sctp.PayloadTypeWebRTCBinaryEmpty
	case t == DataChannelMessageTypeBinary:
		return sctp.PayloadTypeWebRTCBinary
	default:
		return sctp.PayloadTypeUnknown
	}
}

// DataChannelMessageParams is InboundParams or OutboundParams.
type DataChannelMessageParams interface {
	dataChannelMessageParams()
}

type InboundParams struct {
	SeqNum uint16
}

type OutboundParams struct {
	Ordered      bool
	Reliable     bool
	MaxRtxCount  uint32
	MaxRtxMillis uint32
}

func (InboundParams) dataChannelMessageParams()  {}
func (OutboundParams) dataChannelMessageParams() {}

// OutboundParamsFromChannelType maps a DATA_CHANNEL_OPEN channel type and
// its reliability parameter to send parameters.
func OutboundParamsFromChannelType(t datachannel.ChannelType, reliability uint32) (OutboundParams, error) {
	switch t {
	case datachannel.ChannelTypeReliable:
		return OutboundParams{Ordered: true, Reliable: true}, nil
	case datachannel.ChannelTypeReliableUnordered:
		return OutboundParams{Reliable: true}, nil
	case datachannel.ChannelTypePartialReliableRexmit:
		return OutboundParams{Ordered: true, MaxRtxCount: reliability}, nil
	case datachannel.ChannelTypePartialReliableRexmitUnordered:
		return OutboundParams{MaxRtxCount: reliability}, nil
	case datachannel.ChannelTypePartialReliableTimed:
		return OutboundParams{Ordered: true, MaxRtxMillis: reliability}, nil
	case datachannel.ChannelTypePartialReliableTimedUnordered:
		return OutboundParams{MaxRtxMillis: reliability}, nil
	default:
		return OutboundParams{}, fmt.Errorf("%w: %#x", datachannel.ErrInvalidChannelType, byte(t))
	}
}

type DataChannelMessage struct {
	AssociationHandle uint64
	StreamID          uint16
	Type              DataChannelMessageType
	Params            DataChannelMessageParams
	Payload           []byte
}
