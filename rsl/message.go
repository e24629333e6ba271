// Package rsl implements the RSL protocol engine: the A-bis Radio
// Signalling Link state machine that activates/releases logical
// channels and carries system information, paging, power control and
// measurement reports (3GPP TS 48.058 plus Osmocom and ip.access
// extensions).
package rsl

import (
	"errors"
	"fmt"
)

// Discriminator is the first header byte, selecting which message
// family the second byte's type code belongs to.
type Discriminator byte

const (
	DiscRLL        Discriminator = 0x00 // 0x00-0x1F: Radio Link Layer, forwarded to LAPDm
	DiscDedicated  Discriminator = 0x40
	DiscCommon     Discriminator = 0x60
	DiscTRX        Discriminator = 0x80
	DiscIPAccess   Discriminator = 0xA0
)

func (d Discriminator) IsRLL() bool { return d&0xE0 == DiscRLL }

// MsgType is the RSL message type octet (3GPP TS 48.058 §9.1, plus
// Osmocom/ip.access extensions).
type MsgType byte

const (
	MsgChanActiv        MsgType = 0x06
	MsgChanActivAck     MsgType = 0x07
	MsgChanActivNack    MsgType = 0x08
	MsgRFChanRel        MsgType = 0x0A
	MsgRFChanRelAck     MsgType = 0x1E
	MsgMSPowerControl   MsgType = 0x0D
	MsgBSPowerControl   MsgType = 0x0E
	MsgModeModifyReq    MsgType = 0x10
	MsgModeModifyAck    MsgType = 0x11
	MsgModeModifyNack   MsgType = 0x12
	MsgEncrCmd          MsgType = 0x15
	MsgSACCHInfoModify  MsgType = 0x1D
	MsgDeactivateSACCH  MsgType = 0x14
	MsgMeasResult       MsgType = 0x17
	MsgChanRqd          MsgType = 0x30
	MsgPagingCmd        MsgType = 0x32
	MsgImmediateAssign  MsgType = 0x31
	MsgSMSBroadcastCmd  MsgType = 0x39
	MsgSMSBroadcastCmdExt MsgType = 0x46
	MsgCBCHLoadInd      MsgType = 0x48
	MsgNotificationCmd  MsgType = 0x4C
	MsgCCCHLoadInd      MsgType = 0x34
	MsgBCCHInfo         MsgType = 0x38
	MsgErrorReport      MsgType = 0x35
	MsgConnFail         MsgType = 0x0B
	MsgDeleteInd        MsgType = 0x33

	// Osmocom extension: ETWS primary notification command on the
	// ip.access/manufacturer discriminator.
	MsgOsmoETWSCmd MsgType = 0x7F
)

// ChanNr is the GSM 08.58 channel-number octet.
type ChanNr byte

// LinkID selects the main DCCH vs SACCH logical link.
type LinkID byte

// Message is one decoded RSL PDU: a discriminator/type tagged union
// whose body is a flat TLV sequence.
type Message struct {
	Disc    Discriminator
	Type    MsgType
	ChanNr  ChanNr
	LinkID  LinkID
	hasChan bool
	hasLink bool
	ies     []ie
}

type ie struct {
	Tag byte
	Val []byte
}

// Tag values for the IEs this engine decodes/encodes. Numbering
// follows 3GPP TS 48.058 §9.3 loosely; this engine owns both ends of
// the encoding within this repository.
const (
	TagChanNr        byte = 0x01
	TagLinkID        byte = 0x02
	TagActivType     byte = 0x03
	TagChanMode      byte = 0x04
	TagEncrInfo      byte = 0x05
	TagHandoverRef   byte = 0x06
	TagBSPower       byte = 0x07
	TagMSPower       byte = 0x08
	TagTimingAdvance byte = 0x09
	TagSACCHInfo     byte = 0x0A
	TagCause         byte = 0x0B
	TagMSIdentity    byte = 0x0C
	TagChanNeeded    byte = 0x0D
	TagSIType        byte = 0x0E
	TagSysinfo       byte = 0x0F
	TagFullImmAssign byte = 0x10
	TagPowerParams   byte = 0x11
	TagMultirate     byte = 0x12
	TagUplinkMeas    byte = 0x13
	TagL1Info        byte = 0x14
	TagOrigMsg       byte = 0x15
	TagReactivate    byte = 0x16
	TagCBCHPage      byte = 0x17
)

// NewMessage starts building an outbound message.
func NewMessage(disc Discriminator, typ MsgType) *Message {
	return &Message{Disc: disc, Type: typ}
}

// WithChanNr attaches the channel-number IE, required on every
// dedicated-channel message.
func (m *Message) WithChanNr(c ChanNr) *Message {
	m.ChanNr, m.hasChan = c, true
	return m
}

// WithLinkID attaches the link-identifier IE.
func (m *Message) WithLinkID(l LinkID) *Message {
	m.LinkID, m.hasLink = l, true
	return m
}

// Append adds a raw TLV IE to the message body.
func (m *Message) Append(tag byte, val []byte) *Message {
	m.ies = append(m.ies, ie{Tag: tag, Val: val})
	return m
}

// AppendByte adds a single-byte TLV IE.
func (m *Message) AppendByte(tag byte, v byte) *Message { return m.Append(tag, []byte{v}) }

// Get returns the first IE value for tag, if present.
func (m *Message) Get(tag byte) ([]byte, bool) {
	for _, e := range m.ies {
		if e.Tag == tag {
			return e.Val, true
		}
	}
	return nil, false
}

// GetByte returns a single-byte IE's value.
func (m *Message) GetByte(tag byte) (byte, bool) {
	v, ok := m.Get(tag)
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// Encode serializes the message: disc, type, [chan_nr], [link_id],
// then each IE as tag/len/value.
func (m *Message) Encode() []byte {
	out := []byte{byte(m.Disc), byte(m.Type)}
	if m.hasChan {
		out = append(out, TagChanNr, 1, byte(m.ChanNr))
	}
	if m.hasLink {
		out = append(out, TagLinkID, 1, byte(m.LinkID))
	}
	for _, e := range m.ies {
		out = append(out, e.Tag, byte(len(e.Val)))
		out = append(out, e.Val...)
	}
	return out
}

// ErrTruncated is returned by Decode on a PDU too short to contain a
// header or a well-formed TLV; the caller answers with
// ERROR-REPORT(PROTO) and drops the message.
var ErrTruncated = errors.New("rsl: truncated message")

// Decode parses a wire PDU into a Message. It never panics on
// malformed input.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 2 {
		return nil, ErrTruncated
	}
	m := &Message{Disc: Discriminator(raw[0]), Type: MsgType(raw[1])}
	buf := raw[2:]
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("%w: dangling tag byte", ErrTruncated)
		}
		tag, l := buf[0], int(buf[1])
		buf = buf[2:]
		if l > len(buf) {
			return nil, fmt.Errorf("%w: ie length %d exceeds remaining %d", ErrTruncated, l, len(buf))
		}
		val := buf[:l]
		buf = buf[l:]
		switch tag {
		case TagChanNr:
			if l != 1 {
				return nil, fmt.Errorf("%w: bad chan_nr length", ErrTruncated)
			}
			m.ChanNr, m.hasChan = ChanNr(val[0]), true
		case TagLinkID:
			if l != 1 {
				return nil, fmt.Errorf("%w: bad link_id length", ErrTruncated)
			}
			m.LinkID, m.hasLink = LinkID(val[0]), true
		default:
			m.ies = append(m.ies, ie{Tag: tag, Val: val})
		}
	}
	return m, nil
}
