// Package rtpendpoint is the voice-plane RTP/RTCP endpoint: per-lchan
// UDP socket pair (RTP even port, RTCP odd), the fixed-cadence TX path
// with restart/skip/forward controls, RFC 3550 reception statistics,
// and RTCP SR/RR/SDES generation.
package rtpendpoint

import (
	"encoding/binary"
	"fmt"
)

// rtpVersion is the fixed version field value of every RTP/RTCP packet.
const rtpVersion = 2

// HeaderLen is the fixed RTP header size without CSRCs.
const HeaderLen = 12

// Payload types per channel mode: GSM FR is static 3, the rest are
// dynamic.
const (
	PTGSMFull    = 3
	PTDynamicEFR = 96
	PTDynamicHR  = 97
	PTDynamicAMR = 98
)

// Packet is one parsed RTP packet.
type Packet struct {
	PT      uint8
	Marker  bool
	Seq     uint16
	Ts      uint32
	SSRC    uint32
	Payload []byte
}

// Encode serializes the packet into a fresh buffer.
func (p Packet) Encode() []byte {
	out := make([]byte, HeaderLen+len(p.Payload))
	out[0] = rtpVersion << 6
	out[1] = p.PT & 0x7F
	if p.Marker {
		out[1] |= 0x80
	}
	binary.BigEndian.PutUint16(out[2:], p.Seq)
	binary.BigEndian.PutUint32(out[4:], p.Ts)
	binary.BigEndian.PutUint32(out[8:], p.SSRC)
	copy(out[HeaderLen:], p.Payload)
	return out
}

// DecodePacket parses an RTP packet, never panicking on malformed
// input. CSRC lists and extensions are skipped; padding is stripped.
func DecodePacket(raw []byte) (Packet, error) {
	if len(raw) < HeaderLen {
		return Packet{}, fmt.Errorf("rtp: packet shorter than header (%d)", len(raw))
	}
	if raw[0]>>6 != rtpVersion {
		return Packet{}, fmt.Errorf("rtp: bad version %d", raw[0]>>6)
	}
	cc := int(raw[0] & 0x0F)
	hasExt := raw[0]&0x10 != 0
	hasPad := raw[0]&0x20 != 0

	p := Packet{
		PT:     raw[1] & 0x7F,
		Marker: raw[1]&0x80 != 0,
		Seq:    binary.BigEndian.Uint16(raw[2:]),
		Ts:     binary.BigEndian.Uint32(raw[4:]),
		SSRC:   binary.BigEndian.Uint32(raw[8:]),
	}
	off := HeaderLen + 4*cc
	if off > len(raw) {
		return Packet{}, fmt.Errorf("rtp: csrc list exceeds packet")
	}
	if hasExt {
		if off+4 > len(raw) {
			return Packet{}, fmt.Errorf("rtp: truncated extension header")
		}
		extLen := int(binary.BigEndian.Uint16(raw[off+2:])) * 4
		off += 4 + extLen
		if off > len(raw) {
			return Packet{}, fmt.Errorf("rtp: extension exceeds packet")
		}
	}
	end := len(raw)
	if hasPad {
		pad := int(raw[end-1])
		if pad == 0 || pad > end-off {
			return Packet{}, fmt.Errorf("rtp: bad padding count %d", pad)
		}
		end -= pad
	}
	p.Payload = append([]byte(nil), raw[off:end]...)
	return p, nil
}
