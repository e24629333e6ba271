package rtpendpoint

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RTCP packet types.
const (
	rtcpSR   = 200
	rtcpRR   = 201
	rtcpSDES = 202
	rtcpBYE  = 203
)

// sdesCNAME is the mandatory SDES item type.
const sdesCNAME = 1

// ntpEpochOffset is the offset between the NTP epoch (1900) and the
// Unix epoch (1970) in seconds.
const ntpEpochOffset = 2208988800

// ntpTime splits a wall-clock time into the NTP 64-bit format.
func ntpTime(t time.Time) (sec, frac uint32) {
	sec = uint32(t.Unix() + ntpEpochOffset)
	nanos := uint64(t.Nanosecond())
	frac = uint32((nanos << 32) / 1e9)
	return sec, frac
}

// reportBlock is one RR/SR report block about a remote sender.
type reportBlock struct {
	ssrc         uint32
	fractionLost uint8
	cumLost      uint32
	extMaxSeq    uint32
	jitter       uint32
	lsr          uint32
	dlsr         uint32
}

func (r reportBlock) encode(out []byte) {
	binary.BigEndian.PutUint32(out[0:], r.ssrc)
	binary.BigEndian.PutUint32(out[4:], r.cumLost&0x00FFFFFF|uint32(r.fractionLost)<<24)
	binary.BigEndian.PutUint32(out[8:], r.extMaxSeq)
	binary.BigEndian.PutUint32(out[12:], r.jitter)
	binary.BigEndian.PutUint32(out[16:], r.lsr)
	binary.BigEndian.PutUint32(out[20:], r.dlsr)
}

// buildSR assembles a Sender Report with zero or one report block, the
// SDES CNAME chunk appended as a compound packet (RFC 3550 §6.1 says
// every compound packet carries SDES with CNAME).
func buildSR(ssrc uint32, now time.Time, rtpTs uint32, pktCount, octetCount uint32, rb *reportBlock, cname string) []byte {
	n := 28
	rc := 0
	if rb != nil {
		n += 24
		rc = 1
	}
	out := make([]byte, n)
	out[0] = rtpVersion<<6 | byte(rc)
	out[1] = rtcpSR
	binary.BigEndian.PutUint16(out[2:], uint16(n/4-1))
	binary.BigEndian.PutUint32(out[4:], ssrc)
	sec, frac := ntpTime(now)
	binary.BigEndian.PutUint32(out[8:], sec)
	binary.BigEndian.PutUint32(out[12:], frac)
	binary.BigEndian.PutUint32(out[16:], rtpTs)
	binary.BigEndian.PutUint32(out[20:], pktCount)
	binary.BigEndian.PutUint32(out[24:], octetCount)
	if rb != nil {
		rb.encode(out[28:])
	}
	return append(out, buildSDES(ssrc, cname)...)
}

// buildRR assembles a Receiver Report with one report block plus the
// SDES CNAME chunk.
func buildRR(ssrc uint32, rb reportBlock, cname string) []byte {
	out := make([]byte, 32)
	out[0] = rtpVersion<<6 | 1
	out[1] = rtcpRR
	binary.BigEndian.PutUint16(out[2:], uint16(len(out)/4-1))
	binary.BigEndian.PutUint32(out[4:], ssrc)
	rb.encode(out[8:])
	return append(out, buildSDES(ssrc, cname)...)
}

// buildSDES assembles the SDES packet with the mandatory CNAME item,
// padded to a 32-bit boundary.
func buildSDES(ssrc uint32, cname string) []byte {
	body := 4 + 2 + len(cname) + 1 // ssrc + item header + text + terminator
	padded := (body + 3) &^ 3
	out := make([]byte, 4+padded)
	out[0] = rtpVersion<<6 | 1 // one chunk
	out[1] = rtcpSDES
	binary.BigEndian.PutUint16(out[2:], uint16(len(out)/4-1))
	binary.BigEndian.PutUint32(out[4:], ssrc)
	out[8] = sdesCNAME
	out[9] = byte(len(cname))
	copy(out[10:], cname)
	return out
}

// SRInfo is what a parsed inbound Sender Report yields (for LSR/DLSR
// bookkeeping on our next RR).
type SRInfo struct {
	SSRC     uint32
	NTPSec   uint32
	NTPFrac  uint32
	RTPTs    uint32
	PktCount uint32
}

// parseRTCP walks a compound RTCP packet and returns the SR info if one
// is present. Unknown packet types are skipped by length.
func parseRTCP(raw []byte) (*SRInfo, error) {
	for len(raw) >= 4 {
		if raw[0]>>6 != rtpVersion {
			return nil, fmt.Errorf("rtcp: bad version")
		}
		l := (int(binary.BigEndian.Uint16(raw[2:])) + 1) * 4
		if l > len(raw) {
			return nil, fmt.Errorf("rtcp: packet length %d exceeds datagram %d", l, len(raw))
		}
		if raw[1] == rtcpSR && l >= 28 {
			return &SRInfo{
				SSRC:     binary.BigEndian.Uint32(raw[4:]),
				NTPSec:   binary.BigEndian.Uint32(raw[8:]),
				NTPFrac:  binary.BigEndian.Uint32(raw[12:]),
				RTPTs:    binary.BigEndian.Uint32(raw[16:]),
				PktCount: binary.BigEndian.Uint32(raw[20:]),
			}, nil
		}
		raw = raw[l:]
	}
	return nil, nil
}
