// Package pcu implements the framed datagram interface to the external
// Packet Control Unit: a UNIX SEQPACKET socket carrying
// fixed-layout primitives with a 4-byte header, a version handshake via
// TXT-IND, and the PDCH timeslot lifecycle on connect/disconnect.
package pcu

import (
	"encoding/binary"
	"fmt"
)

// Version is the PCU_IF protocol version this BTS speaks. The handshake
// requires an exact match; a mismatch closes the link.
const Version = 0x0B

// MsgType is the first header octet of every PCU primitive.
type MsgType uint8

const (
	MsgInfoInd    MsgType = 0x00
	MsgTimeInd    MsgType = 0x01
	MsgDataReq    MsgType = 0x02
	MsgDataCnf    MsgType = 0x03
	MsgDataInd    MsgType = 0x04
	MsgSuspReq    MsgType = 0x05
	MsgRachInd    MsgType = 0x22
	MsgPagReq     MsgType = 0x23
	MsgActReq     MsgType = 0x24
	MsgActAck     MsgType = 0x25
	MsgActNack    MsgType = 0x26
	MsgTxtInd     MsgType = 0x70
	MsgContainer  MsgType = 0x71
	MsgInterfInd  MsgType = 0x72
	MsgAppInfoReq MsgType = 0x73
)

// TxtType selects the TXT-IND payload kind; the version handshake uses
// TxtVersion.
type TxtType uint8

const (
	TxtVersion TxtType = 0
	TxtFatal   TxtType = 1
	TxtOMLAlert TxtType = 2
)

// Header is the fixed 4-byte prefix on every primitive:
// {msg_type: u8, bts_nr: u8, _pad: u16}.
type Header struct {
	MsgType MsgType
	BTSNr   uint8
}

const headerLen = 4

func (h Header) encode(out []byte) {
	out[0] = byte(h.MsgType)
	out[1] = h.BTSNr
	out[2], out[3] = 0, 0
}

func decodeHeader(raw []byte) (Header, error) {
	if len(raw) < headerLen {
		return Header{}, fmt.Errorf("pcu: datagram shorter than header (%d)", len(raw))
	}
	return Header{MsgType: MsgType(raw[0]), BTSNr: raw[1]}, nil
}

// InfoInd announces the BTS configuration to the PCU once all
// prerequisites (LAI from SI3, NSE/Cell attributes, at least one NSVC)
// are known. Fixed C layout.
type InfoInd struct {
	Version    uint8
	Flags      uint32
	LAC        uint16
	RAC        uint8
	CI         uint16
	BSIC       uint8
	NSEI       uint16
	NSVCI      uint16
	BVCI       uint16
	// PDCHMask holds, per TRX, a bitmask of timeslots exposed as PDCH.
	PDCHMask [8]uint8
}

const infoIndLen = headerLen + 25

func (p InfoInd) Encode(btsNr uint8) []byte {
	out := make([]byte, infoIndLen)
	Header{MsgType: MsgInfoInd, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	b[0] = p.Version
	binary.LittleEndian.PutUint32(b[1:], p.Flags)
	binary.LittleEndian.PutUint16(b[5:], p.LAC)
	b[7] = p.RAC
	binary.LittleEndian.PutUint16(b[8:], p.CI)
	b[10] = p.BSIC
	binary.LittleEndian.PutUint16(b[11:], p.NSEI)
	binary.LittleEndian.PutUint16(b[13:], p.NSVCI)
	binary.LittleEndian.PutUint16(b[15:], p.BVCI)
	copy(b[17:], p.PDCHMask[:])
	return out
}

func DecodeInfoInd(raw []byte) (InfoInd, error) {
	if len(raw) < infoIndLen {
		return InfoInd{}, fmt.Errorf("pcu: INFO-IND too short (%d)", len(raw))
	}
	b := raw[headerLen:]
	p := InfoInd{
		Version: b[0],
		Flags:   binary.LittleEndian.Uint32(b[1:]),
		LAC:     binary.LittleEndian.Uint16(b[5:]),
		RAC:     b[7],
		CI:      binary.LittleEndian.Uint16(b[8:]),
		BSIC:    b[10],
		NSEI:    binary.LittleEndian.Uint16(b[11:]),
		NSVCI:   binary.LittleEndian.Uint16(b[13:]),
		BVCI:    binary.LittleEndian.Uint16(b[15:]),
	}
	copy(p.PDCHMask[:], b[17:25])
	return p, nil
}

// DataInd carries one uplink PDTCH/PTCCH MAC block to the PCU, with
// the same per-burst measurements the CS side aggregates.
type DataInd struct {
	SAPI    uint8
	TRX     uint8
	TS      uint8
	FN      uint32
	ARFCN   uint16
	RSSI    int8
	Ber10k  uint16
	TA256   int16
	LQualCB int16
	Data    []byte
}

const dataIndFixedLen = headerLen + 16

func (p DataInd) Encode(btsNr uint8) []byte {
	out := make([]byte, dataIndFixedLen+len(p.Data))
	Header{MsgType: MsgDataInd, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	b[0] = p.SAPI
	b[1] = p.TRX
	b[2] = p.TS
	binary.LittleEndian.PutUint32(b[3:], p.FN)
	binary.LittleEndian.PutUint16(b[7:], p.ARFCN)
	b[9] = byte(p.RSSI)
	binary.LittleEndian.PutUint16(b[10:], p.Ber10k)
	binary.LittleEndian.PutUint16(b[12:], uint16(p.TA256))
	binary.LittleEndian.PutUint16(b[14:], uint16(p.LQualCB))
	copy(b[16:], p.Data)
	return out
}

func DecodeDataInd(raw []byte) (DataInd, error) {
	if len(raw) < dataIndFixedLen {
		return DataInd{}, fmt.Errorf("pcu: DATA-IND too short (%d)", len(raw))
	}
	b := raw[headerLen:]
	return DataInd{
		SAPI:    b[0],
		TRX:     b[1],
		TS:      b[2],
		FN:      binary.LittleEndian.Uint32(b[3:]),
		ARFCN:   binary.LittleEndian.Uint16(b[7:]),
		RSSI:    int8(b[9]),
		Ber10k:  binary.LittleEndian.Uint16(b[10:]),
		TA256:   int16(binary.LittleEndian.Uint16(b[12:])),
		LQualCB: int16(binary.LittleEndian.Uint16(b[14:])),
		Data:    append([]byte(nil), b[16:]...),
	}, nil
}

// DataReq is the PCU's downlink MAC block for a PDCH timeslot.
type DataReq struct {
	SAPI uint8
	TRX  uint8
	TS   uint8
	FN   uint32
	Data []byte
}

const dataReqFixedLen = headerLen + 7

func (p DataReq) Encode(btsNr uint8) []byte {
	out := make([]byte, dataReqFixedLen+len(p.Data))
	Header{MsgType: MsgDataReq, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	b[0] = p.SAPI
	b[1] = p.TRX
	b[2] = p.TS
	binary.LittleEndian.PutUint32(b[3:], p.FN)
	copy(b[7:], p.Data)
	return out
}

func DecodeDataReq(raw []byte) (DataReq, error) {
	if len(raw) < dataReqFixedLen {
		return DataReq{}, fmt.Errorf("pcu: DATA-REQ too short (%d)", len(raw))
	}
	b := raw[headerLen:]
	return DataReq{
		SAPI: b[0],
		TRX:  b[1],
		TS:   b[2],
		FN:   binary.LittleEndian.Uint32(b[3:]),
		Data: append([]byte(nil), b[7:]...),
	}, nil
}

// RachInd forwards an Access Burst on a PDCH or a packet-access RACH.
type RachInd struct {
	SAPI      uint8
	RA        uint16
	FN        uint32
	ARFCN     uint16
	QTA       int16
	Is11Bit   uint8
	BurstType uint8
	TRX       uint8
	TS        uint8
}

const rachIndLen = headerLen + 15

func (p RachInd) Encode(btsNr uint8) []byte {
	out := make([]byte, rachIndLen)
	Header{MsgType: MsgRachInd, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	b[0] = p.SAPI
	binary.LittleEndian.PutUint16(b[1:], p.RA)
	binary.LittleEndian.PutUint32(b[3:], p.FN)
	binary.LittleEndian.PutUint16(b[7:], p.ARFCN)
	binary.LittleEndian.PutUint16(b[9:], uint16(p.QTA))
	b[11] = p.Is11Bit
	b[12] = p.BurstType
	b[13] = p.TRX
	b[14] = p.TS
	return out
}

func DecodeRachInd(raw []byte) (RachInd, error) {
	if len(raw) < rachIndLen {
		return RachInd{}, fmt.Errorf("pcu: RACH-IND too short (%d)", len(raw))
	}
	b := raw[headerLen:]
	return RachInd{
		SAPI:      b[0],
		RA:        binary.LittleEndian.Uint16(b[1:]),
		FN:        binary.LittleEndian.Uint32(b[3:]),
		ARFCN:     binary.LittleEndian.Uint16(b[7:]),
		QTA:       int16(binary.LittleEndian.Uint16(b[9:])),
		Is11Bit:   b[11],
		BurstType: b[12],
		TRX:       b[13],
		TS:        b[14],
	}, nil
}

// TimeInd ticks the PCU's frame clock.
type TimeInd struct {
	FN uint32
}

const timeIndLen = headerLen + 4

func (p TimeInd) Encode(btsNr uint8) []byte {
	out := make([]byte, timeIndLen)
	Header{MsgType: MsgTimeInd, BTSNr: btsNr}.encode(out)
	binary.LittleEndian.PutUint32(out[headerLen:], p.FN)
	return out
}

func DecodeTimeInd(raw []byte) (TimeInd, error) {
	if len(raw) < timeIndLen {
		return TimeInd{}, fmt.Errorf("pcu: TIME-IND too short (%d)", len(raw))
	}
	return TimeInd{FN: binary.LittleEndian.Uint32(raw[headerLen:])}, nil
}

// InterfInd reports per-timeslot uplink interference averages.
type InterfInd struct {
	TRX    uint8
	FN     uint32
	Interf [8]uint8
}

const interfIndLen = headerLen + 13

func (p InterfInd) Encode(btsNr uint8) []byte {
	out := make([]byte, interfIndLen)
	Header{MsgType: MsgInterfInd, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	b[0] = p.TRX
	binary.LittleEndian.PutUint32(b[1:], p.FN)
	copy(b[5:], p.Interf[:])
	return out
}

// TxtInd carries a NUL-free text payload; TxtVersion is the handshake.
type TxtInd struct {
	Type TxtType
	Text string
}

func (p TxtInd) Encode(btsNr uint8) []byte {
	out := make([]byte, headerLen+1+len(p.Text))
	Header{MsgType: MsgTxtInd, BTSNr: btsNr}.encode(out)
	out[headerLen] = byte(p.Type)
	copy(out[headerLen+1:], p.Text)
	return out
}

func DecodeTxtInd(raw []byte) (TxtInd, error) {
	if len(raw) < headerLen+1 {
		return TxtInd{}, fmt.Errorf("pcu: TXT-IND too short (%d)", len(raw))
	}
	return TxtInd{Type: TxtType(raw[headerLen]), Text: string(raw[headerLen+1:])}, nil
}

// ActReq asks the BTS to (de)activate a PDCH timeslot; Activate 0 is a
// deactivation.
type ActReq struct {
	Activate uint8
	TRX      uint8
	TS       uint8
}

const actReqLen = headerLen + 3

func (p ActReq) Encode(btsNr uint8) []byte {
	out := make([]byte, actReqLen)
	Header{MsgType: MsgActReq, BTSNr: btsNr}.encode(out)
	out[headerLen] = p.Activate
	out[headerLen+1] = p.TRX
	out[headerLen+2] = p.TS
	return out
}

func DecodeActReq(raw []byte) (ActReq, error) {
	if len(raw) < actReqLen {
		return ActReq{}, fmt.Errorf("pcu: ACT-REQ too short (%d)", len(raw))
	}
	return ActReq{Activate: raw[headerLen], TRX: raw[headerLen+1], TS: raw[headerLen+2]}, nil
}

// PagReq forwards a CS paging toward the PCU so it can page on the
// packet side.
type PagReq struct {
	SAPI     uint8
	ChanNeeded uint8
	Identity []byte // LV-encoded MS identity
}

func (p PagReq) Encode(btsNr uint8) []byte {
	out := make([]byte, headerLen+3+len(p.Identity))
	Header{MsgType: MsgPagReq, BTSNr: btsNr}.encode(out)
	out[headerLen] = p.SAPI
	out[headerLen+1] = p.ChanNeeded
	out[headerLen+2] = byte(len(p.Identity))
	copy(out[headerLen+3:], p.Identity)
	return out
}

// SuspReq forwards a GPRS Suspend request received on a dedicated
// channel to the PCU.
type SuspReq struct {
	TLLI uint32
	RAI  [6]byte
	Cause uint8
}

const suspReqLen = headerLen + 11

func (p SuspReq) Encode(btsNr uint8) []byte {
	out := make([]byte, suspReqLen)
	Header{MsgType: MsgSuspReq, BTSNr: btsNr}.encode(out)
	b := out[headerLen:]
	binary.LittleEndian.PutUint32(b, p.TLLI)
	copy(b[4:], p.RAI[:])
	b[10] = p.Cause
	return out
}

// AppInfoReq pushes an ETWS primary notification to the PCU.
type AppInfoReq struct {
	AppType uint8
	Data    []byte
}

func (p AppInfoReq) Encode(btsNr uint8) []byte {
	out := make([]byte, headerLen+2+len(p.Data))
	Header{MsgType: MsgAppInfoReq, BTSNr: btsNr}.encode(out)
	out[headerLen] = p.AppType
	out[headerLen+1] = byte(len(p.Data))
	copy(out[headerLen+2:], p.Data)
	return out
}

// Container wraps a variable-length payload with a 16-bit length in
// network byte order, the only primitive with a 16-bit length field.
type Container struct {
	StreamID uint8
	Payload  []byte
}

func (p Container) Encode(btsNr uint8) []byte {
	out := make([]byte, headerLen+3+len(p.Payload))
	Header{MsgType: MsgContainer, BTSNr: btsNr}.encode(out)
	out[headerLen] = p.StreamID
	binary.BigEndian.PutUint16(out[headerLen+1:], uint16(len(p.Payload)))
	copy(out[headerLen+3:], p.Payload)
	return out
}

func DecodeContainer(raw []byte) (Container, error) {
	if len(raw) < headerLen+3 {
		return Container{}, fmt.Errorf("pcu: CONTAINER too short (%d)", len(raw))
	}
	l := int(binary.BigEndian.Uint16(raw[headerLen+1:]))
	body := raw[headerLen+3:]
	if l > len(body) {
		return Container{}, fmt.Errorf("pcu: CONTAINER length %d exceeds datagram (%d)", l, len(body))
	}
	return Container{StreamID: raw[headerLen], Payload: append([]byte(nil), body[:l]...)}, nil
}
