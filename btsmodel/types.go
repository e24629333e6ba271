// Package btsmodel is the BTS/TRX/TS/lchan data model: an arena of
// managed objects addressed by typed indices rather than a back-pointer
// graph. BTS owns TRXs, TRX owns TSs, TS owns lchans; LAPDm and RTP
// handles are owned by the lchan that uses them. No cycles.
package btsmodel

import "fmt"

// ChanType is the logical channel type carried by an lchan.
type ChanType uint8

const (
	ChanNone ChanType = iota
	ChanSDCCH
	ChanTCHFull
	ChanTCHHalf
	ChanPDTCH
	ChanCBCH
	ChanCCCH // BCCH/CCCH/PCH/AGCH/RACH composite, TS0 C0 only
	ChanSACCH
)

func (c ChanType) String() string {
	switch c {
	case ChanSDCCH:
		return "SDCCH"
	case ChanTCHFull:
		return "TCH/F"
	case ChanTCHHalf:
		return "TCH/H"
	case ChanPDTCH:
		return "PDTCH"
	case ChanCBCH:
		return "CBCH"
	case ChanCCCH:
		return "CCCH"
	case ChanSACCH:
		return "SACCH"
	default:
		return "NONE"
	}
}

// PchanConfig is the timeslot's physical channel configuration.
type PchanConfig uint8

const (
	PchanNone PchanConfig = iota
	PchanCCCH
	PchanCCCHSDCCH4
	PchanSDCCH8
	PchanTCHFull
	PchanTCHHalf
	PchanPDCH
	PchanTCHFullPDCH  // dynamic TCH/F <-> PDCH
	PchanTCHFullHalfPDCH
)

func (p PchanConfig) IsDynamic() bool {
	return p == PchanTCHFullPDCH || p == PchanTCHFullHalfPDCH
}

// ChanMode is the lchan's channel mode: signalling, or one of the
// speech/data modes.
type ChanMode uint8

const (
	ModeSignalling ChanMode = iota
	ModeSpeechV1
	ModeSpeechV2EFR
	ModeSpeechV3AMR
	ModeData
)

// ChanState is the channel state machine state.
type ChanState uint8

const (
	StateNone ChanState = iota
	StateActReq
	StateActive
	StateRelReq
	StateBroken
)

func (s ChanState) String() string {
	switch s {
	case StateActReq:
		return "ACT_REQ"
	case StateActive:
		return "ACTIVE"
	case StateRelReq:
		return "REL_REQ"
	case StateBroken:
		return "BROKEN"
	default:
		return "NONE"
	}
}

// CipherAlgo is the A5 ciphering algorithm selector, 0 (no ciphering)
// through 7.
type CipherAlgo uint8

// MaxCipherKeyLen is the maximum A5 key length in octets.
const MaxCipherKeyLen = 16

// Cipher holds the encryption state of an lchan. At most one algorithm
// is active; rx/tx enablement is tracked independently because tx
// ciphering only turns on after the first ciphered uplink I-frame is
// observed (ENCR-CMD handshake).
type Cipher struct {
	Algo       CipherAlgo
	Key        [MaxCipherKeyLen]byte
	KeyLen     uint8
	RxEnabled  bool
	TxEnabled  bool
}

// TA is timing advance, 0..63 symbol periods on Um.
type TA uint8

const TAMax = 63

// Validate returns an error if the TA is out of range.
func (t TA) Validate() error {
	if t > TAMax {
		return fmt.Errorf("timing advance %d out of range [0,%d]", t, TAMax)
	}
	return nil
}

// PowerParams configures an autonomous MS or BS power control loop
//. A zero value means "no autonomous loop" (static power).
type PowerParams struct {
	Enabled          bool
	RxLevLower       int8 // dBm
	RxLevUpper       int8
	RxQualLower      uint8
	RxQualUpper      uint8
	P1, P2, P3, P4   uint8 // increase hysteresis run-lengths
	N1, N2, N3, N4   uint8 // decrease hysteresis run-lengths
	IntervalSacch    uint8 // control interval, in SACCH blocks
	IncreaseStepDB   uint8
	ReduceStepDB     uint8
}

// MSPower is the lchan's uplink (MS transmit) power control state.
type MSPower struct {
	Current uint8 // GSM power level (0..31, band dependent)
	Max     uint8
	Params  PowerParams // autonomous loop config, if Params.Enabled
}

// BSPower is the lchan's downlink (BS transmit) power control state,
// expressed as attenuation below nominal TRX power.
type BSPower struct {
	CurrentAttenDB uint8
	MaxAttenDB     uint8
	Params         PowerParams
}

// HandoverState tracks an inbound handover's synchronization with the
// frame clock.
type HandoverState uint8

const (
	HOInactive HandoverState = iota
	HOWaitFrame
	HOActive
)

// Index addresses a managed object in the arena: (trx, ts, lchan).
// A BTS has exactly one instance (the process-wide handle), so it is
// not part of the index.
type Index struct {
	TRX   uint8
	TS    uint8
	Lchan uint8
}

func (i Index) String() string {
	return fmt.Sprintf("trx=%d,ts=%d,lchan=%d", i.TRX, i.TS, i.Lchan)
}
