package btsmodel

import (
	"fmt"
	"time"
)

// MeasSample is one uplink burst measurement, fed into the
// measurement aggregator by the scheduler on every PH-DATA.ind/TCH.ind.
type MeasSample struct {
	FN       uint32
	Ber10k   uint16 // BER x 10^4
	TOA256   int16  // time of arrival, 1/256 bit periods
	RSSI     int8   // negated dBm
	CI_cB    int16  // C/I in centibels
	IsSub    bool
}

// MeasRingSize bounds the number of uplink samples retained since the
// last SACCH period boundary (one SACCH period is at most 104 frames,
// with at most one sample per frame carrying this lchan's burst).
const MeasRingSize = 104

// MeasAggState is the per-lchan measurement aggregator state.
type MeasAggState struct {
	Ring       [MeasRingSize]MeasSample
	Count      int
	LastPeriodEndFN uint32
	HavePeriodEndFN bool

	// most recent uplink SACCH L1 header
	MSPowerHdr uint8
	FPCEPC     bool
	SRRSRO     bool
	TAHdr      uint8
	L1Valid    bool

	// radio link timeout counter S; -1 disables the mechanism
	RadioLinkTimeout int8
	RadioLinkCounter int8
}

// PendingDL is a cached downlink primitive awaiting transmission (used
// for the Early IA cache and general per-lchan backlog).
type PendingDL struct {
	LinkID byte
	Data   []byte
}

// CiphWatch holds the stored LAPDm N(S) the ENCR-CMD handler watches
// for to detect the first ciphered uplink I-frame and flip TxEnabled on.
type CiphWatch struct {
	Watching bool
	ExpectNS uint8
}

// Lchan is one of up to 8 logical channels carried by a timeslot.
type Lchan struct {
	Index Index

	Type  ChanType
	State ChanState
	Mode  ChanMode

	Cipher Cipher
	Ciph   CiphWatch

	TAControl struct {
		Current TA
		Target  TA
	}

	MS MSPower
	BS BSPower

	Meas MeasAggState

	// SACCH system-information buffers copied from the BTS-global
	// buffers on activation unless CHAN-ACTIV supplied its own.
	SACCHSI [][]byte

	LAPDmHandle uintptr // opaque handle owned by the LAPDm library
	RTPHandle   uintptr // opaque handle into rtpendpoint, TCH only

	Pending []PendingDL

	// EarlyIA caches an Immediate Assignment MAC block received before
	// this lchan finished activating, sent verbatim on
	// MPH-ACTIVATE.cnf.
	EarlyIA []byte

	Handover HandoverState

	RepeatedACCH  bool
	ACCHOverpower bool

	ActivatedAt time.Time
}

// validTransitions enumerates the channel state machine.
var validTransitions = map[ChanState]map[ChanState]bool{
	StateNone:    {StateActReq: true},
	StateActReq:  {StateActive: true, StateNone: true},
	StateActive:  {StateRelReq: true},
	StateRelReq:  {StateNone: true},
}

// Transition drives the lchan's state machine, returning an error if
// the move is not a legal edge. Any state may move to
// BROKEN unconditionally (internal error path), which Transition does
// not gate.
func (l *Lchan) Transition(to ChanState) error {
	if to == StateBroken {
		l.State = StateBroken
		return nil
	}
	if !validTransitions[l.State][to] {
		return fmt.Errorf("lchan %s: illegal state transition %s -> %s", l.Index, l.State, to)
	}
	l.State = to
	if to == StateActive {
		l.ActivatedAt = time.Now()
	}
	if to == StateNone {
		l.Pending = nil
		l.EarlyIA = nil
		l.Cipher = Cipher{}
		l.Ciph = CiphWatch{}
		l.Handover = HOInactive
	}
	return nil
}

// AdoptSACCHSI copies the BTS-global SACCH SI buffers onto this lchan
// on activation, unless CHAN-ACTIV already supplied its own.
func (l *Lchan) AdoptSACCHSI(global [][]byte) {
	if l.SACCHSI != nil {
		return
	}
	cp := make([][]byte, len(global))
	for i, b := range global {
		if b != nil {
			cp[i] = append([]byte(nil), b...)
		}
	}
	l.SACCHSI = cp
}

// ClearOnRelease clears pending downlink primitives and burst buffers
// when the lchan leaves ACTIVE.
func (l *Lchan) ClearOnRelease() {
	l.Pending = nil
	l.Meas = MeasAggState{RadioLinkTimeout: l.Meas.RadioLinkTimeout}
}
