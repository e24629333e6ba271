// Package sched implements the TDMA scheduler: for each (TRX,
// TS, FN) it decides which logical channel is transmitted or received,
// using the static multiframe tables and the GSM frame clock.
package sched

import (
	"errors"
	"fmt"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
)

// ErrOverrun is returned when the PHY requests a burst for a frame
// number already past the current clock.
var ErrOverrun = errors.New("sched: overrun, fn already past current clock")

// ErrNoChannel is returned when chan_nr does not map to a configured
// logical channel.
var ErrNoChannel = errors.New("sched: chan_nr has no configured lchan")

// FillMeta describes the burst a Filler must produce a payload for.
type FillMeta struct {
	Index btsmodel.Index
	Chan  btsmodel.ChanType
	FN    uint32
}

// Filler produces the downlink MAC block for a burst-index-0 slot,
// resolving SI/paging/CBCH/SACCH/FACCH/SDCCH/fill priority internally
// for the given channel type.
type Filler interface {
	Fill(meta FillMeta) ([]byte, error)
}

// PowerCipher applies BS power attenuation (and ACCH-overpower) and the
// A5 keystream XOR to a downlink payload, and the
// corresponding de-cipher on uplink.
type PowerCipher interface {
	ApplyDownlink(idx btsmodel.Index, chanType btsmodel.ChanType, payload []byte) []byte
	ApplyUplink(idx btsmodel.Index, chanType btsmodel.ChanType, payload []byte) []byte
}

// RACHExpireFunc is called once per frame number skipped by a clock
// gap, to mark that frame's RACH slot (if any) expired.
type RACHExpireFunc func(fn gsmtime.FN)

// tsKey identifies one timeslot for per-TS scheduler state.
type tsKey struct {
	TRX uint8
	TS  uint8
}

// continuation tracks the in-flight L2 frame segmentation for a
// burst-index>0 continuation, and the last FN served (idempotence).
type continuation struct {
	haveFrame bool
	frame     []byte // remaining bytes of the frame being segmented across bursts
	lastReqFN uint32
	lastReqValid bool
	lastRespValid bool
	lastResp  []byte
}

// Scheduler is the single-threaded-per-TRX TDMA dispatcher.
type Scheduler struct {
	log    clog.Clog
	bts    *btsmodel.BTS
	tables [mfTableCount]*MFTable

	filler Filler
	pc     PowerCipher
	expire RACHExpireFunc

	currentFN   gsmtime.FN
	haveFN      bool
	fnStats     *gsmtime.Stats

	cont map[tsKey]*continuation

	// dedup tracks the last FN a PH-DATA.ind was processed for, per TS,
	// to satisfy the idempotence property (replaying the same FN must
	// not double-process).
	lastDataFN map[tsKey]uint32
}

// New creates a scheduler bound to a BTS model and its behavioral
// hooks.
func New(log clog.Clog, bts *btsmodel.BTS, filler Filler, pc PowerCipher, expire RACHExpireFunc) *Scheduler {
	return &Scheduler{
		log:        log,
		bts:        bts,
		tables:     StandardTables(),
		filler:     filler,
		pc:         pc,
		expire:     expire,
		fnStats:    gsmtime.NewStats(64),
		cont:       map[tsKey]*continuation{},
		lastDataFN: map[tsKey]uint32{},
	}
}

// AdvanceClock processes MPH-INFO.ind(TIME), the only path that moves
// the frame clock forward. Any gap larger than 1 triggers RACH
// expiry for every skipped frame.
func (s *Scheduler) AdvanceClock(fn gsmtime.FN) {
	if s.haveFN {
		for _, skipped := range gsmtime.GapExpired(s.currentFN, fn) {
			if s.expire != nil {
				s.expire(skipped)
			}
		}
	}
	s.currentFN = fn
	s.haveFN = true
}

// CurrentFN returns the scheduler's current frame number.
func (s *Scheduler) CurrentFN() gsmtime.FN { return s.currentFN }

func (s *Scheduler) key(idx btsmodel.Index) tsKey { return tsKey{idx.TRX, idx.TS} }

// lookupTS resolves the timeslot and reports ErrNoChannel if its index
// addresses no configured timeslot.
func (s *Scheduler) lookupTS(idx btsmodel.Index) (*btsmodel.TS, error) {
	trx, err := s.bts.TRXAt(idx.TRX)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoChannel, err)
	}
	ts, err := trx.TSAt(idx.TS)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoChannel, err)
	}
	return ts, nil
}

// Dispatch implements the PH-RTS.ind dispatch rule.
// fn must not be strictly less than the scheduler's current clock.
func (s *Scheduler) Dispatch(idx btsmodel.Index, fn uint32) ([]byte, error) {
	ts, err := s.lookupTS(idx)
	if err != nil {
		return nil, err
	}
	if s.haveFN && gsmtime.FN(fn).Sub(s.currentFN) < 0 {
		return nil, ErrOverrun
	}

	k := s.key(idx)
	c, ok := s.cont[k]
	if !ok {
		c = &continuation{}
		s.cont[k] = c
	}

	// Idempotence: replaying the identical PH-RTS.ind must not
	// re-invoke the filler or duplicate output.
	if c.lastReqValid && c.lastReqFN == fn && c.lastRespValid {
		return c.lastResp, nil
	}

	table := s.tables[ts.MFIndex]
	entry := table.At(fn)

	var payload []byte
	if entry.BurstIndex == 0 || !c.haveFrame {
		payload, err = s.filler.Fill(FillMeta{Index: idx, Chan: entry.Chan, FN: fn})
		if err != nil {
			return nil, err
		}
		c.frame = payload
		c.haveFrame = true
	} else {
		payload = c.frame
	}
	if entry.BurstIndex == 3 {
		c.haveFrame = false
		c.frame = nil
	}

	if s.pc != nil {
		payload = s.pc.ApplyDownlink(idx, entry.Chan, payload)
	}

	c.lastReqFN = fn
	c.lastReqValid = true
	c.lastResp = payload
	c.lastRespValid = true
	return payload, nil
}

// DispatchUplink implements idempotent handling of PH-DATA.ind: a
// replayed uplink burst for an FN already processed on this timeslot is
// a no-op.
// It reports whether the burst is new (callers should only process a
// new burst).
func (s *Scheduler) DispatchUplink(idx btsmodel.Index, fn uint32, payload []byte) (isNew bool, decoded []byte, err error) {
	if _, err := s.lookupTS(idx); err != nil {
		return false, nil, err
	}
	k := s.key(idx)
	if last, ok := s.lastDataFN[k]; ok && last == fn {
		return false, nil, nil
	}
	s.lastDataFN[k] = fn

	out := payload
	if s.pc != nil {
		ts, _ := s.lookupTS(idx)
		entry := s.tables[ts.MFIndex].At(fn)
		out = s.pc.ApplyUplink(idx, entry.Chan, payload)
	}
	return true, out, nil
}
