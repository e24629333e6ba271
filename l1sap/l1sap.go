// Package l1sap implements the L1-SAP dispatcher: the narrow,
// synchronous, in-process primitive interface between the PHY and the
// protocol stack.
package l1sap

import (
	"fmt"

	"github.com/rob-gra/osmo-bts-go/clog"
)

// ChanNr is the GSM 08.58 channel-number octet identifying a physical
// sub-channel on a timeslot.
type ChanNr byte

// LinkID identifies the logical link (SACCH vs main DCCH) a primitive
// belongs to.
type LinkID byte

const (
	LinkMain  LinkID = 0x00
	LinkSACCH LinkID = 0x40
)

// MPHInfoType enumerates MPH-INFO primitive sub-types.
type MPHInfoType uint8

const (
	MPHTime MPHInfoType = iota
	MPHMeas
	MPHHandoverCrit
	MPHActivate
	MPHDeactivate
	MPHModify
	MPHActCiph
)

// PHDataInd is an uplink MAC block delivered by the PHY.
type PHDataInd struct {
	ChanNr  ChanNr
	LinkID  LinkID
	FN      uint32
	RSSI    int8
	Ber10k  uint16
	LQualCB int16
	TA256   int16
	IsSub   bool
	Payload []byte
}

// PHDataReq is a MAC block the stack sends down to the PHY.
type PHDataReq struct {
	ChanNr  ChanNr
	LinkID  LinkID
	FN      uint32
	Payload []byte
}

// PHRTSInd is the PHY's request for downlink data at the given FN; the
// dispatcher replies by constructing a PHDataReq in the same exchange.
type PHRTSInd struct {
	ChanNr ChanNr
	LinkID LinkID
	FN     uint32
}

// PHRachInd is an uplink Access Burst.
type PHRachInd struct {
	ChanNr      ChanNr
	FN          uint32
	RA          uint8
	AccDelay    uint8
	AccDelay256 int16
	RSSI        int8
	Ber10k      uint16
	LQualCB     int16
	Is11Bit     bool
	BurstType   uint8
}

// TCHInd/TCHReq carry traffic frames with an explicit frame marker bit
// (used for AMR frame-type signalling and DTX SID markers).
type TCHInd struct {
	ChanNr  ChanNr
	FN      uint32
	Marker  bool
	Payload []byte
}

type TCHReq struct {
	ChanNr  ChanNr
	FN      uint32
	Marker  bool
	Payload []byte
}

// TCHRTSInd is the PHY's request for the next traffic frame.
type TCHRTSInd struct {
	ChanNr ChanNr
	FN     uint32
}

// MPHInfoInd is unsolicited PHY status: TIME advances the frame
// clock, MEAS carries measurement indications, HO_CRIT flags a handover
// criterion.
type MPHInfoInd struct {
	Type MPHInfoType
	FN   uint32 // valid for Type==MPHTime
}

// MPHInfoReq is a stack-to-PHY control primitive.
type MPHInfoReq struct {
	Type   MPHInfoType
	ChanNr ChanNr
}

// MPHInfoCnf acknowledges an MPHInfoReq (ACTIVATE/DEACTIVATE).
type MPHInfoCnf struct {
	Type   MPHInfoType
	ChanNr ChanNr
	Cause  uint8 // 0 = success
}

// Observer taps downlink primitives for debugging (GSMTAP-style).
// Fill frames must not be tapped.
type Observer interface {
	Tap(chanNr ChanNr, linkID LinkID, fn uint32, payload []byte)
}

// Handlers is the set of callbacks the protocol stack registers with
// the dispatcher for each primitive direction.
type Handlers struct {
	OnPHRTS      func(PHRTSInd) (PHDataReq, error)
	OnPHData     func(PHDataInd) error
	OnPHRach     func(PHRachInd) error
	OnTCHRTS     func(TCHRTSInd) (TCHReq, error)
	OnTCHInd     func(TCHInd) error
	OnMPHInfoInd func(MPHInfoInd) error
	OnMPHInfoCnf func(MPHInfoCnf) error
}

// ActiveLchanSet is implemented by the scheduler to let the dispatcher
// validate chan_nr before routing a primitive.
type ActiveLchanSet interface {
	IsActiveChanNr(chanNr ChanNr) bool
}

// Dispatcher is the L1-SAP primitive router.
type Dispatcher struct {
	log      clog.Clog
	handlers Handlers
	active   ActiveLchanSet
	observer Observer

	// isFillFrame identifies fill-frame payloads that must be excluded
	// from the tap.
	isFillFrame func([]byte) bool
}

// New creates a dispatcher bound to the given handlers and active-lchan
// oracle.
func New(log clog.Clog, h Handlers, active ActiveLchanSet) *Dispatcher {
	return &Dispatcher{log: log, handlers: h, active: active, isFillFrame: defaultIsFillFrame}
}

// SetObserver installs (or clears, with nil) a debug tap.
func (d *Dispatcher) SetObserver(o Observer) { d.observer = o }

var fillFramePattern = []byte{0x03, 0x03, 0x01} // GSM 04.08 §9.1.19 fill frame SI header prefix

func defaultIsFillFrame(payload []byte) bool {
	if len(payload) < len(fillFramePattern) {
		return false
	}
	for i, b := range fillFramePattern {
		if payload[i] != b {
			return false
		}
	}
	return true
}

func (d *Dispatcher) validate(chanNr ChanNr) error {
	if d.active != nil && !d.active.IsActiveChanNr(chanNr) {
		return fmt.Errorf("l1sap: chan_nr 0x%02x has no active lchan", byte(chanNr))
	}
	return nil
}

// DeliverPHRTS handles a PH-RTS.ind, validating chan_nr, invoking the
// stack's RTS callback, and tapping the resulting downlink payload
// (fill frames excluded).
func (d *Dispatcher) DeliverPHRTS(ind PHRTSInd) (PHDataReq, error) {
	if err := d.validate(ind.ChanNr); err != nil {
		return PHDataReq{}, err
	}
	if d.handlers.OnPHRTS == nil {
		return PHDataReq{}, fmt.Errorf("l1sap: no PH-RTS handler registered")
	}
	req, err := d.handlers.OnPHRTS(ind)
	if err != nil {
		return PHDataReq{}, err
	}
	if d.observer != nil && !d.isFillFrame(req.Payload) {
		d.observer.Tap(req.ChanNr, req.LinkID, req.FN, req.Payload)
	}
	return req, nil
}

// DeliverPHData handles an uplink PH-DATA.ind.
func (d *Dispatcher) DeliverPHData(ind PHDataInd) error {
	if err := d.validate(ind.ChanNr); err != nil {
		return err
	}
	if d.handlers.OnPHData == nil {
		return fmt.Errorf("l1sap: no PH-DATA handler registered")
	}
	return d.handlers.OnPHData(ind)
}

// DeliverPHRach handles a PH-RACH.ind. RACH is pre-activation traffic
// (the MS has no lchan yet), so no chan_nr validation applies.
func (d *Dispatcher) DeliverPHRach(ind PHRachInd) error {
	if d.handlers.OnPHRach == nil {
		return fmt.Errorf("l1sap: no PH-RACH handler registered")
	}
	return d.handlers.OnPHRach(ind)
}

// DeliverTCHRTS handles a TCH-RTS.ind.
func (d *Dispatcher) DeliverTCHRTS(ind TCHRTSInd) (TCHReq, error) {
	if err := d.validate(ind.ChanNr); err != nil {
		return TCHReq{}, err
	}
	if d.handlers.OnTCHRTS == nil {
		return TCHReq{}, fmt.Errorf("l1sap: no TCH-RTS handler registered")
	}
	req, err := d.handlers.OnTCHRTS(ind)
	if err != nil {
		return TCHReq{}, err
	}
	if d.observer != nil {
		d.observer.Tap(req.ChanNr, LinkMain, req.FN, req.Payload)
	}
	return req, nil
}

// DeliverTCH handles an uplink TCH.ind.
func (d *Dispatcher) DeliverTCH(ind TCHInd) error {
	if err := d.validate(ind.ChanNr); err != nil {
		return err
	}
	if d.handlers.OnTCHInd == nil {
		return fmt.Errorf("l1sap: no TCH handler registered")
	}
	return d.handlers.OnTCHInd(ind)
}

// DeliverMPHInfoInd handles unsolicited PHY status. TIME primitives
// must be delivered in order; the scheduler package enforces that by
// driving the frame clock exclusively from this call.
func (d *Dispatcher) DeliverMPHInfoInd(ind MPHInfoInd) error {
	if d.handlers.OnMPHInfoInd == nil {
		return nil
	}
	return d.handlers.OnMPHInfoInd(ind)
}

// DeliverMPHInfoCnf handles a PHY acknowledgement of an MPH-INFO.req.
func (d *Dispatcher) DeliverMPHInfoCnf(cnf MPHInfoCnf) error {
	if err := d.validate(cnf.ChanNr); err != nil {
		d.log.Warn("MPH-INFO.cnf for unknown chan_nr 0x%02x: %v", byte(cnf.ChanNr), err)
	}
	if d.handlers.OnMPHInfoCnf == nil {
		return nil
	}
	return d.handlers.OnMPHInfoCnf(cnf)
}
