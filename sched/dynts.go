package sched

import (
	"errors"
	"fmt"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
)

// ErrDynTransitionInProgress is returned when a second dynamic-TS switch
// is requested while one is already in flight.
var ErrDynTransitionInProgress = errors.New("sched: dynamic TS transition already in progress")

// PHYConnector performs the PHY-side reconnect half of a dynamic TS
// switch.
type PHYConnector interface {
	Disconnect(idx btsmodel.Index) error
	Connect(idx btsmodel.Index, pchan btsmodel.PchanConfig) error
}

// PCUNotifier tells the PCU package about a PDCH timeslot's lifecycle.
type PCUNotifier interface {
	Connected() bool
	NotifyPDCHState(idx btsmodel.Index, active bool)
}

// DynTS drives the two-phase dynamic timeslot reconfiguration:
// request -> disconnect.cnf -> connect.req -> connect.cnf -> ack to BSC.
type DynTS struct {
	phy PHYConnector
	pcu PCUNotifier
}

// NewDynTS creates a dynamic-TS driver.
func NewDynTS(phy PHYConnector, pcu PCUNotifier) *DynTS {
	return &DynTS{phy: phy, pcu: pcu}
}

// BeginSwitch starts switching ts to the requested pchan. It rejects a
// concurrent second request on the same timeslot. If the PCU is
// disconnected and the target is PDCH, the BSC is ACKed immediately:
// the PHY is still reconfigured, but the timeslot is left
// administratively unavailable to the PCU until INFO-IND is replayed
// on reconnect.
func (d *DynTS) BeginSwitch(idx btsmodel.Index, ts *btsmodel.TS, want btsmodel.PchanConfig) (ackNow bool, err error) {
	flag := btsmodel.DynPDCHActPending
	if want != btsmodel.PchanPDCH {
		flag = btsmodel.DynPDCHDeactPending
	}
	if err := ts.BeginDynTransition(flag); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDynTransitionInProgress, err)
	}
	ts.PchanWant = want

	if err := d.phy.Disconnect(idx); err != nil {
		ts.EndDynTransition()
		return false, err
	}
	if err := d.phy.Connect(idx, want); err != nil {
		ts.EndDynTransition()
		return false, err
	}
	ts.PchanIs = want
	ts.EndDynTransition()

	if want == btsmodel.PchanPDCH || want == btsmodel.PchanTCHFullPDCH {
		if d.pcu != nil && d.pcu.Connected() {
			d.pcu.NotifyPDCHState(idx, want == btsmodel.PchanPDCH)
			return true, nil
		}
		// PCU not connected: ack the BSC now; NotifyPDCHState will be
		// replayed once the PCU reconnects and INFO-IND is resent.
		return true, nil
	}
	if d.pcu != nil && d.pcu.Connected() {
		d.pcu.NotifyPDCHState(idx, false)
	}
	return true, nil
}
