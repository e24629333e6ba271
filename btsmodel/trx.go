package btsmodel

import "fmt"

// MaxTSPerTRX is the number of timeslots on a GSM carrier.
const MaxTSPerTRX = 8

// OMLState is the administrative/operational/availability triple every
// managed object carries.
type OMLState struct {
	Administrative AdminState
	Operational    OperState
	Availability   AvailState
}

type AdminState uint8

const (
	AdminLocked AdminState = iota
	AdminUnlocked
	AdminShutdown
)

type OperState uint8

const (
	OperDisabled OperState = iota
	OperEnabled
)

type AvailState uint8

const (
	AvailOK AvailState = iota
	AvailDependency
	AvailOffLine
	AvailFailed
)

// TRX is one radio carrier.
type TRX struct {
	Index uint8

	ARFCN        uint16
	NominalPower uint8
	MaxAttenDB   uint8

	TS [MaxTSPerTRX]*TS

	RSLLinkHandle uintptr
	OML           OMLState
}

// MaxARFCN is the highest legal ARFCN value.
const MaxARFCN = 1023

// ValidateARFCN enforces the ARFCN range [0, 1023]; callers on the OML
// Set-Attributes path convert a violation into NACK(FREQ_NOTAVAIL)
// without mutating the TRX.
func ValidateARFCN(arfcn uint16) error {
	if arfcn > MaxARFCN {
		return fmt.Errorf("arfcn %d out of range [0,%d]", arfcn, MaxARFCN)
	}
	return nil
}

// NewTRX creates a TRX with all 8 timeslots allocated (unconfigured).
func NewTRX(idx uint8) *TRX {
	t := &TRX{Index: idx}
	for i := range t.TS {
		t.TS[i] = NewTS(idx, uint8(i))
	}
	return t
}

// TSAt returns the timeslot, or an error for an out-of-range index
// (the TRXNR_UNKN / OBJINST_UNKN boundary).
func (t *TRX) TSAt(n uint8) (*TS, error) {
	if int(n) >= len(t.TS) {
		return nil, fmt.Errorf("ts %d out of range for trx %d", n, t.Index)
	}
	return t.TS[n], nil
}
