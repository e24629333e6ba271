package btsmodel

import "fmt"

// MaxTRX is the maximum number of carriers this model supports per BTS.
const MaxTRX = 8

// Identity is the BTS's network identity.
type Identity struct {
	SiteID uint16
	BTSID  uint8
	BSIC   uint8 // NCC(3) + BCC(3), <= 63
	LAC    uint16
	CI     uint16
	RAC    uint8
}

// MaxBSIC is the highest legal BSIC: 6 bits, NCC(3) + BCC(3).
const MaxBSIC = 63

func (id Identity) Validate() error {
	if id.BSIC > MaxBSIC {
		return fmt.Errorf("bsic %d exceeds max %d", id.BSIC, MaxBSIC)
	}
	return nil
}

// ETWSState is the BTS-level ETWS primary notification state: idle, or
// actively broadcasting a segmented message across successive Paging
// Request Type 1 Rest Octets blocks.
type ETWSState struct {
	Active  bool
	Message []byte
	Cursor  int // next unsent segment offset
}

// PCUConn is an opaque handle to the PCU package's connection object;
// btsmodel only needs to know whether it is present, not its internals
// (avoids an import cycle with package pcu).
type PCUConn interface {
	Connected() bool
}

// BTS is the top-level entity: created once at process start and never
// destroyed; only its child MOs' states change.
type BTS struct {
	Identity Identity
	Band     string
	Caps     uint32 // capability bitmap

	TRX []*TRX // TRX[0] is always C0 (carries BCCH/CCCH), invariant enforced by NewBTS

	SI *SISet

	ETWS ETWSState

	PCU PCUConn

	OML OMLState
}

// NewBTS allocates a BTS with n TRX (n >= 1), TRX 0 being C0.
func NewBTS(id Identity, numTRX int) (*BTS, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if numTRX < 1 || numTRX > MaxTRX {
		return nil, fmt.Errorf("numTRX %d out of range [1,%d]", numTRX, MaxTRX)
	}
	b := &BTS{
		Identity: id,
		TRX:      make([]*TRX, numTRX),
		SI:       &SISet{},
	}
	for i := range b.TRX {
		b.TRX[i] = NewTRX(uint8(i))
	}
	return b, nil
}

// C0 returns the BCCH/CCCH-carrying TRX, which is always TRX 0.
func (b *BTS) C0() *TRX { return b.TRX[0] }

// TRXAt returns the TRX at the given index or a TRXNR_UNKN-class error.
func (b *BTS) TRXAt(n uint8) (*TRX, error) {
	if int(n) >= len(b.TRX) {
		return nil, fmt.Errorf("trx %d out of range", n)
	}
	return b.TRX[n], nil
}

// Lookup resolves a full Index into its Lchan.
func (b *BTS) Lookup(idx Index) (*Lchan, error) {
	trx, err := b.TRXAt(idx.TRX)
	if err != nil {
		return nil, err
	}
	ts, err := trx.TSAt(idx.TS)
	if err != nil {
		return nil, err
	}
	return ts.Lchan(idx.Lchan)
}

// SetSI installs a copy-on-write update to one system-information type.
func (b *BTS) SetSI(t SIType, block []byte) {
	next := b.SI.Clone()
	next.Set(t, block)
	b.SI = next
}

// ClearSI clears one system-information type under copy-on-write.
func (b *BTS) ClearSI(t SIType) {
	next := b.SI.Clone()
	next.Clear(t)
	b.SI = next
}

// SetSI2Quater installs one SI2quater instance under copy-on-write.
func (b *BTS) SetSI2Quater(index, count int, block []byte) error {
	next := b.SI.Clone()
	if err := next.SetQuater(index, count, block); err != nil {
		return err
	}
	b.SI = next
	return nil
}

// DependencyFailure transitions every managed object under this BTS to
// AvailDependency, which the BSC treats as unavailable (OML link loss).
func (b *BTS) DependencyFailure() {
	b.OML.Availability = AvailDependency
	for _, trx := range b.TRX {
		trx.OML.Availability = AvailDependency
		trx.OML.Operational = OperDisabled
	}
}
