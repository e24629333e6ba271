package sched

import "github.com/rob-gra/osmo-bts-go/btsmodel"

// MFEntry names the logical channel and burst position scheduled at one
// frame of a multiframe table.
type MFEntry struct {
	Chan       btsmodel.ChanType
	BurstIndex int // 0..3 for xCCH, 0 for TCH-per-frame types
}

// MFTable is a static schedule of length 51 (control) or 26 (traffic).
type MFTable struct {
	Name    string
	Period  uint32
	Entries []MFEntry
}

// At returns the entry scheduled at the given absolute frame number.
func (t *MFTable) At(fn uint32) MFEntry {
	return t.Entries[fn%t.Period]
}

// Standard table indices, looked up via ts.MFIndex.
const (
	MFIdxCCCHCombined = iota // CCCH+SDCCH/4+CBCH, combined BCCH carrier
	MFIdxCCCHOnly            // CCCH only (non-combined BCCH carrier)
	MFIdxSDCCH8              // SDCCH/8
	MFIdxTCHFull             // TCH/F + its SACCH
	MFIdxTCHHalf             // TCH/H x2 + their SACCHs
	mfTableCount
)

func buildXCCH(period uint32, spans map[uint32]btsmodel.ChanType) []MFEntry {
	e := make([]MFEntry, period)
	burst := map[btsmodel.ChanType]int{}
	for fn := uint32(0); fn < period; fn++ {
		c, ok := spans[fn]
		if !ok {
			e[fn] = MFEntry{Chan: btsmodel.ChanNone}
			continue
		}
		e[fn] = MFEntry{Chan: c, BurstIndex: burst[c] % 4}
		burst[c]++
	}
	return e
}

// StandardTables returns the static multiframe tables indexed by
// MFIdx*. Each call builds a fresh set; the scheduler builds its own
// in New and never modifies it.
func StandardTables() [mfTableCount]*MFTable {
	var tabs [mfTableCount]*MFTable

	// CCCH+SDCCH/4+CBCH combined (51-multiframe): blocks 0-1 CCCH,
	// blocks 2-5 SDCCH/4 subchannels 0-3, the 6th slot's block carries
	// CBCH. Modelled coarsely: only the channel type changes per
	// 4-frame group; the RSL/paging layer resolves sub-addressing.
	combinedSpans := map[uint32]btsmodel.ChanType{}
	for _, f := range ccchBlockFrames[0] {
		combinedSpans[f] = btsmodel.ChanCCCH
	}
	for _, f := range ccchBlockFrames[1] {
		combinedSpans[f] = btsmodel.ChanCCCH
	}
	for i := 2; i <= 5; i++ {
		for _, f := range ccchBlockFrames[i] {
			combinedSpans[f] = btsmodel.ChanSDCCH
		}
	}
	for _, f := range ccchBlockFrames[6] {
		combinedSpans[f] = btsmodel.ChanCBCH
	}
	tabs[MFIdxCCCHCombined] = &MFTable{Name: "CCCH+SDCCH/4+CBCH", Period: 51, Entries: buildXCCH(51, combinedSpans)}

	ccchOnly := map[uint32]btsmodel.ChanType{}
	for _, blk := range ccchBlockFrames {
		for _, f := range blk {
			ccchOnly[f] = btsmodel.ChanCCCH
		}
	}
	tabs[MFIdxCCCHOnly] = &MFTable{Name: "CCCH", Period: 51, Entries: buildXCCH(51, ccchOnly)}

	sdcch8 := map[uint32]btsmodel.ChanType{}
	for fn := uint32(0); fn < 51; fn++ {
		if fn == 25 || fn == 50 {
			continue // idle frames on SDCCH/8 table
		}
		sdcch8[fn] = btsmodel.ChanSDCCH
	}
	tabs[MFIdxSDCCH8] = &MFTable{Name: "SDCCH/8", Period: 51, Entries: buildXCCH(51, sdcch8)}

	// TCH/F 26-multiframe: frames 0-11 and 13-24 carry TCH, frame 12
	// carries SACCH, frame 25 is idle.
	tchFull := make([]MFEntry, 26)
	for fn := 0; fn < 26; fn++ {
		switch fn {
		case 12:
			tchFull[fn] = MFEntry{Chan: btsmodel.ChanSACCH}
		case 25:
			tchFull[fn] = MFEntry{Chan: btsmodel.ChanNone}
		default:
			tchFull[fn] = MFEntry{Chan: btsmodel.ChanTCHFull}
		}
	}
	tabs[MFIdxTCHFull] = &MFTable{Name: "TCH/F", Period: 26, Entries: tchFull}

	tchHalf := make([]MFEntry, 26)
	for fn := 0; fn < 26; fn++ {
		switch fn {
		case 12, 25:
			tchHalf[fn] = MFEntry{Chan: btsmodel.ChanSACCH}
		default:
			tchHalf[fn] = MFEntry{Chan: btsmodel.ChanTCHHalf}
		}
	}
	tabs[MFIdxTCHHalf] = &MFTable{Name: "TCH/H", Period: 26, Entries: tchHalf}

	return tabs
}
