package sched

import "fmt"

// BlockKind classifies one frame number's role in the 51-multiframe
// control channel schedule (§4.2, GSM 05.02 table 3-of-9).
type BlockKind uint8

const (
	KindFCCH BlockKind = iota
	KindSCH
	KindBCCH
	KindAGCH
	KindPCH
	KindIdle
)

func (k BlockKind) String() string {
	switch k {
	case KindFCCH:
		return "FCCH"
	case KindSCH:
		return "SCH"
	case KindBCCH:
		return "BCCH"
	case KindAGCH:
		return "AGCH"
	case KindPCH:
		return "PCH"
	default:
		return "IDLE"
	}
}

// ccchBlockFrames lists, in block-index order (0..8), the 4 consecutive
// frame-in-multiframe positions each CCCH block occupies on the
// 51-multiframe, per GSM 05.02 table 3-of-9.
var ccchBlockFrames = [9][4]uint32{
	{6, 7, 8, 9},
	{12, 13, 14, 15},
	{16, 17, 18, 19},
	{22, 23, 24, 25},
	{26, 27, 28, 29},
	{32, 33, 34, 35},
	{36, 37, 38, 39},
	{42, 43, 44, 45},
	{46, 47, 48, 49},
}

// fn51Classify returns the block kind and, for CCCH blocks, the block
// index 0..8 (B0..B8).
func fn51Classify(mod51 uint32) (BlockKind, int) {
	switch mod51 {
	case 0, 10, 20, 30, 40:
		return KindFCCH, -1
	case 1, 11, 21, 31, 41:
		return KindSCH, -1
	case 2, 3, 4, 5:
		return KindBCCH, -1
	case 50:
		return KindIdle, -1
	}
	for idx, frames := range ccchBlockFrames {
		for _, f := range frames {
			if f == mod51 {
				return KindPCH, idx // AGCH/PCH split resolved by caller
			}
		}
	}
	// unreachable for mod51 in [0,51): every position is covered above
	return KindIdle, -1
}

// Classify determines the block kind at the given frame number, where
// the first numAGCHBlocks of the 9 CCCH blocks (ordered by block index)
// are AGCH and the remainder are PCH.
func Classify(fn uint32, numAGCHBlocks int) (BlockKind, int, error) {
	if numAGCHBlocks < 0 || numAGCHBlocks > 9 {
		return KindIdle, -1, fmt.Errorf("num_agch_blocks %d out of range [0,9]", numAGCHBlocks)
	}
	kind, idx := fn51Classify(fn % 51)
	if kind != KindPCH {
		return kind, idx, nil
	}
	if idx < numAGCHBlocks {
		return KindAGCH, idx, nil
	}
	return KindPCH, idx, nil
}

// CCCHConf is the SI3 CCCH configuration code (GSM 04.08 §10.5.2.11).
type CCCHConf uint8

const (
	CCCHConfNonCombined1 CCCHConf = 0 // 1 basic physical channel, non-combined
	CCCHConfCombined            = 1 // 1 basic physical channel, combined with SDCCH/4
	CCCHConfNonCombined2         = 2 // 2 basic physical channels, non-combined
	CCCHConfNonCombined3         = 4 // 3 basic physical channels, non-combined
	CCCHConfNonCombined4         = 6 // 4 basic physical channels, non-combined
)

// RACHSlotsPer51 returns the number of RACH slots per 51-multiframe for
// the given CCCH configuration: 3 for combined, 9 per basic physical
// channel otherwise.
func RACHSlotsPer51(conf CCCHConf) (int, error) {
	switch conf {
	case CCCHConfCombined:
		return 3, nil
	case CCCHConfNonCombined1:
		return 9, nil
	case CCCHConfNonCombined2:
		return 18, nil
	case CCCHConfNonCombined3:
		return 27, nil
	case CCCHConfNonCombined4:
		return 36, nil
	default:
		return 0, fmt.Errorf("unsupported ccch_conf %d", conf)
	}
}
