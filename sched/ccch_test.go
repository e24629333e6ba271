package sched

import "testing"

func TestClassifyFixedPositions(t *testing.T) {
	cases := map[uint32]BlockKind{
		0: KindFCCH, 10: KindFCCH, 20: KindFCCH, 30: KindFCCH, 40: KindFCCH,
		1: KindSCH, 11: KindSCH, 21: KindSCH, 31: KindSCH, 41: KindSCH,
		2: KindBCCH, 3: KindBCCH, 4: KindBCCH, 5: KindBCCH,
		50: KindIdle,
	}
	for fn, want := range cases {
		got, _, err := Classify(fn, 1)
		if err != nil {
			t.Fatalf("fn=%d: %v", fn, err)
		}
		if got != want {
			t.Errorf("fn=%d: got %v, want %v", fn, got, want)
		}
	}
}

func TestClassifyCoversEveryFrame(t *testing.T) {
	for fn := uint32(0); fn < 51; fn++ {
		if _, _, err := Classify(fn, 1); err != nil {
			t.Fatalf("fn=%d: %v", fn, err)
		}
	}
}

func TestClassifyAGCHPCHSplit(t *testing.T) {
	// With numAGCHBlocks=2, block indices 0 and 1 are AGCH, 2..8 are PCH.
	agchFrames := []uint32{6, 7, 8, 9, 12, 13, 14, 15}
	for _, fn := range agchFrames {
		kind, idx, err := Classify(fn, 2)
		if err != nil || kind != KindAGCH {
			t.Errorf("fn=%d: got kind=%v idx=%d err=%v, want AGCH", fn, kind, idx, err)
		}
	}
	pchFrames := []uint32{16, 17, 18, 19, 46, 47, 48, 49}
	for _, fn := range pchFrames {
		kind, _, err := Classify(fn, 2)
		if err != nil || kind != KindPCH {
			t.Errorf("fn=%d: got kind=%v, want PCH", fn, kind)
		}
	}
}

func TestClassifyZeroAGCHBlocksAllPCH(t *testing.T) {
	for _, frames := range ccchBlockFrames {
		for _, fn := range frames {
			kind, _, err := Classify(fn, 0)
			if err != nil || kind != KindPCH {
				t.Errorf("fn=%d: got %v, want PCH with 0 agch blocks", fn, kind)
			}
		}
	}
}

func TestRACHSlotsPer51(t *testing.T) {
	got, err := RACHSlotsPer51(CCCHConfCombined)
	if err != nil || got != 3 {
		t.Fatalf("combined: got %d, %v, want 3", got, err)
	}
	got, err = RACHSlotsPer51(CCCHConfNonCombined4)
	if err != nil || got != 36 {
		t.Fatalf("non-combined x4: got %d, %v, want 36", got, err)
	}
}
