package gsmtime

import "testing"

func TestNormWraps(t *testing.T) {
	if got := Norm(Hyperframe); got != 0 {
		t.Fatalf("Norm(Hyperframe) = %d, want 0", got)
	}
	if got := Norm(-1); got != Hyperframe-1 {
		t.Fatalf("Norm(-1) = %d, want %d", got, Hyperframe-1)
	}
}

func TestAddWrapsAcrossHyperframe(t *testing.T) {
	fn := FN(Hyperframe - 1)
	if got := fn.Add(1); got != 0 {
		t.Fatalf("Add across wrap = %d, want 0", got)
	}
}

func TestSubShortestDirection(t *testing.T) {
	a := FN(5)
	b := FN(Hyperframe - 5)
	if got := a.Sub(b); got != 10 {
		t.Fatalf("Sub across wrap = %d, want 10", got)
	}
}

func TestGapExpiredDetectsSkippedFrames(t *testing.T) {
	skipped := GapExpired(FN(10), FN(13))
	want := []FN{11, 12}
	if len(skipped) != len(want) {
		t.Fatalf("got %v, want %v", skipped, want)
	}
	for i := range want {
		if skipped[i] != want[i] {
			t.Fatalf("got %v, want %v", skipped, want)
		}
	}
}

func TestGapExpiredAcrossHyperframeWrap(t *testing.T) {
	skipped := GapExpired(FN(Hyperframe-2), FN(1))
	want := []FN{Hyperframe - 1, 0}
	if len(skipped) != len(want) {
		t.Fatalf("got %v, want %v", skipped, want)
	}
	for i := range want {
		if skipped[i] != want[i] {
			t.Fatalf("got %v, want %v", skipped, want)
		}
	}
}

func TestGapExpiredNoGap(t *testing.T) {
	if got := GapExpired(FN(10), FN(11)); got != nil {
		t.Fatalf("no-gap case returned %v, want nil", got)
	}
}

func TestStatsTracksMinMaxAvg(t *testing.T) {
	s := NewStats(4)
	s.Observe(2)
	s.Observe(4)
	s.Observe(6)
	if s.Min != 2 {
		t.Fatalf("Min = %d, want 2", s.Min)
	}
	if s.Max != 6 {
		t.Fatalf("Max = %d, want 6", s.Max)
	}
	if avg := s.Avg256(); avg <= 0 {
		t.Fatalf("Avg256 = %d, want > 0", avg)
	}
}
