// Package gsmtime implements the GSM TDMA frame-number clock: a
// monotonic counter modulo 2715648 (one GSM hyperframe, ~3.48 hours)
// advanced exclusively by MPH-INFO.ind(TIME) from the PHY, plus the
// per-BTS fn_stats drift tracker the scheduler uses to size its RTS
// lookahead.
package gsmtime

import "fmt"

// Hyperframe is the GSM TDMA frame-number modulus (3GPP TS 05.02 §4.3.3).
const Hyperframe = 2715648

// FN is a GSM TDMA frame number, always kept in [0, Hyperframe).
type FN uint32

// Norm reduces a frame number modulo the hyperframe.
func Norm(fn int64) FN {
	fn %= Hyperframe
	if fn < 0 {
		fn += Hyperframe
	}
	return FN(fn)
}

// Add returns fn+delta, wrapping at the hyperframe boundary. delta may
// be negative.
func (fn FN) Add(delta int64) FN {
	return Norm(int64(fn) + delta)
}

// Sub returns the signed frame distance fn-other in [-Hyperframe/2,
// Hyperframe/2], the shortest direction around the hyperframe wrap.
func (fn FN) Sub(other FN) int64 {
	d := int64(fn) - int64(other)
	switch {
	case d > Hyperframe/2:
		d -= Hyperframe
	case d < -Hyperframe/2:
		d += Hyperframe
	}
	return d
}

// Mod51 returns fn mod 51, the position within a control-channel
// multiframe.
func (fn FN) Mod51() uint32 { return uint32(fn) % 51 }

// Mod26 returns fn mod 26, the position within a traffic-channel
// multiframe.
func (fn FN) Mod26() uint32 { return uint32(fn) % 26 }

// Mod104 returns fn mod 104, used for SACCH period boundary detection.
func (fn FN) Mod104() uint32 { return uint32(fn) % 104 }

func (fn FN) String() string { return fmt.Sprintf("fn=%d", uint32(fn)) }

// Stats is the per-BTS fn_stats drift tracker: a running min/max/mean
// of (rts_fn - current_fn) observed across all PH-RTS.ind deliveries,
// used to detect a PHY whose RTS lookahead has drifted.
type Stats struct {
	Min, Max   int32
	avgWindow  int32
	avgCount   uint32
	avgAccum256 int64
}

// NewStats creates a tracker that keeps a moving average over the given
// window size (number of samples).
func NewStats(avgWindow int32) *Stats {
	if avgWindow <= 0 {
		avgWindow = 1
	}
	return &Stats{Min: 1 << 30, Max: -(1 << 30), avgWindow: avgWindow}
}

// Observe folds in one (rts_fn - current_fn) delta sample.
func (s *Stats) Observe(delta int32) {
	if delta < s.Min {
		s.Min = delta
	}
	if delta > s.Max {
		s.Max = delta
	}
	s.avgAccum256 += int64(delta) * 256
	s.avgCount++
	if s.avgCount > uint32(s.avgWindow) {
		// drop the oldest contribution's weight, approximating a
		// sliding window without retaining the sample history
		s.avgAccum256 -= s.avgAccum256 / int64(s.avgCount)
		s.avgCount--
	}
}

// Avg256 returns the current average delta scaled by 256 (matching the
// fixed-point convention the rest of the measurement code uses).
func (s *Stats) Avg256() int32 {
	if s.avgCount == 0 {
		return 0
	}
	return int32(s.avgAccum256 / int64(s.avgCount))
}

// GapExpired reports the frame numbers, if any, between the previous
// frame and the new one that must be treated as skipped (e.g. their
// RACH slots marked expired): any jump of more than one FN.
func GapExpired(prev, next FN) []FN {
	delta := next.Sub(prev)
	if delta <= 1 {
		return nil
	}
	skipped := make([]FN, 0, delta-1)
	for fn := prev.Add(1); fn != next; fn = fn.Add(1) {
		skipped = append(skipped, fn)
	}
	return skipped
}
