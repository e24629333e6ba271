// Package meas implements the per-lchan uplink measurement aggregator:
// SACCH-period boundary detection (robust to missed detections), the
// rx_lev/rx_qual/TOA256 aggregation arithmetic (integer mean/variance,
// truncated stddev), and the radio link timeout counter S.
package meas

import (
	"math"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
)

// PeriodFrames is the SACCH period length, 104 frames (3GPP TS 45.008).
const PeriodFrames = 104

// Offset computes the 104-frame phase at which a lchan's SACCH period
// boundary falls: each logical channel's boundary is spread evenly
// across the 104-frame window, the SACCH-multiplexing rule 3GPP TS
// 45.008 §8 builds its per-timeslot tables from.
func Offset(chanType btsmodel.ChanType, tsIndex, subslot uint8) uint32 {
	base := (uint32(tsIndex) * 13) % PeriodFrames
	switch chanType {
	case btsmodel.ChanTCHHalf:
		return (base + uint32(subslot)*52) % PeriodFrames
	case btsmodel.ChanSDCCH:
		return (base + uint32(subslot)*13) % PeriodFrames
	default: // TCH/F and others: one boundary per TS, no subslot spread
		return base
	}
}

// IsPeriodEnd reports whether fn is a period boundary for the given
// offset.
func IsPeriodEnd(fn gsmtime.FN, offset uint32) bool {
	return fn.Mod104() == offset
}

// IsMeasOverdue returns the first period boundary strictly after
// lastProcessed and before currentFN, if any was skipped (when several
// were skipped, the earliest is returned); it detects
// skipped periods across the hyperframe wrap. It is O(1): it computes
// the next boundary after lastProcessed directly rather than scanning
// frame by frame.
func IsMeasOverdue(offset uint32, lastProcessed, currentFN gsmtime.FN) (missed gsmtime.FN, ok bool) {
	span := currentFN.Sub(lastProcessed)
	if span <= 0 {
		return 0, false
	}
	delta := int64(offset) - int64(lastProcessed.Mod104())
	if delta <= 0 {
		delta += PeriodFrames
	}
	if delta >= span {
		return 0, false
	}
	return lastProcessed.Add(delta), true
}

// Result is one concluded SACCH period's aggregation.
type Result struct {
	NumSamples int

	RxLevFull uint8
	RxQualFull uint8
	RxLevSub  uint8
	RxQualSub uint8

	TOA256Min, TOA256Max, TOA256Mean int16
	TOA256StdDev                     uint16
}

// ber10kByRxqualUpper is the left column of 3GPP TS 05.08 §8.2.4's
// table (without-SACCH-frame variant).
var ber10kByRxqualUpper = [8]uint16{0, 20, 40, 80, 160, 320, 640, 1280}

// RxQualFromBer10k maps a mean BER (x10^4) to the RXQUAL value 0..7:
// the highest quality class whose upper bound the BER has reached or
// exceeded (§4.6, 3GPP TS 05.08 §8.2.4).
func RxQualFromBer10k(ber10k uint32) uint8 {
	q := uint8(0)
	for i, upper := range ber10kByRxqualUpper {
		if ber10k >= uint32(upper) {
			q = uint8(i)
		}
	}
	return q
}

func aggregateSubset(samples []btsmodel.MeasSample) (rxLev, rxQual uint8, toaMin, toaMax, toaMean int16, toaStd uint16, ok bool) {
	if len(samples) == 0 {
		return 0, 0, 0, 0, 0, 0, false
	}
	var rssiSum int64
	var berSum uint64
	toaMin = samples[0].TOA256
	toaMax = samples[0].TOA256
	var toaSum int64
	for _, s := range samples {
		rssiSum += int64(s.RSSI)
		berSum += uint64(s.Ber10k)
		toaSum += int64(s.TOA256)
		if s.TOA256 < toaMin {
			toaMin = s.TOA256
		}
		if s.TOA256 > toaMax {
			toaMax = s.TOA256
		}
	}
	n := int64(len(samples))
	avgRSSI := rssiSum / n
	rxLev = uint8(110 - avgRSSI)
	rxQual = RxQualFromBer10k(uint32(berSum / uint64(n)))

	toaMeanI := toaSum / n
	toaMean = int16(toaMeanI)
	var sumSqDev int64
	for _, s := range samples {
		d := int64(s.TOA256) - toaMeanI
		sumSqDev += d * d
	}
	variance := sumSqDev / n
	toaStd = uint16(math.Sqrt(float64(variance)))
	return rxLev, rxQual, toaMin, toaMax, toaMean, toaStd, true
}

// TakePeriod concludes one SACCH period for an lchan: it aggregates
// and drains the sample ring and records the boundary, so a subsequent
// IsMeasOverdue starts from this period's end.
func TakePeriod(l *btsmodel.Lchan, periodEnd gsmtime.FN, dtxActive bool) (Result, bool) {
	m := &l.Meas
	res, ok := Aggregate(m.Ring[:m.Count], dtxActive)
	m.Count = 0
	m.LastPeriodEndFN = uint32(periodEnd)
	m.HavePeriodEndFN = true
	return res, ok
}

// Aggregate computes a Result over one concluded SACCH period's
// samples. dtxActive selects whether rx_lev_sub/rx_qual_sub are computed
// from the is_sub subset (DTX) or simply mirror the full values.
func Aggregate(samples []btsmodel.MeasSample, dtxActive bool) (Result, bool) {
	rxLev, rxQual, toaMin, toaMax, toaMean, toaStd, ok := aggregateSubset(samples)
	if !ok {
		return Result{}, false
	}
	res := Result{
		NumSamples: len(samples),
		RxLevFull:  rxLev,
		RxQualFull: rxQual,
		TOA256Min:  toaMin,
		TOA256Max:  toaMax,
		TOA256Mean: toaMean,
		TOA256StdDev: toaStd,
	}
	if !dtxActive {
		res.RxLevSub, res.RxQualSub = rxLev, rxQual
		return res, true
	}
	var sub []btsmodel.MeasSample
	for _, s := range samples {
		if s.IsSub {
			sub = append(sub, s)
		}
	}
	if len(sub) == 0 {
		res.RxLevSub, res.RxQualSub = rxLev, rxQual
		return res, true
	}
	subLev, subQual, _, _, _, _, _ := aggregateSubset(sub)
	res.RxLevSub, res.RxQualSub = subLev, subQual
	return res, true
}
