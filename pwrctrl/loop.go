package pwrctrl

import (
	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/meas"
)

// CodecMode selects the optional Osmocom C/I threshold set applied to a
// loop.
type CodecMode uint8

const (
	CodecFR CodecMode = iota
	CodecHR
	CodecAMRFR
	CodecAMRHR
	CodecSDCCH
	CodecGPRS
)

// CIThresholds is one codec mode's C/I target window in centibels.
type CIThresholds struct {
	LowerCB int
	UpperCB int
}

// MSLoop is the uplink (MS transmit) power control loop. It runs only
// when CHAN-ACTIV carried an MS-Power-Parameters IE; otherwise the
// power stays clamped at the static BSC-commanded value.
type MSLoop struct {
	Params btsmodel.PowerParams
	Pre    Preprocessor

	// CI, when non-nil, adds the Osmocom C/I criterion for the given
	// codec mode.
	CI   *CIThresholds

	levWindow  []int
	qualWindow []int
	sacchCount uint8
}

// windowMax bounds the preprocessing window (one control interval's
// worth of SACCH periods is plenty).
const windowMax = 8

// Decide folds in one SACCH period's aggregated measurement and returns
// the new MS power level. ciCB is the period's mean carrier-to-
// interference ratio in centibels (used only when CI thresholds are
// configured). Levels are GSM power-control levels where a LOWER number
// means MORE output power, so "increase power" decrements the level.
func (l *MSLoop) Decide(current, max uint8, res meas.Result, ciCB int) uint8 {
	if !l.Params.Enabled {
		return current
	}
	l.levWindow = pushWindow(l.levWindow, int(res.RxLevFull))
	l.qualWindow = pushWindow(l.qualWindow, int(res.RxQualFull))

	l.sacchCount++
	interval := l.Params.IntervalSacch
	if interval == 0 {
		interval = 1
	}
	if l.sacchCount < interval {
		return current
	}
	l.sacchCount = 0

	lev := l.Pre.Process(l.levWindow)
	qual := l.Pre.Process(l.qualWindow)

	wantMore := lev < int(110+int(l.Params.RxLevLower)) || qual > int(l.Params.RxQualUpper)
	wantLess := lev > int(110+int(l.Params.RxLevUpper)) && qual <= int(l.Params.RxQualLower)
	if l.CI != nil {
		if ciCB < l.CI.LowerCB {
			wantMore, wantLess = true, false
		} else if ciCB > l.CI.UpperCB {
			wantMore = false
		}
	}

	switch {
	case wantMore:
		step := l.Params.IncreaseStepDB / 2 // 2 dB per power-control level
		if step == 0 {
			step = 1
		}
		next := int(current) - int(step)
		if next < int(max) {
			next = int(max)
		}
		return uint8(next)
	case wantLess:
		step := l.Params.ReduceStepDB / 2
		if step == 0 {
			step = 1
		}
		next := int(current) + int(step)
		const weakest = 31
		if next > weakest {
			next = weakest
		}
		return uint8(next)
	default:
		return current
	}
}

// BSLoop is the downlink (BS transmit) power control loop, operating on
// attenuation in dB below nominal TRX power.
type BSLoop struct {
	Params btsmodel.PowerParams
	Pre    Preprocessor

	// C0CeilingDB caps the attenuation on the BCCH carrier so it stays
	// reachable for cell (re)selection.
	C0CeilingDB uint8

	levWindow  []int
	sacchCount uint8
}

// Decide folds in one SACCH period's downlink measurement (as reported
// by the MS) and returns the new attenuation.
func (l *BSLoop) Decide(currentAttenDB, maxAttenDB uint8, rxLev uint8) uint8 {
	if !l.Params.Enabled {
		return currentAttenDB
	}
	l.levWindow = pushWindow(l.levWindow, int(rxLev))

	l.sacchCount++
	interval := l.Params.IntervalSacch
	if interval == 0 {
		interval = 1
	}
	if l.sacchCount < interval {
		return currentAttenDB
	}
	l.sacchCount = 0

	lev := l.Pre.Process(l.levWindow)

	ceiling := maxAttenDB
	if l.C0CeilingDB != 0 && l.C0CeilingDB < ceiling {
		ceiling = l.C0CeilingDB
	}

	switch {
	case lev < int(110+int(l.Params.RxLevLower)):
		// MS hears us too weakly: reduce attenuation
		step := l.Params.IncreaseStepDB
		if step == 0 {
			step = 2
		}
		if int(currentAttenDB) <= int(step) {
			return 0
		}
		return currentAttenDB - step
	case lev > int(110+int(l.Params.RxLevUpper)):
		step := l.Params.ReduceStepDB
		if step == 0 {
			step = 2
		}
		next := currentAttenDB + step
		if next > ceiling {
			next = ceiling
		}
		return next
	default:
		return currentAttenDB
	}
}

func pushWindow(w []int, v int) []int {
	w = append(w, v)
	if len(w) > windowMax {
		w = w[len(w)-windowMax:]
	}
	return w
}
