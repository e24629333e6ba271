package meas

// RadioLinkTimeout tracks the per-lchan radio link timeout counter S
// (§4.6, 3GPP TS 05.08): it starts at the OML-configured value,
// decrements by 1 on a bad SACCH period, increments by 2 on a good one
// (clamped to max), and fires exactly once on reaching 0. A timeout of
// -1 disables the mechanism entirely.
type RadioLinkTimeout struct {
	Max     int8
	Counter int8
	fired   bool
}

// NewRadioLinkTimeout creates a counter initialized to max (4..64), or a
// disabled counter if max == -1.
func NewRadioLinkTimeout(max int8) *RadioLinkTimeout {
	return &RadioLinkTimeout{Max: max, Counter: max}
}

// Disabled reports whether the mechanism is switched off.
func (r *RadioLinkTimeout) Disabled() bool { return r.Max == -1 }

// Good folds in a good SACCH period: +2, clamped to Max. It re-arms the
// fired flag so a later run of bad periods can fire CONN-FAIL again.
func (r *RadioLinkTimeout) Good() {
	if r.Disabled() {
		return
	}
	r.Counter += 2
	if r.Counter > r.Max {
		r.Counter = r.Max
	}
	r.fired = false
}

// Bad folds in a bad SACCH period: -1. It reports shouldFireConnFail
// true exactly once, the first time Counter reaches 0 or below.
func (r *RadioLinkTimeout) Bad() (shouldFireConnFail bool) {
	if r.Disabled() {
		return false
	}
	r.Counter--
	if r.Counter <= 0 && !r.fired {
		r.fired = true
		return true
	}
	return false
}
