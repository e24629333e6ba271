package rsl

import (
	"github.com/rob-gra/osmo-bts-go/meas"
)

// ChanRqd builds the RSL CHAN-RQD the BTS sends toward the BSC on
// every PH-RACH.ind: the request reference (RA plus the RACH burst's
// frame number) and the access delay.
func ChanRqd(ra uint8, fn uint32, accDelay uint8) *Message {
	ref := []byte{ra, byte(fn >> 16), byte(fn >> 8), byte(fn)}
	return NewMessage(DiscCommon, MsgChanRqd).
		Append(TagMSIdentity, ref).
		AppendByte(TagTimingAdvance, accDelay)
}

// CCCHLoadInd builds the transmit-only CCCH-LOAD-IND carrying the PCH
// or AGCH queue load toward the BSC.
func CCCHLoadInd(isPCH bool, load uint16) *Message {
	kind := byte(0)
	if isPCH {
		kind = 1
	}
	return NewMessage(DiscCommon, MsgCCCHLoadInd).
		AppendByte(TagChanNeeded, kind).
		Append(TagCause, []byte{byte(load >> 8), byte(load)})
}

// MeasResultOpts carries the optional blocks riding on a MEAS-RES.
type MeasResultOpts struct {
	// TOA256 supplementary block (Osmocom extension), present when the
	// aggregator produced TOA statistics for the period.
	IncludeTOA256 bool

	// BSPowerAttenDB, when >= 0, adds the BS-Power IE.
	BSPowerAttenDB int

	// L1Info is the two-octet SACCH L1 header (ms_pwr/fpc + ta) from
	// the most recent uplink SACCH, if valid.
	L1Info []byte

	// L3MeasReport is the MS's RR Measurement Report passed through
	// from LAPDm, if one arrived this period.
	L3MeasReport []byte
}

// MeasResult assembles the RSL MEAS-RES message for one concluded
// SACCH period: Uplink-Measurements IE, optional TOA256
// supplementary block, BS-Power, L1-Info and the passed-through L3
// Measurement Report.
func MeasResult(chanNr ChanNr, num uint8, res meas.Result, opts MeasResultOpts) *Message {
	ul := []byte{
		res.RxLevFull & 0x3F,
		res.RxLevSub & 0x3F,
		(res.RxQualFull&0x07)<<3 | res.RxQualSub&0x07,
	}
	m := NewMessage(DiscDedicated, MsgMeasResult).
		WithChanNr(chanNr).
		AppendByte(TagChanNeeded, num). // measurement result number, wraps at 255
		Append(TagUplinkMeas, ul)

	if opts.IncludeTOA256 {
		toa := []byte{
			byte(uint16(res.TOA256Mean) >> 8), byte(res.TOA256Mean),
			byte(uint16(res.TOA256Min) >> 8), byte(res.TOA256Min),
			byte(uint16(res.TOA256Max) >> 8), byte(res.TOA256Max),
			byte(res.TOA256StdDev >> 8), byte(res.TOA256StdDev),
		}
		m.Append(TagActivType, toa)
	}
	if opts.BSPowerAttenDB >= 0 {
		m.AppendByte(TagBSPower, byte(opts.BSPowerAttenDB/2)&0x0F)
	}
	if opts.L1Info != nil {
		m.Append(TagL1Info, opts.L1Info)
	}
	if opts.L3MeasReport != nil {
		m.Append(TagSysinfo, opts.L3MeasReport)
	}
	return m
}
