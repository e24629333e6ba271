package rsl

import (
	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
)

// Channel Mode IE layout: octet 0 is the speech-or-data indicator,
// octet 1 the codec-or-rate (GSM 08.58 §9.3.6, condensed to the two
// octets this engine validates).
const (
	spdiSignalling = 0x00
	spdiSpeech     = 0x01
	spdiData       = 0x02

	ratecodeFRv1  = 0x00
	ratecodeFRv2  = 0x01 // EFR
	ratecodeFRv3  = 0x02 // AMR
	ratecodeHRv1  = 0x10
	ratecodeHRv3  = 0x12
	ratecodeData  = 0x20
)

// chanModeFromIE validates the (speech-or-data-indicator, codec-or-rate)
// matrix: any combination outside the table yields
// SERV_OPT_UNAVAIL.
func chanModeFromIE(v []byte) (btsmodel.ChanMode, *CauseError) {
	if len(v) < 2 {
		return 0, NewCauseError(CauseMandIEError, "channel mode IE truncated")
	}
	spdi, rate := v[0], v[1]
	switch spdi {
	case spdiSignalling:
		return btsmodel.ModeSignalling, nil
	case spdiSpeech:
		switch rate {
		case ratecodeFRv1, ratecodeHRv1:
			return btsmodel.ModeSpeechV1, nil
		case ratecodeFRv2:
			return btsmodel.ModeSpeechV2EFR, nil
		case ratecodeFRv3, ratecodeHRv3:
			return btsmodel.ModeSpeechV3AMR, nil
		}
	case spdiData:
		if rate == ratecodeData {
			return btsmodel.ModeData, nil
		}
	}
	return 0, NewCauseError(CauseServOptUnavail, "unsupported chan mode spdi=0x%02x rate=0x%02x", spdi, rate)
}

func (e *Engine) handleChanActiv(m *Message, idx btsmodel.Index, lchan *btsmodel.Lchan) error {
	modeIE, ok := m.Get(TagChanMode)
	if !ok {
		return e.link.Send(ChanActivNack(m.ChanNr, CauseMandIEError))
	}
	mode, cerr := chanModeFromIE(modeIE)
	if cerr != nil {
		return e.link.Send(ChanActivNack(m.ChanNr, cerr.Cause))
	}

	// MultiRate config only makes sense on AMR.
	mrIE, haveMR := m.Get(TagMultirate)
	if haveMR && mode != btsmodel.ModeSpeechV3AMR {
		return e.link.Send(ChanActivNack(m.ChanNr, CauseServOptUnimpl))
	}

	// Reactivation reuses an already-active lchan without a PHY
	// round-trip.
	if _, react := m.GetByte(TagReactivate); react && lchan.State == btsmodel.StateActive {
		lchan.Mode = mode
		return e.link.Send(e.chanActivAck(m.ChanNr))
	}

	if lchan.State != btsmodel.StateNone {
		return e.link.Send(ChanActivNack(m.ChanNr, CauseRRUnavail))
	}

	lchan.Mode = mode
	_ = mrIE // stored with the mode; codec negotiation itself is PHY business

	if enc, ok := m.Get(TagEncrInfo); ok {
		if err := applyEncrInfo(lchan, enc); err != nil {
			return e.link.Send(ChanActivNack(m.ChanNr, CauseIEContent))
		}
	}
	if ta, ok := m.GetByte(TagTimingAdvance); ok {
		if err := btsmodel.TA(ta).Validate(); err != nil {
			return e.link.Send(ChanActivNack(m.ChanNr, CauseIEContent))
		}
		lchan.TAControl.Current = btsmodel.TA(ta)
		lchan.TAControl.Target = btsmodel.TA(ta)
	}
	if pwr, ok := m.GetByte(TagMSPower); ok {
		lchan.MS.Current = pwr & 0x1F
		lchan.MS.Max = pwr & 0x1F
	}
	if pwr, ok := m.GetByte(TagBSPower); ok {
		lchan.BS.CurrentAttenDB = (pwr & 0x0F) * 2
	}
	if params, ok := m.Get(TagPowerParams); ok {
		pp, err := decodePowerParams(params)
		if err != nil {
			return e.link.Send(ChanActivNack(m.ChanNr, CauseIEContent))
		}
		lchan.MS.Params = pp
	}
	if si, ok := m.Get(TagSACCHInfo); ok {
		lchan.SACCHSI = [][]byte{append([]byte(nil), si...)}
	}
	if ho, ok := m.GetByte(TagHandoverRef); ok {
		_ = ho
		lchan.Handover = btsmodel.HOWaitFrame
	}

	if err := lchan.Transition(btsmodel.StateActReq); err != nil {
		return e.link.Send(ChanActivNack(m.ChanNr, CauseEquipmentFail))
	}
	if err := e.phy.LchanActivate(idx); err != nil {
		_ = lchan.Transition(btsmodel.StateNone)
		return e.link.Send(ChanActivNack(m.ChanNr, CauseEquipmentFail))
	}
	return nil
}

// ActivateCnf completes channel activation when MPH-ACTIVATE.cnf
// arrives from the PHY. cause 0 is success.
func (e *Engine) ActivateCnf(idx btsmodel.Index, cause uint8) error {
	lchan, err := e.bts.Lookup(idx)
	if err != nil {
		return err
	}
	chanNr := e.chanNrFor(lchan)
	if lchan.State != btsmodel.StateActReq {
		e.log.Warn("activate.cnf for lchan %s in state %s", idx, lchan.State)
		return nil
	}
	if cause != 0 {
		_ = lchan.Transition(btsmodel.StateNone)
		return e.link.Send(ChanActivNack(chanNr, CauseEquipmentFail))
	}
	if err := lchan.Transition(btsmodel.StateActive); err != nil {
		return err
	}
	lchan.AdoptSACCHSI(e.globalSACCHSI())

	if lchan.EarlyIA != nil {
		block := lchan.EarlyIA
		lchan.EarlyIA = nil
		if err := e.agch.Enqueue(block); err != nil {
			_ = e.link.Send(DeleteInd(block))
		}
	}
	return e.link.Send(e.chanActivAck(chanNr))
}

// globalSACCHSI assembles the BTS-global SACCH SI buffers (SI5 family
// plus SI6) for lchans that did not get their own in CHAN-ACTIV.
func (e *Engine) globalSACCHSI() [][]byte {
	si := e.bts.SI
	out := make([][]byte, sacchSISlots)
	for i, t := range []btsmodel.SIType{btsmodel.SI5, btsmodel.SI5bis, btsmodel.SI5ter, btsmodel.SI6} {
		if si.Buf[t].Valid {
			out[i] = append([]byte(nil), si.Buf[t].Block[:]...)
		}
	}
	return out
}

func (e *Engine) chanActivAck(chanNr ChanNr) *Message {
	// starting time = the next acceptable frame number
	fn := e.nextFN()
	return NewMessage(DiscDedicated, MsgChanActivAck).
		WithChanNr(chanNr).
		Append(TagActivType, EncodeStartingTime(fn))
}

// nextFN is overridable for tests; by default it asks the BTS clock via
// the scheduler-installed hook.
var defaultNextFN = func() gsmtime.FN { return 0 }

// SetClockSource installs the scheduler's frame clock so starting-time
// IEs reflect real time.
func (e *Engine) SetClockSource(fn func() gsmtime.FN) { e.clock = fn }

func (e *Engine) nextFN() gsmtime.FN {
	if e.clock != nil {
		return e.clock().Add(1)
	}
	return defaultNextFN()
}

// EncodeStartingTime packs a frame number into the 2-octet Starting
// Time IE: T1'(5) T3(6) T2(5) per GSM 04.08 §10.5.2.38.
func EncodeStartingTime(fn gsmtime.FN) []byte {
	t1 := (uint32(fn) / 1326) % 32
	t2 := uint32(fn) % 26
	t3 := uint32(fn) % 51
	v := t1<<11 | t3<<5 | t2
	return []byte{byte(v >> 8), byte(v)}
}

// DecodeStartingTime unpacks a Starting Time IE into its (T1', T2, T3)
// components.
func DecodeStartingTime(v []byte) (t1, t2, t3 uint32, ok bool) {
	if len(v) != 2 {
		return 0, 0, 0, false
	}
	w := uint32(v[0])<<8 | uint32(v[1])
	return w >> 11, w & 0x1F, (w >> 5) & 0x3F, true
}

func (e *Engine) handleRFChanRel(m *Message, idx btsmodel.Index, lchan *btsmodel.Lchan) error {
	if lchan.State != btsmodel.StateActive {
		// releasing an already-released channel is answered directly
		return e.link.Send(NewMessage(DiscDedicated, MsgRFChanRelAck).WithChanNr(m.ChanNr))
	}
	if err := lchan.Transition(btsmodel.StateRelReq); err != nil {
		return err
	}
	lchan.ClearOnRelease()
	if err := e.phy.LchanDeactivate(idx); err != nil {
		_ = lchan.Transition(btsmodel.StateBroken)
		return e.link.Send(ErrorReport(CauseEquipmentFail, m.Encode()))
	}
	return nil
}

// DeactivateCnf completes channel release on MPH-DEACTIVATE.cnf:
// REL_REQ -> NONE, then REL-ACK toward the BSC.
func (e *Engine) DeactivateCnf(idx btsmodel.Index) error {
	lchan, err := e.bts.Lookup(idx)
	if err != nil {
		return err
	}
	chanNr := e.chanNrFor(lchan)
	if lchan.State != btsmodel.StateRelReq {
		e.log.Warn("deactivate.cnf for lchan %s in state %s", idx, lchan.State)
		return nil
	}
	if err := lchan.Transition(btsmodel.StateNone); err != nil {
		return err
	}
	return e.link.Send(NewMessage(DiscDedicated, MsgRFChanRelAck).WithChanNr(chanNr))
}

// PHYTimeout handles an activation/deactivation that never confirmed:
// the lchan goes BROKEN and stays there.
func (e *Engine) PHYTimeout(idx btsmodel.Index) {
	lchan, err := e.bts.Lookup(idx)
	if err != nil {
		return
	}
	e.log.Error("PHY timeout on lchan %s in state %s", idx, lchan.State)
	_ = lchan.Transition(btsmodel.StateBroken)
}

// applyEncrInfo parses the Encryption Information IE: algorithm octet
// followed by the key.
func applyEncrInfo(lchan *btsmodel.Lchan, v []byte) error {
	if len(v) < 1 || len(v)-1 > btsmodel.MaxCipherKeyLen {
		return NewCauseError(CauseIEContent, "encryption info length %d", len(v))
	}
	algo := v[0]
	if algo > 7 {
		return NewCauseError(CauseIEContent, "cipher algorithm %d out of range", algo)
	}
	lchan.Cipher = btsmodel.Cipher{Algo: btsmodel.CipherAlgo(algo)}
	copy(lchan.Cipher.Key[:], v[1:])
	lchan.Cipher.KeyLen = uint8(len(v) - 1)
	return nil
}

func (e *Engine) handleEncrCmd(m *Message, idx btsmodel.Index, lchan *btsmodel.Lchan) error {
	enc, ok := m.Get(TagEncrInfo)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	if err := applyEncrInfo(lchan, enc); err != nil {
		return e.link.Send(ErrorReport(CauseIEContent, m.Encode()))
	}
	// Rx deciphering starts immediately; Tx waits for the first
	// ciphered uplink I-frame.
	lchan.Cipher.RxEnabled = true

	l3, ok := m.Get(TagSysinfo)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	lchan.Ciph = btsmodel.CiphWatch{Watching: true, ExpectNS: 0}
	return e.dl.DataReq(idx, 0, l3)
}

// UplinkIFrame is called by the LAPDm glue for every uplink I-frame.
// When the N(S) the ENCR-CMD handler armed is seen, Tx ciphering is
// switched on and the PHY told to start ciphering downlink.
func (e *Engine) UplinkIFrame(idx btsmodel.Index, ns uint8) error {
	lchan, err := e.bts.Lookup(idx)
	if err != nil {
		return err
	}
	if !lchan.Ciph.Watching || ns != lchan.Ciph.ExpectNS {
		return nil
	}
	lchan.Ciph.Watching = false
	lchan.Cipher.TxEnabled = true
	return e.phy.ActivateCipher(idx, true)
}

func (e *Engine) handleModeModify(m *Message, idx btsmodel.Index, lchan *btsmodel.Lchan) error {
	modeIE, ok := m.Get(TagChanMode)
	if !ok {
		return e.link.Send(ModeModifyNack(m.ChanNr, CauseMandIEError))
	}
	mode, cerr := chanModeFromIE(modeIE)
	if cerr != nil {
		return e.link.Send(ModeModifyNack(m.ChanNr, cerr.Cause))
	}
	if _, haveMR := m.Get(TagMultirate); haveMR && mode != btsmodel.ModeSpeechV3AMR {
		return e.link.Send(ModeModifyNack(m.ChanNr, CauseServOptUnimpl))
	}
	if lchan.State != btsmodel.StateActive {
		return e.link.Send(ModeModifyNack(m.ChanNr, CauseRRUnavail))
	}
	lchan.Mode = mode
	if err := e.phy.LchanModify(idx, mode); err != nil {
		return e.link.Send(ModeModifyNack(m.ChanNr, CauseEquipmentFail))
	}
	return e.link.Send(NewMessage(DiscDedicated, MsgModeModifyAck).WithChanNr(m.ChanNr))
}

// chanNrFor rebuilds the 08.58 channel-number octet from the model
// index and channel type (the inverse of idxFromChanNr). SDCCH
// sub-slot encoding depends on whether the timeslot is SDCCH/4 or
// SDCCH/8, so the TS configuration decides.
func (e *Engine) chanNrFor(lchan *btsmodel.Lchan) ChanNr {
	idx := lchan.Index
	var cbits uint8
	switch lchan.Type {
	case btsmodel.ChanTCHFull:
		cbits = 0x01
	case btsmodel.ChanTCHHalf:
		cbits = 0x02 | (idx.Lchan & 0x01)
	case btsmodel.ChanSDCCH:
		cbits = 0x08 | (idx.Lchan & 0x07)
		if trx, err := e.bts.TRXAt(idx.TRX); err == nil {
			if ts, err := trx.TSAt(idx.TS); err == nil && ts.PchanIs == btsmodel.PchanCCCHSDCCH4 {
				cbits = 0x04 | (idx.Lchan & 0x03)
			}
		}
	case btsmodel.ChanCCCH:
		cbits = 0x12
	default:
		cbits = 0x08 | (idx.Lchan & 0x07)
	}
	return ChanNr(cbits<<3 | idx.TS&0x07)
}
