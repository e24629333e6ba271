package rsl

import (
	"fmt"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
	"github.com/rob-gra/osmo-bts-go/paging"
)

// Link is the A-bis side of the engine: "the thing you hand an encoded
// message to", one per TRX RSL stream.
type Link interface {
	Send(m *Message) error
}

// PHY is the downward control surface. All calls are asynchronous:
// completion arrives later via the matching *Cnf method on the Engine.
type PHY interface {
	LchanActivate(idx btsmodel.Index) error
	LchanDeactivate(idx btsmodel.Index) error
	LchanModify(idx btsmodel.Index, mode btsmodel.ChanMode) error
	ActivateCipher(idx btsmodel.Index, downlink bool) error
}

// LAPDm is the data-link library boundary: RLL messages are forwarded
// verbatim, and the engine injects L3 payloads (Ciphering Mode Command,
// ASCI notifications) as DATA-REQ / UI frames.
type LAPDm interface {
	Forward(idx btsmodel.Index, raw []byte) error
	DataReq(idx btsmodel.Index, sapi uint8, l3 []byte) error
	UIReq(idx btsmodel.Index, sapi uint8, l3 []byte) error
}

// NCHObserver is told when a received SI1 moves the notification
// channel position.
type NCHObserver func(position int, present bool)

// Engine is the RSL protocol engine for one TRX.
type Engine struct {
	log clog.Clog

	bts  *btsmodel.BTS
	trx  uint8
	link Link
	phy  PHY
	dl   LAPDm

	pq   *paging.Queue
	agch *paging.AGCH
	cbch *paging.CBCH

	onNCH   NCHObserver
	clock   func() gsmtime.FN
	etwsFwd func(data []byte)

	// active ASCI notifications, broadcast on NCH and repeated on all
	// active dedicated channels
	notifications [][]byte

	// pcuConnected gates the GPRS indicator patched into SI3 rest
	// octets.
	pcuConnected func() bool
}

// New creates an RSL engine bound to one TRX of the BTS.
func New(log clog.Clog, bts *btsmodel.BTS, trx uint8, link Link, phy PHY, dl LAPDm,
	pq *paging.Queue, agch *paging.AGCH, cbch *paging.CBCH) *Engine {
	return &Engine{
		log:  log.WithFields(clog.F{"trx": trx}),
		bts:  bts,
		trx:  trx,
		link: link,
		phy:  phy,
		dl:   dl,
		pq:   pq,
		agch: agch,
		cbch: cbch,
		pcuConnected: func() bool {
			return bts.PCU != nil && bts.PCU.Connected()
		},
	}
}

// SetNCHObserver registers the NCH-position callback.
func (e *Engine) SetNCHObserver(o NCHObserver) { e.onNCH = o }

// idxFromChanNr maps a GSM 08.58 channel-number octet to a model index
// on this engine's TRX. The C5..C1 bits select the channel kind and
// sub-slot, TN the timeslot.
func (e *Engine) idxFromChanNr(c ChanNr) (btsmodel.Index, error) {
	tn := uint8(c) & 0x07
	cbits := uint8(c) >> 3
	var sub uint8
	switch {
	case cbits == 0x01: // TCH/F
		sub = 0
	case cbits>>1 == 0x01: // TCH/H
		sub = cbits & 0x01
	case cbits>>2 == 0x01: // SDCCH/4
		sub = cbits & 0x03
	case cbits>>3 == 0x01: // SDCCH/8
		sub = cbits & 0x07
	case cbits == 0x10 || cbits == 0x11 || cbits == 0x12: // BCCH/RACH/PCH+AGCH
		sub = 0
	default:
		return btsmodel.Index{}, NewCauseError(CauseObjInstUnkn, "chan_nr 0x%02x unknown C-bits", byte(c))
	}
	return btsmodel.Index{TRX: e.trx, TS: tn, Lchan: sub}, nil
}

// Receive dispatches one inbound A-bis PDU on its discriminator.
// Decode failures and unknown discriminators are
// answered with ERROR-REPORT(PROTO); the original bytes ride along.
func (e *Engine) Receive(raw []byte) error {
	m, err := Decode(raw)
	if err != nil {
		e.log.Error("undecodable RSL PDU: %v", err)
		return e.link.Send(ErrorReport(CauseProto, raw))
	}
	if m.Disc.IsRLL() {
		idx, err := e.idxFromChanNr(m.ChanNr)
		if err != nil {
			return e.link.Send(ErrorReport(CauseObjInstUnkn, raw))
		}
		return e.dl.Forward(idx, raw)
	}
	switch m.Disc {
	case DiscDedicated:
		return e.receiveDedicated(m, raw)
	case DiscCommon:
		return e.receiveCommon(m, raw)
	case DiscIPAccess:
		if m.Type == MsgOsmoETWSCmd {
			return e.handleETWSCmd(m)
		}
		e.log.Warn("unhandled ip.access message type 0x%02x", byte(m.Type))
		return e.link.Send(ErrorReport(CauseSpecImplNotSupp, raw))
	case DiscTRX:
		e.log.Warn("unhandled TRX message type 0x%02x", byte(m.Type))
		return e.link.Send(ErrorReport(CauseSpecImplNotSupp, raw))
	default:
		return e.link.Send(ErrorReport(CauseProto, raw))
	}
}

func (e *Engine) receiveCommon(m *Message, raw []byte) error {
	switch m.Type {
	case MsgBCCHInfo:
		return e.handleBCCHInfo(m, raw)
	case MsgImmediateAssign:
		return e.handleImmediateAssign(m)
	case MsgPagingCmd:
		return e.handlePagingCmd(m, raw)
	case MsgSMSBroadcastCmd, MsgSMSBroadcastCmdExt:
		return e.handleSMSBroadcast(m)
	case MsgNotificationCmd:
		return e.handleNotificationCmd(m)
	default:
		e.log.Warn("unhandled common-channel message 0x%02x", byte(m.Type))
		return e.link.Send(ErrorReport(CauseSpecImplNotSupp, raw))
	}
}

func (e *Engine) receiveDedicated(m *Message, raw []byte) error {
	idx, err := e.idxFromChanNr(m.ChanNr)
	if err != nil {
		return e.link.Send(classifyMisroute(m.Type, m.ChanNr, CauseObjInstUnkn))
	}
	lchan, err := e.bts.Lookup(idx)
	if err != nil {
		return e.link.Send(classifyMisroute(m.Type, m.ChanNr, CauseObjInstUnkn))
	}
	switch m.Type {
	case MsgChanActiv:
		return e.handleChanActiv(m, idx, lchan)
	case MsgRFChanRel:
		return e.handleRFChanRel(m, idx, lchan)
	case MsgEncrCmd:
		return e.handleEncrCmd(m, idx, lchan)
	case MsgModeModifyReq:
		return e.handleModeModify(m, idx, lchan)
	case MsgMSPowerControl:
		return e.handleMSPowerControl(m, lchan)
	case MsgBSPowerControl:
		return e.handleBSPowerControl(m, lchan)
	case MsgSACCHInfoModify:
		return e.handleSACCHInfoModify(m, lchan)
	case MsgDeactivateSACCH:
		lchan.SACCHSI = nil
		return nil
	default:
		e.log.Warn("unhandled dedicated-channel message 0x%02x", byte(m.Type))
		return e.link.Send(ErrorReport(CauseSpecImplNotSupp, raw))
	}
}

func (e *Engine) handleBCCHInfo(m *Message, raw []byte) error {
	siType, ok := m.GetByte(TagSIType)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, raw))
	}
	block, haveBlock := m.Get(TagSysinfo)

	t, isQuater, err := siTypeFromWire(siType)
	if err != nil {
		return e.link.Send(ErrorReport(CauseIEContent, raw))
	}

	if !haveBlock || len(block) == 0 {
		if !isQuater {
			e.bts.ClearSI(t)
		}
		return nil
	}

	if isQuater {
		// SI2quater carries an index and a count, both <= 16;
		// they ride in the first two octets ahead of the MAC block.
		if len(block) < 2+btsmodel.SIBlockLen {
			return e.link.Send(ErrorReport(CauseIEContent, raw))
		}
		if err := e.bts.SetSI2Quater(int(block[0]), int(block[1]), block[2:]); err != nil {
			return e.link.Send(ErrorReport(CauseIEContent, raw))
		}
		return nil
	}

	switch t {
	case btsmodel.SI1:
		e.bts.SetSI(t, block)
		pos, present := nchPosition(block)
		if e.onNCH != nil {
			e.onNCH(pos, present)
		}
	case btsmodel.SI3:
		patched := patchSI3GPRSIndicator(block, e.pcuConnected())
		e.bts.SetSI(t, patched)
	default:
		e.bts.SetSI(t, block)
	}
	return nil
}

func (e *Engine) handleImmediateAssign(m *Message) error {
	block, ok := m.Get(TagFullImmAssign)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}

	// Early IA cache: an IA addressed to an lchan still mid-activation
	// is held back and transmitted on MPH-ACTIVATE.cnf.
	if idx, err := e.idxFromChanNr(m.ChanNr); err == nil {
		if lchan, err := e.bts.Lookup(idx); err == nil && lchan.State == btsmodel.StateActReq {
			lchan.EarlyIA = append([]byte(nil), block...)
			return nil
		}
	}

	if err := e.agch.Enqueue(block); err != nil {
		return e.link.Send(DeleteInd(block))
	}
	return nil
}

func (e *Engine) handlePagingCmd(m *Message, raw []byte) error {
	idVal, ok := m.Get(TagMSIdentity)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, raw))
	}
	id, err := decodeMSIdentity(idVal)
	if err != nil {
		return e.link.Send(ErrorReport(CauseIEContent, raw))
	}
	chanNeeded, _ := m.GetByte(TagChanNeeded)
	return e.pq.EnqueueCS(id, chanNeeded)
}

func (e *Engine) handleSMSBroadcast(m *Message) error {
	page, ok := m.Get(TagCBCHPage)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	ch := paging.CBCHBasic
	if m.Type == MsgSMSBroadcastCmdExt {
		ch = paging.CBCHExtended
	}
	e.cbch.Enqueue(ch, page)

	depth, _, high := e.cbch.LoadLevel(ch)
	if high {
		return e.link.Send(NewMessage(DiscCommon, MsgCBCHLoadInd).
			AppendByte(TagCause, byte(depth&0xFF)))
	}
	return nil
}

func (e *Engine) handleNotificationCmd(m *Message) error {
	notif, ok := m.Get(TagSysinfo)
	if !ok {
		// no payload means "stop all notifications"
		e.notifications = nil
		return nil
	}
	e.notifications = append(e.notifications, append([]byte(nil), notif...))

	// repeat as LAPDm UI frames on every active dedicated channel
	for _, trx := range e.bts.TRX {
		for _, ts := range trx.TS {
			for i := range ts.Lchans {
				l := &ts.Lchans[i]
				if l.State == btsmodel.StateActive && l.Type != btsmodel.ChanCCCH {
					if err := e.dl.UIReq(l.Index, 0, notif); err != nil {
						e.log.Warn("notification UI to %s failed: %v", l.Index, err)
					}
				}
			}
		}
	}
	return nil
}

// Notifications returns the active ASCI notification payloads for the
// NCH scheduler.
func (e *Engine) Notifications() [][]byte { return e.notifications }

// SetETWSForwarder registers the hook that pushes an ETWS primary
// notification to the PCU as APP-INFO-REQ.
func (e *Engine) SetETWSForwarder(f func(data []byte)) { e.etwsFwd = f }

// handleETWSCmd starts (payload present) or stops (payload absent) the
// ETWS primary notification broadcast: the message is segmented into
// Paging Request Type 1 rest octets across successive paging blocks,
// and forwarded to the PCU for the packet side.
func (e *Engine) handleETWSCmd(m *Message) error {
	data, ok := m.Get(TagSysinfo)
	if !ok || len(data) == 0 {
		e.bts.ETWS = btsmodel.ETWSState{}
		return nil
	}
	e.bts.ETWS = btsmodel.ETWSState{
		Active:  true,
		Message: append([]byte(nil), data...),
	}
	if e.etwsFwd != nil {
		e.etwsFwd(data)
	}
	return nil
}

func (e *Engine) handleMSPowerControl(m *Message, lchan *btsmodel.Lchan) error {
	pwr, ok := m.GetByte(TagMSPower)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	lchan.MS.Max = pwr & 0x1F
	if params, ok := m.Get(TagPowerParams); ok {
		pp, err := decodePowerParams(params)
		if err != nil {
			return e.link.Send(ErrorReport(CauseIEContent, m.Encode()))
		}
		lchan.MS.Params = pp
	} else {
		// no Power Parameters IE: power is static
		lchan.MS.Params = btsmodel.PowerParams{}
		lchan.MS.Current = pwr & 0x1F
	}
	return nil
}

func (e *Engine) handleBSPowerControl(m *Message, lchan *btsmodel.Lchan) error {
	pwr, ok := m.GetByte(TagBSPower)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	lchan.BS.MaxAttenDB = (pwr & 0x0F) * 2 // BS Power IE carries attenuation in 2 dB steps
	if params, ok := m.Get(TagPowerParams); ok {
		pp, err := decodePowerParams(params)
		if err != nil {
			return e.link.Send(ErrorReport(CauseIEContent, m.Encode()))
		}
		lchan.BS.Params = pp
	} else {
		lchan.BS.Params = btsmodel.PowerParams{}
		lchan.BS.CurrentAttenDB = (pwr & 0x0F) * 2
	}
	return nil
}

func (e *Engine) handleSACCHInfoModify(m *Message, lchan *btsmodel.Lchan) error {
	si, ok := m.Get(TagSACCHInfo)
	if !ok {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	siType, haveType := m.GetByte(TagSIType)
	if !haveType {
		return e.link.Send(ErrorReport(CauseMandIEError, m.Encode()))
	}
	slot := int(siType)
	if lchan.SACCHSI == nil {
		lchan.SACCHSI = make([][]byte, sacchSISlots)
	}
	if slot >= len(lchan.SACCHSI) {
		return e.link.Send(ErrorReport(CauseIEContent, m.Encode()))
	}
	lchan.SACCHSI[slot] = append([]byte(nil), si...)
	return nil
}

// sacchSISlots bounds the per-lchan SACCH SI slot table (SI5, SI5bis,
// SI5ter, SI6).
const sacchSISlots = 4

// decodeMSIdentity parses the LV-encoded MS identity from a PAGING-CMD:
// first octet 0x01 for TMSI (4 octets follow), 0x02 for IMSI (ASCII
// digits follow).
func decodeMSIdentity(v []byte) (paging.Identity, error) {
	if len(v) < 2 {
		return paging.Identity{}, fmt.Errorf("ms identity too short")
	}
	switch v[0] {
	case 0x01:
		if len(v) != 5 {
			return paging.Identity{}, fmt.Errorf("tmsi identity must be 4 octets")
		}
		tmsi := uint32(v[1])<<24 | uint32(v[2])<<16 | uint32(v[3])<<8 | uint32(v[4])
		return paging.Identity{IsTMSI: true, TMSI: tmsi}, nil
	case 0x02:
		for _, c := range v[1:] {
			if c < '0' || c > '9' {
				return paging.Identity{}, fmt.Errorf("imsi contains non-digit 0x%02x", c)
			}
		}
		return paging.Identity{IMSI: string(v[1:])}, nil
	default:
		return paging.Identity{}, fmt.Errorf("unknown identity kind 0x%02x", v[0])
	}
}

// encodeMSIdentity is the inverse of decodeMSIdentity; only the tests
// call it.
func encodeMSIdentity(id paging.Identity) []byte {
	if id.IsTMSI {
		return []byte{0x01, byte(id.TMSI >> 24), byte(id.TMSI >> 16), byte(id.TMSI >> 8), byte(id.TMSI)}
	}
	return append([]byte{0x02}, id.IMSI...)
}

// decodePowerParams parses the MS/BS Power Parameters IE that arms the
// autonomous control loop.
func decodePowerParams(v []byte) (btsmodel.PowerParams, error) {
	if len(v) < 8 {
		return btsmodel.PowerParams{}, fmt.Errorf("power parameters too short")
	}
	return btsmodel.PowerParams{
		Enabled:        true,
		RxLevLower:     int8(v[0]),
		RxLevUpper:     int8(v[1]),
		RxQualLower:    v[2],
		RxQualUpper:    v[3],
		IntervalSacch:  v[4],
		IncreaseStepDB: v[5],
		ReduceStepDB:   v[6],
		P1:             v[7] >> 4, N1: v[7] & 0x0F,
	}, nil
}

// siTypeFromWire maps the BCCH-INFO SI-type octet to the model's SIType
// (wire codes per GSM 08.58 §9.3.30). A true second return selects the
// multi-instance SI2quater path.
func siTypeFromWire(w byte) (btsmodel.SIType, bool, error) {
	switch w {
	case 0x01:
		return btsmodel.SI1, false, nil
	case 0x02:
		return btsmodel.SI2, false, nil
	case 0x03:
		return btsmodel.SI2bis, false, nil
	case 0x04:
		return btsmodel.SI2ter, false, nil
	case 0x05:
		return 0, true, nil
	case 0x06:
		return btsmodel.SI3, false, nil
	case 0x07:
		return btsmodel.SI4, false, nil
	case 0x08:
		return btsmodel.SI5, false, nil
	case 0x09:
		return btsmodel.SI5bis, false, nil
	case 0x0A:
		return btsmodel.SI5ter, false, nil
	case 0x0B:
		return btsmodel.SI6, false, nil
	case 0x0C:
		return btsmodel.SI10, false, nil
	case 0x0D:
		return btsmodel.SI13, false, nil
	default:
		return 0, false, fmt.Errorf("unknown SI type code 0x%02x", w)
	}
}

// nchPosition extracts the NCH position from SI1 rest octets: a
// present bit plus a 5-bit position field (GSM 04.08 §10.5.2.32).
func nchPosition(si1 []byte) (pos int, present bool) {
	if len(si1) < btsmodel.SIBlockLen {
		return 0, false
	}
	rest := si1[btsmodel.SIBlockLen-2]
	if rest&0x80 == 0 {
		return 0, false
	}
	return int(rest & 0x1F), true
}

// patchSI3GPRSIndicator rewrites the GPRS indicator bit in SI3 rest
// octets so the broadcast matches current PCU connectivity.
func patchSI3GPRSIndicator(si3 []byte, gprsAvailable bool) []byte {
	out := append([]byte(nil), si3...)
	if len(out) < btsmodel.SIBlockLen {
		return out
	}
	if gprsAvailable {
		out[btsmodel.SIBlockLen-1] |= 0x80
	} else {
		out[btsmodel.SIBlockLen-1] &^= 0x80
	}
	return out
}
