package oml

import (
	"fmt"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
)

// MsgType is the FOM message type octet (TS 12.21 §9.1).
type MsgType byte

const (
	MsgSetBTSAttr      MsgType = 0x41
	MsgSetBTSAttrAck   MsgType = 0x42
	MsgSetBTSAttrNack  MsgType = 0x43
	MsgSetRadioAttr    MsgType = 0x44
	MsgSetRadioAttrAck MsgType = 0x45
	MsgSetRadioAttrNack MsgType = 0x46
	MsgSetChanAttr     MsgType = 0x47
	MsgSetChanAttrAck  MsgType = 0x48
	MsgSetChanAttrNack MsgType = 0x49
	MsgOpstart         MsgType = 0x74
	MsgOpstartAck      MsgType = 0x75
	MsgOpstartNack     MsgType = 0x76
	MsgGetAttr         MsgType = 0x81
	MsgGetAttrResp     MsgType = 0x82
	MsgStateChanged    MsgType = 0x31
	MsgFailureEvent    MsgType = 0x37
	MsgChangeAdmState  MsgType = 0x69
	MsgChangeAdmStateAck MsgType = 0x6A
)

// NackCause is the TS 12.21 §9.4.36 NACK cause vocabulary.
type NackCause byte

const (
	NackIncorrectMsg    NackCause = 0x01
	NackObjClassUnsupp  NackCause = 0x19
	NackObjInstUnkn     NackCause = 0x1A
	NackParamRange      NackCause = 0x1C
	NackFreqNotAvail    NackCause = 0x1D
	NackReqNotGranted   NackCause = 0x23
	NackAttrListIncons  NackCause = 0x26
)

// Message is one decoded OML FOM PDU: message type, addressed object,
// attribute TLVs.
type Message struct {
	Type  MsgType
	Class ObjClass
	Inst  ObjInst
	Attrs AttrSet
}

// fomDisc is the formatted-OML message discriminator.
const fomDisc = 0x80

// Encode serializes the FOM header (disc, type, class, 3-octet
// instance) followed by each attribute as id/len/value.
func (m *Message) Encode() []byte {
	out := []byte{fomDisc, byte(m.Type), byte(m.Class), m.Inst.BTS, m.Inst.TRX, m.Inst.TS}
	for id, v := range m.Attrs {
		out = append(out, byte(id), byte(len(v)))
		out = append(out, v...)
	}
	return out
}

// Decode parses a FOM PDU, never panicking on malformed input.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < 6 {
		return nil, fmt.Errorf("oml: truncated message (%d octets)", len(raw))
	}
	if raw[0] != fomDisc {
		return nil, fmt.Errorf("oml: unexpected discriminator 0x%02x", raw[0])
	}
	m := &Message{
		Type:  MsgType(raw[1]),
		Class: ObjClass(raw[2]),
		Inst:  ObjInst{BTS: raw[3], TRX: raw[4], TS: raw[5]},
		Attrs: AttrSet{},
	}
	buf := raw[6:]
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("oml: dangling attribute id")
		}
		id, l := AttrID(buf[0]), int(buf[1])
		buf = buf[2:]
		if l > len(buf) {
			return nil, fmt.Errorf("oml: attribute 0x%02x length %d exceeds remaining %d", byte(id), l, len(buf))
		}
		m.Attrs[id] = append([]byte(nil), buf[:l]...)
		buf = buf[l:]
	}
	return m, nil
}

// Link carries encoded OML PDUs toward the BSC.
type Link interface {
	Send(raw []byte) error
}

// Engine is the OML protocol engine for one BTS.
type Engine struct {
	log  clog.Clog
	bts  *btsmodel.BTS
	link Link

	mos map[moKey]*MO

	// onChannelConfigured is invoked when a Channel MO's combination is
	// applied, letting the wiring layer install the matching multiframe
	// table on the timeslot.
	onChannelConfigured func(inst ObjInst, comb byte)
}

// New creates the OML engine. All MOs start DISABLED with availability
// DEPENDENCY until their attributes are set and Opstart arrives.
func New(log clog.Clog, bts *btsmodel.BTS, link Link) *Engine {
	e := &Engine{
		log:  log,
		bts:  bts,
		link: link,
		mos:  map[moKey]*MO{},
	}
	bts.OML = btsmodel.OMLState{Operational: btsmodel.OperDisabled, Availability: btsmodel.AvailDependency}
	for _, trx := range bts.TRX {
		trx.OML = btsmodel.OMLState{Operational: btsmodel.OperDisabled, Availability: btsmodel.AvailDependency}
	}
	return e
}

// SetChannelConfiguredHook registers the channel-combination callback.
func (e *Engine) SetChannelConfiguredHook(h func(inst ObjInst, comb byte)) {
	e.onChannelConfigured = h
}

func (e *Engine) mo(class ObjClass, inst ObjInst) *MO {
	k := moKey{Class: class, Inst: inst}
	m, ok := e.mos[k]
	if !ok {
		m = &MO{Key: k, Attrs: AttrSet{}}
		e.mos[k] = m
	}
	return m
}

func (e *Engine) nack(m *Message, nackType MsgType, cause NackCause) error {
	resp := &Message{Type: nackType, Class: m.Class, Inst: m.Inst,
		Attrs: AttrSet{AttrID(0x38): {byte(cause)}}} // NACK Causes attribute
	return e.link.Send(resp.Encode())
}

func (e *Engine) ack(m *Message, ackType MsgType) error {
	resp := &Message{Type: ackType, Class: m.Class, Inst: m.Inst, Attrs: AttrSet{}}
	return e.link.Send(resp.Encode())
}

// Receive dispatches one inbound OML PDU.
func (e *Engine) Receive(raw []byte) error {
	m, err := Decode(raw)
	if err != nil {
		e.log.Error("undecodable OML PDU: %v", err)
		return nil // drop; nothing sane to address a NACK to
	}
	switch m.Type {
	case MsgSetBTSAttr:
		return e.handleSetBTSAttr(m)
	case MsgSetRadioAttr:
		return e.handleSetRadioAttr(m)
	case MsgSetChanAttr:
		return e.handleSetChanAttr(m)
	case MsgOpstart:
		return e.handleOpstart(m)
	case MsgGetAttr:
		return e.handleGetAttr(m)
	case MsgChangeAdmState:
		return e.handleChangeAdmState(m)
	default:
		e.log.Warn("unhandled OML message 0x%02x for %s %s", byte(m.Type), m.Class, m.Inst)
		return e.nack(m, m.Type+2, NackIncorrectMsg)
	}
}

func (e *Engine) handleSetBTSAttr(m *Message) error {
	if m.Class != ClassBTS {
		return e.nack(m, MsgSetBTSAttrNack, NackObjClassUnsupp)
	}
	if bsic, ok := m.Attrs[AttrBSIC]; ok {
		if len(bsic) != 1 || bsic[0] > btsmodel.MaxBSIC {
			return e.nack(m, MsgSetBTSAttrNack, NackParamRange)
		}
		e.bts.Identity.BSIC = bsic[0]
	}
	if lac, ok := m.Attrs[AttrLAC]; ok && len(lac) == 2 {
		e.bts.Identity.LAC = uint16(lac[0])<<8 | uint16(lac[1])
	}
	if ci, ok := m.Attrs[AttrCI]; ok && len(ci) == 2 {
		e.bts.Identity.CI = uint16(ci[0])<<8 | uint16(ci[1])
	}
	if rac, ok := m.Attrs[AttrRAC]; ok && len(rac) == 1 {
		e.bts.Identity.RAC = rac[0]
	}
	mo := e.mo(ClassBTS, m.Inst)
	mo.Attrs = mo.Attrs.Merge(m.Attrs)
	mo.Phase = PhaseAttrsSet
	return e.ack(m, MsgSetBTSAttrAck)
}

func (e *Engine) handleSetRadioAttr(m *Message) error {
	if m.Class != ClassRadio {
		return e.nack(m, MsgSetRadioAttrNack, NackObjClassUnsupp)
	}
	trx, err := e.bts.TRXAt(m.Inst.TRX)
	if err != nil {
		return e.nack(m, MsgSetRadioAttrNack, NackObjInstUnkn)
	}
	if raw, ok := m.Attrs[AttrARFCNList]; ok {
		if len(raw) != 2 {
			return e.nack(m, MsgSetRadioAttrNack, NackParamRange)
		}
		arfcn := uint16(raw[0])<<8 | uint16(raw[1])
		// out-of-range ARFCN leaves the TRX unchanged
		if err := btsmodel.ValidateARFCN(arfcn); err != nil {
			return e.nack(m, MsgSetRadioAttrNack, NackFreqNotAvail)
		}
		trx.ARFCN = arfcn
	}
	if pwr, ok := m.Attrs[AttrPower]; ok && len(pwr) == 1 {
		trx.NominalPower = pwr[0]
	}
	mo := e.mo(ClassRadio, m.Inst)
	mo.Attrs = mo.Attrs.Merge(m.Attrs)
	mo.Phase = PhaseAttrsSet
	return e.ack(m, MsgSetRadioAttrAck)
}

func (e *Engine) handleSetChanAttr(m *Message) error {
	if m.Class != ClassChannel {
		return e.nack(m, MsgSetChanAttrNack, NackObjClassUnsupp)
	}
	trx, err := e.bts.TRXAt(m.Inst.TRX)
	if err != nil {
		return e.nack(m, MsgSetChanAttrNack, NackObjInstUnkn)
	}
	ts, err := trx.TSAt(m.Inst.TS)
	if err != nil {
		return e.nack(m, MsgSetChanAttrNack, NackObjInstUnkn)
	}
	comb, ok := m.Attrs[AttrChanComb]
	if !ok || len(comb) != 1 {
		return e.nack(m, MsgSetChanAttrNack, NackAttrListIncons)
	}
	pchan, err := pchanFromComb(comb[0])
	if err != nil {
		return e.nack(m, MsgSetChanAttrNack, NackParamRange)
	}
	ts.PchanIs = pchan
	ts.PchanWant = pchan
	if tsc, ok := m.Attrs[AttrTSC]; ok && len(tsc) == 1 {
		if tsc[0] > 7 {
			return e.nack(m, MsgSetChanAttrNack, NackParamRange)
		}
		ts.TSC = tsc[0]
	}
	if e.onChannelConfigured != nil {
		e.onChannelConfigured(m.Inst, comb[0])
	}
	mo := e.mo(ClassChannel, m.Inst)
	mo.Attrs = mo.Attrs.Merge(m.Attrs)
	mo.Phase = PhaseAttrsSet
	return e.ack(m, MsgSetChanAttrAck)
}

// handleOpstart drives the MO to ENABLED/OK, provided its attributes
// were set first (dependency order).
func (e *Engine) handleOpstart(m *Message) error {
	mo := e.mo(m.Class, m.Inst)
	if mo.Phase != PhaseAttrsSet && m.Class != ClassSiteMgr {
		return e.nack(m, MsgOpstartNack, NackReqNotGranted)
	}
	mo.Phase = PhaseStarted

	switch m.Class {
	case ClassBTS:
		e.bts.OML = btsmodel.OMLState{Administrative: btsmodel.AdminUnlocked,
			Operational: btsmodel.OperEnabled, Availability: btsmodel.AvailOK}
	case ClassRadio, ClassBaseband:
		if trx, err := e.bts.TRXAt(m.Inst.TRX); err == nil {
			trx.OML = btsmodel.OMLState{Administrative: btsmodel.AdminUnlocked,
				Operational: btsmodel.OperEnabled, Availability: btsmodel.AvailOK}
			e.sendStateChanged(ClassRadio, m.Inst, trx.OML)
		}
	}
	return e.ack(m, MsgOpstartAck)
}

func (e *Engine) handleGetAttr(m *Message) error {
	mo := e.mo(m.Class, m.Inst)
	resp := &Message{Type: MsgGetAttrResp, Class: m.Class, Inst: m.Inst, Attrs: AttrSet{}}
	for id := range m.Attrs {
		if v, ok := mo.Attrs[id]; ok {
			resp.Attrs[id] = v
		}
	}
	return e.link.Send(resp.Encode())
}

func (e *Engine) handleChangeAdmState(m *Message) error {
	// administrative state rides in attribute 0x04 of the ADM group
	v, ok := m.Attrs[AttrID(0x04)]
	if !ok || len(v) != 1 {
		return e.nack(m, MsgOpstartNack, NackIncorrectMsg)
	}
	switch m.Class {
	case ClassBTS:
		e.bts.OML.Administrative = btsmodel.AdminState(v[0])
	case ClassRadio:
		if trx, err := e.bts.TRXAt(m.Inst.TRX); err == nil {
			trx.OML.Administrative = btsmodel.AdminState(v[0])
		}
	}
	return e.ack(m, MsgChangeAdmStateAck)
}

// sendStateChanged emits a State-Changed Event Report for an MO.
func (e *Engine) sendStateChanged(class ObjClass, inst ObjInst, st btsmodel.OMLState) {
	msg := &Message{Type: MsgStateChanged, Class: class, Inst: inst, Attrs: AttrSet{
		AttrID(0x24): {byte(st.Operational)},
		AttrID(0x25): {byte(st.Availability)},
	}}
	if err := e.link.Send(msg.Encode()); err != nil {
		e.log.Warn("state-changed report for %s %s failed: %v", class, inst, err)
	}
}

// FailureEvent emits an OML failure event report, e.g. when a PHY
// timeout breaks an lchan.
func (e *Engine) FailureEvent(class ObjClass, inst ObjInst, text string) error {
	msg := &Message{Type: MsgFailureEvent, Class: class, Inst: inst, Attrs: AttrSet{
		AttrID(0x46): []byte(text),
	}}
	return e.link.Send(msg.Encode())
}

// LinkDown marks everything DEPENDENCY when the BSC transport is
// lost; the BSC treats the whole site as unavailable.
func (e *Engine) LinkDown() {
	e.bts.DependencyFailure()
	for _, mo := range e.mos {
		mo.Phase = PhaseInit
	}
}

func pchanFromComb(comb byte) (btsmodel.PchanConfig, error) {
	switch comb {
	case ChanCombTCHF:
		return btsmodel.PchanTCHFull, nil
	case ChanCombTCHH:
		return btsmodel.PchanTCHHalf, nil
	case ChanCombCCCHSDCCH4:
		return btsmodel.PchanCCCHSDCCH4, nil
	case ChanCombSDCCH8:
		return btsmodel.PchanSDCCH8, nil
	case ChanCombCCCH:
		return btsmodel.PchanCCCH, nil
	case ChanCombPDCH:
		return btsmodel.PchanPDCH, nil
	case ChanCombTCHFPDCH:
		return btsmodel.PchanTCHFullPDCH, nil
	default:
		return 0, fmt.Errorf("oml: unknown channel combination 0x%02x", comb)
	}
}
