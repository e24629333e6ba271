package oml

import (
	"testing"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	sent []*Message
}

func (f *fakeLink) Send(raw []byte) error {
	m, err := Decode(raw)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeLink) last() *Message { return f.sent[len(f.sent)-1] }

func newTestEngine(t *testing.T) (*Engine, *fakeLink, *btsmodel.BTS) {
	t.Helper()
	bts, err := btsmodel.NewBTS(btsmodel.Identity{}, 1)
	require.NoError(t, err)
	link := &fakeLink{}
	return New(clog.NewLogger("oml-test"), bts, link), link, bts
}

func setRadio(arfcn uint16) []byte {
	m := &Message{Type: MsgSetRadioAttr, Class: ClassRadio,
		Inst:  ObjInst{TRX: 0, TS: InstNone},
		Attrs: AttrSet{AttrARFCNList: {byte(arfcn >> 8), byte(arfcn)}}}
	return m.Encode()
}

// Attributes then Opstart in dependency order brings
// the MO tree from DISABLED/DEPENDENCY to ENABLED/OK.
func TestColdStartBringUp(t *testing.T) {
	e, link, bts := newTestEngine(t)
	require.Equal(t, btsmodel.OperDisabled, bts.OML.Operational)
	require.Equal(t, btsmodel.AvailDependency, bts.TRX[0].OML.Availability)

	setBTS := &Message{Type: MsgSetBTSAttr, Class: ClassBTS,
		Inst:  ObjInst{TRX: InstNone, TS: InstNone},
		Attrs: AttrSet{AttrBSIC: {7}}}
	require.NoError(t, e.Receive(setBTS.Encode()))
	require.Equal(t, MsgSetBTSAttrAck, link.last().Type)
	require.Equal(t, uint8(7), bts.Identity.BSIC)

	require.NoError(t, e.Receive(setRadio(10)))
	require.Equal(t, MsgSetRadioAttrAck, link.last().Type)
	require.Equal(t, uint16(10), bts.TRX[0].ARFCN)

	setChan := &Message{Type: MsgSetChanAttr, Class: ClassChannel,
		Inst:  ObjInst{TRX: 0, TS: 0},
		Attrs: AttrSet{AttrChanComb: {ChanCombCCCHSDCCH4}}}
	require.NoError(t, e.Receive(setChan.Encode()))
	require.Equal(t, MsgSetChanAttrAck, link.last().Type)
	require.Equal(t, btsmodel.PchanCCCHSDCCH4, bts.TRX[0].TS[0].PchanIs)

	opstartBTS := &Message{Type: MsgOpstart, Class: ClassBTS,
		Inst: ObjInst{TRX: InstNone, TS: InstNone}, Attrs: AttrSet{}}
	require.NoError(t, e.Receive(opstartBTS.Encode()))
	require.Equal(t, MsgOpstartAck, link.last().Type)
	require.Equal(t, btsmodel.OperEnabled, bts.OML.Operational)
	require.Equal(t, btsmodel.AvailOK, bts.OML.Availability)

	opstartTRX := &Message{Type: MsgOpstart, Class: ClassRadio,
		Inst: ObjInst{TRX: 0, TS: InstNone}, Attrs: AttrSet{}}
	require.NoError(t, e.Receive(opstartTRX.Encode()))
	require.Equal(t, btsmodel.OperEnabled, bts.TRX[0].OML.Operational)
}

// ARFCN 1024 must NACK(FREQ_NOTAVAIL) and leave the
// TRX unchanged.
func TestARFCNOutOfRangeNacks(t *testing.T) {
	e, link, bts := newTestEngine(t)
	require.NoError(t, e.Receive(setRadio(42)))
	require.NoError(t, e.Receive(setRadio(1024)))

	nack := link.last()
	require.Equal(t, MsgSetRadioAttrNack, nack.Type)
	require.Equal(t, []byte{byte(NackFreqNotAvail)}, nack.Attrs[AttrID(0x38)])
	require.Equal(t, uint16(42), bts.TRX[0].ARFCN)
}

func TestOpstartBeforeAttrsNacks(t *testing.T) {
	e, link, _ := newTestEngine(t)
	op := &Message{Type: MsgOpstart, Class: ClassRadio,
		Inst: ObjInst{TRX: 0, TS: InstNone}, Attrs: AttrSet{}}
	require.NoError(t, e.Receive(op.Encode()))
	require.Equal(t, MsgOpstartNack, link.last().Type)
}

func TestBSICRangeChecked(t *testing.T) {
	e, link, bts := newTestEngine(t)
	m := &Message{Type: MsgSetBTSAttr, Class: ClassBTS,
		Inst:  ObjInst{TRX: InstNone, TS: InstNone},
		Attrs: AttrSet{AttrBSIC: {64}}}
	require.NoError(t, e.Receive(m.Encode()))
	require.Equal(t, MsgSetBTSAttrNack, link.last().Type)
	require.Equal(t, uint8(0), bts.Identity.BSIC)
}

func TestGetAttrEchoesStored(t *testing.T) {
	e, link, _ := newTestEngine(t)
	require.NoError(t, e.Receive(setRadio(99)))

	get := &Message{Type: MsgGetAttr, Class: ClassRadio,
		Inst:  ObjInst{TRX: 0, TS: InstNone},
		Attrs: AttrSet{AttrARFCNList: {}}}
	require.NoError(t, e.Receive(get.Encode()))
	resp := link.last()
	require.Equal(t, MsgGetAttrResp, resp.Type)
	require.Equal(t, []byte{0, 99}, resp.Attrs[AttrARFCNList])
}

func TestLinkDownMarksDependency(t *testing.T) {
	e, _, bts := newTestEngine(t)
	require.NoError(t, e.Receive(setRadio(10)))
	op := &Message{Type: MsgOpstart, Class: ClassRadio,
		Inst: ObjInst{TRX: 0, TS: InstNone}, Attrs: AttrSet{}}
	require.NoError(t, e.Receive(op.Encode()))
	require.Equal(t, btsmodel.OperEnabled, bts.TRX[0].OML.Operational)

	e.LinkDown()
	require.Equal(t, btsmodel.AvailDependency, bts.TRX[0].OML.Availability)
	require.Equal(t, btsmodel.OperDisabled, bts.TRX[0].OML.Operational)
}

func TestDecodeTruncatedDoesNotPanic(t *testing.T) {
	_, err := Decode([]byte{fomDisc, 0x41})
	require.Error(t, err)
	_, err = Decode([]byte{fomDisc, 0x41, 0x01, 0, 0, 0, 0x04})
	require.Error(t, err)
}

func TestChanCombHookInvoked(t *testing.T) {
	e, _, _ := newTestEngine(t)
	var gotComb byte
	e.SetChannelConfiguredHook(func(inst ObjInst, comb byte) { gotComb = comb })

	setChan := &Message{Type: MsgSetChanAttr, Class: ClassChannel,
		Inst:  ObjInst{TRX: 0, TS: 2},
		Attrs: AttrSet{AttrChanComb: {ChanCombSDCCH8}}}
	require.NoError(t, e.Receive(setChan.Encode()))
	require.Equal(t, ChanCombSDCCH8, gotComb)
}
