package btsmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLchanStateMachineLegalPath(t *testing.T) {
	l := &Lchan{}
	require.NoError(t, l.Transition(StateActReq))
	require.NoError(t, l.Transition(StateActive))
	require.NoError(t, l.Transition(StateRelReq))
	require.NoError(t, l.Transition(StateNone))
}

func TestLchanStateMachineRejectsIllegalEdges(t *testing.T) {
	l := &Lchan{}
	require.Error(t, l.Transition(StateActive))  // NONE -> ACTIVE skips ACT_REQ
	require.Error(t, l.Transition(StateRelReq))  // NONE -> REL_REQ
	require.NoError(t, l.Transition(StateActReq))
	require.Error(t, l.Transition(StateRelReq))  // ACT_REQ -> REL_REQ
}

func TestLchanActivationFailureReturnsToNone(t *testing.T) {
	l := &Lchan{}
	require.NoError(t, l.Transition(StateActReq))
	require.NoError(t, l.Transition(StateNone))
	require.Equal(t, StateNone, l.State)
}

func TestAnyStateMayBreak(t *testing.T) {
	for _, from := range []ChanState{StateNone, StateActReq, StateActive, StateRelReq} {
		l := &Lchan{State: from}
		require.NoError(t, l.Transition(StateBroken))
		require.Equal(t, StateBroken, l.State)
		// BROKEN is terminal
		require.Error(t, l.Transition(StateActReq))
	}
}

func TestReleaseClearsPerCallState(t *testing.T) {
	l := &Lchan{}
	require.NoError(t, l.Transition(StateActReq))
	require.NoError(t, l.Transition(StateActive))
	l.Pending = []PendingDL{{Data: []byte{1}}}
	l.EarlyIA = []byte{2}
	l.Cipher.Algo = 1
	l.Handover = HOActive

	require.NoError(t, l.Transition(StateRelReq))
	require.NoError(t, l.Transition(StateNone))
	require.Nil(t, l.Pending)
	require.Nil(t, l.EarlyIA)
	require.Equal(t, CipherAlgo(0), l.Cipher.Algo)
	require.Equal(t, HOInactive, l.Handover)
}

func TestAdoptSACCHSIKeepsOwnCopy(t *testing.T) {
	l := &Lchan{}
	own := [][]byte{{0x55}}
	l.SACCHSI = own
	l.AdoptSACCHSI([][]byte{{0x66}})
	require.Equal(t, own, l.SACCHSI, "CHAN-ACTIV-supplied SI wins over the global buffers")

	l2 := &Lchan{}
	global := [][]byte{{0x66}, nil}
	l2.AdoptSACCHSI(global)
	require.Equal(t, []byte{0x66}, l2.SACCHSI[0])
	global[0][0] = 0x77
	require.Equal(t, byte(0x66), l2.SACCHSI[0][0], "adopted buffers are deep copies")
}

func TestSISetCopyOnWrite(t *testing.T) {
	bts, err := NewBTS(Identity{BSIC: 7}, 1)
	require.NoError(t, err)

	before := bts.SI
	block := make([]byte, SIBlockLen)
	block[0] = 0x99
	bts.SetSI(SI2, block)

	require.False(t, before.Buf[SI2].Valid, "old snapshot must not see the update")
	require.True(t, bts.SI.Buf[SI2].Valid)
}

func TestSI2QuaterBounds(t *testing.T) {
	s := &SISet{}
	block := make([]byte, SIBlockLen)
	require.NoError(t, s.SetQuater(0, 1, block))
	require.NoError(t, s.SetQuater(15, 16, block))
	require.Error(t, s.SetQuater(16, 16, block))
	require.Error(t, s.SetQuater(0, 17, block))
	require.Error(t, s.SetQuater(3, 3, block))
}

func TestIdentityAndARFCNValidation(t *testing.T) {
	require.Error(t, Identity{BSIC: 64}.Validate())
	require.NoError(t, Identity{BSIC: 63}.Validate())
	require.NoError(t, ValidateARFCN(1023))
	require.Error(t, ValidateARFCN(1024))
	require.Error(t, TA(64).Validate())
}

func TestDynTransitionExclusion(t *testing.T) {
	ts := NewTS(0, 6)
	ts.PchanIs = PchanTCHFullPDCH
	require.NoError(t, ts.BeginDynTransition(DynPDCHActPending))
	require.Error(t, ts.BeginDynTransition(DynPDCHActPending))
	ts.EndDynTransition()
	require.NoError(t, ts.BeginDynTransition(DynPDCHDeactPending))
}
