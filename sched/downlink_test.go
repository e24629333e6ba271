package sched

import (
	"testing"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/paging"
	"github.com/stretchr/testify/require"
)

func newComposer(t *testing.T) (*Composer, *btsmodel.BTS) {
	t.Helper()
	bts, err := btsmodel.NewBTS(btsmodel.Identity{BSIC: 7}, 1)
	require.NoError(t, err)
	cfg := paging.DefaultConfig()
	c := NewComposer(bts, paging.NewQueue(cfg), paging.NewAGCH(cfg.AGCHHiWat), paging.NewCBCH(cfg))
	return c, bts
}

func siBlock(fill byte) []byte {
	b := make([]byte, btsmodel.SIBlockLen)
	for i := range b {
		b[i] = fill
	}
	return b
}

// With only SI2 installed, the BCCH block at FN=2 must
// carry SI2 (the composer falls through absent SI types); FCCH/SCH
// positions carry no MAC block.
func TestComposerBCCHFallsThroughToSI2(t *testing.T) {
	c, bts := newComposer(t)
	bts.SetSI(btsmodel.SI2, siBlock(0x22))

	out, err := c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 2})
	require.NoError(t, err)
	require.Equal(t, byte(0x22), out[0])

	out, err = c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 10}) // FCCH
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 11}) // SCH
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestComposerSIRotation(t *testing.T) {
	c, bts := newComposer(t)
	bts.SetSI(btsmodel.SI1, siBlock(0x11))
	bts.SetSI(btsmodel.SI2, siBlock(0x22))
	bts.SetSI(btsmodel.SI3, siBlock(0x33))

	// TC = (fn/51) mod 8: TC0 -> SI1, TC1 -> SI2, TC2 -> SI3
	out, _ := c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 2})
	require.Equal(t, byte(0x11), out[0])
	out, _ = c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 51 + 2})
	require.Equal(t, byte(0x22), out[0])
	out, _ = c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 2*51 + 2})
	require.Equal(t, byte(0x33), out[0])
}

func TestComposerAGCHBlock(t *testing.T) {
	c, _ := newComposer(t)
	ia := siBlock(0x2D)
	require.NoError(t, c.agch.Enqueue(ia))

	// block B0 (frames 6-9) is AGCH with the default one reserved block
	out, err := c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 6})
	require.NoError(t, err)
	require.Equal(t, ia, out)

	// drained: fill frame
	out, _ = c.Fill(FillMeta{Chan: btsmodel.ChanCCCH, FN: 6})
	require.Equal(t, FillFrame, out)
}

// An Immediate Assignment queued behind paging records
// for the same group wins the block; the paging records surface on the
// following block as a Paging Request.
func TestComposerIABeatsPagingThenPagingFollows(t *testing.T) {
	c, _ := newComposer(t)

	// all three identities map to paging group 0 under the default 9
	// sub-channels (identity mod 1000 mod 9), as does the PCH block at
	// FN=12 (the first paging block of multiframe 0)
	ids := []paging.Identity{
		{IsTMSI: true, TMSI: 18},
		{IsTMSI: true, TMSI: 900},
		{IMSI: "262420000000900"},
	}
	group := c.PagingGroupForFN(12, 1)
	require.Equal(t, 0, group)
	for _, id := range ids {
		require.Equal(t, group, paging.Group(id, c.pq.GroupCount()))
		require.NoError(t, c.pq.EnqueueCS(id, 1))
	}
	ia := siBlock(0x2D)
	require.NoError(t, c.pq.EnqueuePS(group, ia))

	out := c.fillPCH(12, 1)
	require.Equal(t, ia, out)

	out = c.fillPCH(12, 1)
	require.NotEqual(t, ia, out)
	require.NotEqual(t, FillFrame, out)
	// Paging Request Type 2: two TMSIs + one other identity
	require.Equal(t, byte(rrPagingRequest2), out[2])
}

func TestComposerCBCHPage(t *testing.T) {
	c, _ := newComposer(t)
	page := make([]byte, paging.CBCHPageLen)
	page[0] = 0xAA
	c.cbch.Enqueue(paging.CBCHBasic, page)

	out, err := c.Fill(FillMeta{Chan: btsmodel.ChanCBCH, FN: 0})
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), out[0])
	require.Len(t, out, btsmodel.SIBlockLen)

	out, _ = c.Fill(FillMeta{Chan: btsmodel.ChanCBCH, FN: 4})
	require.Equal(t, FillFrame, out)
}

func TestComposerDedicatedPending(t *testing.T) {
	c, bts := newComposer(t)
	idx := btsmodel.Index{TRX: 0, TS: 1, Lchan: 3}
	lchan, err := bts.Lookup(idx)
	require.NoError(t, err)
	lchan.Type = btsmodel.ChanSDCCH
	require.NoError(t, lchan.Transition(btsmodel.StateActReq))
	require.NoError(t, lchan.Transition(btsmodel.StateActive))
	lchan.Pending = []btsmodel.PendingDL{{Data: []byte{0x01, 0x02}}}

	out, err := c.Fill(FillMeta{Index: idx, Chan: btsmodel.ChanSDCCH, FN: 0})
	require.NoError(t, err)
	require.Equal(t, byte(0x01), out[0])
	require.Len(t, out, btsmodel.SIBlockLen)
	require.Empty(t, lchan.Pending)

	out, _ = c.Fill(FillMeta{Index: idx, Chan: btsmodel.ChanSDCCH, FN: 4})
	require.Equal(t, FillFrame, out)
}

func TestComposerSACCHRotation(t *testing.T) {
	c, bts := newComposer(t)
	idx := btsmodel.Index{TRX: 0, TS: 2, Lchan: 0}
	lchan, _ := bts.Lookup(idx)
	lchan.Type = btsmodel.ChanTCHFull
	require.NoError(t, lchan.Transition(btsmodel.StateActReq))
	require.NoError(t, lchan.Transition(btsmodel.StateActive))
	lchan.SACCHSI = [][]byte{{0x55}, {0x66}}

	out, _ := c.Fill(FillMeta{Index: idx, Chan: btsmodel.ChanSACCH, FN: 12})
	require.Equal(t, byte(0x55), out[0])
	out, _ = c.Fill(FillMeta{Index: idx, Chan: btsmodel.ChanSACCH, FN: 104 + 12})
	require.Equal(t, byte(0x66), out[0])
}
