package jitbuf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const q = 160 // ts units per 20 ms quantum

func newTestBuffer(t *testing.T, cfg Config) (*Buffer, *time.Time) {
	t.Helper()
	b, err := New(cfg)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	b.SetClock(func() time.Time { return now })
	return b, &now
}

func pkt(ssrc uint32, seq uint16, ts uint32) Packet {
	return Packet{SSRC: ssrc, Seq: seq, Ts: ts, Payload: []byte{byte(seq)}}
}

// Constant cadence reaches FLOWING after exactly
// bd_start packets; every poll then returns exactly one packet and no
// packet is dropped.
func TestSteadyStateFlowing(t *testing.T) {
	b, now := newTestBuffer(t, Config{BdStart: 2})

	// feed bd_start packets at cadence Q
	b.Enqueue(pkt(0xA, 0, 0))
	require.Equal(t, StateHunt, b.State())
	_, ok := b.Poll()
	require.False(t, ok) // depth 1 < bd_start

	*now = now.Add(20 * time.Millisecond)
	b.Enqueue(pkt(0xA, 1, q))

	got := 0
	for i := 2; i < 52; i++ {
		p, ok := b.Poll()
		require.True(t, ok)
		require.Equal(t, uint32((got)*q), p.Ts)
		got++

		*now = now.Add(20 * time.Millisecond)
		b.Enqueue(pkt(0xA, uint16(i), uint32(i)*q))
	}
	require.Equal(t, StateFlowing, b.State())
	st := b.Stats()
	require.Zero(t, st.DupDrops)
	require.Zero(t, st.LateDrops)
	require.Zero(t, st.Thinned)
}

// Depth above bd_hiwat drops exactly one quantum
// per thinning_int polls until the depth falls back.
func TestThinning(t *testing.T) {
	cfg := Config{BdStart: 2, BdHiwat: 4, ThinningInt: 3}
	b, now := newTestBuffer(t, cfg)

	for i := 0; i < 12; i++ {
		b.Enqueue(pkt(0xA, uint16(i), uint32(i)*q))
		*now = now.Add(20 * time.Millisecond)
	}

	// depth 12; each poll pops one, and every 3rd poll above the
	// watermark drops one more
	polls := 0
	for b.Depth() > 0 {
		b.Poll()
		polls++
		require.Less(t, polls, 100)
	}
	st := b.Stats()
	require.Equal(t, uint64(2), st.Thinned)
	require.Equal(t, 10, polls)
}

func TestDuplicateAndLateDrops(t *testing.T) {
	b, now := newTestBuffer(t, Config{BdStart: 2})
	b.Enqueue(pkt(0xA, 0, 5*q))
	*now = now.Add(20 * time.Millisecond)
	b.Enqueue(pkt(0xA, 1, 6*q))

	b.Enqueue(pkt(0xA, 1, 6*q)) // duplicate ts
	b.Enqueue(pkt(0xA, 2, 4*q)) // older than head

	st := b.Stats()
	require.Equal(t, uint64(1), st.DupDrops)
	require.Equal(t, uint64(1), st.LateDrops)
	require.Equal(t, 2, b.Depth())
}

func TestUnderrunCountedOncePerEpisode(t *testing.T) {
	b, now := newTestBuffer(t, Config{BdStart: 1})

	_, ok := b.Poll()
	require.False(t, ok)
	require.Zero(t, b.Stats().Underruns) // nothing seen yet

	b.Enqueue(pkt(0xA, 0, 0))
	p, ok := b.Poll()
	require.True(t, ok)
	require.Equal(t, uint32(0), p.Ts)

	// drained: first poll of the empty episode counts one underrun
	_, ok = b.Poll()
	require.False(t, ok)
	_, ok = b.Poll()
	require.False(t, ok)
	require.Equal(t, uint64(1), b.Stats().Underruns)

	*now = now.Add(20 * time.Millisecond)
	b.Enqueue(pkt(0xA, 1, q))
	_, ok = b.Poll()
	require.True(t, ok)
}

// FLOWING drains SSRC A, then HANDOVER swaps to B with
// output continuing from B's first timestamp, no back-fill.
func TestHandover(t *testing.T) {
	b, now := newTestBuffer(t, Config{BdStart: 2})

	for i := 0; i < 10; i++ {
		b.Enqueue(pkt(0xA, uint16(i), uint32(i)*q))
		*now = now.Add(20 * time.Millisecond)
	}
	p, ok := b.Poll()
	require.True(t, ok)
	require.Equal(t, uint32(0xA), p.SSRC)

	*now = now.Add(30 * time.Millisecond)
	for i := 0; i < 5; i++ {
		b.Enqueue(pkt(0xB, uint16(100 + i), 9000+uint32(i)*q))
		*now = now.Add(20 * time.Millisecond)
	}
	require.Equal(t, StateHandover, b.State())

	// old stream drains first
	for i := 1; i < 10; i++ {
		p, ok := b.Poll()
		require.True(t, ok)
		require.Equal(t, uint32(0xA), p.SSRC)
		require.Equal(t, uint32(i)*q, p.Ts)
	}

	// first poll after A is empty swaps to B
	p, ok = b.Poll()
	require.True(t, ok)
	require.Equal(t, uint32(0xB), p.SSRC)
	require.Equal(t, uint32(9000), p.Ts)
	require.Equal(t, uint64(1), b.Stats().Handovers)
	require.Equal(t, StateFlowing, b.State())
}

// an SSRC change while still in HUNT (nothing played out yet) starts a
// handover subbuffer; only the EMPTY state restarts outright
func TestSSRCChangeDuringHuntStartsHandover(t *testing.T) {
	b, _ := newTestBuffer(t, Config{BdStart: 2})
	b.Enqueue(pkt(0xA, 0, 0))

	// no poll yet: the buffer is in HUNT, not EMPTY
	require.Equal(t, StateHunt, b.State())
	b.Enqueue(pkt(0xB, 0, 0))
	require.Equal(t, StateHandover, b.State())
}

func TestNonMultipleDeltaStartsHandover(t *testing.T) {
	b, now := newTestBuffer(t, Config{BdStart: 2})
	b.Enqueue(pkt(0xA, 0, 0))
	*now = now.Add(20 * time.Millisecond)
	b.Enqueue(pkt(0xA, 1, q))
	_, _ = b.Poll() // FLOWING

	b.Enqueue(pkt(0xA, 2, q+13)) // not a multiple of the quantum
	require.Equal(t, StateHandover, b.State())
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{BdStart: 8, BdHiwat: 4}
	_, err := New(cfg)
	require.Error(t, err)

	def := DefaultConfig()
	require.Equal(t, 20, def.QuantumMs)
	require.Equal(t, uint32(160), def.TsUnitsPerQuantum)
}
