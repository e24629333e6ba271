package paging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T, queueMax int) *Queue {
	cfg := Config{PagingSubchannels: 4, QueueMax: queueMax}
	require.NoError(t, cfg.Valid())
	q := NewQueue(cfg)
	q.now = func() time.Time { return time.Unix(1000, 0) }
	return q
}

func imsi(s string) Identity { return Identity{IMSI: s} }
func tmsi(v uint32) Identity { return Identity{IsTMSI: true, TMSI: v} }

// Hysteresis: "for all paging loads L, if L > 0.66*N then PS enqueue returns
// Congested; the state leaves congestion only after L drops <= 0.50*N".
func TestCongestionHysteresis(t *testing.T) {
	q := testQueue(t, 100)
	for i := 0; i < 66; i++ {
		require.NoError(t, q.EnqueueCS(tmsi(uint32(i)), 0))
	}
	require.False(t, q.Congested(), "66 entries is exactly the threshold, not over it")

	require.NoError(t, q.EnqueueCS(tmsi(uint32(10000+1)), 0))
	require.True(t, q.Congested())

	err := q.EnqueuePS(0, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCongested)

	// drain down to exactly the clear threshold boundary
	for q.Len() > 50 {
		drainOne(q)
	}
	require.False(t, q.Congested())

	require.NoError(t, q.EnqueuePS(0, []byte{0x01, 0x02}))
}

func drainOne(q *Queue) {
	for g := range q.groups {
		if len(q.groups[g]) > 0 {
			q.groups[g] = q.groups[g][1:]
			q.total--
			q.checkCongestion()
			return
		}
	}
}

// Paging versus Immediate Assignment race for one group.
func TestImmediateAssignmentRace(t *testing.T) {
	q := testQueue(t, 1000)
	group := 2

	require.NoError(t, q.EnqueueCS(tmsi(1), 0))
	require.NoError(t, q.EnqueueCS(tmsi(2), 0))
	require.NoError(t, q.EnqueueCS(imsi("999999999999999"), 0))
	// all three must share a paging group; force that
	// by direct injection rather than hunting for colliding identities.
	for g := range q.groups {
		if g != group {
			q.groups[group] = append(q.groups[group], q.groups[g]...)
			q.groups[g] = nil
		}
	}

	require.NoError(t, q.EnqueuePS(group, []byte{0xAA, 0xBB}))

	gen, ok := q.GenerateForFN(group)
	require.True(t, ok)
	require.True(t, gen.IsIA, "IMM-ASS must be emitted at the next block for its group")

	gen2, ok := q.GenerateForFN(group)
	require.True(t, ok)
	require.False(t, gen2.IsIA)
	require.Equal(t, ReqType2, gen2.Type, "2 TMSI + 1 other is the densest fit for 3 remaining identities")
	require.Len(t, gen2.Identities, 3)
}

func TestDuplicateIdentityRefreshesExpiry(t *testing.T) {
	q := testQueue(t, 1000)
	require.NoError(t, q.EnqueueCS(tmsi(42), 1))
	require.Equal(t, 1, q.Len())
	require.NoError(t, q.EnqueueCS(tmsi(42), 2))
	require.Equal(t, 1, q.Len(), "duplicate identity refreshes in place, not a second entry")
}

func TestAGCHHighWatermark(t *testing.T) {
	a := NewAGCH(2)
	require.NoError(t, a.Enqueue([]byte{1}))
	require.NoError(t, a.Enqueue([]byte{2}))
	require.ErrorIs(t, a.Enqueue([]byte{3}), ErrAGCHFull)
	b, ok := a.Dequeue()
	require.True(t, ok)
	require.Equal(t, []byte{1}, b)
}
