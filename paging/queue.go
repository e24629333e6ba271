package paging

import (
	"errors"
	"time"
)

// ErrCongested is returned by EnqueuePS while the queue is in
// CS-priority mode.
var ErrCongested = errors.New("paging: queue congested, PS enqueue rejected")

// ErrBadGroup is returned for a group index outside the configured
// subchannel count.
var ErrBadGroup = errors.New("paging: group index out of range")

// Record is one queued paging entry: either an MS identity with a
// channel-needed indicator and expiry, or a pre-formatted Immediate
// Assignment MAC block.
type Record struct {
	IsIA       bool
	IAData     []byte
	ID         Identity
	ChanNeeded uint8
	Expiry     time.Time
}

func (r Record) sameIdentity(other Identity) bool {
	if r.IsIA {
		return false
	}
	if r.ID.IsTMSI != other.IsTMSI {
		return false
	}
	if r.ID.IsTMSI {
		return r.ID.TMSI == other.TMSI
	}
	return r.ID.IMSI == other.IMSI
}

// Queue is the BTS's per-paging-group queue with CS-priority congestion
// hysteresis.
type Queue struct {
	cfg       Config
	groups    [][]Record
	total     int
	congested bool

	now func() time.Time
}

// NewQueue creates a paging queue from the given (already-Valid()
// defaulted) config.
func NewQueue(cfg Config) *Queue {
	return &Queue{
		cfg:    cfg,
		groups: make([][]Record, cfg.PagingSubchannels),
		now:    time.Now,
	}
}

// Len returns the total queued record count across all groups.
func (q *Queue) Len() int { return q.total }

// GroupCount returns the number of paging sub-queues.
func (q *Queue) GroupCount() int { return len(q.groups) }

// Congested reports whether the queue is currently in CS-priority mode.
func (q *Queue) Congested() bool { return q.congested }

// checkCongestion applies the 66%/50% hysteresis.
func (q *Queue) checkCongestion() {
	upper := q.cfg.QueueMax * ThresholdCongestedPct / 100
	lower := q.cfg.QueueMax * ThresholdClearPct / 100
	if q.total > upper && !q.congested {
		q.congested = true
	} else if q.total <= lower {
		q.congested = false
	}
}

func (q *Queue) groupIndex(g int) error {
	if g < 0 || g >= len(q.groups) {
		return ErrBadGroup
	}
	return nil
}

// EnqueueCS inserts a normal (CS) paging record for the given MS
// identity. Congestion never blocks CS pagings — only PS. A
// duplicate identity already queued in the same group has its expiry
// refreshed instead of being re-added.
func (q *Queue) EnqueueCS(id Identity, chanNeeded uint8) error {
	q.checkCongestion()
	g := Group(id, len(q.groups))
	expiry := q.now().Add(q.cfg.Lifetime)
	for i := range q.groups[g] {
		if q.groups[g][i].sameIdentity(id) {
			q.groups[g][i].Expiry = expiry
			q.groups[g][i].ChanNeeded = chanNeeded
			return nil
		}
	}
	q.groups[g] = append(q.groups[g], Record{ID: id, ChanNeeded: chanNeeded, Expiry: expiry})
	q.total++
	q.checkCongestion()
	return nil
}

// EnqueuePS inserts a pre-formatted Immediate Assignment MAC block into
// the given paging group. It is rejected while the queue is congested
//.
func (q *Queue) EnqueuePS(group int, iaBlock []byte) error {
	if err := q.groupIndex(group); err != nil {
		return err
	}
	q.checkCongestion()
	if q.congested {
		return ErrCongested
	}
	q.groups[group] = append(q.groups[group], Record{IsIA: true, IAData: append([]byte(nil), iaBlock...)})
	q.total++
	q.checkCongestion()
	return nil
}

// dropExpired removes expired records from a group's queue in place,
// returning the survivors in original order.
func (q *Queue) dropExpired(recs []Record) []Record {
	now := q.now()
	out := recs[:0]
	for _, r := range recs {
		if !r.IsIA && !r.Expiry.IsZero() && now.After(r.Expiry) {
			q.total--
			continue
		}
		out = append(out, r)
	}
	return out
}
