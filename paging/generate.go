package paging

// ReqType names the Paging Request message variant chosen for one
// paging block.
type ReqType uint8

const (
	ReqType1 ReqType = iota // one or two identities, any mix
	ReqType2                // two TMSIs + one other identity
	ReqType3                // four TMSIs
)

// maxPerBlock is the number of records dequeued per paging block
// attempt.
const maxPerBlock = 4

// Generated describes what this paging block should carry: either a
// passed-through Immediate Assignment, or a Paging Request of the
// densest type that fits the dequeued identities.
type Generated struct {
	Group int

	IsIA   bool
	IAData []byte

	Type       ReqType
	Identities []Identity
	ChanNeeded []uint8
}

// GenerateForFN produces the content for the given paging group's next
// paging block, if any; the caller maps the frame number to the group.
// If the group is empty after dropping expired records, it reports
// ok=false.
//
// Dequeue/requeue rule: up to 4 records are pulled from the head, any
// Immediate Assignment found wins the block (the other dequeued records
// are re-queued at the tail of the group, behind the records not
// dequeued); otherwise a Paging Request Type 1/2/3 is built from the
// dequeued identities, picking the densest encoding that fits, and
// whatever didn't fit is re-queued at the tail the same way. Records
// that were sent are removed from the queue.
func (q *Queue) GenerateForFN(group int) (Generated, bool) {
	if err := q.groupIndex(group); err != nil {
		return Generated{}, false
	}
	q.groups[group] = q.dropExpired(q.groups[group])
	gq := q.groups[group]
	if len(gq) == 0 {
		return Generated{}, false
	}

	n := len(gq)
	if n > maxPerBlock {
		n = maxPerBlock
	}
	batch := append([]Record(nil), gq[:n]...)
	rest := append([]Record(nil), gq[n:]...)

	for i, r := range batch {
		if r.IsIA {
			requeue := append([]Record(nil), rest...)
			requeue = append(requeue, batch[:i]...)
			requeue = append(requeue, batch[i+1:]...)
			q.groups[group] = requeue
			q.total--
			return Generated{Group: group, IsIA: true, IAData: r.IAData}, true
		}
	}

	// No IA in the batch: choose the densest Paging Request encoding.
	var tmsiIdx, otherIdx []int
	for i, r := range batch {
		if r.ID.IsTMSI {
			tmsiIdx = append(tmsiIdx, i)
		} else {
			otherIdx = append(otherIdx, i)
		}
	}

	var used []int
	var typ ReqType
	switch {
	case len(tmsiIdx) >= 4:
		used = tmsiIdx[:4]
		typ = ReqType3
	case len(tmsiIdx) >= 2 && len(otherIdx) >= 1:
		used = append(append([]int{}, tmsiIdx[:2]...), otherIdx[0])
		typ = ReqType2
	default:
		lim := 2
		if len(batch) < lim {
			lim = len(batch)
		}
		for i := 0; i < lim; i++ {
			used = append(used, i)
		}
		typ = ReqType1
	}

	usedSet := map[int]bool{}
	for _, i := range used {
		usedSet[i] = true
	}
	var ids []Identity
	var cn []uint8
	for _, i := range used {
		ids = append(ids, batch[i].ID)
		cn = append(cn, batch[i].ChanNeeded)
	}

	requeue := append([]Record(nil), rest...)
	for i, r := range batch {
		if !usedSet[i] {
			requeue = append(requeue, r)
		}
	}
	q.groups[group] = requeue
	q.total -= len(used)

	return Generated{Group: group, Type: typ, Identities: ids, ChanNeeded: cn}, true
}
