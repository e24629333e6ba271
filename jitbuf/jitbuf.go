package jitbuf

import "time"

// State is the buffer's delivery state.
type State uint8

const (
	StateEmpty State = iota
	StateHunt
	StateFlowing
	StateHandover
)

func (s State) String() string {
	switch s {
	case StateHunt:
		return "HUNT"
	case StateFlowing:
		return "FLOWING"
	case StateHandover:
		return "HANDOVER"
	default:
		return "EMPTY"
	}
}

// Packet is one decoded RTP packet entering the buffer.
type Packet struct {
	SSRC    uint32
	Seq     uint16
	Ts      uint32
	Marker  bool
	Payload []byte
}

// Stats counts the buffer's drop and recovery events.
type Stats struct {
	Underruns  uint64
	DupDrops   uint64
	LateDrops  uint64
	FutureDrops uint64
	Thinned    uint64
	Handovers  uint64
}

// subbuf is one per-SSRC queue, kept sorted by timestamp.
type subbuf struct {
	ssrc        uint32
	q           []Packet
	lastArrival time.Time
	lastDeltaMs int
}

func (s *subbuf) depth() int { return len(s.q) }

// insert places p in timestamp order, reporting dup/late drops against
// the queue head.
func (s *subbuf) insert(p Packet) (dup, late bool) {
	if len(s.q) > 0 {
		headDelta := int32(p.Ts - s.q[0].Ts)
		if headDelta < 0 {
			return false, true
		}
	}
	for i := range s.q {
		d := int32(p.Ts - s.q[i].Ts)
		if d == 0 {
			return true, false
		}
		if d < 0 {
			s.q = append(s.q, Packet{})
			copy(s.q[i+1:], s.q[i:])
			s.q[i] = p
			return false, false
		}
	}
	s.q = append(s.q, p)
	return false, false
}

func (s *subbuf) pop() Packet {
	p := s.q[0]
	s.q = s.q[1:]
	return p
}

// Buffer is one twjit instance: at most two subbuffers (current plus
// handover), the HUNT/FLOWING delivery state machine, thinning, and
// drop accounting.
type Buffer struct {
	cfg   Config
	state State

	cur  *subbuf
	next *subbuf

	seenAny        bool
	underrunNoted  bool
	thinPolls      int

	stats Stats

	now func() time.Time
}

// New creates a jitter buffer; the config is copied in.
func New(cfg Config) (*Buffer, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Buffer{cfg: cfg, now: time.Now}, nil
}

// SetClock installs a time source (tests).
func (b *Buffer) SetClock(now func() time.Time) { b.now = now }

// State returns the current delivery state.
func (b *Buffer) State() State { return b.state }

// Stats returns a copy of the drop/recovery counters.
func (b *Buffer) Stats() Stats { return b.stats }

// Depth returns the current subbuffer's queue depth.
func (b *Buffer) Depth() int {
	if b.cur == nil {
		return 0
	}
	return b.cur.depth()
}

// maxFutureTs is the timestamp horizon beyond which a packet triggers a
// restart instead of being queued.
func (b *Buffer) maxFutureTs() uint32 {
	quantaPerSec := uint32(1000 / b.cfg.QuantumMs)
	return uint32(b.cfg.MaxFutureSec) * quantaPerSec * b.cfg.TsUnitsPerQuantum
}

// Enqueue admits one RTP packet: classification by SSRC
// and by timestamp delta against the queue head; mismatches start a
// handover subbuffer (or restart outright if the buffer is in the EMPTY
// state; a mismatch during HUNT also starts a handover subbuffer).
func (b *Buffer) Enqueue(p Packet) {
	now := b.now()
	b.seenAny = true

	if b.cur == nil {
		b.cur = &subbuf{ssrc: p.SSRC}
	}

	target := b.cur
	mismatch := false
	if p.SSRC != b.cur.ssrc {
		mismatch = true
	} else if len(b.cur.q) > 0 {
		d := int32(p.Ts - b.cur.q[0].Ts)
		if d > 0 {
			if uint32(d)%b.cfg.TsUnitsPerQuantum != 0 || uint32(d) > b.maxFutureTs() {
				mismatch = true
			}
		}
	}

	if mismatch {
		if b.state == StateEmpty {
			// nothing flowing yet: just restart on the new stream
			b.cur = &subbuf{ssrc: p.SSRC}
			target = b.cur
		} else if b.next != nil && b.next.ssrc == p.SSRC {
			target = b.next
		} else {
			b.next = &subbuf{ssrc: p.SSRC}
			b.state = StateHandover
			target = b.next
		}
	}

	if !target.lastArrival.IsZero() {
		target.lastDeltaMs = int(now.Sub(target.lastArrival) / time.Millisecond)
	}
	target.lastArrival = now

	dup, late := target.insert(p)
	if dup {
		b.stats.DupDrops++
		return
	}
	if late {
		b.stats.LateDrops++
		return
	}

	if b.state == StateEmpty && target == b.cur {
		b.state = StateHunt
	}
}

// huntReady applies the HUNT->FLOWING criterion: fill depth at
// bd_start and an inter-arrival delta inside the configured window.
func (b *Buffer) huntReady(s *subbuf) bool {
	if s.depth() < b.cfg.BdStart {
		return false
	}
	// a single packet so far has no inter-arrival delta; treat the
	// configured minimum as satisfied
	if s.lastDeltaMs == 0 {
		return true
	}
	return s.lastDeltaMs >= b.cfg.StartMinDeltaMs && s.lastDeltaMs <= b.cfg.StartMaxDeltaMs
}

// Poll is the fixed-cadence exit path, called once per quantum.
// It returns the next payload to play out, or ok=false for a silent
// quantum.
func (b *Buffer) Poll() (p Packet, ok bool) {
	switch b.state {
	case StateEmpty:
		if b.seenAny && !b.underrunNoted {
			b.stats.Underruns++
			b.underrunNoted = true
		}
		return Packet{}, false

	case StateHunt:
		if !b.huntReady(b.cur) {
			return Packet{}, false
		}
		b.state = StateFlowing
		b.underrunNoted = false
		return b.pollFlowing()

	case StateFlowing:
		return b.pollFlowing()

	case StateHandover:
		return b.pollHandover()
	}
	return Packet{}, false
}

func (b *Buffer) pollFlowing() (Packet, bool) {
	if b.cur.depth() == 0 {
		b.state = StateEmpty
		b.underrunNoted = false
		if b.seenAny {
			b.stats.Underruns++
			b.underrunNoted = true
		}
		return Packet{}, false
	}
	out := b.cur.pop()

	// thinning: one extra quantum dropped every ThinningInt polls
	// while above the high watermark
	if b.cur.depth() > b.cfg.BdHiwat {
		b.thinPolls++
		if b.thinPolls >= b.cfg.ThinningInt {
			b.cur.pop()
			b.stats.Thinned++
			b.thinPolls = 0
		}
	} else {
		b.thinPolls = 0
	}
	return out, true
}

// pollHandover serves the old stream until it drains, then swaps in the
// new subbuffer once it is ready; output continues from the new
// stream's first timestamp with no back-fill.
func (b *Buffer) pollHandover() (Packet, bool) {
	if b.cur.depth() > 0 {
		return b.cur.pop(), true
	}
	if b.next == nil {
		b.state = StateEmpty
		return Packet{}, false
	}
	if b.next.depth() < b.cfg.BdStart {
		return Packet{}, false
	}
	b.cur = b.next
	b.next = nil
	b.stats.Handovers++
	b.state = StateFlowing
	return b.pollFlowing()
}
