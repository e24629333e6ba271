package rtpendpoint

// RxStats maintains RFC 3550 §A.8 reception statistics for one SSRC:
// highest sequence seen with cycle counting, expected/received packet
// accounting, and the interarrival jitter estimate as a fixed-point
// EWMA (J stored scaled by 16).
type RxStats struct {
	SSRC uint32

	baseSeq    uint16
	maxSeq     uint16
	cycles     uint32
	received   uint32
	initialized bool

	// expectedPrior/receivedPrior snapshot the counters at the last
	// report, for the fraction-lost computation.
	expectedPrior uint32
	receivedPrior uint32

	// transit is the last packet's relative transit time; jitter16 the
	// scaled EWMA.
	transit  int32
	jitter16 uint32
}

// Init primes the statistics from the first packet of a stream.
func (s *RxStats) Init(ssrc uint32, seq uint16) {
	s.SSRC = ssrc
	s.baseSeq = seq
	s.maxSeq = seq
	s.cycles = 0
	s.received = 1
	s.initialized = true
	s.transit = 0
	s.jitter16 = 0
}

// maxDropout bounds how far ahead a sequence jump is still accepted as
// in-order (RFC 3550 A.1).
const maxDropout = 3000

// Update folds in one received packet. arrivalTs and packetTs are in
// RTP timestamp units; their difference drives the jitter EWMA.
func (s *RxStats) Update(seq uint16, packetTs, arrivalTs uint32) {
	if !s.initialized {
		s.Init(s.SSRC, seq)
		s.transit = int32(arrivalTs - packetTs)
		return
	}
	delta := seq - s.maxSeq
	switch {
	case delta < maxDropout:
		if seq < s.maxSeq {
			s.cycles += 1 << 16
		}
		s.maxSeq = seq
	default:
		// large jump: out-of-order or duplicate, counted but the
		// sequence tracking is left alone
	}
	s.received++

	// RFC 3550 A.8: J += (|D| - J) / 16, kept scaled by 16 in fixed
	// point to avoid the division losing the fraction
	transit := int32(arrivalTs - packetTs)
	d := transit - s.transit
	s.transit = transit
	if d < 0 {
		d = -d
	}
	s.jitter16 += uint32(d) - (s.jitter16+8)>>4
}

// Jitter returns the current interarrival jitter estimate in timestamp
// units.
func (s *RxStats) Jitter() uint32 { return s.jitter16 >> 4 }

// ExtendedMax returns the extended highest sequence number received.
func (s *RxStats) ExtendedMax() uint32 { return s.cycles + uint32(s.maxSeq) }

// Expected returns the number of packets expected so far.
func (s *RxStats) Expected() uint32 {
	return s.ExtendedMax() - uint32(s.baseSeq) + 1
}

// Received returns the number of packets actually received.
func (s *RxStats) Received() uint32 { return s.received }

// ReportBlock computes the cumulative-lost and fraction-lost fields for
// an RTCP report block and rolls the per-interval snapshot forward.
func (s *RxStats) ReportBlock() (cumLost uint32, fractionLost uint8) {
	expected := s.Expected()
	lost := int32(expected) - int32(s.received)
	if lost < 0 {
		lost = 0
	}
	expectedInterval := expected - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = s.received

	lostInterval := int32(expectedInterval) - int32(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		fractionLost = 0
	} else {
		fractionLost = uint8((lostInterval << 8) / int32(expectedInterval))
	}
	return uint32(lost), fractionLost
}
