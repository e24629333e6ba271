package rtpendpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	in := Packet{
		PT:      PTGSMFull,
		Marker:  true,
		Seq:     0x1234,
		Ts:      0xDEADBEEF,
		SSRC:    0xCAFEBABE,
		Payload: []byte{0xD0, 1, 2, 3},
	}
	out, err := DecodePacket(in.Encode())
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodePacket([]byte{1, 2, 3})
	require.Error(t, err)

	raw := Packet{PT: 3}.Encode()
	raw[0] = 0x00 // version 0
	_, err = DecodePacket(raw)
	require.Error(t, err)

	raw = Packet{PT: 3}.Encode()
	raw[0] |= 0x0F // claims 15 CSRCs that aren't there
	_, err = DecodePacket(raw)
	require.Error(t, err)
}

func TestDecodePadding(t *testing.T) {
	raw := Packet{PT: 3, Payload: []byte{1, 2, 3}}.Encode()
	raw[0] |= 0x20
	raw = append(raw[:HeaderLen+2], 2) // last octet says 2 padding octets
	out, err := DecodePacket(raw)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, out.Payload)
}

func newTxEndpoint(t *testing.T) (*Endpoint, *time.Time) {
	t.Helper()
	e, err := newDetached(Config{AutoRTCPInterval: 0})
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	e.SetClock(func() time.Time { return now })
	e.TxRestart() // pin the first packet's timestamp to the test clock
	return e, &now
}

// Consecutive quanta advance seq by 1 and ts by Q.
func TestTxQuantumCadence(t *testing.T) {
	e, _ := newTxEndpoint(t)

	p0, err := e.TxQuantum([]byte{1}, false)
	require.NoError(t, err)
	require.True(t, p0.Marker) // restart forces the marker

	p1, err := e.TxQuantum([]byte{2}, false)
	require.NoError(t, err)
	require.False(t, p1.Marker)
	require.Equal(t, p0.Seq+1, p1.Seq)
	require.Equal(t, p0.Ts+160, p1.Ts)
	require.Equal(t, p0.SSRC, p1.SSRC)
}

// TxSkip advances the timestamp without emitting.
func TestTxSkip(t *testing.T) {
	e, _ := newTxEndpoint(t)
	p0, _ := e.TxQuantum([]byte{1}, false)
	e.TxSkip()
	e.TxSkip()
	p1, _ := e.TxQuantum([]byte{2}, false)
	require.Equal(t, p0.Ts+3*160, p1.Ts)
	require.Equal(t, p0.Seq+1, p1.Seq) // seq does not advance on skip
}

// TxRestart re-times discontinuously and sets the marker.
func TestTxRestart(t *testing.T) {
	e, now := newTxEndpoint(t)
	p0, _ := e.TxQuantum([]byte{1}, false)

	*now = now.Add(3 * time.Second)
	e.TxRestart()
	p1, _ := e.TxQuantum([]byte{2}, false)
	require.True(t, p1.Marker)
	// 3 s at 8 kHz is 24000 ts units, far beyond one quantum
	require.NotEqual(t, p0.Ts+160, p1.Ts)
}

func TestRxStatsInOrder(t *testing.T) {
	var s RxStats
	s.Init(0xA, 100)
	for i := 1; i <= 49; i++ {
		s.Update(uint16(100+i), uint32(i)*160, uint32(i)*160)
	}
	require.Equal(t, uint32(50), s.Expected())
	require.Equal(t, uint32(50), s.Received())
	require.Zero(t, s.Jitter()) // zero transit variation

	cum, frac := s.ReportBlock()
	require.Zero(t, cum)
	require.Zero(t, frac)
}

func TestRxStatsLoss(t *testing.T) {
	var s RxStats
	s.Init(0xA, 0)
	// every second packet lost
	for i := 2; i <= 20; i += 2 {
		s.Update(uint16(i), uint32(i)*160, uint32(i)*160)
	}
	require.Equal(t, uint32(21), s.Expected())
	require.Equal(t, uint32(11), s.Received())
	cum, frac := s.ReportBlock()
	require.Equal(t, uint32(10), cum)
	require.NotZero(t, frac)
}

func TestRxStatsSeqWrap(t *testing.T) {
	var s RxStats
	s.Init(0xA, 0xFFFE)
	s.Update(0xFFFF, 160, 160)
	s.Update(0x0000, 320, 320)
	s.Update(0x0001, 480, 480)
	require.Equal(t, uint32(1<<16)+1, s.ExtendedMax())
	require.Equal(t, uint32(4), s.Expected())
}

// RFC 3550 A.8: constant transit delta decays toward that delta.
func TestJitterEWMAConverges(t *testing.T) {
	var s RxStats
	s.Init(0xA, 0)
	// packets alternate 16 ts units of transit variation
	for i := 1; i < 200; i++ {
		arrival := uint32(i) * 160
		if i%2 == 0 {
			arrival += 16
		}
		s.Update(uint16(i), uint32(i)*160, arrival)
	}
	j := s.Jitter()
	require.Greater(t, j, uint32(8))
	require.LessOrEqual(t, j, uint32(16))
}

func TestBuildSRCompound(t *testing.T) {
	e, _ := newTxEndpoint(t)
	_, _ = e.TxQuantum([]byte{1, 2, 3}, false)

	raw := e.BuildSR()
	require.Equal(t, byte(rtcpSR), raw[1])

	// compound: the SDES with CNAME follows the SR
	srLen := (int(raw[2])<<8 | int(raw[3]) + 1) * 4
	sdes := raw[srLen:]
	require.Equal(t, byte(rtcpSDES), sdes[1])
	require.Equal(t, byte(sdesCNAME), sdes[8])
	require.NotZero(t, sdes[9]) // CNAME present and non-empty

	sr, err := parseRTCP(raw)
	require.NoError(t, err)
	require.NotNil(t, sr)
	require.Equal(t, e.SSRC(), sr.SSRC)
	require.Equal(t, uint32(1), sr.PktCount)
}

func TestReceiveFeedsJitterBuffer(t *testing.T) {
	e, err := newDetached(Config{})
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	e.SetClock(func() time.Time { return now })
	e.jb.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		raw := Packet{PT: 3, Seq: uint16(i), Ts: uint32(i) * 160, SSRC: 0xB, Payload: []byte{byte(i)}}.Encode()
		require.NoError(t, e.Receive(raw))
		now = now.Add(20 * time.Millisecond)
	}
	payload, _, ok := e.Poll()
	require.True(t, ok)
	require.Equal(t, []byte{0}, payload)
	require.Equal(t, uint32(4), e.rx.Received())
}
