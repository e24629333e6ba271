package rtpendpoint

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/rob-gra/osmo-bts-go/jitbuf"
)

const (
	AutoRTCPIntervalMin = 10
	AutoRTCPIntervalMax = 10000
)

// Config tunes one RTP endpoint.
type Config struct {
	// PayloadType stamps outbound packets (PTGSMFull for FR, dynamic
	// otherwise).
	PayloadType uint8

	// TsUnitsPerQuantum is the timestamp advance per speech frame (160
	// for 20 ms at 8 kHz).
	TsUnitsPerQuantum uint32

	// AutoRTCPInterval emits an SR every N transmitted RTP packets; 0
	// leaves RTCP on-demand only.
	AutoRTCPInterval int

	// Jitter is the receive-side jitter buffer tuning.
	Jitter jitbuf.Config
}

// Valid fills defaults and range-checks, mutating in place.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("rtpendpoint: nil config")
	}
	if c.PayloadType == 0 {
		c.PayloadType = PTGSMFull
	}
	if c.TsUnitsPerQuantum == 0 {
		c.TsUnitsPerQuantum = 160
	}
	if c.AutoRTCPInterval != 0 &&
		(c.AutoRTCPInterval < AutoRTCPIntervalMin || c.AutoRTCPInterval > AutoRTCPIntervalMax) {
		return errors.New("rtpendpoint: AutoRTCPInterval out of range")
	}
	return c.Jitter.Valid()
}

// Endpoint is one lchan's voice-plane endpoint: the RTP/RTCP socket
// pair, TX cadence state, RX statistics and the jitter buffer.
type Endpoint struct {
	log clog.Clog
	cfg Config

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	peerRTP  *net.UDPAddr
	peerRTCP *net.UDPAddr

	// TX state
	ssrc       uint32
	seq        uint16
	ts         uint32
	tsAddend   uint32
	restartPending bool
	txPkts     uint32
	txOctets   uint32

	cname string

	// RX state
	rx    RxStats
	jb    *jitbuf.Buffer
	lastSR *SRInfo
	lastSRAt time.Time

	now func() time.Time
}

// New creates an endpoint bound to a local RTP port (even) with RTCP on
// the next odd port.
func New(log clog.Clog, cfg Config, localIP net.IP, rtpPort int) (*Endpoint, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	if rtpPort%2 != 0 {
		return nil, fmt.Errorf("rtpendpoint: RTP port %d must be even", rtpPort)
	}
	jb, err := jitbuf.New(cfg.Jitter)
	if err != nil {
		return nil, err
	}
	rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: rtpPort})
	if err != nil {
		return nil, fmt.Errorf("rtpendpoint: rtp bind: %w", err)
	}
	rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: localIP, Port: rtpPort + 1})
	if err != nil {
		rtpConn.Close()
		return nil, fmt.Errorf("rtpendpoint: rtcp bind: %w", err)
	}
	guid := xid.New()
	e := &Endpoint{
		log:      log,
		cfg:      cfg,
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
		jb:       jb,
		cname:    guid.String() + "@osmo-bts",
		now:      time.Now,
	}
	e.initTxState(guid)
	return e, nil
}

// newDetached builds an endpoint without sockets, for tests exercising
// the TX/RX state machines directly.
func newDetached(cfg Config) (*Endpoint, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	jb, err := jitbuf.New(cfg.Jitter)
	if err != nil {
		return nil, err
	}
	guid := xid.New()
	e := &Endpoint{cfg: cfg, jb: jb, cname: guid.String() + "@osmo-bts", now: time.Now}
	e.initTxState(guid)
	return e, nil
}

// initTxState seeds SSRC, sequence and the timestamp addend from the
// endpoint's unique id, so restarted sessions never reuse a cadence.
func (e *Endpoint) initTxState(guid xid.ID) {
	raw := guid.Bytes()
	e.ssrc = uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])
	e.seq = uint16(raw[8])<<8 | uint16(raw[9])
	e.tsAddend = uint32(raw[8])<<24 | uint32(raw[9])<<16 | uint32(raw[10])<<8 | uint32(raw[11])
}

// SetPeer points the endpoint at the remote RTP/RTCP pair.
func (e *Endpoint) SetPeer(ip net.IP, rtpPort int) {
	e.peerRTP = &net.UDPAddr{IP: ip, Port: rtpPort}
	e.peerRTCP = &net.UDPAddr{IP: ip, Port: rtpPort + 1}
}

// SetClock installs a time source (tests).
func (e *Endpoint) SetClock(now func() time.Time) { e.now = now }

// SSRC returns the endpoint's transmit SSRC.
func (e *Endpoint) SSRC() uint32 { return e.ssrc }

// wallTs maps CLOCK_REALTIME plus the per-session addend to an RTP
// timestamp on the transmit path.
func (e *Endpoint) wallTs(t time.Time) uint32 {
	unitsPerSec := uint64(e.cfg.TsUnitsPerQuantum) * 50 // 20 ms quanta
	sec := uint64(t.Unix())
	frac := uint64(t.Nanosecond()) * unitsPerSec / 1e9
	return uint32(sec*unitsPerSec+frac) + e.tsAddend
}

// TxQuantum emits one RTP packet for the current quantum. The
// packet is returned for observation; when a peer is set it is also
// sent on the wire, and the automatic RTCP cadence may append an SR.
func (e *Endpoint) TxQuantum(payload []byte, marker bool) (Packet, error) {
	if e.restartPending {
		e.ts = e.wallTs(e.now())
		marker = true
		e.restartPending = false
	}
	p := Packet{
		PT:      e.cfg.PayloadType,
		Marker:  marker,
		Seq:     e.seq,
		Ts:      e.ts,
		SSRC:    e.ssrc,
		Payload: payload,
	}
	e.seq++
	e.ts += e.cfg.TsUnitsPerQuantum
	e.txPkts++
	e.txOctets += uint32(len(payload))

	if e.rtpConn != nil && e.peerRTP != nil {
		if _, err := e.rtpConn.WriteToUDP(p.Encode(), e.peerRTP); err != nil {
			return p, fmt.Errorf("rtpendpoint: tx: %w", err)
		}
	}
	if e.cfg.AutoRTCPInterval > 0 && e.txPkts%uint32(e.cfg.AutoRTCPInterval) == 0 {
		if err := e.SendSR(); err != nil {
			e.log.Warn("auto RTCP SR failed: %v", err)
		}
	}
	return p, nil
}

// TxSkip advances the timestamp by one quantum without emitting a
// packet (silence-period gaps).
func (e *Endpoint) TxSkip() {
	if e.restartPending {
		return // the next real packet re-times anyway
	}
	e.ts += e.cfg.TsUnitsPerQuantum
}

// TxRestart resets the timestamp cadence discontinuously; the next
// packet carries the marker bit.
func (e *Endpoint) TxRestart() { e.restartPending = true }

// TxForward sends a pre-built RTP message bypassing the timing state
// (transparent forwarding).
func (e *Endpoint) TxForward(raw []byte) error {
	if e.rtpConn == nil || e.peerRTP == nil {
		return errors.New("rtpendpoint: no peer for forward")
	}
	_, err := e.rtpConn.WriteToUDP(raw, e.peerRTP)
	return err
}

// Receive admits one inbound RTP datagram: statistics are updated and
// the packet enters the jitter buffer, which re-orders by timestamp.
func (e *Endpoint) Receive(raw []byte) error {
	p, err := DecodePacket(raw)
	if err != nil {
		return err
	}
	arrival := e.wallTs(e.now()) - e.tsAddend
	if e.rx.SSRC != p.SSRC || e.rx.Received() == 0 {
		e.rx = RxStats{SSRC: p.SSRC}
		e.rx.Init(p.SSRC, p.Seq)
	} else {
		e.rx.Update(p.Seq, p.Ts, arrival)
	}
	e.jb.Enqueue(jitbuf.Packet{SSRC: p.SSRC, Seq: p.Seq, Ts: p.Ts, Marker: p.Marker, Payload: p.Payload})
	return nil
}

// ReceiveRTCP parses an inbound compound RTCP packet, keeping the SR
// info for the LSR/DLSR fields of our next RR.
func (e *Endpoint) ReceiveRTCP(raw []byte) error {
	sr, err := parseRTCP(raw)
	if err != nil {
		return err
	}
	if sr != nil {
		e.lastSR = sr
		e.lastSRAt = e.now()
	}
	return nil
}

// Poll pulls the next play-out quantum from the jitter buffer; ok=false
// is a silent quantum (underrun or gap).
func (e *Endpoint) Poll() (payload []byte, marker bool, ok bool) {
	p, ok := e.jb.Poll()
	if !ok {
		return nil, false, false
	}
	return p.Payload, p.Marker, true
}

// JitterStats exposes the buffer counters for metrics.
func (e *Endpoint) JitterStats() jitbuf.Stats { return e.jb.Stats() }

func (e *Endpoint) reportBlock() *reportBlock {
	if e.rx.Received() == 0 {
		return nil
	}
	cum, frac := e.rx.ReportBlock()
	rb := &reportBlock{
		ssrc:         e.rx.SSRC,
		fractionLost: frac,
		cumLost:      cum,
		extMaxSeq:    e.rx.ExtendedMax(),
		jitter:       e.rx.Jitter(),
	}
	if e.lastSR != nil {
		rb.lsr = e.lastSR.NTPSec<<16 | e.lastSR.NTPFrac>>16
		rb.dlsr = uint32(e.now().Sub(e.lastSRAt) * 65536 / time.Second)
	}
	return rb
}

// BuildSR assembles the compound SR+SDES packet for the current state.
func (e *Endpoint) BuildSR() []byte {
	return buildSR(e.ssrc, e.now(), e.ts, e.txPkts, e.txOctets, e.reportBlock(), e.cname)
}

// SendSR emits an on-demand (or automatic) Sender Report.
func (e *Endpoint) SendSR() error {
	if e.rtcpConn == nil || e.peerRTCP == nil {
		return errors.New("rtpendpoint: no RTCP peer")
	}
	_, err := e.rtcpConn.WriteToUDP(e.BuildSR(), e.peerRTCP)
	return err
}

// SendRR emits a Receiver Report; it requires inbound traffic to
// report on.
func (e *Endpoint) SendRR() error {
	rb := e.reportBlock()
	if rb == nil {
		return errors.New("rtpendpoint: nothing received yet")
	}
	if e.rtcpConn == nil || e.peerRTCP == nil {
		return errors.New("rtpendpoint: no RTCP peer")
	}
	_, err := e.rtcpConn.WriteToUDP(buildRR(e.ssrc, *rb, e.cname), e.peerRTCP)
	return err
}

// Close releases both sockets.
func (e *Endpoint) Close() {
	if e.rtpConn != nil {
		e.rtpConn.Close()
	}
	if e.rtcpConn != nil {
		e.rtcpConn.Close()
	}
}
