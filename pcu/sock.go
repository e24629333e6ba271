package pcu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sys/unix"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
)

// DefaultSocketPath is where the PCU expects the BTS to listen.
const DefaultSocketPath = "/var/run/osmocom/pcu_bts"

const (
	SendQueueMaxMin = 1
	SendQueueMaxMax = 4096

	maxDatagram = 4096
)

// Config tunes the PCU socket.
type Config struct {
	// SocketPath is the UNIX socket address the BTS listens on.
	SocketPath string

	// BTSNr stamps every outbound header.
	BTSNr uint8

	// SendQueueMax bounds the per-connection write queue; reaching it
	// closes the connection and declares the PCU lost.
	SendQueueMax int

	// RetryInterval is defaulted to one second by Valid; Conn does not
	// read it and makes no listen or accept retries itself.
	RetryInterval time.Duration
}

// Valid fills defaults and range-checks, mutating in place.
func (c *Config) Valid() error {
	if c == nil {
		return errors.New("pcu: nil config")
	}
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.SendQueueMax == 0 {
		c.SendQueueMax = 256
	} else if c.SendQueueMax < SendQueueMaxMin || c.SendQueueMax > SendQueueMaxMax {
		return errors.New("pcu: SendQueueMax out of range")
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = time.Second
	}
	return nil
}

// Handlers is what the BTS core registers against inbound PCU
// primitives.
type Handlers struct {
	OnDataReq func(DataReq)
	OnActReq  func(ActReq)
	OnTxt     func(TxtInd)
}

// Events is how the connection reports lifecycle changes upward.
type Events struct {
	// OnConnect fires once the version handshake succeeded; the core
	// responds by sending INFO-IND when its prerequisites are known.
	OnConnect func()

	// OnDisconnect fires on EOF, write overflow or version mismatch;
	// the core deactivates all PDCH timeslots.
	OnDisconnect func()
}

// ErrVersionMismatch closes the link when TXT-IND(version) disagrees.
var ErrVersionMismatch = errors.New("pcu: protocol version mismatch")

// ErrQueueOverflow closes the link when the bounded send queue is full.
var ErrQueueOverflow = errors.New("pcu: send queue overflow, connection dropped")

// Conn is one PCU connection over a SEQPACKET socket. The stdlib net
// package has no SOCK_SEQPACKET dialer, so the socket is owned and
// driven directly through x/sys/unix.
type Conn struct {
	log clog.Clog
	cfg Config

	handlers Handlers
	events   Events

	mu        sync.Mutex
	fd        int
	connected bool
	verified  bool
	sendq     [][]byte
	instance  string

	// pdchActive records the timeslots exposed to the PCU, for
	// deactivation on disconnect and INFO-IND replay on reconnect.
	pdchActive map[btsmodel.Index]bool

	pendingInfo *InfoInd
}

// NewConn creates an unconnected PCU endpoint.
func NewConn(log clog.Clog, cfg Config, h Handlers, ev Events) (*Conn, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	return &Conn{
		log:        log,
		cfg:        cfg,
		handlers:   h,
		events:     ev,
		fd:         -1,
		pdchActive: map[btsmodel.Index]bool{},
	}, nil
}

// Listen binds the SEQPACKET socket and returns the listener fd; the
// main loop polls it and calls Accept when readable.
func (c *Conn) Listen() (int, error) {
	_ = unix.Unlink(c.cfg.SocketPath)
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("pcu: socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: c.cfg.SocketPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pcu: bind %s: %w", c.cfg.SocketPath, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("pcu: listen: %w", err)
	}
	return fd, nil
}

// Accept takes one PCU client connection from the listener fd. A second
// client is refused while one is up.
func (c *Conn) Accept(listenFD int) error {
	fd, _, err := unix.Accept(listenFD)
	if err != nil {
		return fmt.Errorf("pcu: accept: %w", err)
	}
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		unix.Close(fd)
		return errors.New("pcu: already connected, refusing second client")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		c.mu.Unlock()
		unix.Close(fd)
		return fmt.Errorf("pcu: set nonblock: %w", err)
	}
	c.fd = fd
	c.connected = true
	c.verified = false
	c.instance = xid.New().String()
	c.mu.Unlock()

	c.log.Debug("PCU connected, instance %s", c.instance)

	// version handshake: we announce ours first, the PCU answers with
	// its own TXT-IND(version)
	return c.send(TxtInd{Type: TxtVersion, Text: fmt.Sprintf("%d", Version)}.Encode(c.cfg.BTSNr))
}

// Connected reports whether a PCU is attached and the handshake is
// done. Implements btsmodel.PCUConn.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.verified
}

// FD returns the connection's fd for the main poll loop, or -1.
func (c *Conn) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return -1
	}
	return c.fd
}

// send enqueues one datagram behind the bounded write queue and flushes
// what the socket will take; overflow closes the connection.
func (c *Conn) send(dgram []byte) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return errors.New("pcu: not connected")
	}
	if len(c.sendq) >= c.cfg.SendQueueMax {
		c.mu.Unlock()
		c.teardown()
		return ErrQueueOverflow
	}
	c.sendq = append(c.sendq, dgram)
	c.mu.Unlock()
	return c.Flush()
}

// Flush writes queued datagrams until the socket blocks.
func (c *Conn) Flush() error {
	c.mu.Lock()
	for len(c.sendq) > 0 {
		n, err := unix.Write(c.fd, c.sendq[0])
		if err == unix.EAGAIN {
			c.mu.Unlock()
			return nil
		}
		if err != nil {
			c.mu.Unlock()
			c.teardown()
			return fmt.Errorf("pcu: write: %w", err)
		}
		if n != len(c.sendq[0]) {
			c.log.Warn("short PCU write: %d of %d", n, len(c.sendq[0]))
		}
		c.sendq = c.sendq[1:]
	}
	c.mu.Unlock()
	return nil
}

// Poll reads and dispatches every datagram currently queued on the
// socket. Returns false when the connection died (EOF or error).
func (c *Conn) Poll() bool {
	buf := make([]byte, maxDatagram)
	for {
		c.mu.Lock()
		fd, connected := c.fd, c.connected
		c.mu.Unlock()
		if !connected {
			return false
		}
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN {
			return true
		}
		if err != nil || n == 0 {
			c.log.Warn("PCU socket closed: n=%d err=%v", n, err)
			c.teardown()
			return false
		}
		if err := c.dispatch(append([]byte(nil), buf[:n]...)); err != nil {
			c.log.Error("PCU dispatch: %v", err)
			if errors.Is(err, ErrVersionMismatch) {
				c.teardown()
				return false
			}
		}
	}
}

func (c *Conn) dispatch(raw []byte) error {
	h, err := decodeHeader(raw)
	if err != nil {
		return err
	}
	switch h.MsgType {
	case MsgTxtInd:
		txt, err := DecodeTxtInd(raw)
		if err != nil {
			return err
		}
		if txt.Type == TxtVersion {
			return c.handleVersion(txt)
		}
		if c.handlers.OnTxt != nil {
			c.handlers.OnTxt(txt)
		}
		return nil
	case MsgDataReq:
		req, err := DecodeDataReq(raw)
		if err != nil {
			return err
		}
		if c.handlers.OnDataReq != nil {
			c.handlers.OnDataReq(req)
		}
		return nil
	case MsgActReq:
		req, err := DecodeActReq(raw)
		if err != nil {
			return err
		}
		if c.handlers.OnActReq != nil {
			c.handlers.OnActReq(req)
		}
		return nil
	default:
		return fmt.Errorf("pcu: unhandled message type 0x%02x", byte(h.MsgType))
	}
}

func (c *Conn) handleVersion(txt TxtInd) error {
	var v int
	if _, err := fmt.Sscanf(txt.Text, "%d", &v); err != nil {
		return fmt.Errorf("%w: unparseable version %q", ErrVersionMismatch, txt.Text)
	}
	if v != Version {
		return fmt.Errorf("%w: theirs %d, ours %d", ErrVersionMismatch, v, Version)
	}
	c.mu.Lock()
	c.verified = true
	info := c.pendingInfo
	c.pendingInfo = nil
	c.mu.Unlock()

	if c.events.OnConnect != nil {
		c.events.OnConnect()
	}
	// INFO-IND queued while disconnected is delivered now
	if info != nil {
		return c.SendInfoInd(*info)
	}
	return nil
}

// SendInfoInd announces the BTS configuration, or queues it for the
// next connect when no PCU is attached.
func (c *Conn) SendInfoInd(info InfoInd) error {
	info.Version = Version
	c.mu.Lock()
	if !c.connected || !c.verified {
		c.pendingInfo = &info
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.send(info.Encode(c.cfg.BTSNr))
}

// SendDataInd forwards an uplink PDTCH block.
func (c *Conn) SendDataInd(ind DataInd) error { return c.send(ind.Encode(c.cfg.BTSNr)) }

// SendRachInd forwards a packet-access RACH burst.
func (c *Conn) SendRachInd(ind RachInd) error { return c.send(ind.Encode(c.cfg.BTSNr)) }

// SendTimeInd ticks the PCU frame clock.
func (c *Conn) SendTimeInd(fn uint32) error { return c.send(TimeInd{FN: fn}.Encode(c.cfg.BTSNr)) }

// SendInterfInd reports per-TS interference averages.
func (c *Conn) SendInterfInd(ind InterfInd) error { return c.send(ind.Encode(c.cfg.BTSNr)) }

// SendPagReq forwards a CS paging to the packet side.
func (c *Conn) SendPagReq(req PagReq) error { return c.send(req.Encode(c.cfg.BTSNr)) }

// SendSuspReq forwards a GPRS Suspend.
func (c *Conn) SendSuspReq(req SuspReq) error { return c.send(req.Encode(c.cfg.BTSNr)) }

// SendAppInfoReq pushes an ETWS primary notification.
func (c *Conn) SendAppInfoReq(req AppInfoReq) error { return c.send(req.Encode(c.cfg.BTSNr)) }

// NotifyPDCHState implements sched.PCUNotifier: it records which
// timeslots the PCU owns so they can be torn down on disconnect.
func (c *Conn) NotifyPDCHState(idx btsmodel.Index, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.pdchActive[idx] = true
	} else {
		delete(c.pdchActive, idx)
	}
}

// ActivePDCH returns the timeslots currently exposed to the PCU.
func (c *Conn) ActivePDCH() []btsmodel.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]btsmodel.Index, 0, len(c.pdchActive))
	for idx := range c.pdchActive {
		out = append(out, idx)
	}
	return out
}

// teardown tears the connection down and fires OnDisconnect exactly
// once. PDCH state is kept so the wiring layer can deactivate each TS.
func (c *Conn) teardown() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	fd := c.fd
	c.connected = false
	c.verified = false
	c.fd = -1
	c.sendq = nil
	c.mu.Unlock()

	unix.Close(fd)
	if c.events.OnDisconnect != nil {
		c.events.OnDisconnect()
	}
}

// Close shuts the connection down from the BTS side.
func (c *Conn) Close() { c.teardown() }
