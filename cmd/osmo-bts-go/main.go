// Command osmo-bts-go is the BTS core process: it terminates the Um
// side through the PHY's L1-SAP primitives and the A-bis side through
// the RSL/OML engines, owns the common-channel schedulers and the PCU
// socket, and exposes Prometheus metrics. Flags select the config
// file path, identity override and daemonize. Exit codes: 0 normal, 1
// startup failure, 2 configuration error.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/rob-gra/osmo-bts-go/btsmodel"
	"github.com/rob-gra/osmo-bts-go/clog"
	"github.com/rob-gra/osmo-bts-go/gsmtime"
	"github.com/rob-gra/osmo-bts-go/jitbuf"
	"github.com/rob-gra/osmo-bts-go/l1sap"
	"github.com/rob-gra/osmo-bts-go/metrics"
	"github.com/rob-gra/osmo-bts-go/oml"
	"github.com/rob-gra/osmo-bts-go/paging"
	"github.com/rob-gra/osmo-bts-go/pcu"
	"github.com/rob-gra/osmo-bts-go/rsl"
	"github.com/rob-gra/osmo-bts-go/rtpendpoint"
	"github.com/rob-gra/osmo-bts-go/sched"
)

const (
	exitOK          = 0
	exitStartup     = 1
	exitConfigError = 2
)

// app is the process-wide handle struct: created once in run(),
// passed by reference everywhere; there is no BTS singleton.
type app struct {
	log clog.Clog

	bts *btsmodel.BTS

	pq   *paging.Queue
	agch *paging.AGCH
	cbch *paging.CBCH

	sched *sched.Scheduler
	disp  *l1sap.Dispatcher
	rsl   *rsl.Engine
	oml   *oml.Engine
	pcu   *pcu.Conn

	abis *abisQueue

	mu        sync.Mutex
	endpoints []*rtpendpoint.Endpoint
}

// signalSetup guards the one-time signal-handler registration.
var signalSetup sync.Once

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("c", "/etc/osmocom/osmo-bts.cfg", "configuration file path")
	unitID := flag.String("i", "", "identity override as site_id/bts_id, e.g. 1801/0")
	daemonize := flag.Bool("D", false, "fork into background after startup")
	metricsAddr := flag.String("m", ":9101", "prometheus metrics listen address")
	pcuPath := flag.String("p", pcu.DefaultSocketPath, "PCU socket path")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := clog.NewLogger("main")
	log.LogMode(true)

	if _, err := os.Stat(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "config file %s: %v\n", *configPath, err)
		return exitConfigError
	}

	ident := btsmodel.Identity{SiteID: 1801}
	if *unitID != "" {
		var site uint16
		var btsNr uint8
		if _, err := fmt.Sscanf(*unitID, "%d/%d", &site, &btsNr); err != nil {
			fmt.Fprintf(os.Stderr, "identity override %q: want site_id/bts_id\n", *unitID)
			return exitConfigError
		}
		ident.SiteID = site
		ident.BTSID = btsNr
	}

	a, err := setup(log, ident, *pcuPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		return exitStartup
	}

	if *daemonize {
		// the traditional double-fork is the init system's business
		// nowadays; the flag is kept for command-line compatibility
		log.Warn("-D requested; run under a process supervisor instead")
	}

	coll := metrics.New(a.pq, a.agch, a.cbch, a.pcu, a.jitterStats)
	prometheus.MustRegister(coll)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Error("metrics listener: %v", err)
		}
	}()

	signalSetup.Do(func() {
		// SIGTERM handling rides on the poll loop's EINTR return; no
		// handler body is needed beyond registration
	})

	return a.mainLoop()
}

// setup builds the handle struct: model, schedulers, queues, protocol
// engines, PCU socket.
func setup(log clog.Clog, ident btsmodel.Identity, pcuPath string) (*app, error) {
	bts, err := btsmodel.NewBTS(ident, 1)
	if err != nil {
		return nil, err
	}

	pcfg := paging.DefaultConfig()
	a := &app{
		log:  log,
		bts:  bts,
		pq:   paging.NewQueue(pcfg),
		agch: paging.NewAGCH(pcfg.AGCHHiWat),
		cbch: paging.NewCBCH(pcfg),
		abis: &abisQueue{},
	}

	pconn, err := pcu.NewConn(clog.NewLogger("pcu"), pcu.Config{SocketPath: pcuPath},
		pcu.Handlers{
			OnDataReq: a.onPCUDataReq,
			OnActReq:  a.onPCUActReq,
		}, pcu.Events{
			OnConnect:    a.onPCUConnect,
			OnDisconnect: a.onPCULost,
		})
	if err != nil {
		return nil, err
	}
	a.pcu = pconn
	bts.PCU = pconn

	composer := sched.NewComposer(bts, a.pq, a.agch, a.cbch)
	a.sched = sched.New(clog.NewLogger("sched"), bts, composer, nil, nil)

	a.rsl = rsl.New(clog.NewLogger("rsl"), bts, 0, a.abis, phyStub{}, lapdmStub{},
		a.pq, a.agch, a.cbch)
	a.rsl.SetClockSource(a.sched.CurrentFN)
	a.rsl.SetETWSForwarder(func(data []byte) {
		if err := a.pcu.SendAppInfoReq(pcu.AppInfoReq{AppType: 1, Data: data}); err != nil {
			a.log.Warn("ETWS APP-INFO-REQ: %v", err)
		}
	})

	a.oml = oml.New(clog.NewLogger("oml"), bts, omlLink{a.abis})
	a.oml.SetChannelConfiguredHook(a.onChannelConfigured)

	a.disp = l1sap.New(clog.NewLogger("l1sap"), l1sap.Handlers{
		OnPHRTS:      a.onPHRTS,
		OnPHData:     a.onPHData,
		OnPHRach:     a.onPHRach,
		OnMPHInfoInd: a.onMPHInfoInd,
	}, nil)

	return a, nil
}

// onChannelConfigured installs the multiframe table matching a Channel
// MO's combination.
func (a *app) onChannelConfigured(inst oml.ObjInst, comb byte) {
	trx, err := a.bts.TRXAt(inst.TRX)
	if err != nil {
		return
	}
	ts, err := trx.TSAt(inst.TS)
	if err != nil {
		return
	}
	switch ts.PchanIs {
	case btsmodel.PchanCCCHSDCCH4:
		ts.MFIndex = sched.MFIdxCCCHCombined
	case btsmodel.PchanCCCH:
		ts.MFIndex = sched.MFIdxCCCHOnly
	case btsmodel.PchanSDCCH8:
		ts.MFIndex = sched.MFIdxSDCCH8
	case btsmodel.PchanTCHHalf:
		ts.MFIndex = sched.MFIdxTCHHalf
	default:
		ts.MFIndex = sched.MFIdxTCHFull
	}
}

// onPHRTS pulls the scheduled downlink block for the requested burst.
func (a *app) onPHRTS(ind l1sap.PHRTSInd) (l1sap.PHDataReq, error) {
	idx := btsmodel.Index{TRX: 0, TS: uint8(ind.ChanNr) & 0x07}
	payload, err := a.sched.Dispatch(idx, ind.FN)
	if err != nil {
		return l1sap.PHDataReq{}, err
	}
	return l1sap.PHDataReq{ChanNr: ind.ChanNr, LinkID: ind.LinkID, FN: ind.FN, Payload: payload}, nil
}

// onPHData feeds an uplink block into the dedup path and the per-lchan
// measurement ring.
func (a *app) onPHData(ind l1sap.PHDataInd) error {
	idx := btsmodel.Index{TRX: 0, TS: uint8(ind.ChanNr) & 0x07}
	isNew, _, err := a.sched.DispatchUplink(idx, ind.FN, ind.Payload)
	if err != nil || !isNew {
		return err
	}
	if lchan, err := a.bts.Lookup(idx); err == nil && lchan.State == btsmodel.StateActive {
		m := &lchan.Meas
		if m.Count < btsmodel.MeasRingSize {
			m.Ring[m.Count] = btsmodel.MeasSample{
				FN: ind.FN, Ber10k: ind.Ber10k, TOA256: ind.TA256,
				RSSI: ind.RSSI, CI_cB: ind.LQualCB, IsSub: ind.IsSub,
			}
			m.Count++
		}
	}
	return nil
}

// onPHRach converts an Access Burst into RSL CHAN-RQD toward the BSC
// and, for packet access on PDCH timeslots, a PCU RACH-IND.
func (a *app) onPHRach(ind l1sap.PHRachInd) error {
	if err := a.abis.Send(rsl.ChanRqd(ind.RA, ind.FN, ind.AccDelay)); err != nil {
		return err
	}
	if a.pcu.Connected() {
		return a.pcu.SendRachInd(pcu.RachInd{
			RA: uint16(ind.RA), FN: ind.FN, QTA: ind.AccDelay256,
			Is11Bit: boolByte(ind.Is11Bit), BurstType: ind.BurstType,
		})
	}
	return nil
}

// onMPHInfoInd advances the frame clock on TIME and mirrors the
// tick to the PCU.
func (a *app) onMPHInfoInd(ind l1sap.MPHInfoInd) error {
	if ind.Type != l1sap.MPHTime {
		return nil
	}
	a.sched.AdvanceClock(gsmtime.FN(ind.FN))
	if a.pcu.Connected() {
		return a.pcu.SendTimeInd(ind.FN)
	}
	return nil
}

// onPCUConnect replays INFO-IND from the current OML state.
func (a *app) onPCUConnect() {
	id := a.bts.Identity
	info := pcu.InfoInd{LAC: id.LAC, RAC: id.RAC, CI: id.CI, BSIC: id.BSIC}
	for _, idx := range a.pcu.ActivePDCH() {
		if idx.TRX < 8 {
			info.PDCHMask[idx.TRX] |= 1 << idx.TS
		}
	}
	if err := a.pcu.SendInfoInd(info); err != nil {
		a.log.Warn("INFO-IND: %v", err)
	}
}

// onPCUDataReq would hand the downlink PDTCH block to the PHY; the PHY
// backend registers the actual transmit hook.
func (a *app) onPCUDataReq(req pcu.DataReq) {
	a.log.Debug("PCU DATA-REQ trx=%d ts=%d fn=%d len=%d", req.TRX, req.TS, req.FN, len(req.Data))
}

// onPCUActReq drives the dynamic-TS machinery on behalf of the PCU.
func (a *app) onPCUActReq(req pcu.ActReq) {
	idx := btsmodel.Index{TRX: req.TRX, TS: req.TS}
	a.pcu.NotifyPDCHState(idx, req.Activate != 0)
}

// onPCULost deactivates every PDCH timeslot when the PCU disappears
//.
func (a *app) onPCULost() {
	for _, idx := range a.pcu.ActivePDCH() {
		if ts, err := a.bts.TRX[idx.TRX].TSAt(idx.TS); err == nil {
			ts.PchanIs = btsmodel.PchanTCHFull
			ts.EndDynTransition()
		}
		a.pcu.NotifyPDCHState(idx, false)
	}
}

func (a *app) jitterStats() []jitbuf.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]jitbuf.Stats, 0, len(a.endpoints))
	for _, e := range a.endpoints {
		out = append(out, e.JitterStats())
	}
	return out
}

// mainLoop is the single-threaded cooperative core: one poll loop
// over the PCU listener and connection. The A-bis transport and the PHY
// feed attach through the abisQueue and the l1sap dispatcher; the
// model-specific backend drives them from the same loop.
func (a *app) mainLoop() int {
	listenFD, err := a.pcu.Listen()
	if err != nil {
		a.log.Error("pcu listen: %v", err)
		return exitStartup
	}

	for {
		fds := []unix.PollFd{{Fd: int32(listenFD), Events: unix.POLLIN}}
		if cfd := a.pcu.FD(); cfd >= 0 {
			fds = append(fds, unix.PollFd{Fd: int32(cfd), Events: unix.POLLIN | unix.POLLOUT})
		}
		n, err := unix.Poll(fds, 1000)
		if err != nil && err != unix.EINTR {
			a.log.Error("poll: %v", err)
			return exitStartup
		}
		if n <= 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if err := a.pcu.Accept(listenFD); err != nil {
				a.log.Warn("pcu accept: %v", err)
			}
		}
		if len(fds) > 1 {
			if fds[1].Revents&unix.POLLIN != 0 {
				a.pcu.Poll()
			}
			if fds[1].Revents&unix.POLLOUT != 0 {
				if err := a.pcu.Flush(); err != nil {
					a.log.Warn("pcu flush: %v", err)
				}
			}
		}
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// abisQueue buffers outbound RSL/OML PDUs for the IPA transport, which
// drains it from the main loop once the BSC link is up.
type abisQueue struct {
	mu sync.Mutex
	q  [][]byte
}

// Send implements rsl.Link.
func (a *abisQueue) Send(m *rsl.Message) error {
	return a.push(m.Encode())
}

// omlLink adapts the shared queue to oml.Link's raw-bytes signature.
type omlLink struct{ q *abisQueue }

func (l omlLink) Send(raw []byte) error { return l.q.push(raw) }

func (a *abisQueue) push(raw []byte) error {
	a.mu.Lock()
	a.q = append(a.q, raw)
	a.mu.Unlock()
	return nil
}

// Drain hands the queued PDUs to the transport.
func (a *abisQueue) Drain() [][]byte {
	a.mu.Lock()
	out := a.q
	a.q = nil
	a.mu.Unlock()
	return out
}

// phyStub is the PHY trait attach point; the model backend overrides it
// with the real driver. The stub confirms synchronously so bring-up can
// be exercised without hardware.
type phyStub struct{}

func (phyStub) LchanActivate(idx btsmodel.Index) error                      { return nil }
func (phyStub) LchanDeactivate(idx btsmodel.Index) error                    { return nil }
func (phyStub) LchanModify(idx btsmodel.Index, mode btsmodel.ChanMode) error { return nil }
func (phyStub) ActivateCipher(idx btsmodel.Index, downlink bool) error      { return nil }

// lapdmStub stands in for the LAPDm library boundary.
type lapdmStub struct{}

func (lapdmStub) Forward(idx btsmodel.Index, raw []byte) error            { return nil }
func (lapdmStub) DataReq(idx btsmodel.Index, sapi uint8, l3 []byte) error { return nil }
func (lapdmStub) UIReq(idx btsmodel.Index, sapi uint8, l3 []byte) error   { return nil }
