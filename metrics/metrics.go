// Package metrics exposes the BTS's operational counters as a
// Prometheus collector, following the custom Describe/Collect collector
// shape rather than pre-registered vectors, so the gauges always
// reflect the live queue and link state at scrape time.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rob-gra/osmo-bts-go/jitbuf"
	"github.com/rob-gra/osmo-bts-go/paging"
)

// PCUState reports the PCU link for the gauge.
type PCUState interface {
	Connected() bool
}

// Collector gathers paging/AGCH/CBCH depths, congestion state, radio
// link failures, jitter buffer counters and PCU link state.
type Collector struct {
	mu sync.Mutex

	pq   *paging.Queue
	agch *paging.AGCH
	cbch *paging.CBCH
	pcu  PCUState

	// endpoints yields the current jitter buffer stats per active TCH.
	endpoints func() []jitbuf.Stats

	connFails uint64

	descPagingLen     *prometheus.Desc
	descPagingCong    *prometheus.Desc
	descAGCHLen       *prometheus.Desc
	descCBCHLen       *prometheus.Desc
	descConnFails     *prometheus.Desc
	descPCUUp         *prometheus.Desc
	descJitUnderruns  *prometheus.Desc
	descJitThinned    *prometheus.Desc
	descJitHandovers  *prometheus.Desc
}

// New creates a collector over the given live structures. endpoints may
// be nil when no voice plane exists yet.
func New(pq *paging.Queue, agch *paging.AGCH, cbch *paging.CBCH, pcu PCUState, endpoints func() []jitbuf.Stats) *Collector {
	ns := "osmobts"
	return &Collector{
		pq:        pq,
		agch:      agch,
		cbch:      cbch,
		pcu:       pcu,
		endpoints: endpoints,

		descPagingLen: prometheus.NewDesc(ns+"_paging_queue_length",
			"Total queued paging records across all paging groups", nil, nil),
		descPagingCong: prometheus.NewDesc(ns+"_paging_congested",
			"1 while the paging queue is in CS-priority congestion mode", nil, nil),
		descAGCHLen: prometheus.NewDesc(ns+"_agch_queue_length",
			"Immediate Assignment blocks waiting on the AGCH", nil, nil),
		descCBCHLen: prometheus.NewDesc(ns+"_cbch_queue_length",
			"SMSCB pages waiting per CBCH channel", []string{"channel"}, nil),
		descConnFails: prometheus.NewDesc(ns+"_radio_link_failures_total",
			"CONN-FAIL messages sent after radio link timeout", nil, nil),
		descPCUUp: prometheus.NewDesc(ns+"_pcu_connected",
			"1 while a PCU is attached and version-verified", nil, nil),
		descJitUnderruns: prometheus.NewDesc(ns+"_jitter_underruns_total",
			"Jitter buffer underrun events summed over active TCH lchans", nil, nil),
		descJitThinned: prometheus.NewDesc(ns+"_jitter_thinned_total",
			"Quanta dropped by jitter buffer thinning", nil, nil),
		descJitHandovers: prometheus.NewDesc(ns+"_jitter_handovers_total",
			"Jitter buffer SSRC handovers", nil, nil),
	}
}

// CountConnFail increments the radio-link-failure counter.
func (c *Collector) CountConnFail() {
	c.mu.Lock()
	c.connFails++
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.descPagingLen
	descs <- c.descPagingCong
	descs <- c.descAGCHLen
	descs <- c.descCBCHLen
	descs <- c.descConnFails
	descs <- c.descPCUUp
	descs <- c.descJitUnderruns
	descs <- c.descJitThinned
	descs <- c.descJitHandovers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	connFails := c.connFails
	c.mu.Unlock()

	metrics <- prometheus.MustNewConstMetric(c.descPagingLen, prometheus.GaugeValue, float64(c.pq.Len()))
	cong := 0.0
	if c.pq.Congested() {
		cong = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.descPagingCong, prometheus.GaugeValue, cong)
	metrics <- prometheus.MustNewConstMetric(c.descAGCHLen, prometheus.GaugeValue, float64(c.agch.Len()))

	basicDepth, _, _ := c.cbch.LoadLevel(paging.CBCHBasic)
	extDepth, _, _ := c.cbch.LoadLevel(paging.CBCHExtended)
	metrics <- prometheus.MustNewConstMetric(c.descCBCHLen, prometheus.GaugeValue, float64(basicDepth), "basic")
	metrics <- prometheus.MustNewConstMetric(c.descCBCHLen, prometheus.GaugeValue, float64(extDepth), "extended")

	metrics <- prometheus.MustNewConstMetric(c.descConnFails, prometheus.CounterValue, float64(connFails))

	up := 0.0
	if c.pcu != nil && c.pcu.Connected() {
		up = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.descPCUUp, prometheus.GaugeValue, up)

	var underruns, thinned, handovers uint64
	if c.endpoints != nil {
		for _, st := range c.endpoints() {
			underruns += st.Underruns
			thinned += st.Thinned
			handovers += st.Handovers
		}
	}
	metrics <- prometheus.MustNewConstMetric(c.descJitUnderruns, prometheus.CounterValue, float64(underruns))
	metrics <- prometheus.MustNewConstMetric(c.descJitThinned, prometheus.CounterValue, float64(thinned))
	metrics <- prometheus.MustNewConstMetric(c.descJitHandovers, prometheus.CounterValue, float64(handovers))
}

var _ prometheus.Collector = (*Collector)(nil)
