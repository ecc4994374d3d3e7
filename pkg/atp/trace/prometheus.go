package trace

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes the protocol's trace points as gauges, scraped by
// cmd/atp-sim's "run --metrics-addr" HTTP endpoint. This is the same
// third-party metrics stack m-lab-etl, a sibling repo in this project's
// retrieval pack, uses for its own pipeline instrumentation.
type PrometheusSink struct {
	window     prometheus.Gauge
	windowEcn  prometheus.Counter
	txGbps     prometheus.Gauge
	rxGbps     prometheus.Gauge
}

// NewPrometheusSink registers its metrics with reg under the given label
// (typically a worker or coordinator identity) and returns a Sink.
func NewPrometheusSink(reg prometheus.Registerer, label string) (*PrometheusSink, error) {
	s := &PrometheusSink{
		window: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "atp_congestion_window",
			Help:        "Current worker congestion window in packets.",
			ConstLabels: prometheus.Labels{"peer": label},
		}),
		windowEcn: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "atp_ecn_marked_acks_total",
			Help:        "Count of ACKs observed with the ECN bit set.",
			ConstLabels: prometheus.Labels{"peer": label},
		}),
		txGbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "atp_tx_gbps",
			Help:        "Transmit throughput in Gbps over the last reporting interval.",
			ConstLabels: prometheus.Labels{"peer": label},
		}),
		rxGbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "atp_rx_gbps",
			Help:        "Receive throughput in Gbps over the last reporting interval.",
			ConstLabels: prometheus.Labels{"peer": label},
		}),
	}
	for _, c := range []prometheus.Collector{s.window, s.windowEcn, s.txGbps, s.rxGbps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) WindowSize(sample WindowSample) {
	s.window.Set(float64(sample.Window))
	if sample.Ecn {
		s.windowEcn.Inc()
	}
}

func (s *PrometheusSink) Throughput(sample ThroughputSample) {
	s.txGbps.Set(sample.TxGbps)
	s.rxGbps.Set(sample.RxGbps)
}
