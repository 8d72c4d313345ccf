// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package observability

import (
	"net/http"
	"strconv"

	"code.hybscloud.com/streamgw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeUpstream = "upstream_status"
	OutcomeParse    = "parse_error"
	OutcomeFailed   = "failed"
)

// Metrics holds the gateway's prometheus collectors. A nil *Metrics
// records nothing, so components may be built without one.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	exchanges      *prometheus.CounterVec
	upstreamStatus *prometheus.CounterVec
	chunks         prometheus.Counter
	bytes          *prometheus.CounterVec
	acceptErrors   prometheus.Counter
	swept          prometheus.Counter
}

// NewMetrics registers the collectors on registry, or on a fresh
// registry when nil.
func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "streamgw"
	}
	m := &Metrics{
		registry: registry,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Client sessions currently registered in the session table.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Client sessions accepted.",
		}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Request/response exchanges by outcome.",
		}, []string{"outcome"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_responses_total",
			Help:      "Upstream responses by status code.",
		}, []string{"code"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_relayed_total",
			Help:      "Chunks forwarded from upstream to clients.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Payload bytes relayed by direction.",
		}, []string{"direction"}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Failed accept attempts on the listener.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Finished sessions removed from the session table.",
		}),
	}
	registry.MustRegister(
		m.sessionsActive,
		m.sessionsTotal,
		m.exchanges,
		m.upstreamStatus,
		m.chunks,
		m.bytes,
		m.acceptErrors,
		m.swept,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveQueue exports stats as queue gauges and counters, sampled at
// scrape time.
func (m *Metrics) ObserveQueue(namespace string, stats func() streamgw.QueueStats) {
	if m == nil {
		return
	}
	if namespace == "" {
		namespace = "streamgw"
	}
	counter := func(name, help string, f func(streamgw.QueueStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(f(stats())) })
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "workers",
			Help:      "Worker goroutines serving blocking operations.",
		}, func() float64 { return float64(stats().Workers) }),
		counter("submitted_total", "Jobs submitted.", func(s streamgw.QueueStats) uint64 { return s.Submitted }),
		counter("completed_total", "Jobs run to completion.", func(s streamgw.QueueStats) uint64 { return s.Completed }),
		counter("retried_total", "Attempts rescheduled after would-block.", func(s streamgw.QueueStats) uint64 { return s.Retried }),
		counter("overflowed_total", "Jobs placed on the overflow list.", func(s streamgw.QueueStats) uint64 { return s.Overflowed }),
	)
}

// SessionOpened counts an accepted session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
}

// SetActive records the number of sessions in the table.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// Swept counts sessions reclaimed by a sweep.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

// Exchange counts a finished exchange.
func (m *Metrics) Exchange(outcome string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
}

// UpstreamStatus counts an upstream status code.
func (m *Metrics) UpstreamStatus(code int) {
	if m == nil {
		return
	}
	m.upstreamStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Chunk counts one relayed chunk of n bytes.
func (m *Metrics) Chunk(n int) {
	if m == nil {
		return
	}
	m.chunks.Inc()
	m.bytes.WithLabelValues("downstream").Add(float64(n))
}

// Relayed counts n bytes in direction "upstream" or "downstream".
func (m *Metrics) Relayed(direction string, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

// AcceptError counts a failed accept.
func (m *Metrics) AcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// Handler serves the registry in OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
