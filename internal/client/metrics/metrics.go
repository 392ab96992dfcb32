// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics. Every component accepts a *Metrics and
// treats nil as Discard().
type Metrics struct {
	Registry *prometheus.Registry

	// Gate decisions, labels: tier, outcome (allowed or the denial reason)
	GateDecisions *prometheus.CounterVec

	// Local store
	Evictions     prometheus.Counter
	EvictedBytes  prometheus.Counter
	Reductions    prometheus.Counter
	WriteFailures prometheus.Counter

	// Remote mirroring
	SyncQueued  prometheus.Counter
	SyncApplied prometheus.Counter
	SyncSkipped prometheus.Counter
	SyncDead    prometheus.Counter
	Online      prometheus.Gauge // 1 if the remote answered the last ping

	// Identity resolutions, label: source (fingerprint, persisted, synthesized)
	IdentitySource *prometheus.CounterVec
}

// New registers the engine metrics with a fresh registry that also carries
// the standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return newWith(reg)
}

// Discard returns metrics bound to a private registry nobody exposes.
func Discard() *Metrics {
	return newWith(prometheus.NewRegistry())
}

// OrDiscard returns m, or Discard() when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

func newWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datavis_gate_decisions_total",
			Help: "Upload gate decisions by tier and outcome",
		}, []string{"tier", "outcome"}),

		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_store_evictions_total",
			Help: "Records evicted to make room for a write",
		}),
		EvictedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_store_evicted_bytes_total",
			Help: "Payload bytes released by eviction",
		}),
		Reductions: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_store_reductions_total",
			Help: "Records stored in reduced form",
		}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_store_write_failures_total",
			Help: "Writes that failed after eviction and optimization",
		}),

		SyncQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_sync_queued_total",
			Help: "Sync tasks placed on the offline queue",
		}),
		SyncApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_sync_applied_total",
			Help: "Sync operations applied remotely",
		}),
		SyncSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_sync_skipped_total",
			Help: "Queued tasks skipped because their idempotency key was already applied",
		}),
		SyncDead: f.NewCounter(prometheus.CounterOpts{
			Name: "datavis_sync_dead_total",
			Help: "Sync tasks moved to the dead-letter table",
		}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Name: "datavis_remote_online",
			Help: "1 if the remote answered the last ping",
		}),

		IdentitySource: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datavis_identity_resolutions_total",
			Help: "Identity resolutions by source",
		}, []string{"source"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
