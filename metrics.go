package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-pluto/clustered/collections"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Functions

func newCounter(name string, help string) *prometheus.Counter {

	return prometheus.NewCounterFrom(prom.CounterOpts{
		Namespace: "clustered",
		Subsystem: "replication",
		Name:      name,
		Help:      help,
	}, []string{"group"})
}

// NewClusteredMetrics returns prometheus backed replication
// metrics, or ones that discard everything if no address
// to expose them on was configured.
func NewClusteredMetrics(promAddr string) *collections.Metrics {

	if promAddr == "" {
		return collections.NewDiscardMetrics()
	}

	return &collections.Metrics{
		UpdatesSent:        newCounter("updates_sent_total", "Number of updates broadcast after a local mutation"),
		UpdatesApplied:     newCounter("updates_applied_total", "Number of updates of other members applied locally"),
		UpdatesSkipped:     newCounter("updates_skipped_total", "Number of updates skipped because a snapshot covered them"),
		DecodeFailures:     newCounter("decode_failures_total", "Number of dropped updates that did not decode"),
		ApplyFailures:      newCounter("apply_failures_total", "Number of updates that failed to apply locally"),
		SnapshotsServed:    newCounter("snapshots_served_total", "Number of snapshots provided to joining members"),
		SnapshotsInstalled: newCounter("snapshots_installed_total", "Number of snapshots installed while joining"),
	}
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
