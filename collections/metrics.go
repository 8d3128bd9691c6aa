package collections

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
)

// Structs

// Metrics counts what a Manager does. All counters are
// labeled with the name of the group by the Manager.
type Metrics struct {
	UpdatesSent        metrics.Counter
	UpdatesApplied     metrics.Counter
	UpdatesSkipped     metrics.Counter
	DecodeFailures     metrics.Counter
	ApplyFailures      metrics.Counter
	SnapshotsServed    metrics.Counter
	SnapshotsInstalled metrics.Counter
}

// Functions

// NewDiscardMetrics returns Metrics that record nothing.
func NewDiscardMetrics() *Metrics {

	return &Metrics{
		UpdatesSent:        discard.NewCounter(),
		UpdatesApplied:     discard.NewCounter(),
		UpdatesSkipped:     discard.NewCounter(),
		DecodeFailures:     discard.NewCounter(),
		ApplyFailures:      discard.NewCounter(),
		SnapshotsServed:    discard.NewCounter(),
		SnapshotsInstalled: discard.NewCounter(),
	}
}

// with binds all counters to one group.
func (m *Metrics) with(group string) *Metrics {

	return &Metrics{
		UpdatesSent:        m.UpdatesSent.With("group", group),
		UpdatesApplied:     m.UpdatesApplied.With("group", group),
		UpdatesSkipped:     m.UpdatesSkipped.With("group", group),
		DecodeFailures:     m.DecodeFailures.With("group", group),
		ApplyFailures:      m.ApplyFailures.With("group", group),
		SnapshotsServed:    m.SnapshotsServed.With("group", group),
		SnapshotsInstalled: m.SnapshotsInstalled.With("group", group),
	}
}
