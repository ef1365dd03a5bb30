package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

// maxReports bounds how many reports one snapshot reads.
const maxReports = 1000

// Snapshot summarizes run history over a lookback window.
type Snapshot struct {
	Runs              int     `json:"runs"`
	CompletedRuns     int     `json:"completed_runs"`
	FatalRuns         int     `json:"fatal_runs"`
	FarmsEvaluated    int     `json:"farms_evaluated"`
	FarmsFailed       int     `json:"farms_failed"`
	FailRate          float64 `json:"fail_rate"`
	CostUSD           float64 `json:"cost_usd"`
	AlertsDispatched  int     `json:"alerts_dispatched"`
	AlertsUndelivered int     `json:"alerts_undelivered"`

	LastRunID     string    `json:"last_run_id,omitempty"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ReportLister is the part of store.Reports the collector reads.
type ReportLister interface {
	ListReports(ctx context.Context, filter store.ReportFilter) ([]model.RunReport, error)
}

// Collector builds snapshots from stored run reports.
type Collector struct {
	reports ReportLister
	now     func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(reports ReportLister) *Collector {
	return &Collector{reports: reports, now: time.Now}
}

// Collect summarizes reports started within the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	reports, err := c.reports.ListReports(ctx, store.ReportFilter{Since: cutoff, Limit: maxReports})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list run reports")
	}

	for _, r := range reports {
		snap.Runs++
		switch r.Status {
		case model.RunStatusCompleted:
			snap.CompletedRuns++
		case model.RunStatusFatal:
			snap.FatalRuns++
		}
		snap.FarmsEvaluated += r.Total()
		snap.FarmsFailed += r.Counts[model.OutcomeFailedTransient] + r.Counts[model.OutcomeFailedPermanent]
		snap.CostUSD += r.CostUSD
		snap.AlertsDispatched += r.AlertsDispatched
		snap.AlertsUndelivered += r.AlertsUndelivered

		if r.StartedAt.After(snap.LastRunAt) {
			snap.LastRunAt = r.StartedAt
			snap.LastRunID = r.RunID
		}
	}
	if snap.FarmsEvaluated > 0 {
		snap.FailRate = float64(snap.FarmsFailed) / float64(snap.FarmsEvaluated)
	}

	return snap, nil
}
