package model

import (
	"sort"
	"time"
)

// Outcome is the final state of one farm within a run.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailedTransient Outcome = "failed_transient"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	OutcomeSkipped         Outcome = "skipped"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{OutcomeSucceeded, OutcomeFailedTransient, OutcomeFailedPermanent, OutcomeSkipped}

// RunStatus is the run-level verdict.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFatal     RunStatus = "fatal"
)

// UndeliveredAlert is an alert that was decided but never acknowledged by
// the notification transport.
type UndeliveredAlert struct {
	ConditionKey string   `json:"condition_key"`
	Severity     Severity `json:"severity"`
	Reason       string   `json:"reason"`
	Transient    bool     `json:"transient"`
}

// FarmOutcome is the report entry for one farm.
type FarmOutcome struct {
	FarmID            string             `json:"farm_id"`
	Outcome           Outcome            `json:"outcome"`
	Attempts          int                `json:"attempts"`
	ErrorClass        string             `json:"error_class,omitempty"`
	Error             string             `json:"error,omitempty"`
	Delivered         []string           `json:"delivered,omitempty"`
	Undelivered       []UndeliveredAlert `json:"undelivered,omitempty"`
	PartialDeliveries []string           `json:"partial_deliveries,omitempty"`
	CostUSD           float64            `json:"cost_usd,omitempty"`
	DurationMs        int64              `json:"duration_ms"`
}

// RunReport summarizes one daily invocation. It is not safe for concurrent
// use; the orchestrator serializes writes.
type RunReport struct {
	RunID             string                 `json:"run_id"`
	Trigger           string                 `json:"trigger,omitempty"`
	Status            RunStatus              `json:"status"`
	FatalReason       string                 `json:"fatal_reason,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        time.Time              `json:"finished_at,omitempty"`
	ElapsedMs         int64                  `json:"elapsed_ms"`
	Farms             map[string]FarmOutcome `json:"farms"`
	Counts            map[Outcome]int        `json:"counts"`
	AlertsDispatched  int                    `json:"alerts_dispatched"`
	AlertsUndelivered int                    `json:"alerts_undelivered"`
	PartialDeliveries int                    `json:"partial_deliveries"`
	Unresolved        []string               `json:"unresolved,omitempty"`
	CostUSD           float64                `json:"cost_usd"`
}

// NewRunReport creates a report in which every farm starts out Skipped, so a
// farm that is never reached still has exactly one entry.
func NewRunReport(runID string, startedAt time.Time, farmIDs []string) *RunReport {
	r := &RunReport{
		RunID:     runID,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
		Farms:     make(map[string]FarmOutcome, len(farmIDs)),
		Counts:    make(map[Outcome]int, len(Outcomes)),
	}
	for _, id := range farmIDs {
		r.Farms[id] = FarmOutcome{FarmID: id, Outcome: OutcomeSkipped, Error: "not started"}
	}
	return r
}

// Record replaces the entry for o.FarmID. Farms not registered at creation
// are ignored.
func (r *RunReport) Record(o FarmOutcome) bool {
	if _, ok := r.Farms[o.FarmID]; !ok {
		return false
	}
	r.Farms[o.FarmID] = o
	return true
}

// Finalize computes aggregate counts. It is safe to call more than once.
func (r *RunReport) Finalize(finishedAt time.Time) {
	r.FinishedAt = finishedAt
	r.ElapsedMs = finishedAt.Sub(r.StartedAt).Milliseconds()
	r.Counts = make(map[Outcome]int, len(Outcomes))
	for _, o := range Outcomes {
		r.Counts[o] = 0
	}
	r.AlertsDispatched = 0
	r.AlertsUndelivered = 0
	r.PartialDeliveries = 0
	r.CostUSD = 0
	r.Unresolved = nil

	for id, fo := range r.Farms {
		r.Counts[fo.Outcome]++
		r.AlertsDispatched += len(fo.Delivered)
		r.AlertsUndelivered += len(fo.Undelivered)
		r.PartialDeliveries += len(fo.PartialDeliveries)
		r.CostUSD += fo.CostUSD
		if fo.Outcome == OutcomeSkipped {
			r.Unresolved = append(r.Unresolved, id)
		}
	}
	sort.Strings(r.Unresolved)
	if r.Status == RunStatusRunning {
		r.Status = RunStatusCompleted
	}
}

// MarkFatal flags the run as failed as a whole.
func (r *RunReport) MarkFatal(reason string) {
	r.Status = RunStatusFatal
	r.FatalReason = reason
}

// Sorted returns the farm entries ordered by farm ID.
func (r *RunReport) Sorted() []FarmOutcome {
	out := make([]FarmOutcome, 0, len(r.Farms))
	for _, fo := range r.Farms {
		out = append(out, fo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FarmID < out[j].FarmID })
	return out
}

// Total returns the number of farms in the report.
func (r *RunReport) Total() int {
	return len(r.Farms)
}

// FailureRate is the fraction of farms that failed, transiently or not.
func (r *RunReport) FailureRate() float64 {
	if len(r.Farms) == 0 {
		return 0
	}
	failed := 0
	for _, fo := range r.Farms {
		if fo.Outcome == OutcomeFailedTransient || fo.Outcome == OutcomeFailedPermanent {
			failed++
		}
	}
	return float64(failed) / float64(len(r.Farms))
}

// CarryOver returns farm IDs that should be retried first on the next run.
func (r *RunReport) CarryOver() []string {
	var ids []string
	for id, fo := range r.Farms {
		if fo.Outcome == OutcomeSkipped || fo.Outcome == OutcomeFailedTransient {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
