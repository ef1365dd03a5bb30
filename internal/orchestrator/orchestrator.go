// Package orchestrator runs the daily sweep: every farm is evaluated by the
// agent, its alerts decided and deduplicated, then dispatched and committed
// to history. One farm's failure never affects another's.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agri-ai/farm-monitor/internal/agent"
	"github.com/agri-ai/farm-monitor/internal/cost"
	"github.com/agri-ai/farm-monitor/internal/decision"
	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/notify"
	"github.com/agri-ai/farm-monitor/internal/resilience"
	"github.com/agri-ai/farm-monitor/internal/store"
)

// Skip reasons recorded on farms that were never resolved.
const (
	ReasonNotStarted     = "not started"
	ReasonDeadline       = "run deadline exceeded"
	ReasonCancelled      = "run cancelled"
	ReasonBudget         = "cost budget exhausted"
	persistReportTimeout = 30 * time.Second
)

// ReportSink receives every finished report: archives, metrics, ops alerts.
type ReportSink interface {
	Publish(ctx context.Context, report *model.RunReport) error
}

// Deps are the run's collaborators. Reports and Sinks are optional.
type Deps struct {
	Evaluator  agent.Evaluator
	Engine     *decision.Engine
	History    store.History
	Dispatcher notify.Dispatcher
	Reports    store.Reports
	Pricing    *cost.Calculator
	Sinks      []ReportSink
}

// Orchestrator drives daily runs. A value may run more than once; breakers
// and the cost budget are reset per run.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	policy resilience.Policy
	now    func() time.Time
	newID  func() string
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Engine == nil {
		deps.Engine = decision.NewEngine(decision.DefaultDedupWindow)
	}
	if deps.Pricing == nil {
		deps.Pricing = cost.NewCalculator(cost.DefaultRates())
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		policy: resilience.NewPolicy(cfg.Retry),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// run holds the state of one invocation.
type run struct {
	id       string
	log      *zap.Logger
	breakers *resilience.ServiceBreakers
	budget   *cost.Budget

	mu     sync.Mutex
	report *model.RunReport
}

func (r *run) record(o model.FarmOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Record(o)
}

func (r *run) skip(farmID, reason string) {
	r.record(model.FarmOutcome{FarmID: farmID, Outcome: model.OutcomeSkipped, Error: reason})
}

// RunFromRegistry loads the farm set once and runs it. A registry that
// cannot be read makes the run fatal; the report is still returned.
func (o *Orchestrator) RunFromRegistry(ctx context.Context, reg store.Registry, trigger string) *model.RunReport {
	farms, err := reg.ListFarms(ctx)
	if err != nil {
		zap.L().Error("orchestrator: load farm registry", zap.Error(err))
		report := model.NewRunReport(o.newID(), o.now().UTC(), nil)
		report.Trigger = trigger
		report.MarkFatal(fmt.Sprintf("registry unreachable: %v", err))
		report.Finalize(o.now().UTC())
		o.persist(ctx, report)
		return report
	}
	return o.RunDaily(ctx, farms, trigger)
}

// RunDaily evaluates farms in waves of BatchSize with at most Concurrency
// in flight. Every farm gets exactly one report entry. The report is saved
// and published to every sink before it is returned.
func (o *Orchestrator) RunDaily(ctx context.Context, farms []model.Farm, trigger string) *model.RunReport {
	farms = dedupFarms(farms)
	farms = o.carryOverFirst(ctx, farms)

	ids := make([]string, len(farms))
	for i, f := range farms {
		ids[i] = f.ID
	}

	r := &run{
		id:       o.newID(),
		breakers: resilience.NewServiceBreakers(o.cfg.Circuit),
		budget:   cost.NewBudget(o.cfg.MaxRunCostUSD),
	}
	r.log = zap.L().With(zap.String("run_id", r.id))
	r.report = model.NewRunReport(r.id, o.now().UTC(), ids)
	r.report.Trigger = trigger

	r.log.Info("orchestrator: run starting",
		zap.Int("farms", len(farms)),
		zap.Int("concurrency", o.cfg.Concurrency),
		zap.Int("batch_size", o.cfg.BatchSize),
		zap.Int("max_attempts", o.policy.MaxAttempts()),
		zap.Duration("deadline", o.cfg.RunDeadline),
	)

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunDeadline)
	defer cancel()

	o.sweep(runCtx, r, farms)

	if down := r.breakers.Unreachable(); len(down) > 0 {
		r.report.MarkFatal(fmt.Sprintf("dependency unreachable for entire run: %v", down))
	}
	r.report.Finalize(o.now().UTC())

	r.log.Info("orchestrator: run complete",
		zap.String("status", string(r.report.Status)),
		zap.Int("succeeded", r.report.Counts[model.OutcomeSucceeded]),
		zap.Int("failed_transient", r.report.Counts[model.OutcomeFailedTransient]),
		zap.Int("failed_permanent", r.report.Counts[model.OutcomeFailedPermanent]),
		zap.Int("skipped", r.report.Counts[model.OutcomeSkipped]),
		zap.Int("alerts_dispatched", r.report.AlertsDispatched),
		zap.Int("alerts_undelivered", r.report.AlertsUndelivered),
		zap.Float64("cost_usd", r.report.CostUSD),
		zap.Int64("elapsed_ms", r.report.ElapsedMs),
	)

	o.persist(ctx, r.report)
	return r.report
}

func (o *Orchestrator) sweep(ctx context.Context, r *run, farms []model.Farm) {
	for start := 0; start < len(farms); start += o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(farms))
		wave := farms[start:end]

		var g errgroup.Group
		g.SetLimit(o.cfg.Concurrency)

		for i, farm := range wave {
			if reason := o.stopReason(ctx, r); reason != "" {
				o.skipRest(r, append(wave[i:len(wave):len(wave)], farms[end:]...), reason)
				_ = g.Wait()
				return
			}
			g.Go(func() error {
				// The budget may have run out while this farm waited for a slot.
				if reason := o.stopReason(ctx, r); reason != "" {
					r.skip(farm.ID, reason)
					return nil
				}
				r.record(o.processFarm(ctx, r, farm))
				return nil
			})
		}
		_ = g.Wait()

		r.log.Debug("orchestrator: wave complete", zap.Int("from", start), zap.Int("to", end))
	}
}

// stopReason reports why no further farms may be launched, if any.
func (o *Orchestrator) stopReason(ctx context.Context, r *run) string {
	if err := ctx.Err(); err != nil {
		return skipReason(err)
	}
	if r.budget.Exhausted() {
		return ReasonBudget
	}
	return ""
}

func (o *Orchestrator) skipRest(r *run, farms []model.Farm, reason string) {
	r.log.Warn("orchestrator: launching stopped",
		zap.String("reason", reason),
		zap.Int("remaining", len(farms)),
	)
	for _, f := range farms {
		r.skip(f.ID, reason)
	}
}

func skipReason(err error) string {
	if err == context.DeadlineExceeded {
		return ReasonDeadline
	}
	return ReasonCancelled
}

// dedupFarms keeps the first farm for each ID.
func dedupFarms(farms []model.Farm) []model.Farm {
	seen := make(map[string]bool, len(farms))
	out := make([]model.Farm, 0, len(farms))
	for _, f := range farms {
		if seen[f.ID] {
			zap.L().Warn("orchestrator: duplicate farm id ignored", zap.String("farm_id", f.ID))
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out
}

// carryOverFirst moves farms left unresolved by the previous run to the
// front, keeping relative order otherwise.
func (o *Orchestrator) carryOverFirst(ctx context.Context, farms []model.Farm) []model.Farm {
	if !o.cfg.CarryOver || o.deps.Reports == nil {
		return farms
	}
	latest, err := o.deps.Reports.LatestReport(ctx)
	if err != nil {
		zap.L().Warn("orchestrator: load previous report for carry-over", zap.Error(err))
		return farms
	}
	if latest == nil {
		return farms
	}
	carry := make(map[string]bool)
	for _, id := range latest.CarryOver() {
		carry[id] = true
	}
	if len(carry) == 0 {
		return farms
	}

	out := make([]model.Farm, 0, len(farms))
	for _, f := range farms {
		if carry[f.ID] {
			out = append(out, f)
		}
	}
	for _, f := range farms {
		if !carry[f.ID] {
			out = append(out, f)
		}
	}
	zap.L().Info("orchestrator: carrying over unresolved farms",
		zap.String("previous_run", latest.RunID),
		zap.Int("count", len(carry)),
	)
	return out
}

func (o *Orchestrator) persist(ctx context.Context, report *model.RunReport) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistReportTimeout)
	defer cancel()

	log := zap.L().With(zap.String("run_id", report.RunID))
	if o.deps.Reports != nil {
		if err := o.deps.Reports.SaveReport(ctx, report); err != nil {
			log.Error("orchestrator: save run report", zap.Error(err))
		}
	}
	for _, sink := range o.deps.Sinks {
		if err := sink.Publish(ctx, report); err != nil {
			log.Warn("orchestrator: publish run report", zap.Error(err))
		}
	}
}

func panicOutcome(farmID string, rec any) model.FarmOutcome {
	zap.L().Error("orchestrator: farm panicked",
		zap.String("farm_id", farmID),
		zap.Any("panic", rec),
		zap.ByteString("stack", debug.Stack()),
	)
	return model.FarmOutcome{
		FarmID:     farmID,
		Outcome:    model.OutcomeFailedPermanent,
		ErrorClass: resilience.ClassPermanent.String(),
		Error:      fmt.Sprintf("panic: %v", rec),
	}
}
