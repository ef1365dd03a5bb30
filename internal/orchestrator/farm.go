package orchestrator

import (
	"context"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/agent"
	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/notify"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// farmState survives across attempts of one farm so that a retried attempt
// never re-sends an alert already acknowledged.
type farmState struct {
	delivered   map[string]bool
	partial     map[string]bool
	undelivered map[string]model.UndeliveredAlert
	costUSD     float64
}

func newFarmState() *farmState {
	return &farmState{
		delivered:   make(map[string]bool),
		partial:     make(map[string]bool),
		undelivered: make(map[string]model.UndeliveredAlert),
	}
}

// processFarm resolves one farm to exactly one outcome. It never panics.
func (o *Orchestrator) processFarm(ctx context.Context, r *run, farm model.Farm) (out model.FarmOutcome) {
	start := o.now()
	log := r.log.With(zap.String("farm_id", farm.ID))
	state := newFarmState()

	defer func() {
		if rec := recover(); rec != nil {
			out = panicOutcome(farm.ID, rec)
		}
		out.DurationMs = o.now().Sub(start).Milliseconds()
		state.fill(&out)
	}()

	out = model.FarmOutcome{FarmID: farm.ID}

	if err := farm.Validate(); err != nil {
		return failPermanent(log, out, err)
	}
	recipient, err := o.deps.Dispatcher.Recipient(farm)
	if err != nil {
		return failPermanent(log, out, eris.Wrapf(err, "farm %s: resolve recipient", farm.ID))
	}

	policy := o.policy.WithOnRetry(resilience.RetryLogger("farm", farm.ID))
	attempts, err := policy.Run(ctx, func(actx context.Context) error {
		fctx, cancel := context.WithTimeout(actx, o.cfg.FarmTimeout)
		defer cancel()

		err := o.attempt(fctx, r, farm, recipient, state)
		if err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) && actx.Err() == nil {
			return resilience.NewTransientError(eris.Wrapf(err, "farm %s: timed out after %s", farm.ID, o.cfg.FarmTimeout), 0)
		}
		return err
	})
	out.Attempts = attempts

	switch {
	case err == nil:
		out.Outcome = model.OutcomeSucceeded
		log.Info("orchestrator: farm succeeded",
			zap.Int("attempts", attempts),
			zap.Int("delivered", len(state.delivered)),
			zap.Int("undelivered", len(state.undelivered)),
		)
	case ctx.Err() != nil:
		out.Outcome = model.OutcomeSkipped
		out.ErrorClass = resilience.ClassDeadline.String()
		out.Error = skipReason(ctx.Err())
		log.Warn("orchestrator: farm interrupted", zap.Int("attempts", attempts), zap.Error(err))
	default:
		class := resilience.Classify(err)
		out.ErrorClass = class.String()
		out.Error = err.Error()
		if class == resilience.ClassPermanent {
			out.Outcome = model.OutcomeFailedPermanent
		} else {
			out.Outcome = model.OutcomeFailedTransient
		}
		log.Error("orchestrator: farm failed",
			zap.String("outcome", string(out.Outcome)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return out
}

func failPermanent(log *zap.Logger, out model.FarmOutcome, err error) model.FarmOutcome {
	out.Outcome = model.OutcomeFailedPermanent
	out.ErrorClass = resilience.ClassPermanent.String()
	out.Error = err.Error()
	log.Error("orchestrator: farm misconfigured", zap.Error(err))
	return out
}

// attempt is one pass of evaluate, decide, dispatch and commit.
func (o *Orchestrator) attempt(ctx context.Context, r *run, farm model.Farm, recipient string, state *farmState) error {
	assessment, err := resilience.ExecuteVal(ctx, r.breakers.Get(resilience.DependencyAgent),
		func(ctx context.Context) (*model.Assessment, error) {
			return o.deps.Evaluator.Evaluate(ctx, farm)
		})
	if err != nil {
		// A failed evaluation still burned tokens.
		o.charge(r, state, agent.UsageOf(err))
		return err
	}
	if assessment == nil {
		return resilience.NewTransientError(eris.Errorf("farm %s: agent returned no assessment", farm.ID), 0)
	}
	o.charge(r, state, assessment.Usage)

	if assessment.AssessedAt.IsZero() {
		assessment.AssessedAt = o.now().UTC()
	}

	history, err := resilience.ExecuteVal(ctx, r.breakers.Get(resilience.DependencyHistory),
		func(ctx context.Context) ([]model.AlertHistoryEntry, error) {
			return o.deps.History.Lookup(ctx, farm.ID)
		})
	if err != nil {
		return eris.Wrapf(err, "farm %s: lookup alert history", farm.ID)
	}

	decisions := o.deps.Engine.Decide(farm, *assessment, history)
	for _, d := range decisions {
		if state.delivered[d.ConditionKey] {
			continue
		}
		msg := notify.Render(farm, d, assessment, recipient)
		if err := o.deliver(ctx, r, d, msg, state); err != nil {
			return err
		}
	}
	return nil
}

// charge prices usage against the farm and the run budget.
func (o *Orchestrator) charge(r *run, state *farmState, usage model.TokenUsage) {
	if usage == (model.TokenUsage{}) {
		return
	}
	spent := o.deps.Pricing.Claude(o.cfg.Model, usage)
	state.costUSD += spent
	r.budget.Add(spent)
}

// deliver sends one alert and commits its history entry. It returns an
// error only when ctx ended, so the farm is not reported as Succeeded.
func (o *Orchestrator) deliver(ctx context.Context, r *run, d model.AlertDecision, msg notify.Message, state *farmState) error {
	log := r.log.With(zap.String("farm_id", d.FarmID), zap.String("condition", d.ConditionKey))

	var ack *notify.Ack
	policy := o.policy.WithOnRetry(resilience.RetryLogger(resilience.DependencyDispatch, d.FarmID))
	_, err := policy.Run(ctx, func(ctx context.Context) error {
		var sendErr error
		ack, sendErr = resilience.ExecuteVal(ctx, r.breakers.Get(resilience.DependencyDispatch),
			func(ctx context.Context) (*notify.Ack, error) {
				return o.deps.Dispatcher.Send(ctx, msg)
			})
		return sendErr
	})
	if err != nil {
		transient := !resilience.IsPermanent(err)
		state.undelivered[d.ConditionKey] = model.UndeliveredAlert{
			ConditionKey: d.ConditionKey,
			Severity:     d.Severity,
			Reason:       err.Error(),
			Transient:    transient,
		}
		log.Error("orchestrator: alert undelivered", zap.Bool("transient", transient), zap.Error(err))
		if ctx.Err() != nil {
			return eris.Wrapf(ctx.Err(), "farm %s: dispatch %s interrupted", d.FarmID, d.ConditionKey)
		}
		return nil
	}

	state.delivered[d.ConditionKey] = true
	delete(state.undelivered, d.ConditionKey)
	log.Info("orchestrator: alert dispatched",
		zap.String("severity", d.Severity.String()),
		zap.String("delivery_id", ack.DeliveryID),
		zap.String("channel", ack.Channel),
	)

	// The send cannot be taken back, so the commit outlives cancellation.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CommitTimeout)
	defer cancel()
	entry := model.AlertHistoryEntry{
		FarmID:       d.FarmID,
		ConditionKey: d.ConditionKey,
		LastRaisedAt: d.Timestamp,
		Severity:     d.Severity,
		DeliveryID:   ack.DeliveryID,
		Message:      d.Message,
	}
	err = r.breakers.Get(resilience.DependencyHistory).Execute(cctx, func(ctx context.Context) error {
		return o.deps.History.Commit(ctx, entry)
	})
	if err != nil {
		state.partial[d.ConditionKey] = true
		log.Error("orchestrator: alert sent but history commit failed",
			zap.String("class", resilience.ClassPartialDelivery.String()),
			zap.String("delivery_id", ack.DeliveryID),
			zap.Error(err),
		)
	}
	return nil
}

// fill copies accumulated alert state into out in a stable order.
func (s *farmState) fill(out *model.FarmOutcome) {
	out.Delivered = sortedKeys(s.delivered)
	out.PartialDeliveries = sortedKeys(s.partial)
	out.Undelivered = nil
	for _, key := range sortedKeys(s.undelivered) {
		out.Undelivered = append(out.Undelivered, s.undelivered[key])
	}
	out.CostUSD = s.costUSD
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
