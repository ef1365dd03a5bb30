package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/agent"
	"github.com/agri-ai/farm-monitor/internal/cost"
	"github.com/agri-ai/farm-monitor/internal/decision"
	"github.com/agri-ai/farm-monitor/internal/monitoring"
	"github.com/agri-ai/farm-monitor/internal/notify"
	"github.com/agri-ai/farm-monitor/internal/orchestrator"
	"github.com/agri-ai/farm-monitor/internal/report"
	"github.com/agri-ai/farm-monitor/internal/store"
	"github.com/agri-ai/farm-monitor/internal/tools"
	anthropicpkg "github.com/agri-ai/farm-monitor/pkg/anthropic"
)

// runEnv holds everything the daily and serve commands need.
type runEnv struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Metrics      *report.Metrics
	Alerter      *monitoring.Alerter

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *runEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initRunEnv validates config for mode ("daily" or "serve") and wires the
// orchestrator. Callers should defer env.Close().
func initRunEnv(ctx context.Context, mode string) (env *runEnv, err error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	partial := &runEnv{}
	env = partial
	defer func() {
		if err != nil {
			partial.Close()
		}
	}()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, func() { _ = st.Close() })

	evaluator, err := initEvaluator()
	if err != nil {
		return nil, err
	}

	dispatcher, err := notify.New(ctx, cfg.Notify)
	if err != nil {
		return nil, eris.Wrap(err, "init notification dispatcher")
	}
	env.closers = append(env.closers, func() { _ = dispatcher.Close() })

	sinks, err := initSinks(ctx, env, mode)
	if err != nil {
		return nil, err
	}

	ocfg := orchestrator.ConfigFrom(cfg)
	env.Orchestrator = orchestrator.New(ocfg, orchestrator.Deps{
		Evaluator:  evaluator,
		Engine:     decision.NewEngine(cfg.Orchestrator.DedupWindow()),
		History:    st,
		Dispatcher: dispatcher,
		Reports:    st,
		Pricing:    cost.FromConfig(cfg.Pricing),
		Sinks:      sinks,
	})

	zap.L().Info("run environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("agent", cfg.Agent.Provider),
		zap.String("notify", cfg.Notify.Driver),
		zap.Int("sinks", len(sinks)),
	)
	return env, nil
}

func initEvaluator() (agent.Evaluator, error) {
	switch cfg.Agent.Provider {
	case "http":
		return agent.NewHTTPEvaluator(cfg.Agent.Endpoint, cfg.Tools.APIKey, cfg.Agent.CallTimeout(), cfg.Agent.RatePerSec), nil
	case "anthropic":
		client := anthropicpkg.NewClient(anthropicpkg.Options{
			APIKey:         cfg.Anthropic.Key,
			BaseURL:        cfg.Anthropic.BaseURL,
			RequestTimeout: cfg.Agent.CallTimeout(),
		})
		runner := tools.NewHTTPRunner(tools.HTTPOptions{
			Endpoints: map[string]string{
				tools.Weather:   cfg.Tools.WeatherURL,
				tools.Satellite: cfg.Tools.SatelliteURL,
				tools.Pest:      cfg.Tools.PestURL,
			},
			APIKey:      cfg.Tools.APIKey,
			Timeout:     cfg.Tools.Timeout(),
			RatePerSec:  cfg.Tools.RatePerSec,
			AOIRadiusKm: cfg.Tools.AOIRadiusKm,
		})
		return agent.NewAnthropicEvaluator(client, runner, agent.Options{
			Model:       cfg.Anthropic.Model,
			MaxTokens:   int64(cfg.Anthropic.MaxTokens),
			MaxTurns:    cfg.Agent.MaxTurns,
			CallTimeout: cfg.Agent.CallTimeout(),
			RatePerSec:  cfg.Agent.RatePerSec,
		}), nil
	default:
		return nil, eris.Errorf("unsupported agent provider: %s", cfg.Agent.Provider)
	}
}

// initSinks builds the report sinks. The ops alerter is always present;
// archive and metric sinks only when configured.
func initSinks(ctx context.Context, env *runEnv, mode string) ([]orchestrator.ReportSink, error) {
	var sinks []orchestrator.ReportSink

	if cfg.Report.S3Bucket != "" {
		archiver, err := report.NewS3Archiver(ctx, cfg.Report)
		if err != nil {
			return nil, eris.Wrap(err, "init report archiver")
		}
		sinks = append(sinks, archiver)
	}

	env.Metrics = report.NewMetrics()
	switch {
	case mode == "serve":
		sinks = append(sinks, env.Metrics)
	case cfg.Metrics.PushgatewayURL != "":
		sinks = append(sinks, report.NewPushSink(cfg.Metrics.PushgatewayURL, env.Metrics))
	}

	if cfg.Metrics.Influx.URL != "" {
		influx, err := report.NewInfluxSink(cfg.Metrics.Influx)
		if err != nil {
			return nil, eris.Wrap(err, "init influx sink")
		}
		env.closers = append(env.closers, influx.Close)
		sinks = append(sinks, influx)
	}

	env.Alerter = monitoring.NewAlerter(cfg.Ops)
	sinks = append(sinks, env.Alerter)
	return sinks, nil
}
