package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
)

// Checker runs periodic alert checks in the background. An alert type is
// sent at most once per lookback window.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.OpsConfig
	lastSent  map[AlertType]time.Time
	now       func() time.Time
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.OpsConfig) *Checker {
	if cfg.LookbackWindowHours <= 0 {
		cfg.LookbackWindowHours = 26
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		lastSent:  make(map[AlertType]time.Time),
		now:       time.Now,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect run history", zap.Error(err))
		return
	}

	now := c.now()
	window := time.Duration(c.cfg.LookbackWindowHours) * time.Hour
	var due []Alert
	for _, a := range c.alerter.EvaluateSnapshot(snap) {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < window {
			continue
		}
		due = append(due, a)
	}
	if len(due) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return
	}

	sent := c.alerter.SendAlerts(ctx, due)
	if sent == len(due) {
		for _, a := range due {
			c.lastSent[a.Type] = now
		}
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(due)),
		zap.Int("alerts_sent", sent),
	)
}
