// Package monitoring raises operator alerts about the health of daily runs,
// both when a run finishes and from a periodic check of recent history.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFatal        AlertType = "run_fatal"
	AlertFarmFailureRate AlertType = "farm_failure_rate"
	AlertUndelivered     AlertType = "alerts_undelivered"
	AlertCostOverrun     AlertType = "cost_overrun"
	AlertRunMissing      AlertType = "run_missing"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates reports and snapshots against configured thresholds
// and posts alerts to the ops webhook.
type Alerter struct {
	cfg    config.OpsConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given ops config.
func NewAlerter(cfg config.OpsConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// EvaluateRun checks one finished report.
func (a *Alerter) EvaluateRun(r *model.RunReport) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if r.Status == model.RunStatusFatal {
		alerts = append(alerts, Alert{
			Type:     AlertRunFatal,
			Severity: "critical",
			Message:  fmt.Sprintf("Daily run %s failed as a whole: %s", r.RunID, r.FatalReason),
			RunID:    r.RunID,
			Details: map[string]any{
				"farms":   r.Total(),
				"skipped": r.Counts[model.OutcomeSkipped],
			},
			Timestamp: now,
		})
	}

	rate := r.FailureRate()
	if r.Total() > 0 && a.cfg.FailureRateThreshold > 0 && rate > a.cfg.FailureRateThreshold {
		failed := r.Counts[model.OutcomeFailedTransient] + r.Counts[model.OutcomeFailedPermanent]
		alerts = append(alerts, Alert{
			Type:     AlertFarmFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Farm failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d farms in run %s)",
				rate*100, a.cfg.FailureRateThreshold*100, failed, r.Total(), r.RunID,
			),
			RunID: r.RunID,
			Details: map[string]any{
				"failure_rate":     rate,
				"threshold":        a.cfg.FailureRateThreshold,
				"failed_transient": r.Counts[model.OutcomeFailedTransient],
				"failed_permanent": r.Counts[model.OutcomeFailedPermanent],
			},
			Timestamp: now,
		})
	}

	if r.AlertsUndelivered > 0 || r.PartialDeliveries > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUndelivered,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d farm alert(s) undelivered and %d sent without a history commit in run %s",
				r.AlertsUndelivered, r.PartialDeliveries, r.RunID,
			),
			RunID: r.RunID,
			Details: map[string]any{
				"undelivered": r.AlertsUndelivered,
				"partial":     r.PartialDeliveries,
				"dispatched":  r.AlertsDispatched,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && r.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, a.costAlert(r.CostUSD, fmt.Sprintf("run %s", r.RunID), now))
		alerts[len(alerts)-1].RunID = r.RunID
	}

	return alerts
}

// EvaluateSnapshot checks run history over the lookback window.
func (a *Alerter) EvaluateSnapshot(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if snap.Runs == 0 {
		alerts = append(alerts, Alert{
			Type:      AlertRunMissing,
			Severity:  "high",
			Message:   fmt.Sprintf("No daily run started in the last %dh", snap.LookbackHours),
			Details:   map[string]any{"last_run_id": snap.LastRunID},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.CostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, a.costAlert(snap.CostUSD, fmt.Sprintf("the last %dh", snap.LookbackHours), now))
	}

	return alerts
}

func (a *Alerter) costAlert(cost float64, scope string, now time.Time) Alert {
	return Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message:  fmt.Sprintf("Agent cost $%.2f exceeds threshold $%.2f in %s", cost, a.cfg.CostThresholdUSD, scope),
		Details: map[string]any{
			"cost_usd":      cost,
			"threshold_usd": a.cfg.CostThresholdUSD,
		},
		Timestamp: now,
	}
}

// Publish evaluates a finished report and sends any alerts it raises.
func (a *Alerter) Publish(ctx context.Context, r *model.RunReport) error {
	alerts := a.EvaluateRun(r)
	if len(alerts) == 0 || a.cfg.WebhookURL == "" {
		return nil
	}
	if sent := a.SendAlerts(ctx, alerts); sent < len(alerts) {
		return eris.Errorf("monitoring: sent %d of %d alerts for run %s", sent, len(alerts), r.RunID)
	}
	return nil
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("run_id", alert.RunID),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
