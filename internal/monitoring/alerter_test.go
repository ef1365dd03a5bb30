package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

func newTestAlerter(cfg config.OpsConfig) *Alerter {
	a := NewAlerter(cfg)
	a.now = func() time.Time { return now }
	return a
}

func TestAlerter_EvaluateRun_Healthy(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{FailureRateThreshold: 0.5})

	r := report("run-1", now, map[string]model.Outcome{
		"F01": model.OutcomeSucceeded,
		"F02": model.OutcomeSucceeded,
		"F03": model.OutcomeFailedTransient,
	})

	assert.Empty(t, a.EvaluateRun(r))
}

func TestAlerter_EvaluateRun_FailureRate(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{FailureRateThreshold: 0.5})

	r := report("run-1", now, map[string]model.Outcome{
		"F01": model.OutcomeSucceeded,
		"F02": model.OutcomeFailedPermanent,
		"F03": model.OutcomeFailedTransient,
		"F04": model.OutcomeFailedTransient,
	})

	alerts := a.EvaluateRun(r)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFarmFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Equal(t, "run-1", alerts[0].RunID)
	assert.Contains(t, alerts[0].Message, "75.0%")
	assert.Contains(t, alerts[0].Message, "3 failed / 4 farms")
}

func TestAlerter_EvaluateRun_Fatal(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{})

	r := report("run-2", now, map[string]model.Outcome{"F01": model.OutcomeSkipped})
	r.MarkFatal("dependency unreachable for entire run: [agent]")

	alerts := a.EvaluateRun(r)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFatal, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "[agent]")
}

func TestAlerter_EvaluateRun_UndeliveredAndCost(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{CostThresholdUSD: 0.75})

	r := model.NewRunReport("run-3", now, []string{"F01", "F02"})
	r.Record(model.FarmOutcome{
		FarmID:      "F01",
		Outcome:     model.OutcomeSucceeded,
		Undelivered: []model.UndeliveredAlert{{ConditionKey: "heat", Transient: true}},
		CostUSD:     0.5,
	})
	r.Record(model.FarmOutcome{
		FarmID:            "F02",
		Outcome:           model.OutcomeSucceeded,
		Delivered:         []string{"frost"},
		PartialDeliveries: []string{"frost"},
		CostUSD:           0.5,
	})
	r.Finalize(now)

	alerts := a.EvaluateRun(r)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertUndelivered, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "1 farm alert(s) undelivered and 1 sent without a history commit")
	assert.Equal(t, AlertCostOverrun, alerts[1].Type)
	assert.Equal(t, "run-3", alerts[1].RunID)
	assert.Contains(t, alerts[1].Message, "$1.00")
}

func TestAlerter_EvaluateSnapshot(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{CostThresholdUSD: 10})

	alerts := a.EvaluateSnapshot(&Snapshot{LookbackHours: 26})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunMissing, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "26h")

	alerts = a.EvaluateSnapshot(&Snapshot{Runs: 2, CostUSD: 12, LookbackHours: 26})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)

	assert.Empty(t, a.EvaluateSnapshot(&Snapshot{Runs: 1, CostUSD: 1, LookbackHours: 26}))
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := newTestAlerter(config.OpsConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFatal, Severity: "critical", Message: "down", RunID: "run-1", Timestamp: now},
	})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, AlertRunFatal, got.Type)
	assert.Equal(t, "run-1", got.RunID)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := newTestAlerter(config.OpsConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFatal}}))
}

func TestAlerter_SendAlerts_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newTestAlerter(config.OpsConfig{WebhookURL: srv.URL})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFatal}}))
}

func TestAlerter_Publish(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := newTestAlerter(config.OpsConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.5})

	healthy := report("run-1", now, map[string]model.Outcome{"F01": model.OutcomeSucceeded})
	require.NoError(t, a.Publish(context.Background(), healthy))
	assert.Equal(t, int32(0), received.Load())

	failing := report("run-2", now, map[string]model.Outcome{"F01": model.OutcomeFailedTransient})
	require.NoError(t, a.Publish(context.Background(), failing))
	assert.Equal(t, int32(1), received.Load())
}

func TestAlerter_Publish_DeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestAlerter(config.OpsConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.5})
	failing := report("run-2", now, map[string]model.Outcome{"F01": model.OutcomeFailedPermanent})

	err := a.Publish(context.Background(), failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sent 0 of 1")
}
