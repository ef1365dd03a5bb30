package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	reports := new(mockReports)
	reports.On("ListReports", mock.Anything, mock.Anything).Return([]model.RunReport{}, nil)

	cfg := config.OpsConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(reports), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultLookback(t *testing.T) {
	checker := NewChecker(NewCollector(new(mockReports)), NewAlerter(config.OpsConfig{}), config.OpsConfig{})
	assert.Equal(t, 26, checker.cfg.LookbackWindowHours)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_MissingRunAlertedOncePerWindow(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reports := new(mockReports)
	reports.On("ListReports", mock.Anything, mock.Anything).Return([]model.RunReport{}, nil)

	cfg := config.OpsConfig{WebhookURL: srv.URL, LookbackWindowHours: 26}
	checker := NewChecker(NewCollector(reports), NewAlerter(cfg), cfg)
	clock := now
	checker.now = func() time.Time { return clock }

	checker.check(context.Background(), zap.NewNop())
	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, int32(1), received.Load())

	clock = clock.Add(27 * time.Hour)
	checker.check(context.Background(), zap.NewNop())
	assert.Equal(t, int32(2), received.Load())
}
