package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

func TestCollector_Collect(t *testing.T) {
	older := report("run-1", now.Add(-25*time.Hour), map[string]model.Outcome{
		"F01": model.OutcomeSucceeded,
		"F02": model.OutcomeFailedTransient,
	})
	latest := report("run-2", now.Add(-time.Hour), map[string]model.Outcome{
		"F01": model.OutcomeSucceeded,
		"F02": model.OutcomeSkipped,
	})
	latest.MarkFatal("registry unreachable")

	reports := new(mockReports)
	reports.On("ListReports", mock.Anything, store.ReportFilter{
		Since: now.Add(-26 * time.Hour),
		Limit: maxReports,
	}).Return([]model.RunReport{*latest, *older}, nil)

	c := NewCollector(reports)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 26)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Runs)
	assert.Equal(t, 1, snap.CompletedRuns)
	assert.Equal(t, 1, snap.FatalRuns)
	assert.Equal(t, 4, snap.FarmsEvaluated)
	assert.Equal(t, 1, snap.FarmsFailed)
	assert.InDelta(t, 0.25, snap.FailRate, 0.0001)
	assert.InDelta(t, 2.0, snap.CostUSD, 0.0001)
	assert.Equal(t, "run-2", snap.LastRunID)
	assert.Equal(t, 26, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
	reports.AssertExpectations(t)
}

func TestCollector_Empty(t *testing.T) {
	reports := new(mockReports)
	reports.On("ListReports", mock.Anything, mock.Anything).Return(nil, nil)

	snap, err := NewCollector(reports).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.Runs)
	assert.Zero(t, snap.FailRate)
	assert.True(t, snap.LastRunAt.IsZero())
}

func TestCollector_StoreError(t *testing.T) {
	reports := new(mockReports)
	reports.On("ListReports", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := NewCollector(reports).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list run reports")
}
