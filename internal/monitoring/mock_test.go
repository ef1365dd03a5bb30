package monitoring

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

var now = time.Date(2026, 7, 14, 8, 0, 0, 0, time.UTC)

type mockReports struct{ mock.Mock }

func (m *mockReports) ListReports(ctx context.Context, filter store.ReportFilter) ([]model.RunReport, error) {
	args := m.Called(ctx, filter)
	r, _ := args.Get(0).([]model.RunReport)
	return r, args.Error(1)
}

// report builds a finalized report with the given outcome per farm.
func report(id string, startedAt time.Time, outcomes map[string]model.Outcome) *model.RunReport {
	ids := make([]string, 0, len(outcomes))
	for fid := range outcomes {
		ids = append(ids, fid)
	}
	r := model.NewRunReport(id, startedAt, ids)
	for fid, o := range outcomes {
		r.Record(model.FarmOutcome{FarmID: fid, Outcome: o, CostUSD: 0.5})
	}
	r.Finalize(startedAt.Add(time.Minute))
	return r
}
