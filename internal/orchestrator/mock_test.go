package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/notify"
	"github.com/agri-ai/farm-monitor/internal/store"
)

var assessedAt = time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC)

func testFarm(id string) model.Farm {
	return model.Farm{
		ID:       id,
		Name:     "Farm " + id,
		Location: model.Location{Lat: 41.878, Lon: -93.0977},
		CropType: "corn",
		Contact:  model.Contact{Email: strings.ToLower(id) + "@example.com"},
		Thresholds: map[string]model.Threshold{
			"heat": {Comparator: model.ComparatorGT, Value: 35},
		},
	}
}

func testFarms(n int) []model.Farm {
	farms := make([]model.Farm, n)
	for i := range farms {
		farms[i] = testFarm(fmt.Sprintf("F%02d", i+1))
	}
	return farms
}

func assessment(farmID string, heat float64) *model.Assessment {
	return &model.Assessment{
		FarmID: farmID,
		Conditions: map[string]model.ConditionReading{
			"heat": {Value: heat, Severity: model.SeverityHigh, Note: "afternoon peak"},
		},
		Usage:      model.TokenUsage{InputTokens: 1000, OutputTokens: 100},
		AssessedAt: assessedAt,
	}
}

// fakeEvaluator counts calls per farm and records launch order.
type fakeEvaluator struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
	fn    func(ctx context.Context, farm model.Farm, call int) (*model.Assessment, error)
}

func newEvaluator(fn func(ctx context.Context, farm model.Farm, call int) (*model.Assessment, error)) *fakeEvaluator {
	return &fakeEvaluator{calls: make(map[string]int), fn: fn}
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, farm model.Farm) (*model.Assessment, error) {
	e.mu.Lock()
	e.calls[farm.ID]++
	call := e.calls[farm.ID]
	if call == 1 {
		e.order = append(e.order, farm.ID)
	}
	e.mu.Unlock()
	return e.fn(ctx, farm, call)
}

func (e *fakeEvaluator) Calls(farmID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[farmID]
}

func (e *fakeEvaluator) Order() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// memHistory is an in-memory history store.
type memHistory struct {
	mu        sync.Mutex
	entries   map[string]model.AlertHistoryEntry
	commits   int
	commitErr error
	lookupErr error
}

func newHistory() *memHistory {
	return &memHistory{entries: make(map[string]model.AlertHistoryEntry)}
}

func (h *memHistory) Lookup(_ context.Context, farmID string) ([]model.AlertHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lookupErr != nil {
		return nil, h.lookupErr
	}
	var out []model.AlertHistoryEntry
	for _, e := range h.entries {
		if e.FarmID == farmID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *memHistory) Commit(_ context.Context, entry model.AlertHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits++
	if h.commitErr != nil {
		return h.commitErr
	}
	key := entry.FarmID + "/" + entry.ConditionKey
	if prev, ok := h.entries[key]; ok && prev.LastRaisedAt.After(entry.LastRaisedAt) {
		return nil
	}
	h.entries[key] = entry
	return nil
}

func (h *memHistory) PruneHistory(context.Context, time.Time) (int64, error) { return 0, nil }

func (h *memHistory) Commits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.commits
}

func (h *memHistory) Entry(farmID, key string) (model.AlertHistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[farmID+"/"+key]
	return e, ok
}

// fakeDispatcher acknowledges every message unless sendErr says otherwise.
type fakeDispatcher struct {
	mu           sync.Mutex
	sent         []notify.Message
	calls        int
	sendErr      func(msg notify.Message) error
	recipientErr error
}

func (d *fakeDispatcher) Recipient(farm model.Farm) (string, error) {
	if d.recipientErr != nil {
		return "", d.recipientErr
	}
	return farm.Contact.Email, nil
}

func (d *fakeDispatcher) Send(_ context.Context, msg notify.Message) (*notify.Ack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.sendErr != nil {
		if err := d.sendErr(msg); err != nil {
			return nil, err
		}
	}
	d.sent = append(d.sent, msg)
	return &notify.Ack{DeliveryID: fmt.Sprintf("delivery-%d", d.calls), Channel: "fake"}, nil
}

func (d *fakeDispatcher) Close() error { return nil }

func (d *fakeDispatcher) Sent() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.sent...)
}

func (d *fakeDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// mockReports is a testify mock of store.Reports.
type mockReports struct{ mock.Mock }

func (m *mockReports) SaveReport(ctx context.Context, report *model.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *mockReports) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(*model.RunReport)
	return r, args.Error(1)
}

func (m *mockReports) ListReports(ctx context.Context, filter store.ReportFilter) ([]model.RunReport, error) {
	args := m.Called(ctx, filter)
	r, _ := args.Get(0).([]model.RunReport)
	return r, args.Error(1)
}

func (m *mockReports) LatestReport(ctx context.Context) (*model.RunReport, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*model.RunReport)
	return r, args.Error(1)
}

// mockSink is a testify mock of ReportSink.
type mockSink struct{ mock.Mock }

func (m *mockSink) Publish(ctx context.Context, report *model.RunReport) error {
	return m.Called(ctx, report).Error(0)
}

// mockRegistry is a testify mock of store.Registry.
type mockRegistry struct{ mock.Mock }

func (m *mockRegistry) ListFarms(ctx context.Context) ([]model.Farm, error) {
	args := m.Called(ctx)
	f, _ := args.Get(0).([]model.Farm)
	return f, args.Error(1)
}

func (m *mockRegistry) GetFarm(ctx context.Context, farmID string) (*model.Farm, error) {
	args := m.Called(ctx, farmID)
	f, _ := args.Get(0).(*model.Farm)
	return f, args.Error(1)
}

func (m *mockRegistry) UpsertFarms(ctx context.Context, farms []model.Farm) (int64, error) {
	args := m.Called(ctx, farms)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRegistry) DeleteFarm(ctx context.Context, farmID string) error {
	return m.Called(ctx, farmID).Error(0)
}
