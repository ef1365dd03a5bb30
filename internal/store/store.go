// Package store persists the farm registry, alert history and run reports.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// Registry gives access to monitored farms.
type Registry interface {
	ListFarms(ctx context.Context) ([]model.Farm, error)
	GetFarm(ctx context.Context, farmID string) (*model.Farm, error)
	UpsertFarms(ctx context.Context, farms []model.Farm) (int64, error)
	DeleteFarm(ctx context.Context, farmID string) error
}

// History is the alert dedup state, partitioned by farm.
type History interface {
	// Lookup returns every history entry for a farm.
	Lookup(ctx context.Context, farmID string) ([]model.AlertHistoryEntry, error)
	// Commit upserts the entry keyed by (farm, condition). lastRaisedAt
	// never moves backwards.
	Commit(ctx context.Context, entry model.AlertHistoryEntry) error
	// PruneHistory deletes entries last raised before cutoff.
	PruneHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	Status model.RunStatus
	Since  time.Time
	Limit  int
}

// Reports stores finished run reports.
type Reports interface {
	SaveReport(ctx context.Context, report *model.RunReport) error
	GetReport(ctx context.Context, runID string) (*model.RunReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.RunReport, error)
	// LatestReport returns the most recently started report, or nil when
	// none exist.
	LatestReport(ctx context.Context) (*model.RunReport, error)
}

// Store is the full persistence surface.
type Store interface {
	Registry
	History
	Reports

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}
