package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix milliseconds so that MAX() and range filters compare
// numerically.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; concurrent farm pipelines queue on the pool.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS farms (
	farm_id    TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_history (
	farm_id        TEXT NOT NULL,
	condition_key  TEXT NOT NULL,
	last_raised_at INTEGER NOT NULL,
	severity       TEXT NOT NULL DEFAULT '',
	delivery_id    TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (farm_id, condition_key)
);

CREATE TABLE IF NOT EXISTS run_reports (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	report      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_history_last_raised ON alert_history(last_raised_at);
CREATE INDEX IF NOT EXISTS idx_run_reports_started ON run_reports(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListFarms(ctx context.Context) ([]model.Farm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM farms ORDER BY farm_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list farms")
	}
	defer rows.Close()

	var farms []model.Farm
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan farm")
		}
		var f model.Farm
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal farm")
		}
		farms = append(farms, f)
	}
	return farms, eris.Wrap(rows.Err(), "sqlite: list farms iterate")
}

func (s *SQLiteStore) GetFarm(ctx context.Context, farmID string) (*model.Farm, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM farms WHERE farm_id = ?`, farmID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: farm %s", farmID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get farm %s", farmID)
	}
	var f model.Farm
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal farm %s", farmID)
	}
	return &f, nil
}

func (s *SQLiteStore) UpsertFarms(ctx context.Context, farms []model.Farm) (int64, error) {
	if len(farms) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO farms (farm_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (farm_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare farm upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC().UnixMilli()
	var n int64
	for _, f := range farms {
		data, err := json.Marshal(f)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: marshal farm %s", f.ID)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, string(data), now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert farm %s", f.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit farms")
	}
	return n, nil
}

func (s *SQLiteStore) DeleteFarm(ctx context.Context, farmID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM farms WHERE farm_id = ?`, farmID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete farm %s", farmID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: farm %s", farmID)
	}
	return nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, farmID string) ([]model.AlertHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT farm_id, condition_key, last_raised_at, severity, delivery_id, message
		FROM alert_history WHERE farm_id = ? ORDER BY condition_key`, farmID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lookup history %s", farmID)
	}
	defer rows.Close()

	var entries []model.AlertHistoryEntry
	for rows.Next() {
		var e model.AlertHistoryEntry
		var raisedMs int64
		var severity string
		if err := rows.Scan(&e.FarmID, &e.ConditionKey, &raisedMs, &severity, &e.DeliveryID, &e.Message); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		e.LastRaisedAt = time.UnixMilli(raisedMs).UTC()
		e.Severity, _ = model.ParseSeverity(severity)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: lookup history iterate")
}

func (s *SQLiteStore) Commit(ctx context.Context, entry model.AlertHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_history (farm_id, condition_key, last_raised_at, severity, delivery_id, message)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (farm_id, condition_key) DO UPDATE SET
			last_raised_at = MAX(alert_history.last_raised_at, excluded.last_raised_at),
			severity = excluded.severity,
			delivery_id = excluded.delivery_id,
			message = excluded.message`,
		entry.FarmID, entry.ConditionKey, entry.LastRaisedAt.UTC().UnixMilli(),
		entry.Severity.String(), entry.DeliveryID, entry.Message,
	)
	return eris.Wrapf(err, "sqlite: commit history %s/%s", entry.FarmID, entry.ConditionKey)
}

func (s *SQLiteStore) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_history WHERE last_raised_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune history")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	var finished any
	if !report.FinishedAt.IsZero() {
		finished = report.FinishedAt.UTC().UnixMilli()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_reports (run_id, status, started_at, finished_at, report) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, finished_at = excluded.finished_at, report = excluded.report`,
		report.RunID, string(report.Status), report.StartedAt.UTC().UnixMilli(), finished, string(data),
	)
	return eris.Wrapf(err, "sqlite: save report %s", report.RunID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM run_reports WHERE run_id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: report %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", runID)
	}
	return decodeReport([]byte(data))
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.RunReport, error) {
	query := `SELECT report FROM run_reports WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var reports []model.RunReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		r, err := decodeReport([]byte(data))
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) LatestReport(ctx context.Context) (*model.RunReport, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM run_reports ORDER BY started_at DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest report")
	}
	return decodeReport([]byte(data))
}
