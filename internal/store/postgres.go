package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/db"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Statements prepared on every new connection; the daily run issues these
// once or twice per farm.
var preparedStatements = map[string]string{
	"lookup_history": sqlLookupHistory,
	"commit_history": sqlCommitHistory,
	"get_farm":       `SELECT data FROM farms WHERE farm_id = $1`,
}

const sqlLookupHistory = `SELECT farm_id, condition_key, last_raised_at, severity, delivery_id, message
FROM alert_history WHERE farm_id = $1 ORDER BY condition_key`

const sqlCommitHistory = `INSERT INTO alert_history (farm_id, condition_key, last_raised_at, severity, delivery_id, message)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (farm_id, condition_key) DO UPDATE SET
	last_raised_at = GREATEST(alert_history.last_raised_at, EXCLUDED.last_raised_at),
	severity = EXCLUDED.severity,
	delivery_id = EXCLUDED.delivery_id,
	message = EXCLUDED.message`

// NewPostgres connects, pings and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr interface{ SQLState() string }
				if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS farms (
	farm_id    TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alert_history (
	farm_id        TEXT NOT NULL,
	condition_key  TEXT NOT NULL,
	last_raised_at TIMESTAMPTZ NOT NULL,
	severity       TEXT NOT NULL DEFAULT '',
	delivery_id    TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (farm_id, condition_key)
);

CREATE TABLE IF NOT EXISTS run_reports (
	run_id      TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	report      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_history_last_raised ON alert_history(last_raised_at);
CREATE INDEX IF NOT EXISTS idx_run_reports_started ON run_reports(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListFarms(ctx context.Context) ([]model.Farm, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM farms ORDER BY farm_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list farms")
	}
	defer rows.Close()

	var farms []model.Farm
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan farm")
		}
		var f model.Farm
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal farm")
		}
		farms = append(farms, f)
	}
	return farms, eris.Wrap(rows.Err(), "postgres: list farms iterate")
}

func (s *PostgresStore) GetFarm(ctx context.Context, farmID string) (*model.Farm, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM farms WHERE farm_id = $1`, farmID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: farm %s", farmID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get farm %s", farmID)
	}
	var f model.Farm
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal farm %s", farmID)
	}
	return &f, nil
}

// UpsertFarms writes the farms in one transaction via COPY into a staging table.
func (s *PostgresStore) UpsertFarms(ctx context.Context, farms []model.Farm) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(farms))
	for _, f := range farms {
		data, err := json.Marshal(f)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal farm %s", f.ID)
		}
		rows = append(rows, []any{f.ID, data, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "farms",
		Columns:      []string{"farm_id", "data", "updated_at"},
		ConflictKeys: []string{"farm_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert farms")
}

func (s *PostgresStore) DeleteFarm(ctx context.Context, farmID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM farms WHERE farm_id = $1`, farmID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete farm %s", farmID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: farm %s", farmID)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, farmID string) ([]model.AlertHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, sqlLookupHistory, farmID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lookup history %s", farmID)
	}
	defer rows.Close()

	var entries []model.AlertHistoryEntry
	for rows.Next() {
		var e model.AlertHistoryEntry
		var severity string
		if err := rows.Scan(&e.FarmID, &e.ConditionKey, &e.LastRaisedAt, &severity, &e.DeliveryID, &e.Message); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history")
		}
		e.Severity, _ = model.ParseSeverity(severity)
		e.LastRaisedAt = e.LastRaisedAt.UTC()
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: lookup history iterate")
}

func (s *PostgresStore) Commit(ctx context.Context, entry model.AlertHistoryEntry) error {
	_, err := s.pool.Exec(ctx, sqlCommitHistory,
		entry.FarmID, entry.ConditionKey, entry.LastRaisedAt.UTC(),
		entry.Severity.String(), entry.DeliveryID, entry.Message,
	)
	return eris.Wrapf(err, "postgres: commit history %s/%s", entry.FarmID, entry.ConditionKey)
}

func (s *PostgresStore) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_history WHERE last_raised_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune history")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *model.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	var finished *time.Time
	if !report.FinishedAt.IsZero() {
		t := report.FinishedAt.UTC()
		finished = &t
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_reports (run_id, status, started_at, finished_at, report) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, report = EXCLUDED.report`,
		report.RunID, string(report.Status), report.StartedAt.UTC(), finished, data,
	)
	return eris.Wrapf(err, "postgres: save report %s", report.RunID)
}

func (s *PostgresStore) GetReport(ctx context.Context, runID string) (*model.RunReport, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM run_reports WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: report %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %s", runID)
	}
	return decodeReport(data)
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.RunReport, error) {
	query := `SELECT report FROM run_reports WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.RunReport
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		r, err := decodeReport(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) LatestReport(ctx context.Context) (*model.RunReport, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM run_reports ORDER BY started_at DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest report")
	}
	return decodeReport(data)
}

func decodeReport(data []byte) (*model.RunReport, error) {
	var r model.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal report")
	}
	return &r, nil
}
