package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/agri-ai/farm-monitor/internal/config"
)

// useConfig installs a runnable daily config on a temp SQLite store and
// restores the previous global afterwards.
func useConfig(t *testing.T, sqlitePath string) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = sqlitePath
	c.Agent.Provider = "http"
	c.Agent.Endpoint = "http://127.0.0.1:1/evaluate"
	c.Agent.CallTimeoutSecs = 90
	c.Orchestrator = config.OrchestratorConfig{
		Concurrency:      5,
		BatchSize:        25,
		MaxAttempts:      3,
		FarmTimeoutSecs:  300,
		RunDeadlineMins:  50,
		DedupWindowHours: 24,
	}
	c.Notify.Driver = "webhook"
	c.Notify.WebhookURL = "http://127.0.0.1:1/alerts"

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func TestInitRunEnv_Ready(t *testing.T) {
	useConfig(t, filepath.Join(t.TempDir(), "farm.db"))

	env, err := initRunEnv(context.Background(), "daily")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Orchestrator)
	assert.NotNil(t, env.Metrics)
	assert.NotNil(t, env.Alerter)
	assert.NoError(t, env.Store.Ping(context.Background()))
}

func TestInitRunEnv_StoreUnavailable(t *testing.T) {
	useConfig(t, "/nonexistent-dir/sub/farm.db")

	var (
		env *runEnv
		err error
	)
	require.NotPanics(t, func() {
		env, err = initRunEnv(context.Background(), "daily")
	})
	assert.Error(t, err)
	assert.Nil(t, env)
}

func TestInitRunEnv_LateFailureReleasesStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm.db")
	c := useConfig(t, path)
	// Influx without org and bucket fails after the store is open.
	c.Metrics.Influx.URL = "http://127.0.0.1:1"

	var (
		env *runEnv
		err error
	)
	require.NotPanics(t, func() {
		env, err = initRunEnv(context.Background(), "daily")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx")
	assert.Nil(t, env)

	// The store was migrated and then closed, so a fresh handle can write.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`INSERT INTO farms (farm_id, data, updated_at) VALUES ('F01', '{}', 0)`)
	assert.NoError(t, err)
}

func TestInitRunEnv_InvalidConfig(t *testing.T) {
	c := useConfig(t, filepath.Join(t.TempDir(), "farm.db"))
	c.Orchestrator.Concurrency = 0

	env, err := initRunEnv(context.Background(), "daily")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.concurrency")
	assert.Nil(t, env)
}
