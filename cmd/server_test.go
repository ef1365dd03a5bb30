package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/report"
	"github.com/agri-ai/farm-monitor/internal/store"
)

var testSecret = []byte("test-secret")

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	fatal   bool
	trigger atomic.Value
}

func (f *fakeRunner) RunFromRegistry(ctx context.Context, _ store.Registry, trigger string) *model.RunReport {
	f.calls.Add(1)
	f.trigger.Store(trigger)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	r := model.NewRunReport("run-http", time.Now().UTC(), nil)
	if f.fatal {
		r.MarkFatal("registry unreachable")
	}
	r.Finalize(time.Now().UTC())
	return r
}

func newTestServer(t *testing.T, runner dailyRunner) (*server, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	return &server{
		store:   st,
		runner:  runner,
		metrics: report.NewMetrics().Handler(),
		secret:  testSecret,
		origins: []string{"*"},
		runCtx:  context.Background(),
	}, st
}

func signToken(t *testing.T, secret []byte, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": exp.Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func savedReport(t *testing.T, st *store.SQLiteStore, id string, started time.Time, fatal bool) {
	t.Helper()
	r := model.NewRunReport(id, started, []string{"F01"})
	r.Trigger = "cli"
	r.Record(model.FarmOutcome{FarmID: "F01", Outcome: model.OutcomeSucceeded, Attempts: 1})
	if fatal {
		r.MarkFatal("registry unreachable")
	}
	r.Finalize(started.Add(time.Minute))
	require.NoError(t, st.SaveReport(context.Background(), r))
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := do(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["run_running"])
}

func TestServer_HealthStoreDown(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{})
	require.NoError(t, st.Close())

	rec := do(t, srv.Router(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	rec := do(t, srv.Router(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	h := srv.Router()

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, []byte("other"), time.Now().Add(time.Hour))},
		{"expired", signToken(t, testSecret, time.Now().Add(-time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/runs", tt.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestServer_RejectsNoneAlgorithm(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	rec := do(t, srv.Router(), http.MethodGet, "/runs", tok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_TriggerDaily(t *testing.T) {
	runner := &fakeRunner{}
	srv, _ := newTestServer(t, runner)
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	rec := do(t, srv.Router(), http.MethodPost, "/runs/daily", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var r model.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "run-http", r.RunID)
	assert.Equal(t, model.RunStatusCompleted, r.Status)

	srv.Wait()
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, "http", runner.trigger.Load())
	assert.False(t, srv.running.Load())
}

func TestServer_TriggerDailyFatal(t *testing.T) {
	runner := &fakeRunner{fatal: true}
	srv, _ := newTestServer(t, runner)
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	rec := do(t, srv.Router(), http.MethodPost, "/runs/daily", token)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var r model.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, model.RunStatusFatal, r.Status)
	assert.Equal(t, "registry unreachable", r.FatalReason)
	srv.Wait()
}

func TestServer_TriggerDailyAsyncConflict(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	srv, _ := newTestServer(t, runner)
	h := srv.Router()
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	first := do(t, h, http.MethodPost, "/runs/daily?async=true", token)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := do(t, h, http.MethodPost, "/runs/daily?async=true", token)
	assert.Equal(t, http.StatusConflict, second.Code)

	close(runner.release)
	srv.Wait()
	assert.Equal(t, int32(1), runner.calls.Load())

	third := do(t, h, http.MethodPost, "/runs/daily?async=true", token)
	assert.Equal(t, http.StatusAccepted, third.Code)
	srv.Wait()
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestServer_ListRuns(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{})
	base := time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC)
	savedReport(t, st, "run-old", base.Add(-48*time.Hour), false)
	savedReport(t, st, "run-fatal", base.Add(-24*time.Hour), true)
	savedReport(t, st, "run-new", base, false)

	h := srv.Router()
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	ids := func(rec *httptest.ResponseRecorder) []string {
		var reports []model.RunReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
		out := make([]string, len(reports))
		for i, r := range reports {
			out[i] = r.RunID
		}
		return out
	}

	rec := do(t, h, http.MethodGet, "/runs", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"run-new", "run-fatal", "run-old"}, ids(rec))

	rec = do(t, h, http.MethodGet, "/runs?status=fatal", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"run-fatal"}, ids(rec))

	rec = do(t, h, http.MethodGet, "/runs?since=2026-07-13T00:00:00Z&limit=1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"run-new"}, ids(rec))
}

func TestServer_ListRunsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	rec := do(t, srv.Router(), http.MethodGet, "/runs", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_ListRunsBadParams(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRunner{})
	h := srv.Router()
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	for _, q := range []string{"limit=abc", "limit=0", "since=yesterday"} {
		rec := do(t, h, http.MethodGet, "/runs?"+q, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestServer_GetRun(t *testing.T) {
	srv, st := newTestServer(t, &fakeRunner{})
	savedReport(t, st, "run-1", time.Date(2026, 7, 14, 6, 0, 0, 0, time.UTC), false)
	h := srv.Router()
	token := signToken(t, testSecret, time.Now().Add(time.Hour))

	rec := do(t, h, http.MethodGet, "/runs/run-1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	var r model.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, model.RunStatusCompleted, r.Status)
	assert.Equal(t, model.OutcomeSucceeded, r.Farms["F01"].Outcome)

	rec = do(t, h, http.MethodGet, "/runs/missing", token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
