package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/store"
)

// dailyRunner is the part of the orchestrator the HTTP trigger drives.
type dailyRunner interface {
	RunFromRegistry(ctx context.Context, reg store.Registry, trigger string) *model.RunReport
}

// server exposes the run trigger and run history over HTTP.
type server struct {
	store   store.Store
	runner  dailyRunner
	metrics http.Handler
	secret  []byte
	origins []string

	// runCtx outlives requests; cancelling it interrupts an in-flight run.
	runCtx  context.Context
	running atomic.Bool
	wg      sync.WaitGroup
}

func (s *server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireJWT)
		r.Post("/runs/daily", s.handleTriggerDaily)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Wait blocks until a triggered run has finished.
func (s *server) Wait() {
	s.wg.Wait()
}

func (s *server) requireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			respondError(w, http.StatusUnauthorized, "bearer token required")
			return
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			zap.L().Debug("server: rejected token", zap.Error(err))
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"ok":          true,
		"run_running": s.running.Load(),
		"time":        time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleTriggerDaily runs the sweep and answers with its report: 200 when the
// run completed, 500 when it was fatal. With ?async=true it answers 202 at
// once and the report is read back later from /runs.
func (s *server) handleTriggerDaily(w http.ResponseWriter, r *http.Request) {
	if !s.running.CompareAndSwap(false, true) {
		respondError(w, http.StatusConflict, "a daily run is already in progress")
		return
	}

	done := make(chan *model.RunReport, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		report := s.runner.RunFromRegistry(s.runCtx, s.store, "http")
		zap.L().Info("server: triggered run finished",
			zap.String("run_id", report.RunID),
			zap.String("status", string(report.Status)),
		)
		done <- report
	}()

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "trigger": "http"})
		return
	}

	// The run is not tied to the request; a client that disconnects does not
	// cancel it.
	select {
	case report := <-done:
		status := http.StatusOK
		if report.Status == model.RunStatusFatal {
			status = http.StatusInternalServerError
		}
		respondJSON(w, status, report)
	case <-r.Context().Done():
	}
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{Status: model.RunStatus(q.Get("status"))}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	reports, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list reports", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if reports == nil {
		reports = []model.RunReport{}
	}
	respondJSON(w, http.StatusOK, reports)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := s.store.GetReport(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("server: get report", zap.String("run_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
