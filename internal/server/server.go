package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/export"
	"github.com/ogulcanaydogan/costwatch/pkg/model"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
)

const requestTimeout = 10 * time.Second

// Server provides the dashboard API over the cost store.
type Server struct {
	recorder *tracker.Recorder
	store    *tracker.CostStore
	mux      *http.ServeMux
	logger   *slog.Logger

	// last good summary per query, served when storage is unavailable
	cacheMu sync.Mutex
	cache   map[string]cachedSummary
}

type cachedSummary struct {
	summary   model.CostSummary
	fetchedAt time.Time
}

// NewServer creates an API server.
func NewServer(recorder *tracker.Recorder, logger *slog.Logger) *Server {
	s := &Server{
		recorder: recorder,
		store:    recorder.Store(),
		mux:      http.NewServeMux(),
		logger:   logger,
		cache:    make(map[string]cachedSummary),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/calls", s.handleCalls)
	s.mux.HandleFunc("POST /api/v1/calls", s.handleRecord)
	s.mux.HandleFunc("GET /api/v1/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/v1/budget", s.handleBudget)
	s.mux.HandleFunc("POST /api/v1/budget/reset", s.handleBudgetReset)
	s.mux.HandleFunc("GET /api/v1/export", s.handleExport)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidCallData):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseFilter reads agent, model, task_id, correlation_id, since and until
// from the query string. An optional period (hourly, daily, weekly,
// monthly) sets both bounds to the calendar period containing now.
func (s *Server) parseFilter(q url.Values) (model.QueryFilter, error) {
	f := model.QueryFilter{
		Agent:         q.Get("agent"),
		Model:         q.Get("model"),
		TaskID:        q.Get("task_id"),
		CorrelationID: q.Get("correlation_id"),
	}

	if p := q.Get("period"); p != "" {
		switch period := model.ReportPeriod(p); period {
		case model.PeriodHourly, model.PeriodDaily, model.PeriodWeekly, model.PeriodMonthly:
			f.Since, f.Until = model.PeriodBounds(period, s.store.Now())
		default:
			return f, fmt.Errorf("unknown period %q", p)
		}
	}

	for _, b := range []struct {
		key string
		dst *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw := q.Get(b.key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s: want RFC3339", b.key)
		}
		*b.dst = ts.UTC()
	}
	return f, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	filter, err := s.parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.store.Records(ctx, filter)
	if err != nil {
		s.logger.Error("query calls", "error", err)
		writeError(w, statusFor(err), "query failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type recordRequest struct {
	Agent           string  `json:"agent"`
	Model           string  `json:"model"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	DurationSeconds float64 `json:"duration_seconds"`
	Success         *bool   `json:"success"`
	TaskID          string  `json:"task_id"`
	CorrelationID   string  `json:"correlation_id"`
}

type recordResponse struct {
	Record *model.CallRecord `json:"record"`
	Alerts []alerts.Alert    `json:"alerts"`
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req recordRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	rec, fired, err := s.recorder.RecordWithAlerts(ctx, tracker.Call{
		Agent:           req.Agent,
		Model:           req.Model,
		InputTokens:     req.InputTokens,
		OutputTokens:    req.OutputTokens,
		DurationSeconds: req.DurationSeconds,
		Success:         success,
		TaskID:          req.TaskID,
		CorrelationID:   req.CorrelationID,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeError(w, status, err.Error())
			return
		}
		s.logger.Error("record call", "error", err)
		writeError(w, status, "record failed")
		return
	}

	if fired == nil {
		fired = []alerts.Alert{}
	}
	writeJSON(w, http.StatusCreated, recordResponse{Record: rec, Alerts: fired})
}

type summaryResponse struct {
	model.CostSummary
	Stale     bool      `json:"stale"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	filter, err := s.parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := r.URL.Query().Encode()

	summary, err := s.store.Summary(ctx, filter)
	if err != nil {
		s.logger.Error("aggregate calls", "error", err)

		s.cacheMu.Lock()
		cached, ok := s.cache[key]
		s.cacheMu.Unlock()
		if !ok {
			writeError(w, statusFor(err), "summary unavailable")
			return
		}
		writeJSON(w, http.StatusOK, summaryResponse{CostSummary: cached.summary, Stale: true, FetchedAt: cached.fetchedAt})
		return
	}

	now := s.store.Now()
	s.cacheMu.Lock()
	s.cache[key] = cachedSummary{summary: summary, fetchedAt: now}
	s.cacheMu.Unlock()

	writeJSON(w, http.StatusOK, summaryResponse{CostSummary: summary, FetchedAt: now})
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.BudgetStatus())
}

func (s *Server) handleBudgetReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.store.ResetBudgetPeriod(ctx); err != nil {
		s.logger.Error("reset budget period", "error", err)
		writeError(w, statusFor(err), "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, s.store.BudgetStatus())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	formatParam := q.Get("format")
	if formatParam == "" {
		formatParam = string(export.FormatCSV)
	}
	format, err := export.ParseFormat(formatParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := s.parseFilter(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=costwatch-calls.%s", format))

	// Headers are committed once the first byte is written, so a failure
	// mid-stream can only be logged.
	n, err := export.Write(w, format, s.store.Query(ctx, filter))
	if err != nil {
		s.logger.Error("export calls", "format", format, "written", n, "error", err)
		return
	}
	s.logger.Debug("export complete", "format", format, "records", n)
}
