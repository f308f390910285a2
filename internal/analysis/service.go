// Package analysis runs the scripted multi-agent debate: asynchronous
// runs that move through PENDING → RUNNING → COMPLETED (or FAILED) and
// are polled by the client. The "agents" are fixed personas with
// generated scores — there is no model behind them.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aegis-trader/paper-engine/internal/ledger"
	"github.com/aegis-trader/paper-engine/internal/metrics"
	"github.com/aegis-trader/paper-engine/internal/model"
	"github.com/aegis-trader/paper-engine/internal/quote"
)

// estimatedSeconds is the completion estimate reported to pollers.
const estimatedSeconds = 45

// dedupeWindow reuses an in-flight run for the same ticker instead of
// starting a duplicate.
const dedupeWindow = 2 * time.Minute

// Service owns the run registry and the debate workers. Runs live in
// memory; the registry is bounded only by process lifetime, which is
// acceptable for a demo analysis screen.
type Service struct {
	mu      sync.RWMutex
	runs    map[string]*model.AnalysisRun
	created []string // run IDs in creation order, newest appended last

	gen      *Generator
	limiter  *rate.Limiter
	duration time.Duration // simulated debate length
}

// NewService creates an analysis service. duration controls how long a
// simulated debate takes; tests pass something tiny.
func NewService(source quote.Source, duration time.Duration) *Service {
	return &Service{
		runs:     make(map[string]*model.AnalysisRun),
		gen:      NewGenerator(source),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/10), 10), // 10/min, as the original throttle
		duration: duration,
	}
}

// --- Request/Response types ---

// AnalyzeRequest is the JSON body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	Ticker        string `json:"ticker"`
	Timeframe     string `json:"timeframe"`
	IncludeSocial *bool  `json:"include_social"`
}

type triggerResponse struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	EstimatedTime int    `json:"estimated_time"`
	PollURL       string `json:"poll_url"`
	Message       string `json:"message,omitempty"`
}

// --- HTTP Handlers ---

// TriggerAnalysis handles POST /api/v1/analyze.
// Starts an async debate run and returns 202 with a poll URL.
func (s *Service) TriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, "analysis rate limit exceeded, try again shortly", http.StatusTooManyRequests)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ticker := ledger.Normalize(req.Ticker)
	if ticker == "" {
		writeError(w, "ticker is required", http.StatusBadRequest)
		return
	}
	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = "30d"
	}
	includeSocial := true
	if req.IncludeSocial != nil {
		includeSocial = *req.IncludeSocial
	}

	s.mu.Lock()
	// Reuse a recent in-flight run for the same ticker.
	if existing := s.recentPendingLocked(ticker); existing != nil {
		resp := triggerResponse{
			RunID:         existing.ID,
			Status:        existing.Status,
			EstimatedTime: estimatedSeconds,
			PollURL:       "/api/v1/results/" + existing.ID,
			Message:       "Using existing pending analysis",
		}
		s.mu.Unlock()
		slog.Info("reusing pending analysis run", "ticker", ticker, "run_id", resp.RunID)
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	run := &model.AnalysisRun{
		ID:            uuid.New().String(),
		Ticker:        ticker,
		Timeframe:     timeframe,
		IncludeSocial: includeSocial,
		Status:        model.RunPending,
		CreatedAt:     time.Now().UTC(),
	}
	s.runs[run.ID] = run
	s.created = append(s.created, run.ID)
	s.mu.Unlock()

	slog.Info("analysis run created", "run_id", run.ID, "ticker", ticker, "timeframe", timeframe)

	go s.execute(run.ID)

	writeJSON(w, http.StatusAccepted, triggerResponse{
		RunID:         run.ID,
		Status:        model.RunRunning,
		EstimatedTime: estimatedSeconds,
		PollURL:       "/api/v1/results/" + run.ID,
	})
}

// execute simulates the debate for one run.
func (s *Service) execute(runID string) {
	start := time.Now()

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok || run.Status != model.RunPending {
		s.mu.Unlock()
		return
	}
	run.Status = model.RunRunning
	startedAt := time.Now().UTC()
	run.StartedAt = &startedAt
	ticker := run.Ticker
	s.mu.Unlock()

	// The debate "thinks" for a while so polling behaves like the real
	// async pipeline.
	time.Sleep(s.duration)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	agents := s.gen.Agents(context.Background(), rng, ticker)
	consensus := s.gen.Consensus(rng, ticker, agents)

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok = s.runs[runID]
	if !ok || run.Status != model.RunRunning {
		return // cancelled mid-flight; leave the terminal state alone
	}
	run.Agents = agents
	run.Consensus = consensus
	run.Status = model.RunCompleted
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	run.ExecutionTime = int(time.Since(start).Seconds())

	metrics.AnalysisRuns.WithLabelValues(model.RunCompleted).Inc()
	slog.Info("analysis run completed",
		"run_id", runID,
		"ticker", ticker,
		"action", consensus.Action,
		"score", consensus.Score,
	)
}

// GetResults handles GET /api/v1/results/{runID}.
// Pollable: returns progress for in-flight runs and the full payload
// once completed.
func (s *Service) GetResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	s.mu.RLock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.RUnlock()
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	snapshot := *run
	s.mu.RUnlock()

	switch snapshot.Status {
	case model.RunFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"run_id": snapshot.ID,
			"status": model.RunFailed,
			"error":  snapshot.Error,
		})

	case model.RunPending, model.RunRunning:
		elapsed := int(time.Since(snapshot.CreatedAt).Seconds())
		if snapshot.StartedAt != nil {
			elapsed = int(time.Since(*snapshot.StartedAt).Seconds())
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":       snapshot.ID,
			"status":       snapshot.Status,
			"message":      "Analysis in progress... Agents are debating.",
			"elapsed_time": elapsed,
		})

	default: // COMPLETED
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":         snapshot.ID,
			"ticker":         snapshot.Ticker,
			"status":         snapshot.Status,
			"agents":         snapshot.Agents,
			"consensus":      snapshot.Consensus,
			"execution_time": snapshot.ExecutionTime,
			"summary":        summarize(snapshot.Agents),
		})
	}
}

// ListRuns handles GET /api/v1/runs?ticker=&status=&limit=
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	tickerFilter := ledger.Normalize(r.URL.Query().Get("ticker"))
	statusFilter := r.URL.Query().Get("status")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	s.mu.RLock()
	results := make([]model.AnalysisRun, 0, limit)
	for i := len(s.created) - 1; i >= 0 && len(results) < limit; i-- {
		run := s.runs[s.created[i]]
		if tickerFilter != "" && run.Ticker != tickerFilter {
			continue
		}
		if statusFilter != "" && run.Status != statusFilter {
			continue
		}
		results = append(results, *run)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(results),
		"results": results,
	})
}

// CancelRun handles DELETE /api/v1/runs/{runID}.
// Only pending or running runs can be cancelled.
func (s *Service) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok {
		s.mu.Unlock()
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	if run.Status == model.RunCompleted || run.Status == model.RunFailed {
		status := run.Status
		s.mu.Unlock()
		writeError(w, "cannot cancel a "+status+" run", http.StatusBadRequest)
		return
	}
	run.Status = model.RunFailed
	run.Error = "Cancelled by user"
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	s.mu.Unlock()

	metrics.AnalysisRuns.WithLabelValues(model.RunFailed).Inc()
	slog.Info("analysis run cancelled", "run_id", runID)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Analysis cancelled",
		"run_id":  runID,
	})
}

// Stats handles GET /api/v1/stats.
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var completed, failed, pending int
	var execTotal, execCount int
	tickerCounts := make(map[string]int)
	last24h := 0
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	for _, run := range s.runs {
		switch run.Status {
		case model.RunCompleted:
			completed++
			execTotal += run.ExecutionTime
			execCount++
		case model.RunFailed:
			failed++
		default:
			pending++
		}
		tickerCounts[run.Ticker]++
		if run.CreatedAt.After(cutoff) {
			last24h++
		}
	}

	type tickerCount struct {
		Ticker string `json:"ticker"`
		Count  int    `json:"count"`
	}
	top := make([]tickerCount, 0, len(tickerCounts))
	for t, c := range tickerCounts {
		top = append(top, tickerCount{t, c})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Ticker < top[j].Ticker
	})
	if len(top) > 10 {
		top = top[:10]
	}

	var avgExec *float64
	if execCount > 0 {
		v := float64(execTotal) / float64(execCount)
		avgExec = &v
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_runs":            len(s.runs),
		"completed_runs":        completed,
		"failed_runs":           failed,
		"pending_runs":          pending,
		"avg_execution_time":    avgExec,
		"most_analyzed_tickers": top,
		"runs_last_24h":         last24h,
	})
}

// recentPendingLocked finds an in-flight run for a ticker created within
// the dedupe window. Caller holds the lock.
func (s *Service) recentPendingLocked(ticker string) *model.AnalysisRun {
	cutoff := time.Now().UTC().Add(-dedupeWindow)
	for i := len(s.created) - 1; i >= 0; i-- {
		run := s.runs[s.created[i]]
		if run.CreatedAt.Before(cutoff) {
			break
		}
		if run.Ticker == ticker &&
			(run.Status == model.RunPending || run.Status == model.RunRunning) {
			return run
		}
	}
	return nil
}

func summarize(agents []model.AgentOpinion) map[string]any {
	if len(agents) == 0 {
		return nil
	}
	var sum float64
	maxConf, minConf := agents[0].Confidence, agents[0].Confidence
	for _, a := range agents {
		sum += a.Score
		if a.Confidence > maxConf {
			maxConf = a.Confidence
		}
		if a.Confidence < minConf {
			minConf = a.Confidence
		}
	}
	return map[string]any{
		"total_agents":   len(agents),
		"avg_score":      sum / float64(len(agents)),
		"max_confidence": maxConf,
		"min_confidence": minConf,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
