// Package server exposes the detection engine over HTTP.
package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PhucNguyen204/sigma-detect/internal/endpoints"
	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/internal/pipeline"
	"github.com/PhucNguyen204/sigma-detect/internal/store"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

const maxBodyBytes = 10 << 20

// DetectionStore is the persistence the server writes to and lists from.
type DetectionStore interface {
	WriteDetections(ctx context.Context, ds []store.Detection) error
	ListDetections(ctx context.Context, f store.Filter) ([]store.Detection, error)
}

type Config struct {
	// FieldMapping and EngineOptions are used when rules are replaced at runtime.
	FieldMapping  sigma.FieldMapping
	EngineOptions engine.Options
	// Store is optional; without it detections are only logged.
	Store     DetectionStore
	Endpoints *endpoints.Manager
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type AppServer struct {
	cfg Config

	mu      sync.RWMutex // protects engine swap
	engine  *engine.Engine
	skipped []engine.SkippedRule

	totalRequests atomic.Uint64
	totalAccepted atomic.Uint64
	totalMatched  atomic.Uint64
}

func NewAppServer(eng *engine.Engine, skipped []engine.SkippedRule, cfg Config) *AppServer {
	if cfg.Endpoints == nil {
		cfg.Endpoints = endpoints.New(0)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &AppServer{cfg: cfg, engine: eng, skipped: skipped}
}

// RegisterRoutes wires HTTP handlers.
func (s *AppServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/endpoints", s.handleListEndpoints)
	mux.HandleFunc("/api/v1/detections", s.handleListDetections)
	mux.HandleFunc("/api/v1/ingest", s.handleIngest)
	mux.HandleFunc("/api/v1/rules", s.handleRules)
	mux.HandleFunc("/api/v1/conditions/compile", s.handleCompileCondition)
	mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
}

func (s *AppServer) Router() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *AppServer) currentEngine() (*engine.Engine, []engine.SkippedRule) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.skipped
}

func (s *AppServer) swapEngine(e *engine.Engine, skipped []engine.SkippedRule) {
	s.mu.Lock()
	s.engine, s.skipped = e, skipped
	s.mu.Unlock()
}

// ---- Handlers ----

func (s *AppServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *AppServer) handleStats(w http.ResponseWriter, r *http.Request) {
	eng, skipped := s.currentEngine()
	pf := eng.PrefilterStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_requests": s.totalRequests.Load(),
		"total_accepted": s.totalAccepted.Load(),
		"total_matched":  s.totalMatched.Load(),
		"endpoints":      s.cfg.Endpoints.Len(),
		"engine": map[string]any{
			"rules":   eng.Len(),
			"skipped": len(skipped),
			"prefilter": map[string]any{
				"patterns":      pf.Patterns,
				"indexed_rules": pf.IndexedRules,
				"always_eval":   pf.AlwaysEval,
			},
		},
	})
}

func (s *AppServer) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Endpoints.List(queryLimit(r, 200)))
}

func (s *AppServer) handleListDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Store == nil {
		writeErr(w, http.StatusServiceUnavailable, errors.New("detection store not configured"))
		return
	}
	ds, err := s.cfg.Store.ListDetections(r.Context(), store.Filter{
		RuleID: r.URL.Query().Get("rule_id"),
		Limit:  queryLimit(r, 200),
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

type ingestResult struct {
	Index   int      `json:"index"`
	Matched []string `json:"matched"`
}

// handleIngest accepts a JSON object or array of objects, optionally gzip encoded.
func (s *AppServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.totalRequests.Add(1)

	var body io.Reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(body)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid gzip body: %w", err))
			return
		}
		defer zr.Close()
		body = zr
	}
	events, err := pipeline.DecodeEvents(body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	eng, _ := s.currentEngine()
	results := []ingestResult{}
	var detections []store.Detection
	matched := 0
	for i, ev := range events {
		ds, err := pipeline.Detect(eng, ev, s.cfg.Endpoints)
		if err != nil {
			logger.Errorf("Evaluate error on event %d: %v", i, err)
			continue
		}
		if len(ds) == 0 {
			continue
		}
		matched++
		res := ingestResult{Index: i}
		for _, d := range ds {
			res.Matched = append(res.Matched, d.RuleID)
			logger.Infof("ALERT endpoint=%s rule=%s title=%q level=%s", d.EndpointID, d.RuleID, d.Title, d.Level)
		}
		results = append(results, res)
		detections = append(detections, ds...)
	}
	s.totalAccepted.Add(uint64(len(events)))
	s.totalMatched.Add(uint64(matched))

	if s.cfg.Store != nil && len(detections) > 0 {
		if err := s.cfg.Store.WriteDetections(r.Context(), detections); err != nil {
			logger.Errorf("Failed to store %d detections: %v", len(detections), err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": len(events),
		"matched":  matched,
		"results":  results,
	})
}

// ---- Helpers ----

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("writeJSON error: %v", err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
