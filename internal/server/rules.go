package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
	"github.com/PhucNguyen204/sigma-detect/pkg/sigma"
)

type ruleView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Level     string `json:"level,omitempty"`
	Status    string `json:"status,omitempty"`
	Condition string `json:"condition"`
}

type skippedView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func skippedViews(skipped []engine.SkippedRule) []skippedView {
	out := make([]skippedView, 0, len(skipped))
	for _, sk := range skipped {
		out = append(out, skippedView{ID: sk.ID, Title: sk.Title, Kind: sk.Kind(), Error: sk.Err.Error()})
	}
	return out
}

// handleRules supports GET (list the active rules) and POST (replace them).
// POST body: { rules: ["yaml...", "yaml..."] }
func (s *AppServer) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		eng, skipped := s.currentEngine()
		rules := make([]ruleView, 0, eng.Len())
		for _, cr := range eng.Rules() {
			rules = append(rules, ruleView{
				ID:        cr.IR.ID,
				Title:     cr.IR.Title,
				Level:     cr.IR.Level,
				Status:    cr.IR.Status,
				Condition: cr.Condition.String(),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "skipped": skippedViews(skipped)})

	case http.MethodPost:
		var req struct {
			Rules []string `json:"rules"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
		irs := make([]sigma.RuleIR, 0, len(req.Rules))
		for i, doc := range req.Rules {
			ir, err := sigma.LoadRuleYAML([]byte(doc))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "index": i})
				return
			}
			irs = append(irs, ir)
		}
		eng, skipped := engine.Compile(irs, s.cfg.FieldMapping, s.cfg.EngineOptions)
		for _, sk := range skipped {
			logger.Warnf("Skipping rule %s (%s) [%s]: %v", sk.ID, sk.Title, sk.Kind(), sk.Err)
		}
		s.swapEngine(eng, skipped)
		logger.Infof("Rules replaced: compiled=%d skipped=%d", eng.Len(), len(skipped))
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"rules":   eng.Len(),
			"skipped": skippedViews(skipped),
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
