package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/PhucNguyen204/sigma-detect/pkg/condition"
)

type compileRequest struct {
	Condition   string   `json:"condition"`
	Identifiers []string `json:"identifiers"`
	MaxDepth    int      `json:"max_depth,omitempty"`
	// Facts, when present, evaluates the compiled condition.
	Facts condition.Facts `json:"facts,omitempty"`
}

type compileResponse struct {
	Canonical  string   `json:"canonical"`
	References []string `json:"references"`
	Result     *bool    `json:"result,omitempty"`
}

type conditionError struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	Position   *int   `json:"position,omitempty"`
	Fragment   string `json:"fragment,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// handleCompileCondition compiles a condition against a list of search
// identifiers and optionally evaluates it against facts.
func (s *AppServer) handleCompileCondition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req compileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	opts := s.cfg.EngineOptions.Condition
	if opts.MaxDepth == 0 {
		opts = condition.DefaultOptions()
	}
	if req.MaxDepth > 0 {
		opts = opts.WithMaxDepth(req.MaxDepth)
	}
	c, err := condition.CompileWithOptions(req.Condition, req.Identifiers, opts)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, toConditionError(err))
		return
	}

	resp := compileResponse{Canonical: c.String(), References: c.References()}
	if req.Facts != nil {
		ok, err := c.Evaluate(req.Facts)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, toConditionError(err))
			return
		}
		resp.Result = &ok
	}
	writeJSON(w, http.StatusOK, resp)
}

func toConditionError(err error) conditionError {
	out := conditionError{Error: err.Error(), Kind: condition.KindName(err)}
	var ce *condition.CompileError
	if errors.As(err, &ce) {
		if ce.Position >= 0 {
			pos := ce.Position
			out.Position = &pos
		}
		out.Fragment = ce.Fragment
	}
	var mf *condition.MissingFactError
	if errors.As(err, &mf) {
		out.Identifier = mf.Identifier
	}
	return out
}
