// Package pipeline turns raw events into detections.
package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/PhucNguyen204/sigma-detect/internal/endpoints"
	"github.com/PhucNguyen204/sigma-detect/internal/store"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
)

var ErrNotObject = errors.New("payload must be object or array of objects")

// DecodeEvents reads one JSON object or an array of objects. Numbers are
// kept as json.Number; array elements that are not objects are dropped.
func DecodeEvents(r io.Reader) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	switch t := payload.(type) {
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		events := make([]map[string]any, 0, len(t))
		for _, it := range t {
			if m, ok := it.(map[string]any); ok {
				events = append(events, m)
			}
		}
		return events, nil
	}
	return nil, ErrNotObject
}

func decodePayload(b []byte) ([]map[string]any, error) {
	return DecodeEvents(bytes.NewReader(b))
}

// Detect evaluates ev and builds one detection per matching rule. tracker
// may be nil.
func Detect(eng *engine.Engine, ev map[string]any, tracker *endpoints.Manager) ([]store.Detection, error) {
	ids, err := eng.Evaluate(ev)
	if err != nil {
		return nil, err
	}
	var endpointID string
	if tracker != nil {
		endpointID = tracker.Observe(ev, len(ids))
	} else {
		endpointID = endpoints.FromMap(ev).EndpointID
	}
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]store.Detection, 0, len(ids))
	for _, id := range ids {
		r, _ := eng.Rule(id)
		out = append(out, store.NewDetection(endpointID, id, r.IR.Title, r.IR.Level, ev))
	}
	return out, nil
}
