// Package store persists detections to PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Detection is one rule match on one event.
type Detection struct {
	ID         uuid.UUID      `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	EndpointID string         `json:"endpoint_id,omitempty"`
	RuleID     string         `json:"rule_id"`
	Title      string         `json:"title"`
	Level      string         `json:"level,omitempty"`
	Event      map[string]any `json:"event"`
}

// NewDetection stamps a fresh ID and the current time.
func NewDetection(endpointID, ruleID, title, level string, event map[string]any) Detection {
	return Detection{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		EndpointID: endpointID,
		RuleID:     ruleID,
		Title:      title,
		Level:      level,
		Event:      event,
	}
}

type Store struct {
	db *sql.DB
}

// Open connects with the postgres driver and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `CREATE TABLE IF NOT EXISTS detections (
	id          UUID PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	endpoint_id TEXT NOT NULL DEFAULT '',
	rule_id     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	level       TEXT NOT NULL DEFAULT '',
	event       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS detections_occurred_at_idx ON detections (occurred_at DESC);
CREATE INDEX IF NOT EXISTS detections_rule_id_idx ON detections (rule_id)`

// EnsureSchema creates the detections table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return execScript(ctx, s.db, "builtin schema", schema)
}

// WriteDetections inserts ds in one transaction.
func (s *Store) WriteDetections(ctx context.Context, ds []Detection) error {
	if len(ds) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO detections(id, occurred_at, endpoint_id, rule_id, title, level, event)
		VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range ds {
		b, err := json.Marshal(d.Event)
		if err != nil {
			return fmt.Errorf("encode event for %s: %w", d.RuleID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID.String(), d.OccurredAt, d.EndpointID, d.RuleID, d.Title, d.Level, string(b)); err != nil {
			return fmt.Errorf("insert detection %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Filter narrows ListDetections. Zero fields do not filter.
type Filter struct {
	RuleID string
	Limit  int
}

const (
	defaultLimit = 200
	maxLimit     = 1000
)

// ListDetections returns the newest detections first.
func (s *Store) ListDetections(ctx context.Context, f Filter) ([]Detection, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	q := `SELECT id, occurred_at, endpoint_id, rule_id, title, level, event FROM detections`
	args := []any{}
	if f.RuleID != "" {
		q += ` WHERE rule_id = $1`
		args = append(args, f.RuleID)
	}
	q += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	out := []Detection{}
	for rows.Next() {
		var (
			d   Detection
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &d.OccurredAt, &d.EndpointID, &d.RuleID, &d.Title, &d.Level, &raw); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		if d.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("detection id %q: %w", id, err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d.Event); err != nil {
				return nil, fmt.Errorf("decode event of %s: %w", id, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
