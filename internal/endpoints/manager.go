// Package endpoints tracks the hosts that events come from.
package endpoints

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record describes an endpoint and its activity.
type Record struct {
	EndpointID   string    `json:"endpoint_id"`
	HostName     string    `json:"host_name"`
	IP           string    `json:"ip"`
	AgentVersion string    `json:"agent_version"`
	LastSeen     time.Time `json:"last_seen"`
	Events       uint64    `json:"events"`
	Detections   uint64    `json:"detections"`
}

// Manager keeps endpoint records in memory. Safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	items      map[string]Record
	defaultTTL time.Duration
	now        func() time.Time
}

func New(ttl time.Duration) *Manager {
	return &Manager{
		items:      make(map[string]Record),
		defaultTTL: ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Observe records one event and its detection count. It returns the
// endpoint ID the event was attributed to, or "" when it carries none.
func (m *Manager) Observe(ev map[string]any, detections int) string {
	rec := FromMap(ev)
	if rec.EndpointID == "" {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.items[rec.EndpointID]
	cur.EndpointID = rec.EndpointID
	if rec.HostName != "" {
		cur.HostName = rec.HostName
	}
	if rec.IP != "" {
		cur.IP = rec.IP
	}
	if rec.AgentVersion != "" {
		cur.AgentVersion = rec.AgentVersion
	}
	cur.LastSeen = m.now()
	cur.Events++
	cur.Detections += uint64(detections)
	m.items[rec.EndpointID] = cur
	return rec.EndpointID
}

func (m *Manager) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	return r, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// List returns up to limit endpoints, most recently seen first.
func (m *Manager) List(limit int) []Record {
	m.mu.RLock()
	out := make([]Record, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].EndpointID < out[j].EndpointID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

// Cleanup removes endpoints not seen within ttl. A non-positive ttl falls
// back to the manager default; if that is also zero nothing is removed.
func (m *Manager) Cleanup(ttl time.Duration) int {
	effective := ttl
	if effective <= 0 {
		effective = m.defaultTTL
	}
	if effective <= 0 {
		return 0
	}
	cutoff := m.now().Add(-effective)
	removed := 0
	m.mu.Lock()
	for k, v := range m.items {
		if v.LastSeen.Before(cutoff) {
			delete(m.items, k)
			removed++
		}
	}
	m.mu.Unlock()
	return removed
}

// FromMap extracts endpoint identity from common agent fields. The host
// name stands in for a missing endpoint ID.
func FromMap(ev map[string]any) Record {
	var r Record
	r.EndpointID = first(ev, "endpoint_id", "agent.id", "agent_id")
	if hn, ok := ev["host"].(map[string]any); ok {
		if x, ok := hn["name"]; ok {
			r.HostName = toString(x)
		}
	}
	if r.HostName == "" {
		r.HostName = first(ev, "host.name", "hostname", "Computer")
	}
	r.IP = first(ev, "ip", "host.ip")
	r.AgentVersion = first(ev, "agent.version", "agent_version")
	if r.EndpointID == "" {
		r.EndpointID = r.HostName
	}
	return r
}

func first(ev map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := ev[k]; ok {
			if s := toString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
