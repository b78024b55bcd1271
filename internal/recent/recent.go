// Package recent keeps a bounded, most-recently-seen index of observed tag
// identifiers and serves it over HTTP.
package recent

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HTTPProvider    = (*Module)(nil)
)

// DefaultSize is the number of distinct tags kept when unconfigured.
const DefaultSize = 1000

var evictions = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "tagwatch_recent_evictions_total",
	Help: "Tags evicted from the recent-tag index.",
})

func init() {
	prometheus.MustRegister(evictions)
}

// Sighting summarizes one tag identifier.
type Sighting struct {
	TagID     string    `json:"tag_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Count     uint64    `json:"count"`
}

// Module implements the recent-tag plugin.
type Module struct {
	logger *zap.Logger
	size   int

	mu    sync.Mutex
	cache *lru.Cache[string, Sighting]
}

// New creates a new recent-tag plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "recent",
		Version:     "0.1.0",
		Description: "Bounded index of recently observed tags",
		Roles:       []string{"query"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.size = DefaultSize
	if deps.Config != nil {
		if n := deps.Config.GetInt("size"); n > 0 {
			m.size = n
		}
	}
	cache, err := lru.NewWithEvict(m.size, func(string, Sighting) { evictions.Inc() })
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache = cache
	m.mu.Unlock()
	m.logger.Info("recent module initialized", zap.Int("size", m.size))
	return nil
}

func (m *Module) Start(_ context.Context) error { return nil }

func (m *Module) Stop(_ context.Context) error { return nil }

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: event.TopicTagObserved, Handler: m.handleTag},
	}
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/tags", Handler: m.handleList},
		{Method: http.MethodGet, Path: "/tags/{id}", Handler: m.handleGet},
		{Method: http.MethodDelete, Path: "/tags", Handler: m.handlePurge},
	}
}

func (m *Module) handleTag(_ context.Context, e plugin.Event) {
	var p event.TagObservedPayload
	switch v := e.Payload.(type) {
	case event.TagObservedPayload:
		p = v
	case *event.TagObservedPayload:
		if v == nil {
			return
		}
		p = *v
	default:
		return
	}
	if p.TagID == "" {
		return
	}
	at := p.At
	if at.IsZero() {
		at = e.Timestamp
	}
	m.Observe(p.TagID, at)
}

// Observe records a sighting of id at t.
func (m *Module) Observe(id string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return
	}
	s, ok := m.cache.Get(id)
	if !ok {
		s = Sighting{TagID: id, FirstSeen: t}
	}
	s.LastSeen = t
	s.Count++
	m.cache.Add(id, s)
}

// Lookup returns the sighting for id without refreshing its recency.
func (m *Module) Lookup(id string) (Sighting, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache == nil {
		return Sighting{}, false
	}
	return m.cache.Peek(id)
}

// List returns up to limit sightings, most recently seen first. A limit of
// zero or less returns all of them.
func (m *Module) List(limit int) []Sighting {
	m.mu.Lock()
	var out []Sighting
	if m.cache != nil {
		out = m.cache.Values()
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Purge empties the index.
func (m *Module) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache != nil {
		m.cache.Purge()
	}
}

// ListResponse is the body of GET /tags.
type ListResponse struct {
	Tags  []Sighting `json:"tags"`
	Total int        `json:"total"`
}

func (m *Module) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", r.URL.Path)
			return
		}
		limit = n
	}
	all := m.List(0)
	tags := all
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	if tags == nil {
		tags = []Sighting{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Tags: tags, Total: len(all)})
}

func (m *Module) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, ok := m.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "tag "+id+" not seen recently", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (m *Module) handlePurge(w http.ResponseWriter, _ *http.Request) {
	m.Purge()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "about:blank",
		"title":    http.StatusText(status),
		"status":   status,
		"detail":   detail,
		"instance": instance,
	})
}
