// Package cache holds read-side query results between daily recomputes.
//
// Entries never expire on their own. An entry is replaced only when the clock has
// passed today's refresh time and the entry was computed before it; until then the
// stored value is served even if the database has moved on.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/guttosm/spimexpulse/config"
	"github.com/guttosm/spimexpulse/internal/logger"
	"github.com/guttosm/spimexpulse/internal/metrics"
)

// Store is a key/value store of JSON payloads.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

type memoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore returns an in-process Store without expiry.
func NewMemoryStore() Store {
	return &memoryStore{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *memoryStore) Get(key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (m *memoryStore) Set(key string, value []byte) {
	m.c.Set(key, value, gocache.NoExpiration)
}

func (m *memoryStore) Delete(key string) {
	m.c.Delete(key)
}

// entry is the stored envelope.
type entry struct {
	ComputedAt time.Time       `json:"computed_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Gate decides whether a cached value is due for recompute.
type Gate struct {
	hour, minute int
	now          func() time.Time
}

// NewGate parses an HH:MM refresh time, evaluated in local time.
func NewGate(refreshAt string) (*Gate, error) {
	h, m, err := config.ParseClock(refreshAt)
	if err != nil {
		return nil, err
	}
	return &Gate{hour: h, minute: m, now: time.Now}, nil
}

// Cutoff returns today's refresh instant.
func (g *Gate) Cutoff() time.Time {
	now := g.now()
	return time.Date(now.Year(), now.Month(), now.Day(), g.hour, g.minute, 0, 0, now.Location())
}

// Stale reports whether a value computed at computedAt must be recomputed now.
func (g *Gate) Stale(computedAt time.Time) bool {
	cutoff := g.Cutoff()
	return !g.now().Before(cutoff) && computedAt.Before(cutoff)
}

// Cache combines a Store with its refresh Gate.
type Cache struct {
	store Store
	gate  *Gate
}

func New(store Store, gate *Gate) *Cache {
	return &Cache{store: store, gate: gate}
}

// Key joins a key name and its request parameters, e.g. "dynamics:2024-03-01:2024-03-05::F:".
// Parameters are query-escaped so a ':' inside one cannot shift the others.
func Key(name string, params ...string) string {
	if len(params) == 0 {
		return name
	}
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, name)
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p))
	}
	return strings.Join(parts, ":")
}

// Fetch returns the cached value of key, computing and storing it on a miss or once the
// entry is stale. A stale entry is served when the recompute fails; a miss with a failing
// compute returns the compute error.
func Fetch[T any](ctx context.Context, c *Cache, key string, compute func(context.Context) (T, error)) (T, error) {
	label, _, _ := strings.Cut(key, ":")
	log := logger.L().With().Str("key", key).Logger()

	var cached T
	raw, found := c.store.Get(key)
	var e entry
	if found {
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Warn().Err(err).Msg("cache entry unreadable, recomputing")
			found = false
		} else if err := json.Unmarshal(e.Payload, &cached); err != nil {
			log.Warn().Err(err).Msg("cache payload unreadable, recomputing")
			found = false
		}
	}

	if found && !c.gate.Stale(e.ComputedAt) {
		metrics.ObserveCache(label, "hit")
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		if found {
			metrics.ObserveCache(label, "stale")
			log.Warn().Err(err).Time("computed_at", e.ComputedAt).Msg("recompute failed, serving stale entry")
			return cached, nil
		}
		metrics.ObserveCache(label, "miss")
		var zero T
		return zero, err
	}

	if found {
		metrics.ObserveCache(label, "refresh")
	} else {
		metrics.ObserveCache(label, "miss")
	}
	if err := c.put(key, value); err != nil {
		log.Warn().Err(err).Msg("cache write failed")
	}
	return value, nil
}

// put replaces key with value, deleting the old entry first.
func (c *Cache) put(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	raw, err := json.Marshal(entry{ComputedAt: c.gate.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	c.store.Delete(key)
	c.store.Set(key, raw)
	return nil
}
