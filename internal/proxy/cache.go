package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/domain"
)

// Document is the persisted form of one fitted model's estimates for a
// (window, kind). Rewritten wholesale on each learning run.
type Document struct {
	Metadata  Metadata               `json:"metadata"`
	Estimates []domain.ProxyEstimate `json:"estimates"`
}

// Metadata describes when and for what a document was computed.
type Metadata struct {
	ComputedAt     time.Time        `json:"computed_at"`
	Window         domain.Window    `json:"decision_window"`
	Kind           domain.ProxyKind `json:"kind"`
	NumCandidates  int              `json:"num_candidates"`
	SourceCounts   map[string]int   `json:"source_counts"`
	ObservationMax int              `json:"observation_max"`
}

// Cache is a byte-level keyed cache with TTL semantics.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

type memory struct {
	mu sync.Mutex
	m  map[string]entry
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache returns an in-process cache.
func NewMemoryCache() Cache { return &memory{m: make(map[string]entry)} }

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

type redisCache struct{ r *redis.Client }

// NewCache returns a Redis-backed cache when an address is configured,
// otherwise an in-process cache.
func NewCache(cfg config.CacheSettings) Cache {
	if cfg.RedisAddr != "" {
		return &redisCache{r: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})}
	}
	return NewMemoryCache()
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

// DocumentStore writes and reads estimate documents: always to disk, and
// through the keyed cache for warm re-reads.
type DocumentStore struct {
	dir   string
	cache Cache
	ttl   time.Duration
}

// NewDocumentStore creates a store rooted at cfg.Dir.
func NewDocumentStore(cfg config.CacheSettings, cache Cache) *DocumentStore {
	return &DocumentStore{dir: cfg.Dir, cache: cache, ttl: cfg.DefaultTTL}
}

func documentKey(window domain.Window, kind domain.ProxyKind) string {
	return fmt.Sprintf("%s_estimates_%s.json", kind, window)
}

// Save writes the document for (window, kind), replacing any previous one.
func (s *DocumentStore) Save(window domain.Window, kind domain.ProxyKind, estimates []domain.ProxyEstimate) error {
	sourceCounts := make(map[string]int)
	maxObs := 0
	for _, e := range estimates {
		sourceCounts[string(e.Source)]++
		if e.NumObservations > maxObs {
			maxObs = e.NumObservations
		}
	}

	doc := Document{
		Metadata: Metadata{
			ComputedAt:     time.Now().UTC(),
			Window:         window,
			Kind:           kind,
			NumCandidates:  len(estimates),
			SourceCounts:   sourceCounts,
			ObservationMax: maxObs,
		},
		Estimates: estimates,
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal estimate document: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	key := documentKey(window, kind)
	path := filepath.Join(s.dir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("failed to write estimate document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace estimate document: %w", err)
	}

	s.cache.Set(key, b, s.ttl)

	log.Info().
		Str("window", string(window)).
		Str("kind", string(kind)).
		Int("estimates", len(estimates)).
		Str("path", path).
		Msg("saved proxy estimate document")
	return nil
}

// Load reads the document for (window, kind), preferring the keyed cache.
func (s *DocumentStore) Load(window domain.Window, kind domain.ProxyKind) (*Document, error) {
	key := documentKey(window, kind)

	b, ok := s.cache.Get(key)
	if !ok {
		var err error
		b, err = os.ReadFile(filepath.Join(s.dir, key))
		if err != nil {
			return nil, fmt.Errorf("failed to read estimate document: %w", err)
		}
		s.cache.Set(key, b, s.ttl)
	}

	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse estimate document: %w", err)
	}
	return &doc, nil
}
