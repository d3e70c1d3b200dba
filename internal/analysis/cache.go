package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/store"
)

// DefaultCacheTTL is how long a completed analysis is reused.
const DefaultCacheTTL = 3 * time.Hour

// Cache applies a TTL over an AnalysisStore. Entries are stored as produced
// and marked Cached on the way out.
type Cache struct {
	store store.AnalysisStore
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates an analysis cache. A nil now uses time.Now.
func NewCache(s store.AnalysisStore, ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{store: s, ttl: ttl, now: now}
}

// Get returns a fresh entry for fingerprint. Store errors read as misses.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*model.AnalysisResult, bool) {
	e, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("analysis cache read failed", "fingerprint", fingerprint, "err", err)
		}
		return nil, false
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		return nil, false
	}

	res := e.Result
	res.Cached = true
	return &res, true
}

// Put records res under fingerprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, res model.AnalysisResult) error {
	res.Cached = false
	return c.store.Put(ctx, &model.AnalysisEntry{
		Fingerprint: fingerprint,
		Result:      res,
		CreatedAt:   c.now(),
	})
}
