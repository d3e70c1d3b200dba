// Package catalog caches the fetched market universe in a single slot.
//
// The slot is refreshed wholesale when it is missing or older than the TTL.
// Concurrent refreshes collapse into one upstream fetch. When a refresh
// fails and an older snapshot exists, the older snapshot is served with
// Stale set instead of failing the caller.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/store"
)

// ErrUpstreamUnavailable is returned when the fetch fails and no snapshot,
// fresh or stale, is available.
var ErrUpstreamUnavailable = errors.New("catalog: upstream unavailable")

const (
	// DefaultTTL is the freshness window of a snapshot.
	DefaultTTL = 30 * time.Minute

	// DefaultRefreshTimeout bounds one whole upstream refresh, all pages
	// and retries included.
	DefaultRefreshTimeout = 2 * time.Minute
)

// Fetcher retrieves the raw market universe above a volume floor.
type Fetcher interface {
	FetchMarkets(ctx context.Context, minVolume decimal.Decimal) ([]model.Market, error)
}

// Result is what Get returns to callers.
type Result struct {
	Markets   []model.Market
	FetchedAt time.Time
	Stale     bool
}

// Options configure a Cache. Zero values take defaults.
type Options struct {
	TTL            time.Duration
	RefreshTimeout time.Duration
	VolumeFloor    decimal.Decimal
	Now            func() time.Time
}

// Cache serves catalog snapshots from a CatalogStore slot.
type Cache struct {
	fetcher        Fetcher
	slot           store.CatalogStore
	ttl            time.Duration
	refreshTimeout time.Duration
	floor          decimal.Decimal
	now            func() time.Time
	group          singleflight.Group
}

// New creates a catalog cache.
func New(fetcher Fetcher, slot store.CatalogStore, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		fetcher:        fetcher,
		slot:           slot,
		ttl:            opts.TTL,
		refreshTimeout: opts.RefreshTimeout,
		floor:          opts.VolumeFloor,
		now:            opts.Now,
	}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns markets with Volume24h >= minVolume. A minVolume below the
// configured fetch floor is served from the same snapshot; markets under the
// floor were never fetched.
func (c *Cache) Get(ctx context.Context, minVolume decimal.Decimal) (Result, error) {
	snap, err := c.slot.Load(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("catalog slot load failed", "err", err)
		snap = nil
	}

	if snap != nil && c.fresh(snap) {
		return filter(snap, minVolume, false), nil
	}

	fresh, refreshErr := c.refresh(ctx, false)
	if refreshErr == nil {
		return filter(fresh, minVolume, false), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	if snap != nil {
		slog.Warn("serving stale catalog", "fetched_at", snap.FetchedAt, "err", refreshErr)
		metrics.CatalogStaleServes.Inc()
		return filter(snap, minVolume, true), nil
	}
	return Result{}, refreshErr
}

// Refresh fetches the universe and replaces the slot even if the current
// snapshot is fresh. Concurrent callers share a single upstream fetch.
func (c *Cache) Refresh(ctx context.Context) (*model.CatalogSnapshot, error) {
	return c.refresh(ctx, true)
}

// refresh runs the fetch under the single-flight group. Without force, a
// caller that lost the race to a just-finished refresh reuses its snapshot.
// The fetch is detached from the leader's cancellation and bounded by the
// refresh timeout instead. A caller whose context ends stops waiting with
// ctx.Err(); the fetch still completes and fills the slot.
func (c *Cache) refresh(ctx context.Context, force bool) (*model.CatalogSnapshot, error) {
	ch := c.group.DoChan("catalog", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		if !force {
			if snap, err := c.slot.Load(fetchCtx); err == nil && c.fresh(snap) {
				return snap, nil
			}
		}

		start := c.now()
		markets, err := c.fetcher.FetchMarkets(fetchCtx, c.floor)
		if err != nil {
			metrics.CatalogRefreshes.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}

		snap := &model.CatalogSnapshot{
			Markets:     markets,
			FetchedAt:   c.now(),
			VolumeFloor: c.floor,
		}
		if err := c.slot.Save(context.WithoutCancel(ctx), snap); err != nil {
			// The fetched snapshot is still good for this round.
			slog.Error("catalog slot save failed", "err", err)
		}

		metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
		metrics.CatalogMarkets.Set(float64(len(markets)))
		slog.Info("catalog refreshed", "markets", len(markets), "floor", c.floor.String(), "took", c.now().Sub(start))
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			slog.Debug("catalog refresh shared")
		}
		return r.Val.(*model.CatalogSnapshot), nil
	}
}

// Invalidate drops the slot so the next Get refetches.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.slot.Clear(ctx)
}

// Status reports the age of the current snapshot, if any.
func (c *Cache) Status(ctx context.Context) (fetchedAt time.Time, markets int, fresh bool, ok bool) {
	snap, err := c.slot.Load(ctx)
	if err != nil {
		return time.Time{}, 0, false, false
	}
	return snap.FetchedAt, len(snap.Markets), c.fresh(snap), true
}

// fresh treats an age of exactly TTL as still fresh.
func (c *Cache) fresh(snap *model.CatalogSnapshot) bool {
	return c.now().Sub(snap.FetchedAt) <= c.ttl
}

func filter(snap *model.CatalogSnapshot, minVolume decimal.Decimal, stale bool) Result {
	out := make([]model.Market, 0, len(snap.Markets))
	for _, m := range snap.Markets {
		if m.Volume24h.LessThan(minVolume) {
			continue
		}
		out = append(out, m)
	}
	return Result{Markets: out, FetchedAt: snap.FetchedAt, Stale: stale}
}
