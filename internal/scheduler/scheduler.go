// Package scheduler keeps the market catalog warm by refreshing it ahead of
// TTL expiry.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// DefaultJobTimeout bounds a single warm-up refresh.
const DefaultJobTimeout = 2 * time.Minute

// Refresher forces a catalog refetch.
type Refresher interface {
	Refresh(ctx context.Context) (*model.CatalogSnapshot, error)
}

// Warmer periodically refreshes the catalog.
type Warmer struct {
	scheduler  *gocron.Scheduler
	refresher  Refresher
	interval   time.Duration
	jobTimeout time.Duration
}

// New creates a Warmer. The first refresh runs as soon as Start is called.
func New(r Refresher, interval time.Duration) *Warmer {
	return &Warmer{
		scheduler:  gocron.NewScheduler(time.UTC),
		refresher:  r,
		interval:   interval,
		jobTimeout: DefaultJobTimeout,
	}
}

// Start schedules the warm-up job and starts the underlying scheduler.
func (w *Warmer) Start() error {
	if w.interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	_, err := w.scheduler.Every(w.interval).SingletonMode().Do(w.run)
	if err != nil {
		return err
	}

	w.scheduler.StartAsync()
	slog.Info("catalog warmer started", "interval", w.interval.String())
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (w *Warmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}

func (w *Warmer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), w.jobTimeout)
	defer cancel()

	start := time.Now()
	snap, err := w.refresher.Refresh(ctx)
	if err != nil {
		slog.Warn("catalog warm-up failed", "err", err)
		return
	}
	slog.Info("catalog warmed", "markets", len(snap.Markets), "duration_ms", time.Since(start).Milliseconds())
}
