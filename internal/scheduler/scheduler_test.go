package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

type countingRefresher struct {
	calls int32
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) (*model.CatalogSnapshot, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.err != nil {
		return nil, c.err
	}
	return &model.CatalogSnapshot{Markets: []model.Market{{ID: "m1"}}, FetchedAt: time.Now()}, nil
}

func waitForCalls(t *testing.T, r *countingRefresher, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&r.calls) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least %d refreshes, got %d", n, atomic.LoadInt32(&r.calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWarmer_RefreshesOnStart(t *testing.T) {
	r := &countingRefresher{}
	w := New(r, time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitForCalls(t, r, 1)
}

func TestWarmer_SurvivesRefreshErrors(t *testing.T) {
	r := &countingRefresher{err: errors.New("upstream down")}
	w := New(r, time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	waitForCalls(t, r, 1)
}

func TestWarmer_RejectsZeroInterval(t *testing.T) {
	w := New(&countingRefresher{}, 0)
	if err := w.Start(); err == nil {
		t.Error("expected error for zero interval")
	}
}
