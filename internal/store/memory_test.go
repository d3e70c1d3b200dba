package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

func TestMemoryCatalogStore_Slot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCatalogStore()

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty slot, got %v", err)
	}

	first := &model.CatalogSnapshot{Markets: []model.Market{{ID: "a", Title: "A"}}}
	second := &model.CatalogSnapshot{Markets: []model.Market{{ID: "b", Title: "B"}, {ID: "c", Title: "C"}}}
	_ = s.Save(ctx, first)
	_ = s.Save(ctx, second)

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Markets) != 2 || got.Markets[0].ID != "b" {
		t.Errorf("expected wholesale replacement, got %+v", got.Markets)
	}

	_ = s.Clear(ctx)
	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after Clear, got %v", err)
	}
}

func TestMemoryAnalysisStore_GetPut(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAnalysisStore(0)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	entry := &model.AnalysisEntry{
		Fingerprint: "fp1",
		Result: model.AnalysisResult{
			Reasoning:  "dry week ahead",
			KeyFactors: []string{"no rain"},
		},
		CreatedAt: time.Now(),
	}
	if err := s.Put(ctx, entry); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the caller's slice must not leak into the store.
	entry.Result.KeyFactors[0] = "mutated"

	got, err := s.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Result.KeyFactors[0] != "no rain" {
		t.Errorf("stored entry was mutated: %v", got.Result.KeyFactors)
	}

	if err := s.Put(ctx, &model.AnalysisEntry{}); err == nil {
		t.Error("expected error for empty fingerprint")
	}
}

func TestMemoryAnalysisStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAnalysisStore(2)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_ = s.Put(ctx, &model.AnalysisEntry{
			Fingerprint: fmt.Sprintf("fp%d", i),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	if _, err := s.Get(ctx, "fp0"); !errors.Is(err, ErrNotFound) {
		t.Error("expected oldest entry to be evicted")
	}
	if _, err := s.Get(ctx, "fp2"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestMemorySignalStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySignalStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, mkt := range []string{"m1", "m2", "m1"} {
		err := s.CreateSignal(ctx, &model.Signal{
			ID:        fmt.Sprintf("s%d", i),
			MarketID:  mkt,
			Status:    model.SignalOpen,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateSignal: %v", err)
		}
	}

	if err := s.CreateSignal(ctx, &model.Signal{ID: "s0"}); err == nil {
		t.Error("expected duplicate ID to fail")
	}

	all, _ := s.ListSignals(ctx, model.SignalFilter{})
	if len(all) != 3 || all[0].ID != "s2" {
		t.Errorf("expected newest first, got %+v", all)
	}

	m1, _ := s.ListSignals(ctx, model.SignalFilter{MarketID: "m1", Limit: 1})
	if len(m1) != 1 || m1[0].ID != "s2" {
		t.Errorf("expected [s2], got %+v", m1)
	}

	updated, err := s.UpdateSignal(ctx, "s1", model.SignalPublished, "0xabc")
	if err != nil {
		t.Fatalf("UpdateSignal: %v", err)
	}
	if updated.Status != model.SignalPublished || updated.TxHash != "0xabc" {
		t.Errorf("unexpected update result: %+v", updated)
	}

	// Empty tx hash keeps the previous one.
	updated, _ = s.UpdateSignal(ctx, "s1", model.SignalDismissed, "")
	if updated.TxHash != "0xabc" {
		t.Errorf("tx hash was cleared: %+v", updated)
	}

	published, _ := s.ListSignals(ctx, model.SignalFilter{Status: model.SignalDismissed})
	if len(published) != 1 || published[0].ID != "s1" {
		t.Errorf("expected [s1] dismissed, got %+v", published)
	}

	if _, err := s.UpdateSignal(ctx, "nope", model.SignalOpen, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetSignal(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
