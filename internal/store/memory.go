package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// MemoryCatalogStore keeps the catalog slot in process memory.
type MemoryCatalogStore struct {
	mu   sync.RWMutex
	snap *model.CatalogSnapshot
}

// NewMemoryCatalogStore creates an empty slot.
func NewMemoryCatalogStore() *MemoryCatalogStore {
	return &MemoryCatalogStore{}
}

func (s *MemoryCatalogStore) Load(_ context.Context) (*model.CatalogSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, ErrNotFound
	}
	// Snapshots are immutable once saved, so sharing the pointer is safe.
	return s.snap, nil
}

func (s *MemoryCatalogStore) Save(_ context.Context, snap *model.CatalogSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = snap
	return nil
}

func (s *MemoryCatalogStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = nil
	return nil
}

// MemoryAnalysisStore implements AnalysisStore with a map. When maxEntries
// is positive the oldest entries are evicted first.
type MemoryAnalysisStore struct {
	mu         sync.RWMutex
	entries    map[string]model.AnalysisEntry
	maxEntries int
}

// NewMemoryAnalysisStore creates a new in-memory analysis store.
func NewMemoryAnalysisStore(maxEntries int) *MemoryAnalysisStore {
	return &MemoryAnalysisStore{
		entries:    make(map[string]model.AnalysisEntry),
		maxEntries: maxEntries,
	}
}

func (s *MemoryAnalysisStore) Get(_ context.Context, fingerprint string) (*model.AnalysisEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	e.Result.KeyFactors = append([]string{}, e.Result.KeyFactors...)
	return &e, nil
}

func (s *MemoryAnalysisStore) Put(_ context.Context, entry *model.AnalysisEntry) error {
	if entry.Fingerprint == "" {
		return fmt.Errorf("store: empty fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	e.Result.KeyFactors = append([]string{}, entry.Result.KeyFactors...)
	s.entries[e.Fingerprint] = e

	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.evictOldest(len(s.entries) - s.maxEntries)
	}
	return nil
}

// Len returns the number of cached entries.
func (s *MemoryAnalysisStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictOldest drops n entries by CreatedAt. Caller holds the write lock.
func (s *MemoryAnalysisStore) evictOldest(n int) {
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, aged{k, e.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].at.Equal(all[j].at) {
			return all[i].key < all[j].key
		}
		return all[i].at.Before(all[j].at)
	})
	for i := 0; i < n && i < len(all); i++ {
		delete(s.entries, all[i].key)
	}
}

// MemorySignalStore implements SignalStore with a map. Used for testing
// and development; data does not survive a restart.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[string]*model.Signal
}

// NewMemorySignalStore creates an empty signal store.
func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{
		signals: make(map[string]*model.Signal),
	}
}

func (s *MemorySignalStore) CreateSignal(_ context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signals[sig.ID]; exists {
		return fmt.Errorf("signal %s already exists", sig.ID)
	}
	c := *sig
	s.signals[sig.ID] = &c
	return nil
}

func (s *MemorySignalStore) GetSignal(_ context.Context, id string) (*model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sig, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	c := *sig
	return &c, nil
}

func (s *MemorySignalStore) ListSignals(_ context.Context, f model.SignalFilter) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		if f.Status != "" && sig.Status != f.Status {
			continue
		}
		if f.MarketID != "" && sig.MarketID != f.MarketID {
			continue
		}
		out = append(out, *sig)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemorySignalStore) UpdateSignal(_ context.Context, id string, status model.SignalStatus, txHash string) (*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signals[id]
	if !ok {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	sig.Status = status
	if txHash != "" {
		sig.TxHash = txHash
	}
	sig.UpdatedAt = time.Now().UTC()
	c := *sig
	return &c, nil
}
