// Package store defines the persistence and cache interfaces for the edge
// engine. Implementations include in-memory (default and tests), Redis
// (shared cache across instances) and PostgreSQL (signals of record).
package store

import (
	"context"
	"errors"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// ErrNotFound is returned when a key, slot or record does not exist.
var ErrNotFound = errors.New("store: not found")

// CatalogStore holds the single process-wide catalog slot. Save replaces the
// slot wholesale.
type CatalogStore interface {
	// Load returns the current snapshot or ErrNotFound.
	Load(ctx context.Context) (*model.CatalogSnapshot, error)

	// Save replaces the slot.
	Save(ctx context.Context, snap *model.CatalogSnapshot) error

	// Clear empties the slot.
	Clear(ctx context.Context) error
}

// AnalysisStore maps fingerprints to analysis entries. Expiry policy is the
// caller's; implementations may additionally evict on their own schedule.
type AnalysisStore interface {
	// Get returns the entry for fingerprint or ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*model.AnalysisEntry, error)

	// Put stores or replaces the entry under entry.Fingerprint.
	Put(ctx context.Context, entry *model.AnalysisEntry) error
}

// SignalStore persists completed analyses published as signals.
type SignalStore interface {
	// CreateSignal persists a new signal.
	CreateSignal(ctx context.Context, s *model.Signal) error

	// GetSignal retrieves a signal by ID.
	GetSignal(ctx context.Context, id string) (*model.Signal, error)

	// ListSignals returns signals newest first.
	ListSignals(ctx context.Context, f model.SignalFilter) ([]model.Signal, error)

	// UpdateSignal sets status and, when non-empty, the transaction hash.
	UpdateSignal(ctx context.Context, id string, status model.SignalStatus, txHash string) (*model.Signal, error)
}
