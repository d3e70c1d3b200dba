package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// signalSchema is applied at startup. It is idempotent.
const signalSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	title           TEXT NOT NULL,
	event_type      TEXT NOT NULL DEFAULT '',
	confidence      TEXT NOT NULL,
	edge_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	weather_impact  TEXT NOT NULL DEFAULT '',
	odds_efficiency TEXT NOT NULL DEFAULT '',
	reasoning       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	tx_hash         TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_market_idx ON signals (market_id);
CREATE INDEX IF NOT EXISTS signals_created_idx ON signals (created_at DESC);
`

const signalColumns = `id, market_id, title, event_type, confidence, edge_score,
	weather_impact, odds_efficiency, reasoning, status, tx_hash, created_at, updated_at`

// PostgresSignalStore implements SignalStore using PostgreSQL as the
// record of truth.
type PostgresSignalStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSignalStore creates a new PostgreSQL-backed signal store.
func NewPostgresSignalStore(pool *pgxpool.Pool) *PostgresSignalStore {
	return &PostgresSignalStore{pool: pool}
}

// Migrate creates the signals table if it does not exist.
func (s *PostgresSignalStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, signalSchema)
	return err
}

func (s *PostgresSignalStore) CreateSignal(ctx context.Context, sig *model.Signal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signals (`+signalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sig.ID, sig.MarketID, sig.Title, sig.EventType, string(sig.Confidence), sig.EdgeScore,
		sig.WeatherImpact, sig.OddsEfficiency, sig.Reasoning, string(sig.Status), sig.TxHash,
		sig.CreatedAt, sig.UpdatedAt,
	)
	return err
}

func (s *PostgresSignalStore) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get signal %s: %w", id, err)
	}
	return sig, nil
}

func (s *PostgresSignalStore) ListSignals(ctx context.Context, f model.SignalFilter) ([]model.Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.MarketID != "" {
		args = append(args, f.MarketID)
		where = append(where, fmt.Sprintf("market_id = $%d", len(args)))
	}

	q := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := []model.Signal{}
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}

func (s *PostgresSignalStore) UpdateSignal(ctx context.Context, id string, status model.SignalStatus, txHash string) (*model.Signal, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE signals
		 SET status = $2,
		     tx_hash = CASE WHEN $3::TEXT = '' THEN tx_hash ELSE $3::TEXT END,
		     updated_at = $4
		 WHERE id = $1
		 RETURNING `+signalColumns,
		id, string(status), txHash, time.Now().UTC(),
	)
	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update signal %s: %w", id, err)
	}
	return sig, nil
}

func scanSignal(row pgx.Row) (*model.Signal, error) {
	var (
		sig                model.Signal
		confidence, status string
	)
	if err := row.Scan(&sig.ID, &sig.MarketID, &sig.Title, &sig.EventType, &confidence, &sig.EdgeScore,
		&sig.WeatherImpact, &sig.OddsEfficiency, &sig.Reasoning, &status, &sig.TxHash,
		&sig.CreatedAt, &sig.UpdatedAt); err != nil {
		return nil, err
	}
	sig.Confidence = model.Confidence(confidence)
	sig.Status = model.SignalStatus(status)
	return &sig, nil
}
