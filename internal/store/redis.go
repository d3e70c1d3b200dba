package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

const catalogKey = "catalog:snapshot"

// RedisAnalysisStore keeps analysis entries in Redis so multiple instances
// share one cache. Keys expire after ttl; freshness is still checked by the
// caller against CreatedAt.
type RedisAnalysisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAnalysisStore creates a Redis-backed analysis store.
func NewRedisAnalysisStore(rdb *redis.Client, ttl time.Duration) *RedisAnalysisStore {
	return &RedisAnalysisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisAnalysisStore) Get(ctx context.Context, fingerprint string) (*model.AnalysisEntry, error) {
	data, err := s.rdb.Get(ctx, analysisKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis %s: %w", fingerprint, err)
	}

	var e model.AnalysisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Put.
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *RedisAnalysisStore) Put(ctx context.Context, entry *model.AnalysisEntry) error {
	if entry.Fingerprint == "" {
		return fmt.Errorf("store: empty fingerprint")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	return s.rdb.Set(ctx, analysisKey(entry.Fingerprint), data, s.ttl).Err()
}

// RedisCatalogStore keeps the catalog slot in Redis. retention bounds how
// long a snapshot can be served stale after the upstream goes away.
type RedisCatalogStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisCatalogStore creates a Redis-backed catalog slot.
func NewRedisCatalogStore(rdb *redis.Client, retention time.Duration) *RedisCatalogStore {
	return &RedisCatalogStore{rdb: rdb, retention: retention}
}

func (s *RedisCatalogStore) Load(ctx context.Context) (*model.CatalogSnapshot, error) {
	data, err := s.rdb.Get(ctx, catalogKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	var snap model.CatalogSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, ErrNotFound
	}
	return &snap, nil
}

func (s *RedisCatalogStore) Save(ctx context.Context, snap *model.CatalogSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return s.rdb.Set(ctx, catalogKey, data, s.retention).Err()
}

func (s *RedisCatalogStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, catalogKey).Err()
}

func analysisKey(fp string) string { return fmt.Sprintf("analysis:%s", fp) }
