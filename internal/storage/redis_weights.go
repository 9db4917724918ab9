package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const weightKeyPrefix = "bidopt:weights:"

// CachedWeightStore is a read-through Redis cache in front of a WeightStore.
// Writes go to the backing store first and then drop the cached entry.
// Cache failures degrade to the backing store.
type CachedWeightStore struct {
	next    WeightStore
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewCachedWeightStore(next WeightStore, client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *CachedWeightStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedWeightStore{next: next, client: client, ttl: ttl, metrics: m, logger: logger}
}

func weightKey(market string) string {
	return weightKeyPrefix + models.NormalizeMarket(market)
}

func (s *CachedWeightStore) GetWeights(ctx context.Context, market string) (*models.WeightSet, error) {
	key := weightKey(market)
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var ws models.WeightSet
		if jerr := json.Unmarshal(data, &ws); jerr == nil {
			s.metrics.RecordWeightCache(true)
			return &ws, nil
		}
		s.logger.Warn("Dropping corrupt cached weight set", zap.String("key", key))
		s.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("Weight cache read failed", zap.String("key", key), zap.Error(err))
	}
	s.metrics.RecordWeightCache(false)

	ws, err := s.next.GetWeights(ctx, market)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ws); err == nil {
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("Weight cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return ws, nil
}

func (s *CachedWeightStore) SetWeights(ctx context.Context, ws models.WeightSet) error {
	if err := s.next.SetWeights(ctx, ws); err != nil {
		return err
	}
	// the write already succeeded; a stale entry lives until its TTL
	key := weightKey(ws.Market)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("Weight cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (s *CachedWeightStore) ListWeights(ctx context.Context) ([]models.WeightSet, error) {
	return s.next.ListWeights(ctx)
}
