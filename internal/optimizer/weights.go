package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"go.uber.org/zap"
)

// WeightService resolves and updates per-market blend weights.
type WeightService struct {
	store   storage.WeightStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewWeightService(store storage.WeightStore, m *metrics.Metrics, logger *zap.Logger) *WeightService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeightService{store: store, metrics: m, logger: logger}
}

// Resolve returns the weights for market, falling back to the global set.
// No weights at all is a ConfigurationError; equal weights are never assumed.
func (s *WeightService) Resolve(ctx context.Context, market string) (*models.WeightSet, error) {
	market = models.NormalizeMarket(market)
	ws, err := s.store.GetWeights(ctx, market)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, &TransientFetchError{Op: "get weights for " + market, Err: err}
	}
	if market != models.GlobalMarket {
		ws, err = s.store.GetWeights(ctx, models.GlobalMarket)
		if err == nil {
			return ws, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, &TransientFetchError{Op: "get global weights", Err: err}
		}
	}
	return nil, &ConfigurationError{Reason: "no weight set configured", Key: market, Err: storage.ErrNotFound}
}

// Get returns the weight set stored under exactly market, without fallback.
func (s *WeightService) Get(ctx context.Context, market string) (*models.WeightSet, error) {
	return s.store.GetWeights(ctx, models.NormalizeMarket(market))
}

// List returns every configured weight set.
func (s *WeightService) List(ctx context.Context) ([]models.WeightSet, error) {
	return s.store.ListWeights(ctx)
}

// Set validates ws and replaces the market's weights. A rejected update
// leaves the previous set in place.
func (s *WeightService) Set(ctx context.Context, ws models.WeightSet) error {
	ws.Market = models.NormalizeMarket(ws.Market)
	if err := ws.Validate(); err != nil {
		s.metrics.RecordWeightUpdate(false)
		s.logger.Warn("Rejected weight set update",
			zap.String("market", ws.Market),
			zap.Float64("sum", ws.Sum()),
			zap.Error(err),
		)
		return err
	}
	if err := s.store.SetWeights(ctx, ws); err != nil {
		return fmt.Errorf("failed to set weights for %s: %w", ws.Market, err)
	}
	s.metrics.RecordWeightUpdate(true)
	s.logger.Info("Weight set updated",
		zap.String("market", ws.Market),
		zap.Float64("t0", ws.T0),
		zap.Float64("d30", ws.D30),
		zap.Float64("d365", ws.D365),
		zap.Float64("lifetime", ws.Lifetime),
	)
	return nil
}
