package app

import (
	"context"
	"fmt"

	"github.com/radiusdt/bid-optimizer/internal/config"
	"github.com/radiusdt/bid-optimizer/internal/database"
	"github.com/radiusdt/bid-optimizer/internal/ledger"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/optimizer"
	"github.com/radiusdt/bid-optimizer/internal/scheduler"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"go.uber.org/zap"
)

// DetectionJob is the scheduler name of the change detection batch.
const DetectionJob = "change-detection"

// Dependencies holds the external connections. Any of the database handles
// may be nil; the matching stores then fall back to memory.
type Dependencies struct {
	DB         *database.PostgresDB
	Redis      *database.RedisDB
	ClickHouse *database.ClickHouseDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Services wires stores, the ledger, the engine and the scheduler.
type Services struct {
	Rows    storage.PerformanceStore
	Changes storage.ChangeStore
	Goals   storage.GoalStore

	Weights   *optimizer.WeightService
	Ledger    *ledger.Ledger
	Detector  *ledger.Detector
	Engine    *optimizer.Engine
	Scheduler *scheduler.Runner

	logger *zap.Logger
}

func NewServices(ctx context.Context, deps *Dependencies) (*Services, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		rows    storage.PerformanceStore
		changes storage.ChangeStore
		weights storage.WeightStore
		goals   storage.GoalStore
	)
	if deps.DB != nil {
		rows = storage.NewPostgresPerformanceStore(deps.DB.Pool)
		changes = storage.NewPostgresChangeStore(deps.DB.Pool)
		weights = storage.NewPostgresWeightStore(deps.DB.Pool)
		goals = storage.NewPostgresGoalStore(deps.DB.Pool)
	} else {
		logger.Warn("PostgreSQL not configured, using in-memory stores")
		rows = storage.NewInMemoryPerformanceStore()
		changes = storage.NewInMemoryChangeStore()
		weights = storage.NewInMemoryWeightStore()
		goals = storage.NewInMemoryGoalStore()
	}

	// the warehouse, when present, is the source of truth for performance rows
	if deps.ClickHouse != nil {
		rows = storage.NewClickHousePerformanceStore(deps.ClickHouse.Conn, cfg.ClickHouse.Table)
	}

	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if deps.Redis != nil {
		weights = storage.NewCachedWeightStore(weights, deps.Redis.Client, cfg.Redis.WeightCacheTTL, deps.Metrics, logger)
		locker = scheduler.NewRedisLocker(deps.Redis.Client)
	}

	weightSvc := optimizer.NewWeightService(weights, deps.Metrics, logger.Named("weights"))
	led := ledger.New(changes, deps.Metrics, logger.Named("ledger"))
	detector := ledger.NewDetector(rows, changes, cfg.Detection.LookbackDays, deps.Metrics, logger.Named("detector"))

	engine, err := optimizer.NewEngine(optimizer.Deps{
		Rows:    rows,
		Changes: led,
		Weights: weightSvc,
		Goals:   goals,
		Policy:  optimizer.PolicyFromConfig(cfg.Optimizer),
		Metrics: deps.Metrics,
		Logger:  logger.Named("engine"),
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Rows:      rows,
		Changes:   changes,
		Goals:     goals,
		Weights:   weightSvc,
		Ledger:    led,
		Detector:  detector,
		Engine:    engine,
		Scheduler: scheduler.New(ctx, locker, cfg.Detection.LockTTL, logger.Named("scheduler")),
		logger:    logger,
	}, nil
}

// RunDetection runs change detection under the job lock. It returns
// scheduler.ErrLocked when another instance is already running it.
func (s *Services) RunDetection(ctx context.Context) (*models.DetectionResult, error) {
	var res *models.DetectionResult
	err := s.Scheduler.Guard(ctx, DetectionJob, func(ctx context.Context) error {
		var err error
		res, err = s.Detector.Run(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ScheduleDetection registers the daily detection batch on the scheduler.
func (s *Services) ScheduleDetection(spec string) error {
	_, err := s.Scheduler.Add(spec, DetectionJob, func(ctx context.Context) error {
		_, err := s.Detector.Run(ctx)
		return err
	})
	return err
}

// ApplySeed loads seed weights and goals through the validating services.
// An invalid entry fails the whole seed.
func (s *Services) ApplySeed(ctx context.Context, seed *config.Seed) error {
	for _, w := range seed.Weights {
		ws := models.WeightSet{Market: w.Market, T0: w.T0, D30: w.D30, D365: w.D365, Lifetime: w.Lifetime}
		if err := s.Weights.Set(ctx, ws); err != nil {
			return fmt.Errorf("seed weights for %s: %w", w.Market, err)
		}
	}
	for campaignID, goal := range seed.Goals {
		if err := s.Goals.SetGoalRatio(ctx, campaignID, goal); err != nil {
			return fmt.Errorf("seed goal for campaign %s: %w", campaignID, err)
		}
	}
	s.logger.Info("Seed applied",
		zap.Int("weight_sets", len(seed.Weights)),
		zap.Int("goals", len(seed.Goals)),
	)
	return nil
}
