package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/models"
)

// In-memory implementations, used when PostgreSQL is not configured and in tests.

// InMemoryPerformanceStore keeps performance rows in a slice.
type InMemoryPerformanceStore struct {
	mu   sync.RWMutex
	rows []models.PerformanceRow
}

func NewInMemoryPerformanceStore(rows ...models.PerformanceRow) *InMemoryPerformanceStore {
	s := &InMemoryPerformanceStore{}
	s.Add(rows...)
	return s
}

// Add appends rows to the store.
func (s *InMemoryPerformanceStore) Add(rows ...models.PerformanceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

func (s *InMemoryPerformanceStore) FetchPerformanceRows(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) ([]models.PerformanceRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.PerformanceRow, 0)
	for _, r := range s.rows {
		if filter.Matches(r) && rng.Contains(r.Date) {
			res = append(res, r)
		}
	}
	return res, nil
}

// InMemoryChangeStore stores the change ledger in memory, deduplicated by
// target key and date.
type InMemoryChangeStore struct {
	mu      sync.RWMutex
	records map[models.TargetKey][]*models.BidChangeRecord
}

func NewInMemoryChangeStore() *InMemoryChangeStore {
	return &InMemoryChangeStore{
		records: make(map[models.TargetKey][]*models.BidChangeRecord),
	}
}

func (s *InMemoryChangeStore) AppendChange(ctx context.Context, rec *models.BidChangeRecord) (bool, error) {
	if rec == nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	day := models.TruncateDay(rec.ChangedAt)
	for _, existing := range s.records[key] {
		if existing.ChangedAt.Equal(day) {
			return false, nil
		}
	}
	cp := *rec
	cp.ChangedAt = day
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.records[key] = append(s.records[key], &cp)
	return true, nil
}

func (s *InMemoryChangeStore) LastChange(ctx context.Context, key models.TargetKey) (*models.BidChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *models.BidChangeRecord
	for _, r := range s.records[key] {
		if last == nil || r.ChangedAt.After(last.ChangedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *InMemoryChangeStore) ListChanges(ctx context.Context, key models.TargetKey) ([]*models.BidChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*models.BidChangeRecord, 0, len(s.records[key]))
	for _, r := range s.records[key] {
		cp := *r
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ChangedAt.After(res[j].ChangedAt)
	})
	return res, nil
}

// Count returns the total number of records, across all targets.
func (s *InMemoryChangeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

// InMemoryWeightStore stores weight sets by market key.
type InMemoryWeightStore struct {
	mu      sync.RWMutex
	weights map[string]models.WeightSet
}

func NewInMemoryWeightStore() *InMemoryWeightStore {
	return &InMemoryWeightStore{
		weights: make(map[string]models.WeightSet),
	}
}

func (s *InMemoryWeightStore) GetWeights(ctx context.Context, market string) (*models.WeightSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.weights[models.NormalizeMarket(market)]
	if !ok {
		return nil, ErrNotFound
	}
	return &ws, nil
}

func (s *InMemoryWeightStore) SetWeights(ctx context.Context, ws models.WeightSet) error {
	if err := ws.Validate(); err != nil {
		return err
	}
	ws.Market = models.NormalizeMarket(ws.Market)
	if ws.UpdatedAt.IsZero() {
		ws.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[ws.Market] = ws
	return nil
}

func (s *InMemoryWeightStore) ListWeights(ctx context.Context) ([]models.WeightSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]models.WeightSet, 0, len(s.weights))
	for _, ws := range s.weights {
		res = append(res, ws)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Market < res[j].Market })
	return res, nil
}

// InMemoryGoalStore stores goal ratios per campaign.
type InMemoryGoalStore struct {
	mu    sync.RWMutex
	goals map[string]float64
}

func NewInMemoryGoalStore() *InMemoryGoalStore {
	return &InMemoryGoalStore{
		goals: make(map[string]float64),
	}
}

func (s *InMemoryGoalStore) GetGoalRatio(ctx context.Context, campaignID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[campaignID]
	if !ok {
		return 0, ErrNotFound
	}
	return g, nil
}

func (s *InMemoryGoalStore) SetGoalRatio(ctx context.Context, campaignID string, goal float64) error {
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if goal <= 0 {
		return fmt.Errorf("goal ratio must be positive, got %v", goal)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[campaignID] = goal
	return nil
}
