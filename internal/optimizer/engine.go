package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/radiusdt/bid-optimizer/internal/ledger"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine variants, used as metric labels.
const (
	VariantKeyword    = "keyword"
	VariantSearchTerm = "search_term"
	VariantPlacement  = "placement"
	VariantNegative   = "negative"
)

// ChangeLookup returns the most recent bid change of a target, or nil.
type ChangeLookup interface {
	LastChange(ctx context.Context, key models.TargetKey) (*models.BidChangeRecord, error)
}

// Deps holds the collaborators of an Engine.
type Deps struct {
	Rows    storage.PerformanceStore
	Changes ChangeLookup
	Weights *WeightService
	Goals   storage.GoalStore
	Policy  Policy
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Now defaults to time.Now; it supplies "today" when a range has no end.
	Now func() time.Time
}

// Engine computes recommendations over rows fetched in one batch. It holds
// no state between calls.
type Engine struct {
	rows    storage.PerformanceStore
	changes ChangeLookup
	weights *WeightService
	goals   storage.GoalStore
	policy  Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewEngine(d Deps) (*Engine, error) {
	if d.Rows == nil || d.Changes == nil || d.Weights == nil || d.Goals == nil {
		return nil, fmt.Errorf("engine requires row, change, weight and goal stores")
	}
	if err := d.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		rows:    d.Rows,
		changes: d.Changes,
		weights: d.Weights,
		goals:   d.Goals,
		policy:  d.Policy,
		metrics: d.Metrics,
		logger:  d.Logger,
		now:     d.Now,
	}, nil
}

// Policy returns the policy the engine applies.
func (e *Engine) Policy() Policy { return e.policy }

// candidate pairs a recommendation with its spend for ordering.
type candidate struct {
	rec  models.Recommendation
	cost decimal.Decimal
	key  string
}

// run tracks the output and summary of one invocation.
type run struct {
	variant string
	summary models.RecommendationSummary
	out     []candidate
	metrics *metrics.Metrics
}

func newRun(variant string, m *metrics.Metrics) *run {
	return &run{
		variant: variant,
		summary: models.RecommendationSummary{Skipped: make(map[string]int)},
		metrics: m,
	}
}

func (r *run) skip(reason string) {
	r.summary.Skipped[reason]++
	r.metrics.RecordSkip(r.variant, reason)
}

func (r *run) add(c candidate) {
	r.out = append(r.out, c)
	switch c.rec.Direction {
	case models.DirectionIncrease:
		r.summary.Increases++
	case models.DirectionDecrease:
		r.summary.Decreases++
	default:
		r.summary.Maintained++
	}
	r.metrics.RecordRecommendation(r.variant, string(c.rec.Direction))
}

// finish orders by size of change, then spend, then key, and applies the cap.
func (r *run) finish(limit int, generatedAt time.Time) *models.RecommendationResult {
	sort.SliceStable(r.out, func(i, j int) bool {
		a, b := math.Abs(r.out[i].rec.ChangePercent), math.Abs(r.out[j].rec.ChangePercent)
		if a != b {
			return a > b
		}
		if c := r.out[i].cost.Cmp(r.out[j].cost); c != 0 {
			return c > 0
		}
		return r.out[i].key < r.out[j].key
	})
	if limit > 0 && len(r.out) > limit {
		r.out = r.out[:limit]
		r.summary.Truncated = true
	}

	recs := make([]models.Recommendation, 0, len(r.out))
	for _, c := range r.out {
		recs = append(recs, c.rec)
	}
	r.summary.Produced = len(recs)
	r.metrics.RecordAnalyzed(r.variant, r.summary.Analyzed)

	switch {
	case r.summary.Analyzed == 0:
		r.summary.Message = "No targets matched the filter."
	case r.summary.Produced == 0:
		r.summary.Message = fmt.Sprintf("Analyzed %d targets; none were eligible for a recommendation.", r.summary.Analyzed)
	case r.summary.Increases+r.summary.Decreases == 0:
		r.summary.Message = fmt.Sprintf("Analyzed %d targets; no changes needed.", r.summary.Analyzed)
	default:
		r.summary.Message = fmt.Sprintf("Analyzed %d targets; %d recommendations (%d increase, %d decrease, %d maintain).",
			r.summary.Analyzed, r.summary.Produced, r.summary.Increases, r.summary.Decreases, r.summary.Maintained)
	}

	return &models.RecommendationResult{
		Recommendations: recs,
		Summary:         r.summary,
		GeneratedAt:     generatedAt,
	}
}

func (e *Engine) today(rng models.DateRange) time.Time {
	if !rng.End.IsZero() {
		return models.TruncateDay(rng.End)
	}
	return models.TruncateDay(e.now())
}

func (e *Engine) fetch(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) ([]models.PerformanceRow, error) {
	rows, err := e.rows.FetchPerformanceRows(ctx, filter, rng)
	if err != nil {
		return nil, &TransientFetchError{Op: "fetch performance rows", Err: err}
	}
	return rows, nil
}

// resolveGoals looks up the goal of every campaign among the targets. A
// missing or non-positive goal fails the whole call.
func (e *Engine) resolveGoals(ctx context.Context, targets []*targetRows) (map[string]float64, error) {
	goals := make(map[string]float64)
	for _, t := range targets {
		id := t.key.CampaignID
		if _, ok := goals[id]; ok {
			continue
		}
		g, err := e.goals.GetGoalRatio(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, &ConfigurationError{Reason: "missing goal ratio for campaign", Key: id}
			}
			return nil, &TransientFetchError{Op: "get goal ratio for campaign " + id, Err: err}
		}
		if g <= 0 || math.IsNaN(g) || math.IsInf(g, 0) {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("goal ratio %v must be positive", g), Key: id}
		}
		goals[id] = g
	}
	return goals, nil
}

// weightCache resolves weights once per market within a call.
type weightCache struct {
	svc      *WeightService
	override string
	byMarket map[string]*models.WeightSet
}

func (c *weightCache) get(ctx context.Context, market string) (*models.WeightSet, error) {
	if c.override != "" {
		market = c.override
	}
	market = models.NormalizeMarket(market)
	if ws, ok := c.byMarket[market]; ok {
		return ws, nil
	}
	ws, err := c.svc.Resolve(ctx, market)
	if err != nil {
		return nil, err
	}
	c.byMarket[market] = ws
	return ws, nil
}

// ComputeRecommendations runs the windowed keyword policy over keyword and
// product targets in scope. When market is set its weights are used for every
// target; otherwise each target's own market is resolved.
func (e *Engine) ComputeRecommendations(ctx context.Context, filter models.ScopeFilter, rng models.DateRange, market string) (res *models.RecommendationResult, err error) {
	start := e.now()
	defer func() { e.metrics.RecordEngineRun(VariantKeyword, err, time.Since(start)) }()

	today := e.today(rng)
	rows, err := e.fetch(ctx, filter.WithKinds(models.TargetKindKeyword, models.TargetKindProductTarget), rng)
	if err != nil {
		return nil, err
	}
	targets := groupByTarget(rows)
	goals, err := e.resolveGoals(ctx, targets)
	if err != nil {
		return nil, err
	}
	weights := &weightCache{svc: e.weights, override: market, byMarket: make(map[string]*models.WeightSet)}
	if market != "" {
		if _, err := weights.get(ctx, market); err != nil {
			return nil, err
		}
	} else {
		// a missing weight set fails the call even when every target is gated out
		for _, t := range targets {
			if _, err := weights.get(ctx, t.market); err != nil {
				return nil, err
			}
		}
	}

	r := newRun(VariantKeyword, e.metrics)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.summary.Analyzed++

		bid := t.latestBid()
		if !bid.Valid || !bid.Decimal.IsPositive() {
			r.skip(models.SkipNoBid)
			continue
		}
		lifetime := Combine(t.rows)
		tier := TierFor(lifetime.Clicks)
		if tier == models.ConfidenceLow {
			r.skip(models.SkipLowConfidence)
			continue
		}

		last, err := e.changes.LastChange(ctx, t.key)
		if err != nil {
			e.logger.Warn("Skipping target, last change lookup failed",
				zap.String("target", t.key.String()),
				zap.Error(err),
			)
			r.skip(models.SkipLedgerLookup)
			continue
		}
		if !ledger.Eligible(last, today, e.policy.CooldownDays) {
			r.skip(models.SkipCooldown)
			continue
		}

		ws, err := weights.get(ctx, t.market)
		if err != nil {
			return nil, err
		}

		goal := goals[t.key.CampaignID]
		w := Aggregate(t.rows, today, last)
		ratios := ComputeRatios(w, e.policy.MinClicks)

		var (
			d         BidDecision
			blendedP  *float64
			rationale string
		)
		if ratios[models.WindowLifetime].Kind == models.RatioUnboundedHigh {
			d = e.policy.DecideZeroSalesBid(bid.Decimal, lifetime.Clicks)
			rationale = zeroSalesRationale(d, lifetime.Clicks, lifetime.Cost)
		} else {
			blended, ok := Blend(ratios, *ws)
			if !ok {
				r.skip(models.SkipNoSignal)
				continue
			}
			d = e.policy.DecideKeywordBid(bid.Decimal, goal, blended)
			rationale = e.policy.keywordRationale(d, goal, blended)
			rounded := math.Round(blended*10000) / 10000
			blendedP = &rounded
		}

		rec := models.Recommendation{
			TargetID:            t.key.TargetID,
			Kind:                t.kind,
			Scope:               t.key.Scope(),
			Market:              t.market,
			CurrentBid:          bid.Decimal,
			RecommendedBid:      d.NewBid,
			ChangePercent:       d.ChangePercent,
			Direction:           d.Direction,
			GoalRatio:           goal,
			BlendedRatio:        blendedP,
			WindowRatios:        ratios,
			WindowMetrics:       w.List(),
			ConfidenceTier:      tier,
			DaysSinceLastChange: ledger.DaysSince(last, today),
			CPC:                 CPC(lifetime).Round(2),
			CVR:                 roundTo(CVR(lifetime), 2),
			Rationale:           rationale,
		}
		r.add(candidate{rec: rec, cost: lifetime.Cost, key: t.key.String()})
	}

	res = r.finish(e.policy.MaxTargets, e.now().UTC())
	e.logger.Info("Computed keyword recommendations",
		zap.Int("analyzed", res.Summary.Analyzed),
		zap.Int("produced", res.Summary.Produced),
		zap.Bool("truncated", res.Summary.Truncated),
	)
	return res, nil
}

// ComputeSearchTermRecommendations applies the single-window fallback policy
// to search terms, which have no change history to blend over.
func (e *Engine) ComputeSearchTermRecommendations(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) (res *models.RecommendationResult, err error) {
	start := e.now()
	defer func() { e.metrics.RecordEngineRun(VariantSearchTerm, err, time.Since(start)) }()

	rows, err := e.fetch(ctx, filter.WithKinds(models.TargetKindSearchTerm), rng)
	if err != nil {
		return nil, err
	}
	targets := groupByTarget(rows)
	goals, err := e.resolveGoals(ctx, targets)
	if err != nil {
		return nil, err
	}

	r := newRun(VariantSearchTerm, e.metrics)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.summary.Analyzed++

		base := t.latestBid()
		if !base.Valid || !base.Decimal.IsPositive() {
			r.skip(models.SkipNoBid)
			continue
		}
		m := Combine(t.rows)
		goal := goals[t.key.CampaignID]
		d, ok := e.policy.DecideSearchTermBid(m, goal, base.Decimal)
		if !ok {
			r.skip(models.SkipInsufficient)
			continue
		}

		ratio := ComputeRatio(m, e.policy.MinClicks)
		var ratioP *float64
		if ratio.Usable() {
			v := math.Round(ratio.Value*10000) / 10000
			ratioP = &v
		}
		rec := models.Recommendation{
			TargetID:       t.key.TargetID,
			Kind:           t.kind,
			Scope:          t.key.Scope(),
			Market:         t.market,
			CurrentBid:     base.Decimal,
			RecommendedBid: d.NewBid,
			ChangePercent:  d.ChangePercent,
			Direction:      d.Direction,
			GoalRatio:      goal,
			BlendedRatio:   ratioP,
			WindowRatios:   map[models.Window]models.Ratio{models.WindowLifetime: ratio},
			WindowMetrics:  []models.WindowMetrics{m},
			ConfidenceTier: TierFor(m.Clicks),
			CPC:            CPC(m).Round(2),
			CVR:            roundTo(CVR(m), 2),
			Rationale:      searchTermRationale(d, m, goal),
		}
		r.add(candidate{rec: rec, cost: m.Cost, key: t.key.String()})
	}

	return r.finish(e.policy.MaxTargets, e.now().UTC()), nil
}

// ComputePlacementRecommendations moves placement bid modifiers toward the
// goal. ChangePercent carries the modifier delta in percentage points.
func (e *Engine) ComputePlacementRecommendations(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) (res *models.RecommendationResult, err error) {
	start := e.now()
	defer func() { e.metrics.RecordEngineRun(VariantPlacement, err, time.Since(start)) }()

	rows, err := e.fetch(ctx, filter.WithKinds(models.TargetKindPlacement), rng)
	if err != nil {
		return nil, err
	}
	targets := groupByTarget(rows)
	goals, err := e.resolveGoals(ctx, targets)
	if err != nil {
		return nil, err
	}

	r := newRun(VariantPlacement, e.metrics)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.summary.Analyzed++

		mod := t.latestModifier()
		if !mod.Valid || mod.Decimal.IsNegative() {
			r.skip(models.SkipNoModifier)
			continue
		}
		m := Combine(t.rows)
		goal := goals[t.key.CampaignID]
		d, ok := e.policy.DecidePlacementModifier(m, goal, mod.Decimal)
		if !ok {
			r.skip(models.SkipInsufficient)
			continue
		}

		current := mod.Decimal
		next := d.NewModifier
		ratio := ComputeRatio(m, e.policy.MinClicks)
		var ratioP *float64
		if ratio.Usable() {
			v := math.Round(ratio.Value*10000) / 10000
			ratioP = &v
		}
		rec := models.Recommendation{
			TargetID:            t.key.TargetID,
			Kind:                t.kind,
			Scope:               t.key.Scope(),
			Market:              t.market,
			CurrentModifier:     &current,
			RecommendedModifier: &next,
			ChangePercent:       d.Delta,
			Direction:           d.Direction,
			GoalRatio:           goal,
			BlendedRatio:        ratioP,
			WindowRatios:        map[models.Window]models.Ratio{models.WindowLifetime: ratio},
			WindowMetrics:       []models.WindowMetrics{m},
			ConfidenceTier:      TierFor(m.Clicks),
			CPC:                 CPC(m).Round(2),
			CVR:                 roundTo(CVR(m), 2),
			Rationale:           placementRationale(d, m, goal),
		}
		r.add(candidate{rec: rec, cost: m.Cost, key: t.key.String()})
	}

	return r.finish(e.policy.MaxTargets, e.now().UTC()), nil
}

// DetectNegativeTargets lists targets with material clicks and no sales over
// the range, worst spend first.
func (e *Engine) DetectNegativeTargets(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) (out []models.NegativeCandidate, err error) {
	start := e.now()
	defer func() { e.metrics.RecordEngineRun(VariantNegative, err, time.Since(start)) }()

	rows, err := e.fetch(ctx, filter, rng)
	if err != nil {
		return nil, err
	}
	out = FindNegativeCandidates(rows, e.policy.NegativeClicks)
	e.metrics.RecordNegatives(len(out))
	return out, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
