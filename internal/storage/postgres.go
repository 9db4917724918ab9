package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/bid-optimizer/internal/models"
)

// =============================================
// PERFORMANCE ROWS
// =============================================

// performanceQuery is static: every filter field is a parameter that is NULL
// when unused. Numeric columns are read as text and normalized in Go because
// the reporting tables do not agree on their types.
const performanceQuery = `
	SELECT target_id, target_kind, campaign_id, ad_group_id, market, source,
	       report_date, clicks, cost::text, sales::text, orders,
	       current_bid::text, current_modifier::text
	FROM ad_performance_daily
	WHERE ($1::text[] IS NULL OR campaign_id = ANY($1))
	  AND ($2::text[] IS NULL OR ad_group_id = ANY($2))
	  AND ($3::text[] IS NULL OR target_id = ANY($3))
	  AND ($4::text[] IS NULL OR market = ANY($4))
	  AND ($5::text[] IS NULL OR target_kind = ANY($5))
	  AND ($6::text[] IS NULL OR source = ANY($6))
	  AND ($7::date IS NULL OR report_date >= $7)
	  AND ($8::date IS NULL OR report_date <= $8)
	ORDER BY campaign_id, ad_group_id, target_id, report_date`

// PostgresPerformanceStore reads performance rows from PostgreSQL.
type PostgresPerformanceStore struct {
	pool *pgxpool.Pool
}

func NewPostgresPerformanceStore(pool *pgxpool.Pool) *PostgresPerformanceStore {
	return &PostgresPerformanceStore{pool: pool}
}

// performanceArgs maps a filter and range onto performanceQuery parameters.
func performanceArgs(filter models.ScopeFilter, rng models.DateRange) []any {
	var kinds []string
	for _, k := range filter.Kinds {
		kinds = append(kinds, string(k))
	}
	return []any{
		nullableStrings(filter.CampaignIDs),
		nullableStrings(filter.AdGroupIDs),
		nullableStrings(filter.TargetIDs),
		nullableStrings(filter.Markets),
		nullableStrings(kinds),
		nullableStrings(filter.Sources),
		nullableDate(rng.Start),
		nullableDate(rng.End),
	}
}

func nullableStrings(v []string) []string {
	if len(v) == 0 {
		return nil
	}
	return v
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := models.TruncateDay(t)
	return &d
}

func (s *PostgresPerformanceStore) FetchPerformanceRows(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) ([]models.PerformanceRow, error) {
	rows, err := s.pool.Query(ctx, performanceQuery, performanceArgs(filter, rng)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance rows: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceRow
	for rows.Next() {
		var (
			r             models.PerformanceRow
			kind          string
			cost, sales   *string
			bid, modifier *string
		)
		if err := rows.Scan(
			&r.TargetID, &kind, &r.Scope.CampaignID, &r.Scope.AdGroupID, &r.Market, &r.Source,
			&r.Date, &r.Clicks, &cost, &sales, &r.Orders, &bid, &modifier,
		); err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		r.Kind = models.TargetKind(kind)
		if err := normalizeRow(&r, cost, sales, bid, modifier); err != nil {
			return nil, fmt.Errorf("target %s on %s: %w", r.Key(), r.Date.Format("2006-01-02"), err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read performance rows: %w", err)
	}
	return out, nil
}

// normalizeRow applies the canonical numeric conversion to raw column values.
func normalizeRow(r *models.PerformanceRow, cost, sales, bid, modifier any) error {
	var err error
	if r.Cost, err = ParseDecimal(cost); err != nil {
		return fmt.Errorf("cost: %w", err)
	}
	if r.Sales, err = ParseDecimal(sales); err != nil {
		return fmt.Errorf("sales: %w", err)
	}
	if r.CurrentBid, err = ParseNullDecimal(bid); err != nil {
		return fmt.Errorf("current_bid: %w", err)
	}
	if r.CurrentModifier, err = ParseNullDecimal(modifier); err != nil {
		return fmt.Errorf("current_modifier: %w", err)
	}
	r.Date = models.TruncateDay(r.Date)
	r.Market = models.NormalizeMarket(r.Market)
	return nil
}

// =============================================
// CHANGE HISTORY LEDGER
// =============================================

// PostgresChangeStore persists bid_change_history. The unique constraint on
// (target_id, campaign_id, ad_group_id, changed_at) makes appends idempotent.
type PostgresChangeStore struct {
	pool *pgxpool.Pool
}

func NewPostgresChangeStore(pool *pgxpool.Pool) *PostgresChangeStore {
	return &PostgresChangeStore{pool: pool}
}

func (s *PostgresChangeStore) AppendChange(ctx context.Context, rec *models.BidChangeRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bid_change_history
			(id, target_id, campaign_id, ad_group_id, market, source, old_bid, new_bid, changed_at, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)
		ON CONFLICT (target_id, campaign_id, ad_group_id, changed_at) DO NOTHING
	`, rec.ID, rec.TargetID, rec.Scope.CampaignID, rec.Scope.AdGroupID, rec.Market, rec.Source,
		rec.OldBid.String(), rec.NewBid.String(), models.TruncateDay(rec.ChangedAt), string(rec.Origin), rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert bid change: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const changeColumns = `id::text, target_id, campaign_id, ad_group_id, market, source,
	old_bid::text, new_bid::text, changed_at, origin, created_at`

func scanChange(row pgx.Row) (*models.BidChangeRecord, error) {
	var (
		rec            models.BidChangeRecord
		oldBid, newBid string
		origin         string
	)
	if err := row.Scan(&rec.ID, &rec.TargetID, &rec.Scope.CampaignID, &rec.Scope.AdGroupID,
		&rec.Market, &rec.Source, &oldBid, &newBid, &rec.ChangedAt, &origin, &rec.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.OldBid, err = ParseDecimal(oldBid); err != nil {
		return nil, err
	}
	if rec.NewBid, err = ParseDecimal(newBid); err != nil {
		return nil, err
	}
	rec.Origin = models.ChangeOrigin(origin)
	rec.ChangedAt = models.TruncateDay(rec.ChangedAt)
	return &rec, nil
}

func (s *PostgresChangeStore) LastChange(ctx context.Context, key models.TargetKey) (*models.BidChangeRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+changeColumns+`
		FROM bid_change_history
		WHERE target_id = $1 AND campaign_id = $2 AND ad_group_id = $3
		ORDER BY changed_at DESC
		LIMIT 1
	`, key.TargetID, key.CampaignID, key.AdGroupID)

	rec, err := scanChange(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last change: %w", err)
	}
	return rec, nil
}

func (s *PostgresChangeStore) ListChanges(ctx context.Context, key models.TargetKey) ([]*models.BidChangeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+changeColumns+`
		FROM bid_change_history
		WHERE target_id = $1 AND campaign_id = $2 AND ad_group_id = $3
		ORDER BY changed_at DESC
	`, key.TargetID, key.CampaignID, key.AdGroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	out := make([]*models.BidChangeRecord, 0)
	for rows.Next() {
		rec, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================
// CONFIGURATION
// =============================================

// PostgresWeightStore persists optimizer_weights, one row per market.
type PostgresWeightStore struct {
	pool *pgxpool.Pool
}

func NewPostgresWeightStore(pool *pgxpool.Pool) *PostgresWeightStore {
	return &PostgresWeightStore{pool: pool}
}

func (s *PostgresWeightStore) GetWeights(ctx context.Context, market string) (*models.WeightSet, error) {
	var ws models.WeightSet
	err := s.pool.QueryRow(ctx, `
		SELECT market, t0, d30, d365, lifetime, updated_at
		FROM optimizer_weights WHERE market = $1
	`, models.NormalizeMarket(market)).Scan(&ws.Market, &ws.T0, &ws.D30, &ws.D365, &ws.Lifetime, &ws.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	return &ws, nil
}

// SetWeights replaces the market's row in a single upsert.
func (s *PostgresWeightStore) SetWeights(ctx context.Context, ws models.WeightSet) error {
	if err := ws.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO optimizer_weights (market, t0, d30, d365, lifetime, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (market) DO UPDATE SET
			t0 = EXCLUDED.t0,
			d30 = EXCLUDED.d30,
			d365 = EXCLUDED.d365,
			lifetime = EXCLUDED.lifetime,
			updated_at = EXCLUDED.updated_at
	`, models.NormalizeMarket(ws.Market), ws.T0, ws.D30, ws.D365, ws.Lifetime)
	if err != nil {
		return fmt.Errorf("failed to upsert weights: %w", err)
	}
	return nil
}

func (s *PostgresWeightStore) ListWeights(ctx context.Context) ([]models.WeightSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market, t0, d30, d365, lifetime, updated_at
		FROM optimizer_weights ORDER BY market
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list weights: %w", err)
	}
	defer rows.Close()

	var out []models.WeightSet
	for rows.Next() {
		var ws models.WeightSet
		if err := rows.Scan(&ws.Market, &ws.T0, &ws.D30, &ws.D365, &ws.Lifetime, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// PostgresGoalStore persists campaign_goals.
type PostgresGoalStore struct {
	pool *pgxpool.Pool
}

func NewPostgresGoalStore(pool *pgxpool.Pool) *PostgresGoalStore {
	return &PostgresGoalStore{pool: pool}
}

func (s *PostgresGoalStore) GetGoalRatio(ctx context.Context, campaignID string) (float64, error) {
	var goal float64
	err := s.pool.QueryRow(ctx, `
		SELECT goal_ratio FROM campaign_goals WHERE campaign_id = $1
	`, campaignID).Scan(&goal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get goal ratio: %w", err)
	}
	return goal, nil
}

func (s *PostgresGoalStore) SetGoalRatio(ctx context.Context, campaignID string, goal float64) error {
	if campaignID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if goal <= 0 {
		return fmt.Errorf("goal ratio must be positive, got %v", goal)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO campaign_goals (campaign_id, goal_ratio, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (campaign_id) DO UPDATE SET
			goal_ratio = EXCLUDED.goal_ratio,
			updated_at = EXCLUDED.updated_at
	`, campaignID, goal)
	if err != nil {
		return fmt.Errorf("failed to upsert goal ratio: %w", err)
	}
	return nil
}
