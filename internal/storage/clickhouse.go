package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/bid-optimizer/internal/models"
)

// ClickHousePerformanceStore reads daily performance rows from the reporting
// warehouse. It serves the same contract as the PostgreSQL store.
type ClickHousePerformanceStore struct {
	conn  driver.Conn
	table string
}

func NewClickHousePerformanceStore(conn driver.Conn, table string) *ClickHousePerformanceStore {
	if table == "" {
		table = "ad_performance_daily"
	}
	return &ClickHousePerformanceStore{conn: conn, table: table}
}

// clickhouseQuery returns the fixed query for the table. Empty filter fields
// are passed as empty arrays and disable their predicate.
func clickhouseQuery(table string) string {
	return `
		SELECT target_id, target_kind, campaign_id, ad_group_id, market, source,
		       report_date, toInt64(clicks), ifNull(toString(cost), ''), ifNull(toString(sales), ''),
		       toInt64(orders), ifNull(toString(current_bid), ''), ifNull(toString(current_modifier), '')
		FROM ` + table + `
		WHERE (empty(@campaigns) OR has(@campaigns, campaign_id))
		  AND (empty(@ad_groups) OR has(@ad_groups, ad_group_id))
		  AND (empty(@targets) OR has(@targets, target_id))
		  AND (empty(@markets) OR has(@markets, market))
		  AND (empty(@kinds) OR has(@kinds, target_kind))
		  AND (empty(@sources) OR has(@sources, source))
		  AND report_date >= @start AND report_date <= @end
		ORDER BY campaign_id, ad_group_id, target_id, report_date`
}

// clickhouseBounds maps an open range onto concrete dates.
func clickhouseBounds(rng models.DateRange) (time.Time, time.Time) {
	start := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2149, 6, 6, 0, 0, 0, 0, time.UTC) // max Date value
	if !rng.Start.IsZero() {
		start = models.TruncateDay(rng.Start)
	}
	if !rng.End.IsZero() {
		end = models.TruncateDay(rng.End)
	}
	return start, end
}

func (s *ClickHousePerformanceStore) FetchPerformanceRows(ctx context.Context, filter models.ScopeFilter, rng models.DateRange) ([]models.PerformanceRow, error) {
	kinds := make([]string, 0, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds = append(kinds, string(k))
	}
	start, end := clickhouseBounds(rng)

	rows, err := s.conn.Query(ctx, clickhouseQuery(s.table),
		namedStrings("campaigns", filter.CampaignIDs),
		namedStrings("ad_groups", filter.AdGroupIDs),
		namedStrings("targets", filter.TargetIDs),
		namedStrings("markets", filter.Markets),
		namedStrings("kinds", kinds),
		namedStrings("sources", filter.Sources),
		clickhouse.Named("start", start),
		clickhouse.Named("end", end),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance rows: %w", err)
	}
	defer rows.Close()

	var out []models.PerformanceRow
	for rows.Next() {
		var (
			r             models.PerformanceRow
			kind          string
			cost, sales   string
			bid, modifier string
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

// namedStrings binds an array parameter, never nil so empty() applies.
func namedStrings(name string, v []string) driver.NamedValue {
	if v == nil {
		v = []string{}
	}
	return clickhouse.Named(name, v)
}
