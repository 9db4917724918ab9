package models

import "time"

// ScopeFilter selects performance rows. Empty slices match everything.
type ScopeFilter struct {
	CampaignIDs []string     `json:"campaign_ids,omitempty"`
	AdGroupIDs  []string     `json:"ad_group_ids,omitempty"`
	TargetIDs   []string     `json:"target_ids,omitempty"`
	Markets     []string     `json:"markets,omitempty"`
	Kinds       []TargetKind `json:"kinds,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
}

// Matches reports whether the row passes the filter.
func (f ScopeFilter) Matches(r PerformanceRow) bool {
	if !matchString(f.CampaignIDs, r.Scope.CampaignID) {
		return false
	}
	if !matchString(f.AdGroupIDs, r.Scope.AdGroupID) {
		return false
	}
	if !matchString(f.TargetIDs, r.TargetID) {
		return false
	}
	if !matchString(f.Markets, r.Market) {
		return false
	}
	if !matchString(f.Sources, r.Source) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == r.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// WithKinds returns a copy of the filter restricted to the given kinds.
// Kinds already present in the filter are intersected.
func (f ScopeFilter) WithKinds(kinds ...TargetKind) ScopeFilter {
	if len(f.Kinds) == 0 {
		f.Kinds = kinds
		return f
	}
	var out []TargetKind
	for _, k := range f.Kinds {
		for _, want := range kinds {
			if k == want {
				out = append(out, k)
			}
		}
	}
	if out == nil {
		// Nothing requested survives; keep an impossible filter rather than widening it.
		out = []TargetKind{""}
	}
	f.Kinds = out
	return f
}

func matchString(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

// DateRange is an inclusive range of calendar dates. A zero Start is unbounded.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether d falls in the range.
func (r DateRange) Contains(d time.Time) bool {
	d = TruncateDay(d)
	if !r.Start.IsZero() && d.Before(TruncateDay(r.Start)) {
		return false
	}
	if !r.End.IsZero() && d.After(TruncateDay(r.End)) {
		return false
	}
	return true
}

// TruncateDay drops the time-of-day part in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(TruncateDay(b).Sub(TruncateDay(a)).Hours() / 24)
}
