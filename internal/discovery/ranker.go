// Package discovery filters and orders a scored catalog snapshot.
package discovery

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/futures"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/scoring"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Filters are optional and conjunctive. Zero values disable a filter.
type Filters struct {
	EventType           string
	Confidence          model.Confidence
	Location            string
	MinVolume           decimal.Decimal
	MaxDaysToResolution int
	ExcludeFutures      bool
	Limit               int
}

// Ranked is one market with its score and futures verdict.
type Ranked struct {
	Market  model.Market
	Score   scoring.Breakdown
	Futures futures.Classification
}

// Ranker scores and sorts catalog snapshots. It holds no mutable state.
type Ranker struct {
	scorer *scoring.Scorer
}

// NewRanker creates a ranker around a scorer.
func NewRanker(scorer *scoring.Scorer) *Ranker {
	return &Ranker{scorer: scorer}
}

// Rank applies f to markets and returns at most f.Limit results sorted by
// total score desc, then 24h volume desc, then market ID asc. The input
// slice is not modified. An empty result is not an error.
func (r *Ranker) Rank(markets []model.Market, f Filters, now time.Time) []Ranked {
	location := strings.ToLower(strings.TrimSpace(f.Location))

	out := make([]Ranked, 0, len(markets))
	for i := range markets {
		m := &markets[i]

		if f.EventType != "" && !matchesEventType(m, f.EventType) {
			continue
		}
		if location != "" &&
			!strings.Contains(strings.ToLower(m.Location), location) &&
			!strings.Contains(strings.ToLower(m.Title), location) {
			continue
		}
		if f.MinVolume.IsPositive() && m.Volume24h.LessThan(f.MinVolume) {
			continue
		}
		if f.MaxDaysToResolution > 0 && !resolvesWithin(m, now, f.MaxDaysToResolution) {
			continue
		}

		fc := futures.Classify(m)
		if f.ExcludeFutures && fc.IsFutures {
			continue
		}

		score := r.scorer.Score(m, nil)
		if f.Confidence != "" && score.Confidence != f.Confidence {
			continue
		}

		out = append(out, Ranked{Market: *m, Score: score, Futures: fc})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if c := a.Market.Volume24h.Cmp(b.Market.Volume24h); c != 0 {
			return c > 0
		}
		return a.Market.ID < b.Market.ID
	})

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchesEventType(m *model.Market, eventType string) bool {
	if strings.EqualFold(m.EventType, eventType) {
		return true
	}
	for _, t := range m.Tags {
		if strings.EqualFold(t, eventType) {
			return true
		}
	}
	return false
}

// resolvesWithin reports whether m resolves between now and now+days.
// Markets without a resolution date never match.
func resolvesWithin(m *model.Market, now time.Time, days int) bool {
	if m.ResolvesAt == nil {
		return false
	}
	until := m.ResolvesAt.Sub(now)
	return until >= 0 && until <= time.Duration(days)*24*time.Hour
}
