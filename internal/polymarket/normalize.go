package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// gammaMarket is the subset of the Gamma /markets payload we read. Numeric
// fields arrive as numbers or numeric strings depending on the endpoint
// version; outcomes and outcomePrices are JSON arrays encoded as strings.
type gammaMarket struct {
	ID            string       `json:"id"`
	Question      string       `json:"question"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Volume24hr    flexNumber   `json:"volume24hr"`
	Volume24hrAlt flexNumber   `json:"volume_24hr"`
	Liquidity     flexNumber   `json:"liquidity"`
	LiquidityNum  flexNumber   `json:"liquidityNum"`
	Outcomes      string       `json:"outcomes"`
	OutcomePrices string       `json:"outcomePrices"`
	EndDate       string       `json:"endDate"`
	EndDateISO    string       `json:"endDateIso"`
	Tags          []gammaTag   `json:"tags"`
	Events        []gammaEvent `json:"events"`
}

type gammaTag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

type gammaEvent struct {
	Title string     `json:"title"`
	Tags  []gammaTag `json:"tags"`
}

// flexNumber decodes a JSON number, a quoted number, or null.
type flexNumber struct {
	Value decimal.Decimal
	Set   bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		// Unparseable numbers are treated as absent rather than failing the page.
		return nil
	}
	n.Value, n.Set = d, true
	return nil
}

// first returns the first set value, or zero.
func first(ns ...flexNumber) decimal.Decimal {
	for _, n := range ns {
		if n.Set {
			return n.Value
		}
	}
	return decimal.Zero
}

// normalize turns a raw Gamma record into a model.Market. It reports false
// for records that cannot form a valid market.
func normalize(g *gammaMarket) (model.Market, bool) {
	title := strings.TrimSpace(g.Question)
	if title == "" {
		title = strings.TrimSpace(g.Title)
	}

	m := model.Market{
		ID:          g.ID,
		Title:       title,
		Description: strings.TrimSpace(g.Description),
		Tags:        collectTags(g),
		Volume24h:   first(g.Volume24hr, g.Volume24hrAlt),
		Liquidity:   first(g.LiquidityNum, g.Liquidity),
		Odds:        parseOdds(g.Outcomes, g.OutcomePrices),
		ResolvesAt:  parseEndDate(g.EndDate, g.EndDateISO),
	}

	switch {
	case g.Category != "":
		m.EventType = strings.ToLower(g.Category)
	case len(m.Tags) > 0:
		m.EventType = strings.ToLower(m.Tags[0])
	}

	if m.Volume24h.IsNegative() {
		m.Volume24h = decimal.Zero
	}
	if m.Liquidity.IsNegative() {
		m.Liquidity = decimal.Zero
	}

	if err := m.Validate(); err != nil {
		return model.Market{}, false
	}
	return m, true
}

// collectTags merges market and parent-event tag labels, first seen wins.
func collectTags(g *gammaMarket) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(ts []gammaTag) {
		for _, t := range ts {
			label := strings.TrimSpace(t.Label)
			if label == "" {
				label = strings.TrimSpace(t.Slug)
			}
			key := strings.ToLower(label)
			if label == "" || seen[key] {
				continue
			}
			seen[key] = true
			tags = append(tags, label)
		}
	}
	add(g.Tags)
	for _, e := range g.Events {
		add(e.Tags)
	}
	return tags
}

// parseOdds reads the stringified outcome arrays. Prices are matched to the
// Yes/No labels when present, else taken positionally.
func parseOdds(outcomes, prices string) *model.Odds {
	if prices == "" {
		return nil
	}
	var ps []string
	if err := json.Unmarshal([]byte(prices), &ps); err != nil || len(ps) < 2 {
		return nil
	}

	yesIdx, noIdx := 0, 1
	var labels []string
	if outcomes != "" && json.Unmarshal([]byte(outcomes), &labels) == nil && len(labels) == len(ps) {
		for i, l := range labels {
			switch strings.ToLower(strings.TrimSpace(l)) {
			case "yes":
				yesIdx = i
			case "no":
				noIdx = i
			}
		}
	}

	yes, err1 := strconv.ParseFloat(ps[yesIdx], 64)
	no, err2 := strconv.ParseFloat(ps[noIdx], 64)
	if err1 != nil || err2 != nil || yes < 0 || yes > 1 || no < 0 || no > 1 {
		return nil
	}
	return &model.Odds{Yes: yes, No: no}
}

func parseEndDate(endDate, endDateISO string) *time.Time {
	if t, err := time.Parse(time.RFC3339, endDate); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", endDateISO); err == nil {
		return &t
	}
	return nil
}
