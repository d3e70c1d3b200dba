// Package model defines the core domain types shared across the edge engine.
// Money-like quantities (volume, liquidity) use shopspring/decimal.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Confidence is a coarse HIGH/MEDIUM/LOW tier. It is used both for edge
// scores and for model-reported analysis confidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence normalizes a free-form tier string. Unknown input yields
// ("", false).
func ParseConfidence(s string) (Confidence, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return ConfidenceHigh, true
	case "MEDIUM", "MED", "MODERATE":
		return ConfidenceMedium, true
	case "LOW":
		return ConfidenceLow, true
	}
	return "", false
}

// Odds holds the current yes/no prices. Spread markets need not sum to 1.
type Odds struct {
	Yes float64 `json:"yes"`
	No  float64 `json:"no"`
}

// Market is a normalized prediction-market listing. All "whichever upstream
// field is present" decisions are made before a Market is constructed.
type Market struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Volume24h    decimal.Decimal `json:"volume24h"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Odds         *Odds           `json:"currentOdds,omitempty"`
	ResolvesAt   *time.Time      `json:"resolutionDate,omitempty"`
	EventType    string          `json:"eventType,omitempty"`
	Location     string          `json:"location,omitempty"`
	Participants []string        `json:"participants,omitempty"`
}

// Validate checks the market invariants.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if strings.TrimSpace(m.Title) == "" {
		return errors.New("market title must not be empty")
	}
	if m.Volume24h.IsNegative() {
		return errors.New("volume 24h must not be negative")
	}
	if m.Liquidity.IsNegative() {
		return errors.New("liquidity must not be negative")
	}
	if m.Odds != nil {
		if m.Odds.Yes < 0 || m.Odds.Yes > 1 {
			return errors.New("yes odds must be between 0.0 and 1.0")
		}
		if m.Odds.No < 0 || m.Odds.No > 1 {
			return errors.New("no odds must be between 0.0 and 1.0")
		}
	}
	return nil
}

// SearchText is the lowercased title, description and tags joined by spaces.
// Scoring and classification match against this text.
func (m *Market) SearchText() string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteByte(' ')
	b.WriteString(m.Description)
	for _, t := range m.Tags {
		b.WriteByte(' ')
		b.WriteString(t)
	}
	return strings.ToLower(b.String())
}

// WeatherSnapshot is the weather context a client supplies with a request.
// TempF is optional because 0°F is itself an extreme reading.
type WeatherSnapshot struct {
	Location     string   `json:"location,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	PrecipChance float64  `json:"precip_chance"` // percent, 0-100
	WindMph      float64  `json:"wind_mph"`
	TempF        *float64 `json:"temp_f,omitempty"`
	Humidity     float64  `json:"humidity,omitempty"`
}

// Hash returns a stable digest of the snapshot. Values are rounded to one
// decimal so float noise in the client does not split the cache.
func (w *WeatherSnapshot) Hash() string {
	if w == nil {
		return "none"
	}
	temp := "na"
	if w.TempF != nil {
		temp = fmt.Sprintf("%.1f", *w.TempF)
	}
	canon := fmt.Sprintf("%s|%s|%.1f|%.1f|%s|%.1f",
		strings.ToLower(strings.TrimSpace(w.Location)),
		strings.ToLower(strings.TrimSpace(w.Condition)),
		w.PrecipChance, w.WindMph, temp, w.Humidity)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:8])
}

// CatalogSnapshot is one complete fetch of the market universe. It is never
// partially updated; a refresh replaces it wholesale.
type CatalogSnapshot struct {
	Markets     []Market        `json:"markets"`
	FetchedAt   time.Time       `json:"fetched_at"`
	VolumeFloor decimal.Decimal `json:"volume_floor"`
}

// AnalysisMode selects model parameters.
type AnalysisMode string

const (
	ModeBasic AnalysisMode = "basic"
	ModeDeep  AnalysisMode = "deep"
)

// AnalysisRequest is the input to the analysis orchestrator.
type AnalysisRequest struct {
	Market    Market
	Weather   *WeatherSnapshot
	Mode      AnalysisMode
	IsFutures bool // caller hint; OR-ed with the classifier verdict
}

// Assessment is the model's structured verdict.
type Assessment struct {
	WeatherImpact  string `json:"weather_impact"`
	OddsEfficiency string `json:"odds_efficiency"`
	Confidence     string `json:"confidence"`
}

// AnalysisResult is immutable once produced.
type AnalysisResult struct {
	Assessment        Assessment `json:"assessment"`
	Reasoning         string     `json:"reasoning"`
	KeyFactors        []string   `json:"key_factors"`
	RecommendedAction string     `json:"recommended_action"`
	Cached            bool       `json:"cached"`
	Source            string     `json:"source"`
	Timestamp         time.Time  `json:"timestamp"`
}

// AnalysisEntry is what the analysis cache stores per fingerprint.
type AnalysisEntry struct {
	Fingerprint string         `json:"fingerprint"`
	Result      AnalysisResult `json:"result"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SignalStatus is the lifecycle state of a persisted signal.
type SignalStatus string

const (
	SignalOpen      SignalStatus = "open"
	SignalPublished SignalStatus = "published"
	SignalDismissed SignalStatus = "dismissed"
)

// Valid reports whether s is a known status.
func (s SignalStatus) Valid() bool {
	switch s {
	case SignalOpen, SignalPublished, SignalDismissed:
		return true
	}
	return false
}

// Signal is a completed analysis recorded for the leaderboard/feed.
type Signal struct {
	ID             string       `json:"id" db:"id"`
	MarketID       string       `json:"market_id" db:"market_id"`
	Title          string       `json:"title" db:"title"`
	EventType      string       `json:"event_type" db:"event_type"`
	Confidence     Confidence   `json:"confidence" db:"confidence"`
	EdgeScore      float64      `json:"edge_score" db:"edge_score"`
	WeatherImpact  string       `json:"weather_impact" db:"weather_impact"`
	OddsEfficiency string       `json:"odds_efficiency" db:"odds_efficiency"`
	Reasoning      string       `json:"reasoning" db:"reasoning"`
	Status         SignalStatus `json:"status" db:"status"`
	TxHash         string       `json:"tx_hash,omitempty" db:"tx_hash"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

// SignalFilter narrows a signal listing. Zero values mean "any".
type SignalFilter struct {
	Status   SignalStatus
	MarketID string
	Limit    int
}
