// Package scoring computes the weather edge score of a market.
//
// The score is the sum of four independently bounded components:
//
//	weatherDirect            [0,3]  weather vocabulary in the question
//	weatherSensitiveEvent    [0,2]  outdoor category minus indoor venue penalty
//	contextualWeatherImpact  [0,5]  live weather against the category's exposure
//	asymmetrySignal          [0,1]  24h volume relative to liquidity
//
// Scoring is a pure function of (market, weather): no I/O, no clock, no
// shared mutable state. Keyword families and weights live in rules.go.
package scoring

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// Component bounds.
const (
	maxWeatherDirect  = 3.0
	maxSensitiveEvent = 2.0
	maxContextual     = 5.0
	maxAsymmetry      = 1.0
	// textOnlyContextual caps the contextual component when no weather
	// snapshot is available.
	textOnlyContextual = 2.0
)

// Thresholds are the tier boundaries: total >= High is HIGH, total >= Medium
// is MEDIUM, anything lower is LOW.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns HIGH >= 8, MEDIUM >= 4.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 8, Medium: 4}
}

// Tier maps a total onto a confidence tier. It is monotonic in total.
func (t Thresholds) Tier(total float64) model.Confidence {
	switch {
	case total >= t.High:
		return model.ConfidenceHigh
	case total >= t.Medium:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Breakdown is the per-component score of one market. A rescoring produces
// a new Breakdown; values are never updated in place.
type Breakdown struct {
	WeatherDirect           float64          `json:"weatherDirect"`
	WeatherSensitiveEvent   float64          `json:"weatherSensitiveEvent"`
	ContextualWeatherImpact float64          `json:"contextualWeatherImpact"`
	AsymmetrySignal         float64          `json:"asymmetrySignal"`
	Total                   float64          `json:"total"`
	Confidence              model.Confidence `json:"confidence"`
	Factors                 []string         `json:"factors"`
}

// Scorer applies the rule tables with a given tier policy.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer creates a scorer. A zero Thresholds value selects the defaults.
func NewScorer(th Thresholds) *Scorer {
	if th.High <= 0 || th.Medium <= 0 {
		th = DefaultThresholds()
	}
	return &Scorer{thresholds: th}
}

// Thresholds returns the tier policy in use.
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

// Score computes the breakdown for m under the optional weather snapshot.
func (s *Scorer) Score(m *model.Market, w *model.WeatherSnapshot) Breakdown {
	text := m.SearchText()
	factors := []string{}

	// 1. Direct weather vocabulary.
	direct := 0.0
	for _, r := range directRules {
		if r.pattern.MatchString(text) {
			direct += r.weight
			factors = append(factors, "weather keyword: "+r.name)
		}
	}
	direct = math.Min(direct, maxWeatherDirect)

	// 2. Outdoor exposure minus indoor penalty. Only the strongest outdoor
	// category counts; the first one in table order wins ties.
	var category string
	outdoor := 0.0
	for _, r := range outdoorRules {
		if r.pattern.MatchString(text) && r.weight > outdoor {
			outdoor = r.weight
			category = r.name
		}
	}
	if category != "" {
		factors = append(factors, "outdoor event: "+category)
	}
	penalty := 0.0
	for _, r := range indoorRules {
		if r.pattern.MatchString(text) {
			penalty = math.Max(penalty, r.weight)
			factors = append(factors, "controlled venue: "+r.name)
		}
	}
	sensitive := clamp(outdoor-penalty, 0, maxSensitiveEvent)

	// 3. Live weather against the category's exposure profile.
	profile := ""
	switch {
	case sensitive > 0:
		profile = category
	case direct > 0:
		profile = "weather"
	}
	contextual := 0.0
	if profile != "" {
		if w != nil {
			var f []string
			contextual, f = contextualImpact(categoryExposure[profile], w)
			factors = append(factors, f...)
		} else {
			if sensitive > 0 {
				contextual += 1
			}
			if direct >= maxWeatherDirect {
				contextual += 1
			}
			contextual = math.Min(contextual, textOnlyContextual)
			if contextual > 0 {
				factors = append(factors, "no live weather: text-only context")
			}
		}
	}

	// 4. Volume relative to liquidity.
	asym, ratio := asymmetry(m.Volume24h, m.Liquidity)
	if asym >= 0.5 {
		if math.IsInf(ratio, 1) {
			factors = append(factors, "thin liquidity: no resting liquidity")
		} else {
			factors = append(factors, fmt.Sprintf("thin liquidity: volume/liquidity %.1fx", ratio))
		}
	}

	b := Breakdown{
		WeatherDirect:           round2(direct),
		WeatherSensitiveEvent:   round2(sensitive),
		ContextualWeatherImpact: round2(contextual),
		AsymmetrySignal:         round2(asym),
		Factors:                 factors,
	}
	b.Total = math.Max(0, round2(b.WeatherDirect+b.WeatherSensitiveEvent+b.ContextualWeatherImpact+b.AsymmetrySignal))
	b.Confidence = s.thresholds.Tier(b.Total)
	return b
}

// contextualImpact scores precipitation, wind and temperature extremity
// weighted by the exposure profile, capped at maxContextual.
func contextualImpact(exp exposure, w *model.WeatherSnapshot) (float64, []string) {
	var factors []string

	precip := points(w.PrecipChance, precipSteps)
	if precip > 0 {
		factors = append(factors, fmt.Sprintf("precipitation chance %.0f%%", w.PrecipChance))
	}
	wind := points(w.WindMph, windSteps)
	if wind > 0 {
		factors = append(factors, fmt.Sprintf("wind %.0f mph", w.WindMph))
	}
	temp := 0.0
	if w.TempF != nil {
		temp = points(math.Abs(*w.TempF-mildTempF), tempSteps)
		if temp > 0 {
			factors = append(factors, fmt.Sprintf("temperature %.0f°F", *w.TempF))
		}
	}

	score := precip*exp.precip + wind*exp.wind + temp*exp.temp
	return math.Min(score, maxContextual), factors
}

func points(v float64, steps []step) float64 {
	for _, s := range steps {
		if v >= s.min {
			return s.points
		}
	}
	return 0
}

// asymmetry is volume/liquidity scaled so asymmetrySaturation maps to 1.
// It also returns the raw ratio. Volume with no liquidity at all is treated
// as fully asymmetric.
func asymmetry(volume, liquidity decimal.Decimal) (float64, float64) {
	if !volume.IsPositive() {
		return 0, 0
	}
	if !liquidity.IsPositive() {
		return maxAsymmetry, math.Inf(1)
	}
	ratio, _ := volume.Div(liquidity).Float64()
	return clamp(ratio/asymmetrySaturation, 0, maxAsymmetry), ratio
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
