package scoring

import (
	"regexp"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// rule is one keyword family with a weight. Patterns are matched against
// the lowercased market text.
type rule struct {
	name    string
	pattern *regexp.Regexp
	weight  float64
}

func words(alts string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + alts + `)\b`)
}

// directWeights are the per-family weights for model.WeatherTerms.
var directWeights = map[string]float64{
	"precipitation": 3,
	"snow":          3,
	"temperature":   3,
	"wind":          3,
	"severe":        3,
	"general":       1,
}

// directRules score explicit weather vocabulary in the question.
// The sum of matched weights is capped at maxWeatherDirect.
var directRules = weatherRules()

func weatherRules() []rule {
	rules := make([]rule, 0, len(model.WeatherTerms))
	for _, t := range model.WeatherTerms {
		rules = append(rules, rule{t.Name, t.Pattern, directWeights[t.Name]})
	}
	return rules
}

// outdoorRules score event categories exposed to the elements. Only the
// strongest match counts; indoor penalties are subtracted afterwards.
var outdoorRules = []rule{
	{"football", words(`nfl|football|college football|ncaaf`), 2},
	{"baseball", words(`mlb|baseball|world series`), 2},
	{"golf", words(`golf|pga|masters|open championship|ryder cup|lpga`), 2},
	{"soccer", words(`soccer|premier league|la liga|serie a|bundesliga|mls|uefa|fifa|world cup`), 2},
	{"tennis", words(`tennis|wimbledon|us open|french open|roland garros|atp|wta`), 2},
	{"cricket", words(`cricket|ipl|test match|ashes`), 2},
	{"racing", words(`f1|formula 1|formula one|grand prix|nascar|indycar|indy 500`), 2},
	{"endurance", words(`marathon|triathlon|ironman|tour de france|cycling|ultramarathon`), 2},
	{"outdoor", words(`outdoor|open-air|stadium|parade|festival|concert`), 1},
}

// indoorRules are climate-controlled or neutral-site venues.
var indoorRules = []rule{
	{"dome", words(`dome|domed|indoors?|roof|retractable`), 2},
	{"arena", words(`arena|nba|nhl|basketball|hockey|ufc|boxing|esports`), 2},
	{"super bowl", words(`super bowl`), 2},
}

// exposure holds per-category sensitivity multipliers for the three live
// weather factors.
type exposure struct {
	precip, wind, temp float64
}

// categoryExposure is keyed by outdoorRules names plus "weather" for
// questions that are about the weather itself.
var categoryExposure = map[string]exposure{
	"football":  {precip: 1.0, wind: 1.0, temp: 0.5},
	"baseball":  {precip: 1.5, wind: 1.0, temp: 0.5},
	"golf":      {precip: 1.0, wind: 1.5, temp: 0.5},
	"soccer":    {precip: 1.0, wind: 0.5, temp: 0.5},
	"tennis":    {precip: 1.5, wind: 0.5, temp: 1.0},
	"cricket":   {precip: 1.5, wind: 0.5, temp: 0.5},
	"racing":    {precip: 1.5, wind: 0.5, temp: 0.5},
	"endurance": {precip: 0.5, wind: 0.5, temp: 1.5},
	"outdoor":   {precip: 1.0, wind: 0.5, temp: 0.5},
	"weather":   {precip: 1.0, wind: 1.0, temp: 1.0},
}

// step maps a reading to points: the first threshold the value reaches wins.
type step struct {
	min    float64
	points float64
}

var (
	precipSteps = []step{{70, 2}, {40, 1}, {20, 0.5}}
	windSteps   = []step{{25, 2}, {15, 1}, {10, 0.5}}
	// Temperature is scored by distance from a mild 60°F.
	tempSteps = []step{{40, 2}, {28, 1}}
)

const mildTempF = 60.0

// asymmetrySaturation is the volume/liquidity ratio at which the
// asymmetry signal reaches its maximum.
const asymmetrySaturation = 5.0
