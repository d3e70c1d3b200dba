// Package futures tells season-long and championship bets apart from
// single dated events. Weather analysis is meaningless for a market that
// resolves months out at an unknown venue, so the analysis path checks this
// first.
package futures

import (
	"regexp"
	"strings"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

var (
	// championshipRe matches "win (the) [year] [up to three words] <prize>".
	// Single venue-bound tournaments such as the Masters are not prizes here.
	championshipRe = regexp.MustCompile(
		`\bwins?\s+(?:the\s+)?(?:\d{4}(?:[-/]\d{2,4})?\s+)?(?:[a-z0-9'.&]+\s+){0,3}?` +
			`(?:super bowl|world series|stanley cup|championship|title|pennant|cup|finals|league|grand slam|division|conference|mvp)\b`,
	)

	// championRe needs outcome phrasing: "be champions", "crowned ... champion".
	championRe = regexp.MustCompile(
		`\b(?:be|is|are|become|becomes|crowned|repeat as)\s+(?:the\s+)?(?:\d{4}(?:[-/]\d{2,4})?\s+)?(?:[a-z0-9'.&]+\s+){0,3}?champions?\b`,
	)

	seasonalRe = regexp.MustCompile(
		`\b(?:mvp|rookie of the year|cy young|heisman|make the playoffs|playoff berth|relegat(?:ed|ion)|top scorer|golden boot|win totals?|most wins)\b`,
	)

	// seasonOutcomeRe matches a sporting result over a season, e.g.
	// "win 50 games this season". A bare "season" is not enough.
	seasonOutcomeRe = regexp.MustCompile(
		`\b(?:win|wins|finish|finishes|lead|leads|go undefeated|clinch|clinches)\b[^.?!]{0,40}?\b(?:this|next|the|\d{4}(?:[-/]\d{2,4})?)\s+(?:regular\s+)?season\b`,
	)

	seasonYearRe = regexp.MustCompile(`\b20\d{2}(?:[-/]\d{2,4})?\b`)

	datedRe = regexp.MustCompile(
		`\b(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?\b` +
			`|\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b` +
			`|\b\d{4}-\d{2}-\d{2}\b` +
			`|\b(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|today|tonight|tomorrow|this weekend)\b` +
			`|\b(?:week|game|round|stage|race|match)\s+\d+\b`,
	)

	matchupRe = regexp.MustCompile(`\b(?:vs|versus|v|beat|beats|defeat|defeats|against)\b|\s@\s`)
)

// Classification is the verdict for one market.
type Classification struct {
	IsFutures  bool             `json:"isFutures"`
	Confidence model.Confidence `json:"confidence"`
	Reason     string           `json:"reason"`
}

// Classify inspects the market title and description. It is pure. A title
// asking about the weather itself is never futures, whatever season or
// tournament it names.
func Classify(m *model.Market) Classification {
	if model.MentionsWeather(strings.ToLower(m.Title)) {
		return Classification{Confidence: model.ConfidenceHigh, Reason: "weather outcome"}
	}

	text := m.SearchText()
	champ := championshipRe.MatchString(text) || championRe.MatchString(text)
	seasonal := seasonalRe.MatchString(text) || seasonOutcomeRe.MatchString(text)
	year := seasonYearRe.MatchString(text)
	dated := datedRe.MatchString(text)
	matchup := matchupRe.MatchString(text)

	switch {
	case (champ || seasonal) && !dated && !matchup:
		c := Classification{IsFutures: true, Confidence: model.ConfidenceMedium, Reason: "season or championship outcome"}
		if champ && (year || seasonal) {
			c.Confidence = model.ConfidenceHigh
			c.Reason = "championship outcome for a season"
		}
		return c
	case champ || seasonal:
		return Classification{Confidence: model.ConfidenceMedium, Reason: "championship wording with a specific date or matchup"}
	case dated || matchup:
		return Classification{Confidence: model.ConfidenceHigh, Reason: "specific date or matchup"}
	default:
		return Classification{Confidence: model.ConfidenceMedium, Reason: "no season or championship wording"}
	}
}
