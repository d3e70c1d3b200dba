package analysis

import (
	"fmt"
	"strings"

	"github.com/thisyearnofear/weather-sub001/internal/llm"
	"github.com/thisyearnofear/weather-sub001/internal/model"
)

const systemPrompt = `You are a weather analyst for prediction markets. You judge whether current weather conditions and forecasts are priced into market odds.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "weather_impact": "HIGH" | "MEDIUM" | "LOW",
  "odds_efficiency": "EFFICIENT" | "INEFFICIENT" | "UNKNOWN",
  "confidence": "HIGH" | "MEDIUM" | "LOW",
  "analysis": "2-4 sentences on how weather affects the outcome and whether the odds reflect it",
  "key_factors": ["short factor", "..."],
  "recommended_action": "one sentence"
}`

const deepInstructions = `Search for the latest forecast for the venue and date, whether the venue is covered or domed, and recent news that changes the weather exposure. Cite what you found inside "analysis".`

// buildMessages renders the chat prompt for req.
func buildMessages(req model.AnalysisRequest) []llm.Message {
	m := req.Market
	var b strings.Builder

	fmt.Fprintf(&b, "Event: %s\n", m.Title)
	if m.EventType != "" {
		fmt.Fprintf(&b, "Event type: %s\n", m.EventType)
	}
	fmt.Fprintf(&b, "Location: %s\n", orUnknown(m.Location))
	if m.ResolvesAt != nil {
		fmt.Fprintf(&b, "Date: %s\n", m.ResolvesAt.UTC().Format("Mon, 02 Jan 2006 15:04 MST"))
	} else {
		b.WriteString("Date: Unknown\n")
	}
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
	}
	if d := strings.TrimSpace(m.Description); d != "" {
		fmt.Fprintf(&b, "Resolution details: %s\n", truncate(d, 600))
	}

	b.WriteString("\nWeather:\n")
	if w := req.Weather; w != nil {
		if w.Location != "" {
			fmt.Fprintf(&b, "- Reported for: %s\n", w.Location)
		}
		if w.Condition != "" {
			fmt.Fprintf(&b, "- Condition: %s\n", w.Condition)
		}
		if w.TempF != nil {
			fmt.Fprintf(&b, "- Temperature: %.0f°F\n", *w.TempF)
		}
		fmt.Fprintf(&b, "- Precipitation chance: %.0f%%\n", w.PrecipChance)
		fmt.Fprintf(&b, "- Wind: %.0f mph\n", w.WindMph)
		if w.Humidity > 0 {
			fmt.Fprintf(&b, "- Humidity: %.0f%%\n", w.Humidity)
		}
	} else {
		b.WriteString("- No live weather data provided\n")
	}

	b.WriteString("\nMarket odds: ")
	if m.Odds != nil {
		fmt.Fprintf(&b, "YES %.1f%% / NO %.1f%%\n", m.Odds.Yes*100, m.Odds.No*100)
	} else {
		b.WriteString("Not available\n")
	}

	if req.Mode == model.ModeDeep {
		b.WriteString("\n")
		b.WriteString(deepInstructions)
		b.WriteString("\n")
	}

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
