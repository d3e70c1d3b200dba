package model

import "regexp"

// WeatherTerm is one family of weather vocabulary, matched against
// lowercased market text.
type WeatherTerm struct {
	Name    string
	Pattern *regexp.Regexp
}

func weatherWords(alts string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + alts + `)\b`)
}

// WeatherTerms is the shared weather vocabulary. Scoring weights these
// families; futures classification treats any match as a weather question.
var WeatherTerms = []WeatherTerm{
	{"precipitation", weatherWords(`rain|rains|raining|rainfall|precipitation|showers?|drizzle`)},
	{"snow", weatherWords(`snow|snowfall|snowstorm|blizzard|sleet|hail`)},
	{"temperature", weatherWords(`temperature|temperatures|degrees|fahrenheit|celsius|heat ?wave|freez(?:e|ing)`)},
	{"wind", weatherWords(`wind|winds|windy|gusts?|mph winds`)},
	{"severe", weatherWords(`hurricane|tornado|typhoon|cyclone|thunderstorms?|storms?|flood(?:ing)?`)},
	{"general", weatherWords(`weather|forecast|climate|sunny|cloudy|humid(?:ity)?`)},
}

// MentionsWeather reports whether lowercased text uses any weather term.
func MentionsWeather(text string) bool {
	for _, t := range WeatherTerms {
		if t.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}
