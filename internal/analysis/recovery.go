package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// ErrDecodeFailure is matched by every *DecodeError.
var ErrDecodeFailure = errors.New("analysis: could not decode model response")

// Defaults applied to keys the model omitted.
const (
	DefaultRecommendedAction = "Monitor manually"
	DefaultImpact            = "UNKNOWN"
	DefaultConfidence        = string(model.ConfidenceLow)
)

// RecoveryError reports which recovery stage rejected the text.
type RecoveryError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *RecoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *RecoveryError) Unwrap() error { return e.Err }

// DecodeError is returned when a model response cannot be turned into a
// result. Raw holds a bounded prefix of the response for logging.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecodeFailure, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailure }

// stage refines model text or rejects it.
type stage struct {
	name string
	fn   func(string) (string, error)
}

var stages = []stage{
	{"strip_reasoning_trace", stripReasoningTrace},
	{"strip_code_fence", stripCodeFence},
	{"extract_json_object", extractJSONObject},
}

var (
	thinkRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// stripReasoningTrace removes <think>...</think> blocks. A trace whose
// opening tag was cut off is dropped up to its closing tag; a trace that
// never closes loses only its opening tag.
func stripReasoningTrace(s string) (string, error) {
	s = thinkRe.ReplaceAllString(s, "")
	if i := strings.LastIndex(s, thinkClose); i >= 0 {
		s = s[i+len(thinkClose):]
	}
	s = strings.Replace(s, thinkOpen, "", 1)
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("empty after removing reasoning trace")
	}
	return s, nil
}

// stripCodeFence returns the body of the first fenced block that contains
// an object. Unfenced text passes through.
func stripCodeFence(s string) (string, error) {
	for _, m := range fenceRe.FindAllStringSubmatch(s, -1) {
		if strings.Contains(m[1], "{") {
			return strings.TrimSpace(m[1]), nil
		}
	}
	return s, nil
}

// extractJSONObject returns the first balanced {...} in s. Braces inside
// JSON strings do not count.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errors.New("no JSON object found")
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errors.New("unbalanced JSON object")
}

// decoded is the model's answer after defaults are filled.
type decoded struct {
	WeatherImpact     string
	OddsEfficiency    string
	Confidence        string
	Analysis          string
	KeyFactors        []string
	RecommendedAction string
}

// decodeObject parses s into raw values keyed by name.
func decodeObject(s string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// fillDefaults builds a decoded value leniently. Keys may be missing,
// scalars may be strings or numbers, and key_factors may be a single string.
func fillDefaults(raw map[string]json.RawMessage) decoded {
	out := decoded{
		WeatherImpact:     upperOr(scalar(raw, "weather_impact"), DefaultImpact),
		OddsEfficiency:    upperOr(scalar(raw, "odds_efficiency"), DefaultImpact),
		Confidence:        DefaultConfidence,
		Analysis:          scalar(raw, "analysis"),
		KeyFactors:        stringList(raw["key_factors"]),
		RecommendedAction: scalar(raw, "recommended_action"),
	}
	if c, ok := model.ParseConfidence(scalar(raw, "confidence")); ok {
		out.Confidence = string(c)
	}
	if out.Analysis == "" {
		out.Analysis = scalar(raw, "reasoning")
	}
	if out.RecommendedAction == "" {
		out.RecommendedAction = DefaultRecommendedAction
	}
	return out
}

// recoverResponse runs every stage in order and decodes the result.
func recoverResponse(text string) (decoded, error) {
	s := text
	for _, st := range stages {
		next, err := st.fn(s)
		if err != nil {
			return decoded{}, &DecodeError{Raw: truncate(text, 500), Err: &RecoveryError{Stage: st.name, Reason: err.Error()}}
		}
		s = next
	}

	raw, err := decodeObject(s)
	if err != nil {
		return decoded{}, &DecodeError{Raw: truncate(text, 500), Err: &RecoveryError{Stage: "decode", Reason: "invalid JSON", Err: err}}
	}
	return fillDefaults(raw), nil
}

func scalar(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if json.Unmarshal(v, &f) == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// stringList accepts an array of scalars or a single string. The result is
// never nil.
func stringList(v json.RawMessage) []string {
	out := []string{}
	if len(v) == 0 {
		return out
	}

	var items []json.RawMessage
	if json.Unmarshal(v, &items) == nil {
		for _, it := range items {
			var s string
			if json.Unmarshal(it, &s) == nil {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
				continue
			}
			if t := strings.TrimSpace(string(it)); t != "" && t != "null" {
				out = append(out, t)
			}
		}
		return out
	}

	var s string
	if json.Unmarshal(v, &s) == nil && strings.TrimSpace(s) != "" {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func upperOr(s, def string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
