package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/analysis"
	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// weatherInput is the client-supplied weather context.
type weatherInput struct {
	Location     string   `json:"location" validate:"max=128"`
	Condition    string   `json:"condition" validate:"max=128"`
	PrecipChance float64  `json:"precip_chance" validate:"gte=0,lte=100"`
	WindMph      float64  `json:"wind_mph" validate:"gte=0,lte=300"`
	TempF        *float64 `json:"temp_f" validate:"omitempty,gte=-100,lte=150"`
	Humidity     float64  `json:"humidity" validate:"gte=0,lte=100"`
}

type oddsInput struct {
	Yes float64 `json:"yes" validate:"gte=0,lte=1"`
	No  float64 `json:"no" validate:"gte=0,lte=1"`
}

// analyzeRequest is the JSON body for POST /api/analyze.
type analyzeRequest struct {
	MarketID     string        `json:"marketID" validate:"required,max=128"`
	Title        string        `json:"title" validate:"required,max=500"`
	Description  string        `json:"description" validate:"max=5000"`
	EventType    string        `json:"eventType" validate:"required,max=64"`
	Location     string        `json:"location" validate:"max=128"`
	WeatherData  *weatherInput `json:"weatherData"`
	CurrentOdds  *oddsInput    `json:"currentOdds"`
	Participants []string      `json:"participants" validate:"max=16,dive,max=128"`
	EventDate    string        `json:"eventDate"`
	Mode         string        `json:"mode" validate:"omitempty,oneof=basic deep"`
	IsFuturesBet bool          `json:"isFuturesBet"`
}

// toRequest normalizes the request into the orchestrator's input. It is the
// only place client-shaped analysis input is interpreted.
func (a analyzeRequest) toRequest() (model.AnalysisRequest, error) {
	m := model.Market{
		ID:           strings.TrimSpace(a.MarketID),
		Title:        strings.TrimSpace(a.Title),
		Description:  a.Description,
		EventType:    strings.ToLower(strings.TrimSpace(a.EventType)),
		Location:     strings.TrimSpace(a.Location),
		Participants: a.Participants,
	}
	if m.EventType != "" {
		m.Tags = []string{m.EventType}
	}
	if a.CurrentOdds != nil {
		m.Odds = &model.Odds{Yes: a.CurrentOdds.Yes, No: a.CurrentOdds.No}
	}
	if a.EventDate != "" {
		t, err := parseEventDate(a.EventDate)
		if err != nil {
			return model.AnalysisRequest{}, err
		}
		m.ResolvesAt = &t
	}
	if err := m.Validate(); err != nil {
		return model.AnalysisRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	req := model.AnalysisRequest{
		Market:    m,
		Mode:      model.AnalysisMode(a.Mode),
		IsFutures: a.IsFuturesBet,
	}
	if a.Mode == "" {
		req.Mode = model.ModeBasic
	}
	if wd := a.WeatherData; wd != nil {
		req.Weather = &model.WeatherSnapshot{
			Location:     wd.Location,
			Condition:    wd.Condition,
			PrecipChance: wd.PrecipChance,
			WindMph:      wd.WindMph,
			TempF:        wd.TempF,
			Humidity:     wd.Humidity,
		}
		if req.Weather.Location == "" {
			req.Weather.Location = m.Location
		}
	}
	return req, nil
}

func parseEventDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: eventDate %q is not a date", ErrValidation, s)
}

// AnalyzeResponse is the JSON body returned from POST /api/analyze.
type AnalyzeResponse struct {
	Success bool `json:"success"`
	model.AnalysisResult
}

// analysisFailure is returned with analysis errors so clients can render a
// disclaimer instead of a blank result.
type analysisFailure struct {
	Success           bool             `json:"success"`
	Error             string           `json:"error"`
	Code              string           `json:"code"`
	Assessment        model.Assessment `json:"assessment"`
	Reasoning         string           `json:"reasoning"`
	KeyFactors        []string         `json:"key_factors"`
	RecommendedAction string           `json:"recommended_action"`
	Disclaimer        string           `json:"disclaimer"`
	Timestamp         time.Time        `json:"timestamp"`
}

// Analyze handles POST /api/analyze.
func (s *Service) Analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeFailure(w, r, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	charged := false
	if req.Mode == model.ModeDeep && s.quota != nil {
		if err := s.quota.Allow(clientKey(r)); err != nil {
			metrics.QuotaRejections.Inc()
			slog.Warn("deep analysis quota exceeded", "client", clientKey(r), "err", err)
			writeFailure(w, r, err)
			return
		}
		charged = true
	}

	res, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.writeAnalysisFailure(w, r, err)
		return
	}

	// Only model calls count against the deep quota.
	if charged && (res.Cached || res.Source != analysis.SourceModel) {
		s.quota.Refund(clientKey(r))
	}

	if s.hub != nil && res.Source == analysis.SourceModel {
		s.hub.Broadcast(Event{
			Type:           EventAnalysisCompleted,
			MarketID:       req.Market.ID,
			Title:          req.Market.Title,
			WeatherImpact:  res.Assessment.WeatherImpact,
			OddsEfficiency: res.Assessment.OddsEfficiency,
			Confidence:     res.Assessment.Confidence,
			Cached:         res.Cached,
			Timestamp:      res.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{Success: true, AnalysisResult: *res})
}

func (s *Service) writeAnalysisFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusBadRequest || status == http.StatusTooManyRequests {
		writeError(w, publicMessage(err, code), status, code)
		return
	}

	var de *analysis.DecodeError
	if errors.As(err, &de) {
		slog.Warn("analysis decode failure", "path", r.URL.Path, "err", err)
	} else if status >= http.StatusInternalServerError {
		slog.Error("analysis failed", "path", r.URL.Path, "code", code, "err", err)
	}

	writeJSON(w, status, analysisFailure{
		Success: false,
		Error:   publicMessage(err, code),
		Code:    code,
		Assessment: model.Assessment{
			WeatherImpact:  analysis.DefaultImpact,
			OddsEfficiency: analysis.DefaultImpact,
			Confidence:     analysis.DefaultConfidence,
		},
		KeyFactors:        []string{},
		RecommendedAction: analysis.DefaultRecommendedAction,
		Disclaimer:        "Weather analysis is unavailable for this market right now. Do not trade on this result.",
		Timestamp:         s.now().UTC(),
	})
}
