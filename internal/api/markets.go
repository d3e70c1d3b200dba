package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/catalog"
	"github.com/thisyearnofear/weather-sub001/internal/discovery"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/scoring"
)

const (
	noMarketsMessage   = "No markets found, adjust filters"
	unavailableMessage = "Market data is temporarily unavailable. No markets found, try again shortly"
)

// marketsRequest is the JSON body for POST /api/markets. Every field is
// optional.
type marketsRequest struct {
	EventType           string   `json:"eventType" validate:"max=64"`
	Confidence          string   `json:"confidence" validate:"max=16"`
	Location            string   `json:"location" validate:"max=128"`
	MinVolume           *float64 `json:"minVolume" validate:"omitempty,gte=0"`
	MaxDaysToResolution int      `json:"maxDaysToResolution" validate:"gte=0,lte=3650"`
	ExcludeFutures      bool     `json:"excludeFutures"`
	LimitCount          int      `json:"limitCount" validate:"gte=0,lte=200"`
}

func (m marketsRequest) filters() (discovery.Filters, error) {
	f := discovery.Filters{
		EventType:           m.EventType,
		Location:            m.Location,
		MaxDaysToResolution: m.MaxDaysToResolution,
		ExcludeFutures:      m.ExcludeFutures,
		Limit:               m.LimitCount,
	}
	if m.Confidence != "" {
		c, ok := model.ParseConfidence(m.Confidence)
		if !ok {
			return f, fmt.Errorf("%w: confidence must be HIGH, MEDIUM or LOW", ErrValidation)
		}
		f.Confidence = c
	}
	if m.MinVolume != nil {
		f.MinVolume = decimal.NewFromFloat(*m.MinVolume)
	}
	return f, nil
}

// marketView is a ranked market as returned to clients.
type marketView struct {
	model.Market
	EdgeScore     float64           `json:"edgeScore"`
	EdgeFactors   []string          `json:"edgeFactors"`
	EdgeBreakdown scoring.Breakdown `json:"edgeBreakdown"`
	Confidence    model.Confidence  `json:"confidence"`
	IsFutures     bool              `json:"isFutures"`
}

// MarketsResponse is the JSON body returned from POST /api/markets.
type MarketsResponse struct {
	Success   bool         `json:"success"`
	Markets   []marketView `json:"markets"`
	Count     int          `json:"count"`
	Stale     bool         `json:"stale"`
	FetchedAt *time.Time   `json:"fetchedAt,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Markets handles POST /api/markets: ranked weather-sensitive markets.
func (s *Service) Markets(w http.ResponseWriter, r *http.Request) {
	var req marketsRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeFailure(w, r, err)
		return
	}
	f, err := req.filters()
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	res, err := s.catalog.Get(r.Context(), f.MinVolume)
	if err != nil && s.degrade && errors.Is(err, catalog.ErrUpstreamUnavailable) {
		slog.Warn("catalog unavailable, degrading to empty list", "err", err)
		writeJSON(w, http.StatusOK, MarketsResponse{
			Success: true,
			Markets: []marketView{},
			Message: unavailableMessage,
		})
		return
	}
	if err != nil {
		writeFailure(w, r, fmt.Errorf("load catalog: %w", err))
		return
	}

	ranked := s.ranker.Rank(res.Markets, f, s.now())
	views := make([]marketView, 0, len(ranked))
	for _, rk := range ranked {
		views = append(views, marketView{
			Market:        rk.Market,
			EdgeScore:     rk.Score.Total,
			EdgeFactors:   rk.Score.Factors,
			EdgeBreakdown: rk.Score,
			Confidence:    rk.Score.Confidence,
			IsFutures:     rk.Futures.IsFutures,
		})
	}

	fetchedAt := res.FetchedAt.UTC()
	resp := MarketsResponse{
		Success:   true,
		Markets:   views,
		Count:     len(views),
		Stale:     res.Stale,
		FetchedAt: &fetchedAt,
	}
	if len(views) == 0 {
		resp.Message = noMarketsMessage
	}

	slog.Info("markets ranked",
		"catalog", len(res.Markets),
		"returned", len(views),
		"stale", res.Stale,
		"event_type", f.EventType,
	)
	writeJSON(w, http.StatusOK, resp)
}
