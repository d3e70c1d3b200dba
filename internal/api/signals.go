package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/model"
)

const (
	defaultSignalLimit = 50
	maxSignalLimit     = 200
	notifyTimeout      = 30 * time.Second
)

// CreateSignalRequest is the JSON body for POST /api/signals.
type CreateSignalRequest struct {
	MarketID       string  `json:"marketID" validate:"required,max=128"`
	Title          string  `json:"title" validate:"required,max=500"`
	EventType      string  `json:"eventType" validate:"max=64"`
	Confidence     string  `json:"confidence" validate:"required"`
	EdgeScore      float64 `json:"edgeScore" validate:"gte=0,lte=11"`
	WeatherImpact  string  `json:"weatherImpact" validate:"max=32"`
	OddsEfficiency string  `json:"oddsEfficiency" validate:"max=32"`
	Reasoning      string  `json:"reasoning" validate:"max=10000"`
}

// UpdateSignalRequest is the JSON body for PATCH /api/signals/{signalID}.
type UpdateSignalRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=open published dismissed"`
	TxHash string `json:"txHash" validate:"omitempty,max=128"`
}

// CreateSignal handles POST /api/signals.
func (s *Service) CreateSignal(w http.ResponseWriter, r *http.Request) {
	var req CreateSignalRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeFailure(w, r, err)
		return
	}
	conf, ok := model.ParseConfidence(req.Confidence)
	if !ok {
		writeFailure(w, r, fmt.Errorf("%w: confidence must be HIGH, MEDIUM or LOW", ErrValidation))
		return
	}

	now := s.now().UTC()
	sig := &model.Signal{
		ID:             uuid.New().String(),
		MarketID:       req.MarketID,
		Title:          req.Title,
		EventType:      req.EventType,
		Confidence:     conf,
		EdgeScore:      req.EdgeScore,
		WeatherImpact:  req.WeatherImpact,
		OddsEfficiency: req.OddsEfficiency,
		Reasoning:      req.Reasoning,
		Status:         model.SignalOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.signals.CreateSignal(r.Context(), sig); err != nil {
		writeFailure(w, r, fmt.Errorf("create signal: %w", err))
		return
	}
	metrics.SignalsCreated.WithLabelValues(string(conf)).Inc()

	slog.Info("signal created",
		"id", sig.ID,
		"market_id", sig.MarketID,
		"confidence", sig.Confidence,
		"edge_score", sig.EdgeScore,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:           EventSignalCreated,
			MarketID:       sig.MarketID,
			SignalID:       sig.ID,
			Title:          sig.Title,
			WeatherImpact:  sig.WeatherImpact,
			OddsEfficiency: sig.OddsEfficiency,
			Confidence:     string(sig.Confidence),
			EdgeScore:      sig.EdgeScore,
			Timestamp:      sig.CreatedAt,
		})
	}

	// Notification runs after the response and outlives the request.
	go func(sig model.Signal) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifySignal(ctx, sig); err != nil {
			slog.Warn("signal notification failed", "id", sig.ID, "err", err)
		}
	}(*sig)

	writeJSON(w, http.StatusCreated, sig)
}

// GetSignal handles GET /api/signals/{signalID}.
func (s *Service) GetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := s.signals.GetSignal(r.Context(), chi.URLParam(r, "signalID"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// ListSignals handles GET /api/signals?status=&marketID=&limit=
func (s *Service) ListSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.SignalFilter{
		Status:   model.SignalStatus(q.Get("status")),
		MarketID: q.Get("marketID"),
		Limit:    defaultSignalLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		writeFailure(w, r, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSignalLimit {
			writeFailure(w, r, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, maxSignalLimit))
			return
		}
		f.Limit = n
	}

	signals, err := s.signals.ListSignals(r.Context(), f)
	if err != nil {
		writeFailure(w, r, fmt.Errorf("list signals: %w", err))
		return
	}
	if signals == nil {
		signals = []model.Signal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"signals": signals,
		"count":   len(signals),
	})
}

// UpdateSignal handles PATCH /api/signals/{signalID}: status and/or the
// transaction hash of an on-chain publication.
func (s *Service) UpdateSignal(w http.ResponseWriter, r *http.Request) {
	var req UpdateSignalRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeFailure(w, r, err)
		return
	}
	if req.Status == "" && req.TxHash == "" {
		writeFailure(w, r, fmt.Errorf("%w: status or txHash is required", ErrValidation))
		return
	}

	id := chi.URLParam(r, "signalID")
	status := model.SignalStatus(req.Status)
	if status == "" {
		cur, err := s.signals.GetSignal(r.Context(), id)
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		status = cur.Status
	}

	sig, err := s.signals.UpdateSignal(r.Context(), id, status, req.TxHash)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	slog.Info("signal updated", "id", sig.ID, "status", sig.Status, "tx_hash", sig.TxHash)
	writeJSON(w, http.StatusOK, sig)
}
