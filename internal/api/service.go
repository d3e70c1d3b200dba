// Package api provides the HTTP handlers for market discovery, weather-edge
// analysis and the signals feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/analysis"
	"github.com/thisyearnofear/weather-sub001/internal/catalog"
	"github.com/thisyearnofear/weather-sub001/internal/discovery"
	"github.com/thisyearnofear/weather-sub001/internal/llm"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/notify"
	"github.com/thisyearnofear/weather-sub001/internal/quota"
	"github.com/thisyearnofear/weather-sub001/internal/store"
)

// ErrValidation marks malformed request input.
var ErrValidation = errors.New("api: validation failed")

// Error codes returned in JSON error bodies.
const (
	CodeValidation          = "validation_error"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeModelUnavailable    = "model_unavailable"
	CodeDecodeFailure       = "decode_failure"
	CodeRateLimited         = "rate_limited"
	CodeNotFound            = "not_found"
	CodeTimeout             = "timeout"
	CodeInternal            = "internal_error"
)

var validate = validator.New()

// Catalog serves the cached market universe.
type Catalog interface {
	Get(ctx context.Context, minVolume decimal.Decimal) (catalog.Result, error)
	Status(ctx context.Context) (fetchedAt time.Time, markets int, fresh bool, ok bool)
	TTL() time.Duration
}

// Analyzer produces weather-edge assessments.
type Analyzer interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error)
}

// Deps are the collaborators of a Service. Quota, Notifier, Hub and Now are
// optional.
type Deps struct {
	Catalog  Catalog
	Ranker   *discovery.Ranker
	Analyzer Analyzer
	Signals  store.SignalStore
	Quota    *quota.Limiter
	Notifier notify.Notifier
	Hub      *Hub
	Now      func() time.Time

	// DegradeEmpty answers discovery with an empty list instead of 502
	// when no catalog snapshot exists and the upstream is down.
	DegradeEmpty bool
}

// Service handles discovery, analysis and signal requests.
type Service struct {
	catalog  Catalog
	ranker   *discovery.Ranker
	analyzer Analyzer
	signals  store.SignalStore
	quota    *quota.Limiter
	notifier notify.Notifier
	hub      *Hub
	now      func() time.Time
	degrade  bool
}

// NewService creates a new API service.
func NewService(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		catalog:  d.Catalog,
		ranker:   d.Ranker,
		analyzer: d.Analyzer,
		signals:  d.Signals,
		quota:    d.Quota,
		notifier: d.Notifier,
		hub:      d.Hub,
		now:      d.Now,
		degrade:  d.DegradeEmpty,
	}
}

// Routes mounts the API on r. Discovery and analysis are also served at the
// bare paths older clients use.
func (s *Service) Routes(r chi.Router) {
	r.Post("/markets", s.Markets)
	r.Post("/analyze", s.Analyze)

	r.Route("/api", func(r chi.Router) {
		r.Post("/markets", s.Markets)
		r.Post("/analyze", s.Analyze)

		r.Get("/signals", s.ListSignals)
		r.Post("/signals", s.CreateSignal)
		r.Get("/signals/{signalID}", s.GetSignal)
		r.Patch("/signals/{signalID}", s.UpdateSignal)

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})
}

// Health handles GET /health and reports catalog freshness.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	cat := map[string]any{"ttl": s.catalog.TTL().String()}

	fetchedAt, n, fresh, ok := s.catalog.Status(r.Context())
	if ok {
		cat["fetchedAt"] = fetchedAt.UTC()
		cat["markets"] = n
		cat["fresh"] = fresh
		if !fresh {
			status = "degraded"
		}
	} else {
		cat["fresh"] = false
		status = "warming"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": "weather-edge",
		"catalog": cat,
	})
}

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, catalog.ErrUpstreamUnavailable):
		return http.StatusBadGateway, CodeUpstreamUnavailable
	case errors.Is(err, analysis.ErrDecodeFailure):
		return http.StatusBadGateway, CodeDecodeFailure
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, llm.ErrModelUnavailable):
		return http.StatusServiceUnavailable, CodeModelUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, CodeTimeout
	}
	return http.StatusInternalServerError, CodeInternal
}

// publicMessage is the user-facing text for an error. Validation errors
// carry their own detail; everything else is generic.
func publicMessage(err error, code string) string {
	switch code {
	case CodeValidation:
		return err.Error()
	case CodeNotFound:
		return "not found"
	case CodeUpstreamUnavailable:
		return "market data is temporarily unavailable"
	case CodeModelUnavailable:
		return "analysis temporarily unavailable"
	case CodeDecodeFailure:
		return "the analysis model returned a response that could not be read"
	case CodeRateLimited:
		return "too many requests, try again later"
	case CodeTimeout:
		return "request timed out"
	}
	return "internal error"
}

// decodeBody decodes a JSON body into dst and validates it. An empty body
// is allowed when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", ErrValidation, err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// clientKey identifies the caller for quota purposes. RealIP has already
// replaced RemoteAddr when the request came through a proxy.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int, code string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// writeFailure maps err to a status and writes it, logging server-side
// failures.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, publicMessage(err, code), status, code)
}
