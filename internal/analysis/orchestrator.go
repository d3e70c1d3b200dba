// Package analysis turns a market and a weather snapshot into a structured
// weather-edge assessment.
//
// Futures markets are answered without a model call. Everything else is
// looked up by fingerprint, and on a miss the model is called once per
// fingerprint no matter how many callers are waiting. Model output is
// recovered through a fixed sequence of stages before decoding, and only
// successful results are cached.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thisyearnofear/weather-sub001/internal/futures"
	"github.com/thisyearnofear/weather-sub001/internal/llm"
	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/model"
)

// Sources recorded on results.
const (
	SourceFutures = "futures_classifier"
	SourceModel   = "model"
)

// Model completes chat prompts.
type Model interface {
	Complete(ctx context.Context, mode model.AnalysisMode, messages []llm.Message) (*llm.Completion, error)
}

// Orchestrator runs analyses.
type Orchestrator struct {
	model Model
	cache *Cache
	now   func() time.Time
	group singleflight.Group
}

// New creates an orchestrator. A nil now uses time.Now.
func New(m Model, cache *Cache, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{model: m, cache: cache, now: now}
}

// Fingerprint identifies equivalent requests: same market, same weather,
// same mode.
func Fingerprint(req model.AnalysisRequest) string {
	return fmt.Sprintf("%s:%s:%s", req.Market.ID, req.Weather.Hash(), normalizeMode(req.Mode))
}

// Analyze returns the assessment for req. A caller that gives up does not
// cancel the model call; its result is still cached for the next caller.
func (o *Orchestrator) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	req.Mode = normalizeMode(req.Mode)

	if fc := futures.Classify(&req.Market); req.IsFutures || fc.IsFutures {
		metrics.AnalysisOutcomes.WithLabelValues(string(req.Mode), "futures").Inc()
		slog.Info("futures market short-circuited", "market_id", req.Market.ID, "reason", fc.Reason)
		res := o.futuresResult(fc)
		return &res, nil
	}

	fp := Fingerprint(req)
	if res, ok := o.cache.Get(ctx, fp); ok {
		metrics.AnalysisOutcomes.WithLabelValues(string(req.Mode), "cache_hit").Inc()
		return res, nil
	}

	ch := o.group.DoChan(fp, func() (interface{}, error) {
		return o.run(context.WithoutCancel(ctx), fp, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*model.AnalysisResult)
		res.KeyFactors = append([]string{}, res.KeyFactors...)
		return &res, nil
	}
}

// run is the leader's path: re-check the cache, call the model, recover,
// write through.
func (o *Orchestrator) run(ctx context.Context, fp string, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	mode := string(req.Mode)

	// A leader that just finished may have filled the cache.
	if res, ok := o.cache.Get(ctx, fp); ok {
		metrics.AnalysisOutcomes.WithLabelValues(mode, "cache_hit").Inc()
		return res, nil
	}

	completion, err := o.model.Complete(ctx, req.Mode, buildMessages(req))
	if err != nil {
		metrics.AnalysisOutcomes.WithLabelValues(mode, "model_unavailable").Inc()
		slog.Error("model call failed", "market_id", req.Market.ID, "mode", mode, "err", err)
		return nil, err
	}

	d, err := recoverResponse(completion.Text)
	if err != nil {
		metrics.AnalysisOutcomes.WithLabelValues(mode, "decode_failure").Inc()
		var raw string
		var de *DecodeError
		if errors.As(err, &de) {
			raw = de.Raw
		}
		slog.Warn("model response not recoverable", "market_id", req.Market.ID, "mode", mode, "err", err, "raw", raw)
		return nil, err
	}

	res := model.AnalysisResult{
		Assessment: model.Assessment{
			WeatherImpact:  d.WeatherImpact,
			OddsEfficiency: d.OddsEfficiency,
			Confidence:     d.Confidence,
		},
		Reasoning:         d.Analysis,
		KeyFactors:        d.KeyFactors,
		RecommendedAction: d.RecommendedAction,
		Source:            SourceModel,
		Timestamp:         o.now().UTC(),
	}
	if err := o.cache.Put(ctx, fp, res); err != nil {
		slog.Warn("analysis cache write failed", "fingerprint", fp, "err", err)
	}

	metrics.AnalysisOutcomes.WithLabelValues(mode, "success").Inc()
	slog.Info("analysis completed",
		"market_id", req.Market.ID,
		"mode", mode,
		"weather_impact", res.Assessment.WeatherImpact,
		"confidence", res.Assessment.Confidence,
		"tokens", completion.TotalTokens)
	return &res, nil
}

func (o *Orchestrator) futuresResult(fc futures.Classification) model.AnalysisResult {
	factors := []string{
		"Season-long or championship outcome",
		"Weather on any single day averages out over many games",
	}
	if fc.IsFutures && fc.Reason != "" {
		factors = append(factors, fc.Reason)
	}
	return model.AnalysisResult{
		Assessment: model.Assessment{
			WeatherImpact:  "N/A",
			OddsEfficiency: "N/A",
			Confidence:     string(model.ConfidenceLow),
		},
		Reasoning:         "This is a futures market. Its outcome depends on a whole season or tournament, so a single weather forecast cannot be tied to it.",
		KeyFactors:        factors,
		RecommendedAction: "Skip: weather analysis does not apply to futures markets",
		Source:            SourceFutures,
		Timestamp:         o.now().UTC(),
	}
}

func normalizeMode(m model.AnalysisMode) model.AnalysisMode {
	if m == model.ModeDeep {
		return model.ModeDeep
	}
	return model.ModeBasic
}
