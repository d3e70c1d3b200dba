package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/analysis"
	"github.com/thisyearnofear/weather-sub001/internal/api"
	"github.com/thisyearnofear/weather-sub001/internal/catalog"
	"github.com/thisyearnofear/weather-sub001/internal/discovery"
	"github.com/thisyearnofear/weather-sub001/internal/llm"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/quota"
	"github.com/thisyearnofear/weather-sub001/internal/scoring"
	"github.com/thisyearnofear/weather-sub001/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var testNow = time.Date(2026, 2, 1, 18, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	markets []model.Market
	err     error
}

func (f *fakeFetcher) FetchMarkets(ctx context.Context, minVolume decimal.Decimal) ([]model.Market, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

type fakeAnalyzer struct {
	calls int32
	res   *model.AnalysisResult
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.AnalysisResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	return &res, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Signal
	done chan struct{}
}

func (n *recordingNotifier) NotifySignal(ctx context.Context, sig model.Signal) error {
	n.mu.Lock()
	n.sent = append(n.sent, sig)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func testMarkets() []model.Market {
	sb := time.Date(2026, 2, 8, 23, 30, 0, 0, time.UTC)
	return []model.Market{
		{
			ID:         "sb-rain",
			Title:      "Will it rain during the Super Bowl?",
			Tags:       []string{"NFL", "Weather"},
			EventType:  "nfl",
			Volume24h:  d(300000),
			Liquidity:  d(50000),
			Odds:       &model.Odds{Yes: 0.12, No: 0.88},
			ResolvesAt: &sb,
		},
		{
			ID:        "btc-100k",
			Title:     "Will Bitcoin hit $100k by March?",
			Tags:      []string{"Crypto"},
			EventType: "crypto",
			Volume24h: d(900000),
			Liquidity: d(400000),
		},
		{
			ID:        "bengals",
			Title:     "Will the Cincinnati Bengals win Super Bowl 2026?",
			Tags:      []string{"NFL"},
			EventType: "nfl",
			Volume24h: d(120000),
			Liquidity: d(80000),
		},
	}
}

type testEnv struct {
	router   chi.Router
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	signals  *store.MemorySignalStore
	notifier *recordingNotifier
}

type envOption func(*api.Deps)

// newTestEnv creates a Service over in-memory stores and a chi router.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		fetcher: &fakeFetcher{markets: testMarkets()},
		analyzer: &fakeAnalyzer{res: &model.AnalysisResult{
			Assessment:        model.Assessment{WeatherImpact: "LOW", OddsEfficiency: "EFFICIENT", Confidence: "HIGH"},
			Reasoning:         "Calm conditions are priced in.",
			KeyFactors:        []string{"10% rain"},
			RecommendedAction: "Hold",
			Source:            analysis.SourceModel,
			Timestamp:         testNow,
		}},
		signals:  store.NewMemorySignalStore(),
		notifier: &recordingNotifier{done: make(chan struct{}, 8)},
	}

	cache := catalog.New(env.fetcher, store.NewMemoryCatalogStore(), catalog.Options{
		VolumeFloor: d(50000),
		Now:         func() time.Time { return testNow },
	})
	deps := api.Deps{
		Catalog:  cache,
		Ranker:   discovery.NewRanker(scoring.NewScorer(scoring.DefaultThresholds())),
		Analyzer: env.analyzer,
		Signals:  env.signals,
		Notifier: env.notifier,
		Now:      func() time.Time { return testNow },
	}
	for _, o := range opts {
		o(&deps)
	}
	svc := api.NewService(deps)

	r := chi.NewRouter()
	r.Get("/health", svc.Health)
	svc.Routes(r)
	env.router = r
	return env
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", w.Body.String(), err)
	}
	return out
}

// --- Discovery ---

func TestMarkets_RanksCatalog(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/markets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Markets []struct {
			ID          string   `json:"id"`
			EdgeScore   float64  `json:"edgeScore"`
			EdgeFactors []string `json:"edgeFactors"`
			Confidence  string   `json:"confidence"`
			IsFutures   bool     `json:"isFutures"`
		} `json:"markets"`
		Stale     bool       `json:"stale"`
		FetchedAt *time.Time `json:"fetchedAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Stale || resp.FetchedAt == nil {
		t.Errorf("unexpected envelope: %s", w.Body.String())
	}
	if len(resp.Markets) != 3 {
		t.Fatalf("expected 3 markets, got %d", len(resp.Markets))
	}
	if resp.Markets[0].ID != "sb-rain" {
		t.Errorf("expected the rain market first, got %s", resp.Markets[0].ID)
	}
	for i := 1; i < len(resp.Markets); i++ {
		if resp.Markets[i].EdgeScore > resp.Markets[i-1].EdgeScore {
			t.Errorf("markets not sorted by edge score: %v", resp.Markets)
		}
	}
	for _, m := range resp.Markets {
		if m.ID == "bengals" && !m.IsFutures {
			t.Error("bengals market should be flagged as futures")
		}
		if m.Confidence == "" {
			t.Errorf("market %s missing confidence", m.ID)
		}
	}
}

func TestMarkets_FiltersAndLegacyPath(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/markets", map[string]any{
		"eventType":      "nfl",
		"excludeFutures": true,
		"minVolume":      200000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	markets := resp["markets"].([]any)
	if len(markets) != 1 || markets[0].(map[string]any)["id"] != "sb-rain" {
		t.Errorf("expected only sb-rain, got %v", markets)
	}
}

func TestMarkets_EmptyResultHasMessage(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.router, "POST", "/api/markets", map[string]any{"eventType": "curling"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if len(resp["markets"].([]any)) != 0 || resp["message"] == nil {
		t.Errorf("expected empty list with message, got %v", resp)
	}
}

func TestMarkets_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []any{
		map[string]any{"limitCount": 500},
		map[string]any{"confidence": "EXTREME"},
		map[string]any{"minVolume": -1},
		`{"limitCount": "ten"}`,
	} {
		w := do(t, env.router, "POST", "/api/markets", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, w.Code)
			continue
		}
		if code := decode(t, w)["code"]; code != api.CodeValidation {
			t.Errorf("body %v: expected validation code, got %v", body, code)
		}
	}
}

func TestMarkets_ConfidenceAliases(t *testing.T) {
	env := newTestEnv(t)

	for _, tier := range []string{"Medium", "moderate", "high", "LOW"} {
		w := do(t, env.router, "POST", "/api/markets", map[string]any{"confidence": tier})
		if w.Code != http.StatusOK {
			t.Errorf("confidence %q: expected 200, got %d: %s", tier, w.Code, w.Body.String())
		}
	}
}

func TestMarkets_UpstreamUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("gamma down")

	w := do(t, env.router, "POST", "/api/markets", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if code := decode(t, w)["code"]; code != api.CodeUpstreamUnavailable {
		t.Errorf("expected upstream code, got %v", code)
	}
}

func TestMarkets_DegradeEmpty(t *testing.T) {
	env := newTestEnv(t, func(d *api.Deps) { d.DegradeEmpty = true })
	env.fetcher.err = errors.New("gamma down")

	w := do(t, env.router, "POST", "/api/markets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode(t, w)
	if len(resp["markets"].([]any)) != 0 || resp["message"] == nil {
		t.Errorf("expected empty degraded response, got %v", resp)
	}
}

// --- Analysis ---

func rainAnalyzeBody(mode string) map[string]any {
	return map[string]any{
		"marketID":    "sb-rain",
		"title":       "Will it rain during the Super Bowl?",
		"eventType":   "NFL",
		"location":    "Santa Clara, CA",
		"eventDate":   "2026-02-08",
		"currentOdds": map[string]any{"yes": 0.12, "no": 0.88},
		"weatherData": map[string]any{"precip_chance": 10, "wind_mph": 4, "temp_f": 61},
		"mode":        mode,
	}
}

func TestAnalyze_Success(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/analyze", "/analyze"} {
		w := do(t, env.router, "POST", path, rainAnalyzeBody("basic"))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
		resp := decode(t, w)
		if resp["success"] != true {
			t.Errorf("%s: expected success, got %v", path, resp)
		}
		assessment := resp["assessment"].(map[string]any)
		if assessment["weather_impact"] != "LOW" {
			t.Errorf("%s: unexpected assessment %v", path, assessment)
		}
		for _, key := range []string{"reasoning", "key_factors", "recommended_action", "cached", "source", "timestamp"} {
			if _, ok := resp[key]; !ok {
				t.Errorf("%s: response missing %q", path, key)
			}
		}
	}
}

func TestAnalyze_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing title", func(b map[string]any) { delete(b, "title") }},
		{"missing market", func(b map[string]any) { delete(b, "marketID") }},
		{"bad mode", func(b map[string]any) { b["mode"] = "turbo" }},
		{"odds out of range", func(b map[string]any) { b["currentOdds"] = map[string]any{"yes": 1.5, "no": 0} }},
		{"precip out of range", func(b map[string]any) { b["weatherData"] = map[string]any{"precip_chance": 140} }},
		{"bad date", func(b map[string]any) { b["eventDate"] = "next sunday" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := rainAnalyzeBody("basic")
			tt.mutate(body)
			w := do(t, env.router, "POST", "/api/analyze", body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if env.analyzer.calls != 0 {
		t.Errorf("invalid requests must not reach the analyzer, got %d calls", env.analyzer.calls)
	}
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		disclaimer bool
	}{
		{"model unavailable", fmt.Errorf("%w: timeout", llm.ErrModelUnavailable), http.StatusServiceUnavailable, api.CodeModelUnavailable, true},
		{"decode failure", &analysis.DecodeError{Raw: "nope", Err: errors.New("no object")}, http.StatusBadGateway, api.CodeDecodeFailure, true},
		{"rate limited", fmt.Errorf("%w: 429", llm.ErrRateLimited), http.StatusTooManyRequests, api.CodeRateLimited, false},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.analyzer.err = tt.err

			w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("basic"))
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			resp := decode(t, w)
			if resp["code"] != tt.code || resp["success"] != false {
				t.Errorf("unexpected body: %v", resp)
			}
			_, hasAssessment := resp["assessment"]
			if hasAssessment != tt.disclaimer {
				t.Errorf("disclaimer presence = %v, want %v", hasAssessment, tt.disclaimer)
			}
			if tt.disclaimer {
				a := resp["assessment"].(map[string]any)
				if a["weather_impact"] != analysis.DefaultImpact {
					t.Errorf("expected UNKNOWN impact in disclaimer, got %v", a)
				}
			}
		})
	}
}

func TestAnalyze_DeepQuota(t *testing.T) {
	limiter := quota.NewLimiter(1, 0, time.Hour)
	env := newTestEnv(t, func(d *api.Deps) { d.Quota = limiter })

	if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep")); w.Code != http.StatusOK {
		t.Fatalf("first deep request: expected 200, got %d", w.Code)
	}
	w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second deep request: expected 429, got %d", w.Code)
	}
	if code := decode(t, w)["code"]; code != api.CodeRateLimited {
		t.Errorf("expected rate_limited code, got %v", code)
	}

	if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("basic")); w.Code != http.StatusOK {
		t.Errorf("basic requests are not subject to the deep quota, got %d", w.Code)
	}
	if env.analyzer.calls != 2 {
		t.Errorf("expected 2 analyzer calls, got %d", env.analyzer.calls)
	}
}

func TestAnalyze_DeepQuotaSkipsNonModelResults(t *testing.T) {
	limiter := quota.NewLimiter(1, 0, time.Hour)
	env := newTestEnv(t, func(d *api.Deps) { d.Quota = limiter })

	env.analyzer.res.Source = analysis.SourceFutures
	for i := 0; i < 3; i++ {
		if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep")); w.Code != http.StatusOK {
			t.Fatalf("futures request %d: expected 200, got %d", i, w.Code)
		}
	}

	env.analyzer.res.Source = analysis.SourceModel
	env.analyzer.res.Cached = true
	for i := 0; i < 3; i++ {
		if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep")); w.Code != http.StatusOK {
			t.Fatalf("cached request %d: expected 200, got %d", i, w.Code)
		}
	}

	env.analyzer.res.Cached = false
	if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep")); w.Code != http.StatusOK {
		t.Fatalf("first model request: expected 200, got %d", w.Code)
	}
	if w := do(t, env.router, "POST", "/api/analyze", rainAnalyzeBody("deep")); w.Code != http.StatusTooManyRequests {
		t.Errorf("second model request: expected 429, got %d", w.Code)
	}
}

type countingModel struct{ calls int32 }

func (m *countingModel) Complete(ctx context.Context, mode model.AnalysisMode, msgs []llm.Message) (*llm.Completion, error) {
	atomic.AddInt32(&m.calls, 1)
	return &llm.Completion{Text: `{"weather_impact":"HIGH"}`}, nil
}

func TestAnalyze_FuturesWithOrchestrator(t *testing.T) {
	m := &countingModel{}
	now := func() time.Time { return testNow }
	orch := analysis.New(m, analysis.NewCache(store.NewMemoryAnalysisStore(0), time.Hour, now), now)
	env := newTestEnv(t, func(d *api.Deps) { d.Analyzer = orch })

	w := do(t, env.router, "POST", "/api/analyze", map[string]any{
		"marketID":  "bengals",
		"title":     "Will the Cincinnati Bengals win Super Bowl 2026?",
		"eventType": "NFL",
		"mode":      "deep",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["assessment"].(map[string]any)["weather_impact"] != "N/A" {
		t.Errorf("expected N/A impact, got %v", resp["assessment"])
	}
	if m.calls != 0 {
		t.Errorf("futures analysis must not call the model, got %d", m.calls)
	}
}

// --- Signals ---

func createSignal(t *testing.T, router chi.Router, confidence string) map[string]any {
	t.Helper()
	w := do(t, router, "POST", "/api/signals", map[string]any{
		"marketID":       "sb-rain",
		"title":          "Will it rain during the Super Bowl?",
		"eventType":      "nfl",
		"confidence":     confidence,
		"edgeScore":      8.4,
		"weatherImpact":  "HIGH",
		"oddsEfficiency": "INEFFICIENT",
		"reasoning":      "Front arriving at kickoff.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)
}

func TestSignals_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	sig := createSignal(t, env.router, "high")
	id, _ := sig["id"].(string)
	if id == "" || sig["status"] != "open" || sig["confidence"] != "HIGH" {
		t.Fatalf("unexpected signal: %v", sig)
	}

	select {
	case <-env.notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was not called")
	}

	w := do(t, env.router, "GET", "/api/signals/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	w = do(t, env.router, "PATCH", "/api/signals/"+id, map[string]any{"status": "published", "txHash": "0xabc"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	updated := decode(t, w)
	if updated["status"] != "published" || updated["tx_hash"] != "0xabc" {
		t.Errorf("unexpected update: %v", updated)
	}

	// txHash alone keeps the status.
	w = do(t, env.router, "PATCH", "/api/signals/"+id, map[string]any{"txHash": "0xdef"})
	if got := decode(t, w); got["status"] != "published" || got["tx_hash"] != "0xdef" {
		t.Errorf("unexpected tx-only update: %v", got)
	}

	w = do(t, env.router, "GET", "/api/signals?status=published&marketID=sb-rain", nil)
	list := decode(t, w)
	if list["count"] != float64(1) {
		t.Errorf("expected 1 published signal, got %v", list)
	}
}

func TestSignals_Errors(t *testing.T) {
	env := newTestEnv(t)

	if w := do(t, env.router, "PATCH", "/api/signals/missing", map[string]any{"status": "dismissed"}); w.Code != http.StatusNotFound {
		t.Errorf("patch unknown: expected 404, got %d", w.Code)
	}
	if w := do(t, env.router, "GET", "/api/signals/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get unknown: expected 404, got %d", w.Code)
	}
	if w := do(t, env.router, "GET", "/api/signals?status=archived", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: expected 400, got %d", w.Code)
	}
	if w := do(t, env.router, "GET", "/api/signals?limit=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
	if w := do(t, env.router, "POST", "/api/signals", map[string]any{"marketID": "x", "title": "t", "confidence": "sure"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad confidence: expected 400, got %d", w.Code)
	}

	sig := createSignal(t, env.router, "LOW")
	<-env.notifier.done
	if w := do(t, env.router, "PATCH", "/api/signals/"+sig["id"].(string), map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty patch: expected 400, got %d", w.Code)
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := decode(t, do(t, env.router, "GET", "/health", nil))
	if resp["status"] != "warming" {
		t.Errorf("expected warming before first fetch, got %v", resp["status"])
	}

	do(t, env.router, "POST", "/api/markets", nil)

	resp = decode(t, do(t, env.router, "GET", "/health", nil))
	cat := resp["catalog"].(map[string]any)
	if resp["status"] != "ok" || cat["markets"] != float64(3) || cat["fresh"] != true {
		t.Errorf("unexpected health: %v", resp)
	}
}
