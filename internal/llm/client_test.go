package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/resilience"
)

func testClient(url string) *Client {
	return NewClient(Config{
		BaseURL:      url,
		APIKey:       "test-key",
		Model:        "basic-model",
		DeepModel:    "deep-model",
		BasicTimeout: time.Second,
		DeepTimeout:  2 * time.Second,
		Backoff:      resilience.Backoff{MaxRetries: 1, InitialInterval: time.Millisecond},
	})
}

func TestComplete_SendsModeParameters(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"model":"deep-model","choices":[{"message":{"role":"assistant","content":"{\"confidence\":\"HIGH\"}"},"finish_reason":"stop"}],"usage":{"total_tokens":42}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	out, err := c.Complete(context.Background(), model.ModeDeep, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Text != `{"confidence":"HIGH"}` || out.TotalTokens != 42 {
		t.Errorf("unexpected completion: %+v", out)
	}
	if got.Model != "deep-model" || got.MaxTokens != 4000 {
		t.Errorf("expected deep parameters, got model=%s max_tokens=%d", got.Model, got.MaxTokens)
	}
	if got.Venice == nil || got.Venice.EnableWebSearch == "off" {
		t.Errorf("expected web search enabled for deep mode, got %+v", got.Venice)
	}
}

func TestParams_BasicHasNoSearch(t *testing.T) {
	cfg := testClient("http://unused").Config()
	basic, deep := cfg.Params(model.ModeBasic), cfg.Params(model.ModeDeep)

	if basic.WebSearch {
		t.Error("basic mode must not enable web search")
	}
	if basic.Timeout >= deep.Timeout {
		t.Errorf("expected basic timeout < deep timeout, got %v vs %v", basic.Timeout, deep.Timeout)
	}
	if basic.MaxTokens >= deep.MaxTokens {
		t.Errorf("expected basic max tokens < deep, got %d vs %d", basic.MaxTokens, deep.MaxTokens)
	}
}

func TestComplete_RateLimitedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), model.ModeBasic, nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if errors.Is(err, ErrModelUnavailable) {
		t.Error("rate limit must not be reported as unavailable")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestComplete_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), model.ModeBasic, nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	var se *resilience.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Errorf("expected StatusError 502 in chain, got %v", err)
	}
}

func TestComplete_TimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, BasicTimeout: 50 * time.Millisecond,
		Backoff: resilience.Backoff{MaxRetries: 0, InitialInterval: time.Millisecond}})

	_, err := c.Complete(context.Background(), model.ModeBasic, nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable on timeout, got %v", err)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Complete(context.Background(), model.ModeBasic, nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}
