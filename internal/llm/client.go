// Package llm is a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/thisyearnofear/weather-sub001/internal/metrics"
	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/resilience"
)

var (
	// ErrModelUnavailable covers timeouts, transport failures, 5xx and an
	// open breaker.
	ErrModelUnavailable = errors.New("llm: model unavailable")

	// ErrRateLimited is returned for 429 responses. It is never retried.
	ErrRateLimited = errors.New("llm: rate limited")
)

// DefaultBaseURL points at Venice's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.venice.ai/api/v1"

// Config configures the client. DeepModel falls back to Model.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	DeepModel    string
	BasicTimeout time.Duration
	DeepTimeout  time.Duration
	Backoff      resilience.Backoff
}

// ModeParams are the request parameters for one analysis mode.
type ModeParams struct {
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
	WebSearch   bool
}

// Params returns the parameters for mode. Unknown modes get basic.
func (c Config) Params(mode model.AnalysisMode) ModeParams {
	if mode == model.ModeDeep {
		m := c.DeepModel
		if m == "" {
			m = c.Model
		}
		return ModeParams{Model: m, Timeout: c.DeepTimeout, MaxTokens: 4000, Temperature: 0.4, WebSearch: true}
	}
	return ModeParams{Model: c.Model, Timeout: c.BasicTimeout, MaxTokens: 1200, Temperature: 0.3}
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the first choice of a response.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	TotalTokens  int
}

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float32           `json:"temperature"`
	Venice      *veniceParameters `json:"venice_parameters,omitempty"`
}

type veniceParameters struct {
	EnableWebSearch           string `json:"enable_web_search"`
	IncludeVeniceSystemPrompt bool   `json:"include_venice_system_prompt"`
	EnableWebCitations        bool   `json:"enable_web_citations,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client sends chat completions through a circuit breaker.
type Client struct {
	cfg  Config
	http *resilience.Client
}

// NewClient creates a client. Zero timeouts default to 30s basic, 90s deep.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BasicTimeout <= 0 {
		cfg.BasicTimeout = 30 * time.Second
	}
	if cfg.DeepTimeout <= 0 {
		cfg.DeepTimeout = 90 * time.Second
	}
	if cfg.Backoff == (resilience.Backoff{}) {
		cfg.Backoff = resilience.Backoff{MaxRetries: 1, InitialInterval: time.Second, MaxInterval: 2 * time.Second}
	}
	// The per-mode context deadline is the effective bound.
	return &Client{
		cfg:  cfg,
		http: resilience.NewClient("llm", cfg.DeepTimeout+5*time.Second, cfg.Backoff),
	}
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// Complete runs one chat completion under the mode's timeout.
func (c *Client) Complete(ctx context.Context, mode model.AnalysisMode, messages []Message) (*Completion, error) {
	p := c.cfg.Params(mode)

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	body := chatRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
	if p.WebSearch {
		body.Venice = &veniceParameters{EnableWebSearch: "auto", EnableWebCitations: true}
	} else {
		body.Venice = &veniceParameters{EnableWebSearch: "off"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		return req, nil
	})
	metrics.ModelLatency.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrModelUnavailable, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrModelUnavailable)
	}

	out := &Completion{
		Text:         cr.Choices[0].Message.Content,
		Model:        cr.Model,
		FinishReason: cr.Choices[0].FinishReason,
		TotalTokens:  cr.Usage.TotalTokens,
	}
	slog.Debug("model response received",
		"mode", mode,
		"model", out.Model,
		"tokens", out.TotalTokens,
		"finish_reason", out.FinishReason,
		"duration", time.Since(start))
	return out, nil
}

// classify maps transport errors onto the package sentinels, keeping the
// underlying error in the chain.
func classify(err error) error {
	if errors.Is(err, resilience.ErrRateLimited) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
}
