// Package polymarket fetches market listings from the Polymarket Gamma API
// and normalizes them into model.Market values.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thisyearnofear/weather-sub001/internal/model"
	"github.com/thisyearnofear/weather-sub001/internal/resilience"
)

const (
	DefaultBaseURL  = "https://gamma-api.polymarket.com"
	DefaultPageSize = 100
	DefaultMaxPages = 20
)

// Config configures the Gamma client.
type Config struct {
	BaseURL  string
	PageSize int
	MaxPages int
	Timeout  time.Duration
	Backoff  resilience.Backoff
}

// Client provides access to the Gamma markets listing.
type Client struct {
	cfg  Config
	http *resilience.Client
}

// NewClient creates a new Gamma client. Zero fields take defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: resilience.NewClient("polymarket", cfg.Timeout, cfg.Backoff),
	}
}

// FetchMarkets pages through active markets ordered by 24h volume and
// returns every market with Volume24h >= minVolume. Paging stops at the
// first short page, the first market under the floor, or MaxPages.
func (c *Client) FetchMarkets(ctx context.Context, minVolume decimal.Decimal) ([]model.Market, error) {
	seen := make(map[string]bool)
	out := make([]model.Market, 0, c.cfg.PageSize)

	for page := 0; page < c.cfg.MaxPages; page++ {
		raw, err := c.fetchPage(ctx, page*c.cfg.PageSize, minVolume)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		belowFloor := false
		for i := range raw {
			m, ok := normalize(&raw[i])
			if !ok {
				slog.Debug("skipping malformed market", "market_id", raw[i].ID)
				continue
			}
			if m.Volume24h.LessThan(minVolume) {
				belowFloor = true
				continue
			}
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}

		if len(raw) < c.cfg.PageSize || belowFloor {
			break
		}
	}

	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, offset int, minVolume decimal.Decimal) ([]gammaMarket, error) {
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	if minVolume.IsPositive() {
		// Lifetime volume is never below 24h volume, so this only prunes.
		q.Set("volume_num_min", minVolume.String())
	}
	endpoint := c.cfg.BaseURL + "/markets?" + q.Encode()

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var markets []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return markets, nil
}
