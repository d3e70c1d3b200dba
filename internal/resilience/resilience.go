// Package resilience wraps outbound HTTP calls with retries, exponential
// backoff and a circuit breaker. Rate-limit responses are never retried.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

var (
	ErrRateLimited      = errors.New("resilience: rate limited")
	ErrServerError      = errors.New("resilience: server error")
	ErrUnexpectedStatus = errors.New("resilience: unexpected status code")
	ErrCircuitOpen      = errors.New("resilience: circuit breaker open")
	ErrInvalidConfig    = errors.New("resilience: invalid backoff configuration")
)

// StatusError is returned for non-2xx responses. It unwraps to one of the
// status sentinels above.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code >= 500:
		return ErrServerError
	default:
		return ErrUnexpectedStatus
	}
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Backoff controls exponential backoff between attempts.
type Backoff struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff is used when a zero Backoff is configured.
func DefaultBackoff() Backoff {
	return Backoff{MaxRetries: 2, InitialInterval: 500 * time.Millisecond, MaxInterval: 4 * time.Second}
}

// NewBreaker creates a breaker that opens after consecutive transport and
// 5xx failures. Client errors (4xx, including 429) do not count against it.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Code < 500)
		},
	})
}

// Client executes requests through a breaker with retries.
type Client struct {
	HTTP    *http.Client
	Backoff Backoff
	Breaker *gobreaker.CircuitBreaker
}

// NewClient builds a Client with its own breaker. A zero backoff uses
// DefaultBackoff.
func NewClient(name string, timeout time.Duration, backoff Backoff) *Client {
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff()
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		Backoff: backoff,
		Breaker: NewBreaker(name),
	}
}

// Do executes the request built by build. The caller owns the returned body.
// build is invoked once per attempt so request bodies can be replayed.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if c.Backoff.MaxRetries < 0 || c.Backoff.InitialInterval <= 0 {
		return nil, ErrInvalidConfig
	}

	var attempt int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.Breaker.Execute(func() (interface{}, error) {
			resp, err := c.HTTP.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				resp.Body.Close()
				return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
			}
			return resp, nil
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if !retryable(err) || attempt >= c.Backoff.MaxRetries {
			return nil, err
		}

		delay := c.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.Backoff.MaxInterval > 0 && delay > c.Backoff.MaxInterval {
			delay = c.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}
