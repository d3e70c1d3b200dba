// Package quota limits how often a client may request deep analyses.
//
// Deep analyses are slow and expensive. A single client is held to a
// per-window count, and clients on the same network are also held to an
// aggregate count so one host cannot rotate addresses to dodge the limit.
// Networks are /24 for IPv4 and /64 for IPv6.
package quota

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"
)

var (
	// ErrQuotaExceeded is the umbrella error for any rejected request.
	ErrQuotaExceeded = errors.New("quota: exceeded")

	// ErrClientQuotaExceeded is returned when a single client is over its
	// per-window limit.
	ErrClientQuotaExceeded = fmt.Errorf("%w: per-client limit", ErrQuotaExceeded)

	// ErrNetworkQuotaExceeded is returned when the client's network as a
	// whole is over its limit.
	ErrNetworkQuotaExceeded = fmt.Errorf("%w: per-network limit", ErrQuotaExceeded)
)

// Limiter is a sliding-window counter keyed by client address.
type Limiter struct {
	// MaxPerClient is the number of requests one client may make per Window.
	// Zero disables the check.
	MaxPerClient int

	// MaxPerNetwork is the aggregate for all clients sharing a network
	// prefix. Zero disables the check.
	MaxPerNetwork int

	// Window is the sliding window length.
	Window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewLimiter creates a limiter with the given per-client and per-network
// limits.
func NewLimiter(maxPerClient, maxPerNetwork int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		MaxPerClient:  maxPerClient,
		MaxPerNetwork: maxPerNetwork,
		Window:        window,
		hits:          make(map[string][]time.Time),
		now:           time.Now,
	}
}

// Allow records a request from client if it is within limits, or returns an
// error wrapping ErrQuotaExceeded without recording it.
func (l *Limiter) Allow(client string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)

	// 1. Per-client limit.
	own := prune(l.hits[client], cutoff)
	l.hits[client] = own
	if l.MaxPerClient > 0 && len(own)+1 > l.MaxPerClient {
		return ErrClientQuotaExceeded
	}

	// 2. Aggregate across the client's network.
	if l.MaxPerNetwork > 0 {
		target := network(client)
		total := len(own) + 1
		for other, ts := range l.hits {
			if other == client {
				continue
			}
			ts = prune(ts, cutoff)
			if len(ts) == 0 {
				delete(l.hits, other)
				continue
			}
			l.hits[other] = ts
			if network(other) == target {
				total += len(ts)
			}
		}
		if total > l.MaxPerNetwork {
			return ErrNetworkQuotaExceeded
		}
	}

	l.hits[client] = append(own, now)
	return nil
}

// Refund removes the most recent request recorded for client, for requests
// that turned out not to need the expensive path.
func (l *Limiter) Refund(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.hits[client]
	if len(ts) == 0 {
		return
	}
	if len(ts) == 1 {
		delete(l.hits, client)
		return
	}
	l.hits[client] = ts[:len(ts)-1]
}

// prune drops timestamps at or before cutoff. ts is in ascending order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// network returns the grouping key for a client address. Unparseable
// addresses are their own network.
func network(client string) string {
	addr, err := netip.ParseAddr(client)
	if err != nil {
		return client
	}
	bits := 64
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return client
	}
	return p.String()
}
