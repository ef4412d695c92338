// ratelimit.go implements client-side rate limiting for the Binance spot API.
//
// Binance prices every endpoint in "request weight" against a per-minute
// account budget, with a separate cap on order placement. Rather than count
// tokens, each bucket keeps an absolute grant schedule: a caller reserves the
// next slot and sleeps until it comes due, so sustained traffic spaces itself
// evenly and a scan cycle never slams into a hard 429/418 ban.
//
// Three buckets are maintained:
//   - Data:    10 burst / 5 per sec  — public market data (24h tickers, klines)
//   - Account: 5 burst / 1 per sec   — signed account reads (balances, permissions)
//   - Order:   50 burst / 5 per sec  — order placement (maps to the 50/10s limit)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket allows a configurable burst, then spaces further grants at the
// steady rate. A cancelled Wait keeps its reservation; the cost is one
// unused slot, which the per-call gateway timeouts make immaterial.
type TokenBucket struct {
	mu        sync.Mutex
	interval  time.Duration // spacing between grants at the steady rate
	tolerance time.Duration // burst credit: how far the schedule may run ahead
	next      time.Time     // when the next reservation comes due
}

// NewTokenBucket returns a bucket granting capacity calls at once and
// ratePerSecond sustained.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	interval := time.Duration(float64(time.Second) / ratePerSecond)
	return &TokenBucket{
		interval:  interval,
		tolerance: time.Duration((capacity - 1) * float64(interval)),
	}
}

// reserve claims the next slot and reports how long the caller must sleep
// before using it.
func (tb *TokenBucket) reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if tb.next.Before(now) {
		tb.next = now
	}
	wait := tb.next.Sub(now) - tb.tolerance
	tb.next = tb.next.Add(tb.interval)
	return wait
}

// Wait blocks until the caller's slot comes due or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := tb.reserve()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimiter groups buckets by Binance API endpoint category. Each gateway
// call must Wait() on the appropriate bucket before making the HTTP request.
type RateLimiter struct {
	Data    *TokenBucket // GET /api/v3/ticker/24hr, /api/v3/klines
	Account *TokenBucket // GET /api/v3/account, /sapi/v1/account/apiRestrictions
	Order   *TokenBucket // POST /api/v3/order
}

// NewRateLimiter creates rate limiters tuned well inside Binance's published
// budgets. The Data bucket is sized so one full scan cycle (one ticker sweep
// plus a kline fetch per candidate) spreads over a few seconds instead of
// landing as a single burst.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Data:    NewTokenBucket(10, 5), // klines are weight 2, 24h tickers weight 80
		Account: NewTokenBucket(5, 1),  // account info is weight 20
		Order:   NewTokenBucket(50, 5), // 50 orders per 10s window
	}
}
