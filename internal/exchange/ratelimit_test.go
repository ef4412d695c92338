package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketBurstThenSpacing(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(3, 100) // 10ms spacing once the burst is spent
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("burst wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("burst of 3 took %v, want nearly instant", elapsed)
	}

	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("post-burst wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 8*time.Millisecond {
		t.Errorf("fourth grant after %v, want at least one 10ms interval", elapsed)
	}
}

func TestTokenBucketSustainedRate(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 50) // one grant per 20ms
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("four grants took %v, want at least three 20ms intervals", elapsed)
	}
}

func TestTokenBucketWaitHonorsContext(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 0.2) // five-second spacing
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := tb.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled wait returned after %v, want promptly", elapsed)
	}
}

func TestTokenBucketPreCancelledContext(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tb.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewRateLimiterBucketsIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter()
	ctx := context.Background()

	// Drain the account bucket's whole burst; market data must be
	// unaffected.
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := rl.Account.Wait(ctx); err != nil {
			t.Fatalf("account wait %d: %v", i, err)
		}
	}
	if err := rl.Data.Wait(ctx); err != nil {
		t.Fatalf("data wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("independent buckets took %v, want nearly instant", elapsed)
	}
}
