package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/momentic/lifeline-backend/internal/repo/redis"
)

func TestLimiterAllowsUpToMaxThenDenies(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[string]Rule{
		OpPurchaseVerify: {MaxCalls: 5, Window: time.Hour},
	})

	ctx := context.Background()

	for i := 0; i < 5; i++ {
		retryAfter, allowed, err := limiter.Allow(ctx, "user-1", OpPurchaseVerify)
		if err != nil {
			t.Fatalf("allow #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("call #%d unexpectedly limited: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.Allow(ctx, "user-1", OpPurchaseVerify)
	if err != nil {
		t.Fatalf("allow #6: %v", err)
	}
	if allowed {
		t.Fatalf("expected sixth call within the hour to be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", retryAfter)
	}

	currentRetry, err := limiter.RetryAfter(ctx, "user-1", OpPurchaseVerify)
	if err != nil {
		t.Fatalf("retry_after state: %v", err)
	}
	if currentRetry <= 0 {
		t.Fatalf("expected positive retry_after state, got %d", currentRetry)
	}
}

func TestLimiterResetsAfterWindowElapses(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[string]Rule{
		OpMusicSearch: {MaxCalls: 2, Window: time.Hour},
	})

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, allowed, err := limiter.Allow(ctx, "user-9", OpMusicSearch); err != nil || !allowed {
			t.Fatalf("allow #%d: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	if _, allowed, err := limiter.Allow(ctx, "user-9", OpMusicSearch); err != nil || allowed {
		t.Fatalf("expected denial before window reset: allowed=%v err=%v", allowed, err)
	}

	mr.FastForward(time.Hour + time.Second)

	retryAfter, allowed, err := limiter.Allow(ctx, "user-9", OpMusicSearch)
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("expected fresh window after expiry: allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterKeysAreScopedPerUserAndOperation(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), map[string]Rule{
		OpPurchaseVerify: {MaxCalls: 1, Window: time.Hour},
		OpMusicSearch:    {MaxCalls: 1, Window: time.Hour},
	})

	ctx := context.Background()

	if _, allowed, err := limiter.Allow(ctx, "alice", OpPurchaseVerify); err != nil || !allowed {
		t.Fatalf("alice verify #1: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, "alice", OpPurchaseVerify); err != nil || allowed {
		t.Fatalf("alice verify #2 should be denied: allowed=%v err=%v", allowed, err)
	}

	// Other users and other operations keep their own windows.
	if _, allowed, err := limiter.Allow(ctx, "bob", OpPurchaseVerify); err != nil || !allowed {
		t.Fatalf("bob verify blocked by alice's window: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, "alice", OpMusicSearch); err != nil || !allowed {
		t.Fatalf("alice search blocked by verify window: allowed=%v err=%v", allowed, err)
	}
}

func TestLimiterUnknownOperationIsAllowed(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	limiter := NewLimiter(redrepo.NewRateRepo(client), nil)

	if _, allowed, err := limiter.Allow(context.Background(), "alice", "unconfigured_op"); err != nil || !allowed {
		t.Fatalf("unconfigured operation should pass through: allowed=%v err=%v", allowed, err)
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
