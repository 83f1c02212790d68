package rate

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	OpMusicSearch      = "music_search"
	OpMusicTrackDetail = "music_track_detail"
	OpPurchaseVerify   = "purchase_verify"
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Rule is a fixed-window budget: at most MaxCalls per Window for one
// (user, operation) pair. Bursts across a window boundary are accepted as a
// known property of fixed windows.
type Rule struct {
	MaxCalls int
	Window   time.Duration
}

type Limiter struct {
	store WindowStore
	rules map[string]Rule
}

func NewLimiter(store WindowStore, rules map[string]Rule) *Limiter {
	cleaned := make(map[string]Rule, len(rules))
	for op, rule := range rules {
		if rule.MaxCalls <= 0 || rule.Window <= 0 {
			continue
		}
		cleaned[op] = rule
	}

	return &Limiter{
		store: store,
		rules: cleaned,
	}
}

// Allow records one call for (userID, operation) and reports whether it fits
// the operation's window. Operations without a configured rule are always
// allowed. On denial retryAfterSec is the ceiling of the remaining window.
func (l *Limiter) Allow(ctx context.Context, userID, operation string) (int64, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if strings.TrimSpace(operation) == "" {
		return 0, false, fmt.Errorf("invalid operation")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	rule, ok := l.rules[operation]
	if !ok {
		return 0, true, nil
	}

	count, ttl, err := l.store.IncrementWindow(ctx, windowKey(userID, operation), rule.Window)
	if err != nil {
		return 0, false, err
	}
	if count > int64(rule.MaxCalls) {
		return ceilSeconds(ttl), false, nil
	}

	return 0, true, nil
}

// RetryAfter reports the remaining cooldown without consuming a call.
func (l *Limiter) RetryAfter(ctx context.Context, userID, operation string) (int64, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(operation) == "" {
		return 0, fmt.Errorf("invalid rate limit key")
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	rule, ok := l.rules[operation]
	if !ok {
		return 0, nil
	}

	count, ttl, err := l.store.WindowState(ctx, windowKey(userID, operation))
	if err != nil {
		return 0, err
	}
	if count >= int64(rule.MaxCalls) {
		return ceilSeconds(ttl), nil
	}

	return 0, nil
}

func windowKey(userID, operation string) string {
	return "rate:" + operation + ":" + userID
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
