// Package tokencache provides bearer-token sources for outbound API clients.
package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Source yields a bearer token for an outbound API call. Credential
// provisioning happens behind the source; callers only see resolved tokens.
type Source interface {
	Token(ctx context.Context) (string, error)
}

type StaticSource struct {
	token string
}

func NewStatic(token string) *StaticSource {
	return &StaticSource{token: token}
}

func (s *StaticSource) Token(_ context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("bearer token is not configured")
	}
	return s.token, nil
}

const refreshLeeway = 5 * time.Minute

// CachedSource wraps a fetch function with a time-bounded in-memory cache.
// Tokens are refreshed with leeway before expiry; a failed refresh clears
// the cache so the next call retries.
type CachedSource struct {
	mu        sync.Mutex
	fetch     func(ctx context.Context) (string, time.Time, error)
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewCached(fetch func(ctx context.Context) (string, time.Time, error)) *CachedSource {
	return &CachedSource{
		fetch: fetch,
		now:   time.Now,
	}
}

func (s *CachedSource) Token(ctx context.Context) (string, error) {
	if s.fetch == nil {
		return "", fmt.Errorf("token fetch func is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.token != "" && now.Add(refreshLeeway).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresAt, err := s.fetch(ctx)
	if err != nil {
		s.token = ""
		s.expiresAt = time.Time{}
		return "", fmt.Errorf("fetch bearer token: %w", err)
	}

	s.token = token
	s.expiresAt = expiresAt.UTC()
	return token, nil
}
