package music

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	ratesvc "github.com/momentic/lifeline-backend/internal/services/rate"
)

var (
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("music upstream failure")
)

type RateLimitedError struct {
	RetryAfterSec int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSec)
}

// Catalog is the track lookup surface. The Spotify client satisfies it.
type Catalog interface {
	SearchTracks(ctx context.Context, query string) ([]Track, error)
	TrackDetails(ctx context.Context, trackID string) (Track, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID, operation string) (int64, bool, error)
}

type Service struct {
	catalog Catalog
	limiter RateLimiter
	logger  *zap.Logger
}

func NewService(catalog Catalog, limiter RateLimiter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		catalog: catalog,
		limiter: limiter,
		logger:  logger,
	}
}

func (s *Service) Search(ctx context.Context, userID, query string) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrValidation
	}

	if err := s.allow(ctx, userID, ratesvc.OpMusicSearch); err != nil {
		return nil, err
	}

	tracks, err := s.catalog.SearchTracks(ctx, query)
	if err != nil {
		s.logger.Error("track search failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return tracks, nil
}

func (s *Service) TrackDetails(ctx context.Context, userID, trackID string) (Track, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return Track{}, ErrValidation
	}

	if err := s.allow(ctx, userID, ratesvc.OpMusicTrackDetail); err != nil {
		return Track{}, err
	}

	track, err := s.catalog.TrackDetails(ctx, trackID)
	if err != nil {
		s.logger.Error("track detail lookup failed",
			zap.String("user_id", userID),
			zap.String("track_id", trackID),
			zap.Error(err),
		)
		return Track{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return track, nil
}

func (s *Service) allow(ctx context.Context, userID, operation string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrValidation
	}
	if s.limiter == nil {
		return nil
	}

	retryAfter, allowed, err := s.limiter.Allow(ctx, userID, operation)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return &RateLimitedError{RetryAfterSec: retryAfter}
	}

	return nil
}
