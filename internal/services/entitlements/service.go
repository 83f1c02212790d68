package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

// Snapshot is the entitlement state as seen by the client. IsPremium is
// derived from the stored expiry at read time, so a lapsed subscription
// reads as free without any background job flipping a flag.
type Snapshot struct {
	IsPremium        bool
	PremiumExpiresAt *time.Time
}

type Store interface {
	GetSnapshot(ctx context.Context, userID string) (pgrepo.EntitlementSnapshotRecord, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return Snapshot{}, ErrValidation
	}

	rec, err := s.store.GetSnapshot(ctx, userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get entitlement snapshot: %w", err)
	}

	snap := Snapshot{PremiumExpiresAt: rec.PremiumExpiresAt}
	if rec.PremiumExpiresAt != nil && rec.PremiumExpiresAt.After(s.now().UTC()) {
		snap.IsPremium = true
	}

	return snap, nil
}
