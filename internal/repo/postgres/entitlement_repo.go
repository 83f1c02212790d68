package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EntitlementRepo struct {
	pool *pgxpool.Pool
}

type EntitlementSnapshotRecord struct {
	UserID           string
	IsPremium        bool
	PremiumExpiresAt *time.Time
}

func NewEntitlementRepo(pool *pgxpool.Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

// ApplyPremium upserts the user's premium entitlement. Only the premium flag
// and expiry are written; unrelated user attributes live in other tables and
// are never touched here. The write is idempotent and overwrites any
// previous expiry with the verdict's expiry.
func (r *EntitlementRepo) ApplyPremium(ctx context.Context, userID string, premiumUntil time.Time) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if premiumUntil.IsZero() {
		return fmt.Errorf("premium expiry is required")
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO user_entitlements (
	user_id,
	is_premium,
	premium_expires_at,
	updated_at
) VALUES ($1, TRUE, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET
	is_premium = TRUE,
	premium_expires_at = EXCLUDED.premium_expires_at,
	updated_at = NOW()
`, userID, premiumUntil.UTC()); err != nil {
		return fmt.Errorf("apply premium entitlement: %w", err)
	}

	return nil
}

func (r *EntitlementRepo) GetSnapshot(ctx context.Context, userID string) (EntitlementSnapshotRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return EntitlementSnapshotRecord{}, fmt.Errorf("user id is required")
	}
	if r.pool == nil {
		return EntitlementSnapshotRecord{UserID: userID}, nil
	}

	var snapshot EntitlementSnapshotRecord
	err := r.pool.QueryRow(ctx, `
SELECT user_id, is_premium, premium_expires_at
FROM user_entitlements
WHERE user_id = $1
LIMIT 1
`, userID).Scan(
		&snapshot.UserID,
		&snapshot.IsPremium,
		&snapshot.PremiumExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EntitlementSnapshotRecord{UserID: userID}, nil
		}
		return EntitlementSnapshotRecord{}, fmt.Errorf("get entitlement snapshot: %w", err)
	}

	return snapshot, nil
}
