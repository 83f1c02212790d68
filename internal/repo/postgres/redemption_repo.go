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

var ErrRedemptionNotFound = errors.New("redemption not found")

type RedemptionRepo struct {
	pool *pgxpool.Pool
}

// RedemptionRecord is the ledger entry that consumed a receipt. One record
// per fingerprint, created once and never updated.
type RedemptionRecord struct {
	Fingerprint   string
	UserID        string
	ProductID     string
	Platform      string
	TransactionID string
	RedeemedAt    time.Time
	ExpiresAt     time.Time
}

func NewRedemptionRepo(pool *pgxpool.Pool) *RedemptionRepo {
	return &RedemptionRepo{pool: pool}
}

// TryRedeem attempts to create the ledger entry for the fingerprint. The
// insert is conditional on the fingerprint's primary key, so concurrent
// callers presenting the same receipt race on a single atomic statement:
// exactly one observes committed=true, the rest get the winner's record.
func (r *RedemptionRepo) TryRedeem(ctx context.Context, candidate RedemptionRecord) (RedemptionRecord, bool, error) {
	if r.pool == nil {
		return RedemptionRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if err := validateCandidate(candidate); err != nil {
		return RedemptionRecord{}, false, err
	}

	row := r.pool.QueryRow(ctx, `
INSERT INTO used_receipts (
	fingerprint,
	user_id,
	product_id,
	platform,
	transaction_id,
	redeemed_at,
	expires_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING fingerprint, user_id, product_id, platform, transaction_id, redeemed_at, expires_at
`,
		candidate.Fingerprint,
		candidate.UserID,
		candidate.ProductID,
		candidate.Platform,
		candidate.TransactionID,
		candidate.RedeemedAt.UTC(),
		candidate.ExpiresAt.UTC(),
	)

	committed, err := scanRedemption(row)
	if err == nil {
		return committed, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RedemptionRecord{}, false, fmt.Errorf("insert redemption: %w", err)
	}

	existing, err := r.Find(ctx, candidate.Fingerprint)
	if err != nil {
		return RedemptionRecord{}, false, err
	}
	return existing, false, nil
}

func (r *RedemptionRepo) Find(ctx context.Context, fp string) (RedemptionRecord, error) {
	if r.pool == nil {
		return RedemptionRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(fp) == "" {
		return RedemptionRecord{}, fmt.Errorf("fingerprint is required")
	}

	record, err := scanRedemption(r.pool.QueryRow(ctx, `
SELECT fingerprint, user_id, product_id, platform, transaction_id, redeemed_at, expires_at
FROM used_receipts
WHERE fingerprint = $1
LIMIT 1
`, fp))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RedemptionRecord{}, ErrRedemptionNotFound
		}
		return RedemptionRecord{}, fmt.Errorf("find redemption: %w", err)
	}

	return record, nil
}

// DeleteOlderThan removes at most limit ledger entries redeemed before the
// cutoff. Returns the number of rows removed; the sweep job decides whether
// a full batch means more work remains.
func (r *RedemptionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("invalid retention batch size")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM used_receipts
WHERE fingerprint IN (
	SELECT fingerprint
	FROM used_receipts
	WHERE redeemed_at < $1
	ORDER BY redeemed_at
	LIMIT $2
)
`, cutoff.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("delete stale redemptions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func validateCandidate(candidate RedemptionRecord) error {
	if strings.TrimSpace(candidate.Fingerprint) == "" ||
		strings.TrimSpace(candidate.UserID) == "" ||
		strings.TrimSpace(candidate.ProductID) == "" ||
		strings.TrimSpace(candidate.Platform) == "" {
		return fmt.Errorf("invalid redemption payload")
	}
	if candidate.RedeemedAt.IsZero() {
		return fmt.Errorf("redemption time is required")
	}
	return nil
}

func scanRedemption(row pgx.Row) (RedemptionRecord, error) {
	var record RedemptionRecord
	if err := row.Scan(
		&record.Fingerprint,
		&record.UserID,
		&record.ProductID,
		&record.Platform,
		&record.TransactionID,
		&record.RedeemedAt,
		&record.ExpiresAt,
	); err != nil {
		return RedemptionRecord{}, err
	}
	return record, nil
}
