package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/momentic/lifeline-backend/internal/pkg/fingerprint"
	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
	auditsvc "github.com/momentic/lifeline-backend/internal/services/audit"
	ratesvc "github.com/momentic/lifeline-backend/internal/services/rate"
)

type ReplayLedger interface {
	Find(ctx context.Context, fp string) (pgrepo.RedemptionRecord, error)
	TryRedeem(ctx context.Context, candidate pgrepo.RedemptionRecord) (pgrepo.RedemptionRecord, bool, error)
}

type EntitlementStore interface {
	ApplyPremium(ctx context.Context, userID string, premiumUntil time.Time) error
}

type RateLimiter interface {
	Allow(ctx context.Context, userID, operation string) (int64, bool, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, userID, name string, props map[string]any)
}

type Service struct {
	validators   map[string]PlatformValidator
	ledger       ReplayLedger
	entitlements EntitlementStore
	limiter      RateLimiter
	audit        AuditRecorder
	products     map[string]struct{}
	logger       *zap.Logger
	now          func() time.Time
}

type Dependencies struct {
	Validators   map[string]PlatformValidator
	Ledger       ReplayLedger
	Entitlements EntitlementStore
	Limiter      RateLimiter
	Audit        AuditRecorder
}

type Config struct {
	Products []string
}

type VerifyInput struct {
	Platform  string
	Receipt   string
	ProductID string
}

type VerifyResult struct {
	PremiumUntil  time.Time
	TransactionID string
}

func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	products := make(map[string]struct{}, len(cfg.Products))
	for _, id := range cfg.Products {
		products[id] = struct{}{}
	}

	return &Service{
		validators:   deps.Validators,
		ledger:       deps.Ledger,
		entitlements: deps.Entitlements,
		limiter:      deps.Limiter,
		audit:        deps.Audit,
		products:     products,
		logger:       logger,
		now:          time.Now,
	}
}

// Verify runs the full verification flow for one submitted receipt:
// input checks, rate limit, fingerprint, replay check, platform validation,
// ledger commit, entitlement apply. Every rejection path leaves the ledger
// and the entitlement untouched; the only write pair is commit-then-apply.
func (s *Service) Verify(ctx context.Context, userID string, in VerifyInput) (VerifyResult, error) {
	if strings.TrimSpace(userID) == "" {
		return VerifyResult{}, ErrValidation
	}
	if s.ledger == nil || s.entitlements == nil || s.limiter == nil {
		return VerifyResult{}, fmt.Errorf("purchases dependencies are not configured")
	}

	platform := strings.ToLower(strings.TrimSpace(in.Platform))
	receipt := strings.TrimSpace(in.Receipt)
	productID := strings.TrimSpace(in.ProductID)

	if platform == "" || receipt == "" || productID == "" {
		return VerifyResult{}, ErrValidation
	}

	validator, ok := s.validators[platform]
	if !ok {
		return VerifyResult{}, ErrUnsupportedPlatform
	}
	if _, ok := s.products[productID]; !ok {
		return VerifyResult{}, ErrUnknownProduct
	}

	retryAfter, allowed, err := s.limiter.Allow(ctx, userID, ratesvc.OpPurchaseVerify)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return VerifyResult{}, &RateLimitedError{RetryAfterSec: retryAfter}
	}

	fp := fingerprint.SumString(receipt)

	// Replay check before any platform call; a known-used receipt must not
	// cost an external round trip.
	existing, err := s.ledger.Find(ctx, fp)
	if err == nil {
		return VerifyResult{}, s.rejectReplay(ctx, userID, productID, platform, existing)
	}
	if !errors.Is(err, pgrepo.ErrRedemptionNotFound) {
		return VerifyResult{}, fmt.Errorf("replay check: %w", err)
	}

	verdict, err := validator.Validate(ctx, productID, receipt)
	if err != nil {
		s.logger.Error("platform validation failed",
			zap.String("platform", platform),
			zap.String("product_id", productID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return VerifyResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if !verdict.Valid {
		s.recordAudit(ctx, userID, auditsvc.EventVerifyRejected, map[string]any{
			"platform":    platform,
			"product_id":  productID,
			"fingerprint": fp,
			"reason":      verdict.Reason,
		})
		s.logger.Warn("receipt rejected by platform",
			zap.String("platform", platform),
			zap.String("product_id", productID),
			zap.String("user_id", userID),
			zap.String("reason", verdict.Reason),
		)
		return VerifyResult{}, fmt.Errorf("%w: %s", ErrReceiptRejected, verdict.Reason)
	}

	candidate := pgrepo.RedemptionRecord{
		Fingerprint:   fp,
		UserID:        userID,
		ProductID:     productID,
		Platform:      platform,
		TransactionID: verdict.TransactionID,
		RedeemedAt:    s.now().UTC(),
		ExpiresAt:     verdict.ExpiresAt,
	}

	winner, committed, err := s.ledger.TryRedeem(ctx, candidate)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("ledger commit: %w", err)
	}
	if !committed {
		// Lost the race against a concurrent identical request; a replay
		// rejection, not an error.
		return VerifyResult{}, s.rejectReplay(ctx, userID, productID, platform, winner)
	}

	// The ledger entry is committed. If the caller is already gone, skip the
	// entitlement write; the gap is self-healing on the next verification
	// and is surfaced for operational awareness.
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.skipEntitlement(ctx, userID, fp, ctxErr)
		return VerifyResult{}, ctxErr
	}

	if err := s.entitlements.ApplyPremium(ctx, userID, verdict.ExpiresAt); err != nil {
		s.skipEntitlement(ctx, userID, fp, err)
		return VerifyResult{}, fmt.Errorf("apply entitlement: %w", err)
	}

	s.recordAudit(ctx, userID, auditsvc.EventVerifySucceeded, map[string]any{
		"platform":       platform,
		"product_id":     productID,
		"fingerprint":    fp,
		"transaction_id": verdict.TransactionID,
		"premium_until":  verdict.ExpiresAt.Format(time.RFC3339),
	})
	s.logger.Info("purchase verified",
		zap.String("platform", platform),
		zap.String("product_id", productID),
		zap.String("user_id", userID),
		zap.Time("premium_until", verdict.ExpiresAt),
	)

	return VerifyResult{
		PremiumUntil:  verdict.ExpiresAt,
		TransactionID: verdict.TransactionID,
	}, nil
}

func (s *Service) rejectReplay(ctx context.Context, userID, productID, platform string, existing pgrepo.RedemptionRecord) error {
	sameUser := existing.UserID == userID

	s.recordAudit(ctx, userID, auditsvc.EventReceiptReplayed, map[string]any{
		"platform":         platform,
		"product_id":       productID,
		"fingerprint":      existing.Fingerprint,
		"original_user_id": existing.UserID,
		"same_user":        sameUser,
	})
	s.logger.Warn("receipt replay rejected",
		zap.String("platform", platform),
		zap.String("product_id", productID),
		zap.String("user_id", userID),
		zap.String("original_user_id", existing.UserID),
		zap.Bool("same_user", sameUser),
	)

	return &AlreadyRedeemedError{
		Fingerprint: existing.Fingerprint,
		UserID:      existing.UserID,
		ProductID:   existing.ProductID,
		RedeemedAt:  existing.RedeemedAt,
		SameUser:    sameUser,
	}
}

func (s *Service) skipEntitlement(ctx context.Context, userID, fp string, cause error) {
	// The audit write must survive the caller's cancellation; this event is
	// the only trace of a ledger entry without an applied entitlement.
	s.recordAudit(context.WithoutCancel(ctx), userID, auditsvc.EventEntitlementSkipped, map[string]any{
		"fingerprint": fp,
		"cause":       cause.Error(),
	})
	s.logger.Warn("ledger committed without entitlement apply",
		zap.String("user_id", userID),
		zap.String("fingerprint", fp),
		zap.Error(cause),
	)
}

func (s *Service) recordAudit(ctx context.Context, userID, name string, props map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, userID, name, props)
}
