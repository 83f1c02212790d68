package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
)

// Event names recorded by the verification flow. Receipt content is never
// part of an event payload; only fingerprints and verdict metadata are.
const (
	EventVerifySucceeded    = "purchase_verify_succeeded"
	EventVerifyRejected     = "purchase_verify_rejected"
	EventReceiptReplayed    = "purchase_receipt_replayed"
	EventEntitlementSkipped = "purchase_entitlement_skipped"
)

type Store interface {
	InsertBatch(ctx context.Context, userID string, events []pgrepo.EventWriteRecord) error
}

// Service persists audit events for fraud investigation. Recording is best
// effort: a failed write is logged and never fails the guarded operation.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Record(ctx context.Context, userID, name string, props map[string]any) {
	name = strings.TrimSpace(name)
	if name == "" || s.store == nil {
		return
	}

	err := s.store.InsertBatch(ctx, userID, []pgrepo.EventWriteRecord{
		{
			Name:       name,
			OccurredAt: s.now().UTC(),
			Props:      props,
		},
	})
	if err != nil {
		s.logger.Warn("audit event write failed",
			zap.String("event", name),
			zap.Error(err),
		)
	}
}
