package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHorizon   = 90 * 24 * time.Hour
	defaultBatchSize = 500
)

type redemptionSweeper interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Job prunes replay-ledger entries older than the retention horizon, at most
// one batch per run. Entries inside the horizon are never touched: a deleted
// fingerprint would make the matching receipt replayable again.
type Job struct {
	redemptions redemptionSweeper
	horizon     time.Duration
	batchSize   int
	now         func() time.Time
	logger      *zap.Logger
}

func New() *Job {
	return &Job{
		horizon:   defaultHorizon,
		batchSize: defaultBatchSize,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
}

func NewRetentionJob(redemptions redemptionSweeper, horizon time.Duration, batchSize int, logger *zap.Logger) *Job {
	if horizon <= 0 {
		horizon = defaultHorizon
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		redemptions: redemptions,
		horizon:     horizon,
		batchSize:   batchSize,
		now:         time.Now,
		logger:      logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.redemptions == nil {
		return nil
	}

	cutoff := j.now().UTC().Add(-j.horizon)
	deleted, err := j.redemptions.DeleteOlderThan(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("sweep used receipts: %w", err)
	}

	if deleted > 0 {
		j.logger.Info("used receipt sweep completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	if deleted == int64(j.batchSize) {
		j.logger.Info("used receipt sweep hit batch limit, more records likely remain",
			zap.Int("batch_size", j.batchSize),
		)
	}

	return nil
}
