package purchases

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrUnknownProduct      = errors.New("unknown product id")
	ErrReceiptRejected     = errors.New("receipt rejected")
	ErrUpstream            = errors.New("verification upstream failure")
)

// RateLimitedError carries the cooldown so the transport layer can tell the
// caller when to retry.
type RateLimitedError struct {
	RetryAfterSec int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds", e.RetryAfterSec)
}

// AlreadyRedeemedError reports the original redemption so replays can be
// logged as a fraud signal. A second user presenting a used receipt is a
// distinct event from the first user retrying.
type AlreadyRedeemedError struct {
	Fingerprint string
	UserID      string
	ProductID   string
	RedeemedAt  time.Time
	SameUser    bool
}

func (e *AlreadyRedeemedError) Error() string {
	return "receipt already redeemed"
}

// Verdict is the outcome of one platform validation for one receipt/product
// pair. Valid carries the platform transaction id and expiry; invalid
// carries the rejection reason. Verdicts are never persisted.
type Verdict struct {
	Valid         bool
	Reason        string
	ExpiresAt     time.Time
	TransactionID string
}

func invalidVerdict(reason string) Verdict {
	return Verdict{Valid: false, Reason: reason}
}

// PlatformValidator resolves a receipt against the platform's billing API.
// A returned error means the platform could not be consulted (retryable
// upstream failure); an invalid Verdict means the platform answered and the
// receipt does not prove an active subscription.
type PlatformValidator interface {
	Validate(ctx context.Context, productID, receipt string) (Verdict, error)
}
