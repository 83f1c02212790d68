package purchases

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/momentic/lifeline-backend/internal/pkg/tokencache"
)

const (
	playPurchaseStatePurchased = 0
	playAcknowledged           = 1
)

// PlayValidator resolves a purchase token against the Play subscription
// status API and interprets the response into a Verdict.
type PlayValidator struct {
	httpClient  *http.Client
	tokens      tokencache.Source
	apiBase     string
	packageName string
	now         func() time.Time
}

type PlayConfig struct {
	APIBase     string
	PackageName string
}

func NewPlayValidator(httpClient *http.Client, tokens tokencache.Source, cfg PlayConfig) *PlayValidator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &PlayValidator{
		httpClient:  httpClient,
		tokens:      tokens,
		apiBase:     cfg.APIBase,
		packageName: cfg.PackageName,
		now:         time.Now,
	}
}

type playSubscriptionResponse struct {
	ExpiryTimeMillis     string `json:"expiryTimeMillis"`
	PurchaseState        *int   `json:"purchaseState"`
	AcknowledgementState *int   `json:"acknowledgementState"`
	OrderID              string `json:"orderId"`
}

func (v *PlayValidator) Validate(ctx context.Context, productID, purchaseToken string) (Verdict, error) {
	if v.tokens == nil {
		return Verdict{}, fmt.Errorf("play token source is not configured")
	}

	bearer, err := v.tokens.Token(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("resolve play api token: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/applications/%s/purchases/subscriptions/%s/tokens/%s",
		v.apiBase,
		url.PathEscape(v.packageName),
		url.PathEscape(productID),
		url.PathEscape(purchaseToken),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("build play subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("call play subscription api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("play subscription api status %d", resp.StatusCode)
	}

	var payload playSubscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Verdict{}, fmt.Errorf("decode play subscription response: %w", err)
	}

	return v.interpret(payload), nil
}

// interpret applies the validity policy to a decoded subscription status.
// Acknowledgement is required: an unacknowledged purchase is refunded by the
// store after three days, so granting on it would entitle a free window.
func (v *PlayValidator) interpret(payload playSubscriptionResponse) Verdict {
	if payload.ExpiryTimeMillis == "" {
		return invalidVerdict("missing expiry time")
	}

	expiryMillis, err := strconv.ParseInt(payload.ExpiryTimeMillis, 10, 64)
	if err != nil {
		return invalidVerdict("malformed expiry time")
	}

	expiresAt := time.UnixMilli(expiryMillis).UTC()
	if !expiresAt.After(v.now().UTC()) {
		return invalidVerdict("expired")
	}

	// Some renewal responses omit purchaseState entirely; absence is valid.
	if payload.PurchaseState != nil && *payload.PurchaseState != playPurchaseStatePurchased {
		return invalidVerdict(fmt.Sprintf("invalid purchase state %d", *payload.PurchaseState))
	}

	if payload.AcknowledgementState == nil || *payload.AcknowledgementState != playAcknowledged {
		return invalidVerdict("not acknowledged")
	}

	return Verdict{
		Valid:         true,
		ExpiresAt:     expiresAt,
		TransactionID: payload.OrderID,
	}
}
