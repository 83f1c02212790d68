package purchases

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	appleStatusOK             = 0
	appleStatusSandboxReceipt = 21007
)

// AppleValidator posts the receipt blob to the App Store verification
// endpoint. A sandbox receipt sent to production (status 21007) is retried
// against the sandbox endpoint transparently.
type AppleValidator struct {
	httpClient   *http.Client
	verifyURL    string
	sandboxURL   string
	bundleID     string
	sharedSecret string
	now          func() time.Time
}

type AppleConfig struct {
	VerifyURL    string
	SandboxURL   string
	BundleID     string
	SharedSecret string
}

func NewAppleValidator(httpClient *http.Client, cfg AppleConfig) *AppleValidator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &AppleValidator{
		httpClient:   httpClient,
		verifyURL:    cfg.VerifyURL,
		sandboxURL:   cfg.SandboxURL,
		bundleID:     cfg.BundleID,
		sharedSecret: cfg.SharedSecret,
		now:          time.Now,
	}
}

type appleVerifyRequest struct {
	ReceiptData string `json:"receipt-data"`
	Password    string `json:"password,omitempty"`
}

type appleVerifyResponse struct {
	Status  int `json:"status"`
	Receipt struct {
		BundleID string `json:"bundle_id"`
	} `json:"receipt"`
	LatestReceiptInfo []appleTransaction `json:"latest_receipt_info"`
}

type appleTransaction struct {
	ProductID     string `json:"product_id"`
	ExpiresDateMS string `json:"expires_date_ms"`
	TransactionID string `json:"transaction_id"`
}

func (v *AppleValidator) Validate(ctx context.Context, productID, receipt string) (Verdict, error) {
	payload, err := v.verify(ctx, v.verifyURL, receipt)
	if err != nil {
		return Verdict{}, err
	}

	if payload.Status == appleStatusSandboxReceipt && v.sandboxURL != "" {
		payload, err = v.verify(ctx, v.sandboxURL, receipt)
		if err != nil {
			return Verdict{}, err
		}
	}

	return v.interpret(payload, productID), nil
}

func (v *AppleValidator) verify(ctx context.Context, endpoint, receipt string) (appleVerifyResponse, error) {
	body, err := json.Marshal(appleVerifyRequest{
		ReceiptData: receipt,
		Password:    v.sharedSecret,
	})
	if err != nil {
		return appleVerifyResponse{}, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return appleVerifyResponse{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return appleVerifyResponse{}, fmt.Errorf("call app store verify: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return appleVerifyResponse{}, fmt.Errorf("app store verify status %d", resp.StatusCode)
	}

	var payload appleVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return appleVerifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}

	return payload, nil
}

func (v *AppleValidator) interpret(payload appleVerifyResponse, productID string) Verdict {
	if payload.Status != appleStatusOK {
		return invalidVerdict(fmt.Sprintf("verification status %d", payload.Status))
	}

	// Bundle identity binds the receipt to this app; a mismatch rejects the
	// receipt no matter what transactions it carries.
	if payload.Receipt.BundleID != v.bundleID {
		return invalidVerdict("bundle identity mismatch")
	}

	selected, ok := selectTransaction(payload.LatestReceiptInfo, productID)
	if !ok {
		return invalidVerdict("no matching transaction")
	}

	expiryMillis, err := strconv.ParseInt(selected.ExpiresDateMS, 10, 64)
	if err != nil {
		return invalidVerdict("malformed expiry time")
	}

	expiresAt := time.UnixMilli(expiryMillis).UTC()
	if !expiresAt.After(v.now().UTC()) {
		return invalidVerdict("expired")
	}

	return Verdict{
		Valid:         true,
		ExpiresAt:     expiresAt,
		TransactionID: selected.TransactionID,
	}
}

// selectTransaction filters to the requested product and picks the
// transaction with the latest expiry. Equal expiries tie-break on the
// greater transaction id so the choice stays deterministic.
func selectTransaction(transactions []appleTransaction, productID string) (appleTransaction, bool) {
	var (
		best       appleTransaction
		bestExpiry int64
		found      bool
	)

	for _, tx := range transactions {
		if tx.ProductID != productID {
			continue
		}
		expiry, err := strconv.ParseInt(tx.ExpiresDateMS, 10, 64)
		if err != nil {
			continue
		}
		if !found || expiry > bestExpiry || (expiry == bestExpiry && tx.TransactionID > best.TransactionID) {
			best = tx
			bestExpiry = expiry
			found = true
		}
	}

	return best, found
}
