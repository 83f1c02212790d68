package purchases

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/momentic/lifeline-backend/internal/pkg/tokencache"
)

func newPlayServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-play-token" {
			t.Errorf("missing bearer token on play request")
		}
		if !strings.Contains(r.URL.Path, "/purchases/subscriptions/") {
			t.Errorf("unexpected play request path: %s", r.URL.Path)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newPlayValidatorForServer(ts *httptest.Server) *PlayValidator {
	return NewPlayValidator(ts.Client(), tokencache.NewStatic("test-play-token"), PlayConfig{
		APIBase:     ts.URL,
		PackageName: "com.momentic.lifeline",
	})
}

func TestPlayValidatorAcceptsActiveAcknowledgedPurchase(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{
		"expiryTimeMillis": "%d",
		"purchaseState": 0,
		"acknowledgementState": 1,
		"orderId": "GPA.1234-5678-9012-34567"
	}`, expiry)

	ts := newPlayServer(t, http.StatusOK, body)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("expected valid verdict, got reason %q", verdict.Reason)
	}
	if verdict.TransactionID != "GPA.1234-5678-9012-34567" {
		t.Fatalf("unexpected transaction id: %s", verdict.TransactionID)
	}
	if verdict.ExpiresAt.UnixMilli() != expiry {
		t.Fatalf("unexpected expiry: %v", verdict.ExpiresAt)
	}
}

func TestPlayValidatorRejectsExpiredPurchase(t *testing.T) {
	expiry := time.Now().Add(-24 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{"expiryTimeMillis": "%d", "purchaseState": 0, "acknowledgementState": 1}`, expiry)

	ts := newPlayServer(t, http.StatusOK, body)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || verdict.Reason != "expired" {
		t.Fatalf("expected expired rejection, got %+v", verdict)
	}
}

func TestPlayValidatorRejectsCancelledPurchaseState(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{"expiryTimeMillis": "%d", "purchaseState": 1, "acknowledgementState": 1}`, expiry)

	ts := newPlayServer(t, http.StatusOK, body)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || !strings.Contains(verdict.Reason, "invalid purchase state") {
		t.Fatalf("expected purchase state rejection, got %+v", verdict)
	}
}

func TestPlayValidatorTreatsAbsentPurchaseStateAsPurchased(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{"expiryTimeMillis": "%d", "acknowledgementState": 1, "orderId": "GPA.1"}`, expiry)

	ts := newPlayServer(t, http.StatusOK, body)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("renewal response without purchaseState should be valid, got reason %q", verdict.Reason)
	}
}

func TestPlayValidatorRejectsUnacknowledgedPurchase(t *testing.T) {
	expiry := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	body := fmt.Sprintf(`{"expiryTimeMillis": "%d", "purchaseState": 0, "acknowledgementState": 0}`, expiry)

	ts := newPlayServer(t, http.StatusOK, body)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || verdict.Reason != "not acknowledged" {
		t.Fatalf("expected acknowledgement rejection, got %+v", verdict)
	}
}

func TestPlayValidatorRejectsMissingExpiry(t *testing.T) {
	ts := newPlayServer(t, http.StatusOK, `{"purchaseState": 0, "acknowledgementState": 1}`)
	defer ts.Close()

	verdict, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if verdict.Valid || verdict.Reason != "missing expiry time" {
		t.Fatalf("expected missing expiry rejection, got %+v", verdict)
	}
}

func TestPlayValidatorSurfacesAPIFailureAsError(t *testing.T) {
	ts := newPlayServer(t, http.StatusForbidden, `{"error": "permission denied"}`)
	defer ts.Close()

	if _, err := newPlayValidatorForServer(ts).Validate(context.Background(), "lifeline_premium_monthly", "purchase-token"); err == nil {
		t.Fatalf("expected error for non-200 play response")
	}
}
