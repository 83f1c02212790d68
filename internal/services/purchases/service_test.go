package purchases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
)

type stubLedger struct {
	mu      sync.Mutex
	records map[string]pgrepo.RedemptionRecord

	findErr   error
	redeemErr error
}

func newStubLedger() *stubLedger {
	return &stubLedger{records: make(map[string]pgrepo.RedemptionRecord)}
}

func (s *stubLedger) Find(_ context.Context, fp string) (pgrepo.RedemptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findErr != nil {
		return pgrepo.RedemptionRecord{}, s.findErr
	}
	rec, ok := s.records[fp]
	if !ok {
		return pgrepo.RedemptionRecord{}, pgrepo.ErrRedemptionNotFound
	}
	return rec, nil
}

func (s *stubLedger) TryRedeem(_ context.Context, candidate pgrepo.RedemptionRecord) (pgrepo.RedemptionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.redeemErr != nil {
		return pgrepo.RedemptionRecord{}, false, s.redeemErr
	}
	if existing, ok := s.records[candidate.Fingerprint]; ok {
		return existing, false, nil
	}
	s.records[candidate.Fingerprint] = candidate
	return candidate, true, nil
}

type stubEntitlements struct {
	mu       sync.Mutex
	applied  int
	applyErr error
	lastUser string
	lastTime time.Time
}

func (s *stubEntitlements) ApplyPremium(_ context.Context, userID string, premiumUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied++
	s.lastUser = userID
	s.lastTime = premiumUntil
	return nil
}

type stubLimiter struct {
	mu         sync.Mutex
	calls      int
	denied     bool
	retryAfter int64
	err        error
}

func (s *stubLimiter) Allow(_ context.Context, _, _ string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return 0, false, s.err
	}
	if s.denied {
		return s.retryAfter, false, nil
	}
	return 0, true, nil
}

type stubAudit struct {
	mu     sync.Mutex
	events []string
}

func (s *stubAudit) Record(_ context.Context, _, name string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *stubAudit) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == name {
			return true
		}
	}
	return false
}

type fakeValidator struct {
	mu      sync.Mutex
	calls   int
	verdict Verdict
	err     error
}

func (f *fakeValidator) Validate(_ context.Context, _, _ string) (Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.verdict, f.err
}

type serviceFixture struct {
	svc          *Service
	ledger       *stubLedger
	entitlements *stubEntitlements
	limiter      *stubLimiter
	audit        *stubAudit
	validator    *fakeValidator
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		ledger:       newStubLedger(),
		entitlements: &stubEntitlements{},
		limiter:      &stubLimiter{},
		audit:        &stubAudit{},
		validator: &fakeValidator{verdict: Verdict{
			Valid:         true,
			ExpiresAt:     time.Now().Add(30 * 24 * time.Hour).UTC(),
			TransactionID: "GPA.1111-2222-3333-44444",
		}},
	}

	f.svc = NewService(Dependencies{
		Validators:   map[string]PlatformValidator{PlatformAndroid: f.validator},
		Ledger:       f.ledger,
		Entitlements: f.entitlements,
		Limiter:      f.limiter,
		Audit:        f.audit,
	}, Config{
		Products: []string{"lifeline_premium_monthly", "lifeline_premium_yearly"},
	}, nil)

	return f
}

func validInput() VerifyInput {
	return VerifyInput{
		Platform:  PlatformAndroid,
		Receipt:   "purchase-token-abc",
		ProductID: "lifeline_premium_monthly",
	}
}

func TestVerifyGrantsEntitlementOnFirstRedemption(t *testing.T) {
	f := newServiceFixture()

	res, err := f.svc.Verify(context.Background(), "user-1", validInput())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.TransactionID != "GPA.1111-2222-3333-44444" {
		t.Fatalf("unexpected transaction id: %s", res.TransactionID)
	}
	if f.entitlements.applied != 1 {
		t.Fatalf("expected one entitlement apply, got %d", f.entitlements.applied)
	}
	if f.entitlements.lastUser != "user-1" {
		t.Fatalf("entitlement applied to wrong user: %s", f.entitlements.lastUser)
	}
	if !f.entitlements.lastTime.Equal(res.PremiumUntil) {
		t.Fatalf("entitlement expiry mismatch: %v vs %v", f.entitlements.lastTime, res.PremiumUntil)
	}
}

func TestVerifyRejectsSecondSubmissionOfSameReceipt(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.svc.Verify(context.Background(), "user-1", validInput()); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	_, err := f.svc.Verify(context.Background(), "user-2", validInput())
	var redeemed *AlreadyRedeemedError
	if !errors.As(err, &redeemed) {
		t.Fatalf("expected AlreadyRedeemedError, got %v", err)
	}
	if redeemed.SameUser {
		t.Fatalf("expected cross-user replay flag")
	}
	if redeemed.UserID != "user-1" {
		t.Fatalf("expected original redeemer, got %s", redeemed.UserID)
	}
	if f.validator.calls != 1 {
		t.Fatalf("replay must not reach the platform, got %d validator calls", f.validator.calls)
	}
	if f.entitlements.applied != 1 {
		t.Fatalf("replay must not grant entitlement, got %d applies", f.entitlements.applied)
	}
	if !f.audit.has("purchase_receipt_replayed") {
		t.Fatalf("expected replay audit event, got %v", f.audit.events)
	}
}

func TestVerifySameUserRetryIsStillRejected(t *testing.T) {
	f := newServiceFixture()

	if _, err := f.svc.Verify(context.Background(), "user-1", validInput()); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	_, err := f.svc.Verify(context.Background(), "user-1", validInput())
	var redeemed *AlreadyRedeemedError
	if !errors.As(err, &redeemed) {
		t.Fatalf("expected AlreadyRedeemedError, got %v", err)
	}
	if !redeemed.SameUser {
		t.Fatalf("expected same-user replay flag")
	}
}

func TestVerifyConcurrentIdenticalReceiptsCommitExactlyOnce(t *testing.T) {
	f := newServiceFixture()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		replayed  int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Verify(context.Background(), "user-1", validInput())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				var redeemed *AlreadyRedeemedError
				if errors.As(err, &redeemed) {
					replayed++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}
	if replayed != attempts-1 {
		t.Fatalf("expected %d replay rejections, got %d", attempts-1, replayed)
	}
	if f.entitlements.applied != 1 {
		t.Fatalf("expected exactly one entitlement apply, got %d", f.entitlements.applied)
	}
}

func TestVerifyUnknownProductShortCircuits(t *testing.T) {
	f := newServiceFixture()

	in := validInput()
	in.ProductID = "some_random_sku"

	_, err := f.svc.Verify(context.Background(), "user-1", in)
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
	if f.limiter.calls != 0 {
		t.Fatalf("unknown product must not consume a rate slot")
	}
	if f.validator.calls != 0 {
		t.Fatalf("unknown product must not reach the platform")
	}
}

func TestVerifyUnsupportedPlatform(t *testing.T) {
	f := newServiceFixture()

	in := validInput()
	in.Platform = "windows"

	if _, err := f.svc.Verify(context.Background(), "user-1", in); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestVerifyEmptyFieldsFailValidation(t *testing.T) {
	f := newServiceFixture()

	cases := []VerifyInput{
		{Platform: "", Receipt: "r", ProductID: "lifeline_premium_monthly"},
		{Platform: PlatformAndroid, Receipt: "   ", ProductID: "lifeline_premium_monthly"},
		{Platform: PlatformAndroid, Receipt: "r", ProductID: ""},
	}
	for _, in := range cases {
		if _, err := f.svc.Verify(context.Background(), "user-1", in); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation for %+v, got %v", in, err)
		}
	}

	if _, err := f.svc.Verify(context.Background(), "  ", validInput()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank user id, got %v", err)
	}
}

func TestVerifyRateLimitDenial(t *testing.T) {
	f := newServiceFixture()
	f.limiter.denied = true
	f.limiter.retryAfter = 1800

	_, err := f.svc.Verify(context.Background(), "user-1", validInput())
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfterSec != 1800 {
		t.Fatalf("unexpected retry-after: %d", limited.RetryAfterSec)
	}
	if f.validator.calls != 0 {
		t.Fatalf("denied call must not reach the platform")
	}
}

func TestVerifyUpstreamFailureLeavesNoState(t *testing.T) {
	f := newServiceFixture()
	f.validator.err = errors.New("play api status 500")

	_, err := f.svc.Verify(context.Background(), "user-1", validInput())
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if len(f.ledger.records) != 0 {
		t.Fatalf("upstream failure must not commit the ledger")
	}
	if f.entitlements.applied != 0 {
		t.Fatalf("upstream failure must not grant entitlement")
	}
}

func TestVerifyInvalidVerdictLeavesNoState(t *testing.T) {
	f := newServiceFixture()
	f.validator.verdict = invalidVerdict("expired")

	_, err := f.svc.Verify(context.Background(), "user-1", validInput())
	if !errors.Is(err, ErrReceiptRejected) {
		t.Fatalf("expected ErrReceiptRejected, got %v", err)
	}
	if len(f.ledger.records) != 0 {
		t.Fatalf("rejected receipt must not commit the ledger")
	}
	if f.entitlements.applied != 0 {
		t.Fatalf("rejected receipt must not grant entitlement")
	}
	if !f.audit.has("purchase_verify_rejected") {
		t.Fatalf("expected rejection audit event, got %v", f.audit.events)
	}
}

func TestVerifyEntitlementFailureKeepsLedgerAndAudits(t *testing.T) {
	f := newServiceFixture()
	f.entitlements.applyErr = errors.New("pg down")

	_, err := f.svc.Verify(context.Background(), "user-1", validInput())
	if err == nil {
		t.Fatalf("expected apply failure to surface")
	}
	if len(f.ledger.records) != 1 {
		t.Fatalf("ledger commit must survive apply failure")
	}
	if !f.audit.has("purchase_entitlement_skipped") {
		t.Fatalf("expected skipped-entitlement audit event, got %v", f.audit.events)
	}
}
