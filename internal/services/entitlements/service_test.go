package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
)

type stubStore struct {
	rec pgrepo.EntitlementSnapshotRecord
	err error
}

func (s *stubStore) GetSnapshot(_ context.Context, _ string) (pgrepo.EntitlementSnapshotRecord, error) {
	return s.rec, s.err
}

func TestGetDerivesPremiumFromExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		expires *time.Time
		premium bool
	}{
		{name: "future expiry", expires: timePtr(now.Add(24 * time.Hour)), premium: true},
		{name: "past expiry", expires: timePtr(now.Add(-24 * time.Hour)), premium: false},
		{name: "exactly now", expires: timePtr(now), premium: false},
		{name: "never purchased", expires: nil, premium: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&stubStore{rec: pgrepo.EntitlementSnapshotRecord{
				UserID:           "user-1",
				PremiumExpiresAt: tc.expires,
			}})
			svc.now = func() time.Time { return now }

			snap, err := svc.Get(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if snap.IsPremium != tc.premium {
				t.Fatalf("expected premium=%v, got %v", tc.premium, snap.IsPremium)
			}
		})
	}
}

func TestGetRejectsBlankUser(t *testing.T) {
	svc := NewService(&stubStore{})
	if _, err := svc.Get(context.Background(), "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetWrapsStoreErrors(t *testing.T) {
	svc := NewService(&stubStore{err: errors.New("pg down")})
	if _, err := svc.Get(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected store error to surface")
	}
}

func timePtr(t time.Time) *time.Time { return &t }
