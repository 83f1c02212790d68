package handlers

import (
	"errors"
	"net/http"

	authsvc "github.com/momentic/lifeline-backend/internal/services/auth"
	entsvc "github.com/momentic/lifeline-backend/internal/services/entitlements"
	purchasesvc "github.com/momentic/lifeline-backend/internal/services/purchases"
	"github.com/momentic/lifeline-backend/internal/transport/http/dto"
	httperrors "github.com/momentic/lifeline-backend/internal/transport/http/errors"
)

type PurchaseHandler struct {
	purchases    *purchasesvc.Service
	entitlements *entsvc.Service
}

func NewPurchaseHandler(purchases *purchasesvc.Service, entitlements *entsvc.Service) *PurchaseHandler {
	return &PurchaseHandler{
		purchases:    purchases,
		entitlements: entitlements,
	}
}

func (h *PurchaseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASES_SERVICE_UNAVAILABLE", "purchases service is unavailable")
		return
	}

	var req dto.PurchaseVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.purchases.Verify(r.Context(), identity.UserID, purchasesvc.VerifyInput{
		Platform:  req.Platform,
		Receipt:   req.Receipt,
		ProductID: req.ProductID,
	})
	if err != nil {
		var limited *purchasesvc.RateLimitedError
		var redeemed *purchasesvc.AlreadyRedeemedError
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid verification payload")
		case errors.Is(err, purchasesvc.ErrUnsupportedPlatform):
			writeBadRequest(w, "UNSUPPORTED_PLATFORM", "platform is not supported")
		case errors.Is(err, purchasesvc.ErrUnknownProduct):
			writeBadRequest(w, "UNKNOWN_PRODUCT", "product id is not recognized")
		case errors.As(err, &limited):
			writeRateLimited(w, limited.RetryAfterSec)
		case errors.As(err, &redeemed):
			httperrors.Write(w, http.StatusConflict, httperrors.APIError{
				Code:    "RECEIPT_ALREADY_USED",
				Message: "receipt has already been redeemed",
			})
		case errors.Is(err, purchasesvc.ErrReceiptRejected):
			httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
				Code:    "RECEIPT_REJECTED",
				Message: "receipt was rejected by the platform",
			})
		case errors.Is(err, purchasesvc.ErrUpstream):
			httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{
				Code:    "UPSTREAM_UNAVAILABLE",
				Message: "platform verification is temporarily unavailable",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to verify purchase")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.PurchaseVerifyResponse{
		IsPremium:     true,
		PremiumUntil:  result.PremiumUntil,
		TransactionID: result.TransactionID,
	})
}

func (h *PurchaseHandler) Entitlements(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENTS_SERVICE_UNAVAILABLE", "entitlements service is unavailable")
		return
	}

	snap, err := h.entitlements.Get(r.Context(), identity.UserID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load entitlements")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.EntitlementsResponse{
		IsPremium:        snap.IsPremium,
		PremiumExpiresAt: snap.PremiumExpiresAt,
	})
}
