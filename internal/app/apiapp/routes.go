package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/momentic/lifeline-backend/internal/config"
	authsvc "github.com/momentic/lifeline-backend/internal/services/auth"
	entsvc "github.com/momentic/lifeline-backend/internal/services/entitlements"
	musicsvc "github.com/momentic/lifeline-backend/internal/services/music"
	purchasesvc "github.com/momentic/lifeline-backend/internal/services/purchases"
	"github.com/momentic/lifeline-backend/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService        *authsvc.Service
	PurchaseService    *purchasesvc.Service
	EntitlementService *entsvc.Service
	MusicService       *musicsvc.Service
	Logger             *zap.Logger
	Config             config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	purchaseHandler := handlers.NewPurchaseHandler(deps.PurchaseService, deps.EntitlementService)
	musicHandler := handlers.NewMusicHandler(deps.MusicService)

	r.Get("/healthz", healthHandler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(deps.AuthService, deps.Logger))

			r.Post("/purchase/verify", purchaseHandler.Verify)
			r.Get("/entitlements", purchaseHandler.Entitlements)

			r.Get("/music/search", musicHandler.Search)
			r.Get("/music/tracks/{trackID}", musicHandler.TrackDetails)
		})
	})
}
