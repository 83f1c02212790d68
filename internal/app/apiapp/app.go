package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/momentic/lifeline-backend/internal/config"
	"github.com/momentic/lifeline-backend/internal/infra/httpclient"
	"github.com/momentic/lifeline-backend/internal/jobs/cleanup"
	"github.com/momentic/lifeline-backend/internal/pkg/tokencache"
	pgrepo "github.com/momentic/lifeline-backend/internal/repo/postgres"
	redrepo "github.com/momentic/lifeline-backend/internal/repo/redis"
	auditsvc "github.com/momentic/lifeline-backend/internal/services/audit"
	authsvc "github.com/momentic/lifeline-backend/internal/services/auth"
	entsvc "github.com/momentic/lifeline-backend/internal/services/entitlements"
	musicsvc "github.com/momentic/lifeline-backend/internal/services/music"
	purchasesvc "github.com/momentic/lifeline-backend/internal/services/purchases"
	ratesvc "github.com/momentic/lifeline-backend/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	httpRouter http.Handler

	retention *cleanup.Job
	stopSweep chan struct{}
	stopOnce  sync.Once
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateRepo := redrepo.NewRateRepo(redisClient)
	redemptionRepo := pgrepo.NewRedemptionRepo(pool)
	entitlementRepo := pgrepo.NewEntitlementRepo(pool)
	eventRepo := pgrepo.NewEventRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager)

	rateLimiter := ratesvc.NewLimiter(rateRepo, map[string]ratesvc.Rule{
		ratesvc.OpMusicSearch:      {MaxCalls: cfg.Limits.SearchPerHour, Window: time.Hour},
		ratesvc.OpMusicTrackDetail: {MaxCalls: cfg.Limits.TrackDetailPerHour, Window: time.Hour},
		ratesvc.OpPurchaseVerify:   {MaxCalls: cfg.Limits.VerifyPerHour, Window: time.Hour},
	})

	auditService := auditsvc.NewService(eventRepo, log)

	billingClient := httpclient.New(cfg.Billing.CallTimeout)
	playValidator := purchasesvc.NewPlayValidator(
		billingClient,
		tokencache.NewStatic(cfg.Billing.PlayAPIToken),
		purchasesvc.PlayConfig{
			APIBase:     cfg.Billing.PlayAPIBase,
			PackageName: cfg.Billing.PackageName,
		},
	)
	appleValidator := purchasesvc.NewAppleValidator(billingClient, purchasesvc.AppleConfig{
		VerifyURL:    cfg.Billing.AppleVerifyURL,
		SandboxURL:   cfg.Billing.AppleSandboxURL,
		BundleID:     cfg.Billing.BundleID,
		SharedSecret: cfg.Billing.AppleSharedSecret,
	})

	purchaseService := purchasesvc.NewService(purchasesvc.Dependencies{
		Validators: map[string]purchasesvc.PlatformValidator{
			purchasesvc.PlatformAndroid: playValidator,
			purchasesvc.PlatformIOS:     appleValidator,
		},
		Ledger:       redemptionRepo,
		Entitlements: entitlementRepo,
		Limiter:      rateLimiter,
		Audit:        auditService,
	}, purchasesvc.Config{
		Products: cfg.Billing.Products,
	}, log)

	entitlementService := entsvc.NewService(entitlementRepo)

	spotifyClient := musicsvc.NewSpotifyClient(httpclient.New(cfg.Spotify.CallTimeout), musicsvc.SpotifyConfig{
		AccountsURL:  cfg.Spotify.TokenURL,
		APIBase:      cfg.Spotify.APIBase,
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
	})
	musicService := musicsvc.NewService(spotifyClient, rateLimiter, log)

	retentionJob := cleanup.NewRetentionJob(
		redemptionRepo,
		cfg.Retention.ReceiptHorizon,
		cfg.Retention.BatchSize,
		log,
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		AuthService:        authService,
		PurchaseService:    purchaseService,
		EntitlementService: entitlementService,
		MusicService:       musicService,
		Logger:             log,
		Config:             cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		httpRouter: r,
		retention:  retentionJob,
		stopSweep:  make(chan struct{}),
	}, nil
}

func (a *App) Run() error {
	a.startRetentionLoop()

	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	a.stopOnce.Do(func() { close(a.stopSweep) })

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

func (a *App) startRetentionLoop() {
	interval := a.cfg.Retention.SweepInterval
	if a.retention == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.stopSweep:
				return
			case <-ticker.C:
				if err := a.retention.Run(context.Background()); err != nil {
					a.logger.Error("retention sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
