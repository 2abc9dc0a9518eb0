package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"medrecord-api/internal/config"
	"medrecord-api/internal/crypto"
	"medrecord-api/internal/database"
	"medrecord-api/internal/handler"
	"medrecord-api/internal/metrics"
	"medrecord-api/internal/middleware"
	"medrecord-api/internal/repository"
	"medrecord-api/internal/router"
	"medrecord-api/internal/service"
	"medrecord-api/internal/token"
	"medrecord-api/internal/twofactor"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, int32(cfg.DBMaxConns), int32(cfg.DBMinConns))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	userRepo := repository.NewUserRepository(db.Pool)
	auditRepo := repository.NewAuditRepository(db.Pool)
	slog.Info("database ready")

	tokenService, err := token.NewService(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	twoFactorService := twofactor.NewService(cfg.TOTPIssuer)
	authService := service.NewAuthService(userRepo, tokenService, twoFactorService)

	// The cipher re-reads the key each call so a degraded environment fails
	// closed instead of encrypting with stale or empty key material.
	payloadCipher := crypto.NewPayloadCipher(func() string {
		return strings.TrimSpace(os.Getenv("ENCRYPTION_KEY"))
	})

	m := metrics.New()
	authMiddleware := middleware.NewAuthMiddleware(tokenService, userRepo)
	encryption := middleware.NewEncryptionMiddleware(payloadCipher, cfg.PayloadEncryption)
	auditRecorder := middleware.NewAuditRecorder(auditRepo, m, cfg.AuditQueueSize)

	appRouter := router.New(cfg, authMiddleware, encryption, auditRecorder, m, router.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		TwoFactor: handler.NewTwoFactorHandler(authService),
		User:      handler.NewUserHandler(authService),
		Audit:     handler.NewAuditHandler(auditRepo),
	}, nil)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		db:     db,
		cleanupFuncs: []func(){
			auditRecorder.Close,
			db.Close,
		},
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// Shut the server down first so the audit queue can drain before the
	// pool closes.
	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}
