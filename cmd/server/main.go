package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"oauth-service/internal/cache"
	"oauth-service/internal/clients"
	"oauth-service/internal/config"
	"oauth-service/internal/database"
	"oauth-service/internal/handlers"
	"oauth-service/internal/keys"
	"oauth-service/internal/scopes"
	"oauth-service/internal/tokens"
)

// @title       OAuth Authorization Service
// @version     1.0
// @description OAuth 2.0 / OpenID Connect authorization server with PKCE, device flow, refresh rotation, introspection and revocation.
// @BasePath    /
func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting oauth service")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize database
	ctx := context.Background()
	repo, err := database.NewRepository(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	// Initialize cache
	cacheClient, err := cache.NewCache(cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
	}
	defer cacheClient.Close()

	// Initialize key manager. Bootstraps a primary signing key on first run.
	keyManager, err := keys.NewManager(ctx, repo, logger)
	if err != nil {
		logger.Fatal("Failed to initialize key manager", zap.Error(err))
	}

	// Key rotation scheduler
	go func() {
		rotationInterval := time.Duration(cfg.KeyRotationDays) * 24 * time.Hour
		gracePeriod := time.Duration(cfg.KeyGraceDays) * 24 * time.Hour

		ticker := time.NewTicker(rotationInterval)
		defer ticker.Stop()

		for range ticker.C {
			logger.Info("Rotating signing keys",
				zap.Int("rotation_days", cfg.KeyRotationDays),
				zap.Int("grace_days", cfg.KeyGraceDays))
			kid, err := keyManager.Rotate(context.Background(), gracePeriod)
			if err != nil {
				logger.Error("Failed to rotate keys", zap.Error(err))
				continue
			}
			logger.Info("Signing key rotated", zap.String("kid", kid))
		}
	}()

	// Housekeeping: deactivate retired keys and purge expired grants.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			hctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			now := time.Now()

			if err := keyManager.CleanupRetired(hctx); err != nil {
				logger.Error("Failed to deactivate retired keys", zap.Error(err))
			}
			if n, err := repo.DeleteExpiredAuthorizationCodes(hctx, now); err != nil {
				logger.Error("Failed to purge expired authorization codes", zap.Error(err))
			} else if n > 0 {
				logger.Info("Purged expired authorization codes", zap.Int64("count", n))
			}
			if n, err := repo.DeleteExpiredDeviceAuthorizations(hctx, now); err != nil {
				logger.Error("Failed to purge expired device authorizations", zap.Error(err))
			} else if n > 0 {
				logger.Info("Purged expired device authorizations", zap.Int64("count", n))
			}

			cancel()
		}
	}()

	// Initialize token generator
	tokenGen := tokens.NewGenerator(
		keyManager,
		cfg.Issuer,
		cfg.Issuer,
		cfg.AccessTokenTTL,
		cfg.IDTokenTTL,
		cfg.RefreshTokenLength,
	)

	// Initialize token validator
	tokenValidator := tokens.NewValidator(keyManager, cfg.Issuer, cacheClient)

	// Initialize domain services
	scopeEngine := scopes.NewEngine(repo, cacheClient, logger)
	clientAuth := clients.NewAuthenticator(repo, cacheClient, cfg.DefaultRateLimit, logger)
	tokenService := tokens.NewService(repo, cacheClient, tokenGen, tokenValidator, scopeEngine, cfg, logger)

	// Initialize handlers
	authorizeHandler := handlers.NewAuthorizeHandler(clientAuth, scopeEngine, tokenService, logger)
	tokenHandler := handlers.NewTokenHandler(clientAuth, tokenService, logger)
	deviceHandler := handlers.NewDeviceHandler(clientAuth, scopeEngine, tokenService, cfg.BaseURL, logger)
	introspectHandler := handlers.NewIntrospectHandler(clientAuth, tokenService, logger)
	revokeHandler := handlers.NewRevokeHandler(clientAuth, tokenService, logger)
	jwksHandler := handlers.NewJWKSHandler(keyManager, logger)
	oidcHandler := handlers.NewOIDCConfigurationHandler(cfg.BaseURL, cfg.Issuer, scopeEngine, logger)

	// Setup router
	router := SetupRouter(
		authorizeHandler,
		tokenHandler,
		deviceHandler,
		introspectHandler,
		revokeHandler,
		jwksHandler,
		oidcHandler,
		tokenValidator,
		cacheClient,
		cfg,
		logger,
	)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
