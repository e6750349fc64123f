package main

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"oauth-service/internal/cache"
	"oauth-service/internal/config"
	"oauth-service/internal/handlers"
	"oauth-service/internal/middleware"
	"oauth-service/internal/tokens"
)

// SetupRouter configures and returns the HTTP router with all routes and middleware
func SetupRouter(
	authorizeHandler *handlers.AuthorizeHandler,
	tokenHandler *handlers.TokenHandler,
	deviceHandler *handlers.DeviceHandler,
	introspectHandler *handlers.IntrospectHandler,
	revokeHandler *handlers.RevokeHandler,
	jwksHandler *handlers.JWKSHandler,
	oidcHandler *handlers.OIDCConfigurationHandler,
	validator *tokens.Validator,
	cacheClient cache.Cache,
	cfg *config.Config,
	logger *zap.Logger,
) *mux.Router {
	router := mux.NewRouter()

	// Add CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Add logging middleware
	router.Use(middleware.LoggingMiddleware(logger))

	requireUser := middleware.RequireUser(validator, logger)
	verifyIPLimit := middleware.IPRateLimitMiddleware(cacheClient, logger, cfg.DeviceVerifyIPLimit, cfg.DeviceVerifyIPWindow)

	// Discovery
	router.HandleFunc("/.well-known/openid-configuration", oidcHandler.HandleOIDCConfiguration).Methods("GET", "OPTIONS")
	router.HandleFunc("/.well-known/jwks.json", jwksHandler.HandleJWKS).Methods("GET", "OPTIONS")

	// Authorization endpoint requires an authenticated end user.
	router.Handle("/oauth/authorize",
		requireUser(http.HandlerFunc(authorizeHandler.HandleAuthorize))).Methods("POST", "OPTIONS")

	// OAuth2 endpoints
	router.HandleFunc("/oauth/token", tokenHandler.HandleToken).Methods("POST", "OPTIONS")
	router.HandleFunc("/oauth/device_authorization", deviceHandler.HandleDeviceAuthorization).Methods("POST", "OPTIONS")
	router.Handle("/oauth/device/verify",
		verifyIPLimit(requireUser(http.HandlerFunc(deviceHandler.HandleDeviceVerify)))).Methods("POST", "OPTIONS")
	router.HandleFunc("/oauth/introspect", introspectHandler.HandleIntrospect).Methods("POST", "OPTIONS")
	router.HandleFunc("/oauth/revoke", revokeHandler.HandleRevoke).Methods("POST", "OPTIONS")

	// Health check
	// @Summary     Health check endpoint
	// @Description Returns OK if the service is running
	// @Tags        health
	// @Produce     text/plain
	// @Success     200  {string}  string  "OK"
	// @Router      /health [get]
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Swagger documentation
	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	return router
}
