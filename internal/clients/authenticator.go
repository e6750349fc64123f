package clients

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"oauth-service/internal/cache"
	"oauth-service/internal/database"
	"oauth-service/internal/models"
	"oauth-service/pkg/oautherr"
)

const clientCacheTTL = 15 * time.Minute

// Authenticator validates registered OAuth clients at protocol endpoints.
// It supports client_secret_basic, client_secret_post, and none (public
// clients). Every failure mode surfaces as invalid_client so callers learn
// nothing about which check rejected them.
type Authenticator struct {
	repo             database.Repository
	cache            cache.Cache
	logger           *zap.Logger
	defaultRateLimit int
}

// NewAuthenticator creates a client authenticator.
func NewAuthenticator(repo database.Repository, cache cache.Cache, defaultRateLimit int, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		repo:             repo,
		cache:            cache,
		logger:           logger,
		defaultRateLimit: defaultRateLimit,
	}
}

// credentials are the client id/secret extracted from the request plus the
// authentication method that carried them.
type credentials struct {
	clientID     string
	clientSecret string
	method       string
}

// extractCredentials pulls client credentials from the Basic header or the
// form body. Basic credentials are form-urlencoded per RFC 6749 §2.3.1.
func extractCredentials(r *http.Request) (*credentials, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		decodedID, err := url.QueryUnescape(id)
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrInvalidClient)
		}
		decodedSecret, err := url.QueryUnescape(secret)
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrInvalidClient)
		}
		return &credentials{
			clientID:     decodedID,
			clientSecret: decodedSecret,
			method:       models.AuthMethodBasic,
		}, nil
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")
	if clientID == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidClient, "missing client credentials")
	}

	method := models.AuthMethodNone
	if clientSecret != "" {
		method = models.AuthMethodPost
	}

	return &credentials{
		clientID:     clientID,
		clientSecret: clientSecret,
		method:       method,
	}, nil
}

// Authenticate resolves and authenticates the client behind an OAuth
// request. On success the returned client carries the capability descriptor
// (scopes, redirect URIs, grant types, PKCE and trust flags) downstream
// components gate on. No stored state is mutated beyond the updated_at
// touch.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*models.Client, error) {
	creds, err := extractCredentials(r)
	if err != nil {
		return nil, err
	}

	client, err := a.lookup(ctx, creds.clientID)
	if err != nil {
		return nil, err
	}
	if client == nil || client.Disabled {
		// Burn a comparison on a static hash so unknown and wrong-secret
		// clients are indistinguishable by timing.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(creds.clientSecret))
		return nil, oautherr.ErrInvalidClient
	}

	if !client.AllowsAuthMethod(creds.method) {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidClient, "authentication method not allowed for this client")
	}

	// Confidential clients must always prove possession of the secret,
	// regardless of how the request was otherwise formed. Public clients
	// carry no secret and skip verification entirely.
	if client.Confidential() {
		if creds.clientSecret == "" {
			return nil, oautherr.ErrInvalidClient
		}
		if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(creds.clientSecret)); err != nil {
			return nil, oautherr.ErrInvalidClient
		}
	}

	if err := a.repo.TouchClient(ctx, client.ClientID); err != nil {
		a.logger.Warn("Failed to touch client", zap.Error(err))
	}

	return client, nil
}

// AuthenticateConfidential is the gate for introspection and revocation:
// the client must authenticate and must not be public.
func (a *Authenticator) AuthenticateConfidential(ctx context.Context, r *http.Request) (*models.Client, error) {
	client, err := a.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	if client.Public {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidClient, "public clients may not use this endpoint")
	}
	return client, nil
}

// LookupClient resolves a registered, enabled client by id without
// authenticating it. The authorization endpoint identifies clients by
// client_id alone; secrets only travel to the token endpoint.
func (a *Authenticator) LookupClient(ctx context.Context, clientID string) (*models.Client, error) {
	if clientID == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing client_id")
	}
	client, err := a.lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil || client.Disabled {
		return nil, oautherr.ErrInvalidClient
	}
	return client, nil
}

// CheckRateLimit enforces the client's coarse-window request budget.
func (a *Authenticator) CheckRateLimit(ctx context.Context, client *models.Client) error {
	limit := client.RateLimit
	if limit <= 0 {
		limit = a.defaultRateLimit
	}

	exceeded, err := a.cache.CheckRateLimit(ctx, "client:"+client.ClientID, limit, time.Minute)
	if err != nil {
		return oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if exceeded {
		return oautherr.ErrRateLimited
	}
	return nil
}

// lookup reads the client through the cache with a repository fallback.
func (a *Authenticator) lookup(ctx context.Context, clientID string) (*models.Client, error) {
	client, err := a.cache.GetClient(ctx, clientID)
	if err != nil {
		a.logger.Error("Failed to get client from cache", zap.Error(err))
	}

	if client == nil {
		client, err = a.repo.GetClientByClientID(ctx, clientID)
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}
		if client == nil {
			return nil, nil
		}
		if err := a.cache.SetClient(ctx, client, clientCacheTTL); err != nil {
			a.logger.Warn("Failed to cache client", zap.Error(err))
		}
	}

	return client, nil
}
