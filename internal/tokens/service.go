package tokens

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oauth-service/internal/cache"
	"oauth-service/internal/config"
	"oauth-service/internal/database"
	"oauth-service/internal/models"
	"oauth-service/internal/scopes"
	"oauth-service/pkg/oautherr"
)

// Service owns token issuance, refresh-token persistence, revocation, and
// introspection. It is the only component that marks codes consumed or
// mints signatures (through the generator and key manager).
type Service struct {
	repo      database.Repository
	cache     cache.Cache
	generator *Generator
	validator *Validator
	scopes    *scopes.Engine
	cfg       *config.Config
	logger    *zap.Logger
}

// NewService creates a token service.
func NewService(
	repo database.Repository,
	cache cache.Cache,
	generator *Generator,
	validator *Validator,
	scopeEngine *scopes.Engine,
	cfg *config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		generator: generator,
		validator: validator,
		scopes:    scopeEngine,
		cfg:       cfg,
		logger:    logger,
	}
}

// Validator exposes the access-token validator for middleware and
// introspection callers.
func (s *Service) Validator() *Validator {
	return s.validator
}

// IssueAuthorizationCode creates a single-use code bound to the client,
// redirect URI, granted scopes, PKCE challenge, nonce, and subject.
func (s *Service) IssueAuthorizationCode(ctx context.Context, client *models.Client, subject, redirectURI, scope, challenge, challengeMethod, nonce string) (string, error) {
	code, err := s.generator.Opaque()
	if err != nil {
		return "", oautherr.Wrap(err, oautherr.ErrServerError)
	}

	now := time.Now()
	row := &models.AuthorizationCode{
		Code:                code,
		ClientID:            client.ClientID,
		Subject:             subject,
		RedirectURI:         redirectURI,
		Scope:               scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: challengeMethod,
		Nonce:               nonce,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
		CreatedAt:           now,
	}

	if err := s.repo.InsertAuthorizationCode(ctx, row); err != nil {
		return "", oautherr.Wrap(err, oautherr.ErrServerError)
	}

	return code, nil
}

// IssueDeviceAuthorization creates a device/user code pair for an
// input-constrained client.
func (s *Service) IssueDeviceAuthorization(ctx context.Context, client *models.Client, scope string) (*models.DeviceAuthorization, error) {
	deviceCode, err := s.generator.Opaque()
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	userCode, err := s.generator.UserCode(s.cfg.UserCodeLength)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}

	now := time.Now()
	row := &models.DeviceAuthorization{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   client.ClientID,
		Scope:      scope,
		Status:     models.DeviceStatusPending,
		Interval:   s.cfg.DevicePollInterval,
		ExpiresAt:  now.Add(s.cfg.DeviceCodeTTL),
		CreatedAt:  now,
	}

	if err := s.repo.InsertDeviceAuthorization(ctx, row); err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}

	return row, nil
}

// ApproveDeviceAuthorization binds the authenticated subject and moves a
// pending device authorization to approved. Expired pending rows are
// transitioned to expired on observation.
func (s *Service) ApproveDeviceAuthorization(ctx context.Context, userCode, subject string) error {
	return s.resolveDeviceConsent(ctx, userCode, subject, models.DeviceStatusApproved)
}

// DenyDeviceAuthorization records the user's rejection.
func (s *Service) DenyDeviceAuthorization(ctx context.Context, userCode, subject string) error {
	return s.resolveDeviceConsent(ctx, userCode, subject, models.DeviceStatusDenied)
}

func (s *Service) resolveDeviceConsent(ctx context.Context, userCode, subject, toStatus string) error {
	da, err := s.repo.GetDeviceAuthorizationByUserCode(ctx, NormalizeUserCode(userCode))
	if err != nil {
		return oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if da == nil {
		return oautherr.WithDescription(oautherr.ErrInvalidRequest, "unknown user code")
	}

	if da.Expired(time.Now()) {
		_, _ = s.repo.TransitionDeviceAuthorization(ctx, da.DeviceCode, models.DeviceStatusPending, models.DeviceStatusExpired, "")
		return oautherr.ErrExpiredToken
	}

	ok, err := s.repo.TransitionDeviceAuthorization(ctx, da.DeviceCode, models.DeviceStatusPending, toStatus, subject)
	if err != nil {
		return oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if !ok {
		return oautherr.WithDescription(oautherr.ErrInvalidRequest, "authorization is no longer pending")
	}

	return nil
}

// issueTokens mints the access token, the ID token when the grant includes
// openid, and, when withRefresh is set, a persisted refresh token. A fresh
// rotation family is started unless familyID carries an existing one.
func (s *Service) issueTokens(ctx context.Context, client *models.Client, subject, scope, nonce, familyID string, withRefresh bool) (*models.TokenResponse, error) {
	audience := s.generator.AudienceFor(client)

	accessToken, _, err := s.generator.AccessToken(subject, client.ClientID, scope, audience)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}

	resp := &models.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.generator.AccessTokenTTL().Seconds()),
		Scope:       scope,
	}

	if scopes.Includes(scope, "openid") {
		idToken, err := s.generator.IDToken(subject, client.ClientID, nonce)
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}
		resp.IDToken = idToken
	}

	if withRefresh {
		refreshToken, err := s.generator.Opaque()
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}

		if familyID == "" {
			familyID = uuid.New().String()
		}

		now := time.Now()
		row := &models.RefreshToken{
			Token:     refreshToken,
			FamilyID:  familyID,
			ClientID:  client.ClientID,
			Subject:   subject,
			Scope:     scope,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
			CreatedAt: now,
		}
		if err := s.repo.InsertRefreshToken(ctx, row); err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}

		resp.RefreshToken = refreshToken
	}

	return resp, nil
}

// refreshEligible reports whether a grant for this client may include a
// refresh token. Public clients never receive one.
func refreshEligible(client *models.Client) bool {
	return client.Confidential() && client.AllowsGrant("refresh_token")
}

// Revoke invalidates a token presented by its owning client (RFC 7009).
// Refresh tokens take their whole rotation family down; access tokens land
// on the jti revocation list for their remaining lifetime. Unknown tokens
// are not an error.
func (s *Service) Revoke(ctx context.Context, client *models.Client, token string) error {
	rt, err := s.repo.GetRefreshToken(ctx, token)
	if err != nil {
		return oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if rt != nil {
		if rt.ClientID != client.ClientID {
			// Not this client's token; treat as unknown.
			return nil
		}
		if _, err := s.repo.RevokeRefreshTokenFamily(ctx, rt.FamilyID); err != nil {
			return oautherr.Wrap(err, oautherr.ErrServerError)
		}
		return nil
	}

	claims, err := s.validator.Validate(ctx, token)
	if err != nil {
		// Unknown or already-invalid token: revocation succeeds vacuously.
		return nil
	}
	if claims.ClientID != client.ClientID {
		return nil
	}
	if claims.JTI != "" {
		ttl := time.Until(claims.ExpiresAt)
		if ttl > 0 {
			if err := s.cache.RevokeJTI(ctx, claims.JTI, ttl); err != nil {
				return oautherr.Wrap(err, oautherr.ErrServerError)
			}
		}
	}
	return nil
}

// Introspect reports a token's status and claims (RFC 7662). Any failure
// yields an inactive response rather than an error, so callers cannot probe
// the difference between expired, revoked, and foreign tokens.
func (s *Service) Introspect(ctx context.Context, client *models.Client, token string) *models.IntrospectionResponse {
	inactive := &models.IntrospectionResponse{Active: false}

	if claims, err := s.validator.Validate(ctx, token); err == nil {
		if claims.ClientID != client.ClientID {
			return inactive
		}
		return &models.IntrospectionResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  claims.ClientID,
			Subject:   claims.Subject,
			TokenType: "Bearer",
			ExpiresAt: claims.ExpiresAt.Unix(),
			IssuedAt:  claims.IssuedAt.Unix(),
			Issuer:    s.cfg.Issuer,
			JTI:       claims.JTI,
		}
	}

	rt, err := s.repo.GetRefreshToken(ctx, token)
	if err != nil || rt == nil {
		return inactive
	}
	if rt.ClientID != client.ClientID || !rt.Redeemable(time.Now()) {
		return inactive
	}

	return &models.IntrospectionResponse{
		Active:    true,
		Scope:     rt.Scope,
		ClientID:  rt.ClientID,
		Subject:   rt.Subject,
		TokenType: "refresh_token",
		ExpiresAt: rt.ExpiresAt.Unix(),
		IssuedAt:  rt.CreatedAt.Unix(),
		Issuer:    s.cfg.Issuer,
	}
}
