package tokens

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"oauth-service/internal/models"
	"oauth-service/pkg/oautherr"
)

// Grant type identifiers accepted at the token endpoint. The RFC 8628 URN
// is accepted as an alias for device_code.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "device_code"
	GrantTypeDeviceCodeURN     = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeClientCredentials = "client_credentials"
)

// slowDownIncrement is added to the effective polling interval every time a
// device client polls faster than advertised.
const slowDownIncrement = 5

// Grant is one redemption attempt at the token endpoint. Each grant type is
// its own variant; the handler dispatches by an explicit switch in GrantFor.
type Grant interface {
	Redeem(ctx context.Context) (*models.TokenResponse, error)
}

// GrantFor builds the grant variant for an authenticated client's token
// request. Grant types the client is not registered for fail with
// unauthorized_client.
func (s *Service) GrantFor(client *models.Client, form url.Values) (Grant, error) {
	grantType := form.Get("grant_type")
	if grantType == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing grant_type")
	}
	if grantType == GrantTypeDeviceCodeURN {
		grantType = GrantTypeDeviceCode
	}

	switch grantType {
	case GrantTypeAuthorizationCode:
		if !client.AllowsGrant(GrantTypeAuthorizationCode) {
			return nil, oautherr.ErrUnauthorizedClient
		}
		return &AuthorizationCodeGrant{
			svc:          s,
			client:       client,
			code:         form.Get("code"),
			redirectURI:  form.Get("redirect_uri"),
			codeVerifier: form.Get("code_verifier"),
		}, nil

	case GrantTypeRefreshToken:
		if !client.AllowsGrant(GrantTypeRefreshToken) {
			return nil, oautherr.ErrUnauthorizedClient
		}
		return &RefreshTokenGrant{
			svc:          s,
			client:       client,
			refreshToken: form.Get("refresh_token"),
		}, nil

	case GrantTypeDeviceCode:
		if !client.AllowsGrant(GrantTypeDeviceCode) && !client.AllowsGrant(GrantTypeDeviceCodeURN) {
			return nil, oautherr.ErrUnauthorizedClient
		}
		return &DeviceCodeGrant{
			svc:        s,
			client:     client,
			deviceCode: form.Get("device_code"),
		}, nil

	case GrantTypeClientCredentials:
		if client.Public {
			return nil, oautherr.ErrUnauthorizedClient
		}
		if !client.AllowsGrant(GrantTypeClientCredentials) {
			return nil, oautherr.ErrUnauthorizedClient
		}
		return &ClientCredentialsGrant{
			svc:    s,
			client: client,
			scope:  form.Get("scope"),
		}, nil

	default:
		return nil, oautherr.ErrUnsupportedGrantType
	}
}

// AuthorizationCodeGrant exchanges a single-use authorization code.
type AuthorizationCodeGrant struct {
	svc          *Service
	client       *models.Client
	code         string
	redirectURI  string
	codeVerifier string
}

// Redeem consumes the code and mints tokens. The code is consumed on the
// first exchange attempt regardless of the outcome, so a failed attempt
// burns it and every later attempt fails with invalid_grant.
func (g *AuthorizationCodeGrant) Redeem(ctx context.Context) (*models.TokenResponse, error) {
	if g.code == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing code")
	}
	if g.redirectURI == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing redirect_uri")
	}

	row, err := g.svc.repo.GetAuthorizationCode(ctx, g.code)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if row == nil {
		return nil, oautherr.ErrInvalidGrant
	}

	// Consume before validating anything else: exactly one of any number of
	// concurrent exchange attempts can win this conditional update.
	consumed, err := g.svc.repo.ConsumeAuthorizationCode(ctx, g.code)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if !consumed {
		g.svc.logger.Warn("Authorization code replay attempt",
			zap.String("client_id", g.client.ClientID))
		return nil, oautherr.ErrInvalidGrant
	}

	if row.Expired(time.Now()) {
		return nil, oautherr.ErrInvalidGrant
	}
	if row.ClientID != g.client.ClientID {
		return nil, oautherr.ErrInvalidGrant
	}
	if row.RedirectURI != g.redirectURI {
		return nil, oautherr.ErrInvalidGrant
	}

	if row.CodeChallenge != "" {
		if g.codeVerifier == "" || !VerifyChallenge(row.CodeChallenge, g.codeVerifier) {
			return nil, oautherr.ErrInvalidGrant
		}
	} else if g.client.RequirePKCE || g.client.Public {
		// A code without a challenge should not exist for these clients;
		// fail closed rather than skip verification.
		return nil, oautherr.ErrInvalidGrant
	}

	return g.svc.issueTokens(ctx, g.client, row.Subject, row.Scope, row.Nonce, "", refreshEligible(g.client))
}

// RefreshTokenGrant rotates a refresh token. Reuse of an already-rotated
// token is treated as theft and revokes the entire family.
type RefreshTokenGrant struct {
	svc          *Service
	client       *models.Client
	refreshToken string
}

// Redeem rotates the token and mints a fresh token set.
func (g *RefreshTokenGrant) Redeem(ctx context.Context) (*models.TokenResponse, error) {
	if g.refreshToken == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing refresh_token")
	}

	row, err := g.svc.repo.GetRefreshToken(ctx, g.refreshToken)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if row == nil || row.ClientID != g.client.ClientID {
		return nil, oautherr.ErrInvalidGrant
	}

	if time.Now().After(row.ExpiresAt) {
		return nil, oautherr.ErrInvalidGrant
	}

	if row.RotatedAt != nil || row.RevokedAt != nil {
		return nil, g.revokeFamilyOnReuse(ctx, row)
	}

	newToken, err := g.svc.generator.Opaque()
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}

	rotated, err := g.svc.repo.RotateRefreshToken(ctx, g.refreshToken, newToken)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if !rotated {
		// Lost a race against a concurrent redemption of the same token.
		return nil, g.revokeFamilyOnReuse(ctx, row)
	}

	now := time.Now()
	newRow := &models.RefreshToken{
		Token:     newToken,
		FamilyID:  row.FamilyID,
		ClientID:  row.ClientID,
		Subject:   row.Subject,
		Scope:     row.Scope,
		ExpiresAt: now.Add(g.svc.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := g.svc.repo.InsertRefreshToken(ctx, newRow); err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}

	resp, err := g.svc.issueTokens(ctx, g.client, row.Subject, row.Scope, "", "", false)
	if err != nil {
		return nil, err
	}
	resp.RefreshToken = newToken
	return resp, nil
}

// revokeFamilyOnReuse handles the theft signal. The caller only ever sees
// invalid_grant; the security event lives in the logs.
func (g *RefreshTokenGrant) revokeFamilyOnReuse(ctx context.Context, row *models.RefreshToken) error {
	n, err := g.svc.repo.RevokeRefreshTokenFamily(ctx, row.FamilyID)
	if err != nil {
		return oautherr.Wrap(err, oautherr.ErrServerError)
	}
	g.svc.logger.Warn("Refresh token reuse detected, family revoked",
		zap.String("client_id", row.ClientID),
		zap.String("family_id", row.FamilyID),
		zap.Int64("tokens_revoked", n))
	return oautherr.ErrInvalidGrant
}

// DeviceCodeGrant is one poll of the device authorization state machine.
type DeviceCodeGrant struct {
	svc        *Service
	client     *models.Client
	deviceCode string
}

// Redeem answers a poll. The server is purely reactive: state transitions
// are keyed by absolute timestamps and conditional updates, never timers.
func (g *DeviceCodeGrant) Redeem(ctx context.Context) (*models.TokenResponse, error) {
	if g.deviceCode == "" {
		return nil, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing device_code")
	}

	row, err := g.svc.repo.GetDeviceAuthorizationByDeviceCode(ctx, g.deviceCode)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if row == nil || row.ClientID != g.client.ClientID {
		return nil, oautherr.ErrInvalidGrant
	}

	interval := time.Duration(row.Interval) * time.Second
	reserved, err := g.svc.cache.ReserveDevicePoll(ctx, g.deviceCode, interval)
	if err != nil {
		return nil, oautherr.Wrap(err, oautherr.ErrServerError)
	}
	if !reserved {
		if err := g.svc.repo.UpdateDeviceInterval(ctx, g.deviceCode, row.Interval+slowDownIncrement); err != nil {
			g.svc.logger.Warn("Failed to increase device poll interval", zap.Error(err))
		}
		return nil, oautherr.ErrSlowDown
	}

	switch row.Status {
	case models.DeviceStatusPending:
		if row.Expired(time.Now()) {
			_, _ = g.svc.repo.TransitionDeviceAuthorization(ctx, g.deviceCode, models.DeviceStatusPending, models.DeviceStatusExpired, "")
			return nil, oautherr.ErrExpiredToken
		}
		return nil, oautherr.ErrAuthorizationPending

	case models.DeviceStatusDenied:
		return nil, oautherr.ErrAccessDenied

	case models.DeviceStatusExpired:
		return nil, oautherr.ErrExpiredToken

	case models.DeviceStatusApproved:
		if row.Expired(time.Now()) {
			return nil, oautherr.ErrExpiredToken
		}
		ok, err := g.svc.repo.TransitionDeviceAuthorization(ctx, g.deviceCode, models.DeviceStatusApproved, models.DeviceStatusConsumed, "")
		if err != nil {
			return nil, oautherr.Wrap(err, oautherr.ErrServerError)
		}
		if !ok {
			return nil, oautherr.ErrInvalidGrant
		}
		return g.svc.issueTokens(ctx, g.client, row.Subject, row.Scope, "", "", refreshEligible(g.client))

	default:
		// Consumed or unknown state: replays after issuance fail here.
		return nil, oautherr.ErrInvalidGrant
	}
}

// ClientCredentialsGrant issues a token for the client itself.
type ClientCredentialsGrant struct {
	svc    *Service
	client *models.Client
	scope  string
}

// Redeem resolves scopes (no consent step exists for this grant, so
// dangerous scopes require a trusted client) and mints an access token with
// the client as subject. No refresh or ID token is issued.
func (g *ClientCredentialsGrant) Redeem(ctx context.Context) (*models.TokenResponse, error) {
	granted, err := g.svc.scopes.Resolve(ctx, g.scope, g.client, false)
	if err != nil {
		return nil, err
	}

	return g.svc.issueTokens(ctx, g.client, g.client.ClientID, granted, "", "", false)
}
