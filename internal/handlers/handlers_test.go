package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"oauth-service/internal/clients"
	"oauth-service/internal/config"
	"oauth-service/internal/keys"
	"oauth-service/internal/middleware"
	"oauth-service/internal/mocks"
	"oauth-service/internal/models"
	"oauth-service/internal/scopes"
	"oauth-service/internal/tokens"
)

const (
	testSecret  = "s3cret-value"
	testBaseURL = "https://id.example.com"
)

type fixture struct {
	repo      *mocks.MockRepository
	cache     *mocks.MockCache
	generator *tokens.Generator
	validator *tokens.Validator
	clients   *clients.Authenticator
	scopes    *scopes.Engine
	tokens    *tokens.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return([]models.SigningKey{}, nil)
	repo.On("InsertSigningKeyAsPrimary", mock.Anything, mock.AnythingOfType("*models.SigningKey"), mock.Anything).Return(nil)
	cache := new(mocks.MockCache)

	km, err := keys.NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	gen := tokens.NewGenerator(km, "test-issuer", "test-audience", time.Hour, time.Hour, 32)
	validator := tokens.NewValidator(km, "test-issuer", cache)
	engine := scopes.NewEngine(repo, cache, zap.NewNop())
	clientAuth := clients.NewAuthenticator(repo, cache, 100, zap.NewNop())

	cfg := &config.Config{
		Issuer:             "test-issuer",
		BaseURL:            testBaseURL,
		AccessTokenTTL:     time.Hour,
		IDTokenTTL:         time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
		AuthCodeTTL:        5 * time.Minute,
		DeviceCodeTTL:      15 * time.Minute,
		DevicePollInterval: 5,
		UserCodeLength:     8,
	}

	svc := tokens.NewService(repo, cache, gen, validator, engine, cfg, zap.NewNop())

	return &fixture{
		repo:      repo,
		cache:     cache,
		generator: gen,
		validator: validator,
		clients:   clientAuth,
		scopes:    engine,
		tokens:    svc,
	}
}

func (f *fixture) registerClient(t *testing.T, client *models.Client) {
	t.Helper()
	f.cache.On("GetClient", mock.Anything, client.ClientID).Return(client, nil)
	f.repo.On("TouchClient", mock.Anything, client.ClientID).Return(nil)
}

func (f *fixture) registerCatalog(catalog []models.Scope) {
	f.cache.On("GetScopeCatalog", mock.Anything).Return(catalog, nil)
}

func (f *fixture) sessionToken(t *testing.T, subject string) string {
	t.Helper()
	f.cache.On("IsJTIRevoked", mock.Anything, mock.Anything).Return(false, nil)
	token, _, err := f.generator.AccessToken(subject, "session-app", "openid", "test-audience")
	require.NoError(t, err)
	return token
}

func confidentialClient(t *testing.T, clientID string, grantTypes ...string) *models.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.Client{
		ClientID:         clientID,
		ClientSecretHash: string(hash),
		GrantTypes:       grantTypes,
		AllowedScopes:    []string{"openid", "profile", "read:data"},
		RedirectURIs:     []string{"https://app.example.com/callback"},
	}
}

func defaultCatalog() []models.Scope {
	return []models.Scope{
		{Name: "openid", IsOIDC: true, IsDefault: true, IsPublic: true},
		{Name: "profile", IsOIDC: true, IsPublic: true},
		{Name: "read:data", IsPublic: true},
	}
}

func tokenChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTokenEndpointClientCredentials(t *testing.T) {
	f := newFixture(t)
	f.registerClient(t, confidentialClient(t, "batch-job", "client_credentials"))
	f.registerCatalog(defaultCatalog())
	f.cache.On("CheckRateLimit", mock.Anything, "client:batch-job", 100, mock.Anything).Return(false, nil)

	handler := NewTokenHandler(f.clients, f.tokens, zap.NewNop())

	req := postForm("/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"batch-job"},
		"client_secret": {testSecret},
		"scope":         {"read:data"},
	})
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "read:data", body["scope"])
	assert.Nil(t, body["refresh_token"])
}

func TestTokenEndpointInvalidClient(t *testing.T) {
	f := newFixture(t)
	f.cache.On("GetClient", mock.Anything, "ghost").Return(nil, nil)
	f.repo.On("GetClientByClientID", mock.Anything, "ghost").Return(nil, nil)

	handler := NewTokenHandler(f.clients, f.tokens, zap.NewNop())

	req := postForm("/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"ghost"},
		"client_secret": {"whatever"},
	})
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, "invalid_client", decodeBody(t, rec)["error"])
}

func TestTokenEndpointRateLimited(t *testing.T) {
	f := newFixture(t)
	f.registerClient(t, confidentialClient(t, "batch-job", "client_credentials"))
	f.cache.On("CheckRateLimit", mock.Anything, "client:batch-job", 100, mock.Anything).Return(true, nil)

	handler := NewTokenHandler(f.clients, f.tokens, zap.NewNop())

	req := postForm("/oauth/token", url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"batch-job"},
		"client_secret": {testSecret},
	})
	rec := httptest.NewRecorder()
	handler.HandleToken(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "slow_down", decodeBody(t, rec)["error"])
}

func TestAuthorizeEndpoint(t *testing.T) {
	verifier := strings.Repeat("v", 50)
	challenge := tokenChallenge(verifier)

	newAuthorizeRequest := func(f *fixture, t *testing.T, overrides url.Values) *http.Request {
		values := url.Values{
			"response_type":         {"code"},
			"client_id":             {"web-app"},
			"redirect_uri":          {"https://app.example.com/callback"},
			"scope":                 {"openid profile"},
			"state":                 {"xyz"},
			"code_challenge":        {challenge},
			"code_challenge_method": {"S256"},
			"approve":               {"true"},
		}
		for k, v := range overrides {
			values[k] = v
		}
		req := postForm("/oauth/authorize", values)
		req.Header.Set("Authorization", "Bearer "+f.sessionToken(t, "user-42"))
		return req
	}

	setup := func(t *testing.T) (*fixture, http.Handler) {
		f := newFixture(t)
		client := confidentialClient(t, "web-app", "authorization_code", "refresh_token")
		client.RequirePKCE = true
		f.registerClient(t, client)
		f.registerCatalog(defaultCatalog())

		h := NewAuthorizeHandler(f.clients, f.scopes, f.tokens, zap.NewNop())
		wrapped := middleware.RequireUser(f.validator, zap.NewNop())(http.HandlerFunc(h.HandleAuthorize))
		return f, wrapped
	}

	t.Run("approval redirects with a code", func(t *testing.T) {
		f, handler := setup(t)
		f.repo.On("InsertAuthorizationCode", mock.Anything, mock.AnythingOfType("*models.AuthorizationCode")).Return(nil)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newAuthorizeRequest(f, t, nil))

		require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "app.example.com", location.Host)
		assert.NotEmpty(t, location.Query().Get("code"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
	})

	t.Run("denial redirects with access_denied", func(t *testing.T) {
		f, handler := setup(t)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newAuthorizeRequest(f, t, url.Values{"approve": {"false"}}))

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "access_denied", location.Query().Get("error"))
		assert.Equal(t, "xyz", location.Query().Get("state"))
	})

	t.Run("unregistered redirect_uri fails without redirecting", func(t *testing.T) {
		f, handler := setup(t)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newAuthorizeRequest(f, t, url.Values{
			"redirect_uri": {"https://evil.example.com/callback"},
		}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, rec.Header().Get("Location"))
		assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
	})

	t.Run("missing PKCE challenge redirects with invalid_request", func(t *testing.T) {
		f, handler := setup(t)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newAuthorizeRequest(f, t, url.Values{
			"code_challenge":        {""},
			"code_challenge_method": {""},
		}))

		require.Equal(t, http.StatusFound, rec.Code)
		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "invalid_request", location.Query().Get("error"))
	})

	t.Run("no session yields 401", func(t *testing.T) {
		_, handler := setup(t)

		req := postForm("/oauth/authorize", url.Values{"client_id": {"web-app"}})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestDeviceAuthorizationEndpoint(t *testing.T) {
	f := newFixture(t)
	client := &models.Client{
		ClientID:      "tv-app",
		Public:        true,
		GrantTypes:    []string{"urn:ietf:params:oauth:grant-type:device_code"},
		AllowedScopes: []string{"profile"},
	}
	f.registerClient(t, client)
	f.registerCatalog(defaultCatalog())
	f.cache.On("CheckRateLimit", mock.Anything, "client:tv-app", 100, mock.Anything).Return(false, nil)
	f.repo.On("InsertDeviceAuthorization", mock.Anything, mock.AnythingOfType("*models.DeviceAuthorization")).Return(nil)

	handler := NewDeviceHandler(f.clients, f.scopes, f.tokens, testBaseURL, zap.NewNop())

	req := postForm("/oauth/device_authorization", url.Values{
		"client_id": {"tv-app"},
		"scope":     {"profile"},
	})
	rec := httptest.NewRecorder()
	handler.HandleDeviceAuthorization(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["device_code"])
	assert.Contains(t, body["user_code"], "-")
	assert.Equal(t, testBaseURL+"/oauth/device/verify", body["verification_uri"])
	assert.Contains(t, body["verification_uri_complete"], "user_code=")
	assert.Equal(t, float64(5), body["interval"])
}

func TestDeviceVerifyEndpoint(t *testing.T) {
	f := newFixture(t)
	row := &models.DeviceAuthorization{
		DeviceCode: "dc-1",
		UserCode:   "BXKM-QHTZ",
		ClientID:   "tv-app",
		Scope:      "profile",
		Status:     models.DeviceStatusPending,
		Interval:   5,
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
	f.repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, "BXKM-QHTZ").Return(row, nil)
	f.repo.On("TransitionDeviceAuthorization", mock.Anything, "dc-1", models.DeviceStatusPending, models.DeviceStatusApproved, "user-42").Return(true, nil)

	h := NewDeviceHandler(f.clients, f.scopes, f.tokens, testBaseURL, zap.NewNop())
	handler := middleware.RequireUser(f.validator, zap.NewNop())(http.HandlerFunc(h.HandleDeviceVerify))

	req := postForm("/oauth/device/verify", url.Values{
		"user_code": {"bxkm qhtz"},
		"action":    {"approve"},
	})
	req.Header.Set("Authorization", "Bearer "+f.sessionToken(t, "user-42"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decodeBody(t, rec)["status"])
}

func TestIntrospectEndpoint(t *testing.T) {
	t.Run("public client is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.registerClient(t, &models.Client{ClientID: "cli-tool", Public: true})

		handler := NewIntrospectHandler(f.clients, f.tokens, zap.NewNop())

		req := postForm("/oauth/introspect", url.Values{
			"client_id": {"cli-tool"},
			"token":     {"whatever"},
		})
		rec := httptest.NewRecorder()
		handler.HandleIntrospect(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown token reports inactive", func(t *testing.T) {
		f := newFixture(t)
		f.registerClient(t, confidentialClient(t, "web-app", "authorization_code"))
		f.repo.On("GetRefreshToken", mock.Anything, "garbage").Return(nil, nil)

		handler := NewIntrospectHandler(f.clients, f.tokens, zap.NewNop())

		req := postForm("/oauth/introspect", url.Values{
			"client_id":     {"web-app"},
			"client_secret": {testSecret},
			"token":         {"garbage"},
		})
		rec := httptest.NewRecorder()
		handler.HandleIntrospect(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["active"])
	})
}

func TestRevokeEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerClient(t, confidentialClient(t, "web-app", "authorization_code"))
	f.repo.On("GetRefreshToken", mock.Anything, "unknown-token").Return(nil, nil)

	handler := NewRevokeHandler(f.clients, f.tokens, zap.NewNop())

	req := postForm("/oauth/revoke", url.Values{
		"client_id":     {"web-app"},
		"client_secret": {testSecret},
		"token":         {"unknown-token"},
	})
	rec := httptest.NewRecorder()
	handler.HandleRevoke(rec, req)

	// Revoking an unknown token is still a success (RFC 7009 §2.2).
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWKSEndpoint(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return([]models.SigningKey{}, nil)
	repo.On("InsertSigningKeyAsPrimary", mock.Anything, mock.AnythingOfType("*models.SigningKey"), mock.Anything).Return(nil)
	km, err := keys.NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	handler := NewJWKSHandler(km, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleJWKS(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var body struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	assert.Equal(t, "RSA", body.Keys[0]["kty"])
	assert.Equal(t, "RS256", body.Keys[0]["alg"])
	assert.Equal(t, "sig", body.Keys[0]["use"])
	assert.NotEmpty(t, body.Keys[0]["kid"])
	assert.Nil(t, body.Keys[0]["d"])
}

func TestOIDCConfigurationEndpoint(t *testing.T) {
	f := newFixture(t)
	f.registerCatalog(defaultCatalog())

	handler := NewOIDCConfigurationHandler(testBaseURL, "test-issuer", f.scopes, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleOIDCConfiguration(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var doc OIDCConfiguration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "test-issuer", doc.Issuer)
	assert.Equal(t, testBaseURL+"/oauth/authorize", doc.AuthorizationEndpoint)
	assert.Equal(t, testBaseURL+"/oauth/token", doc.TokenEndpoint)
	assert.Equal(t, testBaseURL+"/oauth/device_authorization", doc.DeviceAuthorizationEndpoint)
	assert.Equal(t, testBaseURL+"/.well-known/jwks.json", doc.JwksURI)
	assert.Equal(t, []string{"S256"}, doc.CodeChallengeMethodsSupported)
	assert.Contains(t, doc.GrantTypesSupported, "authorization_code")
	assert.Contains(t, doc.GrantTypesSupported, "urn:ietf:params:oauth:grant-type:device_code")
	assert.Equal(t, []string{"openid", "profile", "read:data"}, doc.ScopesSupported)
}
