package scopes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oauth-service/internal/mocks"
	"oauth-service/internal/models"
	"oauth-service/pkg/oautherr"
)

func testCatalog() []models.Scope {
	return []models.Scope{
		{Name: "openid", IsOIDC: true, IsDefault: true, IsPublic: true},
		{Name: "profile", IsOIDC: true, IsDefault: true, IsPublic: true},
		{Name: "read:data", IsPublic: true},
		{Name: "admin:delete", IsDangerous: true},
		{Name: "payments:write", RequiresVerification: true},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cache := new(mocks.MockCache)
	cache.On("GetScopeCatalog", mock.Anything).Return(testCatalog(), nil)
	return NewEngine(new(mocks.MockRepository), cache, zap.NewNop())
}

func assertScopeError(t *testing.T, err error) {
	t.Helper()
	var protoErr *oautherr.Error
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "invalid_scope", protoErr.Code)
}

func TestResolveEmptyRequestGrantsAllowedDefaults(t *testing.T) {
	engine := newTestEngine(t)
	client := &models.Client{AllowedScopes: []string{"openid", "read:data"}}

	granted, err := engine.Resolve(context.Background(), "", client, false)
	require.NoError(t, err)
	// profile is a default scope but not in the client allow-list.
	assert.Equal(t, "openid", granted)
}

func TestResolveCanonicalOrderAndDedup(t *testing.T) {
	engine := newTestEngine(t)
	client := &models.Client{AllowedScopes: []string{"openid", "profile", "read:data"}}

	granted, err := engine.Resolve(context.Background(), "read:data openid profile openid", client, false)
	require.NoError(t, err)
	assert.Equal(t, "openid profile read:data", granted)
}

func TestResolveUnknownScope(t *testing.T) {
	engine := newTestEngine(t)
	client := &models.Client{AllowedScopes: []string{"openid"}}

	_, err := engine.Resolve(context.Background(), "does:not:exist", client, false)
	assertScopeError(t, err)
}

func TestResolveScopeNotAllowedForClient(t *testing.T) {
	engine := newTestEngine(t)
	client := &models.Client{AllowedScopes: []string{"openid"}}

	_, err := engine.Resolve(context.Background(), "read:data", client, false)
	assertScopeError(t, err)
}

func TestResolveDangerousScope(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name            string
		trusted         bool
		consentSurfaced bool
		wantErr         bool
	}{
		{name: "untrusted without consent", trusted: false, consentSurfaced: false, wantErr: true},
		{name: "untrusted with consent", trusted: false, consentSurfaced: true, wantErr: false},
		{name: "trusted without consent", trusted: true, consentSurfaced: false, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &models.Client{
				AllowedScopes: []string{"admin:delete"},
				Trusted:       tt.trusted,
			}
			_, err := engine.Resolve(context.Background(), "admin:delete", client, tt.consentSurfaced)
			if tt.wantErr {
				assertScopeError(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveVerificationGatedScope(t *testing.T) {
	engine := newTestEngine(t)

	unverified := &models.Client{AllowedScopes: []string{"payments:write"}, Trusted: true}
	_, err := engine.Resolve(context.Background(), "payments:write", unverified, true)
	assertScopeError(t, err)

	verified := &models.Client{AllowedScopes: []string{"payments:write"}, Verified: true}
	granted, err := engine.Resolve(context.Background(), "payments:write", verified, true)
	require.NoError(t, err)
	assert.Equal(t, "payments:write", granted)
}

func TestCatalogFallsBackToRepository(t *testing.T) {
	cache := new(mocks.MockCache)
	cache.On("GetScopeCatalog", mock.Anything).Return(nil, nil)
	cache.On("SetScopeCatalog", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	repo := new(mocks.MockRepository)
	repo.On("ListScopes", mock.Anything).Return(testCatalog(), nil)

	engine := NewEngine(repo, cache, zap.NewNop())
	client := &models.Client{AllowedScopes: []string{"openid"}}

	granted, err := engine.Resolve(context.Background(), "openid", client, false)
	require.NoError(t, err)
	assert.Equal(t, "openid", granted)

	repo.AssertCalled(t, "ListScopes", mock.Anything)
	cache.AssertCalled(t, "SetScopeCatalog", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublicScopeNames(t *testing.T) {
	engine := newTestEngine(t)

	names, err := engine.PublicScopeNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile", "read:data"}, names)
}

func TestIncludes(t *testing.T) {
	assert.True(t, Includes("openid profile read:data", "profile"))
	assert.False(t, Includes("openid profile", "read:data"))
	assert.False(t, Includes("", "openid"))
}
