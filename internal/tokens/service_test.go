package tokens

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"oauth-service/internal/models"
)

func TestIssueAuthorizationCode(t *testing.T) {
	svc, repo, _ := newTestService(t)

	var inserted *models.AuthorizationCode
	repo.On("InsertAuthorizationCode", mock.Anything, mock.AnythingOfType("*models.AuthorizationCode")).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.AuthorizationCode)
		}).Return(nil)

	code, err := svc.IssueAuthorizationCode(
		context.Background(),
		webAppClient(),
		"user-42",
		"https://app.example.com/callback",
		"openid profile",
		challengeFor(strings.Repeat("v", 50)),
		CodeChallengeMethodS256,
		"n-123",
	)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	require.NotNil(t, inserted)
	assert.Equal(t, code, inserted.Code)
	assert.Equal(t, "web-app", inserted.ClientID)
	assert.Equal(t, "user-42", inserted.Subject)
	assert.Equal(t, "n-123", inserted.Nonce)
	assert.Nil(t, inserted.ConsumedAt)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), inserted.ExpiresAt, 5*time.Second)
}

func TestIssueDeviceAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t)

	var inserted *models.DeviceAuthorization
	repo.On("InsertDeviceAuthorization", mock.Anything, mock.AnythingOfType("*models.DeviceAuthorization")).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.DeviceAuthorization)
		}).Return(nil)

	da, err := svc.IssueDeviceAuthorization(context.Background(), tvClient(), "profile")
	require.NoError(t, err)

	assert.Equal(t, models.DeviceStatusPending, da.Status)
	assert.Equal(t, 5, da.Interval)
	assert.NotEmpty(t, da.DeviceCode)
	assert.Contains(t, da.UserCode, "-")
	assert.Equal(t, inserted, da)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), da.ExpiresAt, 5*time.Second)
}

func TestApproveDeviceAuthorization(t *testing.T) {
	t.Run("binds the subject on a pending authorization", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := deviceRow(models.DeviceStatusPending)

		repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, "BXKM-QHTZ").Return(row, nil)
		repo.On("TransitionDeviceAuthorization", mock.Anything, "dc-1", models.DeviceStatusPending, models.DeviceStatusApproved, "user-42").Return(true, nil)

		// User input is normalized before lookup.
		err := svc.ApproveDeviceAuthorization(context.Background(), "bxkm qhtz", "user-42")
		require.NoError(t, err)
	})

	t.Run("unknown user code", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, mock.Anything).Return(nil, nil)

		err := svc.ApproveDeviceAuthorization(context.Background(), "WWWW-WWWW", "user-42")
		assertOAuthError(t, err, "invalid_request")
	})

	t.Run("expired authorization", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := deviceRow(models.DeviceStatusPending)
		row.ExpiresAt = time.Now().Add(-time.Minute)

		repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, "BXKM-QHTZ").Return(row, nil)
		repo.On("TransitionDeviceAuthorization", mock.Anything, "dc-1", models.DeviceStatusPending, models.DeviceStatusExpired, "").Return(true, nil)

		err := svc.ApproveDeviceAuthorization(context.Background(), "BXKM-QHTZ", "user-42")
		assertOAuthError(t, err, "expired_token")
	})

	t.Run("no longer pending", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := deviceRow(models.DeviceStatusDenied)

		repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, "BXKM-QHTZ").Return(row, nil)
		repo.On("TransitionDeviceAuthorization", mock.Anything, "dc-1", models.DeviceStatusPending, models.DeviceStatusApproved, "user-42").Return(false, nil)

		err := svc.ApproveDeviceAuthorization(context.Background(), "BXKM-QHTZ", "user-42")
		assertOAuthError(t, err, "invalid_request")
	})
}

func TestDenyDeviceAuthorization(t *testing.T) {
	svc, repo, _ := newTestService(t)
	row := deviceRow(models.DeviceStatusPending)

	repo.On("GetDeviceAuthorizationByUserCode", mock.Anything, "BXKM-QHTZ").Return(row, nil)
	repo.On("TransitionDeviceAuthorization", mock.Anything, "dc-1", models.DeviceStatusPending, models.DeviceStatusDenied, "user-42").Return(true, nil)

	require.NoError(t, svc.DenyDeviceAuthorization(context.Background(), "BXKM-QHTZ", "user-42"))
}

func TestRevoke(t *testing.T) {
	t.Run("refresh token revokes the whole family", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := refreshRow()

		repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(row, nil)
		repo.On("RevokeRefreshTokenFamily", mock.Anything, "fam-1").Return(int64(3), nil)

		require.NoError(t, svc.Revoke(context.Background(), webAppClient(), "rt-1"))
		repo.AssertCalled(t, "RevokeRefreshTokenFamily", mock.Anything, "fam-1")
	})

	t.Run("another client's refresh token is treated as unknown", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := refreshRow()
		row.ClientID = "other-app"

		repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(row, nil)

		require.NoError(t, svc.Revoke(context.Background(), webAppClient(), "rt-1"))
		repo.AssertNotCalled(t, "RevokeRefreshTokenFamily", mock.Anything, mock.Anything)
	})

	t.Run("access token lands on the jti revocation list", func(t *testing.T) {
		svc, repo, cache := newTestService(t)

		token, jti, err := svc.generator.AccessToken("user-42", "web-app", "profile", "aud")
		require.NoError(t, err)

		repo.On("GetRefreshToken", mock.Anything, token).Return(nil, nil)
		cache.On("IsJTIRevoked", mock.Anything, jti).Return(false, nil)
		cache.On("RevokeJTI", mock.Anything, jti, mock.Anything).Return(nil)

		require.NoError(t, svc.Revoke(context.Background(), webAppClient(), token))
		cache.AssertCalled(t, "RevokeJTI", mock.Anything, jti, mock.Anything)
	})

	t.Run("unknown token succeeds vacuously", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		repo.On("GetRefreshToken", mock.Anything, "garbage").Return(nil, nil)

		require.NoError(t, svc.Revoke(context.Background(), webAppClient(), "garbage"))
	})
}

func TestIntrospect(t *testing.T) {
	t.Run("active access token", func(t *testing.T) {
		svc, _, cache := newTestService(t)

		token, jti, err := svc.generator.AccessToken("user-42", "web-app", "openid profile", "aud")
		require.NoError(t, err)
		cache.On("IsJTIRevoked", mock.Anything, jti).Return(false, nil)

		resp := svc.Introspect(context.Background(), webAppClient(), token)
		assert.True(t, resp.Active)
		assert.Equal(t, "user-42", resp.Subject)
		assert.Equal(t, "web-app", resp.ClientID)
		assert.Equal(t, "openid profile", resp.Scope)
		assert.Equal(t, "Bearer", resp.TokenType)
		assert.Equal(t, jti, resp.JTI)
	})

	t.Run("another client's access token is inactive", func(t *testing.T) {
		svc, _, cache := newTestService(t)

		token, jti, err := svc.generator.AccessToken("user-42", "other-app", "profile", "aud")
		require.NoError(t, err)
		cache.On("IsJTIRevoked", mock.Anything, jti).Return(false, nil)

		resp := svc.Introspect(context.Background(), webAppClient(), token)
		assert.False(t, resp.Active)
		assert.Empty(t, resp.Subject)
	})

	t.Run("live refresh token is active", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := refreshRow()

		repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(row, nil)

		resp := svc.Introspect(context.Background(), webAppClient(), "rt-1")
		assert.True(t, resp.Active)
		assert.Equal(t, "refresh_token", resp.TokenType)
		assert.Equal(t, "user-42", resp.Subject)
	})

	t.Run("rotated refresh token is inactive", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		row := refreshRow()
		rotated := time.Now().Add(-time.Minute)
		row.RotatedAt = &rotated

		repo.On("GetRefreshToken", mock.Anything, "rt-1").Return(row, nil)

		resp := svc.Introspect(context.Background(), webAppClient(), "rt-1")
		assert.False(t, resp.Active)
	})

	t.Run("garbage token is inactive", func(t *testing.T) {
		svc, repo, _ := newTestService(t)
		repo.On("GetRefreshToken", mock.Anything, "garbage").Return(nil, nil)

		resp := svc.Introspect(context.Background(), webAppClient(), "garbage")
		assert.False(t, resp.Active)
	})
}
