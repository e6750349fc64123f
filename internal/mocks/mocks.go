package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"oauth-service/internal/models"
)

// MockRepository is a mock implementation of database.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) GetClientByClientID(ctx context.Context, clientID string) (*models.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}

func (m *MockRepository) TouchClient(ctx context.Context, clientID string) error {
	args := m.Called(ctx, clientID)
	return args.Error(0)
}

func (m *MockRepository) ListScopes(ctx context.Context) ([]models.Scope, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Scope), args.Error(1)
}

func (m *MockRepository) ListSigningKeys(ctx context.Context) ([]models.SigningKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SigningKey), args.Error(1)
}

func (m *MockRepository) InsertSigningKeyAsPrimary(ctx context.Context, key *models.SigningKey, previousRetireAt time.Time) error {
	args := m.Called(ctx, key, previousRetireAt)
	return args.Error(0)
}

func (m *MockRepository) DeactivateRetiredKeys(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) InsertAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockRepository) GetAuthorizationCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthorizationCode), args.Error(1)
}

func (m *MockRepository) ConsumeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) InsertDeviceAuthorization(ctx context.Context, da *models.DeviceAuthorization) error {
	args := m.Called(ctx, da)
	return args.Error(0)
}

func (m *MockRepository) GetDeviceAuthorizationByDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceAuthorization, error) {
	args := m.Called(ctx, deviceCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeviceAuthorization), args.Error(1)
}

func (m *MockRepository) GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (*models.DeviceAuthorization, error) {
	args := m.Called(ctx, userCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DeviceAuthorization), args.Error(1)
}

func (m *MockRepository) TransitionDeviceAuthorization(ctx context.Context, deviceCode, fromStatus, toStatus, subject string) (bool, error) {
	args := m.Called(ctx, deviceCode, fromStatus, toStatus, subject)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) UpdateDeviceInterval(ctx context.Context, deviceCode string, interval int) error {
	args := m.Called(ctx, deviceCode, interval)
	return args.Error(0)
}

func (m *MockRepository) DeleteExpiredDeviceAuthorizations(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) InsertRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RefreshToken), args.Error(1)
}

func (m *MockRepository) RotateRefreshToken(ctx context.Context, token, replacedBy string) (bool, error) {
	args := m.Called(ctx, token, replacedBy)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) RevokeRefreshToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockRepository) RevokeRefreshTokenFamily(ctx context.Context, familyID string) (int64, error) {
	args := m.Called(ctx, familyID)
	return args.Get(0).(int64), args.Error(1)
}

// MockCache is a mock implementation of cache.Cache.
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockCache) GetClient(ctx context.Context, clientID string) (*models.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}

func (m *MockCache) SetClient(ctx context.Context, client *models.Client, ttl time.Duration) error {
	args := m.Called(ctx, client, ttl)
	return args.Error(0)
}

func (m *MockCache) GetScopeCatalog(ctx context.Context) ([]models.Scope, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Scope), args.Error(1)
}

func (m *MockCache) SetScopeCatalog(ctx context.Context, scopes []models.Scope, ttl time.Duration) error {
	args := m.Called(ctx, scopes, ttl)
	return args.Error(0)
}

func (m *MockCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) ReserveDevicePoll(ctx context.Context, deviceCode string, interval time.Duration) (bool, error) {
	args := m.Called(ctx, deviceCode, interval)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) RevokeJTI(ctx context.Context, jti string, ttl time.Duration) error {
	args := m.Called(ctx, jti, ttl)
	return args.Error(0)
}

func (m *MockCache) IsJTIRevoked(ctx context.Context, jti string) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}
