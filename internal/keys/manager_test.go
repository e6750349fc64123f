package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oauth-service/internal/mocks"
	"oauth-service/internal/models"
)

func keyRow(t *testing.T, kid string, primary, active bool, retireAt *time.Time) models.SigningKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return models.SigningKey{
		KID:        kid,
		Algorithm:  "RS256",
		PublicPEM:  encodePublicPEM(&privateKey.PublicKey),
		PrivatePEM: encodePrivatePEM(privateKey),
		IsPrimary:  primary,
		IsActive:   active,
		RetireAt:   retireAt,
		CreatedAt:  time.Now(),
	}
}

func TestNewManagerBootstrapsFirstKey(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return([]models.SigningKey{}, nil)
	repo.On("InsertSigningKeyAsPrimary", mock.Anything, mock.AnythingOfType("*models.SigningKey"), mock.Anything).Return(nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	kid, privateKey, err := m.PrimaryKey()
	require.NoError(t, err)
	assert.NotEmpty(t, kid)
	assert.NotNil(t, privateKey)

	pub, err := m.VerificationKey(kid)
	require.NoError(t, err)
	assert.Equal(t, &privateKey.PublicKey, pub)

	repo.AssertCalled(t, "InsertSigningKeyAsPrimary", mock.Anything, mock.AnythingOfType("*models.SigningKey"), mock.Anything)
}

func TestNewManagerLoadsPersistedKeys(t *testing.T) {
	rows := []models.SigningKey{
		keyRow(t, "old-kid", false, true, nil),
		keyRow(t, "primary-kid", true, true, nil),
	}

	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return(rows, nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	kid, _, err := m.PrimaryKey()
	require.NoError(t, err)
	assert.Equal(t, "primary-kid", kid)

	// Both keys verify.
	_, err = m.VerificationKey("old-kid")
	assert.NoError(t, err)
	_, err = m.VerificationKey("primary-kid")
	assert.NoError(t, err)

	// No bootstrap when a primary already exists.
	repo.AssertNotCalled(t, "InsertSigningKeyAsPrimary", mock.Anything, mock.Anything, mock.Anything)
}

func TestRotateKeepsOldKeyVerifiable(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return([]models.SigningKey{}, nil)
	repo.On("InsertSigningKeyAsPrimary", mock.Anything, mock.AnythingOfType("*models.SigningKey"), mock.Anything).Return(nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	oldKID, _, err := m.PrimaryKey()
	require.NoError(t, err)

	newKID, err := m.Rotate(context.Background(), 14*24*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, oldKID, newKID)

	kid, _, err := m.PrimaryKey()
	require.NoError(t, err)
	assert.Equal(t, newKID, kid)

	// The demoted key stays verifiable through the grace window.
	_, err = m.VerificationKey(oldKID)
	assert.NoError(t, err)
	_, err = m.VerificationKey(newKID)
	assert.NoError(t, err)
}

func TestVerificationKeyFailsClosed(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rows := []models.SigningKey{
		keyRow(t, "primary-kid", true, true, nil),
		keyRow(t, "retired-kid", false, true, &past),
		keyRow(t, "inactive-kid", false, false, nil),
	}

	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return(rows, nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	_, err = m.VerificationKey("unknown-kid")
	assert.Error(t, err)

	_, err = m.VerificationKey("retired-kid")
	assert.Error(t, err)

	_, err = m.VerificationKey("inactive-kid")
	assert.Error(t, err)
}

func TestJWKSetOmitsRetiredAndInactiveKeys(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rows := []models.SigningKey{
		keyRow(t, "primary-kid", true, true, nil),
		keyRow(t, "retired-kid", false, true, &past),
		keyRow(t, "inactive-kid", false, false, nil),
	}

	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return(rows, nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	set := m.JWKSet()
	assert.Equal(t, 1, set.Len())

	key, ok := set.Key(0)
	require.True(t, ok)
	assert.Equal(t, "primary-kid", key.KeyID())
}

func TestCleanupRetiredDeactivatesPastKeys(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rows := []models.SigningKey{
		keyRow(t, "primary-kid", true, true, nil),
		keyRow(t, "retired-kid", false, true, &past),
	}

	repo := new(mocks.MockRepository)
	repo.On("ListSigningKeys", mock.Anything).Return(rows, nil)
	repo.On("DeactivateRetiredKeys", mock.Anything, mock.Anything).Return(int64(1), nil)

	m, err := NewManager(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.CleanupRetired(context.Background()))

	_, err = m.VerificationKey("retired-kid")
	assert.Error(t, err)
	_, err = m.VerificationKey("primary-kid")
	assert.NoError(t, err)
}
