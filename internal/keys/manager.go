package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"oauth-service/internal/database"
	"oauth-service/internal/models"
)

const rsaKeyBits = 2048

// keyPair is the in-memory form of a signing key row.
type keyPair struct {
	kid        string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	isPrimary  bool
	isActive   bool
	retireAt   *time.Time
	createdAt  time.Time
}

// Manager owns the signing key lifecycle. The key table is append-only and
// versioned: exactly one key is primary (used for new signatures) while any
// number of previously-primary keys stay active for verification until their
// retire_at passes. Rotation never invalidates in-flight verification.
type Manager struct {
	mu         sync.RWMutex
	repo       database.Repository
	logger     *zap.Logger
	keys       map[string]*keyPair
	primaryKID string
}

// NewManager loads the persisted key set. If no key exists yet, one is
// generated and marked primary (bootstrap case).
func NewManager(ctx context.Context, repo database.Repository, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		repo:   repo,
		logger: logger,
		keys:   make(map[string]*keyPair),
	}

	rows, err := repo.ListSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}

	for i := range rows {
		kp, err := pairFromModel(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key %s: %w", rows[i].KID, err)
		}
		m.keys[kp.kid] = kp
		if kp.isPrimary {
			m.primaryKID = kp.kid
		}
	}

	if m.primaryKID == "" {
		kid, err := m.insertNewPrimary(ctx, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to bootstrap signing key: %w", err)
		}
		logger.Info("Bootstrapped signing key", zap.String("kid", kid))
	}

	return m, nil
}

// PrimaryKey returns the kid and private key used for new signatures.
func (m *Manager) PrimaryKey() (string, *rsa.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kp, ok := m.keys[m.primaryKID]
	if !ok || !kp.isActive {
		return "", nil, errors.New("no primary signing key available")
	}
	return kp.kid, kp.privateKey, nil
}

// VerificationKey returns the public key for a kid. It fails closed when the
// kid is unknown, deactivated, or past its retirement.
func (m *Manager) VerificationKey(kid string) (*rsa.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kp, ok := m.keys[kid]
	if !ok || !kp.isActive {
		return nil, fmt.Errorf("key not found or inactive: %s", kid)
	}
	if kp.retireAt != nil && kp.retireAt.Before(time.Now()) {
		return nil, fmt.Errorf("key retired: %s", kid)
	}
	return kp.publicKey, nil
}

// JWKSet returns the JWK set of all active, unretired public keys. Private
// material never enters the set.
func (m *Manager) JWKSet() jwk.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keySet := jwk.NewSet()
	now := time.Now()

	for _, kp := range m.keys {
		if !kp.isActive {
			continue
		}
		if kp.retireAt != nil && kp.retireAt.Before(now) {
			continue
		}

		jwkKey, err := jwk.FromRaw(kp.publicKey)
		if err != nil {
			continue
		}
		_ = jwkKey.Set(jwk.KeyIDKey, kp.kid)
		_ = jwkKey.Set(jwk.AlgorithmKey, "RS256")
		_ = jwkKey.Set(jwk.KeyUsageKey, "sig")

		_ = keySet.AddKey(jwkKey)
	}

	return keySet
}

// Rotate generates a new key pair, persists it as the new primary, and
// demotes the previous primary to active-but-non-primary with a retirement
// deadline of now+gracePeriod. Returns the new kid.
func (m *Manager) Rotate(ctx context.Context, gracePeriod time.Duration) (string, error) {
	return m.insertNewPrimary(ctx, time.Now().Add(gracePeriod))
}

func (m *Manager) insertNewPrimary(ctx context.Context, previousRetireAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertNewPrimaryLocked(ctx, previousRetireAt)
}

func (m *Manager) insertNewPrimaryLocked(ctx context.Context, previousRetireAt time.Time) (string, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	kid := uuid.New().String()
	now := time.Now()

	row := &models.SigningKey{
		KID:        kid,
		Algorithm:  "RS256",
		PublicPEM:  encodePublicPEM(&privateKey.PublicKey),
		PrivatePEM: encodePrivatePEM(privateKey),
		IsPrimary:  true,
		IsActive:   true,
		CreatedAt:  now,
	}

	if err := m.repo.InsertSigningKeyAsPrimary(ctx, row, previousRetireAt); err != nil {
		return "", err
	}

	if previous, ok := m.keys[m.primaryKID]; ok {
		previous.isPrimary = false
		retireAt := previousRetireAt
		previous.retireAt = &retireAt
	}

	m.keys[kid] = &keyPair{
		kid:        kid,
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		isPrimary:  true,
		isActive:   true,
		createdAt:  now,
	}
	m.primaryKID = kid

	return kid, nil
}

// CleanupRetired deactivates keys past their retirement, both in the key
// table and in memory. Rows are never deleted.
func (m *Manager) CleanupRetired(ctx context.Context) error {
	if _, err := m.repo.DeactivateRetiredKeys(ctx, time.Now()); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, kp := range m.keys {
		if kp.isPrimary {
			continue
		}
		if kp.retireAt != nil && kp.retireAt.Before(now) {
			kp.isActive = false
		}
	}
	return nil
}

func pairFromModel(row *models.SigningKey) (*keyPair, error) {
	privateKey, err := parseRSAPrivateKey(row.PrivatePEM)
	if err != nil {
		return nil, err
	}
	publicKey, err := parseRSAPublicKey(row.PublicPEM)
	if err != nil {
		return nil, err
	}

	return &keyPair{
		kid:        row.KID,
		privateKey: privateKey,
		publicKey:  publicKey,
		isPrimary:  row.IsPrimary,
		isActive:   row.IsActive,
		retireAt:   row.RetireAt,
		createdAt:  row.CreatedAt,
	}, nil
}

func encodePrivatePEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func encodePublicPEM(key *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		// MarshalPKIXPublicKey cannot fail for an *rsa.PublicKey we generated
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	}))
}

// parseRSAPrivateKey parses a PEM-encoded RSA private key, accepting PKCS1
// and PKCS8 encodings.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsedKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := parsedKey.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	return key, nil
}

// parseRSAPublicKey parses a PEM-encoded RSA public key, accepting PKIX and
// PKCS1 encodings.
func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return key, nil
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("key is not an RSA public key")
	}

	return rsaKey, nil
}
