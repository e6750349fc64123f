package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"oauth-service/internal/keys"
	"oauth-service/internal/models"
)

// userCodeAlphabet avoids vowels and confusable glyphs (0/O, 1/I) so user
// codes are easy to read aloud and type.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXZ"

// Generator mints signed JWTs and opaque random tokens. Only the generator
// and the key manager ever touch private key material.
type Generator struct {
	keys            *keys.Manager
	issuer          string
	defaultAudience string
	accessTokenTTL  time.Duration
	idTokenTTL      time.Duration
	opaqueLength    int
}

// NewGenerator creates a token generator.
func NewGenerator(keyManager *keys.Manager, issuer, defaultAudience string, accessTokenTTL, idTokenTTL time.Duration, opaqueLength int) *Generator {
	return &Generator{
		keys:            keyManager,
		issuer:          issuer,
		defaultAudience: defaultAudience,
		accessTokenTTL:  accessTokenTTL,
		idTokenTTL:      idTokenTTL,
		opaqueLength:    opaqueLength,
	}
}

// AccessTokenTTL exposes the configured access token lifetime.
func (g *Generator) AccessTokenTTL() time.Duration {
	return g.accessTokenTTL
}

// AudienceFor picks the audience stamped into a client's tokens: the first
// registered audience, or the server default.
func (g *Generator) AudienceFor(client *models.Client) string {
	if len(client.AllowedAudiences) > 0 {
		return client.AllowedAudiences[0]
	}
	return g.defaultAudience
}

// AccessToken mints a signed RS256 access token. The signing kid travels in
// the header so verification can select the right public key.
func (g *Generator) AccessToken(subject, clientID, scope, audience string) (string, string, error) {
	kid, privateKey, err := g.keys.PrimaryKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to get signing key: %w", err)
	}

	now := time.Now()
	jti := uuid.New().String()

	claims := jwt.MapClaims{
		"iss":       g.issuer,
		"aud":       audience,
		"sub":       subject,
		"client_id": clientID,
		"scope":     scope,
		"exp":       now.Add(g.accessTokenTTL).Unix(),
		"iat":       now.Unix(),
		"jti":       jti,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, jti, nil
}

// IDToken mints a signed OIDC ID token for the given end user and client.
// The nonce is echoed when the authorization request carried one.
func (g *Generator) IDToken(subject, clientID, nonce string) (string, error) {
	kid, privateKey, err := g.keys.PrimaryKey()
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	now := time.Now()

	claims := jwt.MapClaims{
		"iss": g.issuer,
		"aud": clientID,
		"sub": subject,
		"exp": now.Add(g.idTokenTTL).Unix(),
		"iat": now.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	tokenString, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}

	return tokenString, nil
}

// Opaque generates a random url-safe token for refresh tokens,
// authorization codes, and device codes.
func (g *Generator) Opaque() (string, error) {
	bytes := make([]byte, g.opaqueLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// UserCode generates a short human-enterable code, grouped with a dash
// (e.g. BXKM-QHTZ).
func (g *Generator) UserCode(length int) (string, error) {
	if length < 2 {
		length = 2
	}

	var b strings.Builder
	max := big.NewInt(int64(len(userCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate user code: %w", err)
		}
		b.WriteByte(userCodeAlphabet[n.Int64()])
	}

	code := b.String()
	mid := length / 2
	return code[:mid] + "-" + code[mid:], nil
}

// NormalizeUserCode maps user input onto the stored form: uppercase, single
// dash at the midpoint, separators stripped.
func NormalizeUserCode(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(input)))

	if len(cleaned) < 2 {
		return cleaned
	}
	mid := len(cleaned) / 2
	return cleaned[:mid] + "-" + cleaned[mid:]
}
