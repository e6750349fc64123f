package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oauth-service/internal/cache"
	"oauth-service/internal/keys"
)

// Claims are the verified contents of an access token.
type Claims struct {
	Subject   string
	ClientID  string
	Scope     string
	Audience  string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// Validator verifies signed access tokens. Verification selects the public
// key by the kid header from the active key set and fails closed when the
// kid is unknown or the key has been retired.
type Validator struct {
	keys   *keys.Manager
	issuer string
	cache  cache.Cache
}

// NewValidator creates a token validator.
func NewValidator(keyManager *keys.Manager, issuer string, cache cache.Cache) *Validator {
	return &Validator{
		keys:   keyManager,
		issuer: issuer,
		cache:  cache,
	}
}

// Validate parses and verifies an access token and returns its claims.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		// Require kid so we always pick an explicit key; no fallback.
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("missing kid in token header")
		}
		pub, err := v.keys.VerificationKey(kid)
		if err != nil {
			return nil, fmt.Errorf("failed to get public key for kid %s: %w", kid, err)
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if iss, ok := mapClaims["iss"].(string); !ok || iss != v.issuer {
		return nil, fmt.Errorf("invalid issuer")
	}

	claims := &Claims{Raw: mapClaims}
	claims.Subject, _ = mapClaims["sub"].(string)
	claims.ClientID, _ = mapClaims["client_id"].(string)
	claims.Scope, _ = mapClaims["scope"].(string)
	claims.Audience, _ = mapClaims["aud"].(string)
	claims.JTI, _ = mapClaims["jti"].(string)

	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
		if time.Now().After(claims.ExpiresAt) {
			return nil, fmt.Errorf("token has expired")
		}
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.IssuedAt = time.Unix(int64(iat), 0)
	}

	if claims.JTI != "" {
		revoked, err := v.cache.IsJTIRevoked(ctx, claims.JTI)
		if err != nil {
			return nil, fmt.Errorf("failed to check token revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("token has been revoked")
		}
	}

	return claims, nil
}
