package models

import "time"

// Device authorization states. Transitions out of StatusPending are terminal
// except that an approved authorization is consumed exactly once by the
// token endpoint.
const (
	DeviceStatusPending  = "pending"
	DeviceStatusApproved = "approved"
	DeviceStatusDenied   = "denied"
	DeviceStatusExpired  = "expired"
	DeviceStatusConsumed = "consumed"
)

// Client authentication methods accepted at the token endpoint.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

// Client represents a registered OAuth application.
type Client struct {
	ID               int64     `db:"id"`
	ClientID         string    `db:"client_id"`
	ClientSecretHash string    `db:"client_secret_hash"` // empty for public clients, never logged
	Public           bool      `db:"public"`
	GrantTypes       []string  `db:"grant_types"`
	AllowedScopes    []string  `db:"allowed_scopes"`
	AllowedAudiences []string  `db:"allowed_audiences"`
	RedirectURIs     []string  `db:"redirect_uris"`
	AuthMethods      []string  `db:"auth_methods"`
	RequirePKCE      bool      `db:"require_pkce"`
	Trusted          bool      `db:"trusted"`
	Verified         bool      `db:"verified"`
	Disabled         bool      `db:"disabled"`
	OwnerAccountID   string    `db:"owner_account_id"`
	RateLimit        int       `db:"rate_limit"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Confidential reports whether the client can hold a secret.
func (c *Client) Confidential() bool {
	return !c.Public
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AllowsAuthMethod reports whether the client may authenticate with the
// given token-endpoint method. An empty registration accepts any method.
func (c *Client) AllowsAuthMethod(method string) bool {
	if len(c.AuthMethods) == 0 {
		return true
	}
	for _, m := range c.AuthMethods {
		if m == method {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether uri is an exact member of the
// registered redirect URI set. No prefix or partial matching.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the named scope is in the client allow-list.
func (c *Client) AllowsScope(name string) bool {
	for _, s := range c.AllowedScopes {
		if s == name {
			return true
		}
	}
	return false
}

// Scope is a row of the scope catalog. The name is the stable identifier
// stamped into tokens; catalog edits apply only to future grants.
type Scope struct {
	ID                   int64     `db:"id"`
	Name                 string    `db:"name"`
	Description          string    `db:"description"`
	IsOIDC               bool      `db:"is_oidc"`
	IsDefault            bool      `db:"is_default"`
	IsDangerous          bool      `db:"is_dangerous"`
	RequiresVerification bool      `db:"requires_verification"`
	IsPublic             bool      `db:"is_public"`
	CreatedAt            time.Time `db:"created_at"`
}

// SigningKey is a row of the append-only signing key table. At most one key
// is primary; all active keys verify. The private PEM never leaves the key
// manager and the token service.
type SigningKey struct {
	KID        string     `db:"kid"`
	Algorithm  string     `db:"algorithm"`
	PublicPEM  string     `db:"public_pem"`
	PrivatePEM string     `db:"private_pem"`
	IsPrimary  bool       `db:"is_primary"`
	IsActive   bool       `db:"is_active"`
	RetireAt   *time.Time `db:"retire_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// AuthorizationCode is a single-use code issued on consent approval and
// consumed exactly once at the token endpoint.
type AuthorizationCode struct {
	Code                string     `db:"code"`
	ClientID            string     `db:"client_id"`
	Subject             string     `db:"subject"`
	RedirectURI         string     `db:"redirect_uri"`
	Scope               string     `db:"scope"`
	CodeChallenge       string     `db:"code_challenge"`
	CodeChallengeMethod string     `db:"code_challenge_method"`
	Nonce               string     `db:"nonce"`
	ExpiresAt           time.Time  `db:"expires_at"`
	ConsumedAt          *time.Time `db:"consumed_at"`
	CreatedAt           time.Time  `db:"created_at"`
}

// Expired reports whether the code is past its expiry at the given instant.
func (c *AuthorizationCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// DeviceAuthorization tracks one device/user code pair through the device
// grant state machine.
type DeviceAuthorization struct {
	ID         int64     `db:"id"`
	DeviceCode string    `db:"device_code"`
	UserCode   string    `db:"user_code"`
	ClientID   string    `db:"client_id"`
	Scope      string    `db:"scope"`
	Subject    string    `db:"subject"` // bound on approval
	Status     string    `db:"status"`
	Interval   int       `db:"poll_interval"` // seconds
	ExpiresAt  time.Time `db:"expires_at"`
	CreatedAt  time.Time `db:"created_at"`
}

// Expired reports whether the device authorization is past its expiry.
func (d *DeviceAuthorization) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// RefreshToken is an opaque, persisted, rotated-on-use token. All tokens
// descending from one grant share a family ID; reuse of a rotated token
// revokes the whole family.
type RefreshToken struct {
	Token      string     `db:"token"`
	FamilyID   string     `db:"family_id"`
	ClientID   string     `db:"client_id"`
	Subject    string     `db:"subject"`
	Scope      string     `db:"scope"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RotatedAt  *time.Time `db:"rotated_at"`
	ReplacedBy string     `db:"replaced_by"`
	RevokedAt  *time.Time `db:"revoked_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Redeemable reports whether the token can still be rotated: not revoked,
// not already rotated, not expired.
func (r *RefreshToken) Redeemable(now time.Time) bool {
	return r.RevokedAt == nil && r.RotatedAt == nil && now.Before(r.ExpiresAt)
}

// TokenResponse is the OAuth2 token endpoint success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceAuthorizationResponse is the RFC 8628 device authorization body.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// IntrospectionResponse is the RFC 7662 introspection body. Inactive
// responses carry only the active flag.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	JTI       string `json:"jti,omitempty"`
}
