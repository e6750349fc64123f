package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"oauth-service/internal/scopes"
	"oauth-service/internal/tokens"
)

// OIDCConfiguration represents the OpenID Connect discovery document.
type OIDCConfiguration struct {
	Issuer                             string   `json:"issuer"`
	AuthorizationEndpoint              string   `json:"authorization_endpoint"`
	TokenEndpoint                      string   `json:"token_endpoint"`
	DeviceAuthorizationEndpoint        string   `json:"device_authorization_endpoint"`
	IntrospectionEndpoint              string   `json:"introspection_endpoint"`
	RevocationEndpoint                 string   `json:"revocation_endpoint"`
	JwksURI                            string   `json:"jwks_uri"`
	TokenEndpointAuthMethodsSupported  []string `json:"token_endpoint_auth_methods_supported"`
	ResponseTypesSupported             []string `json:"response_types_supported"`
	GrantTypesSupported                []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported      []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported              []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported   []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                    []string `json:"scopes_supported"`
	ClaimsSupported                    []string `json:"claims_supported"`
	RequestURIParameterSupported       bool     `json:"request_uri_parameter_supported"`
}

// OIDCConfigurationHandler handles the OIDC discovery endpoint.
type OIDCConfigurationHandler struct {
	baseURL string
	issuer  string
	scopes  *scopes.Engine
	logger  *zap.Logger
}

// NewOIDCConfigurationHandler creates a new OIDC configuration handler.
func NewOIDCConfigurationHandler(baseURL, issuer string, scopeEngine *scopes.Engine, logger *zap.Logger) *OIDCConfigurationHandler {
	return &OIDCConfigurationHandler{
		baseURL: baseURL,
		issuer:  issuer,
		scopes:  scopeEngine,
		logger:  logger,
	}
}

// HandleOIDCConfiguration handles GET /.well-known/openid-configuration
// @Summary     OIDC discovery endpoint
// @Description Returns the OpenID Connect discovery document.
// @Tags        discovery
// @Produce     application/json
// @Success     200 {object} handlers.OIDCConfiguration
// @Router      /.well-known/openid-configuration [get]
func (h *OIDCConfigurationHandler) HandleOIDCConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scopesSupported, err := h.scopes.PublicScopeNames(r.Context())
	if err != nil {
		h.logger.Error("Failed to list public scopes", zap.Error(err))
		scopesSupported = []string{"openid"}
	}

	config := OIDCConfiguration{
		Issuer:                      h.issuer,
		AuthorizationEndpoint:       h.baseURL + "/oauth/authorize",
		TokenEndpoint:               h.baseURL + "/oauth/token",
		DeviceAuthorizationEndpoint: h.baseURL + "/oauth/device_authorization",
		IntrospectionEndpoint:       h.baseURL + "/oauth/introspect",
		RevocationEndpoint:          h.baseURL + "/oauth/revoke",
		JwksURI:                     h.baseURL + "/.well-known/jwks.json",
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
			"none",
		},
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported: []string{
			tokens.GrantTypeAuthorizationCode,
			tokens.GrantTypeRefreshToken,
			tokens.GrantTypeDeviceCodeURN,
			tokens.GrantTypeClientCredentials,
		},
		CodeChallengeMethodsSupported:    []string{tokens.CodeChallengeMethodS256},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  scopesSupported,
		ClaimsSupported: []string{
			"sub",
			"iss",
			"aud",
			"exp",
			"iat",
			"jti",
			"client_id",
			"scope",
			"nonce",
		},
		RequestURIParameterSupported: false,
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		h.logger.Error("Failed to marshal OIDC configuration", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
