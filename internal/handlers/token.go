package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"oauth-service/internal/clients"
	"oauth-service/internal/tokens"
	"oauth-service/pkg/oautherr"
)

// TokenHandler handles OAuth2 token requests.
type TokenHandler struct {
	clients *clients.Authenticator
	tokens  *tokens.Service
	logger  *zap.Logger
}

// NewTokenHandler creates a new token handler.
func NewTokenHandler(clientAuth *clients.Authenticator, tokenService *tokens.Service, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		clients: clientAuth,
		tokens:  tokenService,
		logger:  logger,
	}
}

// HandleToken handles POST /oauth/token
// @Summary     Token endpoint
// @Description Exchanges authorization codes, refresh tokens, and device codes for tokens, and serves the client_credentials grant. Client authentication via Basic header or body fields.
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Produce     application/json
// @Param       grant_type    formData string true  "authorization_code, refresh_token, device_code, or client_credentials"
// @Param       client_id     formData string false "Client ID (when not using Basic auth)"
// @Param       client_secret formData string false "Client secret (confidential clients)"
// @Param       code          formData string false "Authorization code"
// @Param       redirect_uri  formData string false "Redirect URI used at authorization"
// @Param       code_verifier formData string false "PKCE verifier"
// @Param       refresh_token formData string false "Refresh token"
// @Param       device_code   formData string false "Device code"
// @Param       scope         formData string false "Requested scopes (client_credentials only)"
// @Success     200 {object} models.TokenResponse
// @Failure     400 {object} map[string]string
// @Failure     401 {object} map[string]string
// @Failure     429 {object} map[string]string
// @Router      /oauth/token [post]
func (h *TokenHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, oautherr.Wrap(err, oautherr.ErrInvalidRequest))
		return
	}

	client, err := h.clients.Authenticate(ctx, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.clients.CheckRateLimit(ctx, client); err != nil {
		writeError(w, h.logger, err)
		return
	}

	grant, err := h.tokens.GrantFor(client, r.PostForm)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp, err := grant.Redeem(ctx)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Token responses must never be cached (RFC 6749 §5.1).
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}
