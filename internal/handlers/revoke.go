package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"oauth-service/internal/clients"
	"oauth-service/internal/tokens"
	"oauth-service/pkg/oautherr"
)

// RevokeHandler serves RFC 7009 token revocation. Only confidential clients
// may revoke.
type RevokeHandler struct {
	clients *clients.Authenticator
	tokens  *tokens.Service
	logger  *zap.Logger
}

// NewRevokeHandler creates a revocation handler.
func NewRevokeHandler(clientAuth *clients.Authenticator, tokenService *tokens.Service, logger *zap.Logger) *RevokeHandler {
	return &RevokeHandler{
		clients: clientAuth,
		tokens:  tokenService,
		logger:  logger,
	}
}

// HandleRevoke handles POST /oauth/revoke
// @Summary     Token revocation endpoint
// @Description Revokes a refresh token (and its rotation family) or an access token. Confidential clients only. Unknown tokens still yield 200.
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Param       token formData string true "Access or refresh token"
// @Success     200 {string} string ""
// @Failure     400 {object} map[string]string
// @Failure     401 {object} map[string]string
// @Router      /oauth/revoke [post]
func (h *RevokeHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, oautherr.Wrap(err, oautherr.ErrInvalidRequest))
		return
	}

	client, err := h.clients.AuthenticateConfidential(ctx, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, h.logger, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing token"))
		return
	}

	if err := h.tokens.Revoke(ctx, client, token); err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}
