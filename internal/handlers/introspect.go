package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"oauth-service/internal/clients"
	"oauth-service/internal/tokens"
	"oauth-service/pkg/oautherr"
)

// IntrospectHandler serves RFC 7662 token introspection. Only confidential
// clients may introspect.
type IntrospectHandler struct {
	clients *clients.Authenticator
	tokens  *tokens.Service
	logger  *zap.Logger
}

// NewIntrospectHandler creates an introspection handler.
func NewIntrospectHandler(clientAuth *clients.Authenticator, tokenService *tokens.Service, logger *zap.Logger) *IntrospectHandler {
	return &IntrospectHandler{
		clients: clientAuth,
		tokens:  tokenService,
		logger:  logger,
	}
}

// HandleIntrospect handles POST /oauth/introspect
// @Summary     Token introspection endpoint
// @Description Reports whether a token is active and returns its claims. Confidential clients only.
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Produce     application/json
// @Param       token formData string true "Access or refresh token"
// @Success     200 {object} models.IntrospectionResponse
// @Failure     400 {object} map[string]string
// @Failure     401 {object} map[string]string
// @Router      /oauth/introspect [post]
func (h *IntrospectHandler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, h.tokens.Introspect(ctx, client, token))
}
