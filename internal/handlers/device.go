package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"oauth-service/internal/clients"
	"oauth-service/internal/middleware"
	"oauth-service/internal/models"
	"oauth-service/internal/scopes"
	"oauth-service/internal/tokens"
	"oauth-service/pkg/oautherr"
)

// DeviceHandler serves the device authorization grant: code issuance for
// input-constrained clients and the user-facing verification action.
type DeviceHandler struct {
	clients *clients.Authenticator
	scopes  *scopes.Engine
	tokens  *tokens.Service
	baseURL string
	logger  *zap.Logger
}

// NewDeviceHandler creates a device flow handler.
func NewDeviceHandler(clientAuth *clients.Authenticator, scopeEngine *scopes.Engine, tokenService *tokens.Service, baseURL string, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		clients: clientAuth,
		scopes:  scopeEngine,
		tokens:  tokenService,
		baseURL: baseURL,
		logger:  logger,
	}
}

// HandleDeviceAuthorization handles POST /oauth/device_authorization
// @Summary     Device authorization endpoint
// @Description Issues a device/user code pair for input-constrained clients (RFC 8628).
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Produce     application/json
// @Param       client_id formData string true  "Client ID"
// @Param       scope     formData string false "Requested scopes, space separated"
// @Success     200 {object} models.DeviceAuthorizationResponse
// @Failure     400 {object} map[string]string
// @Failure     401 {object} map[string]string
// @Router      /oauth/device_authorization [post]
func (h *DeviceHandler) HandleDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, oautherr.Wrap(err, oautherr.ErrInvalidRequest))
		return
	}

	client, err := h.clients.Authenticate(ctx, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if !client.AllowsGrant(tokens.GrantTypeDeviceCode) && !client.AllowsGrant(tokens.GrantTypeDeviceCodeURN) {
		writeError(w, h.logger, oautherr.ErrUnauthorizedClient)
		return
	}

	if err := h.clients.CheckRateLimit(ctx, client); err != nil {
		writeError(w, h.logger, err)
		return
	}

	// The device flow surfaces an explicit consent step at verification.
	granted, err := h.scopes.Resolve(ctx, r.PostFormValue("scope"), client, true)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	da, err := h.tokens.IssueDeviceAuthorization(ctx, client, granted)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	verificationURI := h.baseURL + "/oauth/device/verify"
	writeJSON(w, http.StatusOK, &models.DeviceAuthorizationResponse{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + da.UserCode,
		ExpiresIn:               int64(da.ExpiresAt.Sub(da.CreatedAt).Seconds()),
		Interval:                da.Interval,
	})
}

// HandleDeviceVerify handles POST /oauth/device/verify
// @Summary     Device verification endpoint
// @Description Records the authenticated end user's approval or denial of a pending device authorization.
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Produce     application/json
// @Param       user_code formData string true "User code shown on the device"
// @Param       action    formData string true "approve or deny"
// @Success     200 {object} map[string]string
// @Failure     400 {object} map[string]string
// @Failure     401 {object} map[string]string
// @Failure     429 {object} map[string]string
// @Router      /oauth/device/verify [post]
func (h *DeviceHandler) HandleDeviceVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		writeError(w, h.logger, oautherr.Wrap(err, oautherr.ErrInvalidRequest))
		return
	}

	subject := middleware.Subject(ctx)
	if subject == "" {
		writeError(w, h.logger, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing end-user session"))
		return
	}

	userCode := r.PostFormValue("user_code")
	if userCode == "" {
		writeError(w, h.logger, oautherr.WithDescription(oautherr.ErrInvalidRequest, "missing user_code"))
		return
	}

	var err error
	var status string
	switch r.PostFormValue("action") {
	case "approve":
		err = h.tokens.ApproveDeviceAuthorization(ctx, userCode, subject)
		status = models.DeviceStatusApproved
	case "deny":
		err = h.tokens.DenyDeviceAuthorization(ctx, userCode, subject)
		status = models.DeviceStatusDenied
	default:
		writeError(w, h.logger, oautherr.WithDescription(oautherr.ErrInvalidRequest, "action must be approve or deny"))
		return
	}

	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
