package handlers

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"oauth-service/internal/clients"
	"oauth-service/internal/middleware"
	"oauth-service/internal/scopes"
	"oauth-service/internal/tokens"
	"oauth-service/pkg/oautherr"
)

// AuthorizeHandler runs the authorization-code-with-PKCE front channel. The
// consent UI is external; it posts the user's decision here with an
// authenticated end-user session.
type AuthorizeHandler struct {
	clients *clients.Authenticator
	scopes  *scopes.Engine
	tokens  *tokens.Service
	logger  *zap.Logger
}

// NewAuthorizeHandler creates an authorize handler.
func NewAuthorizeHandler(clientAuth *clients.Authenticator, scopeEngine *scopes.Engine, tokenService *tokens.Service, logger *zap.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{
		clients: clientAuth,
		scopes:  scopeEngine,
		tokens:  tokenService,
		logger:  logger,
	}
}

// HandleAuthorize handles POST /oauth/authorize
// @Summary     Authorization endpoint (code + PKCE)
// @Description Validates the authorization request and the user's consent decision, then redirects back to the client with a single-use code or an error.
// @Tags        oauth2
// @Accept      application/x-www-form-urlencoded
// @Param       response_type         formData string true  "Must be code"
// @Param       client_id             formData string true  "Client ID"
// @Param       redirect_uri          formData string true  "Registered redirect URI (exact match)"
// @Param       scope                 formData string false "Requested scopes, space separated"
// @Param       state                 formData string false "Opaque client state, echoed back"
// @Param       code_challenge        formData string false "PKCE challenge (required for public clients)"
// @Param       code_challenge_method formData string false "Must be S256"
// @Param       nonce                 formData string false "OIDC nonce, echoed in the ID token"
// @Param       approve               formData string true  "Consent decision: true or false"
// @Success     302 {string} string "Redirect to the client redirect_uri"
// @Failure     400 {object} map[string]string
// @Router      /oauth/authorize [post]
func (h *AuthorizeHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
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

	client, err := h.clients.LookupClient(ctx, r.PostFormValue("client_id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if !client.AllowsGrant(tokens.GrantTypeAuthorizationCode) {
		writeError(w, h.logger, oautherr.ErrUnauthorizedClient)
		return
	}

	// The redirect URI must be an exact member of the registered set. On a
	// mismatch we fail closed with a direct error response; redirecting to
	// an unregistered URI would hand the code to an attacker.
	redirectURI := r.PostFormValue("redirect_uri")
	if redirectURI == "" || !client.AllowsRedirectURI(redirectURI) {
		writeError(w, h.logger, oautherr.WithDescription(oautherr.ErrInvalidRequest, "redirect_uri is not registered for this client"))
		return
	}

	state := r.PostFormValue("state")

	if r.PostFormValue("response_type") != "code" {
		h.redirectError(w, r, redirectURI, state, oautherr.ErrInvalidRequest)
		return
	}

	challenge := r.PostFormValue("code_challenge")
	challengeMethod := r.PostFormValue("code_challenge_method")
	if client.RequirePKCE || client.Public || challenge != "" {
		if err := tokens.ValidateChallenge(challenge, challengeMethod); err != nil {
			h.redirectError(w, r, redirectURI, state, err)
			return
		}
	}

	granted, err := h.scopes.Resolve(ctx, r.PostFormValue("scope"), client, true)
	if err != nil {
		h.redirectError(w, r, redirectURI, state, err)
		return
	}

	if r.PostFormValue("approve") != "true" {
		h.redirectError(w, r, redirectURI, state, oautherr.ErrAccessDenied)
		return
	}

	code, err := h.tokens.IssueAuthorizationCode(ctx, client, subject, redirectURI, granted, challenge, challengeMethod, r.PostFormValue("nonce"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.redirect(w, r, redirectURI, url.Values{
		"code":  {code},
		"state": {state},
	})
}

// redirectError sends a protocol error back to the (already validated)
// client redirect URI per RFC 6749 §4.1.2.1.
func (h *AuthorizeHandler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, err error) {
	protoErr, ok := err.(*oautherr.Error)
	if !ok {
		writeError(w, h.logger, err)
		return
	}
	if protoErr.Status >= 500 {
		writeError(w, h.logger, err)
		return
	}

	params := url.Values{
		"error":             {protoErr.Code},
		"error_description": {protoErr.Description},
	}
	if state != "" {
		params.Set("state", state)
	}
	h.redirect(w, r, redirectURI, params)
}

func (h *AuthorizeHandler) redirect(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, h.logger, oautherr.Wrap(err, oautherr.ErrInvalidRequest))
		return
	}

	query := target.Query()
	for key, values := range params {
		for _, v := range values {
			if v != "" {
				query.Set(key, v)
			}
		}
	}
	target.RawQuery = query.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
