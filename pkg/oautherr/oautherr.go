package oautherr

import "fmt"

// Standard OAuth 2.0 / RFC 8628 protocol errors. Handlers serialize these as
// {"error": code, "error_description": description} with the listed status.
var (
	ErrInvalidRequest = &Error{
		Code:        "invalid_request",
		Description: "The request is missing a required parameter or is otherwise malformed",
		Status:      400,
	}

	ErrInvalidClient = &Error{
		Code:        "invalid_client",
		Description: "Client authentication failed",
		Status:      401,
	}

	ErrInvalidGrant = &Error{
		Code:        "invalid_grant",
		Description: "The provided authorization grant is invalid, expired, or revoked",
		Status:      400,
	}

	ErrInvalidScope = &Error{
		Code:        "invalid_scope",
		Description: "The requested scope is invalid, unknown, or exceeds what the client may request",
		Status:      400,
	}

	ErrUnauthorizedClient = &Error{
		Code:        "unauthorized_client",
		Description: "The client is not authorized to use this grant type",
		Status:      400,
	}

	ErrUnsupportedGrantType = &Error{
		Code:        "unsupported_grant_type",
		Description: "The grant type is not supported by this server",
		Status:      400,
	}

	ErrAccessDenied = &Error{
		Code:        "access_denied",
		Description: "The resource owner denied the request",
		Status:      400,
	}

	ErrAuthorizationPending = &Error{
		Code:        "authorization_pending",
		Description: "The authorization request is still pending user approval",
		Status:      400,
	}

	ErrSlowDown = &Error{
		Code:        "slow_down",
		Description: "Polling too frequently; increase the polling interval",
		Status:      429,
	}

	ErrExpiredToken = &Error{
		Code:        "expired_token",
		Description: "The device code has expired",
		Status:      400,
	}

	ErrInsufficientScope = &Error{
		Code:        "insufficient_scope",
		Description: "The token does not carry the required scope",
		Status:      403,
	}

	ErrRateLimited = &Error{
		Code:        "slow_down",
		Description: "Too many requests",
		Status:      429,
	}

	ErrServerError = &Error{
		Code:        "server_error",
		Description: "The server encountered an unexpected condition",
		Status:      500,
	}
)

// Error is a protocol-level error carrying the OAuth error code, the
// human-readable description sent to the caller, and the HTTP status.
// An optional wrapped cause is kept for logging and never serialized.
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a cause to a protocol error without changing what the
// caller sees on the wire.
func Wrap(err error, protoErr *Error) *Error {
	return &Error{
		Code:        protoErr.Code,
		Description: protoErr.Description,
		Status:      protoErr.Status,
		Err:         err,
	}
}

// WithDescription returns a copy of the error with a more specific
// description. The code and status are preserved.
func WithDescription(protoErr *Error, description string) *Error {
	return &Error{
		Code:        protoErr.Code,
		Description: description,
		Status:      protoErr.Status,
	}
}
