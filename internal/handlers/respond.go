package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"oauth-service/pkg/oautherr"
)

// writeError serializes a protocol error as the standard OAuth error body.
// Internal failures are logged with their cause and surfaced as a generic
// server_error; secret material never reaches the caller or the log line.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var protoErr *oautherr.Error
	if !errors.As(err, &protoErr) {
		protoErr = oautherr.Wrap(err, oautherr.ErrServerError)
	}

	if protoErr.Status >= 500 {
		logger.Error("Request failed", zap.String("error", protoErr.Code), zap.Error(protoErr.Err))
	}

	w.Header().Set("Content-Type", "application/json")
	if protoErr.Code == oautherr.ErrInvalidClient.Code && protoErr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth-service"`)
	}
	w.WriteHeader(protoErr.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":             protoErr.Code,
		"error_description": protoErr.Description,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
