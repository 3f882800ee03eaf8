// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/pickiss/playerid/internal/auth"
	"github.com/pickiss/playerid/pkg/errutil"
)

// Transport-level error codes.
const (
	CodeNotFound              = "NOT_FOUND"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeClientUpgradeRequired = "CLIENT_UPGRADE_REQUIRED"
	CodeInternal              = "INTERNAL"
)

var statusByCode = map[string]int{
	auth.CodeSessionTokenInvalid:   http.StatusUnauthorized,
	auth.CodeSessionExpired:        http.StatusUnauthorized,
	auth.CodeAccessTokenInvalid:    http.StatusUnauthorized,
	auth.CodeCredentialInvalid:     http.StatusUnauthorized,
	CodeUnauthenticated:            http.StatusUnauthorized,
	auth.CodeAccountAlreadyLinked:  http.StatusConflict,
	auth.CodeProviderAlreadyLinked: http.StatusConflict,
	auth.CodeProviderUnknown:       http.StatusNotFound,
	auth.CodePlayerNotFound:        http.StatusNotFound,
	CodeNotFound:                   http.StatusNotFound,
	auth.CodeInvalidRequest:        http.StatusBadRequest,
	CodeMethodNotAllowed:           http.StatusMethodNotAllowed,
	CodeClientUpgradeRequired:      http.StatusUpgradeRequired,
	auth.CodeProviderUnavailable:   http.StatusBadGateway,
}

// StatusFor maps an error code to its HTTP status. Unknown codes are 500.
func StatusFor(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // client may disconnect
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code, message string) {
	writeJSON(w, StatusFor(code), ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: RequestID(r.Context()),
	})
}

// writeError renders err as an envelope. Server faults are logged and their
// details withheld from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	switch status := StatusFor(code); {
	case status == http.StatusInternalServerError:
		errutil.LogErrorContext(r.Context(), h.loggerFor(r), "request failed", err)
		writeErrorCode(w, r, CodeInternal, "internal error")
		return
	case status == http.StatusBadGateway:
		h.loggerFor(r).WarnContext(r.Context(), "identity provider unavailable", "error", err)
	}
	writeErrorCode(w, r, code, err.Error())
}
