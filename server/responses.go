package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/rs/zerolog/log"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Machine-readable error codes returned in the "code" field.
const (
	codeInvalidRequest   = "INVALID_REQUEST"
	codeInvalidQuery     = "INVALID_QUERY"
	codeNotAuthenticated = "NOT_AUTHENTICATED"
	codeTokenExpired     = "TOKEN_EXPIRED"
	codeReauthenticate   = "REAUTHENTICATE"
	codeNotFound         = "NOT_FOUND"
	codeAuthExchange     = "AUTH_EXCHANGE_FAILED"
	codeIdentityLookup   = "IDENTITY_LOOKUP_FAILED"
	codeConfig           = "CONFIG_ERROR"
	codeRateLimited      = "RATE_LIMITED"
	codeUpstream         = "UPSTREAM_UNAVAILABLE"
	codeInternal         = "INTERNAL_ERROR"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// errorMapping is checked in order; the first sentinel found in the chain
// wins. When detail is set the client sees the error's own text, which the
// connector has already stripped of provider output.
var errorMapping = []struct {
	target  error
	status  int
	code    string
	message string
	detail  bool
}{
	{apperrors.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest, "Invalid request", true},
	{apperrors.ErrQuery, http.StatusBadRequest, codeInvalidQuery, "Invalid query", true},
	{apperrors.ErrNotAuthenticated, http.StatusUnauthorized, codeNotAuthenticated, "Not authenticated", false},
	{apperrors.ErrSessionExpired, http.StatusUnauthorized, codeTokenExpired, "Salesforce session expired", false},
	{apperrors.ErrRefresh, http.StatusUnauthorized, codeReauthenticate, "Token refresh failed, please sign in again", false},
	{apperrors.ErrNotFound, http.StatusNotFound, codeNotFound, "Not found", true},
	{apperrors.ErrUpstream, http.StatusServiceUnavailable, codeUpstream, "Salesforce is unavailable, try again", false},
	{apperrors.ErrAuthExchange, http.StatusInternalServerError, codeAuthExchange, "Authentication failed", false},
	{apperrors.ErrConfiguration, http.StatusInternalServerError, codeConfig, "Server misconfigured", false},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

func writeNotAuthenticated(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, codeNotAuthenticated, "Not authenticated")
}

// writeError maps a domain error onto a status and code. Anything
// unclassified is logged and answered generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.Err(err).Str("request_id", requestID(r)).Str("code", code).Msg("Request failed")
	}
	writeJSONError(w, status, code, message)
}

func classify(err error) (status int, code, message string) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.detail && err != m.target {
			return m.status, m.code, capitalise(err.Error())
		}
		return m.status, m.code, m.message
	}
	return http.StatusInternalServerError, codeInternal, "Internal server error"
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
