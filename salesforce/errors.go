package salesforce

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// REST API error codes, see the Salesforce REST API status code reference.
const (
	codeInvalidSessionID = "INVALID_SESSION_ID"
	codeNotFound         = "NOT_FOUND"
)

var queryErrorCodes = map[string]struct{}{
	"MALFORMED_QUERY":                {},
	"MALFORMED_ID":                   {},
	"INVALID_FIELD":                  {},
	"INVALID_TYPE":                   {},
	"INVALID_QUERY_FILTER_OPERATOR":  {},
	"INVALID_QUERY_LOCATOR":          {},
	"QUERY_TOO_COMPLICATED":          {},
	"INVALID_OPERATION_WITH_EXPIRED": {},
}

// apiError is one element of the error array returned by the REST API.
type apiError struct {
	ErrorCode string   `json:"errorCode"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
}

// classifyAPIError maps a REST failure onto the domain taxonomy using the
// HTTP status and the structured errorCode. Provider messages are logged, not
// returned.
func classifyAPIError(op string, status int, errs []apiError) error {
	code := ""
	if len(errs) > 0 {
		code = errs[0].ErrorCode
	}

	log.Warn().Str("op", op).Int("status", status).Str("error_code", code).Msg("Salesforce API error")

	var kind error
	_, isQueryCode := queryErrorCodes[code]
	switch {
	case code == codeInvalidSessionID || status == http.StatusUnauthorized:
		kind = apperrors.ErrSessionExpired
	case code == codeNotFound || status == http.StatusNotFound:
		kind = apperrors.ErrNotFound
	case isQueryCode || status == http.StatusBadRequest:
		kind = apperrors.ErrQuery
	default:
		kind = apperrors.ErrUpstream
	}
	if code == "" {
		return fmt.Errorf("%s: %w (status %d)", op, kind, status)
	}
	return fmt.Errorf("%s: %w (%s)", op, kind, code)
}

// checkResponse normalises the outcome of a resty call. transportKind is the
// sentinel used when the request never produced a response.
func checkResponse(op string, resp *resty.Response, err error, transportKind error) error {
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %w: salesforce did not respond in time, try again", op, transportKind)
		}
		log.Err(err).Str("op", op).Msg("Salesforce request failed")
		return fmt.Errorf("%s: %w: transport failure", op, apperrors.ErrUpstream)
	}
	if !resp.IsError() {
		return nil
	}
	var errs []apiError
	if e, ok := resp.Error().(*[]apiError); ok && e != nil {
		errs = *e
	}
	return classifyAPIError(op, resp.StatusCode(), errs)
}

// oauthErrorCode pulls the structured error code out of a token endpoint failure.
func oauthErrorCode(err error) (code, description string) {
	var re *oauth2.RetrieveError
	if apperrors.As(err, &re) {
		return re.ErrorCode, re.ErrorDescription
	}
	return "", ""
}

func isTimeout(err error) bool {
	if apperrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return apperrors.As(err, &netErr) && netErr.Timeout()
}
