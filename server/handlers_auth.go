package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 64 << 10

type loginResponse struct {
	Success bool   `json:"success"`
	AuthURL string `json:"authUrl"`
}

type tokenData struct {
	AccessToken    string `json:"accessToken"`
	RefreshToken   string `json:"refreshToken,omitempty"`
	InstanceURL    string `json:"instanceUrl"`
	UserID         string `json:"userId,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type tokenRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	InstanceURL  string `json:"instanceUrl"`
}

type sessionData struct {
	UserID         string    `json:"userId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	InstanceURL    string    `json:"instanceUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	Success       bool         `json:"success"`
	Authenticated bool         `json:"authenticated"`
	Data          *sessionData `json:"data,omitempty"`
}

// LoginHandler returns the Salesforce login URL. With ?redirect=true the
// browser is sent there directly.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, state, err := s.service.LoginURL(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err))
			return
		}
		s.SetLoginStateCookie(w, r, state)
		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, authURL, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{Success: true, AuthURL: authURL})
	}
}

// CallbackHandler consumes the authorization code. Browsers navigating the
// login popup get the bridge page; API clients get JSON.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		html := prefersHTML(r)

		fail := func(err error) {
			if html {
				s.renderBridgeError(w, r, err)
				return
			}
			writeError(w, r, err)
		}

		if providerErr := q.Get("error"); providerErr != "" {
			log.Warn().Str("error", providerErr).Msg("Salesforce login did not complete")
			fail(fmt.Errorf("%w: login was cancelled or denied", apperrors.ErrInvalidRequest))
			return
		}
		code := q.Get("code")
		if code == "" {
			fail(fmt.Errorf("%w: missing authorization code", apperrors.ErrInvalidRequest))
			return
		}

		// a state only counts for the browser it was issued to
		state := q.Get("state")
		if state != "" && state != s.cookies.loginState(r) {
			log.Warn().Str("request_id", requestID(r)).Msg("Callback state not issued to this browser")
			fail(fmt.Errorf("%w: state was not issued to this browser", apperrors.ErrInvalidRequest))
			return
		}
		s.ClearLoginStateCookie(w, r)

		session, err := s.service.CompleteLogin(r.Context(), s.cookies.sessionID(r), code, state)
		if err != nil {
			fail(err)
			return
		}
		s.SetSessionCookie(w, r, session.ID, session.ExpiresAt)

		if html {
			s.renderBridgeSuccess(w, r, session.Tokens)
			return
		}
		writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: tokenData{
			AccessToken:    session.Tokens.AccessToken,
			RefreshToken:   session.Tokens.RefreshToken,
			InstanceURL:    session.Tokens.InstanceURL,
			UserID:         session.Tokens.UserID,
			OrganizationID: session.Tokens.OrganizationID,
		}})
	}
}

// UserHandler looks up the identity behind explicit tokens, or behind the
// caller's session when the body carries none.
func (s *Server) UserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeTokenRequest(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		bundle := salesforce.TokenBundle{AccessToken: req.AccessToken, InstanceURL: req.InstanceURL}
		if bundle.AccessToken == "" && bundle.InstanceURL == "" {
			if session, err := s.service.Session(r.Context(), s.cookies.sessionID(r)); err == nil {
				bundle = session.Tokens
			}
		}
		if !bundle.Complete() {
			writeError(w, r, fmt.Errorf("%w: accessToken and instanceUrl are required", apperrors.ErrInvalidRequest))
			return
		}

		identity, err := s.service.Identity(r.Context(), bundle)
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidRequest) {
				writeError(w, r, err)
				return
			}
			log.Err(err).Str("request_id", requestID(r)).Msg("Identity lookup failed")
			writeJSONError(w, http.StatusInternalServerError, codeIdentityLookup, "Failed to fetch user info")
			return
		}
		writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: identity})
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeTokenRequest(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if req.RefreshToken == "" {
			writeError(w, r, fmt.Errorf("%w: refreshToken is required", apperrors.ErrInvalidRequest))
			return
		}

		refreshed, err := s.service.Refresh(r.Context(), req.RefreshToken, req.InstanceURL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: tokenData{
			AccessToken: refreshed.AccessToken,
			InstanceURL: refreshed.InstanceURL,
		}})
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Logout(r.Context(), s.cookies.sessionID(r)); err != nil {
			log.Err(err).Str("request_id", requestID(r)).Msg("Failed to delete session")
		}
		s.ClearSessionCookie(w, r)
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{Success: true})
	}
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.service.Session(r.Context(), s.cookies.sessionID(r))
		if errors.Is(err, apperrors.ErrNotAuthenticated) {
			writeJSON(w, http.StatusOK, sessionResponse{Success: true})
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			Success:       true,
			Authenticated: true,
			Data: &sessionData{
				UserID:         session.Tokens.UserID,
				OrganizationID: session.Tokens.OrganizationID,
				InstanceURL:    session.Tokens.InstanceURL,
				ExpiresAt:      session.ExpiresAt,
			},
		})
	}
}

// decodeTokenRequest reads an optional JSON body; an empty body yields an
// empty request.
func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	var req tokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return tokenRequest{}, fmt.Errorf("%w: body must be a JSON object", apperrors.ErrInvalidRequest)
	}
	req.AccessToken = strings.TrimSpace(req.AccessToken)
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	req.InstanceURL = strings.TrimRight(strings.TrimSpace(req.InstanceURL), "/")
	return req, nil
}

func prefersHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.HasPrefix(accept, "application/json")
}
