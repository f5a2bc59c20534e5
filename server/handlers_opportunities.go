package server

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
)

type listResponse struct {
	Success bool                     `json:"success"`
	Count   int                      `json:"count"`
	Data    []salesforce.Opportunity `json:"data"`
}

func (s *Server) ListOpportunitiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := s.filters.Parse(r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}

		opps, err := s.service.ListOpportunities(r.Context(), sessionIDFromContext(r.Context()), filter)
		if err != nil {
			s.writeSessionError(w, r, err)
			return
		}
		if opps == nil {
			opps = []salesforce.Opportunity{}
		}
		writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(opps), Data: opps})
	}
}

func (s *Server) GetOpportunityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: missing opportunity id", apperrors.ErrInvalidRequest))
			return
		}

		opp, err := s.service.GetOpportunity(r.Context(), sessionIDFromContext(r.Context()), id)
		if err != nil {
			s.writeSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: opp})
	}
}

func (s *Server) MissingOpportunityIDHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, fmt.Errorf("%w: missing opportunity id", apperrors.ErrInvalidRequest))
	}
}

// writeSessionError also drops the cookie once the session is gone, so the
// browser stops presenting it.
func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperrors.ErrNotAuthenticated) || errors.Is(err, apperrors.ErrSessionExpired) {
		s.ClearSessionCookie(w, r)
	}
	writeError(w, r, err)
}
