package server

import (
	"context"
	"net/http"
)

// RequireSession rejects requests without a valid session cookie before any
// store or provider work is done, and puts the session ID in the context.
func (s *Server) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := s.cookies.sessionID(r)
		if sessionID == "" {
			writeNotAuthenticated(w)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ContextKeySessionID, sessionID)))
	}
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeySessionID).(string)
	return id
}
