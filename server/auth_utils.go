package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	"github.com/jrsteele09/go-salesforce-proxy/proxy/authflowrepo"
	"github.com/rs/zerolog/log"
)

const (
	cookieIssuer = "sfproxy"

	// audiences keep a login state token from being replayed as a session
	audienceSession    = "session"
	audienceLoginState = "login-state"

	stateCookieSuffix = ".state"
)

// sessionCookies signs the session ID into an HS256 JWT so a forged or
// altered cookie is rejected before any store lookup. The login state cookie
// uses the same key under its own audience.
type sessionCookies struct {
	name        string
	stateName   string
	production  bool
	secret      []byte
	parser      *jwt.Parser
	stateParser *jwt.Parser
}

func newSessionCookies(cfg config.Config, key []byte) *sessionCookies {
	newParser := func(audience string) *jwt.Parser {
		return jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cookieIssuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		)
	}
	return &sessionCookies{
		name:        cfg.GetSessionCookieName(),
		stateName:   cfg.GetSessionCookieName() + stateCookieSuffix,
		production:  cfg.IsProduction(),
		secret:      key,
		parser:      newParser(audienceSession),
		stateParser: newParser(audienceLoginState),
	}
}

func (c *sessionCookies) sign(id, audience string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    cookieIssuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s cookie: %w", audience, err)
	}
	return signed, nil
}

// verify returns the ID carried by the named cookie, or "".
func (c *sessionCookies) verify(r *http.Request, name string, parser *jwt.Parser) string {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	var claims jwt.RegisteredClaims
	if _, err := parser.ParseWithClaims(cookie.Value, &claims, c.verificationKey); err != nil {
		log.Debug().Err(err).Str("cookie", name).Msg("Ignoring invalid cookie")
		return ""
	}
	return claims.ID
}

func (c *sessionCookies) verificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return c.secret, nil
}

// sessionID returns the verified session ID carried by the request, or "".
func (c *sessionCookies) sessionID(r *http.Request) string {
	return c.verify(r, c.name, c.parser)
}

// loginState returns the state this browser was issued by /auth/login, or "".
func (c *sessionCookies) loginState(r *http.Request) string {
	return c.verify(r, c.stateName, c.stateParser)
}

func (c *sessionCookies) sameSite() http.SameSite {
	if c.production {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

// SetSessionCookie issues the session cookie. In production the cookie is
// SameSite=None; Secure so the dashboard on another origin can send it, and
// it is withheld entirely when the request did not arrive over TLS.
func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, sessionID string, expiresAt time.Time) bool {
	secure := s.isSecureRequest(r)
	if s.cookies.production && !secure {
		log.Warn().Str("request_id", requestID(r)).Msg("Not setting session cookie over an insecure connection, check TRUST_PROXY")
		return false
	}

	value, err := s.cookies.sign(sessionID, audienceSession, expiresAt)
	if err != nil {
		log.Err(err).Msg("Failed to issue session cookie")
		return false
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.cookies.sameSite(),
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
	return true
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isSecureRequest(r),
		SameSite: s.cookies.sameSite(),
		MaxAge:   -1,
	})
}

// SetLoginStateCookie binds an issued OAuth state to this browser. It is
// only sent back to the callback route.
func (s *Server) SetLoginStateCookie(w http.ResponseWriter, r *http.Request, state string) bool {
	secure := s.isSecureRequest(r)
	if s.cookies.production && !secure {
		log.Warn().Str("request_id", requestID(r)).Msg("Not setting login state cookie over an insecure connection, check TRUST_PROXY")
		return false
	}

	expiresAt := time.Now().Add(authflowrepo.DefaultTTL)
	value, err := s.cookies.sign(state, audienceLoginState, expiresAt)
	if err != nil {
		log.Err(err).Msg("Failed to issue login state cookie")
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.stateName,
		Value:    value,
		Path:     RouteAuthCallback,
		HttpOnly: true,
		Secure:   secure,
		SameSite: s.cookies.sameSite(),
		Expires:  expiresAt,
		MaxAge:   int(authflowrepo.DefaultTTL.Seconds()),
	})
	return true
}

// ClearLoginStateCookie expires the state cookie if the request carried one.
func (s *Server) ClearLoginStateCookie(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(s.cookies.stateName); err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookies.stateName,
		Value:    "",
		Path:     RouteAuthCallback,
		HttpOnly: true,
		Secure:   s.isSecureRequest(r),
		SameSite: s.cookies.sameSite(),
		MaxAge:   -1,
	})
}
