package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	"github.com/jrsteele09/go-salesforce-proxy/proxy"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/soql"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env       string // Environment (e.g., "development", "production")
	mux       *http.ServeMux
	handler   http.Handler
	routes    []string
	config    config.Config
	service   *proxy.Service
	filters   *soql.Parser
	cookies   *sessionCookies
	limiter   *RateLimiter
	bridge    *template.Template
	startedAt time.Time
}

func New(cfg config.Config, service *proxy.Service) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("[Server New] proxy service is required")
	}
	keys, err := sessions.DeriveKeys(cfg.GetSessionSecret())
	if err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}
	bridge, err := ParseTemplate(callbackTemplate)
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse bridge page: %w", err)
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		service:   service,
		filters:   soql.NewParser(cfg.GetStageAllowlist()),
		cookies:   newSessionCookies(cfg, keys.Cookie),
		limiter:   NewRateLimiter(cfg.GetRateLimitRPM(), cfg.GetTrustProxy()),
		bridge:    bridge,
		startedAt: time.Now(),
	}

	s.initRoutes()
	s.logRoutes()

	// applied to every request, including preflights the mux has no route for
	s.handler = ChainMiddleware(s.mux.ServeHTTP, s.GlobalMiddleware()...)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.config.IsProduction() {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Debug().Msgf("[%-19s] %s", displayMethod, path)
}

// isSecureRequest reports whether the client reached us over TLS. Forwarded
// headers are only believed when TRUST_PROXY is set.
func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return s.config.GetTrustProxy() && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
