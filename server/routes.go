package server

func (s *Server) initRoutes() {
	// AUTH
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.AuthMiddleware(s.FrameSecurityMiddleware)...))
	s.RegisterRouteHandler("POST "+RouteAuthUser, ChainMiddleware(s.UserHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAuthBridgeJS, s.BridgeScriptHandler())

	// DATA (session required)
	s.RegisterRouteHandler("GET "+RouteOpportunities, ChainMiddleware(s.ListOpportunitiesHandler(), s.APIMiddleware(s.RequireSession)...))
	s.RegisterRouteHandler("GET "+RouteOpportunityMissingID, ChainMiddleware(s.MissingOpportunityIDHandler(), s.APIMiddleware(s.RequireSession)...))
	s.RegisterRouteHandler("GET "+RouteOpportunity, ChainMiddleware(s.GetOpportunityHandler(), s.APIMiddleware(s.RequireSession)...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
