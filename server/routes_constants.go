package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthUser     = "/auth/user"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthSession  = "/auth/session"
	RouteAuthBridgeJS = "/auth/bridge.js"

	// Data Routes
	RouteOpportunities = "/opportunities"
	RouteOpportunity   = "/opportunities/{id}"
	// trailing slash with no id
	RouteOpportunityMissingID = "/opportunities/{$}"

	RouteHealth = "/health"
)
