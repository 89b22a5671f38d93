package livecontrol_client

const (
	// REST endpoints
	StateEndpoint    = "/api/state"
	DispatchEndpoint = "/api/dispatch"
	TokenEndpoint    = "/auth/token"
	LogoutEndpoint   = "/auth/logout"
	LoginEndpoint    = "/login"

	// Push channel paths
	LiveEndpoint       = "/api/live"
	ControllerEndpoint = "/controller"

	// Where a browser lands after logout
	IndexPage = "/index.html"

	// Token form values
	GrantPassword      = "password"
	GrantRefreshToken  = "refresh_token"
	ResponseTypeCookie = "cookie"

	// Cookies
	AuthCookie    = "Authorization"
	RefreshCookie = "RefreshAuthorization"

	// Lifetime of the cookie written by the legacy /login flow
	LegacyCookieMaxAge = 86400
)
