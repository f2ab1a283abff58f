package httpapi

import (
	"net/http"
	"strings"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// Route identifiers registered with the role guard. Handlers are guarded by
// identifier, not by path string, so route moves cannot silently drop a rule.
const (
	RouteRegister       auth.RouteID = "auth.register"
	RouteLogin          auth.RouteID = "auth.login"
	RouteRefresh        auth.RouteID = "auth.refresh"
	RouteLogout         auth.RouteID = "auth.logout"
	RouteLogoutAll      auth.RouteID = "auth.logout_all"
	RouteProfile        auth.RouteID = "auth.profile"
	RouteChangePassword auth.RouteID = "auth.change_password"
	RouteStats          auth.RouteID = "ops.stats"
)

// publicRoutes skip bearer-token extraction entirely. Logout is not public:
// revoking a session takes a valid access token on top of the refresh token
// in the body.
var publicRoutes = map[auth.RouteID]bool{
	RouteRegister: true,
	RouteLogin:    true,
	RouteRefresh:  true,
}

// bearerToken pulls the token out of an Authorization header. Scheme matching
// is case-insensitive per RFC 7235.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// secure wraps a handler with authentication and the role guard for one
// route identifier. Public routes pass through without credentials; every
// other route requires a valid access token and a role the guard accepts.
func (a *API) secure(route auth.RouteID, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if publicRoutes[route] {
			h(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.svc.VerifyAccess(token)
		if err != nil {
			obs.LogEvent("warn", "auth.token_rejected", map[string]any{
				"request_id": requestIDFrom(r.Context()),
				"path":       r.URL.Path,
			})
			writeError(w, r, http.StatusUnauthorized, "invalid or expired access token")
			return
		}

		principal := auth.Principal{
			UserID:   claims.Subject,
			Email:    claims.Email,
			Username: claims.Username,
			Role:     claims.Role,
		}
		if err := a.guard.CanActivate(route, &principal); err != nil {
			obs.LogEvent("warn", "auth.role_denied", map[string]any{
				"request_id": requestIDFrom(r.Context()),
				"user_id":    principal.UserID,
				"role":       string(principal.Role),
				"route":      string(route),
			})
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		h(w, r.WithContext(ctx))
	}
}
