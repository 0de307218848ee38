package routegroups

import (
	"net/http"

	"serima/core/rbac"
)

// Guards wraps route handlers with the session check and a permission
// check. Limited is optional and throttles expensive endpoints.
type Guards struct {
	WithSession       func(http.HandlerFunc) http.HandlerFunc
	RequirePermission func(rbac.Permission) func(http.HandlerFunc) http.HandlerFunc
	Limited           func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) SessionPerm(perm rbac.Permission, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.RequirePermission(perm)(h))
}

// SessionOnly is for endpoints every signed-in user may call.
func (g Guards) SessionOnly(h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(h)
}

func (g Guards) Limit(h http.HandlerFunc) http.HandlerFunc {
	if g.Limited == nil {
		return h
	}
	return g.Limited(h)
}
