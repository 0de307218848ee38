package api

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/core/store"
)

type route struct {
	method, path string
}

var routeParam = regexp.MustCompile(`\{[^}]+\}`)

// apiRoutes lists every registered /api route with its parameters set to 1.
func apiRoutes(t *testing.T, srv *Server) []route {
	t.Helper()
	var out []route
	err := chi.Walk(srv.router, func(method, pattern string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if strings.HasPrefix(pattern, "/api/") {
			out = append(out, route{method: method, path: routeParam.ReplaceAllString(pattern, "1")})
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	sort.Slice(out, func(i, j int) bool {
		return out[i].path+out[i].method < out[j].path+out[j].method
	})
	return out
}

func TestEveryAPIRouteNeedsSession(t *testing.T) {
	e := newAPIEnv(t, 3)
	for _, rt := range apiRoutes(t, e.srv) {
		rr := e.do(nil, rt.method, rt.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", rt.method, rt.path)
	}
}

func TestOnlySessionEndpointsSkipPermissions(t *testing.T) {
	e := newAPIEnv(t, 3)
	nobody := store.User{Username: "nobody", Email: "nobody@example.lu", Active: true}
	_, err := e.srv.users.Create(context.Background(), &nobody)
	require.NoError(t, err)

	open := map[route]bool{
		{http.MethodGet, "/api/auth/me"}:          true,
		{http.MethodGet, "/api/messages"}:         true,
		{http.MethodPost, "/api/session/company"}: true,
		{http.MethodPost, "/api/auth/logout"}:     true,
	}
	var logout *route
	for _, rt := range apiRoutes(t, e.srv) {
		if rt.path == "/api/auth/logout" {
			rt := rt
			logout = &rt
			continue
		}
		sess := e.login(&nobody)
		rr := e.do(sess, rt.method, rt.path, map[string]any{}, "")
		if open[rt] {
			assert.NotEqual(t, http.StatusForbidden, rr.Code, "%s %s", rt.method, rt.path)
		} else {
			assert.Equal(t, http.StatusForbidden, rr.Code, "%s %s", rt.method, rt.path)
		}
	}
	require.NotNil(t, logout)
	rr := e.do(e.login(&nobody), logout.method, logout.path, map[string]any{}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
