package routegroups

import (
	"github.com/go-chi/chi/v5"

	"serima/api/handlers"
	"serima/core/rbac"
)

func RegisterSession(apiRouter chi.Router, g Guards, authh *handlers.AuthHandler) {
	apiRouter.MethodFunc("GET", "/auth/me", g.SessionOnly(authh.Me))
	apiRouter.MethodFunc("POST", "/auth/logout", g.SessionOnly(authh.Logout))
	apiRouter.MethodFunc("GET", "/messages", g.SessionOnly(authh.Messages))
	apiRouter.MethodFunc("POST", "/session/company", g.SessionOnly(authh.SwitchCompany))
}

func RegisterAdmin(apiRouter chi.Router, g Guards, admin *handlers.AdminHandler) {
	apiRouter.Route("/admin", func(r chi.Router) {
		r.MethodFunc("GET", "/sector-regulations", g.SessionPerm(rbac.PermCatalogManage, admin.ListBundles))
		r.MethodFunc("GET", "/sector-regulations/{id:[0-9]+}/workflows", g.SessionPerm(rbac.PermCatalogManage, admin.BundleWorkflows))
		r.MethodFunc("PUT", "/sector-regulations/{id:[0-9]+}/workflows", g.SessionPerm(rbac.PermCatalogManage, admin.UpdateBundleWorkflows))
	})
}
