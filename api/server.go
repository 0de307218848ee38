package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"serima/api/handlers"
	"serima/api/routegroups"
	"serima/config"
	"serima/core/auth"
	"serima/core/incidents"
	"serima/core/rbac"
	"serima/core/regulatory"
	"serima/core/reports"
	"serima/core/store"
	"serima/core/utils"
	"serima/core/wizard"
)

const shutdownTimeout = 15 * time.Second

// BackgroundWorker runs next to the HTTP server and stops with it.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context) error
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Users          store.UsersStore
	Sessions       store.SessionStore
	Catalog        store.CatalogStore
	IncidentsStore store.IncidentsStore
	Audits         store.AuditStore
	IncidentsSvc   *incidents.Service
	Resolver       *regulatory.Resolver
	Wizards        *wizard.Engine
	Renderer       *reports.Renderer
	SessionManager *auth.SessionManager
	Policy         *rbac.Policy
	Workers        []BackgroundWorker
}

type Server struct {
	cfg             *config.AppConfig
	router          *chi.Mux
	logger          *utils.Logger
	users           store.UsersStore
	sessions        store.SessionStore
	policy          *rbac.Policy
	proxies         proxyTrust
	activity        *activityTracker
	reportLimiter   *keyedLimiter
	deps            ServerDeps
	httpServer      *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{
		cfg:             cfg,
		router:          chi.NewRouter(),
		logger:          logger,
		users:           deps.Users,
		sessions:        deps.Sessions,
		policy:          deps.Policy,
		proxies:         newProxyTrust(cfg.Security.TrustedProxies),
		activity:        newActivityTracker(),
		reportLimiter:   newKeyedLimiter(cfg.Reports.ExportsPerMinute),
		deps:            deps,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithSession:       s.withSession,
		RequirePermission: s.requirePermission,
		Limited:           s.limitReports,
	}
}

func (s *Server) routes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.accessLogMiddleware)

	d := s.deps
	common := handlers.NewCommon(s.cfg, d.Users, d.Sessions, d.Catalog, d.Policy, s.logger)
	incidentsH := handlers.NewIncidentsHandler(common, d.IncidentsStore, d.IncidentsSvc, d.Renderer)
	wizardsH := handlers.NewWizardHandler(common, d.IncidentsStore, d.IncidentsSvc, d.Resolver, d.Wizards)
	authH := handlers.NewAuthHandler(common, d.SessionManager, d.Audits)
	adminH := handlers.NewAdminHandler(common, d.Audits)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router.Route("/api", func(apiRouter chi.Router) {
		g := s.guards()
		routegroups.RegisterSession(apiRouter, g, authH)
		routegroups.RegisterIncidents(apiRouter, g, incidentsH, wizardsH)
		routegroups.RegisterAdmin(apiRouter, g, adminH)
	})
}

// Run serves until ctx is cancelled, then shuts the server and the workers
// down.
func (s *Server) Run(ctx context.Context) error {
	for _, w := range s.deps.Workers {
		if err := w.StartWithContext(ctx); err != nil {
			return err
		}
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP listening on %s (tls=%v)", s.cfg.ListenAddr, s.cfg.TLSEnabled)
		var err error
		if s.cfg.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Errorf("HTTP shutdown: %v", err)
	}
	for _, w := range s.deps.Workers {
		if err := w.StopWithContext(shutdownCtx); err != nil {
			s.logger.Errorf("worker stop: %v", err)
		}
	}
	return serveErr
}
