package appbootstrap

import (
	"database/sql"

	"serima/api"
	"serima/config"
	"serima/core/auth"
	"serima/core/incidents"
	"serima/core/notify"
	"serima/core/rbac"
	"serima/core/regulatory"
	"serima/core/reports"
	"serima/core/store"
	"serima/core/utils"
	"serima/core/wizard"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	users      store.UsersStore
	sessions   store.SessionStore
	catalog    store.CatalogStore
	manager    *auth.SessionManager
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	catalog := store.NewCatalogStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	audits := store.NewAuditStore(db)
	reminders := store.NewRemindersStore(db)

	sender, err := notify.NewSender(cfg.Email, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewNotifier(cfg, catalog, sender, logger)
	resolver := regulatory.NewResolver(catalog)
	incidentsSvc := incidents.NewService(cfg, incidentsStore, catalog, resolver, notifier, audits, logger)
	renderer, err := reports.NewRenderer(cfg, reports.NewOfficeConverter(), logger)
	if err != nil {
		return nil, err
	}
	manager := auth.NewSessionManager(sessions, cfg, logger)

	reminderScheduler := notify.NewReminderScheduler(cfg.Scheduler, catalog, incidentsStore, reminders, notifier, logger)
	sweeper := auth.NewSessionSweeper(sessions, 0, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Users:          users,
			Sessions:       sessions,
			Catalog:        catalog,
			IncidentsStore: incidentsStore,
			Audits:         audits,
			IncidentsSvc:   incidentsSvc,
			Resolver:       resolver,
			Wizards:        wizard.NewEngine(store.NewWizardStore(db), logger),
			Renderer:       renderer,
			SessionManager: manager,
			Policy:         rbac.NewPolicy(rbac.DefaultRoles()),
			Workers:        []api.BackgroundWorker{reminderScheduler, sweeper},
		},
		users:    users,
		sessions: sessions,
		catalog:  catalog,
		manager:  manager,
	}, nil
}
