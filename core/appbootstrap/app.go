package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"serima/api"
	"serima/config"
	"serima/core/catalog"
	"serima/core/store"
	"serima/core/utils"
)

var ErrUnknownUser = errors.New("unknown or inactive user")

type App struct {
	cfg     *config.AppConfig
	db      *sql.DB
	logger  *utils.Logger
	runtime *runtimeComposition
}

// New opens the database, applies migrations and wires every component.
// The catalog seed is imported when configured and the catalog is empty.
func New(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*App, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	rt, err := composeRuntime(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	app := &App{cfg: cfg, db: db, logger: logger, runtime: rt}
	if err := app.seed(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) seed(ctx context.Context) error {
	path := strings.TrimSpace(a.cfg.CatalogSeed)
	if path == "" {
		return nil
	}
	seed, err := catalog.LoadFile(path)
	if err != nil {
		return fmt.Errorf("catalog seed: %w", err)
	}
	imported, err := catalog.NewImporter(a.runtime.catalog, a.runtime.users, a.logger).ImportIfEmpty(ctx, seed)
	if err != nil {
		return fmt.Errorf("catalog seed: %w", err)
	}
	if imported {
		a.logger.Printf("CATALOG imported from %s", path)
	}
	return nil
}

// Serve runs the HTTP server and the background workers until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	return api.NewServer(a.cfg, a.runtime.serverDeps, a.logger).Run(ctx)
}

// IssueSession opens a session for a user the identity provider has
// already authenticated.
func (a *App) IssueSession(ctx context.Context, username string) (*store.SessionRecord, error) {
	user, err := a.runtime.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrUnknownUser
	}
	return a.runtime.manager.Create(ctx, user, "", "cli")
}

func (a *App) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
