package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"serima/core/utils"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// sqliteMigrations mirror migrations/00001_init.sql for the sqlite runtime used
// by tests and single node installs.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		group_name TEXT NOT NULL,
		PRIMARY KEY (user_id, group_name)
	);`,
	`CREATE TABLE IF NOT EXISTS companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL,
		name TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS user_companies (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		is_company_administrator INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, company_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sectors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		acronym TEXT NOT NULL DEFAULT '',
		parent_id INTEGER REFERENCES sectors(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		acronym TEXT NOT NULL DEFAULT '',
		sector_id INTEGER NOT NULL REFERENCES sectors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS user_sectors (
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		sector_id INTEGER NOT NULL REFERENCES sectors(id) ON DELETE CASCADE,
		PRIMARY KEY (user_id, sector_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		roles TEXT NOT NULL,
		csrf_token TEXT NOT NULL,
		active_company_id INTEGER,
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS session_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS session_values (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (session_id, key)
	);`,
	`CREATE TABLE IF NOT EXISTS wizard_states (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		wizard_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		current_step INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL DEFAULT '{}',
		params_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (session_id, wizard_key)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS regulators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		email_for_notification TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS regulations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS regulation_regulators (
		regulation_id INTEGER NOT NULL REFERENCES regulations(id) ON DELETE CASCADE,
		regulator_id INTEGER NOT NULL REFERENCES regulators(id) ON DELETE CASCADE,
		PRIMARY KEY (regulation_id, regulator_id)
	);`,
	`CREATE TABLE IF NOT EXISTS impacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		regulation_id INTEGER NOT NULL REFERENCES regulations(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS impact_sectors (
		impact_id INTEGER NOT NULL REFERENCES impacts(id) ON DELETE CASCADE,
		sector_id INTEGER NOT NULL REFERENCES sectors(id) ON DELETE CASCADE,
		PRIMARY KEY (impact_id, sector_id)
	);`,
	`CREATE TABLE IF NOT EXISTS emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		email_type TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS question_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		tooltip TEXT NOT NULL DEFAULT '',
		question_type TEXT NOT NULL,
		is_mandatory INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL DEFAULT 0,
		category_id INTEGER NOT NULL REFERENCES question_categories(id)
	);`,
	`CREATE TABLE IF NOT EXISTS predefined_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		is_impact_needed INTEGER NOT NULL DEFAULT 0,
		submission_email_id INTEGER REFERENCES emails(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS workflow_questions (
		workflow_id INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
		PRIMARY KEY (workflow_id, question_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sector_regulations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		regulation_id INTEGER NOT NULL REFERENCES regulations(id),
		regulator_id INTEGER NOT NULL REFERENCES regulators(id),
		is_detection_date_needed INTEGER NOT NULL DEFAULT 0,
		opening_email_id INTEGER REFERENCES emails(id) ON DELETE SET NULL,
		closing_email_id INTEGER REFERENCES emails(id) ON DELETE SET NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sector_regulation_sectors (
		sector_regulation_id INTEGER NOT NULL REFERENCES sector_regulations(id) ON DELETE CASCADE,
		sector_id INTEGER NOT NULL REFERENCES sectors(id) ON DELETE CASCADE,
		PRIMARY KEY (sector_regulation_id, sector_id)
	);`,
	`CREATE TABLE IF NOT EXISTS sector_regulation_workflows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sector_regulation_id INTEGER NOT NULL REFERENCES sector_regulations(id) ON DELETE CASCADE,
		workflow_id INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS sector_regulation_workflow_emails (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sector_regulation_workflow_id INTEGER NOT NULL REFERENCES sector_regulation_workflows(id) ON DELETE CASCADE,
		headline TEXT NOT NULL DEFAULT '',
		email_id INTEGER NOT NULL REFERENCES emails(id),
		trigger_event TEXT NOT NULL,
		delay_in_hours INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id TEXT NOT NULL DEFAULT '',
		company_id INTEGER REFERENCES companies(id) ON DELETE SET NULL,
		company_name TEXT NOT NULL DEFAULT '',
		contact_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		sector_regulation_id INTEGER NOT NULL REFERENCES sector_regulations(id),
		contact_lastname TEXT NOT NULL DEFAULT '',
		contact_firstname TEXT NOT NULL DEFAULT '',
		contact_title TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		contact_telephone TEXT NOT NULL DEFAULT '',
		technical_lastname TEXT NOT NULL DEFAULT '',
		technical_firstname TEXT NOT NULL DEFAULT '',
		technical_title TEXT NOT NULL DEFAULT '',
		technical_email TEXT NOT NULL DEFAULT '',
		technical_telephone TEXT NOT NULL DEFAULT '',
		incident_reference TEXT NOT NULL DEFAULT '',
		complaint_reference TEXT NOT NULL DEFAULT '',
		incident_notification_date TIMESTAMP NOT NULL,
		incident_detection_date TIMESTAMP,
		incident_starting_date TIMESTAMP,
		final_notification_date TIMESTAMP,
		is_significative_impact INTEGER NOT NULL DEFAULT 0,
		incident_status TEXT NOT NULL DEFAULT 'GOING',
		review_status TEXT NOT NULL DEFAULT 'UNDE',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incident_sectors (
		incident_id INTEGER NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		sector_id INTEGER NOT NULL REFERENCES sectors(id) ON DELETE CASCADE,
		PRIMARY KEY (incident_id, sector_id)
	);`,
	`CREATE TABLE IF NOT EXISTS incident_services (
		incident_id INTEGER NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		service_id INTEGER NOT NULL REFERENCES services(id) ON DELETE CASCADE,
		PRIMARY KEY (incident_id, service_id)
	);`,
	`CREATE TABLE IF NOT EXISTS incident_impacts (
		incident_id INTEGER NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		impact_id INTEGER NOT NULL REFERENCES impacts(id) ON DELETE CASCADE,
		PRIMARY KEY (incident_id, impact_id)
	);`,
	`CREATE TABLE IF NOT EXISTS incident_workflows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL REFERENCES incidents(id),
		workflow_id INTEGER NOT NULL REFERENCES workflows(id),
		created_by INTEGER,
		review_status TEXT NOT NULL DEFAULT 'UNDE',
		comment TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS incident_workflow_impacts (
		incident_workflow_id INTEGER NOT NULL REFERENCES incident_workflows(id) ON DELETE CASCADE,
		impact_id INTEGER NOT NULL REFERENCES impacts(id) ON DELETE CASCADE,
		PRIMARY KEY (incident_workflow_id, impact_id)
	);`,
	`CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_workflow_id INTEGER NOT NULL REFERENCES incident_workflows(id),
		question_id INTEGER NOT NULL REFERENCES questions(id),
		answer TEXT,
		timestamp TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS answer_predefined_answers (
		answer_id INTEGER NOT NULL REFERENCES answers(id) ON DELETE CASCADE,
		predefined_answer_id INTEGER NOT NULL REFERENCES predefined_answers(id),
		PRIMARY KEY (answer_id, predefined_answer_id)
	);`,
	`CREATE TABLE IF NOT EXISTS reminder_deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		incident_id INTEGER NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
		reminder_id INTEGER NOT NULL REFERENCES sector_regulation_workflow_emails(id) ON DELETE CASCADE,
		sent_at TIMESTAMP NOT NULL,
		UNIQUE (incident_id, reminder_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_incident_id ON incidents(incident_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_company ON incidents(company_id);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_contact_user ON incidents(contact_user_id, incident_notification_date);`,
	`CREATE INDEX IF NOT EXISTS idx_incident_workflows_incident ON incident_workflows(incident_id, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_answers_incident_workflow ON answers(incident_workflow_id);`,
	`CREATE INDEX IF NOT EXISTS idx_srw_bundle ON sector_regulation_workflows(sector_regulation_id, position);`,
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if isPostgresDB(db) {
		return applyPostgresMigrations(ctx, db, logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func applyPostgresMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	goose.SetBaseFS(migrationFiles)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		logger.Printf("DB migrations applied (postgres), version=%d", version)
	}
	logMigrationAudit(ctx, db, "db.migrate", "postgres")
	return nil
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", i, err)
		}
	}
	if err := ensureIncidentColumns(ctx, db); err != nil {
		return err
	}
	logger.Printf("DB migrations applied (sqlite), statements=%d", len(sqliteMigrations))
	logMigrationAudit(ctx, db, "db.migrate", "sqlite")
	return nil
}

// ensureIncidentColumns upgrades sqlite files created before the reference
// columns were introduced.
func ensureIncidentColumns(ctx context.Context, db *sql.DB) error {
	type col struct {
		Name string
		SQL  string
	}
	cols := []col{
		{Name: "incident_reference", SQL: "ALTER TABLE incidents ADD COLUMN incident_reference TEXT NOT NULL DEFAULT ''"},
		{Name: "complaint_reference", SQL: "ALTER TABLE incidents ADD COLUMN complaint_reference TEXT NOT NULL DEFAULT ''"},
		{Name: "final_notification_date", SQL: "ALTER TABLE incidents ADD COLUMN final_notification_date TIMESTAMP"},
	}
	for _, c := range cols {
		exists, err := columnExists(ctx, db, "incidents", c.Name)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.SQL); err != nil {
				return fmt.Errorf("add column incidents.%s: %w", c.Name, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func logMigrationAudit(ctx context.Context, db *sql.DB, action, details string) {
	_, _ = db.ExecContext(ctx, `
		INSERT INTO audit_log(username, action, details, created_at)
		VALUES('system', $1, $2, CURRENT_TIMESTAMP)
	`, action, details)
}
