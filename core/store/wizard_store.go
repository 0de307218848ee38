package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// WizardStateRecord is the persisted form of an in-progress wizard. Payloads
// stay opaque JSON at this layer.
type WizardStateRecord struct {
	ID          string
	SessionID   string
	WizardKey   string
	Kind        string
	CurrentStep int
	DataJSON    string
	ParamsJSON  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WizardStore interface {
	SaveWizardState(ctx context.Context, rec *WizardStateRecord) error
	GetWizardState(ctx context.Context, sessionID, key string) (*WizardStateRecord, error)
	DeleteWizardState(ctx context.Context, sessionID, key string) error
}

type wizardStore struct {
	db *sql.DB
}

func NewWizardStore(db *sql.DB) WizardStore {
	return &wizardStore{db: db}
}

func (s *wizardStore) SaveWizardState(ctx context.Context, rec *WizardStateRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.DataJSON == "" {
		rec.DataJSON = "{}"
	}
	if rec.ParamsJSON == "" {
		rec.ParamsJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wizard_states(id, session_id, wizard_key, kind, current_step, data_json, params_json, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id, wizard_key) DO UPDATE SET
			id=excluded.id, kind=excluded.kind, current_step=excluded.current_step,
			data_json=excluded.data_json, params_json=excluded.params_json,
			created_at=excluded.created_at, updated_at=excluded.updated_at`,
		rec.ID, rec.SessionID, rec.WizardKey, rec.Kind, rec.CurrentStep, rec.DataJSON, rec.ParamsJSON, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *wizardStore) GetWizardState(ctx context.Context, sessionID, key string) (*WizardStateRecord, error) {
	var rec WizardStateRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, wizard_key, kind, current_step, data_json, params_json, created_at, updated_at
		FROM wizard_states WHERE session_id=$1 AND wizard_key=$2`, sessionID, key).
		Scan(&rec.ID, &rec.SessionID, &rec.WizardKey, &rec.Kind, &rec.CurrentStep, &rec.DataJSON, &rec.ParamsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *wizardStore) DeleteWizardState(ctx context.Context, sessionID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM wizard_states WHERE session_id=$1 AND wizard_key=$2`, sessionID, key)
	return err
}
