package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RemindersStore records which deadline reminders went out so each one is
// sent at most once per incident.
type RemindersStore interface {
	MarkReminderSent(ctx context.Context, incidentID, reminderID int64, at time.Time) (bool, error)
	ReminderSent(ctx context.Context, incidentID, reminderID int64) (bool, error)
	LastWorkflowCompletion(ctx context.Context, incidentID, workflowID int64) (*time.Time, error)
}

type remindersStore struct {
	db *sql.DB
}

func NewRemindersStore(db *sql.DB) RemindersStore {
	return &remindersStore{db: db}
}

func (s *remindersStore) MarkReminderSent(ctx context.Context, incidentID, reminderID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminder_deliveries(incident_id, reminder_id, sent_at) VALUES($1,$2,$3)
		ON CONFLICT (incident_id, reminder_id) DO NOTHING`, incidentID, reminderID, at.UTC())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *remindersStore) ReminderSent(ctx context.Context, incidentID, reminderID int64) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reminder_deliveries WHERE incident_id=$1 AND reminder_id=$2`, incidentID, reminderID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LastWorkflowCompletion returns when the incident last completed the given
// workflow, or nil.
func (s *remindersStore) LastWorkflowCompletion(ctx context.Context, incidentID, workflowID int64) (*time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT timestamp FROM incident_workflows WHERE incident_id=$1 AND workflow_id=$2
		ORDER BY timestamp DESC, id DESC LIMIT 1`, incidentID, workflowID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ptrFromNullTime(at), nil
}
