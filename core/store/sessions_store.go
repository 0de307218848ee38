package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type SessionRecord struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username"`
	Roles           []string  `json:"roles"`
	CSRFToken       string    `json:"-"`
	ActiveCompanyID *int64    `json:"active_company_id,omitempty"`
	IP              string    `json:"ip"`
	UserAgent       string    `json:"user_agent"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type FlashMessage struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type SessionStore interface {
	SaveSession(ctx context.Context, sess *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string, by string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	SetActiveCompany(ctx context.Context, id string, companyID *int64) error

	PushMessage(ctx context.Context, sessionID, level, message string) error
	PopMessages(ctx context.Context, sessionID string) ([]FlashMessage, error)
	SetValue(ctx context.Context, sessionID, key, value string) error
	GetValue(ctx context.Context, sessionID, key string) (string, bool, error)
	DeleteValue(ctx context.Context, sessionID, key string) error
}

type sessionsStore struct {
	db *sql.DB
}

func NewSessionsStore(db *sql.DB) SessionStore {
	return &sessionsStore{db: db}
}

func (s *sessionsStore) SaveSession(ctx context.Context, sess *SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, username, roles, csrf_token, active_company_id, ip, user_agent, created_at, last_seen_at, expires_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sess.ID, sess.UserID, sess.Username, strings.Join(sess.Roles, ","), sess.CSRFToken, nullableID(sess.ActiveCompanyID),
		sess.IP, sess.UserAgent, sess.CreatedAt.UTC(), sess.LastSeenAt.UTC(), sess.ExpiresAt.UTC())
	return err
}

// GetSession returns nil for unknown or expired sessions.
func (s *sessionsStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var sr SessionRecord
	var roles string
	var company sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, roles, csrf_token, active_company_id, ip, user_agent, created_at, last_seen_at, expires_at
		FROM sessions WHERE id=$1`, id).
		Scan(&sr.ID, &sr.UserID, &sr.Username, &roles, &sr.CSRFToken, &company, &sr.IP, &sr.UserAgent, &sr.CreatedAt, &sr.LastSeenAt, &sr.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(sr.ExpiresAt.UTC()) {
		return nil, nil
	}
	sr.ActiveCompanyID = ptrFromNullInt(company)
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			sr.Roles = append(sr.Roles, r)
		}
	}
	return &sr, nil
}

func (s *sessionsStore) UpdateActivity(ctx context.Context, id string, now time.Time, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at=$1, expires_at=$2 WHERE id=$3`, now.UTC(), now.UTC().Add(ttl), id)
	return err
}

// DeleteSession drops the session with its wizard states, flash messages and
// stored values.
func (s *sessionsStore) DeleteSession(ctx context.Context, id string, by string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM wizard_states WHERE session_id=$1`,
		`DELETE FROM session_messages WHERE session_id=$1`,
		`DELETE FROM session_values WHERE session_id=$1`,
		`DELETE FROM sessions WHERE id=$1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			tx.Rollback()
			return err
		}
	}
	if by != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log(username, action, details, created_at) VALUES($1,$2,$3,$4)`,
			by, "session.delete", id, time.Now().UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sessionsStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for _, stmt := range []string{
		`DELETE FROM wizard_states WHERE session_id IN (SELECT id FROM sessions WHERE expires_at<$1)`,
		`DELETE FROM session_messages WHERE session_id IN (SELECT id FROM sessions WHERE expires_at<$1)`,
		`DELETE FROM session_values WHERE session_id IN (SELECT id FROM sessions WHERE expires_at<$1)`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, now.UTC()); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at<$1`, now.UTC())
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func (s *sessionsStore) SetActiveCompany(ctx context.Context, id string, companyID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET active_company_id=$1 WHERE id=$2`, nullableID(companyID), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sessionsStore) PushMessage(ctx context.Context, sessionID, level, message string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO session_messages(session_id, level, message, created_at) VALUES($1,$2,$3,$4)`,
		sessionID, level, message, time.Now().UTC())
	return err
}

// PopMessages returns queued flash messages oldest first and clears them.
func (s *sessionsStore) PopMessages(ctx context.Context, sessionID string) ([]FlashMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT level, message, created_at FROM session_messages WHERE session_id=$1 ORDER BY id`, sessionID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var res []FlashMessage
	for rows.Next() {
		var m FlashMessage
		if err := rows.Scan(&m.Level, &m.Message, &m.At); err != nil {
			rows.Close()
			tx.Rollback()
			return nil, err
		}
		res = append(res, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_id=$1`, sessionID); err != nil {
		tx.Rollback()
		return nil, err
	}
	return res, tx.Commit()
}

func (s *sessionsStore) SetValue(ctx context.Context, sessionID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_values(session_id, key, value) VALUES($1,$2,$3)
		ON CONFLICT (session_id, key) DO UPDATE SET value=excluded.value`, sessionID, key, value)
	return err
}

func (s *sessionsStore) GetValue(ctx context.Context, sessionID, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_values WHERE session_id=$1 AND key=$2`, sessionID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sessionsStore) DeleteValue(ctx context.Context, sessionID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE session_id=$1 AND key=$2`, sessionID, key)
	return err
}
