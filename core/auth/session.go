package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/gofrs/uuid/v5"

	"serima/config"
	"serima/core/store"
	"serima/core/utils"
)

type contextKey string

const SessionContextKey contextKey = "session"

var ErrNotMember = errors.New("user is not a member of the company")

// FromContext returns the session attached by the session middleware.
func FromContext(ctx context.Context) *store.SessionRecord {
	sr, _ := ctx.Value(SessionContextKey).(*store.SessionRecord)
	return sr
}

type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(store store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &SessionManager{store: store, cfg: cfg, logger: logger}
}

// Create opens a session for a user authenticated elsewhere. The first
// company of the user becomes the active one.
func (m *SessionManager) Create(ctx context.Context, user *store.User, ip, userAgent string) (*store.SessionRecord, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	csrf, err := utils.RandString(32)
	if err != nil {
		return nil, err
	}
	now := utils.NowUTC()
	sess := &store.SessionRecord{
		ID:         id.String(),
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      user.Groups,
		CSRFToken:  csrf,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if len(user.Companies) > 0 {
		companyID := user.Companies[0].CompanyID
		sess.ActiveCompanyID = &companyID
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Printf("SESSION opened for %s", user.Username)
	return sess, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Delete(ctx context.Context, sessID, by string) error {
	return m.store.DeleteSession(ctx, sessID, by)
}

// SwitchCompany changes the active company of a session. Only companies the
// user belongs to can be activated.
func (m *SessionManager) SwitchCompany(ctx context.Context, sess *store.SessionRecord, user *store.User, companyID int64) error {
	for _, c := range user.Companies {
		if c.CompanyID == companyID {
			if err := m.store.SetActiveCompany(ctx, sess.ID, &companyID); err != nil {
				return err
			}
			sess.ActiveCompanyID = &companyID
			return nil
		}
	}
	return ErrNotMember
}

// CanRedirect reports whether a redirect target stays on this site: local
// paths always do, absolute URLs only when their host is part of the public
// URL.
func CanRedirect(target, publicURL string) bool {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return false
	}
	if u.Host == "" {
		// "//evil.example" parses with a host, "/\evil" does not but browsers
		// follow it.
		return !strings.HasPrefix(u.Path, "/\\")
	}
	return strings.Contains(publicURL, u.Host)
}

// SafeReferer returns the request referer when it may be redirected to and
// fallback otherwise.
func SafeReferer(referer, publicURL, fallback string) string {
	if referer == "" || !CanRedirect(referer, publicURL) {
		return fallback
	}
	return referer
}
