package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"serima/core/auth"
	"serima/core/store"
)

const (
	SessionCookieName = "serima_session"
	CSRFCookieName    = "serima_csrf"
)

// AuthHandler covers what the platform does with sessions opened by the
// external identity provider.
type AuthHandler struct {
	*Common
	manager *auth.SessionManager
	audits  store.AuditStore
}

func NewAuthHandler(common *Common, manager *auth.SessionManager, audits store.AuditStore) *AuthHandler {
	return &AuthHandler{Common: common, manager: manager, audits: audits}
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":           c.user,
		"active_company": c.company,
		"permissions":    h.policy.Permissions(c.sess.Roles),
		"is_regulator":   c.viewer().IsRegulator(),
		"csrf_token":     c.sess.CSRFToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	actor := ""
	if sess := auth.FromContext(r.Context()); sess != nil {
		actor = sess.Username
		if err := h.manager.Delete(r.Context(), sess.ID, actor); err != nil {
			h.logger.Errorf("AUTH logout %s: %v", actor, err)
		}
	}
	secure := r.TLS != nil || (h.cfg != nil && h.cfg.TLSEnabled)
	for _, name := range []string{SessionCookieName, CSRFCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == SessionCookieName,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if h.audits != nil {
		_ = h.audits.Log(r.Context(), actor, "auth.logout", "")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Messages hands out the pending flash messages once.
func (h *AuthHandler) Messages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	msgs, err := h.sessions.PopMessages(r.Context(), c.sess.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.FlashMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *AuthHandler) SwitchCompany(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	in, err := readInput(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(in.Get("company_id")), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"company_id": "Select a valid choice."}})
		return
	}
	if err := h.manager.SwitchCompany(r.Context(), c.sess, c.user, id); err != nil {
		if errors.Is(err, auth.ErrNotMember) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"company_id": "Select a valid choice."}})
			return
		}
		h.serverError(w, r, err)
		return
	}
	h.logger.Printf("SESSION %s switched to company %d", c.sess.Username, id)
	writeJSON(w, http.StatusOK, map[string]any{"active_company_id": id})
}
