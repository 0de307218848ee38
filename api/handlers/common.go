package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"serima/config"
	"serima/core/auth"
	"serima/core/incidents"
	"serima/core/rbac"
	"serima/core/store"
	"serima/core/utils"
)

const (
	flashSuccess = "success"
	flashWarning = "warning"
	flashError   = "error"

	incidentsPage = "/incidents"

	maxFormBytes = 256 * 1024
)

var errNoSession = errors.New("no session")

// Common carries what every handler needs to resolve the caller.
type Common struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions store.SessionStore
	catalog  store.CatalogStore
	policy   *rbac.Policy
	logger   *utils.Logger
}

func NewCommon(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionStore, catalog store.CatalogStore, policy *rbac.Policy, logger *utils.Logger) *Common {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Common{cfg: cfg, users: users, sessions: sessions, catalog: catalog, policy: policy, logger: logger}
}

// caller is the authenticated user behind a request.
type caller struct {
	sess    *store.SessionRecord
	user    *store.User
	company *store.Company
}

func (c caller) viewer() incidents.Viewer {
	return incidents.ViewerFor(c.user, c.sess.ActiveCompanyID)
}

func (h *Common) caller(r *http.Request) (caller, error) {
	sess := auth.FromContext(r.Context())
	if sess == nil {
		return caller{}, errNoSession
	}
	user, err := h.users.Get(r.Context(), sess.UserID)
	if err != nil {
		return caller{}, err
	}
	if user == nil {
		return caller{}, errNoSession
	}
	c := caller{sess: sess, user: user}
	if sess.ActiveCompanyID != nil {
		if c.company, err = h.catalog.GetCompany(r.Context(), *sess.ActiveCompanyID); err != nil {
			return caller{}, err
		}
	}
	return c, nil
}

// mustCaller writes the error response itself when the caller cannot be
// resolved.
func (h *Common) mustCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c, err := h.caller(r)
	if err != nil {
		if errors.Is(err, errNoSession) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return caller{}, false
		}
		h.serverError(w, r, err)
		return caller{}, false
	}
	return c, true
}

func (h *Common) flash(r *http.Request, c caller, level, msg string) {
	if err := h.sessions.PushMessage(r.Context(), c.sess.ID, level, msg); err != nil {
		h.logger.Errorf("FLASH %s for %s: %v", level, c.sess.Username, err)
	}
}

// redirect answers with 303 and the target both in Location and in the body
// so API clients do not have to follow it.
func redirect(w http.ResponseWriter, target string) {
	w.Header().Set("Location", target)
	writeJSON(w, http.StatusSeeOther, map[string]string{"redirect": target})
}

// denied sends the caller back to the incident list without telling why.
func (h *Common) denied(w http.ResponseWriter, r *http.Request, c caller, reason string) {
	h.logger.Printf("ACCESS denied %s %s user=%s: %s", r.Method, r.URL.Path, c.sess.Username, reason)
	redirect(w, incidentsPage)
}

func (h *Common) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	http.Error(w, "server error", http.StatusInternalServerError)
}

func (h *Common) publicURL() string {
	if h.cfg == nil {
		return ""
	}
	return h.cfg.PublicURL
}

// loadIncident reads the {id} incident and checks that the caller may see
// it. On failure the response is already written.
func (h *Common) loadIncident(w http.ResponseWriter, r *http.Request, c caller, src store.IncidentsStore) (*store.Incident, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.denied(w, r, c, "bad incident id")
		return nil, false
	}
	inc, err := src.GetIncident(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return nil, false
	}
	if inc == nil || !c.viewer().CanAccess(inc) {
		h.denied(w, r, c, fmt.Sprintf("incident %d out of scope", id))
		return nil, false
	}
	return inc, true
}

// readInput accepts url-encoded forms and flat JSON objects. JSON arrays
// become repeated values, scalars single ones.
func readInput(r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	out := url.Values{}
	if len(strings.TrimSpace(string(body))) == 0 {
		return out, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				out.Add(k, scalar(item))
			}
		case nil:
		default:
			out.Set(k, scalar(val))
		}
	}
	return out, nil
}

func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "on"
		}
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func parseIntDefault(val string, def int) int {
	if val == "" {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
