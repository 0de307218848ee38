package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"serima/api/handlers"
	"serima/core/auth"
	"serima/core/rbac"
	"serima/core/store"
)

const (
	csrfHeader           = "X-CSRF-Token"
	minActivityInterval  = 30 * time.Second
	maxActivityInterval  = time.Minute
	hstsValue            = "max-age=63072000; includeSubDomains"
	contentSecurityValue = "default-src 'self'; style-src 'self'; script-src 'self'; img-src 'self' data:; object-src 'none'; frame-ancestors 'self'"
)

var staticSecurityHeaders = map[string]string{
	"Content-Security-Policy": contentSecurityValue,
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "SAMEORIGIN",
	"Referrer-Policy":         "no-referrer",
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isHTTPS(r *http.Request) bool {
	return (s.cfg != nil && s.cfg.TLSEnabled) || s.proxies.forwardedHTTPS(r)
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range staticSecurityHeaders {
			h.Set(k, v)
		}
		if s.isHTTPS(r) {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}

// accessLogMiddleware writes one structured line per request. The user is
// read from the session record that withSession attaches to the request
// context, so it is filled in through a shared pointer.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		who := &requestUser{name: "-"}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestUserKey{}, who)))
		s.logger.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"user", who.name,
			"ip", s.proxies.clientIP(r),
			"status", rec.status,
			"bytes", rec.size,
			"duration", time.Since(start),
		)
	})
}

type requestUserKey struct{}

type requestUser struct {
	name string
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// activityTracker rate limits the last-seen updates of a session.
type activityTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newActivityTracker() *activityTracker {
	return &activityTracker{seen: map[string]time.Time{}}
}

func (a *activityTracker) due(id string, now time.Time, every time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.seen[id]; ok && now.Sub(last) < every {
		return false
	}
	a.seen[id] = now
	return true
}

// activityInterval is half the online window, kept between 30s and 1m.
func (s *Server) activityInterval() time.Duration {
	if s.cfg == nil || s.cfg.Security.OnlineWindowSec <= 0 {
		return minActivityInterval
	}
	d := time.Duration(s.cfg.Security.OnlineWindowSec/2) * time.Second
	switch {
	case d < minActivityInterval:
		return minActivityInterval
	case d > maxActivityInterval:
		return maxActivityInterval
	}
	return d
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// authenticate resolves the session cookie into a live session of an active
// user. The reason is empty on success.
func (s *Server) authenticate(r *http.Request) (*store.SessionRecord, string) {
	cookie, err := r.Cookie(handlers.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, "missing cookie"
	}
	if s.sessions == nil {
		return nil, "no session store"
	}
	sr, err := s.sessions.GetSession(r.Context(), cookie.Value)
	if err != nil || sr == nil {
		return nil, "unknown session"
	}
	user, err := s.users.Get(r.Context(), sr.UserID)
	if err != nil || user == nil || !user.Active {
		_ = s.sessions.DeleteSession(r.Context(), sr.ID, sr.Username)
		return nil, "inactive user"
	}
	// Group changes made by the identity provider apply on the next request.
	sr.Roles = user.Groups
	return sr, ""
}

// csrfValid wants the header to match both the CSRF cookie and the token
// stored with the session.
func csrfValid(r *http.Request, sr *store.SessionRecord) bool {
	token := r.Header.Get(csrfHeader)
	cookie, err := r.Cookie(handlers.CSRFCookieName)
	if token == "" || err != nil {
		return false
	}
	return sameToken(token, cookie.Value) && sameToken(token, sr.CSRFToken)
}

func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr, reason := s.authenticate(r)
		if sr == nil {
			s.logger.Warnw("session rejected", "reason", reason, "method", r.Method, "path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if unsafeMethod(r.Method) && !csrfValid(r, sr) {
			s.logger.Warnw("csrf rejected", "user", sr.Username, "method", r.Method, "path", r.URL.Path)
			http.Error(w, "csrf invalid", http.StatusForbidden)
			return
		}
		if who, ok := r.Context().Value(requestUserKey{}).(*requestUser); ok {
			who.name = sr.Username
		}
		now := time.Now().UTC()
		if s.activity == nil || s.activity.due(sr.ID, now, s.activityInterval()) {
			if err := s.sessions.UpdateActivity(r.Context(), sr.ID, now, s.cfg.EffectiveSessionTTL()); err != nil {
				s.logger.Errorf("SESSION activity %s: %v", sr.Username, err)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), auth.SessionContextKey, sr)))
	}
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sess := auth.FromContext(r.Context())
			if sess == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !s.policy.Allowed(sess.Roles, perm) {
				s.logger.Warnw("permission denied", "user", sess.Username, "roles", sess.Roles, "need", string(perm), "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// limitReports throttles report generation per user, per client address
// without a session. Every export starts an office converter process.
func (s *Server) limitReports(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + s.proxies.clientIP(r)
		if sess := auth.FromContext(r.Context()); sess != nil {
			key = "user:" + sess.Username
		}
		if !s.reportLimiter.allow(key) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func sameToken(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
