package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/api/handlers"
	"serima/config"
	"serima/core/auth"
	"serima/core/incidents"
	"serima/core/rbac"
	"serima/core/regulatory"
	"serima/core/reports"
	"serima/core/store"
	"serima/core/store/storetest"
	"serima/core/wizard"
)

type stubConverter struct {
	fail bool
}

func (c *stubConverter) Convert(_ context.Context, o reports.ConvertOptions) error {
	if c.fail {
		return errors.New("soffice crashed")
	}
	return os.WriteFile(filepath.Join(o.OutDir, "report.pdf"), []byte("%PDF-1.4 stub"), 0o600)
}

type apiEnv struct {
	t         *testing.T
	f         *storetest.Fixture
	srv       *Server
	sm        *auth.SessionManager
	sessions  store.SessionStore
	incidents store.IncidentsStore
	svc       *incidents.Service
	conv      *stubConverter
}

func newAPIEnv(t *testing.T, maxPerDay int) *apiEnv {
	t.Helper()
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cfg := &config.AppConfig{
		PublicURL:  "https://serima.example.lu",
		SessionTTL: time.Hour,
		Incidents:  config.IncidentsConfig{MaxPreliminaryPerDay: maxPerDay, PageSize: 20},
		Reports:    config.ReportsConfig{TempDir: t.TempDir(), TimeoutSec: 5},
	}
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	cat := store.NewCatalogStore(db)
	incs := store.NewIncidentsStore(db)
	audits := store.NewAuditStore(db)
	resolver := regulatory.NewResolver(cat)
	svc := incidents.NewService(cfg, incs, cat, resolver, nil, audits, nil)
	conv := &stubConverter{}
	renderer, err := reports.NewRenderer(cfg, conv, nil)
	require.NoError(t, err)
	sm := auth.NewSessionManager(sessions, cfg, nil)
	srv := NewServer(cfg, ServerDeps{
		Users:          users,
		Sessions:       sessions,
		Catalog:        cat,
		IncidentsStore: incs,
		Audits:         audits,
		IncidentsSvc:   svc,
		Resolver:       resolver,
		Wizards:        wizard.NewEngine(store.NewWizardStore(db), nil),
		Renderer:       renderer,
		SessionManager: sm,
		Policy:         rbac.NewPolicy(rbac.DefaultRoles()),
	}, nil)
	return &apiEnv{t: t, f: f, srv: srv, sm: sm, sessions: sessions, incidents: incs, svc: svc, conv: conv}
}

func (e *apiEnv) login(u *store.User) *store.SessionRecord {
	e.t.Helper()
	sess, err := e.sm.Create(context.Background(), u, "127.0.0.1", "test")
	require.NoError(e.t, err)
	return sess
}

func (e *apiEnv) do(sess *store.SessionRecord, method, path string, body any, referer string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: handlers.SessionCookieName, Value: sess.ID})
		req.AddCookie(&http.Cookie{Name: handlers.CSRFCookieName, Value: sess.CSRFToken})
		req.Header.Set("X-CSRF-Token", sess.CSRFToken)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *apiEnv) messages(sess *store.SessionRecord) []store.FlashMessage {
	e.t.Helper()
	rr := e.do(sess, http.MethodGet, "/api/messages", nil, "")
	require.Equal(e.t, http.StatusOK, rr.Code)
	var out struct {
		Messages []store.FlashMessage `json:"messages"`
	}
	require.NoError(e.t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out.Messages
}

// notify creates an incident for Alice on the given regulation and sectors.
func (e *apiEnv) notify(regulationID int64, sectorIDs ...int64) *store.Incident {
	e.t.Helper()
	detected := time.Now().UTC().Add(-time.Hour)
	created, err := e.svc.SubmitPreliminary(context.Background(), incidents.PreliminarySubmission{
		UserID:        e.f.Alice.ID,
		Username:      e.f.Alice.Username,
		Company:       &e.f.Acme,
		Contact:       store.Contact{Lastname: "Martin", Firstname: "Alice", Email: "alice@acme.test", Telephone: "+352111"},
		Technical:     store.Contact{Lastname: "Martin", Firstname: "Alice", Email: "alice@acme.test", Telephone: "+352111"},
		RegulatorIDs:  []int64{e.f.ILR.ID},
		RegulationIDs: []int64{regulationID},
		SectorIDs:     sectorIDs,
		DetectionDate: &detected,
	})
	require.NoError(e.t, err)
	require.Len(e.t, created, 1)
	return created[0]
}

func incidentPath(inc *store.Incident, suffix string) string {
	return "/api/incidents/" + strconv.FormatInt(inc.ID, 10) + suffix
}

func TestAPIRequiresSession(t *testing.T) {
	e := newAPIEnv(t, 3)
	rr := e.do(nil, http.MethodGet, "/api/incidents", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	sess := e.login(&e.f.Alice)
	sess.CSRFToken = "forged"
	rr = e.do(sess, http.MethodPost, "/api/incidents/declaration/steps/0", map[string]any{}, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestDeclarationOverHTTP(t *testing.T) {
	e := newAPIEnv(t, 3)
	sess := e.login(&e.f.Alice)

	rr := e.do(sess, http.MethodGet, "/api/incidents/declaration", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"company_name"`)

	rr = e.do(sess, http.MethodGet, "/api/incidents/declaration/steps/2", nil, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(sess, http.MethodPost, "/api/incidents/declaration/steps/0", map[string]any{"contact_lastname": "Martin"}, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "contact_email")

	contact := map[string]any{
		"contact_lastname":      "Martin",
		"contact_firstname":     "Alice",
		"contact_email":         "alice@acme.test",
		"contact_telephone":     "+352111",
		"is_technical_the_same": true,
	}
	require.Equal(t, http.StatusOK, e.do(sess, http.MethodPost, "/api/incidents/declaration/steps/0", contact, "").Code)
	require.Equal(t, http.StatusOK, e.do(sess, http.MethodPost, "/api/incidents/declaration/steps/1", map[string]any{"regulators": []int64{e.f.ILR.ID}}, "").Code)
	rr = e.do(sess, http.MethodPost, "/api/incidents/declaration/steps/2", map[string]any{"regulations": []int64{e.f.EIDAS.ID}}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"done":true`)

	rr = e.do(sess, http.MethodPost, "/api/incidents/declaration/done", map[string]any{}, "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/incidents", rr.Header().Get("Location"))
	msgs := e.messages(sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "success", msgs[0].Level)
	assert.Contains(t, msgs[0].Message, "ACME___0001_")
	assert.Empty(t, e.messages(sess), "messages are handed out once")

	rr = e.do(sess, http.MethodGet, "/api/incidents?incidentId=acme___", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)
}

func TestDeclarationBlockedByDailyLimit(t *testing.T) {
	e := newAPIEnv(t, 1)
	e.notify(e.f.EIDAS.ID)
	sess := e.login(&e.f.Alice)

	rr := e.do(sess, http.MethodGet, "/api/incidents/declaration", nil, "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	msgs := e.messages(sess)
	require.Len(t, msgs, 1)
	assert.Equal(t, "warning", msgs[0].Level)
}

func TestIncidentScopeRedirectsToList(t *testing.T) {
	e := newAPIEnv(t, 3)
	trust := e.notify(e.f.EIDAS.ID)
	elec := e.notify(e.f.NIS.ID, e.f.Electricity.ID)

	reg := e.login(&e.f.Regulator)
	rr := e.do(reg, http.MethodGet, incidentPath(trust, ""), nil, "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/incidents", rr.Header().Get("Location"))
	assert.Equal(t, http.StatusOK, e.do(reg, http.MethodGet, incidentPath(elec, ""), nil, "").Code)

	rr = e.do(reg, http.MethodGet, "/api/incidents", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)

	alice := e.login(&e.f.Alice)
	assert.Equal(t, http.StatusForbidden, e.do(alice, http.MethodGet, incidentPath(elec, "/regulator"), nil, "").Code)
}

func TestRegulatorEditReturnsToReferer(t *testing.T) {
	e := newAPIEnv(t, 3)
	inc := e.notify(e.f.NIS.ID, e.f.Electricity.ID)
	boss := e.login(&e.f.SuperAdmin)

	rr := e.do(boss, http.MethodGet, incidentPath(inc, "/regulator"), nil, "/incidents?page=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"return_page":"/incidents?page=2"`)
	rr = e.do(boss, http.MethodGet, incidentPath(inc, "/regulator"), nil, "https://evil.example/")
	assert.Contains(t, rr.Body.String(), `"return_page":"/incidents?page=2"`, "first referer is kept")

	rr = e.do(boss, http.MethodPost, incidentPath(inc, "/regulator"), map[string]any{"review_status": "BOGUS", "incident_status": "GOING"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = e.do(boss, http.MethodPost, incidentPath(inc, "/regulator"), map[string]any{
		"is_significative_impact": true, "review_status": store.ReviewPassed, "incident_status": store.IncidentStatusClosed,
	}, "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/incidents?page=2", rr.Header().Get("Location"))

	got, err := e.incidents.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSignificativeImpact)
	assert.Equal(t, store.ReviewPassed, got.ReviewStatus)
	assert.Equal(t, store.IncidentStatusClosed, got.IncidentStatus)
	assert.Equal(t, inc.IncidentID, got.IncidentID)

	_, found, err := e.sessions.GetValue(context.Background(), boss.ID, "return_page")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImpactsRejectForeignImpact(t *testing.T) {
	e := newAPIEnv(t, 3)
	inc := e.notify(e.f.NIS.ID, e.f.Gas.ID)
	alice := e.login(&e.f.Alice)

	rr := e.do(alice, http.MethodGet, incidentPath(inc, "/impacts"), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Outage over 1h")
	assert.NotContains(t, rr.Body.String(), "Data loss")

	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/impacts"), map[string]any{"impacts": []int64{e.f.ImpactData.ID}}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/impacts"), map[string]any{"impacts": []int64{e.f.ImpactOutage.ID}}, "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	got, err := e.incidents.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{e.f.ImpactOutage.ID}, got.ImpactIDs)
}

func TestPDFExport(t *testing.T) {
	e := newAPIEnv(t, 3)
	inc := e.notify(e.f.EIDAS.ID)
	alice := e.login(&e.f.Alice)

	rr := e.do(alice, http.MethodGet, incidentPath(inc, "/pdf"), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "Incident_"+strconv.FormatInt(inc.ID, 10)+"_")
	assert.True(t, strings.HasPrefix(rr.Body.String(), "%PDF"))

	e.conv.fail = true
	rr = e.do(alice, http.MethodGet, incidentPath(inc, "/pdf"), nil, "https://evil.example/x")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	rr = e.do(alice, http.MethodGet, incidentPath(inc, "/pdf"), nil, "/incidents?page=3")
	assert.Equal(t, "/incidents?page=3", rr.Header().Get("Location"))
	msgs := e.messages(alice)
	require.Len(t, msgs, 2)
	assert.Equal(t, "warning", msgs[0].Level)
}

func TestWorkflowWizardOverHTTP(t *testing.T) {
	e := newAPIEnv(t, 3)
	inc := e.notify(e.f.EIDAS.ID)
	alice := e.login(&e.f.Alice)

	rr := e.do(alice, http.MethodGet, incidentPath(inc, "/workflow"), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Early warning")

	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/workflow/done"), map[string]any{}, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	require.Equal(t, http.StatusOK, e.do(alice, http.MethodPost, incidentPath(inc, "/workflow/steps/0"), map[string]any{}, "").Code)
	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/workflow/steps/1"), map[string]any{}, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, "the free text question is mandatory")
	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/workflow/steps/1"), map[string]any{
		"q" + strconv.FormatInt(e.f.QText.ID, 10): "Certificate authority outage",
	}, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(alice, http.MethodPost, incidentPath(inc, "/workflow/done"), map[string]any{}, "")
	require.Equal(t, http.StatusSeeOther, rr.Code)
	runs, err := e.incidents.ListIncidentWorkflows(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	rr = e.do(alice, http.MethodGet, incidentPath(inc, "/incident-workflows/"+strconv.FormatInt(runs[0].ID, 10)+"/edit"), nil, "")
	assert.Equal(t, http.StatusForbidden, rr.Code, "editing a run needs incidents.workflow.edit")

	rr = e.do(alice, http.MethodGet, incidentPath(inc, "/incident-workflows/"+strconv.FormatInt(runs[0].ID, 10)), nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Certificate authority outage")
}

func TestBundleWorkflowPositionsWarnOnDuplicates(t *testing.T) {
	e := newAPIEnv(t, 3)
	boss := e.login(&e.f.SuperAdmin)
	path := "/api/admin/sector-regulations/" + strconv.FormatInt(e.f.B1.ID, 10) + "/workflows"

	rr := e.do(boss, http.MethodPut, path, map[string]any{"position_" + strconv.FormatInt(e.f.B1W1.ID, 10): 2}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "share the position(s) 2")

	rr = e.do(boss, http.MethodPut, path, map[string]any{"position_999999": 1}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	alice := e.login(&e.f.Alice)
	assert.Equal(t, http.StatusForbidden, e.do(alice, http.MethodPut, path, map[string]any{}, "").Code)
}

func TestSwitchCompanyRejectsForeignCompany(t *testing.T) {
	e := newAPIEnv(t, 3)
	alice := e.login(&e.f.Alice)
	rr := e.do(alice, http.MethodPost, "/api/session/company", map[string]any{"company_id": e.f.Acme.ID + 50}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	rr = e.do(alice, http.MethodPost, "/api/session/company", map[string]any{"company_id": e.f.Acme.ID}, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(alice, http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"incidents.create"`)

	require.Equal(t, http.StatusOK, e.do(alice, http.MethodPost, "/api/auth/logout", map[string]any{}, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(alice, http.MethodGet, "/api/auth/me", nil, "").Code)
}
