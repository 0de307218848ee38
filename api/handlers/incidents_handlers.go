package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"serima/core/auth"
	"serima/core/incidents"
	"serima/core/reports"
	"serima/core/store"
)

const returnPageKey = "return_page"

type IncidentsHandler struct {
	*Common
	store    store.IncidentsStore
	svc      *incidents.Service
	renderer *reports.Renderer
}

func NewIncidentsHandler(common *Common, is store.IncidentsStore, svc *incidents.Service, renderer *reports.Renderer) *IncidentsHandler {
	return &IncidentsHandler{Common: common, store: is, svc: svc, renderer: renderer}
}

type incidentListItem struct {
	store.Incident
	Workflows []store.IncidentWorkflow `json:"workflows"`
	CanReview bool                     `json:"can_review"`
}

// List pages through the incidents visible to the caller, newest
// notification first. incidentId filters on a substring of the identifier.
func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	size := h.cfg.PageSize()
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	if page < 1 {
		page = 1
	}
	viewer := c.viewer()
	search := strings.TrimSpace(r.URL.Query().Get("incidentId"))
	items, total, err := h.store.ListIncidents(r.Context(), viewer.Filter(search, size, (page-1)*size))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	out := make([]incidentListItem, 0, len(items))
	for i := range items {
		runs, err := h.store.ListIncidentWorkflows(r.Context(), items[i].ID)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		out = append(out, incidentListItem{Incident: items[i], Workflows: runs, CanReview: viewer.CanReview(&items[i])})
	}
	pages := (total + size - 1) / size
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       out,
		"total":       total,
		"page":        page,
		"page_size":   size,
		"pages":       pages,
		"incident_id": search,
	})
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	runs, err := h.store.ListIncidentWorkflows(r.Context(), inc.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	var next *store.SectorRegulationWorkflow
	if next, err = h.svc.NextWorkflow(r.Context(), inc); err != nil && !errors.Is(err, incidents.ErrNoWorkflow) {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident":      inc,
		"workflows":     runs,
		"next_workflow": next,
		"can_review":    c.viewer().CanReview(inc),
	})
}

// WorkflowAnswers shows what was answered in one completed workflow run.
func (h *IncidentsHandler) WorkflowAnswers(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	iwID, err := pathID(r, "iw_id")
	if err != nil {
		h.denied(w, r, c, "bad incident workflow id")
		return
	}
	iw, err := h.store.GetIncidentWorkflow(r.Context(), iwID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if iw == nil || iw.IncidentID != inc.ID {
		h.denied(w, r, c, "incident workflow mismatch")
		return
	}
	answers, err := h.store.ListAnswers(r.Context(), iw.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident_workflow": iw, "answers": answers})
}

func (h *IncidentsHandler) Impacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	groups, err := h.svc.ImpactChoices(r.Context(), inc)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc, "groups": groups, "selected": inc.ImpactIDs})
}

func (h *IncidentsHandler) UpdateImpacts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	in, err := readInput(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var ids []int64
	for _, raw := range in["impacts"] {
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"impacts": "Select a valid choice."}})
			return
		}
		ids = append(ids, id)
	}
	if err := h.svc.UpdateImpacts(r.Context(), inc, ids, c.user.Username); err != nil {
		if errors.Is(err, incidents.ErrInvalidImpact) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"impacts": "Select a valid choice."}})
			return
		}
		h.serverError(w, r, err)
		return
	}
	h.flash(r, c, flashSuccess, "Impacts of incident "+inc.IncidentID+" saved.")
	redirect(w, incidentsPage)
}

// RegulatorForm opens the review form. The page the regulator came from is
// remembered once so that the save can return there.
func (h *IncidentsHandler) RegulatorForm(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	if !c.viewer().CanReview(inc) {
		h.denied(w, r, c, "not a reviewer")
		return
	}
	back, found, err := h.sessions.GetValue(r.Context(), c.sess.ID, returnPageKey)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if !found {
		back = auth.SafeReferer(r.Referer(), h.publicURL(), incidentsPage)
		if err := h.sessions.SetValue(r.Context(), c.sess.ID, returnPageKey, back); err != nil {
			h.serverError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident":          inc,
		"review_statuses":   store.ReviewStatuses,
		"incident_statuses": store.IncidentStatuses,
		"return_page":       back,
	})
}

func (h *IncidentsHandler) RegulatorUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	if !c.viewer().CanReview(inc) {
		h.denied(w, r, c, "not a reviewer")
		return
	}
	in, err := readInput(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	upd := store.RegulatorUpdate{
		IsSignificativeImpact: isChecked(in.Get("is_significative_impact")),
		ReviewStatus:          strings.TrimSpace(in.Get("review_status")),
		IncidentStatus:        strings.TrimSpace(in.Get("incident_status")),
	}
	if err := h.svc.RegulatorUpdate(r.Context(), inc, upd, c.user.Username); err != nil {
		if errors.Is(err, incidents.ErrInvalidStatus) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": map[string]string{"review_status": "Select a valid choice.", "incident_status": "Select a valid choice."}})
			return
		}
		h.serverError(w, r, err)
		return
	}
	back, found, err := h.sessions.GetValue(r.Context(), c.sess.ID, returnPageKey)
	if err != nil {
		h.logger.Errorf("INCIDENT return page for %s: %v", c.sess.Username, err)
	}
	if !found || !auth.CanRedirect(back, h.publicURL()) {
		back = incidentsPage
	}
	if err := h.sessions.DeleteValue(r.Context(), c.sess.ID, returnPageKey); err != nil {
		h.logger.Errorf("INCIDENT clear return page for %s: %v", c.sess.Username, err)
	}
	h.flash(r, c, flashSuccess, "Incident "+inc.IncidentID+" updated.")
	redirect(w, back)
}

// PDF exports the incident report. Failures bring the user back to where
// they came from with a warning.
func (h *IncidentsHandler) PDF(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	inc, ok := h.loadIncident(w, r, c, h.store)
	if !ok {
		return
	}
	back := auth.SafeReferer(r.Referer(), h.publicURL(), "/")
	rep, err := h.svc.BuildReport(r.Context(), inc)
	if err != nil {
		h.logger.Errorf("REPORT build %s: %v", inc.IncidentID, err)
		h.flash(r, c, flashWarning, "An error occurred while generating the report.")
		redirect(w, back)
		return
	}
	now := h.svc.Now()
	body, err := h.renderer.PDF(r.Context(), rep, now)
	if err != nil {
		h.logger.Errorf("REPORT pdf %s: %v", inc.IncidentID, err)
		h.flash(r, c, flashWarning, "An error occurred while generating the report.")
		redirect(w, back)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reports.FileName(inc, now)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func isChecked(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
