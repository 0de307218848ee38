package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"serima/core/incidents"
	"serima/core/regulatory"
	"serima/core/store"
	"serima/core/wizard"
)

const limitReachedMessage = "You have reached the maximum number of incident notifications for today."

// WizardHandler serves the declaration wizard and the workflow wizards of
// existing incidents.
type WizardHandler struct {
	*Common
	incidents store.IncidentsStore
	svc       *incidents.Service
	resolver  *regulatory.Resolver
	engine    *wizard.Engine
}

func NewWizardHandler(common *Common, is store.IncidentsStore, svc *incidents.Service, resolver *regulatory.Resolver, engine *wizard.Engine) *WizardHandler {
	return &WizardHandler{Common: common, incidents: is, svc: svc, resolver: resolver, engine: engine}
}

type wizardView struct {
	Kind    string       `json:"kind"`
	Key     string       `json:"key"`
	Current int          `json:"current"`
	Done    bool         `json:"done"`
	Visible []int        `json:"visible_steps"`
	Form    *wizard.Form `json:"form,omitempty"`
}

// builder returns the wizard definition a request works on. It writes the
// response itself when it returns false.
type builder func(w http.ResponseWriter, r *http.Request, c caller) (*wizard.Definition, bool)

func (h *WizardHandler) actor(c caller) wizard.Actor {
	return wizard.Actor{User: c.user, ActiveCompany: c.company, IsRegulator: c.viewer().IsRegulator()}
}

func (h *WizardHandler) declaration(w http.ResponseWriter, r *http.Request, c caller) (*wizard.Definition, bool) {
	return wizard.Preliminary(h.catalog, h.resolver, h.svc, h.actor(c)), true
}

func (h *WizardHandler) continuation(w http.ResponseWriter, r *http.Request, c caller) (*wizard.Definition, bool) {
	inc, ok := h.loadIncident(w, r, c, h.incidents)
	if !ok {
		return nil, false
	}
	target := wizard.Target{Incident: inc}
	if raw := pathParam(r, "iw_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.denied(w, r, c, "bad incident workflow id")
			return nil, false
		}
		target.IncidentWorkflowID = id
	}
	def, err := wizard.Continuation(r.Context(), h.catalog, h.incidents, h.svc, h.actor(c), target)
	if err != nil {
		h.wizardError(w, r, c, nil, nil, err)
		return nil, false
	}
	return def, true
}

func (h *WizardHandler) view(r *http.Request, def *wizard.Definition, st *wizard.State, step int) (*wizardView, error) {
	v := &wizardView{Kind: def.Kind, Key: def.Key, Current: st.Current, Done: h.engine.Done(def, st)}
	var err error
	if v.Visible, err = h.engine.VisibleSteps(r.Context(), def, st); err != nil {
		return nil, err
	}
	if step >= 0 && step < len(def.Steps) {
		if v.Form, err = h.engine.Form(r.Context(), def, st, step); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (h *WizardHandler) load(w http.ResponseWriter, r *http.Request, c caller, build builder) (*wizard.Definition, *wizard.State, bool) {
	def, ok := build(w, r, c)
	if !ok {
		return nil, nil, false
	}
	st, err := h.engine.Load(r.Context(), c.sess.ID, def)
	if err != nil {
		h.wizardError(w, r, c, nil, nil, err)
		return nil, nil, false
	}
	return def, st, true
}

func (h *WizardHandler) limitGate(w http.ResponseWriter, r *http.Request, c caller) bool {
	reached, err := h.svc.LimitReached(r.Context(), c.user.ID)
	if err != nil {
		h.serverError(w, r, err)
		return false
	}
	if reached {
		h.flash(r, c, flashWarning, limitReachedMessage)
		redirect(w, incidentsPage)
		return false
	}
	return true
}

func (h *WizardHandler) start(w http.ResponseWriter, r *http.Request, build builder, gate bool) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	if gate && !h.limitGate(w, r, c) {
		return
	}
	def, st, ok := h.load(w, r, c, build)
	if !ok {
		return
	}
	v, err := h.view(r, def, st, st.Current)
	if err != nil {
		h.wizardError(w, r, c, def, st, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *WizardHandler) step(w http.ResponseWriter, r *http.Request, build builder) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	step, err := strconv.Atoi(pathParam(r, "step"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	def, st, ok := h.load(w, r, c, build)
	if !ok {
		return
	}
	v, err := h.view(r, def, st, step)
	if err != nil {
		h.wizardError(w, r, c, def, st, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *WizardHandler) submit(w http.ResponseWriter, r *http.Request, build builder) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	step, err := strconv.Atoi(pathParam(r, "step"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	in, err := readInput(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	def, st, ok := h.load(w, r, c, build)
	if !ok {
		return
	}
	if err := h.engine.Submit(r.Context(), c.sess.ID, def, st, step, in); err != nil {
		var verr *wizard.ValidationError
		if errors.As(err, &verr) {
			form, ferr := h.engine.Form(r.Context(), def, st, step)
			if ferr != nil {
				h.wizardError(w, r, c, def, st, ferr)
				return
			}
			applyInput(form, in)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verr.Fields, "form": form})
			return
		}
		h.wizardError(w, r, c, def, st, err)
		return
	}
	v, err := h.view(r, def, st, st.Current)
	if err != nil {
		h.wizardError(w, r, c, def, st, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *WizardHandler) reset(w http.ResponseWriter, r *http.Request, build builder) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	def, ok := build(w, r, c)
	if !ok {
		return
	}
	if err := h.engine.Reset(r.Context(), c.sess.ID, def.Key); err != nil {
		h.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wizardError maps engine and domain errors. def and st may be nil when
// the wizard could not be built.
func (h *WizardHandler) wizardError(w http.ResponseWriter, r *http.Request, c caller, def *wizard.Definition, st *wizard.State, err error) {
	switch {
	case errors.Is(err, wizard.ErrUnknownStep):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, wizard.ErrStepNotOpen), errors.Is(err, wizard.ErrIncomplete):
		body := map[string]any{"error": err.Error()}
		if def != nil && st != nil {
			if v, verr := h.view(r, def, st, st.Current); verr == nil {
				body["wizard"] = v
			}
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, incidents.ErrLimitReached):
		h.flash(r, c, flashWarning, limitReachedMessage)
		redirect(w, incidentsPage)
	case errors.Is(err, incidents.ErrNoBundles):
		h.flash(r, c, flashWarning, "No regulatory obligation matches your selection. Nothing was notified.")
		redirect(w, incidentsPage)
	case errors.Is(err, incidents.ErrNoWorkflow):
		h.flash(r, c, flashWarning, "There is no report to fill for this incident.")
		redirect(w, incidentsPage)
	case errors.Is(err, store.ErrNotFound):
		h.denied(w, r, c, err.Error())
	default:
		h.serverError(w, r, err)
	}
}

// applyInput puts the rejected values back into the form.
func applyInput(form *wizard.Form, in map[string][]string) {
	if form == nil {
		return
	}
	for i := range form.Fields {
		if vals, ok := in[form.Fields[i].Name]; ok {
			form.Fields[i].Initial = vals
		}
	}
}

func (h *WizardHandler) DeclarationStart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.declaration, true)
}

func (h *WizardHandler) DeclarationStep(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.declaration)
}

func (h *WizardHandler) DeclarationSubmit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.declaration)
}

func (h *WizardHandler) DeclarationReset(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, h.declaration)
}

// DeclarationDone creates the incidents once every step is valid.
func (h *WizardHandler) DeclarationDone(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	def, st, ok := h.load(w, r, c, h.declaration)
	if !ok {
		return
	}
	res, err := h.engine.Finish(r.Context(), c.sess.ID, def, st)
	if err != nil {
		h.wizardError(w, r, c, def, st, err)
		return
	}
	created, _ := res.([]*store.Incident)
	ids := make([]string, 0, len(created))
	for _, inc := range created {
		ids = append(ids, inc.IncidentID)
	}
	h.logger.Infow("incidents notified", "user", c.user.Username, "incidents", ids)
	h.flash(r, c, flashSuccess, "Incident notified: "+strings.Join(ids, ", "))
	redirect(w, incidentsPage)
}

func (h *WizardHandler) WorkflowStart(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.continuation, false)
}

func (h *WizardHandler) WorkflowStep(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, h.continuation)
}

func (h *WizardHandler) WorkflowSubmit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.continuation)
}

func (h *WizardHandler) WorkflowReset(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, h.continuation)
}

// WorkflowDone records the filled workflow as a new run of the incident.
func (h *WizardHandler) WorkflowDone(w http.ResponseWriter, r *http.Request) {
	c, ok := h.mustCaller(w, r)
	if !ok {
		return
	}
	def, st, ok := h.load(w, r, c, h.continuation)
	if !ok {
		return
	}
	res, err := h.engine.Finish(r.Context(), c.sess.ID, def, st)
	if err != nil {
		h.wizardError(w, r, c, def, st, err)
		return
	}
	if wr, ok := res.(*store.WorkflowResult); ok && wr != nil {
		h.logger.Infow("workflow recorded", "user", c.user.Username, "incident_workflow", wr.IncidentWorkflowID, "final", wr.FirstFinal)
	}
	h.flash(r, c, flashSuccess, "Your report "+def.Label+" has been saved.")
	redirect(w, incidentsPage)
}
