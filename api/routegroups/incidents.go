package routegroups

import (
	"github.com/go-chi/chi/v5"

	"serima/api/handlers"
	"serima/core/rbac"
)

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler, wizards *handlers.WizardHandler) {
	apiRouter.Route("/incidents", func(r chi.Router) {
		r.MethodFunc("GET", "/", g.SessionPerm(rbac.PermIncidentsView, incidents.List))

		r.MethodFunc("GET", "/declaration", g.SessionPerm(rbac.PermIncidentsCreate, wizards.DeclarationStart))
		r.MethodFunc("DELETE", "/declaration", g.SessionPerm(rbac.PermIncidentsCreate, wizards.DeclarationReset))
		r.MethodFunc("GET", "/declaration/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermIncidentsCreate, wizards.DeclarationStep))
		r.MethodFunc("POST", "/declaration/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermIncidentsCreate, wizards.DeclarationSubmit))
		r.MethodFunc("POST", "/declaration/done", g.SessionPerm(rbac.PermIncidentsCreate, wizards.DeclarationDone))

		r.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm(rbac.PermIncidentsView, incidents.Get))
		r.MethodFunc("GET", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}", g.SessionPerm(rbac.PermIncidentsView, incidents.WorkflowAnswers))
		r.MethodFunc("GET", "/{id:[0-9]+}/impacts", g.SessionPerm(rbac.PermIncidentsImpacts, incidents.Impacts))
		r.MethodFunc("POST", "/{id:[0-9]+}/impacts", g.SessionPerm(rbac.PermIncidentsImpacts, incidents.UpdateImpacts))
		r.MethodFunc("GET", "/{id:[0-9]+}/regulator", g.SessionPerm(rbac.PermIncidentsReview, incidents.RegulatorForm))
		r.MethodFunc("POST", "/{id:[0-9]+}/regulator", g.SessionPerm(rbac.PermIncidentsReview, incidents.RegulatorUpdate))
		r.MethodFunc("GET", "/{id:[0-9]+}/pdf", g.SessionPerm(rbac.PermIncidentsExport, g.Limit(incidents.PDF)))

		r.MethodFunc("GET", "/{id:[0-9]+}/workflow", g.SessionPerm(rbac.PermIncidentsWorkflow, wizards.WorkflowStart))
		r.MethodFunc("DELETE", "/{id:[0-9]+}/workflow", g.SessionPerm(rbac.PermIncidentsWorkflow, wizards.WorkflowReset))
		r.MethodFunc("GET", "/{id:[0-9]+}/workflow/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermIncidentsWorkflow, wizards.WorkflowStep))
		r.MethodFunc("POST", "/{id:[0-9]+}/workflow/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermIncidentsWorkflow, wizards.WorkflowSubmit))
		r.MethodFunc("POST", "/{id:[0-9]+}/workflow/done", g.SessionPerm(rbac.PermIncidentsWorkflow, wizards.WorkflowDone))

		r.MethodFunc("GET", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}/edit", g.SessionPerm(rbac.PermWorkflowEdit, wizards.WorkflowStart))
		r.MethodFunc("DELETE", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}/edit", g.SessionPerm(rbac.PermWorkflowEdit, wizards.WorkflowReset))
		r.MethodFunc("GET", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}/edit/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermWorkflowEdit, wizards.WorkflowStep))
		r.MethodFunc("POST", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}/edit/steps/{step:[0-9]+}", g.SessionPerm(rbac.PermWorkflowEdit, wizards.WorkflowSubmit))
		r.MethodFunc("POST", "/{id:[0-9]+}/incident-workflows/{iw_id:[0-9]+}/edit/done", g.SessionPerm(rbac.PermWorkflowEdit, wizards.WorkflowDone))
	})
}
