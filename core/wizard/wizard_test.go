package wizard

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/config"
	"serima/core/incidents"
	"serima/core/regulatory"
	"serima/core/store"
	"serima/core/store/storetest"
)

type flowEnv struct {
	f         *storetest.Fixture
	eng       *Engine
	catalog   store.CatalogStore
	incidents store.IncidentsStore
	resolver  *regulatory.Resolver
	svc       *incidents.Service
}

func newFlowEnv(t *testing.T) *flowEnv {
	t.Helper()
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	sessions := store.NewSessionsStore(db)
	require.NoError(t, sessions.SaveSession(context.Background(), &store.SessionRecord{
		ID: "sess", UserID: f.Alice.ID, Username: "alice", Roles: f.Alice.Groups,
		CreatedAt: now, LastSeenAt: now, ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))
	cat := store.NewCatalogStore(db)
	incs := store.NewIncidentsStore(db)
	resolver := regulatory.NewResolver(cat)
	cfg := &config.AppConfig{Incidents: config.IncidentsConfig{MaxPreliminaryPerDay: 3}}
	svc := incidents.NewService(cfg, incs, cat, resolver, nil, nil, nil).WithClock(func() time.Time { return now })
	return &flowEnv{f: f, eng: NewEngine(store.NewWizardStore(db), nil), catalog: cat, incidents: incs, resolver: resolver, svc: svc}
}

func (e *flowEnv) alice() Actor {
	return Actor{User: &e.f.Alice, ActiveCompany: &e.f.Acme}
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}

func fieldByName(t *testing.T, fields []Field, name string) Field {
	t.Helper()
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %s not found", name)
	return Field{}
}

func contactValues() url.Values {
	return url.Values{
		"contact_lastname":      {"Martin"},
		"contact_firstname":     {"Alice"},
		"contact_email":         {"alice@acme.test"},
		"contact_telephone":     {"+352111"},
		"is_technical_the_same": {"on"},
		"incident_reference":    {"INT-42"},
	}
}

func TestPreliminaryWizardFullPath(t *testing.T) {
	e := newFlowEnv(t)
	ctx := context.Background()
	def := Preliminary(e.catalog, e.resolver, e.svc, e.alice())
	st, err := e.eng.Load(ctx, "sess", def)
	require.NoError(t, err)

	form, err := e.eng.Form(ctx, def, st, StepContact)
	require.NoError(t, err)
	company := fieldByName(t, form.Fields, "company_name")
	assert.True(t, company.Disabled)
	assert.Equal(t, []string{"Acme Power"}, company.Initial)
	assert.Equal(t, []string{"alice@acme.test"}, fieldByName(t, form.Fields, "contact_email").Initial)

	bad := contactValues()
	bad.Set("contact_email", "not-an-email")
	err = e.eng.Submit(ctx, "sess", def, st, StepContact, bad)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "contact_email")
	assert.NotContains(t, verr.Fields, "technical_lastname", "technical contact copied from the contact")

	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepContact, contactValues()))
	require.Error(t, e.eng.Submit(ctx, "sess", def, st, StepRegulators, url.Values{"regulators": {"999"}}))
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepRegulators, url.Values{"regulators": {id(e.f.ILR.ID)}}))

	form, err = e.eng.Form(ctx, def, st, StepRegulations)
	require.NoError(t, err)
	assert.Len(t, form.Fields[0].Choices, 2)
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepRegulations, url.Values{"regulations": {id(e.f.NIS.ID)}}))
	assert.Equal(t, StepSectors, st.Current)

	form, err = e.eng.Form(ctx, def, st, StepSectors)
	require.NoError(t, err)
	sectors := fieldByName(t, form.Fields, "sectors")
	assert.True(t, sectors.Required)
	assert.Equal(t, "Energy", sectors.Choices[0].Group)
	assert.Len(t, fieldByName(t, form.Fields, "services").Choices, 1)

	err = e.eng.Submit(ctx, "sess", def, st, StepSectors, url.Values{"sectors": {id(e.f.Transport.ID)}, "services": {id(e.f.Supply.ID)}})
	require.True(t, errors.As(err, &verr), "service outside the selected sectors")
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepSectors, url.Values{
		"sectors": {id(e.f.Electricity.ID)}, "services": {id(e.f.Supply.ID)},
	}))
	assert.Equal(t, StepDetection, st.Current, "B1 needs the detection date")

	require.Error(t, e.eng.Submit(ctx, "sess", def, st, StepDetection, url.Values{"detection_date": {"2024-06-02 08:00:00"}}))
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepDetection, url.Values{"detection_date": {"2024-05-31 08:00:00"}}))
	require.True(t, e.eng.Done(def, st))

	res, err := e.eng.Finish(ctx, "sess", def, st)
	require.NoError(t, err)
	created := res.([]*store.Incident)
	require.Len(t, created, 1)
	assert.Equal(t, "ACME_ENE_ELE_0001_2024", created[0].IncidentID)
	assert.Equal(t, e.f.B1.ID, created[0].SectorRegulationID)

	stored, err := e.incidents.GetIncident(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Martin", stored.Technical.Lastname)
	assert.Equal(t, "INT-42", stored.IncidentReference)
	assert.Equal(t, []int64{e.f.Supply.ID}, stored.AffectedServiceIDs)
	require.NotNil(t, stored.DetectionDate)
	assert.Equal(t, 31, stored.DetectionDate.Day())

	again, err := e.eng.Load(ctx, "sess", def)
	require.NoError(t, err)
	assert.False(t, again.Has(StepContact), "finished wizard starts over")
}

func TestPreliminaryWizardSkipsSectorAndDetectionSteps(t *testing.T) {
	e := newFlowEnv(t)
	ctx := context.Background()
	def := Preliminary(e.catalog, e.resolver, e.svc, e.alice())
	st, err := e.eng.Load(ctx, "sess", def)
	require.NoError(t, err)

	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepContact, contactValues()))
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepRegulators, url.Values{"regulators": {id(e.f.ILR.ID)}}))
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, StepRegulations, url.Values{"regulations": {id(e.f.EIDAS.ID)}}))
	require.True(t, e.eng.Done(def, st))

	res, err := e.eng.Finish(ctx, "sess", def, st)
	require.NoError(t, err)
	created := res.([]*store.Incident)
	require.Len(t, created, 1)
	assert.Equal(t, "ACME___0001_2024", created[0].IncidentID)
	assert.Nil(t, created[0].DetectionDate)
}

func notifyB1(t *testing.T, e *flowEnv) *store.Incident {
	t.Helper()
	detected := time.Date(2024, 5, 31, 8, 0, 0, 0, time.UTC)
	created, err := e.svc.SubmitPreliminary(context.Background(), incidents.PreliminarySubmission{
		UserID:        e.f.Alice.ID,
		Company:       &e.f.Acme,
		Contact:       store.Contact{Lastname: "Martin", Email: "alice@acme.test"},
		RegulatorIDs:  []int64{e.f.ILR.ID},
		RegulationIDs: []int64{e.f.NIS.ID},
		SectorIDs:     []int64{e.f.Electricity.ID},
		DetectionDate: &detected,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	inc, err := e.incidents.GetIncident(context.Background(), created[0].ID)
	require.NoError(t, err)
	return inc
}

func TestContinuationWizardWalksWorkflows(t *testing.T) {
	e := newFlowEnv(t)
	ctx := context.Background()
	inc := notifyB1(t, e)

	def, err := Continuation(ctx, e.catalog, e.incidents, e.svc, e.alice(), Target{Incident: inc})
	require.NoError(t, err)
	assert.Equal(t, "Early warning", def.Label)
	require.Len(t, def.Steps, 2, "dates and the General category")

	st, err := e.eng.Load(ctx, "sess", def)
	require.NoError(t, err)
	form, err := e.eng.Form(ctx, def, st, 0)
	require.NoError(t, err)
	assert.True(t, fieldByName(t, form.Fields, "incident_notification_date").Disabled)
	assert.True(t, fieldByName(t, form.Fields, "incident_detection_date").Disabled)

	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, 0, url.Values{
		"incident_detection_date": {"2024-01-01 00:00:00"},
		"incident_starting_date":  {"2024-05-30 22:00:00"},
	}))
	dates, _, err := Payload[DatesPayload](st, 0)
	require.NoError(t, err)
	assert.Equal(t, 31, dates.DetectionDate.Day(), "locked detection date kept")

	q := "q" + id(e.f.QText.ID)
	err = e.eng.Submit(ctx, "sess", def, st, 1, url.Values{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, q)
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, 1, url.Values{q: {"grid down"}}))

	res, err := e.eng.Finish(ctx, "sess", def, st)
	require.NoError(t, err)
	run := res.(*store.WorkflowResult)
	answers, err := e.incidents.ListAnswers(ctx, run.IncidentWorkflowID)
	require.NoError(t, err)
	require.Len(t, answers, 2)

	inc, err = e.incidents.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, inc.StartingDate)

	next, err := Continuation(ctx, e.catalog, e.incidents, e.svc, e.alice(), Target{Incident: inc})
	require.NoError(t, err)
	assert.Equal(t, "Final report", next.Label)
	require.Len(t, next.Steps, 3, "dates, Technical and impacts")

	st, err = e.eng.Load(ctx, "sess", next)
	require.NoError(t, err)
	require.NoError(t, e.eng.Submit(ctx, "sess", next, st, 0, url.Values{}))
	multi := "q" + id(e.f.QMulti.ID)
	require.NoError(t, e.eng.Submit(ctx, "sess", next, st, 1, url.Values{
		multi:                       {id(e.f.QMulti.Predefined[0].ID)},
		"q" + id(e.f.QCountries.ID): {"LU", "BE"},
		"q" + id(e.f.QRegions.ID):   {"BENELUX"},
	}))
	form, err = e.eng.Form(ctx, next, st, 2)
	require.NoError(t, err)
	assert.Len(t, form.Fields[0].Choices, 2)
	assert.Equal(t, "Data loss", form.Fields[0].Choices[0].Label)
	require.NoError(t, e.eng.Submit(ctx, "sess", next, st, 2, url.Values{"impacts": {id(e.f.ImpactOutage.ID)}}))

	_, err = e.eng.Finish(ctx, "sess", next, st)
	require.NoError(t, err)
	inc, err = e.incidents.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.True(t, inc.IsSignificativeImpact)
	assert.NotNil(t, inc.FinalNotificationDate)
}

func TestContinuationEditStartsFromGivenRun(t *testing.T) {
	e := newFlowEnv(t)
	ctx := context.Background()
	inc := notifyB1(t, e)
	iwID, err := e.svc.SaveAnswers(ctx, inc.ID, e.f.W1.ID, map[int64]incidents.AnswerValue{
		e.f.QText.ID: incidents.FreeText{Text: "first draft"},
	})
	require.NoError(t, err)

	reg := Actor{User: &e.f.Regulator, IsRegulator: true}
	def, err := Continuation(ctx, e.catalog, e.incidents, e.svc, reg, Target{Incident: inc, IncidentWorkflowID: iwID})
	require.NoError(t, err)
	assert.Equal(t, ContinuationKey(inc.ID, iwID), def.Key)
	require.Len(t, def.Steps, 3, "dates, General and the regulator comment")

	st, err := e.eng.Load(ctx, "sess", def)
	require.NoError(t, err)
	require.NoError(t, e.eng.Submit(ctx, "sess", def, st, 0, url.Values{}))
	form, err := e.eng.Form(ctx, def, st, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"first draft"}, fieldByName(t, form.Fields, "q"+id(e.f.QText.ID)).Initial)

	_, err = Continuation(ctx, e.catalog, e.incidents, e.svc, reg, Target{Incident: inc, IncidentWorkflowID: iwID + 100})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
