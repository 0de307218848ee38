package incidents

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/config"
	"serima/core/regulatory"
	"serima/core/store"
	"serima/core/store/storetest"
	"serima/core/utils"
)

type sentMail struct {
	kind    string
	emailID int64
	inc     string
}

type recordingNotifier struct {
	sent []sentMail
}

func (n *recordingNotifier) Notify(_ context.Context, emailType string, inc *store.Incident) {
	n.sent = append(n.sent, sentMail{kind: emailType, inc: inc.IncidentID})
}

func (n *recordingNotifier) SendEmail(_ context.Context, emailID int64, inc *store.Incident) {
	n.sent = append(n.sent, sentMail{emailID: emailID, inc: inc.IncidentID})
}

type env struct {
	db       *sql.DB
	f        *storetest.Fixture
	svc      *Service
	notifier *recordingNotifier
	store    store.IncidentsStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)
	inc := store.NewIncidentsStore(db)
	n := &recordingNotifier{}
	cfg := &config.AppConfig{Incidents: config.IncidentsConfig{MaxPreliminaryPerDay: 2}}
	svc := NewService(cfg, inc, cat, regulatory.NewResolver(cat), n, store.NewAuditStore(db), utils.NewNopLogger())
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return &env{db: db, f: f, svc: svc, notifier: n, store: inc}
}

func (e *env) submission() PreliminarySubmission {
	return PreliminarySubmission{
		UserID:        e.f.Alice.ID,
		Username:      "alice",
		Company:       &e.f.Acme,
		Contact:       store.Contact{Lastname: "Martin", Firstname: "Alice", Email: "alice@acme.test", Telephone: "1"},
		Technical:     store.Contact{Lastname: "Tech", Firstname: "Tom", Email: "tom@acme.test", Telephone: "2"},
		RegulatorIDs:  []int64{e.f.ILR.ID},
		RegulationIDs: []int64{e.f.NIS.ID, e.f.EIDAS.ID},
		SectorIDs:     []int64{e.f.Electricity.ID},
	}
}

func TestSubmitPreliminaryCreatesOneIncidentPerBundle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.svc.SubmitPreliminary(ctx, e.submission())
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "ACME_ENE_ELE_0001_2024", created[0].IncidentID)
	assert.Equal(t, "ACME___0002_2024", created[1].IncidentID)
	assert.Equal(t, e.f.B1.ID, created[0].SectorRegulationID)
	assert.Equal(t, e.f.B3.ID, created[1].SectorRegulationID)
	assert.Equal(t, "Acme Power", created[0].CompanyName)

	require.Len(t, e.notifier.sent, 2)
	assert.Equal(t, sentMail{kind: store.EmailPreliminary, inc: created[1].IncidentID}, e.notifier.sent[0])
	assert.Equal(t, sentMail{emailID: e.f.Opening.ID, inc: created[0].IncidentID}, e.notifier.sent[1])
}

func TestSubmitPreliminaryRespectsDailyCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	reached, err := e.svc.LimitReached(ctx, e.f.Alice.ID)
	require.NoError(t, err)
	assert.False(t, reached)

	_, err = e.svc.SubmitPreliminary(ctx, e.submission())
	require.NoError(t, err)
	reached, err = e.svc.LimitReached(ctx, e.f.Alice.ID)
	require.NoError(t, err)
	assert.True(t, reached)

	sent := len(e.notifier.sent)
	_, err = e.svc.SubmitPreliminary(ctx, e.submission())
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Len(t, e.notifier.sent, sent, "nothing is sent when the cap is hit")
	_, total, err := e.store.ListIncidents(ctx, store.IncidentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSubmitPreliminaryWithoutBundles(t *testing.T) {
	e := newEnv(t)
	sub := e.submission()
	sub.RegulationIDs = []int64{e.f.NIS.ID}
	sub.SectorIDs = []int64{e.f.Transport.ID}
	_, err := e.svc.SubmitPreliminary(context.Background(), sub)
	assert.ErrorIs(t, err, ErrNoBundles)
}

func TestWorkflowProgressionAndFinalNotification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sub := e.submission()
	sub.RegulationIDs = []int64{e.f.NIS.ID}
	created, err := e.svc.SubmitPreliminary(ctx, sub)
	require.NoError(t, err)
	inc := created[0]
	e.notifier.sent = nil

	next, err := e.svc.NextWorkflow(ctx, inc)
	require.NoError(t, err)
	assert.Equal(t, e.f.W1.ID, next.WorkflowID)

	_, err = e.svc.CompleteWorkflow(ctx, Completion{Incident: inc, WorkflowID: e.f.W1.ID, ActorID: e.f.Alice.ID,
		Answers: map[int64]AnswerValue{e.f.QText.ID: FreeText{Text: "first"}, e.f.QDate.ID: DateAnswer{}}})
	require.NoError(t, err)
	assert.Empty(t, e.notifier.sent)

	next, err = e.svc.NextWorkflow(ctx, inc)
	require.NoError(t, err)
	assert.Equal(t, e.f.W2.ID, next.WorkflowID)

	complete := Completion{Incident: inc, WorkflowID: e.f.W2.ID, Impacts: []int64{e.f.ImpactData.ID},
		Answers: map[int64]AnswerValue{e.f.QMulti.ID: MultiChoice{PredefinedIDs: []int64{e.f.QMulti.Predefined[0].ID}}}}
	res, err := e.svc.CompleteWorkflow(ctx, complete)
	require.NoError(t, err)
	assert.True(t, res.FirstFinal)
	require.Len(t, e.notifier.sent, 2)
	assert.Equal(t, e.f.Submission.ID, e.notifier.sent[0].emailID)
	assert.Equal(t, store.EmailFinal, e.notifier.sent[1].kind)

	got, err := e.store.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSignificativeImpact)
	require.NotNil(t, got.FinalNotificationDate)

	next, err = e.svc.NextWorkflow(ctx, inc)
	require.NoError(t, err)
	assert.Equal(t, e.f.W2.ID, next.WorkflowID, "stays on the last workflow")

	e.notifier.sent = nil
	_, err = e.svc.CompleteWorkflow(ctx, complete)
	require.NoError(t, err)
	require.Len(t, e.notifier.sent, 2)
	assert.Equal(t, store.EmailAdditional, e.notifier.sent[1].kind)

	runs, err := e.store.ListIncidentWorkflows(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestCompleteWorkflowRejectsForeignImpact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sub := e.submission()
	sub.RegulationIDs = []int64{e.f.NIS.ID}
	sub.SectorIDs = []int64{e.f.Gas.ID}
	created, err := e.svc.SubmitPreliminary(ctx, sub)
	require.NoError(t, err)
	require.Len(t, created, 1)

	err = e.svc.UpdateImpacts(ctx, created[0], []int64{e.f.ImpactData.ID}, "alice")
	assert.ErrorIs(t, err, ErrInvalidImpact)
	require.NoError(t, e.svc.UpdateImpacts(ctx, created[0], []int64{e.f.ImpactOutage.ID}, "alice"))

	groups, err := e.svc.ImpactChoices(ctx, created[0])
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Gas", groups[0].Sector.Name)
	assert.Len(t, groups[0].Impacts, 1)
}

func TestDetectionDateLockedWhenNeededAtNotification(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	detected := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	sub := e.submission()
	sub.RegulationIDs = []int64{e.f.NIS.ID}
	sub.DetectionDate = &detected
	created, err := e.svc.SubmitPreliminary(ctx, sub)
	require.NoError(t, err)

	other := detected.Add(24 * time.Hour)
	_, err = e.svc.CompleteWorkflow(ctx, Completion{Incident: created[0], WorkflowID: e.f.W1.ID, DetectionDate: &other,
		Answers: map[int64]AnswerValue{e.f.QText.ID: FreeText{Text: "x"}}})
	require.NoError(t, err)
	got, err := e.store.GetIncident(ctx, created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.DetectionDate)
	assert.True(t, detected.Equal(*got.DetectionDate))
}

func TestRegulatorUpdateValidatesStatuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.SubmitPreliminary(ctx, e.submission())
	require.NoError(t, err)

	err = e.svc.RegulatorUpdate(ctx, created[0], store.RegulatorUpdate{ReviewStatus: "NOPE", IncidentStatus: store.IncidentStatusGoing}, "reg")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	require.NoError(t, e.svc.RegulatorUpdate(ctx, created[0], store.RegulatorUpdate{ReviewStatus: store.ReviewDelivered, IncidentStatus: store.IncidentStatusClosed}, "reg"))
}

func TestSaveAnswersAppendsWithoutTouchingIncident(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	created, err := e.svc.SubmitPreliminary(ctx, e.submission())
	require.NoError(t, err)
	iwID, err := e.svc.SaveAnswers(ctx, created[0].ID, e.f.W1.ID, map[int64]AnswerValue{e.f.QText.ID: FreeText{Text: "a"}})
	require.NoError(t, err)
	answers, err := e.store.ListAnswers(ctx, iwID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "a", *answers[0].Answer)
}

func TestBuildReportCollectsRuns(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	sub := e.submission()
	sub.RegulationIDs = []int64{e.f.NIS.ID}
	created, err := e.svc.SubmitPreliminary(ctx, sub)
	require.NoError(t, err)
	inc := created[0]
	_, err = e.svc.CompleteWorkflow(ctx, Completion{Incident: inc, WorkflowID: e.f.W2.ID, Impacts: []int64{e.f.ImpactOutage.ID},
		Answers: map[int64]AnswerValue{
			e.f.QMulti.ID:     MultiChoice{PredefinedIDs: []int64{e.f.QMulti.Predefined[1].ID}, Annex: "more"},
			e.f.QCountries.ID: ChoiceList{Kind: store.QuestionCountries, Values: []string{"LU"}},
		}})
	require.NoError(t, err)
	fresh, err := e.store.GetIncident(ctx, inc.ID)
	require.NoError(t, err)

	rep, err := e.svc.BuildReport(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, []string{"Electricity"}, rep.Sectors)
	assert.Equal(t, []string{"Outage over 1h"}, rep.Impacts)
	require.Len(t, rep.Workflows, 1)
	require.Len(t, rep.Workflows[0].Answers, 2)
	assert.Equal(t, []string{e.f.QMulti.Predefined[1].Label}, rep.Workflows[0].Answers[0].Values)
	assert.Equal(t, "more", rep.Workflows[0].Answers[0].Annex)
	assert.Equal(t, []string{"LU"}, rep.Workflows[0].Answers[1].Values)
	assert.Equal(t, e.f.B1.Name, rep.Bundle.Name)
}
