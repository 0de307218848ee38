// Package storetest opens throwaway SQLite databases with a small regulatory
// catalog for package tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"serima/config"
	"serima/core/store"
	"serima/core/utils"
)

// Open returns a migrated SQLite database living in t.TempDir().
func Open(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "serima.db")}
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

type Fixture struct {
	ILR   store.Regulator
	NIS   store.Regulation
	EIDAS store.Regulation

	Energy      store.Sector
	Electricity store.Sector
	Gas         store.Sector
	Transport   store.Sector
	Supply      store.Service

	Acme store.Company

	Preliminary store.Email
	Final       store.Email
	Additional  store.Email
	Opening     store.Email
	Submission  store.Email
	Reminder    store.Email

	General   store.QuestionCategory
	Technical store.QuestionCategory

	// QText is mandatory FREETEXT, QDate DATE, QMulti MULTI with three
	// options, QCountries CL and QRegions RL.
	QText      store.Question
	QDate      store.Question
	QMulti     store.Question
	QCountries store.Question
	QRegions   store.Question

	// W1 asks QText and QDate. W2 asks the rest, needs impacts and has a
	// submission email.
	W1 store.Workflow
	W2 store.Workflow

	// B1: NIS/ILR bound to Electricity with W1 then W2, detection date needed.
	// B2: NIS/ILR bound to Gas with W1.
	// B3: eIDAS/ILR without sectors, W1.
	B1      store.SectorRegulation
	B2      store.SectorRegulation
	B3      store.SectorRegulation
	B1W1    store.SectorRegulationWorkflow
	B1W2    store.SectorRegulationWorkflow
	B1Remin store.WorkflowReminder

	ImpactOutage store.Impact
	ImpactData   store.Impact

	Alice      store.User
	Regulator  store.User
	SuperAdmin store.User
}

// SeedCatalog fills db with the fixture catalog and three users.
func SeedCatalog(t *testing.T, db *sql.DB) *Fixture {
	t.Helper()
	ctx := context.Background()
	cat := store.NewCatalogStore(db)
	users := store.NewUsersStore(db)
	f := &Fixture{}
	must := func(_ int64, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	f.ILR = store.Regulator{Name: "ILR", FullName: "Institut Luxembourgeois de Regulation"}
	must(cat.CreateRegulator(ctx, &f.ILR))
	f.NIS = store.Regulation{Label: "NIS", RegulatorIDs: []int64{f.ILR.ID}}
	must(cat.CreateRegulation(ctx, &f.NIS))
	f.EIDAS = store.Regulation{Label: "eIDAS", RegulatorIDs: []int64{f.ILR.ID}}
	must(cat.CreateRegulation(ctx, &f.EIDAS))

	f.Energy = store.Sector{Name: "Energy", Acronym: "ENE"}
	must(cat.CreateSector(ctx, &f.Energy))
	f.Electricity = store.Sector{Name: "Electricity", Acronym: "ELEC", ParentID: &f.Energy.ID, ParentName: "Energy", ParentAcronym: "ENE"}
	must(cat.CreateSector(ctx, &f.Electricity))
	f.Gas = store.Sector{Name: "Gas", Acronym: "GAS", ParentID: &f.Energy.ID, ParentName: "Energy", ParentAcronym: "ENE"}
	must(cat.CreateSector(ctx, &f.Gas))
	f.Transport = store.Sector{Name: "Transport", Acronym: "TRA"}
	must(cat.CreateSector(ctx, &f.Transport))
	f.Supply = store.Service{Name: "Electricity supply", Acronym: "SUP", SectorID: f.Electricity.ID}
	must(cat.CreateService(ctx, &f.Supply))

	f.Acme = store.Company{Identifier: "ACME", Name: "Acme Power"}
	must(cat.CreateCompany(ctx, &f.Acme))

	for _, e := range []*store.Email{
		{Name: "preliminary", Subject: "Incident #INCIDENT_ID# notified", Content: "Dear #CONTACT_NAME#, #COMPANY# notified #INCIDENT_ID# on #INCIDENT_NOTIFICATION_DATE#.", EmailType: store.EmailPreliminary},
		{Name: "final", Subject: "Final #INCIDENT_ID#", Content: "Final notification for #REGULATION#.", EmailType: store.EmailFinal},
		{Name: "additional", Subject: "Additional #INCIDENT_ID#", Content: "Additional notification.", EmailType: store.EmailAdditional},
		{Name: "opening", Subject: "Opening #INCIDENT_ID#", Content: "Opened with #REGULATOR#.", EmailType: store.EmailOpening},
		{Name: "submission", Subject: "Report received #INCIDENT_ID#", Content: "See #PUBLIC_URL#.", EmailType: store.EmailFinal},
		{Name: "reminder", Subject: "Reminder #INCIDENT_ID#", Content: "Report due on #SITE_NAME#.", EmailType: store.EmailReminder},
	} {
		must(cat.CreateEmail(ctx, e))
		switch e.Name {
		case "preliminary":
			f.Preliminary = *e
		case "final":
			f.Final = *e
		case "additional":
			f.Additional = *e
		case "opening":
			f.Opening = *e
		case "submission":
			f.Submission = *e
		case "reminder":
			f.Reminder = *e
		}
	}

	f.Technical = store.QuestionCategory{Label: "Technical", Position: 2}
	must(cat.CreateQuestionCategory(ctx, &f.Technical))
	f.General = store.QuestionCategory{Label: "General", Position: 1}
	must(cat.CreateQuestionCategory(ctx, &f.General))

	f.QText = store.Question{Label: "Describe the incident", QuestionType: store.QuestionFreeText, IsMandatory: true, Position: 1, CategoryID: f.General.ID}
	must(cat.CreateQuestion(ctx, &f.QText))
	f.QDate = store.Question{Label: "When was it contained", QuestionType: store.QuestionDate, Position: 2, CategoryID: f.General.ID}
	must(cat.CreateQuestion(ctx, &f.QDate))
	f.QMulti = store.Question{Label: "Root cause", QuestionType: store.QuestionMulti, IsMandatory: true, Position: 1, CategoryID: f.Technical.ID,
		Predefined: []store.PredefinedAnswer{{Label: "Hardware", Position: 2}, {Label: "Software", Position: 1}, {Label: "Human", Position: 3}}}
	must(cat.CreateQuestion(ctx, &f.QMulti))
	f.QCountries = store.Question{Label: "Countries affected", QuestionType: store.QuestionCountries, Position: 2, CategoryID: f.Technical.ID}
	must(cat.CreateQuestion(ctx, &f.QCountries))
	f.QRegions = store.Question{Label: "Regions affected", QuestionType: store.QuestionRegions, Position: 3, CategoryID: f.Technical.ID}
	must(cat.CreateQuestion(ctx, &f.QRegions))

	f.W1 = store.Workflow{Name: "Early warning"}
	must(cat.CreateWorkflow(ctx, &f.W1, []int64{f.QText.ID, f.QDate.ID}))
	f.W2 = store.Workflow{Name: "Final report", IsImpactNeeded: true, SubmissionEmailID: &f.Submission.ID}
	must(cat.CreateWorkflow(ctx, &f.W2, []int64{f.QMulti.ID, f.QCountries.ID, f.QRegions.ID}))

	f.B1 = store.SectorRegulation{Name: "NIS electricity", RegulationID: f.NIS.ID, RegulatorID: f.ILR.ID, IsDetectionDateNeeded: true,
		OpeningEmailID: &f.Opening.ID, Sectors: []store.Sector{f.Electricity}}
	must(cat.CreateSectorRegulation(ctx, &f.B1))
	f.B2 = store.SectorRegulation{Name: "NIS gas", RegulationID: f.NIS.ID, RegulatorID: f.ILR.ID, Sectors: []store.Sector{f.Gas}}
	must(cat.CreateSectorRegulation(ctx, &f.B2))
	f.B3 = store.SectorRegulation{Name: "eIDAS trust services", RegulationID: f.EIDAS.ID, RegulatorID: f.ILR.ID}
	must(cat.CreateSectorRegulation(ctx, &f.B3))

	f.B1W1 = store.SectorRegulationWorkflow{SectorRegulationID: f.B1.ID, WorkflowID: f.W1.ID, Position: 1}
	must(cat.AddBundleWorkflow(ctx, &f.B1W1))
	f.B1W2 = store.SectorRegulationWorkflow{SectorRegulationID: f.B1.ID, WorkflowID: f.W2.ID, Position: 2}
	must(cat.AddBundleWorkflow(ctx, &f.B1W2))
	must(cat.AddBundleWorkflow(ctx, &store.SectorRegulationWorkflow{SectorRegulationID: f.B2.ID, WorkflowID: f.W1.ID, Position: 1}))
	must(cat.AddBundleWorkflow(ctx, &store.SectorRegulationWorkflow{SectorRegulationID: f.B3.ID, WorkflowID: f.W1.ID, Position: 1}))

	f.B1Remin = store.WorkflowReminder{SectorRegulationWorkflowID: f.B1W2.ID, Headline: "Final report due", EmailID: f.Reminder.ID,
		TriggerEvent: store.TriggerNotificationDate, DelayInHours: 72}
	must(cat.CreateReminder(ctx, &f.B1Remin))

	f.ImpactOutage = store.Impact{Label: "Outage over 1h", RegulationID: f.NIS.ID, SectorIDs: []int64{f.Electricity.ID, f.Gas.ID}}
	must(cat.CreateImpact(ctx, &f.ImpactOutage))
	f.ImpactData = store.Impact{Label: "Data loss", RegulationID: f.NIS.ID, SectorIDs: []int64{f.Electricity.ID}}
	must(cat.CreateImpact(ctx, &f.ImpactData))

	f.Alice = store.User{Username: "alice", FirstName: "Alice", LastName: "Martin", Email: "alice@acme.test", PhoneNumber: "+352111", Active: true,
		Groups: []string{store.GroupIncidentUser}, Companies: []store.UserCompany{{CompanyID: f.Acme.ID}}}
	must(users.Create(ctx, &f.Alice))
	f.Regulator = store.User{Username: "reg", FirstName: "Rita", LastName: "Weber", Email: "reg@ilr.test", Active: true,
		Groups: []string{store.GroupRegulatorUser}, SectorIDs: []int64{f.Electricity.ID}}
	must(users.Create(ctx, &f.Regulator))
	f.SuperAdmin = store.User{Username: "boss", FirstName: "Bo", LastName: "Ss", Email: "boss@ilr.test", Active: true,
		Groups: []string{store.GroupRegulatorAdmin}}
	must(users.Create(ctx, &f.SuperAdmin))
	return f
}
