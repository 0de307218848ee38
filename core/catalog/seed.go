// Package catalog imports the regulatory catalog (regulators, regulations,
// sectors, workflows, bundles...) from a YAML document.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"serima/core/store"
	"serima/core/utils"
)

type Seed struct {
	Regulators  []RegulatorSeed  `yaml:"regulators"`
	Regulations []RegulationSeed `yaml:"regulations"`
	Sectors     []SectorSeed     `yaml:"sectors"`
	Services    []ServiceSeed    `yaml:"services"`
	Companies   []store.Company  `yaml:"companies"`
	Emails      []EmailSeed      `yaml:"emails"`
	Categories  []CategorySeed   `yaml:"categories"`
	Questions   []QuestionSeed   `yaml:"questions"`
	Workflows   []WorkflowSeed   `yaml:"workflows"`
	Impacts     []ImpactSeed     `yaml:"impacts"`
	Bundles     []BundleSeed     `yaml:"bundles"`
	Users       []UserSeed       `yaml:"users"`
}

type RegulatorSeed struct {
	Name                 string `yaml:"name"`
	FullName             string `yaml:"full_name"`
	EmailForNotification string `yaml:"email_for_notification"`
}

type RegulationSeed struct {
	Label      string   `yaml:"label"`
	Regulators []string `yaml:"regulators"`
}

type SectorSeed struct {
	Name    string `yaml:"name"`
	Acronym string `yaml:"acronym"`
	Parent  string `yaml:"parent"`
}

type ServiceSeed struct {
	Name    string `yaml:"name"`
	Acronym string `yaml:"acronym"`
	Sector  string `yaml:"sector"`
}

type EmailSeed struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Subject string `yaml:"subject"`
	Content string `yaml:"content"`
}

type CategorySeed struct {
	Label    string `yaml:"label"`
	Position int    `yaml:"position"`
}

// QuestionSeed is referenced by Key from workflows, labels are not unique.
type QuestionSeed struct {
	Key       string   `yaml:"key"`
	Label     string   `yaml:"label"`
	Tooltip   string   `yaml:"tooltip"`
	Type      string   `yaml:"type"`
	Mandatory bool     `yaml:"mandatory"`
	Position  int      `yaml:"position"`
	Category  string   `yaml:"category"`
	Answers   []string `yaml:"answers"`
}

type WorkflowSeed struct {
	Name            string   `yaml:"name"`
	ImpactNeeded    bool     `yaml:"impact_needed"`
	SubmissionEmail string   `yaml:"submission_email"`
	Questions       []string `yaml:"questions"`
}

type ImpactSeed struct {
	Label      string   `yaml:"label"`
	Regulation string   `yaml:"regulation"`
	Sectors    []string `yaml:"sectors"`
}

type BundleSeed struct {
	Name                string               `yaml:"name"`
	Regulation          string               `yaml:"regulation"`
	Regulator           string               `yaml:"regulator"`
	DetectionDateNeeded bool                 `yaml:"detection_date_needed"`
	OpeningEmail        string               `yaml:"opening_email"`
	ClosingEmail        string               `yaml:"closing_email"`
	Sectors             []string             `yaml:"sectors"`
	Workflows           []BundleWorkflowSeed `yaml:"workflows"`
}

type BundleWorkflowSeed struct {
	Workflow  string         `yaml:"workflow"`
	Position  int            `yaml:"position"`
	Reminders []ReminderSeed `yaml:"reminders"`
}

type ReminderSeed struct {
	Headline   string `yaml:"headline"`
	Email      string `yaml:"email"`
	Trigger    string `yaml:"trigger"`
	DelayHours int    `yaml:"delay_hours"`
}

type UserSeed struct {
	Username  string   `yaml:"username"`
	FirstName string   `yaml:"first_name"`
	LastName  string   `yaml:"last_name"`
	Email     string   `yaml:"email"`
	Phone     string   `yaml:"phone"`
	Groups    []string `yaml:"groups"`
	Sectors   []string `yaml:"sectors"`
	Companies []string `yaml:"companies"`
	// Admin lists the companies the user administers, a subset of Companies.
	Admin []string `yaml:"admin"`
}

func Decode(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return &seed, nil
		}
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	return &seed, nil
}

func LoadFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

type Importer struct {
	catalog store.CatalogStore
	users   store.UsersStore
	logger  *utils.Logger
}

func NewImporter(catalog store.CatalogStore, users store.UsersStore, logger *utils.Logger) *Importer {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Importer{catalog: catalog, users: users, logger: logger}
}

// ImportIfEmpty imports the seed unless the database already has regulators.
// It reports whether anything was imported.
func (im *Importer) ImportIfEmpty(ctx context.Context, seed *Seed) (bool, error) {
	existing, err := im.catalog.ListRegulators(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		im.logger.Printf("CATALOG seed skipped, %d regulators present", len(existing))
		return false, nil
	}
	if err := im.Import(ctx, seed); err != nil {
		return false, err
	}
	return true, nil
}

// Import creates every entity of the seed. References between entities are
// resolved by name and must point to entries declared earlier in the seed.
func (im *Importer) Import(ctx context.Context, seed *Seed) error {
	ix := newIndex()
	steps := []func(context.Context, *Seed, *index) error{
		im.importRegulators, im.importRegulations, im.importSectors, im.importServices,
		im.importCompanies, im.importEmails, im.importQuestions, im.importWorkflows,
		im.importImpacts, im.importBundles, im.importUsers,
	}
	for _, step := range steps {
		if err := step(ctx, seed, ix); err != nil {
			return err
		}
	}
	im.logger.Printf("CATALOG imported %d regulators, %d regulations, %d sectors, %d workflows, %d bundles, %d users",
		len(seed.Regulators), len(seed.Regulations), len(seed.Sectors), len(seed.Workflows), len(seed.Bundles), len(seed.Users))
	return nil
}

type index struct {
	regulators  map[string]int64
	regulations map[string]int64
	sectors     map[string]store.Sector
	companies   map[string]int64
	emails      map[string]int64
	categories  map[string]int64
	questions   map[string]int64
	workflows   map[string]int64
}

func newIndex() *index {
	return &index{
		regulators:  map[string]int64{},
		regulations: map[string]int64{},
		sectors:     map[string]store.Sector{},
		companies:   map[string]int64{},
		emails:      map[string]int64{},
		categories:  map[string]int64{},
		questions:   map[string]int64{},
		workflows:   map[string]int64{},
	}
}

func lookup(kind string, m map[string]int64, name string) (int64, error) {
	id, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("catalog seed: unknown %s %q", kind, name)
	}
	return id, nil
}

func lookupAll(kind string, m map[string]int64, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, err := lookup(kind, m, n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optional(kind string, m map[string]int64, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	id, err := lookup(kind, m, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (ix *index) sector(name string) (store.Sector, error) {
	s, ok := ix.sectors[name]
	if !ok {
		return store.Sector{}, fmt.Errorf("catalog seed: unknown sector %q", name)
	}
	return s, nil
}

func (im *Importer) importRegulators(ctx context.Context, seed *Seed, ix *index) error {
	for _, r := range seed.Regulators {
		rec := store.Regulator{Name: r.Name, FullName: r.FullName, EmailForNotification: r.EmailForNotification}
		id, err := im.catalog.CreateRegulator(ctx, &rec)
		if err != nil {
			return fmt.Errorf("regulator %q: %w", r.Name, err)
		}
		ix.regulators[r.Name] = id
	}
	return nil
}

func (im *Importer) importRegulations(ctx context.Context, seed *Seed, ix *index) error {
	for _, r := range seed.Regulations {
		regulators, err := lookupAll("regulator", ix.regulators, r.Regulators)
		if err != nil {
			return err
		}
		rec := store.Regulation{Label: r.Label, RegulatorIDs: regulators}
		id, err := im.catalog.CreateRegulation(ctx, &rec)
		if err != nil {
			return fmt.Errorf("regulation %q: %w", r.Label, err)
		}
		ix.regulations[r.Label] = id
	}
	return nil
}

func (im *Importer) importSectors(ctx context.Context, seed *Seed, ix *index) error {
	for _, s := range seed.Sectors {
		rec := store.Sector{Name: s.Name, Acronym: s.Acronym}
		if s.Parent != "" {
			parent, err := ix.sector(s.Parent)
			if err != nil {
				return err
			}
			rec.ParentID = &parent.ID
			rec.ParentName = parent.Name
			rec.ParentAcronym = parent.Acronym
		}
		if _, err := im.catalog.CreateSector(ctx, &rec); err != nil {
			return fmt.Errorf("sector %q: %w", s.Name, err)
		}
		ix.sectors[s.Name] = rec
	}
	return nil
}

func (im *Importer) importServices(ctx context.Context, seed *Seed, ix *index) error {
	for _, s := range seed.Services {
		sector, err := ix.sector(s.Sector)
		if err != nil {
			return err
		}
		if _, err := im.catalog.CreateService(ctx, &store.Service{Name: s.Name, Acronym: s.Acronym, SectorID: sector.ID}); err != nil {
			return fmt.Errorf("service %q: %w", s.Name, err)
		}
	}
	return nil
}

func (im *Importer) importCompanies(ctx context.Context, seed *Seed, ix *index) error {
	for _, c := range seed.Companies {
		rec := c
		id, err := im.catalog.CreateCompany(ctx, &rec)
		if err != nil {
			return fmt.Errorf("company %q: %w", c.Identifier, err)
		}
		ix.companies[c.Identifier] = id
	}
	return nil
}

func (im *Importer) importEmails(ctx context.Context, seed *Seed, ix *index) error {
	for _, e := range seed.Emails {
		rec := store.Email{Name: e.Name, Subject: e.Subject, Content: e.Content, EmailType: e.Type}
		id, err := im.catalog.CreateEmail(ctx, &rec)
		if err != nil {
			return fmt.Errorf("email %q: %w", e.Name, err)
		}
		ix.emails[e.Name] = id
	}
	return nil
}

func (im *Importer) importQuestions(ctx context.Context, seed *Seed, ix *index) error {
	for _, c := range seed.Categories {
		rec := store.QuestionCategory{Label: c.Label, Position: c.Position}
		id, err := im.catalog.CreateQuestionCategory(ctx, &rec)
		if err != nil {
			return fmt.Errorf("category %q: %w", c.Label, err)
		}
		ix.categories[c.Label] = id
	}
	for _, q := range seed.Questions {
		category, err := lookup("category", ix.categories, q.Category)
		if err != nil {
			return err
		}
		rec := store.Question{Label: q.Label, Tooltip: q.Tooltip, QuestionType: q.Type, IsMandatory: q.Mandatory, Position: q.Position, CategoryID: category}
		for i, a := range q.Answers {
			rec.Predefined = append(rec.Predefined, store.PredefinedAnswer{Label: a, Position: i + 1})
		}
		id, err := im.catalog.CreateQuestion(ctx, &rec)
		if err != nil {
			return fmt.Errorf("question %q: %w", q.Key, err)
		}
		key := q.Key
		if key == "" {
			key = q.Label
		}
		ix.questions[key] = id
	}
	return nil
}

func (im *Importer) importWorkflows(ctx context.Context, seed *Seed, ix *index) error {
	for _, w := range seed.Workflows {
		questions, err := lookupAll("question", ix.questions, w.Questions)
		if err != nil {
			return err
		}
		email, err := optional("email", ix.emails, w.SubmissionEmail)
		if err != nil {
			return err
		}
		rec := store.Workflow{Name: w.Name, IsImpactNeeded: w.ImpactNeeded, SubmissionEmailID: email}
		id, err := im.catalog.CreateWorkflow(ctx, &rec, questions)
		if err != nil {
			return fmt.Errorf("workflow %q: %w", w.Name, err)
		}
		ix.workflows[w.Name] = id
	}
	return nil
}

func (im *Importer) importImpacts(ctx context.Context, seed *Seed, ix *index) error {
	for _, imp := range seed.Impacts {
		regulation, err := lookup("regulation", ix.regulations, imp.Regulation)
		if err != nil {
			return err
		}
		rec := store.Impact{Label: imp.Label, RegulationID: regulation}
		for _, name := range imp.Sectors {
			sector, err := ix.sector(name)
			if err != nil {
				return err
			}
			rec.SectorIDs = append(rec.SectorIDs, sector.ID)
		}
		if _, err := im.catalog.CreateImpact(ctx, &rec); err != nil {
			return fmt.Errorf("impact %q: %w", imp.Label, err)
		}
	}
	return nil
}

func (im *Importer) importBundles(ctx context.Context, seed *Seed, ix *index) error {
	for _, b := range seed.Bundles {
		regulation, err := lookup("regulation", ix.regulations, b.Regulation)
		if err != nil {
			return err
		}
		regulator, err := lookup("regulator", ix.regulators, b.Regulator)
		if err != nil {
			return err
		}
		opening, err := optional("email", ix.emails, b.OpeningEmail)
		if err != nil {
			return err
		}
		closing, err := optional("email", ix.emails, b.ClosingEmail)
		if err != nil {
			return err
		}
		rec := store.SectorRegulation{Name: b.Name, RegulationID: regulation, RegulatorID: regulator,
			IsDetectionDateNeeded: b.DetectionDateNeeded, OpeningEmailID: opening, ClosingEmailID: closing}
		for _, name := range b.Sectors {
			sector, err := ix.sector(name)
			if err != nil {
				return err
			}
			rec.Sectors = append(rec.Sectors, sector)
		}
		if _, err := im.catalog.CreateSectorRegulation(ctx, &rec); err != nil {
			return fmt.Errorf("bundle %q: %w", b.Name, err)
		}
		for i, w := range b.Workflows {
			workflow, err := lookup("workflow", ix.workflows, w.Workflow)
			if err != nil {
				return err
			}
			position := w.Position
			if position == 0 {
				position = i + 1
			}
			item := store.SectorRegulationWorkflow{SectorRegulationID: rec.ID, WorkflowID: workflow, Position: position}
			if _, err := im.catalog.AddBundleWorkflow(ctx, &item); err != nil {
				return fmt.Errorf("bundle %q workflow %q: %w", b.Name, w.Workflow, err)
			}
			for _, r := range w.Reminders {
				email, err := lookup("email", ix.emails, r.Email)
				if err != nil {
					return err
				}
				rem := store.WorkflowReminder{SectorRegulationWorkflowID: item.ID, Headline: r.Headline, EmailID: email, TriggerEvent: r.Trigger, DelayInHours: r.DelayHours}
				if _, err := im.catalog.CreateReminder(ctx, &rem); err != nil {
					return fmt.Errorf("bundle %q reminder %q: %w", b.Name, r.Headline, err)
				}
			}
		}
	}
	return nil
}

func (im *Importer) importUsers(ctx context.Context, seed *Seed, ix *index) error {
	if im.users == nil {
		return nil
	}
	for _, u := range seed.Users {
		rec := store.User{Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, PhoneNumber: u.Phone, Active: true, Groups: u.Groups}
		for _, name := range u.Sectors {
			sector, err := ix.sector(name)
			if err != nil {
				return err
			}
			rec.SectorIDs = append(rec.SectorIDs, sector.ID)
		}
		admin := map[string]bool{}
		for _, c := range u.Admin {
			admin[c] = true
		}
		for _, c := range u.Companies {
			id, err := lookup("company", ix.companies, c)
			if err != nil {
				return err
			}
			rec.Companies = append(rec.Companies, store.UserCompany{CompanyID: id, Identifier: c, IsCompanyAdministrator: admin[c]})
		}
		if _, err := im.users.Create(ctx, &rec); err != nil {
			return fmt.Errorf("user %q: %w", u.Username, err)
		}
	}
	return nil
}
