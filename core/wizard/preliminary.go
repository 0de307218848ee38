package wizard

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"serima/core/incidents"
	"serima/core/regulatory"
	"serima/core/store"
)

const (
	PreliminaryKind = "preliminary"
	PreliminaryKey  = "declaration"
)

const (
	StepContact = iota
	StepRegulators
	StepRegulations
	StepSectors
	StepDetection
)

type ContactPayload struct {
	CompanyName        string        `json:"company_name"`
	Contact            store.Contact `json:"contact"`
	Technical          store.Contact `json:"technical"`
	TechnicalSame      bool          `json:"is_technical_the_same"`
	IncidentReference  string        `json:"incident_reference,omitempty"`
	ComplaintReference string        `json:"complaint_reference,omitempty"`
}

type IDsPayload struct {
	IDs []int64 `json:"ids"`
}

type SectorsPayload struct {
	SectorIDs  []int64 `json:"sector_ids"`
	ServiceIDs []int64 `json:"service_ids,omitempty"`
}

type DatePayload struct {
	At *time.Time `json:"at,omitempty"`
}

// PreliminaryCatalog is the part of the catalog the declaration wizard reads.
type PreliminaryCatalog interface {
	ListRegulators(ctx context.Context) ([]store.Regulator, error)
	ListServices(ctx context.Context) ([]store.Service, error)
}

// Actor is the user filling a wizard.
type Actor struct {
	User          *store.User
	ActiveCompany *store.Company
	IsRegulator   bool
}

func (a Actor) userID() int64 {
	if a.User == nil {
		return 0
	}
	return a.User.ID
}

func (a Actor) username() string {
	if a.User == nil {
		return ""
	}
	return a.User.Username
}

type preliminary struct {
	catalog  PreliminaryCatalog
	resolver *regulatory.Resolver
	service  *incidents.Service
	actor    Actor
}

// Preliminary builds the declaration wizard. Finishing it creates one
// incident per applicable bundle and returns them as []*store.Incident.
func Preliminary(catalog PreliminaryCatalog, resolver *regulatory.Resolver, service *incidents.Service, actor Actor) *Definition {
	p := &preliminary{catalog: catalog, resolver: resolver, service: service, actor: actor}
	return &Definition{
		Kind: PreliminaryKind,
		Key:  PreliminaryKey,
		Steps: []Step{
			StepContact:     {Name: "contact", Title: "Contact", Form: p.contactForm, Validate: p.contactValidate},
			StepRegulators:  {Name: "regulators", Title: "Regulators", Form: p.regulatorsForm, Validate: p.regulatorsValidate},
			StepRegulations: {Name: "regulations", Title: "Regulations", Form: p.regulationsForm, Validate: p.regulationsValidate},
			StepSectors:     {Name: "sectors", Title: "Sectors", Visible: p.sectorsVisible, Form: p.sectorsForm, Validate: p.sectorsValidate},
			StepDetection:   {Name: "detection_date", Title: "Detection date", Visible: p.detectionVisible, Form: p.detectionForm, Validate: p.detectionValidate},
		},
		Finish: p.finish,
	}
}

func (p *preliminary) contactForm(ctx context.Context, st *State) ([]Field, error) {
	prev, ok, err := Payload[ContactPayload](st, StepContact)
	if err != nil {
		return nil, err
	}
	if !ok {
		prev = p.prefill()
	}
	fields := []Field{
		{Name: "company_name", Label: "Company name", Type: FieldText, Required: true, Disabled: p.actor.ActiveCompany != nil, Initial: one(prev.CompanyName)},
		{Name: "contact_lastname", Label: "Last name", Type: FieldText, Required: true, Initial: one(prev.Contact.Lastname)},
		{Name: "contact_firstname", Label: "First name", Type: FieldText, Required: true, Initial: one(prev.Contact.Firstname)},
		{Name: "contact_title", Label: "Title", Type: FieldText, Initial: one(prev.Contact.Title)},
		{Name: "contact_email", Label: "Email", Type: FieldEmail, Required: true, Initial: one(prev.Contact.Email)},
		{Name: "contact_telephone", Label: "Telephone", Type: FieldText, Required: true, Initial: one(prev.Contact.Telephone)},
		{Name: "is_technical_the_same", Label: "Technical contact is the same", Type: FieldCheckbox},
		{Name: "technical_lastname", Label: "Technical last name", Type: FieldText, Required: true, Initial: one(prev.Technical.Lastname)},
		{Name: "technical_firstname", Label: "Technical first name", Type: FieldText, Required: true, Initial: one(prev.Technical.Firstname)},
		{Name: "technical_title", Label: "Technical title", Type: FieldText, Initial: one(prev.Technical.Title)},
		{Name: "technical_email", Label: "Technical email", Type: FieldEmail, Required: true, Initial: one(prev.Technical.Email)},
		{Name: "technical_telephone", Label: "Technical telephone", Type: FieldText, Required: true, Initial: one(prev.Technical.Telephone)},
		{Name: "incident_reference", Label: "Incident reference", Type: FieldText, Initial: one(prev.IncidentReference),
			Tooltip: "Insert a reference to find and track easily your incident (internal reference, CERT reference, etc.)"},
		{Name: "complaint_reference", Label: "Complaint reference", Type: FieldText, Initial: one(prev.ComplaintReference),
			Tooltip: "Insert any complaint has been filed with the police"},
	}
	if prev.TechnicalSame {
		fields[6].Initial = []string{"on"}
	}
	return fields, nil
}

func (p *preliminary) prefill() ContactPayload {
	var c ContactPayload
	if u := p.actor.User; u != nil {
		c.Contact = store.Contact{Lastname: u.LastName, Firstname: u.FirstName, Email: u.Email, Telephone: u.PhoneNumber}
	}
	if p.actor.ActiveCompany != nil {
		c.CompanyName = p.actor.ActiveCompany.Name
	}
	return c
}

func (p *preliminary) contactValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	verr := &ValidationError{}
	out := ContactPayload{TechnicalSame: checked(in, "is_technical_the_same")}
	if p.actor.ActiveCompany != nil {
		out.CompanyName = p.actor.ActiveCompany.Name
	} else {
		out.CompanyName = textField(in, verr, "company_name", true)
	}
	out.Contact = store.Contact{
		Lastname:  textField(in, verr, "contact_lastname", true),
		Firstname: textField(in, verr, "contact_firstname", true),
		Title:     textField(in, verr, "contact_title", false),
		Email:     emailField(in, verr, "contact_email", true),
		Telephone: textField(in, verr, "contact_telephone", true),
	}
	if out.TechnicalSame {
		out.Technical = out.Contact
	} else {
		out.Technical = store.Contact{
			Lastname:  textField(in, verr, "technical_lastname", true),
			Firstname: textField(in, verr, "technical_firstname", true),
			Title:     textField(in, verr, "technical_title", false),
			Email:     emailField(in, verr, "technical_email", true),
			Telephone: textField(in, verr, "technical_telephone", true),
		}
	}
	out.IncidentReference = referenceField(in, verr, "incident_reference")
	out.ComplaintReference = referenceField(in, verr, "complaint_reference")
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func referenceField(in url.Values, verr *ValidationError, name string) string {
	v := value(in, name)
	if len([]rune(v)) > 255 {
		verr.Add(name, "Ensure this value has at most 255 characters.")
	}
	return v
}

func (p *preliminary) regulatorsForm(ctx context.Context, st *State) ([]Field, error) {
	regulators, err := p.catalog.ListRegulators(ctx)
	if err != nil {
		return nil, err
	}
	prev, _, err := Payload[IDsPayload](st, StepRegulators)
	if err != nil {
		return nil, err
	}
	f := Field{Name: "regulators", Label: "Send notification to:", Type: FieldMultiSelect, Required: true, Initial: idStrings(prev.IDs)}
	for _, r := range regulators {
		label := r.Name
		if r.FullName != "" {
			label = r.Name + " (" + r.FullName + ")"
		}
		f.Choices = append(f.Choices, Choice{Value: strconv.FormatInt(r.ID, 10), Label: label})
	}
	return []Field{f}, nil
}

func (p *preliminary) regulatorsValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	regulators, err := p.catalog.ListRegulators(ctx)
	if err != nil {
		return nil, err
	}
	allowed := map[int64]bool{}
	for _, r := range regulators {
		allowed[r.ID] = true
	}
	verr := &ValidationError{}
	ids := idList(in, verr, "regulators", allowed, true)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return IDsPayload{IDs: ids}, nil
}

func (p *preliminary) regulatorIDs(st *State) ([]int64, error) {
	v, _, err := Payload[IDsPayload](st, StepRegulators)
	return v.IDs, err
}

func (p *preliminary) regulationIDs(st *State) ([]int64, error) {
	v, _, err := Payload[IDsPayload](st, StepRegulations)
	return v.IDs, err
}

func (p *preliminary) regulationsForm(ctx context.Context, st *State) ([]Field, error) {
	regulators, err := p.regulatorIDs(st)
	if err != nil {
		return nil, err
	}
	regulations, err := p.resolver.RegulationChoices(ctx, regulators)
	if err != nil {
		return nil, err
	}
	prev, err := p.regulationIDs(st)
	if err != nil {
		return nil, err
	}
	f := Field{Name: "regulations", Label: "Legal bases", Type: FieldMultiSelect, Required: true, Initial: idStrings(prev)}
	for _, r := range regulations {
		f.Choices = append(f.Choices, Choice{Value: strconv.FormatInt(r.ID, 10), Label: r.Label})
	}
	return []Field{f}, nil
}

func (p *preliminary) regulationsValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	regulators, err := p.regulatorIDs(st)
	if err != nil {
		return nil, err
	}
	regulations, err := p.resolver.RegulationChoices(ctx, regulators)
	if err != nil {
		return nil, err
	}
	allowed := map[int64]bool{}
	for _, r := range regulations {
		allowed[r.ID] = true
	}
	verr := &ValidationError{}
	ids := idList(in, verr, "regulations", allowed, true)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return IDsPayload{IDs: ids}, nil
}

func (p *preliminary) sectorsVisible(ctx context.Context, st *State) (bool, error) {
	if !st.Has(StepRegulators) || !st.Has(StepRegulations) {
		return false, nil
	}
	regulators, err := p.regulatorIDs(st)
	if err != nil {
		return false, err
	}
	regulations, err := p.regulationIDs(st)
	if err != nil {
		return false, err
	}
	return p.resolver.HasSectorBound(ctx, regulators, regulations)
}

func (p *preliminary) sectorsForm(ctx context.Context, st *State) ([]Field, error) {
	groups, err := p.resolver.SectorChoices(ctx)
	if err != nil {
		return nil, err
	}
	services, err := p.catalog.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	prev, _, err := Payload[SectorsPayload](st, StepSectors)
	if err != nil {
		return nil, err
	}
	sectors := Field{Name: "sectors", Label: "Select the sectors affected by the incident", Type: FieldMultiSelect,
		Required: len(groups) > 0, Initial: idStrings(prev.SectorIDs)}
	names := map[int64]string{}
	for _, g := range groups {
		for _, s := range g.Options {
			names[s.ID] = s.Name
			sectors.Choices = append(sectors.Choices, Choice{Value: strconv.FormatInt(s.ID, 10), Label: s.Name, Group: g.Parent.Name})
		}
	}
	fields := []Field{sectors}
	if len(services) > 0 {
		svc := Field{Name: "services", Label: "Select the services affected by the incident", Type: FieldMultiSelect, Initial: idStrings(prev.ServiceIDs)}
		sort.SliceStable(services, func(i, j int) bool { return names[services[i].SectorID] < names[services[j].SectorID] })
		for _, s := range services {
			svc.Choices = append(svc.Choices, Choice{Value: strconv.FormatInt(s.ID, 10), Label: s.Name, Group: names[s.SectorID]})
		}
		fields = append(fields, svc)
	}
	return fields, nil
}

func (p *preliminary) sectorsValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	groups, err := p.resolver.SectorChoices(ctx)
	if err != nil {
		return nil, err
	}
	services, err := p.catalog.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	verr := &ValidationError{}
	sectorIDs := idList(in, verr, "sectors", idSet(regulatory.SectorIDs(groups)), len(groups) > 0)
	selected := idSet(sectorIDs)
	parents := map[int64]int64{}
	for _, g := range groups {
		for _, s := range g.Options {
			if s.ParentID != nil {
				parents[s.ID] = *s.ParentID
			}
		}
	}
	// A service is only valid for a selected sector or a child of one.
	allowed := map[int64]bool{}
	for _, svc := range services {
		if selected[svc.SectorID] {
			allowed[svc.ID] = true
			continue
		}
		for id := range selected {
			if parents[id] == svc.SectorID {
				allowed[svc.ID] = true
			}
		}
	}
	serviceIDs := idList(in, verr, "services", allowed, false)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return SectorsPayload{SectorIDs: sectorIDs, ServiceIDs: serviceIDs}, nil
}

func (p *preliminary) bundles(ctx context.Context, st *State) ([]store.SectorRegulation, error) {
	regulators, err := p.regulatorIDs(st)
	if err != nil {
		return nil, err
	}
	regulations, err := p.regulationIDs(st)
	if err != nil {
		return nil, err
	}
	sectors, _, err := Payload[SectorsPayload](st, StepSectors)
	if err != nil {
		return nil, err
	}
	return p.resolver.Resolve(ctx, regulators, regulations, sectors.SectorIDs)
}

func (p *preliminary) detectionVisible(ctx context.Context, st *State) (bool, error) {
	if !st.Has(StepRegulations) {
		return false, nil
	}
	bundles, err := p.bundles(ctx, st)
	if err != nil {
		return false, err
	}
	for _, b := range bundles {
		if b.IsDetectionDateNeeded {
			return true, nil
		}
	}
	return false, nil
}

func (p *preliminary) detectionForm(ctx context.Context, st *State) ([]Field, error) {
	prev, _, err := Payload[DatePayload](st, StepDetection)
	if err != nil {
		return nil, err
	}
	latest := incidents.EndOfDay(p.service.Now()).Format(incidents.DateLayout)
	return []Field{{Name: "detection_date", Label: "Select date and time", Type: FieldDateTime, Required: true, MaxDate: latest, Initial: formatDate(prev.At)}}, nil
}

func (p *preliminary) detectionValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	verr := &ValidationError{}
	at := dateField(in, verr, "detection_date", true, p.service.Now())
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return DatePayload{At: at}, nil
}

func (p *preliminary) finish(ctx context.Context, st *State) (any, error) {
	contact, _, err := Payload[ContactPayload](st, StepContact)
	if err != nil {
		return nil, err
	}
	regulators, err := p.regulatorIDs(st)
	if err != nil {
		return nil, err
	}
	regulations, err := p.regulationIDs(st)
	if err != nil {
		return nil, err
	}
	sectors, _, err := Payload[SectorsPayload](st, StepSectors)
	if err != nil {
		return nil, err
	}
	detection, _, err := Payload[DatePayload](st, StepDetection)
	if err != nil {
		return nil, err
	}
	return p.service.SubmitPreliminary(ctx, incidents.PreliminarySubmission{
		UserID:             p.actor.userID(),
		Username:           p.actor.username(),
		Company:            p.actor.ActiveCompany,
		CompanyName:        contact.CompanyName,
		Contact:            contact.Contact,
		Technical:          contact.Technical,
		IncidentReference:  contact.IncidentReference,
		ComplaintReference: contact.ComplaintReference,
		RegulatorIDs:       regulators,
		RegulationIDs:      regulations,
		SectorIDs:          sectors.SectorIDs,
		ServiceIDs:         sectors.ServiceIDs,
		DetectionDate:      detection.At,
	})
}
