package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"serima/config"
	"serima/core/regulatory"
	"serima/core/store"
	"serima/core/utils"
)

var (
	ErrLimitReached  = store.ErrLimitReached
	ErrNoBundles     = errors.New("no regulatory obligation matches the selection")
	ErrNoWorkflow    = errors.New("the regulation has no workflow")
	ErrInvalidStatus = errors.New("invalid status")
	ErrInvalidImpact = errors.New("impact not offered for this incident")
)

// Notifier sends the emails tied to incident events. Delivery problems are
// the notifier's concern and never surface as errors here.
type Notifier interface {
	Notify(ctx context.Context, emailType string, inc *store.Incident)
	SendEmail(ctx context.Context, emailID int64, inc *store.Incident)
}

type Service struct {
	cfg       *config.AppConfig
	incidents store.IncidentsStore
	catalog   store.CatalogStore
	resolver  *regulatory.Resolver
	notifier  Notifier
	audits    store.AuditStore
	logger    *utils.Logger
	now       func() time.Time
}

func NewService(cfg *config.AppConfig, incidents store.IncidentsStore, catalog store.CatalogStore, resolver *regulatory.Resolver, notifier Notifier, audits store.AuditStore, logger *utils.Logger) *Service {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Service{
		cfg:       cfg,
		incidents: incidents,
		catalog:   catalog,
		resolver:  resolver,
		notifier:  notifier,
		audits:    audits,
		logger:    logger,
		now:       utils.NowUTC,
	}
}

// WithClock replaces the time source, mostly for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) maxPerDay() int {
	if s.cfg == nil || s.cfg.Incidents.MaxPreliminaryPerDay <= 0 {
		return 3
	}
	return s.cfg.Incidents.MaxPreliminaryPerDay
}

// LimitReached reports whether the user already notified the daily maximum
// of preliminary notifications.
func (s *Service) LimitReached(ctx context.Context, userID int64) (bool, error) {
	n, err := s.incidents.CountUserIncidentsSince(ctx, userID, utils.StartOfDay(s.now()))
	if err != nil {
		return false, err
	}
	return n >= s.maxPerDay(), nil
}

type PreliminarySubmission struct {
	UserID             int64
	Username           string
	Company            *store.Company
	CompanyName        string
	Contact            store.Contact
	Technical          store.Contact
	IncidentReference  string
	ComplaintReference string
	RegulatorIDs       []int64
	RegulationIDs      []int64
	SectorIDs          []int64
	ServiceIDs         []int64
	DetectionDate      *time.Time
}

// SubmitPreliminary creates one incident per applicable bundle. Either every
// incident of the submission is stored or none is.
func (s *Service) SubmitPreliminary(ctx context.Context, sub PreliminarySubmission) ([]*store.Incident, error) {
	bundles, err := s.resolver.Resolve(ctx, sub.RegulatorIDs, sub.RegulationIDs, sub.SectorIDs)
	if err != nil {
		return nil, err
	}
	if len(bundles) == 0 {
		return nil, ErrNoBundles
	}
	now := s.now()
	companyName := sub.CompanyName
	var companyID *int64
	if sub.Company != nil {
		companyName = sub.Company.Name
		id := sub.Company.ID
		companyID = &id
	}
	userID := sub.UserID
	byID := map[int64]store.SectorRegulation{}
	batch := store.PreliminaryBatch{
		UserID:    sub.UserID,
		DayStart:  utils.StartOfDay(now),
		MaxPerDay: s.maxPerDay(),
	}
	for _, b := range bundles {
		byID[b.ID] = b
		inc := &store.Incident{
			CompanyID:          companyID,
			CompanyName:        companyName,
			SectorRegulationID: b.ID,
			Contact:            sub.Contact,
			Technical:          sub.Technical,
			IncidentReference:  sub.IncidentReference,
			ComplaintReference: sub.ComplaintReference,
			NotificationDate:   now,
			DetectionDate:      sub.DetectionDate,
			AffectedSectorIDs:  sub.SectorIDs,
			AffectedServiceIDs: sub.ServiceIDs,
		}
		if userID > 0 {
			inc.ContactUserID = &userID
		}
		batch.Incidents = append(batch.Incidents, inc)
	}
	batch.Stamp = func(inc *store.Incident, existing int) string {
		return GenerateIncidentID(IdentifierInput{
			Company:           sub.Company,
			CompanyName:       sub.CompanyName,
			BundleSectors:     byID[inc.SectorRegulationID].Sectors,
			SelectedSectorIDs: sub.SectorIDs,
			Existing:          existing,
			Year:              now.Year(),
		})
	}
	if err := s.incidents.CreatePreliminary(ctx, batch); err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			return nil, ErrLimitReached
		}
		return nil, fmt.Errorf("create incidents: %w", err)
	}
	for _, inc := range batch.Incidents {
		s.logger.Printf("INCIDENT preliminary %s created (bundle %d, user %d)", inc.IncidentID, inc.SectorRegulationID, sub.UserID)
		s.audit(ctx, sub.Username, "incident.create", inc.IncidentID)
	}
	if s.notifier != nil {
		last := batch.Incidents[len(batch.Incidents)-1]
		s.notifier.Notify(ctx, store.EmailPreliminary, last)
		for _, inc := range batch.Incidents {
			if b := byID[inc.SectorRegulationID]; b.OpeningEmailID != nil {
				s.notifier.SendEmail(ctx, *b.OpeningEmailID, inc)
			}
		}
	}
	return batch.Incidents, nil
}

// BundleWorkflows lists the workflows of the incident's bundle in order.
func (s *Service) BundleWorkflows(ctx context.Context, inc *store.Incident) ([]store.SectorRegulationWorkflow, error) {
	items, err := s.catalog.ListBundleWorkflows(ctx, inc.SectorRegulationID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoWorkflow
	}
	return items, nil
}

// NextWorkflow is the first workflow positioned after the last completed
// one. It stays on the last workflow once everything was reported so the
// final report can still be amended.
func (s *Service) NextWorkflow(ctx context.Context, inc *store.Incident) (*store.SectorRegulationWorkflow, error) {
	items, err := s.BundleWorkflows(ctx, inc)
	if err != nil {
		return nil, err
	}
	latest, err := s.incidents.LatestIncidentWorkflow(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	return nextWorkflow(items, latest), nil
}

func nextWorkflow(items []store.SectorRegulationWorkflow, latest *store.IncidentWorkflow) *store.SectorRegulationWorkflow {
	if latest == nil {
		return &items[0]
	}
	current := -1
	for i, item := range items {
		if item.WorkflowID == latest.WorkflowID {
			current = i
		}
	}
	if current < 0 {
		return &items[0]
	}
	for i := current + 1; i < len(items); i++ {
		if items[i].Position > items[current].Position {
			return &items[i]
		}
	}
	return &items[len(items)-1]
}

func isLastWorkflow(items []store.SectorRegulationWorkflow, workflowID int64) bool {
	return len(items) > 0 && items[len(items)-1].WorkflowID == workflowID
}

type Completion struct {
	Incident   *store.Incident
	WorkflowID int64
	ActorID    int64
	Username   string
	Answers    map[int64]AnswerValue
	// Impacts is only applied when the workflow asks for impacts.
	Impacts       []int64
	DetectionDate *time.Time
	StartingDate  *time.Time
	Comment       string
}

// CompleteWorkflow appends a new IncidentWorkflow with its answers and then
// sends the workflow submission email. Completing the last workflow of the
// bundle sends the final notification, or the additional one when the final
// notification already went out.
func (s *Service) CompleteWorkflow(ctx context.Context, c Completion) (*store.WorkflowResult, error) {
	inc := c.Incident
	items, err := s.BundleWorkflows(ctx, inc)
	if err != nil {
		return nil, err
	}
	var wf *store.Workflow
	for _, item := range items {
		if item.WorkflowID == c.WorkflowID {
			w := item.Workflow
			wf = &w
			break
		}
	}
	if wf == nil {
		return nil, fmt.Errorf("workflow %d: %w", c.WorkflowID, store.ErrNotFound)
	}
	bundle, err := s.catalog.GetSectorRegulation(ctx, inc.SectorRegulationID)
	if err != nil {
		return nil, err
	}
	detection := c.DetectionDate
	if DetectionDateLocked(bundle, inc) {
		detection = inc.DetectionDate
	}
	rec := &store.WorkflowRecord{
		IncidentID:    inc.ID,
		WorkflowID:    wf.ID,
		Comment:       c.Comment,
		Answers:       AnswerRecords(c.Answers),
		UpdateDates:   true,
		DetectionDate: detection,
		StartingDate:  c.StartingDate,
		MarkFinal:     isLastWorkflow(items, wf.ID),
		At:            s.now(),
	}
	if c.ActorID > 0 {
		actor := c.ActorID
		rec.CreatedBy = &actor
	}
	if wf.IsImpactNeeded {
		allowed, err := s.allowedImpacts(ctx, inc)
		if err != nil {
			return nil, err
		}
		for _, id := range c.Impacts {
			if !allowed[id] {
				return nil, ErrInvalidImpact
			}
		}
		rec.SetImpacts = true
		rec.ImpactIDs = c.Impacts
	}
	res, err := s.incidents.RecordWorkflow(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record workflow: %w", err)
	}
	s.logger.Printf("INCIDENT %s workflow %q completed (iw %d)", inc.IncidentID, wf.Name, res.IncidentWorkflowID)
	s.audit(ctx, c.Username, "incident.workflow", fmt.Sprintf("%s:%s", inc.IncidentID, wf.Name))
	if s.notifier == nil {
		return res, nil
	}
	fresh, err := s.incidents.GetIncident(ctx, inc.ID)
	if err != nil || fresh == nil {
		s.logger.Errorf("INCIDENT reload %d for notification: %v", inc.ID, err)
		fresh = inc
	}
	if wf.SubmissionEmailID != nil {
		s.notifier.SendEmail(ctx, *wf.SubmissionEmailID, fresh)
	}
	if rec.MarkFinal {
		if res.FirstFinal {
			s.notifier.Notify(ctx, store.EmailFinal, fresh)
		} else {
			s.notifier.Notify(ctx, store.EmailAdditional, fresh)
		}
	}
	return res, nil
}

// SaveAnswers stores one new IncidentWorkflow holding the given answers and
// nothing else.
func (s *Service) SaveAnswers(ctx context.Context, incidentID, workflowID int64, answers map[int64]AnswerValue) (int64, error) {
	res, err := s.incidents.RecordWorkflow(ctx, &store.WorkflowRecord{
		IncidentID: incidentID,
		WorkflowID: workflowID,
		Answers:    AnswerRecords(answers),
		At:         s.now(),
	})
	if err != nil {
		return 0, err
	}
	return res.IncidentWorkflowID, nil
}

// DetectionDateLocked is true when the bundle asked for the detection date at
// notification time and it is known already.
func DetectionDateLocked(bundle *store.SectorRegulation, inc *store.Incident) bool {
	return bundle != nil && bundle.IsDetectionDateNeeded && inc != nil && inc.DetectionDate != nil
}

// ImpactGroup lists the impacts offered for one affected sector.
type ImpactGroup struct {
	Sector  store.Sector   `json:"sector"`
	Impacts []store.Impact `json:"impacts"`
}

// ImpactChoices groups the impacts of the incident's regulation per affected
// sector.
func (s *Service) ImpactChoices(ctx context.Context, inc *store.Incident) ([]ImpactGroup, error) {
	bundle, err := s.catalog.GetSectorRegulation(ctx, inc.SectorRegulationID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, store.ErrNotFound
	}
	impacts, err := s.catalog.ListImpacts(ctx, bundle.RegulationID, inc.AffectedSectorIDs)
	if err != nil {
		return nil, err
	}
	sectors, err := s.catalog.ListSectors(ctx)
	if err != nil {
		return nil, err
	}
	var res []ImpactGroup
	for _, sec := range sectors {
		if !containsID(inc.AffectedSectorIDs, sec.ID) {
			continue
		}
		g := ImpactGroup{Sector: sec}
		for _, imp := range impacts {
			if containsID(imp.SectorIDs, sec.ID) {
				g.Impacts = append(g.Impacts, imp)
			}
		}
		res = append(res, g)
	}
	return res, nil
}

func (s *Service) allowedImpacts(ctx context.Context, inc *store.Incident) (map[int64]bool, error) {
	groups, err := s.ImpactChoices(ctx, inc)
	if err != nil {
		return nil, err
	}
	allowed := map[int64]bool{}
	for _, g := range groups {
		for _, imp := range g.Impacts {
			allowed[imp.ID] = true
		}
	}
	return allowed, nil
}

// UpdateImpacts replaces the impacts of an incident. The incident counts as
// significative as soon as one impact is set.
func (s *Service) UpdateImpacts(ctx context.Context, inc *store.Incident, impactIDs []int64, username string) error {
	allowed, err := s.allowedImpacts(ctx, inc)
	if err != nil {
		return err
	}
	for _, id := range impactIDs {
		if !allowed[id] {
			return ErrInvalidImpact
		}
	}
	if err := s.incidents.SetIncidentImpacts(ctx, inc.ID, impactIDs); err != nil {
		return err
	}
	s.audit(ctx, username, "incident.impacts", inc.IncidentID)
	return nil
}

// RegulatorUpdate stores the review fields regulators may change. The
// incident identifier stays as generated.
func (s *Service) RegulatorUpdate(ctx context.Context, inc *store.Incident, upd store.RegulatorUpdate, username string) error {
	if !containsString(store.ReviewStatuses, upd.ReviewStatus) || !containsString(store.IncidentStatuses, upd.IncidentStatus) {
		return ErrInvalidStatus
	}
	if err := s.incidents.UpdateRegulatorFields(ctx, inc.ID, upd); err != nil {
		return err
	}
	s.audit(ctx, username, "incident.review", fmt.Sprintf("%s:%s:%s", inc.IncidentID, upd.ReviewStatus, upd.IncidentStatus))
	if s.notifier == nil || inc.IncidentStatus == store.IncidentStatusClosed || upd.IncidentStatus != store.IncidentStatusClosed {
		return nil
	}
	bundle, err := s.catalog.GetSectorRegulation(ctx, inc.SectorRegulationID)
	if err != nil {
		s.logger.Errorf("INCIDENT closing email lookup for %s: %v", inc.IncidentID, err)
		return nil
	}
	if bundle != nil && bundle.ClosingEmailID != nil {
		closed := *inc
		closed.IncidentStatus = upd.IncidentStatus
		closed.ReviewStatus = upd.ReviewStatus
		s.notifier.SendEmail(ctx, *bundle.ClosingEmailID, &closed)
	}
	return nil
}

func (s *Service) audit(ctx context.Context, username, action, details string) {
	if s.audits == nil {
		return
	}
	if err := s.audits.Log(ctx, username, action, details); err != nil {
		s.logger.Errorf("AUDIT %s: %v", action, err)
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
