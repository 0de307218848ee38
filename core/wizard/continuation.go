package wizard

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"serima/core/incidents"
	"serima/core/store"
)

const ContinuationKind = "continuation"

// ContinuationKey scopes the wizard state of one incident. Editing an
// existing incident workflow gets its own key.
func ContinuationKey(incidentID, incidentWorkflowID int64) string {
	if incidentWorkflowID > 0 {
		return fmt.Sprintf("incident:%d:iw:%d", incidentID, incidentWorkflowID)
	}
	return fmt.Sprintf("incident:%d", incidentID)
}

type ContinuationCatalog interface {
	GetSectorRegulation(ctx context.Context, id int64) (*store.SectorRegulation, error)
	ListWorkflowQuestions(ctx context.Context, workflowID int64) ([]store.Question, error)
}

type ContinuationHistory interface {
	GetIncidentWorkflow(ctx context.Context, id int64) (*store.IncidentWorkflow, error)
	LatestIncidentWorkflow(ctx context.Context, incidentID int64) (*store.IncidentWorkflow, error)
	ListAnswers(ctx context.Context, incidentWorkflowID int64) ([]store.Answer, error)
}

// Target selects the workflow to fill. With IncidentWorkflowID set, that
// run's workflow is filled again starting from its answers. Otherwise the
// next pending workflow is used with the answers of the latest run.
type Target struct {
	Incident           *store.Incident
	IncidentWorkflowID int64
}

type DatesPayload struct {
	DetectionDate *time.Time `json:"detection_date,omitempty"`
	StartingDate  *time.Time `json:"starting_date,omitempty"`
}

// StoredAnswer keeps a typed answer in JSON form between steps.
type StoredAnswer struct {
	QuestionID    int64      `json:"question_id"`
	Type          string     `json:"type"`
	Text          string     `json:"text,omitempty"`
	At            *time.Time `json:"at,omitempty"`
	Values        []string   `json:"values,omitempty"`
	PredefinedIDs []int64    `json:"predefined_ids,omitempty"`
	Annex         string     `json:"annex,omitempty"`
}

type AnswersPayload struct {
	Answers []StoredAnswer `json:"answers"`
}

type ImpactsPayload struct {
	ImpactIDs []int64 `json:"impact_ids"`
}

type CommentPayload struct {
	Comment string `json:"comment"`
}

func storeAnswer(questionID int64, v incidents.AnswerValue) StoredAnswer {
	out := StoredAnswer{QuestionID: questionID}
	switch a := v.(type) {
	case incidents.FreeText:
		out.Type, out.Text = store.QuestionFreeText, a.Text
	case incidents.DateAnswer:
		out.Type, out.At = store.QuestionDate, a.At
	case incidents.ChoiceList:
		out.Type, out.Values = a.Kind, a.Values
	case incidents.MultiChoice:
		out.Type, out.PredefinedIDs, out.Annex = store.QuestionMulti, a.PredefinedIDs, a.Annex
	}
	return out
}

func (s StoredAnswer) value() incidents.AnswerValue {
	switch s.Type {
	case store.QuestionFreeText:
		return incidents.FreeText{Text: s.Text}
	case store.QuestionDate:
		return incidents.DateAnswer{At: s.At}
	case store.QuestionCountries, store.QuestionRegions:
		return incidents.ChoiceList{Kind: s.Type, Values: s.Values}
	}
	return incidents.MultiChoice{PredefinedIDs: s.PredefinedIDs, Annex: s.Annex}
}

// formValues is the inverse of validation, used to refill a step.
func (s StoredAnswer) formValues() (values []string, annex string) {
	switch s.Type {
	case store.QuestionFreeText:
		return one(s.Text), ""
	case store.QuestionDate:
		return formatDate(s.At), ""
	case store.QuestionCountries, store.QuestionRegions:
		return s.Values, ""
	}
	return idStrings(s.PredefinedIDs), s.Annex
}

type categoryQuestions struct {
	Category  store.QuestionCategory
	Questions []store.Question
}

type continuation struct {
	service   *incidents.Service
	actor     Actor
	incident  *store.Incident
	bundle    *store.SectorRegulation
	workflow  store.SectorRegulationWorkflow
	source    map[int64]*store.Answer
	sourceIW  *store.IncidentWorkflow
	groups    []categoryQuestions
	impactsAt int
	commentAt int
}

// Continuation builds the wizard completing one workflow of an incident.
// Finishing it returns the *store.WorkflowResult of the new run.
func Continuation(ctx context.Context, catalog ContinuationCatalog, history ContinuationHistory, service *incidents.Service, actor Actor, target Target) (*Definition, error) {
	inc := target.Incident
	if inc == nil {
		return nil, store.ErrNotFound
	}
	c := &continuation{service: service, actor: actor, incident: inc, impactsAt: -1, commentAt: -1}
	var err error
	if c.bundle, err = catalog.GetSectorRegulation(ctx, inc.SectorRegulationID); err != nil {
		return nil, err
	}
	if c.bundle == nil {
		return nil, store.ErrNotFound
	}
	items, err := service.BundleWorkflows(ctx, inc)
	if err != nil {
		return nil, err
	}
	if target.IncidentWorkflowID > 0 {
		iw, err := history.GetIncidentWorkflow(ctx, target.IncidentWorkflowID)
		if err != nil {
			return nil, err
		}
		if iw == nil || iw.IncidentID != inc.ID {
			return nil, store.ErrNotFound
		}
		c.sourceIW = iw
		found := false
		for _, item := range items {
			if item.WorkflowID == iw.WorkflowID {
				c.workflow, found = item, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("workflow %d: %w", iw.WorkflowID, store.ErrNotFound)
		}
	} else {
		next, err := service.NextWorkflow(ctx, inc)
		if err != nil {
			return nil, err
		}
		c.workflow = *next
		if c.sourceIW, err = history.LatestIncidentWorkflow(ctx, inc.ID); err != nil {
			return nil, err
		}
	}
	c.source = map[int64]*store.Answer{}
	if c.sourceIW != nil {
		answers, err := history.ListAnswers(ctx, c.sourceIW.ID)
		if err != nil {
			return nil, err
		}
		for i := range answers {
			c.source[answers[i].QuestionID] = &answers[i]
		}
	}
	questions, err := catalog.ListWorkflowQuestions(ctx, c.workflow.WorkflowID)
	if err != nil {
		return nil, err
	}
	c.groups = groupByCategory(questions)

	def := &Definition{
		Kind:    ContinuationKind,
		Key:     ContinuationKey(inc.ID, target.IncidentWorkflowID),
		Label:   c.workflow.Workflow.Name,
		Version: strconv.FormatInt(c.workflow.WorkflowID, 10),
		Finish:  c.finish,
	}
	def.Steps = append(def.Steps, Step{Name: "dates", Title: "Dates", Form: c.datesForm, Validate: c.datesValidate})
	for i := range c.groups {
		g := c.groups[i]
		step := len(def.Steps)
		def.Steps = append(def.Steps, Step{
			Name:  "category_" + strconv.FormatInt(g.Category.ID, 10),
			Title: g.Category.Label,
			Form: func(ctx context.Context, st *State) ([]Field, error) {
				return c.questionsForm(st, step, g)
			},
			Validate: func(ctx context.Context, st *State, in url.Values) (any, error) {
				return c.questionsValidate(g, in)
			},
		})
	}
	if c.workflow.Workflow.IsImpactNeeded {
		c.impactsAt = len(def.Steps)
		def.Steps = append(def.Steps, Step{Name: "impacts", Title: "Impacts", Form: c.impactsForm, Validate: c.impactsValidate})
	}
	if actor.IsRegulator {
		c.commentAt = len(def.Steps)
		def.Steps = append(def.Steps, Step{Name: "comment", Title: "Comment", Form: c.commentForm, Validate: c.commentValidate})
	}
	return def, nil
}

func groupByCategory(questions []store.Question) []categoryQuestions {
	index := map[int64]int{}
	var groups []categoryQuestions
	for _, q := range questions {
		i, ok := index[q.CategoryID]
		if !ok {
			i = len(groups)
			index[q.CategoryID] = i
			cat := q.Category
			cat.ID = q.CategoryID
			groups = append(groups, categoryQuestions{Category: cat})
		}
		groups[i].Questions = append(groups[i].Questions, q)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Category.Position < groups[j].Category.Position })
	for _, g := range groups {
		sort.SliceStable(g.Questions, func(i, j int) bool { return g.Questions[i].Position < g.Questions[j].Position })
	}
	return groups
}

func (c *continuation) datesForm(ctx context.Context, st *State) ([]Field, error) {
	prev, ok, err := Payload[DatesPayload](st, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		prev = DatesPayload{DetectionDate: c.incident.DetectionDate, StartingDate: c.incident.StartingDate}
	}
	notified := c.incident.NotificationDate
	latest := incidents.EndOfDay(c.service.Now()).Format(incidents.DateLayout)
	return []Field{
		{Name: "incident_notification_date", Label: "Notification date", Type: FieldDateTime, Disabled: true, Initial: formatDate(&notified)},
		{Name: "incident_detection_date", Label: "Detection date", Type: FieldDateTime, MaxDate: latest,
			Disabled: incidents.DetectionDateLocked(c.bundle, c.incident), Initial: formatDate(prev.DetectionDate)},
		{Name: "incident_starting_date", Label: "Starting date", Type: FieldDateTime, MaxDate: latest, Initial: formatDate(prev.StartingDate)},
	}, nil
}

func (c *continuation) datesValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	verr := &ValidationError{}
	now := c.service.Now()
	out := DatesPayload{StartingDate: dateField(in, verr, "incident_starting_date", false, now)}
	if incidents.DetectionDateLocked(c.bundle, c.incident) {
		out.DetectionDate = c.incident.DetectionDate
	} else {
		out.DetectionDate = dateField(in, verr, "incident_detection_date", false, now)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func questionField(q store.Question) string {
	return "q" + strconv.FormatInt(q.ID, 10)
}

func annexField(q store.Question) string {
	return questionField(q) + "_annex"
}

func (c *continuation) questionsForm(st *State, step int, g categoryQuestions) ([]Field, error) {
	prev, ok, err := Payload[AnswersPayload](st, step)
	if err != nil {
		return nil, err
	}
	stored := map[int64]StoredAnswer{}
	if ok {
		for _, a := range prev.Answers {
			stored[a.QuestionID] = a
		}
	}
	var fields []Field
	for _, q := range g.Questions {
		var values []string
		var annex string
		if a, found := stored[q.ID]; found {
			values, annex = a.formValues()
		} else {
			values, annex = incidents.InitialValues(q, c.source[q.ID])
		}
		f := Field{Name: questionField(q), Label: q.Label, Tooltip: q.Tooltip, Required: q.IsMandatory, Initial: values}
		switch q.QuestionType {
		case store.QuestionFreeText:
			f.Type = FieldTextarea
		case store.QuestionDate:
			f.Type = FieldDateTime
			f.MaxDate = incidents.EndOfDay(c.service.Now()).Format(incidents.DateLayout)
		case store.QuestionCountries:
			f.Type = FieldCountries
		case store.QuestionRegions:
			f.Type = FieldRegions
			for _, r := range incidents.RegionalAreas {
				f.Choices = append(f.Choices, Choice{Value: r, Label: r})
			}
		case store.QuestionSingle, store.QuestionSingleText:
			f.Type = FieldSelect
		default:
			f.Type = FieldMultiSelect
		}
		for _, pa := range q.Predefined {
			f.Choices = append(f.Choices, Choice{Value: strconv.FormatInt(pa.ID, 10), Label: pa.Label})
		}
		fields = append(fields, f)
		if q.QuestionType == store.QuestionMultiText || q.QuestionType == store.QuestionSingleText {
			fields = append(fields, Field{Name: annexField(q), Label: "Add precision", Type: FieldTextarea, Initial: one(annex)})
		}
	}
	return fields, nil
}

func (c *continuation) questionsValidate(g categoryQuestions, in url.Values) (any, error) {
	verr := &ValidationError{}
	now := c.service.Now()
	out := AnswersPayload{}
	for _, q := range g.Questions {
		v, msg := incidents.ParseAnswer(q, in[questionField(q)], in.Get(annexField(q)), now)
		if msg != "" {
			verr.Add(questionField(q), msg)
			continue
		}
		out.Answers = append(out.Answers, storeAnswer(q.ID, v))
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *continuation) impactsForm(ctx context.Context, st *State) ([]Field, error) {
	groups, err := c.service.ImpactChoices(ctx, c.incident)
	if err != nil {
		return nil, err
	}
	prev, ok, err := Payload[ImpactsPayload](st, c.impactsAt)
	if err != nil {
		return nil, err
	}
	initial := prev.ImpactIDs
	if !ok {
		initial = c.incident.ImpactIDs
		if c.sourceIW != nil && len(c.sourceIW.ImpactIDs) > 0 {
			initial = c.sourceIW.ImpactIDs
		}
	}
	f := Field{Name: "impacts", Label: "Impacts", Type: FieldMultiSelect, Initial: idStrings(initial)}
	for _, g := range groups {
		impacts := append([]store.Impact(nil), g.Impacts...)
		sort.SliceStable(impacts, func(i, j int) bool { return impacts[i].Label < impacts[j].Label })
		for _, imp := range impacts {
			f.Choices = append(f.Choices, Choice{Value: strconv.FormatInt(imp.ID, 10), Label: imp.Label, Group: g.Sector.Name})
		}
	}
	return []Field{f}, nil
}

func (c *continuation) impactsValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	groups, err := c.service.ImpactChoices(ctx, c.incident)
	if err != nil {
		return nil, err
	}
	allowed := map[int64]bool{}
	for _, g := range groups {
		for _, imp := range g.Impacts {
			allowed[imp.ID] = true
		}
	}
	verr := &ValidationError{}
	ids := idList(in, verr, "impacts", allowed, false)
	if err := verr.Err(); err != nil {
		return nil, err
	}
	return ImpactsPayload{ImpactIDs: ids}, nil
}

func (c *continuation) commentForm(ctx context.Context, st *State) ([]Field, error) {
	prev, ok, err := Payload[CommentPayload](st, c.commentAt)
	if err != nil {
		return nil, err
	}
	if !ok && c.sourceIW != nil {
		prev.Comment = c.sourceIW.Comment
	}
	return []Field{{Name: "comment", Label: "Comment", Type: FieldTextarea, Initial: one(prev.Comment)}}, nil
}

func (c *continuation) commentValidate(ctx context.Context, st *State, in url.Values) (any, error) {
	return CommentPayload{Comment: value(in, "comment")}, nil
}

func (c *continuation) finish(ctx context.Context, st *State) (any, error) {
	dates, _, err := Payload[DatesPayload](st, 0)
	if err != nil {
		return nil, err
	}
	answers := map[int64]incidents.AnswerValue{}
	for i := range c.groups {
		p, _, err := Payload[AnswersPayload](st, i+1)
		if err != nil {
			return nil, err
		}
		for _, a := range p.Answers {
			answers[a.QuestionID] = a.value()
		}
	}
	completion := incidents.Completion{
		Incident:      c.incident,
		WorkflowID:    c.workflow.WorkflowID,
		ActorID:       c.actor.userID(),
		Username:      c.actor.username(),
		Answers:       answers,
		DetectionDate: dates.DetectionDate,
		StartingDate:  dates.StartingDate,
	}
	if c.impactsAt >= 0 {
		p, _, err := Payload[ImpactsPayload](st, c.impactsAt)
		if err != nil {
			return nil, err
		}
		completion.Impacts = p.ImpactIDs
	}
	if c.commentAt >= 0 {
		p, _, err := Payload[CommentPayload](st, c.commentAt)
		if err != nil {
			return nil, err
		}
		completion.Comment = p.Comment
	}
	return c.service.CompleteWorkflow(ctx, completion)
}
