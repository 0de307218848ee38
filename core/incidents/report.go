package incidents

import (
	"context"
	"strconv"
	"strings"

	"serima/core/store"
)

type ReportAnswer struct {
	Question string
	Category string
	Type     string
	Values   []string
	Annex    string
}

type ReportWorkflow struct {
	Run     store.IncidentWorkflow
	Answers []ReportAnswer
	Impacts []string
}

// Report is everything the PDF export shows about an incident.
type Report struct {
	Incident  *store.Incident
	Bundle    *store.SectorRegulation
	Sectors   []string
	Impacts   []string
	Workflows []ReportWorkflow
}

// BuildReport gathers the incident with the answers of every completed
// workflow, oldest first.
func (s *Service) BuildReport(ctx context.Context, inc *store.Incident) (*Report, error) {
	bundle, err := s.catalog.GetSectorRegulation(ctx, inc.SectorRegulationID)
	if err != nil {
		return nil, err
	}
	rep := &Report{Incident: inc, Bundle: bundle}
	sectors, err := s.catalog.ListSectors(ctx)
	if err != nil {
		return nil, err
	}
	for _, sec := range sectors {
		if containsID(inc.AffectedSectorIDs, sec.ID) {
			rep.Sectors = append(rep.Sectors, sec.Name)
		}
	}
	impactLabels := map[int64]string{}
	if bundle != nil {
		impacts, err := s.catalog.ListImpacts(ctx, bundle.RegulationID, inc.AffectedSectorIDs)
		if err != nil {
			return nil, err
		}
		for _, imp := range impacts {
			impactLabels[imp.ID] = imp.Label
		}
	}
	for _, id := range inc.ImpactIDs {
		if label, ok := impactLabels[id]; ok {
			rep.Impacts = append(rep.Impacts, label)
		}
	}
	runs, err := s.incidents.ListIncidentWorkflows(ctx, inc.ID)
	if err != nil {
		return nil, err
	}
	questions := map[int64][]store.Question{}
	for _, run := range runs {
		qs, ok := questions[run.WorkflowID]
		if !ok {
			if qs, err = s.catalog.ListWorkflowQuestions(ctx, run.WorkflowID); err != nil {
				return nil, err
			}
			questions[run.WorkflowID] = qs
		}
		answers, err := s.incidents.ListAnswers(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		full, err := s.incidents.GetIncidentWorkflow(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		rw := ReportWorkflow{Run: run}
		if full != nil {
			for _, id := range full.ImpactIDs {
				if label, ok := impactLabels[id]; ok {
					rw.Impacts = append(rw.Impacts, label)
				}
			}
		}
		byQuestion := map[int64]*store.Answer{}
		for i := range answers {
			byQuestion[answers[i].QuestionID] = &answers[i]
		}
		for _, q := range qs {
			a := byQuestion[q.ID]
			if a == nil {
				continue
			}
			rw.Answers = append(rw.Answers, reportAnswer(q, a))
		}
		rep.Workflows = append(rep.Workflows, rw)
	}
	return rep, nil
}

func reportAnswer(q store.Question, a *store.Answer) ReportAnswer {
	ra := ReportAnswer{Question: q.Label, Category: q.Category.Label, Type: q.QuestionType}
	values, annex := InitialValues(q, a)
	switch q.QuestionType {
	case store.QuestionFreeText, store.QuestionDate, store.QuestionCountries, store.QuestionRegions:
		ra.Values = values
		return ra
	}
	labels := map[string]string{}
	for _, pa := range q.Predefined {
		labels[formatID(pa.ID)] = pa.Label
	}
	for _, v := range values {
		if label, ok := labels[v]; ok {
			ra.Values = append(ra.Values, label)
		}
	}
	ra.Annex = strings.TrimSpace(annex)
	return ra
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
