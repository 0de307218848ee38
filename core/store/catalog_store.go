package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
)

type CatalogStore interface {
	ListRegulators(ctx context.Context) ([]Regulator, error)
	ListRegulations(ctx context.Context) ([]Regulation, error)
	ListSectors(ctx context.Context) ([]Sector, error)
	ListServices(ctx context.Context) ([]Service, error)
	GetCompany(ctx context.Context, id int64) (*Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)

	ListSectorRegulations(ctx context.Context) ([]SectorRegulation, error)
	GetSectorRegulation(ctx context.Context, id int64) (*SectorRegulation, error)
	ListBundleWorkflows(ctx context.Context, sectorRegulationID int64) ([]SectorRegulationWorkflow, error)
	UpdateBundleWorkflowPositions(ctx context.Context, sectorRegulationID int64, positions map[int64]int) error

	GetWorkflow(ctx context.Context, id int64) (*Workflow, error)
	ListWorkflowQuestions(ctx context.Context, workflowID int64) ([]Question, error)
	GetEmail(ctx context.Context, id int64) (*Email, error)
	FirstEmailByType(ctx context.Context, emailType string) (*Email, error)
	ListImpacts(ctx context.Context, regulationID int64, sectorIDs []int64) ([]Impact, error)
	ListReminders(ctx context.Context) ([]WorkflowReminder, error)

	CreateRegulator(ctx context.Context, r *Regulator) (int64, error)
	CreateRegulation(ctx context.Context, r *Regulation) (int64, error)
	CreateSector(ctx context.Context, s *Sector) (int64, error)
	CreateService(ctx context.Context, s *Service) (int64, error)
	CreateCompany(ctx context.Context, c *Company) (int64, error)
	CreateEmail(ctx context.Context, e *Email) (int64, error)
	CreateImpact(ctx context.Context, i *Impact) (int64, error)
	CreateQuestionCategory(ctx context.Context, c *QuestionCategory) (int64, error)
	CreateQuestion(ctx context.Context, q *Question) (int64, error)
	CreateWorkflow(ctx context.Context, w *Workflow, questionIDs []int64) (int64, error)
	CreateSectorRegulation(ctx context.Context, sr *SectorRegulation) (int64, error)
	AddBundleWorkflow(ctx context.Context, item *SectorRegulationWorkflow) (int64, error)
	CreateReminder(ctx context.Context, r *WorkflowReminder) (int64, error)
}

type catalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) CatalogStore {
	return &catalogStore{db: db}
}

func (s *catalogStore) ListRegulators(ctx context.Context) ([]Regulator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, full_name, email_for_notification FROM regulators ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Regulator
	for rows.Next() {
		var r Regulator
		if err := rows.Scan(&r.ID, &r.Name, &r.FullName, &r.EmailForNotification); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *catalogStore) ListRegulations(ctx context.Context) ([]Regulation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label FROM regulations ORDER BY label, id`)
	if err != nil {
		return nil, err
	}
	var res []Regulation
	index := map[int64]int{}
	for rows.Next() {
		var r Regulation
		if err := rows.Scan(&r.ID, &r.Label); err != nil {
			rows.Close()
			return nil, err
		}
		index[r.ID] = len(res)
		res = append(res, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	links, err := s.db.QueryContext(ctx, `SELECT regulation_id, regulator_id FROM regulation_regulators ORDER BY regulator_id`)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var regulationID, regulatorID int64
		if err := links.Scan(&regulationID, &regulatorID); err != nil {
			return nil, err
		}
		if i, ok := index[regulationID]; ok {
			res[i].RegulatorIDs = append(res[i].RegulatorIDs, regulatorID)
		}
	}
	return res, links.Err()
}

const sectorColumns = `s.id, s.name, s.acronym, s.parent_id, COALESCE(p.name, ''), COALESCE(p.acronym, '')`

func scanSector(rows *sql.Rows) (Sector, error) {
	var sec Sector
	var parent sql.NullInt64
	if err := rows.Scan(&sec.ID, &sec.Name, &sec.Acronym, &parent, &sec.ParentName, &sec.ParentAcronym); err != nil {
		return sec, err
	}
	sec.ParentID = ptrFromNullInt(parent)
	return sec, nil
}

func (s *catalogStore) ListSectors(ctx context.Context) ([]Sector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectorColumns+`
		FROM sectors s LEFT JOIN sectors p ON p.id=s.parent_id
		ORDER BY COALESCE(p.name, s.name), s.parent_id IS NOT NULL, s.name, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Sector
	for rows.Next() {
		sec, err := scanSector(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sec)
	}
	return res, rows.Err()
}

func (s *catalogStore) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, acronym, sector_id FROM services ORDER BY sector_id, name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Service
	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Acronym, &svc.SectorID); err != nil {
			return nil, err
		}
		res = append(res, svc)
	}
	return res, rows.Err()
}

func (s *catalogStore) GetCompany(ctx context.Context, id int64) (*Company, error) {
	var c Company
	err := s.db.QueryRowContext(ctx, `SELECT id, identifier, name FROM companies WHERE id=$1`, id).Scan(&c.ID, &c.Identifier, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *catalogStore) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, identifier, name FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Identifier, &c.Name); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

const bundleColumns = `sr.id, sr.name, sr.regulation_id, COALESCE(rg.label, ''), sr.regulator_id, COALESCE(rt.name, ''), sr.is_detection_date_needed, sr.opening_email_id, sr.closing_email_id`

func scanBundle(scan func(dest ...any) error) (SectorRegulation, error) {
	var sr SectorRegulation
	var opening, closing sql.NullInt64
	if err := scan(&sr.ID, &sr.Name, &sr.RegulationID, &sr.RegulationLabel, &sr.RegulatorID, &sr.RegulatorName, &sr.IsDetectionDateNeeded, &opening, &closing); err != nil {
		return sr, err
	}
	sr.OpeningEmailID = ptrFromNullInt(opening)
	sr.ClosingEmailID = ptrFromNullInt(closing)
	return sr, nil
}

func (s *catalogStore) ListSectorRegulations(ctx context.Context) ([]SectorRegulation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bundleColumns+`
		FROM sector_regulations sr
		LEFT JOIN regulations rg ON rg.id=sr.regulation_id
		LEFT JOIN regulators rt ON rt.id=sr.regulator_id
		ORDER BY sr.id`)
	if err != nil {
		return nil, err
	}
	var res []SectorRegulation
	index := map[int64]int{}
	for rows.Next() {
		sr, err := scanBundle(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[sr.ID] = len(res)
		res = append(res, sr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	links, err := s.db.QueryContext(ctx, `
		SELECT srs.sector_regulation_id, `+sectorColumns+`
		FROM sector_regulation_sectors srs
		JOIN sectors s ON s.id=srs.sector_id
		LEFT JOIN sectors p ON p.id=s.parent_id
		ORDER BY srs.sector_regulation_id, s.id`)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var bundleID int64
		var sec Sector
		var parent sql.NullInt64
		if err := links.Scan(&bundleID, &sec.ID, &sec.Name, &sec.Acronym, &parent, &sec.ParentName, &sec.ParentAcronym); err != nil {
			return nil, err
		}
		sec.ParentID = ptrFromNullInt(parent)
		if i, ok := index[bundleID]; ok {
			res[i].Sectors = append(res[i].Sectors, sec)
		}
	}
	return res, links.Err()
}

func (s *catalogStore) GetSectorRegulation(ctx context.Context, id int64) (*SectorRegulation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bundleColumns+`
		FROM sector_regulations sr
		LEFT JOIN regulations rg ON rg.id=sr.regulation_id
		LEFT JOIN regulators rt ON rt.id=sr.regulator_id
		WHERE sr.id=$1`, id)
	sr, err := scanBundle(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sectorColumns+`
		FROM sector_regulation_sectors srs
		JOIN sectors s ON s.id=srs.sector_id
		LEFT JOIN sectors p ON p.id=s.parent_id
		WHERE srs.sector_regulation_id=$1
		ORDER BY s.id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		sec, err := scanSector(rows)
		if err != nil {
			return nil, err
		}
		sr.Sectors = append(sr.Sectors, sec)
	}
	return &sr, rows.Err()
}

func (s *catalogStore) ListBundleWorkflows(ctx context.Context, sectorRegulationID int64) ([]SectorRegulationWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT srw.id, srw.sector_regulation_id, srw.workflow_id, srw.position, w.name, w.is_impact_needed, w.submission_email_id
		FROM sector_regulation_workflows srw
		JOIN workflows w ON w.id=srw.workflow_id
		WHERE srw.sector_regulation_id=$1
		ORDER BY srw.position, srw.id`, sectorRegulationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SectorRegulationWorkflow
	for rows.Next() {
		var item SectorRegulationWorkflow
		var submission sql.NullInt64
		if err := rows.Scan(&item.ID, &item.SectorRegulationID, &item.WorkflowID, &item.Position, &item.Workflow.Name, &item.Workflow.IsImpactNeeded, &submission); err != nil {
			return nil, err
		}
		item.Workflow.ID = item.WorkflowID
		item.Workflow.SubmissionEmailID = ptrFromNullInt(submission)
		res = append(res, item)
	}
	return res, rows.Err()
}

// UpdateBundleWorkflowPositions stores new positions keyed by
// sector_regulation_workflows.id. Duplicate positions are accepted.
func (s *catalogStore) UpdateBundleWorkflowPositions(ctx context.Context, sectorRegulationID int64, positions map[int64]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `UPDATE sector_regulation_workflows SET position=$1 WHERE id=$2 AND sector_regulation_id=$3`, positions[id], id, sectorRegulationID)
		if err != nil {
			tx.Rollback()
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			tx.Rollback()
			return ErrNotFound
		}
	}
	return tx.Commit()
}

func (s *catalogStore) GetWorkflow(ctx context.Context, id int64) (*Workflow, error) {
	var w Workflow
	var submission sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT id, name, is_impact_needed, submission_email_id FROM workflows WHERE id=$1`, id).
		Scan(&w.ID, &w.Name, &w.IsImpactNeeded, &submission)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.SubmissionEmailID = ptrFromNullInt(submission)
	return &w, nil
}

// ListWorkflowQuestions returns the questions of a workflow ordered by
// category position, then question position.
func (s *catalogStore) ListWorkflowQuestions(ctx context.Context, workflowID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.label, q.tooltip, q.question_type, q.is_mandatory, q.position, q.category_id, c.label, c.position
		FROM workflow_questions wq
		JOIN questions q ON q.id=wq.question_id
		JOIN question_categories c ON c.id=q.category_id
		WHERE wq.workflow_id=$1
		ORDER BY c.position, c.id, q.position, q.id`, workflowID)
	if err != nil {
		return nil, err
	}
	var res []Question
	index := map[int64]int{}
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Label, &q.Tooltip, &q.QuestionType, &q.IsMandatory, &q.Position, &q.CategoryID, &q.Category.Label, &q.Category.Position); err != nil {
			rows.Close()
			return nil, err
		}
		q.QuestionType = strings.ToUpper(strings.TrimSpace(q.QuestionType))
		q.Category.ID = q.CategoryID
		index[q.ID] = len(res)
		res = append(res, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	args := &queryArgs{}
	ids := make([]int64, 0, len(res))
	for _, q := range res {
		ids = append(ids, q.ID)
	}
	choices, err := s.db.QueryContext(ctx, `
		SELECT id, question_id, label, position FROM predefined_answers
		WHERE question_id IN `+args.in(ids)+`
		ORDER BY question_id, position, id`, args.values...)
	if err != nil {
		return nil, err
	}
	defer choices.Close()
	for choices.Next() {
		var pa PredefinedAnswer
		if err := choices.Scan(&pa.ID, &pa.QuestionID, &pa.Label, &pa.Position); err != nil {
			return nil, err
		}
		if i, ok := index[pa.QuestionID]; ok {
			res[i].Predefined = append(res[i].Predefined, pa)
		}
	}
	return res, choices.Err()
}

func (s *catalogStore) GetEmail(ctx context.Context, id int64) (*Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, subject, content, email_type FROM emails WHERE id=$1`, id)
	return scanEmail(row)
}

func (s *catalogStore) FirstEmailByType(ctx context.Context, emailType string) (*Email, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, subject, content, email_type FROM emails WHERE email_type=$1 ORDER BY id LIMIT 1`, emailType)
	return scanEmail(row)
}

func scanEmail(row *sql.Row) (*Email, error) {
	var e Email
	err := row.Scan(&e.ID, &e.Name, &e.Subject, &e.Content, &e.EmailType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListImpacts returns the impacts of a regulation linked to any of the given
// sectors.
func (s *catalogStore) ListImpacts(ctx context.Context, regulationID int64, sectorIDs []int64) ([]Impact, error) {
	sectorIDs = uniqueIDs(sectorIDs)
	if len(sectorIDs) == 0 {
		return nil, nil
	}
	args := &queryArgs{}
	query := `
		SELECT i.id, i.label, i.regulation_id, isec.sector_id
		FROM impacts i
		JOIN impact_sectors isec ON isec.impact_id=i.id
		WHERE i.regulation_id=` + args.add(regulationID) + ` AND isec.sector_id IN ` + args.in(sectorIDs) + `
		ORDER BY i.label, i.id, isec.sector_id`
	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Impact
	index := map[int64]int{}
	for rows.Next() {
		var imp Impact
		var sectorID int64
		if err := rows.Scan(&imp.ID, &imp.Label, &imp.RegulationID, &sectorID); err != nil {
			return nil, err
		}
		if i, ok := index[imp.ID]; ok {
			res[i].SectorIDs = append(res[i].SectorIDs, sectorID)
			continue
		}
		imp.SectorIDs = []int64{sectorID}
		index[imp.ID] = len(res)
		res = append(res, imp)
	}
	return res, rows.Err()
}

func (s *catalogStore) ListReminders(ctx context.Context) ([]WorkflowReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.sector_regulation_workflow_id, srw.sector_regulation_id, srw.workflow_id, srw.position, e.headline, e.email_id, e.trigger_event, e.delay_in_hours
		FROM sector_regulation_workflow_emails e
		JOIN sector_regulation_workflows srw ON srw.id=e.sector_regulation_workflow_id
		ORDER BY srw.sector_regulation_id, srw.position, e.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []WorkflowReminder
	for rows.Next() {
		var r WorkflowReminder
		if err := rows.Scan(&r.ID, &r.SectorRegulationWorkflowID, &r.SectorRegulationID, &r.WorkflowID, &r.WorkflowPosition, &r.Headline, &r.EmailID, &r.TriggerEvent, &r.DelayInHours); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (s *catalogStore) CreateRegulator(ctx context.Context, r *Regulator) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO regulators(name, full_name, email_for_notification) VALUES($1,$2,$3)`,
		strings.TrimSpace(r.Name), r.FullName, r.EmailForNotification)
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

func (s *catalogStore) CreateRegulation(ctx context.Context, r *Regulation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertReturningID(ctx, tx, `INSERT INTO regulations(label) VALUES($1)`, strings.TrimSpace(r.Label))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := replaceLinks(ctx, tx, "regulation_regulators", "regulation_id", "regulator_id", id, r.RegulatorIDs); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

func (s *catalogStore) CreateSector(ctx context.Context, sec *Sector) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO sectors(name, acronym, parent_id) VALUES($1,$2,$3)`,
		strings.TrimSpace(sec.Name), strings.TrimSpace(sec.Acronym), nullableID(sec.ParentID))
	if err != nil {
		return 0, err
	}
	sec.ID = id
	return id, nil
}

func (s *catalogStore) CreateService(ctx context.Context, svc *Service) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO services(name, acronym, sector_id) VALUES($1,$2,$3)`,
		strings.TrimSpace(svc.Name), strings.TrimSpace(svc.Acronym), svc.SectorID)
	if err != nil {
		return 0, err
	}
	svc.ID = id
	return id, nil
}

func (s *catalogStore) CreateCompany(ctx context.Context, c *Company) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO companies(identifier, name) VALUES($1,$2)`,
		strings.TrimSpace(c.Identifier), strings.TrimSpace(c.Name))
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (s *catalogStore) CreateEmail(ctx context.Context, e *Email) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO emails(name, subject, content, email_type) VALUES($1,$2,$3,$4)`,
		e.Name, e.Subject, e.Content, strings.ToUpper(strings.TrimSpace(e.EmailType)))
	if err != nil {
		return 0, err
	}
	e.ID = id
	return id, nil
}

func (s *catalogStore) CreateImpact(ctx context.Context, imp *Impact) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertReturningID(ctx, tx, `INSERT INTO impacts(label, regulation_id) VALUES($1,$2)`, imp.Label, imp.RegulationID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := replaceLinks(ctx, tx, "impact_sectors", "impact_id", "sector_id", id, imp.SectorIDs); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	imp.ID = id
	return id, nil
}

func (s *catalogStore) CreateQuestionCategory(ctx context.Context, c *QuestionCategory) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO question_categories(label, position) VALUES($1,$2)`, c.Label, c.Position)
	if err != nil {
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (s *catalogStore) CreateQuestion(ctx context.Context, q *Question) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertReturningID(ctx, tx, `
		INSERT INTO questions(label, tooltip, question_type, is_mandatory, position, category_id)
		VALUES($1,$2,$3,$4,$5,$6)`,
		q.Label, q.Tooltip, strings.ToUpper(strings.TrimSpace(q.QuestionType)), q.IsMandatory, q.Position, q.CategoryID)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	for i := range q.Predefined {
		pa := &q.Predefined[i]
		paID, err := insertReturningID(ctx, tx, `INSERT INTO predefined_answers(question_id, label, position) VALUES($1,$2,$3)`, id, pa.Label, pa.Position)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		pa.ID = paID
		pa.QuestionID = id
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	q.ID = id
	return id, nil
}

func (s *catalogStore) CreateWorkflow(ctx context.Context, w *Workflow, questionIDs []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertReturningID(ctx, tx, `INSERT INTO workflows(name, is_impact_needed, submission_email_id) VALUES($1,$2,$3)`,
		w.Name, w.IsImpactNeeded, nullableID(w.SubmissionEmailID))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := replaceLinks(ctx, tx, "workflow_questions", "workflow_id", "question_id", id, questionIDs); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	w.ID = id
	return id, nil
}

func (s *catalogStore) CreateSectorRegulation(ctx context.Context, sr *SectorRegulation) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	id, err := insertReturningID(ctx, tx, `
		INSERT INTO sector_regulations(name, regulation_id, regulator_id, is_detection_date_needed, opening_email_id, closing_email_id)
		VALUES($1,$2,$3,$4,$5,$6)`,
		sr.Name, sr.RegulationID, sr.RegulatorID, sr.IsDetectionDateNeeded, nullableID(sr.OpeningEmailID), nullableID(sr.ClosingEmailID))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := replaceLinks(ctx, tx, "sector_regulation_sectors", "sector_regulation_id", "sector_id", id, sr.SectorIDs()); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	sr.ID = id
	return id, nil
}

func (s *catalogStore) AddBundleWorkflow(ctx context.Context, item *SectorRegulationWorkflow) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `INSERT INTO sector_regulation_workflows(sector_regulation_id, workflow_id, position) VALUES($1,$2,$3)`,
		item.SectorRegulationID, item.WorkflowID, item.Position)
	if err != nil {
		return 0, err
	}
	item.ID = id
	return id, nil
}

func (s *catalogStore) CreateReminder(ctx context.Context, r *WorkflowReminder) (int64, error) {
	id, err := insertReturningID(ctx, s.db, `
		INSERT INTO sector_regulation_workflow_emails(sector_regulation_workflow_id, headline, email_id, trigger_event, delay_in_hours)
		VALUES($1,$2,$3,$4,$5)`,
		r.SectorRegulationWorkflowID, r.Headline, r.EmailID, strings.ToUpper(strings.TrimSpace(r.TriggerEvent)), r.DelayInHours)
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}
