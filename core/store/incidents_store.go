package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type IncidentsStore interface {
	CreatePreliminary(ctx context.Context, batch PreliminaryBatch) error
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, int, error)
	ListOpenIncidents(ctx context.Context) ([]Incident, error)
	CountUserIncidentsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	UpdateRegulatorFields(ctx context.Context, id int64, upd RegulatorUpdate) error
	SetIncidentImpacts(ctx context.Context, id int64, impactIDs []int64) error

	RecordWorkflow(ctx context.Context, rec *WorkflowRecord) (*WorkflowResult, error)
	ListIncidentWorkflows(ctx context.Context, incidentID int64) ([]IncidentWorkflow, error)
	GetIncidentWorkflow(ctx context.Context, id int64) (*IncidentWorkflow, error)
	LatestIncidentWorkflow(ctx context.Context, incidentID int64) (*IncidentWorkflow, error)
	ListAnswers(ctx context.Context, incidentWorkflowID int64) ([]Answer, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

const incidentColumns = `id, incident_id, company_id, company_name, contact_user_id, sector_regulation_id,
	contact_lastname, contact_firstname, contact_title, contact_email, contact_telephone,
	technical_lastname, technical_firstname, technical_title, technical_email, technical_telephone,
	incident_reference, complaint_reference, incident_notification_date, incident_detection_date,
	incident_starting_date, final_notification_date, is_significative_impact, incident_status,
	review_status, created_at, updated_at`

// CreatePreliminary inserts every incident of one submission in a single
// transaction. The per-company sequence is counted without locking.
func (s *incidentsStore) CreatePreliminary(ctx context.Context, batch PreliminaryBatch) error {
	if len(batch.Incidents) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if batch.MaxPerDay > 0 && batch.UserID > 0 {
		var today int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(1) FROM incidents WHERE contact_user_id=$1 AND incident_notification_date>=$2`,
			batch.UserID, batch.DayStart.UTC()).Scan(&today); err != nil {
			tx.Rollback()
			return err
		}
		if today >= batch.MaxPerDay {
			tx.Rollback()
			return ErrLimitReached
		}
	}
	now := time.Now().UTC()
	for _, inc := range batch.Incidents {
		existing, err := countCompanyIncidents(ctx, tx, inc.CompanyID, inc.CompanyName)
		if err != nil {
			tx.Rollback()
			return err
		}
		if batch.Stamp != nil {
			inc.IncidentID = batch.Stamp(inc, existing)
		}
		if strings.TrimSpace(inc.IncidentStatus) == "" {
			inc.IncidentStatus = IncidentStatusGoing
		}
		if strings.TrimSpace(inc.ReviewStatus) == "" {
			inc.ReviewStatus = ReviewUndefined
		}
		if inc.NotificationDate.IsZero() {
			inc.NotificationDate = now
		}
		inc.CreatedAt = now
		inc.UpdatedAt = now
		id, err := insertReturningID(ctx, tx, `
			INSERT INTO incidents(incident_id, company_id, company_name, contact_user_id, sector_regulation_id,
				contact_lastname, contact_firstname, contact_title, contact_email, contact_telephone,
				technical_lastname, technical_firstname, technical_title, technical_email, technical_telephone,
				incident_reference, complaint_reference, incident_notification_date, incident_detection_date,
				incident_starting_date, final_notification_date, is_significative_impact, incident_status,
				review_status, created_at, updated_at)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
			inc.IncidentID, nullableID(inc.CompanyID), inc.CompanyName, nullableID(inc.ContactUserID), inc.SectorRegulationID,
			inc.Contact.Lastname, inc.Contact.Firstname, inc.Contact.Title, inc.Contact.Email, inc.Contact.Telephone,
			inc.Technical.Lastname, inc.Technical.Firstname, inc.Technical.Title, inc.Technical.Email, inc.Technical.Telephone,
			inc.IncidentReference, inc.ComplaintReference, inc.NotificationDate.UTC(), nullableTime(inc.DetectionDate),
			nullableTime(inc.StartingDate), nullableTime(inc.FinalNotificationDate), inc.IsSignificativeImpact, inc.IncidentStatus,
			inc.ReviewStatus, now, now)
		if err != nil {
			tx.Rollback()
			return err
		}
		inc.ID = id
		if err := replaceLinks(ctx, tx, "incident_sectors", "incident_id", "sector_id", id, inc.AffectedSectorIDs); err != nil {
			tx.Rollback()
			return err
		}
		if err := replaceLinks(ctx, tx, "incident_services", "incident_id", "service_id", id, inc.AffectedServiceIDs); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func countCompanyIncidents(ctx context.Context, q execer, companyID *int64, companyName string) (int, error) {
	var n int
	var err error
	if companyID != nil && *companyID > 0 {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE company_id=$1`, *companyID).Scan(&n)
	} else {
		err = q.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE company_id IS NULL AND company_name=$1`, companyName).Scan(&n)
	}
	return n, err
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=$1`, id)
	inc, err := scanIncident(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if inc.AffectedSectorIDs, err = queryIDs(ctx, s.db, `SELECT sector_id FROM incident_sectors WHERE incident_id=$1 ORDER BY sector_id`, id); err != nil {
		return nil, err
	}
	if inc.AffectedServiceIDs, err = queryIDs(ctx, s.db, `SELECT service_id FROM incident_services WHERE incident_id=$1 ORDER BY service_id`, id); err != nil {
		return nil, err
	}
	if inc.ImpactIDs, err = queryIDs(ctx, s.db, `SELECT impact_id FROM incident_impacts WHERE incident_id=$1 ORDER BY impact_id`, id); err != nil {
		return nil, err
	}
	return inc, nil
}

func scanIncident(scan func(dest ...any) error) (*Incident, error) {
	var inc Incident
	var companyID, contactUserID sql.NullInt64
	var detection, starting, final sql.NullTime
	if err := scan(&inc.ID, &inc.IncidentID, &companyID, &inc.CompanyName, &contactUserID, &inc.SectorRegulationID,
		&inc.Contact.Lastname, &inc.Contact.Firstname, &inc.Contact.Title, &inc.Contact.Email, &inc.Contact.Telephone,
		&inc.Technical.Lastname, &inc.Technical.Firstname, &inc.Technical.Title, &inc.Technical.Email, &inc.Technical.Telephone,
		&inc.IncidentReference, &inc.ComplaintReference, &inc.NotificationDate, &detection,
		&starting, &final, &inc.IsSignificativeImpact, &inc.IncidentStatus,
		&inc.ReviewStatus, &inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return nil, err
	}
	inc.CompanyID = ptrFromNullInt(companyID)
	inc.ContactUserID = ptrFromNullInt(contactUserID)
	inc.DetectionDate = ptrFromNullTime(detection)
	inc.StartingDate = ptrFromNullTime(starting)
	inc.FinalNotificationDate = ptrFromNullTime(final)
	inc.NotificationDate = inc.NotificationDate.UTC()
	return &inc, nil
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, int, error) {
	args := &queryArgs{}
	var clauses []string
	if filter.ContactUserID != 0 {
		clauses = append(clauses, "contact_user_id="+args.add(filter.ContactUserID))
	}
	if filter.CompanyID > 0 {
		clauses = append(clauses, "company_id="+args.add(filter.CompanyID))
	}
	if filter.SectorScoped {
		sectors := uniqueIDs(filter.SectorIDs)
		if len(sectors) == 0 {
			return nil, 0, nil
		}
		clauses = append(clauses, "id IN (SELECT incident_id FROM incident_sectors WHERE sector_id IN "+args.in(sectors)+")")
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		clauses = append(clauses, "LOWER(incident_id) LIKE "+args.add("%"+strings.ToLower(q)+"%"))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents`+where, args.values...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + ` ORDER BY incident_notification_date DESC, id DESC`
	if filter.Limit > 0 {
		query += " LIMIT " + args.add(filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + args.add(filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args.values...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, *inc)
	}
	return res, total, rows.Err()
}

func (s *incidentsStore) ListOpenIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE incident_status=$1 ORDER BY id`, IncidentStatusGoing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Incident
	for rows.Next() {
		inc, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *inc)
	}
	return res, rows.Err()
}

func (s *incidentsStore) CountUserIncidentsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE contact_user_id=$1 AND incident_notification_date>=$2`, userID, since.UTC()).Scan(&n)
	return n, err
}

func (s *incidentsStore) UpdateRegulatorFields(ctx context.Context, id int64, upd RegulatorUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET is_significative_impact=$1, review_status=$2, incident_status=$3, updated_at=$4 WHERE id=$5`,
		upd.IsSignificativeImpact, upd.ReviewStatus, upd.IncidentStatus, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *incidentsStore) SetIncidentImpacts(ctx context.Context, id int64, impactIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	impactIDs = uniqueIDs(impactIDs)
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET is_significative_impact=$1, updated_at=$2 WHERE id=$3`, len(impactIDs) > 0, time.Now().UTC(), id)
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}
	if err := replaceLinks(ctx, tx, "incident_impacts", "incident_id", "impact_id", id, impactIDs); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordWorkflow appends an IncidentWorkflow with its answers and applies the
// incident level changes of the same completion atomically.
func (s *incidentsStore) RecordWorkflow(ctx context.Context, rec *WorkflowRecord) (*WorkflowResult, error) {
	if rec == nil {
		return nil, errors.New("nil workflow record")
	}
	at := rec.At.UTC()
	if rec.At.IsZero() {
		at = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	iwID, err := insertReturningID(ctx, tx, `
		INSERT INTO incident_workflows(incident_id, workflow_id, created_by, review_status, comment, timestamp)
		VALUES($1,$2,$3,$4,$5,$6)`,
		rec.IncidentID, rec.WorkflowID, nullableID(rec.CreatedBy), ReviewUndefined, rec.Comment, at)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, a := range rec.Answers {
		answerID, err := insertReturningID(ctx, tx, `
			INSERT INTO answers(incident_workflow_id, question_id, answer, timestamp) VALUES($1,$2,$3,$4)`,
			iwID, a.QuestionID, nullableString(a.Answer), at)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := replaceLinks(ctx, tx, "answer_predefined_answers", "answer_id", "predefined_answer_id", answerID, a.PredefinedIDs); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if rec.SetImpacts {
		if err := replaceLinks(ctx, tx, "incident_workflow_impacts", "incident_workflow_id", "impact_id", iwID, rec.ImpactIDs); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := replaceLinks(ctx, tx, "incident_impacts", "incident_id", "impact_id", rec.IncidentID, rec.ImpactIDs); err != nil {
			tx.Rollback()
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE incidents SET is_significative_impact=$1 WHERE id=$2`, len(uniqueIDs(rec.ImpactIDs)) > 0, rec.IncidentID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if rec.UpdateDates {
		if _, err := tx.ExecContext(ctx, `UPDATE incidents SET incident_detection_date=$1, incident_starting_date=$2 WHERE id=$3`,
			nullableTime(rec.DetectionDate), nullableTime(rec.StartingDate), rec.IncidentID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	result := &WorkflowResult{IncidentWorkflowID: iwID}
	if rec.MarkFinal {
		res, err := tx.ExecContext(ctx, `UPDATE incidents SET final_notification_date=$1 WHERE id=$2 AND final_notification_date IS NULL`, at, rec.IncidentID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		affected, _ := res.RowsAffected()
		result.FirstFinal = affected > 0
	}
	if _, err := tx.ExecContext(ctx, `UPDATE incidents SET updated_at=$1 WHERE id=$2`, at, rec.IncidentID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

const incidentWorkflowColumns = `iw.id, iw.incident_id, iw.workflow_id, COALESCE(w.name, ''), iw.created_by, iw.review_status, iw.comment, iw.timestamp`

func scanIncidentWorkflow(scan func(dest ...any) error) (*IncidentWorkflow, error) {
	var iw IncidentWorkflow
	var createdBy sql.NullInt64
	if err := scan(&iw.ID, &iw.IncidentID, &iw.WorkflowID, &iw.WorkflowName, &createdBy, &iw.ReviewStatus, &iw.Comment, &iw.Timestamp); err != nil {
		return nil, err
	}
	iw.CreatedBy = ptrFromNullInt(createdBy)
	iw.Timestamp = iw.Timestamp.UTC()
	return &iw, nil
}

func (s *incidentsStore) ListIncidentWorkflows(ctx context.Context, incidentID int64) ([]IncidentWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+incidentWorkflowColumns+`
		FROM incident_workflows iw LEFT JOIN workflows w ON w.id=iw.workflow_id
		WHERE iw.incident_id=$1
		ORDER BY iw.timestamp, iw.id`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentWorkflow
	for rows.Next() {
		iw, err := scanIncidentWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, *iw)
	}
	return res, rows.Err()
}

func (s *incidentsStore) GetIncidentWorkflow(ctx context.Context, id int64) (*IncidentWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentWorkflowColumns+`
		FROM incident_workflows iw LEFT JOIN workflows w ON w.id=iw.workflow_id
		WHERE iw.id=$1`, id)
	return s.withWorkflowImpacts(ctx, row)
}

func (s *incidentsStore) LatestIncidentWorkflow(ctx context.Context, incidentID int64) (*IncidentWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+incidentWorkflowColumns+`
		FROM incident_workflows iw LEFT JOIN workflows w ON w.id=iw.workflow_id
		WHERE iw.incident_id=$1
		ORDER BY iw.timestamp DESC, iw.id DESC LIMIT 1`, incidentID)
	return s.withWorkflowImpacts(ctx, row)
}

func (s *incidentsStore) withWorkflowImpacts(ctx context.Context, row *sql.Row) (*IncidentWorkflow, error) {
	iw, err := scanIncidentWorkflow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	iw.ImpactIDs, err = queryIDs(ctx, s.db, `SELECT impact_id FROM incident_workflow_impacts WHERE incident_workflow_id=$1 ORDER BY impact_id`, iw.ID)
	if err != nil {
		return nil, err
	}
	return iw, nil
}

func (s *incidentsStore) ListAnswers(ctx context.Context, incidentWorkflowID int64) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_workflow_id, question_id, answer, timestamp
		FROM answers WHERE incident_workflow_id=$1 ORDER BY id`, incidentWorkflowID)
	if err != nil {
		return nil, err
	}
	var res []Answer
	index := map[int64]int{}
	for rows.Next() {
		var a Answer
		var text sql.NullString
		if err := rows.Scan(&a.ID, &a.IncidentWorkflowID, &a.QuestionID, &text, &a.Timestamp); err != nil {
			rows.Close()
			return nil, err
		}
		a.Answer = ptrFromNullString(text)
		index[a.ID] = len(res)
		res = append(res, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	links, err := s.db.QueryContext(ctx, `
		SELECT ap.answer_id, ap.predefined_answer_id
		FROM answer_predefined_answers ap
		JOIN answers a ON a.id=ap.answer_id
		WHERE a.incident_workflow_id=$1
		ORDER BY ap.answer_id, ap.predefined_answer_id`, incidentWorkflowID)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var answerID, predefinedID int64
		if err := links.Scan(&answerID, &predefinedID); err != nil {
			return nil, err
		}
		if i, ok := index[answerID]; ok {
			res[i].PredefinedIDs = append(res[i].PredefinedIDs, predefinedID)
		}
	}
	return res, links.Err()
}
