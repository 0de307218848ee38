package store

import "time"

const (
	IncidentStatusGoing  = "GOING"
	IncidentStatusClosed = "CLOSE"

	ReviewUndefined = "UNDE"
	ReviewPassed    = "PASS"
	ReviewFailed    = "FAIL"
	ReviewDelivered = "DELIV"
	ReviewOutOfTime = "OUT"
)

var IncidentStatuses = []string{IncidentStatusGoing, IncidentStatusClosed}

var ReviewStatuses = []string{ReviewUndefined, ReviewPassed, ReviewFailed, ReviewDelivered, ReviewOutOfTime}

type Contact struct {
	Lastname  string `json:"lastname"`
	Firstname string `json:"firstname"`
	Title     string `json:"title,omitempty"`
	Email     string `json:"email"`
	Telephone string `json:"telephone"`
}

func (c Contact) FullName() string {
	switch {
	case c.Firstname == "":
		return c.Lastname
	case c.Lastname == "":
		return c.Firstname
	}
	return c.Firstname + " " + c.Lastname
}

type Incident struct {
	ID                    int64      `json:"id"`
	IncidentID            string     `json:"incident_id"`
	CompanyID             *int64     `json:"company_id,omitempty"`
	CompanyName           string     `json:"company_name"`
	ContactUserID         *int64     `json:"contact_user_id,omitempty"`
	SectorRegulationID    int64      `json:"sector_regulation_id"`
	Contact               Contact    `json:"contact"`
	Technical             Contact    `json:"technical_contact"`
	IncidentReference     string     `json:"incident_reference,omitempty"`
	ComplaintReference    string     `json:"complaint_reference,omitempty"`
	NotificationDate      time.Time  `json:"incident_notification_date"`
	DetectionDate         *time.Time `json:"incident_detection_date,omitempty"`
	StartingDate          *time.Time `json:"incident_starting_date,omitempty"`
	FinalNotificationDate *time.Time `json:"final_notification_date,omitempty"`
	IsSignificativeImpact bool       `json:"is_significative_impact"`
	IncidentStatus        string     `json:"incident_status"`
	ReviewStatus          string     `json:"review_status"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	AffectedSectorIDs     []int64    `json:"affected_sector_ids,omitempty"`
	AffectedServiceIDs    []int64    `json:"affected_service_ids,omitempty"`
	ImpactIDs             []int64    `json:"impact_ids,omitempty"`
}

// IncidentWorkflow is one completed run of a workflow on an incident. Rows
// are append-only.
type IncidentWorkflow struct {
	ID           int64     `json:"id"`
	IncidentID   int64     `json:"incident_id"`
	WorkflowID   int64     `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	CreatedBy    *int64    `json:"created_by,omitempty"`
	ReviewStatus string    `json:"review_status"`
	Comment      string    `json:"comment,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ImpactIDs    []int64   `json:"impact_ids,omitempty"`
}

type Answer struct {
	ID                 int64     `json:"id"`
	IncidentWorkflowID int64     `json:"incident_workflow_id"`
	QuestionID         int64     `json:"question_id"`
	Answer             *string   `json:"answer"`
	PredefinedIDs      []int64   `json:"predefined_answer_ids,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// AnswerRecord is the storage shape of one typed answer.
type AnswerRecord struct {
	QuestionID    int64
	Answer        *string
	PredefinedIDs []int64
}

type IncidentFilter struct {
	Search        string
	ContactUserID int64
	CompanyID     int64
	SectorScoped  bool
	SectorIDs     []int64
	Limit         int
	Offset        int
}

type PreliminaryBatch struct {
	UserID    int64
	DayStart  time.Time
	MaxPerDay int
	Incidents []*Incident
	// Stamp derives the incident identifier from the number of incidents the
	// company already has, counted inside the batch transaction.
	Stamp func(inc *Incident, existing int) string
}

type WorkflowRecord struct {
	IncidentID    int64
	WorkflowID    int64
	CreatedBy     *int64
	Comment       string
	Answers       []AnswerRecord
	SetImpacts    bool
	ImpactIDs     []int64
	UpdateDates   bool
	DetectionDate *time.Time
	StartingDate  *time.Time
	MarkFinal     bool
	At            time.Time
}

type WorkflowResult struct {
	IncidentWorkflowID int64
	// FirstFinal is true when this record set final_notification_date.
	FirstFinal bool
}

type RegulatorUpdate struct {
	IsSignificativeImpact bool
	ReviewStatus          string
	IncidentStatus        string
}
