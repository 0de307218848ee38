package store

const (
	QuestionFreeText   = "FREETEXT"
	QuestionDate       = "DATE"
	QuestionCountries  = "CL"
	QuestionRegions    = "RL"
	QuestionMulti      = "MULTI"
	QuestionMultiText  = "MT"
	QuestionSingle     = "SO"
	QuestionSingleText = "ST"
)

const (
	EmailPreliminary = "PRELI"
	EmailFinal       = "FINAL"
	EmailAdditional  = "ADDITIONAL"
	EmailOpening     = "OPEN"
	EmailClosing     = "CLOSE"
	EmailReminder    = "REMIND"
)

const (
	TriggerNotificationDate = "NOTIF_DATE"
	TriggerDetectionDate    = "DETECT_DATE"
	TriggerPreviousWorkflow = "PREV_WORK"
)

type Company struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

type Regulator struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	FullName             string `json:"full_name,omitempty"`
	EmailForNotification string `json:"email_for_notification,omitempty"`
}

type Regulation struct {
	ID           int64   `json:"id"`
	Label        string  `json:"label"`
	RegulatorIDs []int64 `json:"regulator_ids,omitempty"`
}

type Sector struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Acronym       string `json:"acronym"`
	ParentID      *int64 `json:"parent_id,omitempty"`
	ParentName    string `json:"parent_name,omitempty"`
	ParentAcronym string `json:"parent_acronym,omitempty"`
}

type Service struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Acronym  string `json:"acronym,omitempty"`
	SectorID int64  `json:"sector_id"`
}

type Impact struct {
	ID           int64   `json:"id"`
	Label        string  `json:"label"`
	RegulationID int64   `json:"regulation_id"`
	SectorIDs    []int64 `json:"sector_ids,omitempty"`
}

type Email struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	EmailType string `json:"email_type"`
}

type QuestionCategory struct {
	ID       int64  `json:"id"`
	Label    string `json:"label"`
	Position int    `json:"position"`
}

type PredefinedAnswer struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Label      string `json:"label"`
	Position   int    `json:"position"`
}

type Question struct {
	ID           int64              `json:"id"`
	Label        string             `json:"label"`
	Tooltip      string             `json:"tooltip,omitempty"`
	QuestionType string             `json:"question_type"`
	IsMandatory  bool               `json:"is_mandatory"`
	Position     int                `json:"position"`
	CategoryID   int64              `json:"category_id"`
	Category     QuestionCategory   `json:"category"`
	Predefined   []PredefinedAnswer `json:"predefined_answers,omitempty"`
}

type Workflow struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	IsImpactNeeded    bool   `json:"is_impact_needed"`
	SubmissionEmailID *int64 `json:"submission_email_id,omitempty"`
}

// SectorRegulation is one regulatory obligation bundle.
type SectorRegulation struct {
	ID                    int64    `json:"id"`
	Name                  string   `json:"name"`
	RegulationID          int64    `json:"regulation_id"`
	RegulationLabel       string   `json:"regulation_label,omitempty"`
	RegulatorID           int64    `json:"regulator_id"`
	RegulatorName         string   `json:"regulator_name,omitempty"`
	IsDetectionDateNeeded bool     `json:"is_detection_date_needed"`
	OpeningEmailID        *int64   `json:"opening_email_id,omitempty"`
	ClosingEmailID        *int64   `json:"closing_email_id,omitempty"`
	Sectors               []Sector `json:"sectors,omitempty"`
}

func (sr SectorRegulation) SectorIDs() []int64 {
	out := make([]int64, 0, len(sr.Sectors))
	for _, s := range sr.Sectors {
		out = append(out, s.ID)
	}
	return out
}

type SectorRegulationWorkflow struct {
	ID                 int64    `json:"id"`
	SectorRegulationID int64    `json:"sector_regulation_id"`
	WorkflowID         int64    `json:"workflow_id"`
	Position           int      `json:"position"`
	Workflow           Workflow `json:"workflow"`
}

// WorkflowReminder is a deadline email attached to one workflow of a bundle.
type WorkflowReminder struct {
	ID                         int64  `json:"id"`
	SectorRegulationWorkflowID int64  `json:"sector_regulation_workflow_id"`
	SectorRegulationID         int64  `json:"sector_regulation_id"`
	WorkflowID                 int64  `json:"workflow_id"`
	WorkflowPosition           int    `json:"workflow_position"`
	Headline                   string `json:"headline"`
	EmailID                    int64  `json:"email_id"`
	TriggerEvent               string `json:"trigger_event"`
	DelayInHours               int    `json:"delay_in_hours"`
}
