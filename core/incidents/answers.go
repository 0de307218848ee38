package incidents

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"

	"serima/core/store"
)

// DateLayout is the storage layout of DATE answers.
const DateLayout = "2006-01-02 15:04:05"

// AnswerValue is one typed answer. The concrete type follows the question
// type and is fixed when the wizard step is validated.
type AnswerValue interface {
	record(questionID int64) store.AnswerRecord
}

type FreeText struct {
	Text string
}

type DateAnswer struct {
	At *time.Time
}

// ChoiceList holds country codes (CL) or regional areas (RL).
type ChoiceList struct {
	Kind   string
	Values []string
}

// MultiChoice covers MULTI and its single choice variants. Annex is the
// optional free text typed next to the options.
type MultiChoice struct {
	PredefinedIDs []int64
	Annex         string
}

func (a FreeText) record(questionID int64) store.AnswerRecord {
	text := a.Text
	return store.AnswerRecord{QuestionID: questionID, Answer: &text}
}

func (a DateAnswer) record(questionID int64) store.AnswerRecord {
	rec := store.AnswerRecord{QuestionID: questionID}
	if a.At != nil && !a.At.IsZero() {
		v := a.At.Format(DateLayout)
		rec.Answer = &v
	}
	return rec
}

func (a ChoiceList) record(questionID int64) store.AnswerRecord {
	var b strings.Builder
	for _, v := range a.Values {
		b.WriteString(v)
		b.WriteString(",")
	}
	v := b.String()
	return store.AnswerRecord{QuestionID: questionID, Answer: &v}
}

func (a MultiChoice) record(questionID int64) store.AnswerRecord {
	rec := store.AnswerRecord{QuestionID: questionID, PredefinedIDs: a.PredefinedIDs}
	if a.Annex != "" {
		annex := a.Annex
		rec.Answer = &annex
	}
	return rec
}

// AnswerRecords encodes typed answers for storage, ordered by question id.
func AnswerRecords(answers map[int64]AnswerValue) []store.AnswerRecord {
	ids := make([]int64, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	res := make([]store.AnswerRecord, 0, len(ids))
	for _, id := range ids {
		if answers[id] == nil {
			continue
		}
		res = append(res, answers[id].record(id))
	}
	return res
}

// RegionalAreas are the choices of RL questions.
var RegionalAreas = []string{
	"EU",
	"EEA",
	"EFTA",
	"BENELUX",
	"GREATER_REGION",
	"EUROPE_NON_EU",
	"NORTH_AMERICA",
	"SOUTH_AMERICA",
	"AFRICA",
	"ASIA",
	"OCEANIA",
	"WORLDWIDE",
}

// ParseAnswer validates raw form values against the question schema and
// returns the typed answer. A non-empty message means the field is invalid.
// DATE answers accept "YYYY-MM-DD HH:MM:SS", "YYYY-MM-DDTHH:MM" or RFC 3339
// and never lie after the end of today.
func ParseAnswer(q store.Question, values []string, annex string, now time.Time) (AnswerValue, string) {
	values = compact(values)
	annex = strings.TrimSpace(annex)
	switch q.QuestionType {
	case store.QuestionFreeText:
		text := ""
		if len(values) > 0 {
			text = values[0]
		}
		if text == "" && q.IsMandatory {
			return nil, "This field is required."
		}
		return FreeText{Text: text}, ""
	case store.QuestionDate:
		if len(values) == 0 {
			if q.IsMandatory {
				return nil, "This field is required."
			}
			return DateAnswer{}, ""
		}
		at, err := ParseDateTime(values[0])
		if err != nil {
			return nil, "Enter a valid date/time."
		}
		if at.After(EndOfDay(now)) {
			return nil, "The date cannot be in the future."
		}
		return DateAnswer{At: &at}, ""
	case store.QuestionCountries:
		if len(values) == 0 && q.IsMandatory {
			return nil, "This field is required."
		}
		codes := make([]string, 0, len(values))
		for _, v := range values {
			region, err := language.ParseRegion(v)
			if err != nil || !region.IsCountry() {
				return nil, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v)
			}
			codes = append(codes, region.String())
		}
		return ChoiceList{Kind: store.QuestionCountries, Values: codes}, ""
	case store.QuestionRegions:
		if len(values) == 0 && q.IsMandatory {
			return nil, "This field is required."
		}
		for _, v := range values {
			if !containsString(RegionalAreas, v) {
				return nil, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v)
			}
		}
		return ChoiceList{Kind: store.QuestionRegions, Values: values}, ""
	case store.QuestionMulti, store.QuestionMultiText, store.QuestionSingle, store.QuestionSingleText:
		allowed := map[int64]bool{}
		for _, pa := range q.Predefined {
			allowed[pa.ID] = true
		}
		ids := make([]int64, 0, len(values))
		for _, v := range values {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || !allowed[id] {
				return nil, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", v)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 && q.IsMandatory {
			return nil, "This field is required."
		}
		if len(ids) > 1 && (q.QuestionType == store.QuestionSingle || q.QuestionType == store.QuestionSingleText) {
			return nil, "Select only one choice."
		}
		return MultiChoice{PredefinedIDs: ids, Annex: annex}, ""
	}
	return nil, fmt.Sprintf("Unsupported question type %s.", q.QuestionType)
}

// InitialValues turns a stored answer back into form values.
func InitialValues(q store.Question, a *store.Answer) (values []string, annex string) {
	if a == nil {
		return nil, ""
	}
	text := ""
	if a.Answer != nil {
		text = *a.Answer
	}
	switch q.QuestionType {
	case store.QuestionFreeText, store.QuestionDate:
		if text == "" {
			return nil, ""
		}
		return []string{text}, ""
	case store.QuestionCountries, store.QuestionRegions:
		return compact(strings.Split(text, ",")), ""
	}
	for _, id := range a.PredefinedIDs {
		values = append(values, strconv.FormatInt(id, 10))
	}
	return values, text
}

var dateLayouts = []string{DateLayout, "2006-01-02T15:04", "2006-01-02T15:04:05", time.RFC3339, "2006-01-02"}

func ParseDateTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// EndOfDay is the last second of now's UTC calendar day.
func EndOfDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 23, 59, 59, 0, time.UTC)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
