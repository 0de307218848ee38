package wizard

import (
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"serima/core/incidents"
)

const (
	FieldText        = "text"
	FieldTextarea    = "textarea"
	FieldEmail       = "email"
	FieldCheckbox    = "checkbox"
	FieldSelect      = "select"
	FieldMultiSelect = "multiselect"
	FieldDateTime    = "datetime"
	FieldCountries   = "countries"
	FieldRegions     = "regions"
)

const maxTextLength = 100

const requiredMsg = "This field is required."

func value(in url.Values, name string) string {
	return strings.TrimSpace(in.Get(name))
}

func checked(in url.Values, name string) bool {
	switch strings.ToLower(value(in, name)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func textField(in url.Values, verr *ValidationError, name string, required bool) string {
	v := value(in, name)
	switch {
	case v == "" && required:
		verr.Add(name, requiredMsg)
	case len([]rune(v)) > maxTextLength:
		verr.Add(name, fmt.Sprintf("Ensure this value has at most %d characters.", maxTextLength))
	}
	return v
}

func emailField(in url.Values, verr *ValidationError, name string, required bool) string {
	v := textField(in, verr, name, required)
	if v == "" {
		return v
	}
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		verr.Add(name, "Enter a valid email address.")
	}
	return v
}

// idList parses a multi-valued id field and rejects ids outside allowed.
func idList(in url.Values, verr *ValidationError, name string, allowed map[int64]bool, required bool) []int64 {
	var ids []int64
	for _, raw := range in[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || !allowed[id] {
				verr.Add(name, fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", part))
				return nil
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 && required {
		verr.Add(name, requiredMsg)
	}
	return ids
}

// dateField parses an optional date/time which may not lie after the end of
// the current day.
func dateField(in url.Values, verr *ValidationError, name string, required bool, now time.Time) *time.Time {
	v := value(in, name)
	if v == "" {
		if required {
			verr.Add(name, requiredMsg)
		}
		return nil
	}
	at, err := incidents.ParseDateTime(v)
	if err != nil {
		verr.Add(name, "Enter a valid date/time.")
		return nil
	}
	if at.After(incidents.EndOfDay(now)) {
		verr.Add(name, "The date cannot be in the future.")
		return nil
	}
	return &at
}

func formatDate(t *time.Time) []string {
	if t == nil {
		return nil
	}
	return []string{t.UTC().Format(incidents.DateLayout)}
}

func idStrings(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func one(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
