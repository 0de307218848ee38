package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"serima/core/store"
	"serima/core/utils"
)

var (
	ErrUnknownStep  = errors.New("unknown wizard step")
	ErrStepNotOpen  = errors.New("wizard step not reachable yet")
	ErrIncomplete   = errors.New("wizard is not complete")
	ErrNoDefinition = errors.New("nil wizard definition")
)

// Choice is one selectable option. Group is set for grouped choices.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Group string `json:"group,omitempty"`
}

type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Disabled bool     `json:"disabled,omitempty"`
	Tooltip  string   `json:"tooltip,omitempty"`
	MaxDate  string   `json:"max_date,omitempty"`
	Choices  []Choice `json:"choices,omitempty"`
	Initial  []string `json:"initial,omitempty"`
}

type Form struct {
	Kind   string   `json:"kind"`
	Label  string   `json:"label,omitempty"`
	Step   int      `json:"step"`
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Steps  []string `json:"steps"`
	Fields []Field  `json:"fields"`
}

// Step is one page of a wizard. Visible and Form only look at payloads of
// earlier steps. Validate turns raw values into the typed payload kept for
// the step.
type Step struct {
	Name     string
	Title    string
	Visible  func(ctx context.Context, st *State) (bool, error)
	Form     func(ctx context.Context, st *State) ([]Field, error)
	Validate func(ctx context.Context, st *State, in url.Values) (any, error)
}

type Definition struct {
	Kind string
	Key  string
	// Label names what is being filled, e.g. the workflow of a continuation.
	Label string
	// Version invalidates stored states built for another version of the
	// same wizard key.
	Version string
	Steps   []Step
	Finish func(ctx context.Context, st *State) (any, error)
}

// State is the server side progress of one wizard. Current equals
// len(Steps) once every visible step holds a payload.
type State struct {
	ID       string                  `json:"id"`
	Kind     string                  `json:"kind"`
	Key      string                  `json:"key"`
	Current  int                     `json:"current"`
	Payloads map[int]json.RawMessage `json:"payloads"`
	Params   map[string]string       `json:"params"`
}

func (st *State) Put(step int, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if st.Payloads == nil {
		st.Payloads = map[int]json.RawMessage{}
	}
	st.Payloads[step] = raw
	return nil
}

func (st *State) Has(step int) bool {
	_, ok := st.Payloads[step]
	return ok
}

// Payload decodes the validated payload of a step.
func Payload[T any](st *State, step int) (T, bool, error) {
	var v T
	if st == nil {
		return v, false, nil
	}
	raw, ok := st.Payloads[step]
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("decode step %d payload: %w", step, err)
	}
	return v, true, nil
}

// ValidationError carries one message per invalid field.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err returns nil when no field failed.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type Engine struct {
	states store.WizardStore
	logger *utils.Logger
}

func NewEngine(states store.WizardStore, logger *utils.Logger) *Engine {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Engine{states: states, logger: logger}
}

// Load returns the stored state of the wizard or a fresh one positioned on
// the first visible step. A fresh state is not persisted until a step is
// submitted.
func (e *Engine) Load(ctx context.Context, sessionID string, def *Definition) (*State, error) {
	if def == nil {
		return nil, ErrNoDefinition
	}
	rec, err := e.states.GetWizardState(ctx, sessionID, def.Key)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Kind == def.Kind {
		st := &State{ID: rec.ID, Kind: rec.Kind, Key: rec.WizardKey, Current: rec.CurrentStep}
		if err := json.Unmarshal([]byte(rec.DataJSON), &st.Payloads); err != nil {
			return nil, fmt.Errorf("decode wizard state: %w", err)
		}
		if err := json.Unmarshal([]byte(rec.ParamsJSON), &st.Params); err != nil {
			return nil, fmt.Errorf("decode wizard params: %w", err)
		}
		if st.Params["version"] == def.Version {
			return st, nil
		}
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	st := &State{ID: id.String(), Kind: def.Kind, Key: def.Key, Payloads: map[int]json.RawMessage{}, Params: map[string]string{"version": def.Version}}
	next, err := e.nextVisible(ctx, def, st, -1)
	if err != nil {
		return nil, err
	}
	st.Current = next
	return st, nil
}

func (e *Engine) Save(ctx context.Context, sessionID string, st *State) error {
	data, err := json.Marshal(st.Payloads)
	if err != nil {
		return err
	}
	params, err := json.Marshal(st.Params)
	if err != nil {
		return err
	}
	return e.states.SaveWizardState(ctx, &store.WizardStateRecord{
		ID:          st.ID,
		SessionID:   sessionID,
		WizardKey:   st.Key,
		Kind:        st.Kind,
		CurrentStep: st.Current,
		DataJSON:    string(data),
		ParamsJSON:  string(params),
		UpdatedAt:   time.Now().UTC(),
	})
}

func (e *Engine) Reset(ctx context.Context, sessionID, key string) error {
	return e.states.DeleteWizardState(ctx, sessionID, key)
}

// Done reports whether every visible step holds a payload.
func (e *Engine) Done(def *Definition, st *State) bool {
	return st.Current >= len(def.Steps)
}

// VisibleSteps lists the indexes of the steps shown for the current state.
func (e *Engine) VisibleSteps(ctx context.Context, def *Definition, st *State) ([]int, error) {
	var res []int
	for i := range def.Steps {
		ok, err := e.visible(ctx, def, st, i)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, i)
		}
	}
	return res, nil
}

// Form renders a step. Only visible steps up to the current one can be
// opened.
func (e *Engine) Form(ctx context.Context, def *Definition, st *State, step int) (*Form, error) {
	if step < 0 || step >= len(def.Steps) {
		return nil, ErrUnknownStep
	}
	if step > st.Current {
		return nil, ErrStepNotOpen
	}
	ok, err := e.visible(ctx, def, st, step)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStepNotOpen
	}
	s := def.Steps[step]
	form := &Form{Kind: def.Kind, Label: def.Label, Step: step, Name: s.Name, Title: s.Title}
	visible, err := e.VisibleSteps(ctx, def, st)
	if err != nil {
		return nil, err
	}
	for _, i := range visible {
		form.Steps = append(form.Steps, def.Steps[i].Title)
	}
	if s.Form != nil {
		if form.Fields, err = s.Form(ctx, st); err != nil {
			return nil, err
		}
	}
	return form, nil
}

// Submit validates one step and moves to the next visible step. Submitting
// an earlier step again discards the payloads of the steps after it. The
// state is saved only when validation passes.
func (e *Engine) Submit(ctx context.Context, sessionID string, def *Definition, st *State, step int, in url.Values) error {
	if step < 0 || step >= len(def.Steps) {
		return ErrUnknownStep
	}
	if step > st.Current {
		return ErrStepNotOpen
	}
	ok, err := e.visible(ctx, def, st, step)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStepNotOpen
	}
	s := def.Steps[step]
	var payload any = map[string]any{}
	if s.Validate != nil {
		if payload, err = s.Validate(ctx, st, in); err != nil {
			return err
		}
	}
	for i := range st.Payloads {
		if i > step {
			delete(st.Payloads, i)
		}
	}
	if err := st.Put(step, payload); err != nil {
		return err
	}
	next, err := e.nextVisible(ctx, def, st, step)
	if err != nil {
		return err
	}
	st.Current = next
	e.logger.Printf("WIZARD %s step %d (%s) validated, next %d", def.Kind, step, s.Name, next)
	return e.Save(ctx, sessionID, st)
}

// Finish runs the terminal transition once every visible step is validated
// and drops the state when it succeeds.
func (e *Engine) Finish(ctx context.Context, sessionID string, def *Definition, st *State) (any, error) {
	if !e.Done(def, st) {
		return nil, ErrIncomplete
	}
	visible, err := e.VisibleSteps(ctx, def, st)
	if err != nil {
		return nil, err
	}
	for _, i := range visible {
		if !st.Has(i) {
			st.Current = i
			_ = e.Save(ctx, sessionID, st)
			return nil, ErrIncomplete
		}
	}
	var res any
	if def.Finish != nil {
		if res, err = def.Finish(ctx, st); err != nil {
			return nil, err
		}
	}
	if err := e.Reset(ctx, sessionID, def.Key); err != nil {
		e.logger.Errorf("WIZARD reset %s: %v", def.Key, err)
	}
	return res, nil
}

func (e *Engine) visible(ctx context.Context, def *Definition, st *State, step int) (bool, error) {
	s := def.Steps[step]
	if s.Visible == nil {
		return true, nil
	}
	return s.Visible(ctx, st)
}

func (e *Engine) nextVisible(ctx context.Context, def *Definition, st *State, after int) (int, error) {
	for i := after + 1; i < len(def.Steps); i++ {
		ok, err := e.visible(ctx, def, st, i)
		if err != nil {
			return 0, err
		}
		if ok {
			return i, nil
		}
		delete(st.Payloads, i)
	}
	return len(def.Steps), nil
}
