package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionType identifies the kind of side-effecting operation the backend
// proposes before executing.
type ActionType string

const (
	ActionSendEmail           ActionType = "send_email"
	ActionCreateCalendarEvent ActionType = "create_calendar_event"
	ActionUpdateCalendarEvent ActionType = "update_calendar_event"
	ActionDeleteCalendarEvent ActionType = "delete_calendar_event"
	ActionOther               ActionType = "other"
)

// Editable reports whether the user may modify this action's parameters
// before confirming. Only email sends and new calendar events are editable.
func (t ActionType) Editable() bool {
	return t == ActionSendEmail || t == ActionCreateCalendarEvent
}

// Calendar reports whether confirming this action changes calendar data.
func (t ActionType) Calendar() bool {
	switch t {
	case ActionCreateCalendarEvent, ActionUpdateCalendarEvent, ActionDeleteCalendarEvent:
		return true
	}
	return false
}

// ActionParams is the per-type parameter record of a pending action.
// Each action type carries its own strongly typed variant.
type ActionParams interface {
	// Clone returns an independent shallow copy used as an editing draft.
	Clone() ActionParams

	// SetField updates a single named field from user input. Unknown
	// fields are rejected so typos in the edit layer surface early.
	SetField(name, value string) error

	// Validate checks that the required identifying fields are present.
	Validate() error
}

// EmailParams holds the parameters of a proposed email send.
type EmailParams struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (p *EmailParams) Clone() ActionParams {
	cp := *p
	return &cp
}

func (p *EmailParams) SetField(name, value string) error {
	switch name {
	case "to":
		p.To = value
	case "subject":
		p.Subject = value
	case "body":
		p.Body = value
	default:
		return fmt.Errorf("unknown email field %q", name)
	}
	return nil
}

func (p *EmailParams) Validate() error {
	if p.To == "" {
		return fmt.Errorf("email action missing recipient")
	}
	return nil
}

// CalendarEventParams holds the parameters of a proposed calendar event
// creation or update. EventID is set only for updates.
type CalendarEventParams struct {
	EventID     string `json:"event_id,omitempty"`
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p *CalendarEventParams) Clone() ActionParams {
	cp := *p
	return &cp
}

func (p *CalendarEventParams) SetField(name, value string) error {
	switch name {
	case "summary":
		p.Summary = value
	case "start":
		p.Start = value
	case "end":
		p.End = value
	case "location":
		p.Location = value
	case "description":
		p.Description = value
	default:
		return fmt.Errorf("unknown calendar field %q", name)
	}
	return nil
}

func (p *CalendarEventParams) Validate() error {
	if p.Summary == "" && p.EventID == "" {
		return fmt.Errorf("calendar action missing summary")
	}
	return nil
}

// CalendarDeleteParams holds the parameters of a proposed event deletion.
type CalendarDeleteParams struct {
	EventID string `json:"event_id"`
	Summary string `json:"summary,omitempty"`
}

func (p *CalendarDeleteParams) Clone() ActionParams {
	cp := *p
	return &cp
}

func (p *CalendarDeleteParams) SetField(name, value string) error {
	return fmt.Errorf("delete actions are not editable")
}

func (p *CalendarDeleteParams) Validate() error {
	if p.EventID == "" {
		return fmt.Errorf("delete action missing event_id")
	}
	return nil
}

// OtherParams carries the parameters of an action type the client does
// not model. It is shown and submitted opaquely.
type OtherParams map[string]any

func (p OtherParams) Clone() ActionParams {
	cp := make(OtherParams, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

func (p OtherParams) SetField(name, value string) error {
	return fmt.Errorf("action is not editable")
}

func (p OtherParams) Validate() error { return nil }

// PendingAction is a proposed side-effecting operation awaiting explicit
// user confirmation. At most one exists at a time, held by the gate.
type PendingAction struct {
	Type                ActionType
	Params              ActionParams
	ConfirmationMessage string
}

// NewPendingAction builds a validated pending action. The confirmation
// message has decorative separator lines stripped before storage.
func NewPendingAction(t ActionType, params ActionParams, confirmationMessage string) (*PendingAction, error) {
	if params == nil {
		return nil, fmt.Errorf("pending action %q has no parameters", t)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s action: %w", t, err)
	}
	return &PendingAction{
		Type:                t,
		Params:              params,
		ConfirmationMessage: stripSeparatorLines(confirmationMessage),
	}, nil
}

// pendingActionWire is the JSON shape the backend exchanges:
// a type tag plus a loosely typed parameter map.
type pendingActionWire struct {
	ActionType          ActionType      `json:"action_type"`
	ActionParams        json.RawMessage `json:"action_params"`
	ConfirmationMessage string          `json:"confirmation_message,omitempty"`
}

// UnmarshalJSON decodes the wire form into the typed variant selected by
// action_type. Unknown types fall back to the opaque variant.
func (a *PendingAction) UnmarshalJSON(data []byte) error {
	var wire pendingActionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding pending action: %w", err)
	}

	var params ActionParams
	switch wire.ActionType {
	case ActionSendEmail:
		p := &EmailParams{}
		if err := decodeParams(wire.ActionParams, p); err != nil {
			return err
		}
		params = p
	case ActionCreateCalendarEvent, ActionUpdateCalendarEvent:
		p := &CalendarEventParams{}
		if err := decodeParams(wire.ActionParams, p); err != nil {
			return err
		}
		params = p
	case ActionDeleteCalendarEvent:
		p := &CalendarDeleteParams{}
		if err := decodeParams(wire.ActionParams, p); err != nil {
			return err
		}
		params = p
	default:
		wire.ActionType = ActionOther
		p := OtherParams{}
		if err := decodeParams(wire.ActionParams, &p); err != nil {
			return err
		}
		params = p
	}

	built, err := NewPendingAction(wire.ActionType, params, wire.ConfirmationMessage)
	if err != nil {
		return err
	}

	*a = *built
	return nil
}

// MarshalJSON encodes the action back to the backend's wire shape.
func (a PendingAction) MarshalJSON() ([]byte, error) {
	rawParams, err := json.Marshal(a.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", a.Type, err)
	}
	return json.Marshal(pendingActionWire{
		ActionType:          a.Type,
		ActionParams:        rawParams,
		ConfirmationMessage: a.ConfirmationMessage,
	})
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding action params: %w", err)
	}
	return nil
}

// stripSeparatorLines removes lines made up entirely of separator
// characters, which the backend uses as visual dividers.
func stripSeparatorLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isSeparatorLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSeparatorLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '-', '=', '─', '═', '_':
		default:
			return false
		}
	}
	return true
}
