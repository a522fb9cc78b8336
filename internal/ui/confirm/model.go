package confirm

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	chatcore "github.com/rufae/servibot/internal/chat"
	"github.com/rufae/servibot/internal/keys"
	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/theme"
)

// ConfirmRequestedMsg is dispatched when the user approves the pending
// action, either as presented or after saving edits.
type ConfirmRequestedMsg struct{}

// CancelRequestedMsg is dispatched when the user rejects the pending action.
type CancelRequestedMsg struct{}

// formBindings holds draft field values on the heap so that huh's
// Value() pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	to          string
	subject     string
	body        string
	summary     string
	start       string
	end         string
	location    string
	description string
}

// Model is the Bubble Tea model for the pending-action dialog. It renders
// the gate's single slot: a read-only confirmation view with y/n/e keys,
// and an edit form for the action types that allow one.
type Model struct {
	gate   *chatcore.Gate
	keys   *keys.KeyMap
	logger *zap.Logger

	form    *huh.Form
	fb      *formBindings
	preview string

	width  int
	height int
}

// New creates a new pending-action dialog bound to the gate.
func New(gate *chatcore.Gate, keyMap *keys.KeyMap, logger *zap.Logger, width, height int) Model {
	return Model{
		gate:   gate,
		keys:   keyMap,
		logger: logger,
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Refresh recomputes the dialog from the gate's current slot. Call it
// after a new action is presented. When the gate restored the action
// directly into Editing, the edit form is opened immediately.
func (m *Model) Refresh() tea.Cmd {
	m.form = nil
	m.preview = ""

	action := m.gate.Pending()
	if action == nil {
		return nil
	}

	if p, ok := action.Params.(*model.EmailParams); ok {
		rendered, err := chatcore.EmailPreview(p)
		if err != nil {
			m.logger.Warn("email preview failed", zap.Error(err))
		} else {
			m.preview = rendered
		}
	}

	if m.gate.State() == chatcore.StateEditing {
		return m.openForm()
	}
	return nil
}

// Update handles messages for the dialog.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.gate.State() == chatcore.StateEditing {
		return m.updateForm(msg)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Confirm):
		return m, func() tea.Msg { return ConfirmRequestedMsg{} }
	case key.Matches(keyMsg, m.keys.CancelGate):
		return m, func() tea.Msg { return CancelRequestedMsg{} }
	case key.Matches(keyMsg, m.keys.Edit):
		if err := m.gate.BeginEdit(); err != nil {
			m.logger.Debug("edit rejected", zap.Error(err))
			return m, nil
		}
		return m, m.openForm()
	}
	return m, nil
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSave()
	}
	if m.form.State == huh.StateAborted {
		if err := m.gate.CancelEdit(); err != nil {
			m.logger.Debug("cancel edit rejected", zap.Error(err))
		}
		m.form = nil
		return m, nil
	}

	return m, cmd
}

// handleSave pushes the form values into the gate's draft and requests
// confirmation, so saving an edit also sends it.
func (m *Model) handleSave() tea.Cmd {
	action := m.gate.Pending()
	if action == nil {
		m.form = nil
		return nil
	}

	var fields map[string]string
	switch action.Type {
	case model.ActionSendEmail:
		fields = map[string]string{
			"to":      m.fb.to,
			"subject": m.fb.subject,
			"body":    m.fb.body,
		}
	case model.ActionCreateCalendarEvent:
		fields = map[string]string{
			"summary":     m.fb.summary,
			"start":       m.fb.start,
			"end":         m.fb.end,
			"location":    m.fb.location,
			"description": m.fb.description,
		}
	}

	for name, value := range fields {
		if err := m.gate.SetDraftField(name, value); err != nil {
			m.logger.Warn("draft update failed",
				zap.String("field", name), zap.Error(err))
		}
	}

	m.form = nil
	return func() tea.Msg { return ConfirmRequestedMsg{} }
}

// View renders the dialog.
func (m Model) View() string {
	action := m.gate.Pending()
	if action == nil {
		return ""
	}

	if m.gate.State() == chatcore.StateEditing && m.form != nil {
		title := lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorWhite).
			MarginBottom(1).
			Render("Editar acción")
		return theme.PanelStyle.Render(title + "\n" + m.form.View())
	}

	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Acción pendiente"))
	b.WriteString("\n\n")
	b.WriteString(action.ConfirmationMessage)
	b.WriteString("\n")

	if m.preview != "" {
		b.WriteString("\n")
		b.WriteString(theme.SourceStyle.Render(m.preview))
		b.WriteString("\n")
	}

	hints := "y confirmar · n cancelar"
	if action.Type.Editable() {
		hints += " · e editar"
	}
	b.WriteString("\n")
	b.WriteString(theme.HelpStyle.Render(hints))

	return theme.PanelStyle.Render(b.String())
}

// SetSize updates the dialog dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

func (m *Model) openForm() tea.Cmd {
	action := m.gate.Pending()
	if action == nil {
		return nil
	}

	switch p := m.gate.Draft().(type) {
	case *model.EmailParams:
		m.fb.to = p.To
		m.fb.subject = p.Subject
		m.fb.body = p.Body
		m.form = m.buildEmailForm()
	case *model.CalendarEventParams:
		m.fb.summary = p.Summary
		m.fb.start = p.Start
		m.fb.end = p.End
		m.fb.location = p.Location
		m.fb.description = p.Description
		m.form = m.buildCalendarForm()
	default:
		m.logger.Warn("no edit form for action type",
			zap.String("type", string(action.Type)))
		return nil
	}

	return m.form.Init()
}

func (m *Model) buildEmailForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Para").
				Value(&m.fb.to).
				Validate(validateRequired("Para")),
			huh.NewInput().
				Title("Asunto").
				Value(&m.fb.subject).
				Validate(validateRequired("Asunto")),
			huh.NewText().
				Title("Cuerpo").
				Value(&m.fb.body),
		),
	).WithWidth(m.formWidth())
}

func (m *Model) buildCalendarForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Título").
				Value(&m.fb.summary).
				Validate(validateRequired("Título")),
			huh.NewInput().
				Title("Inicio").
				Placeholder("2025-01-15T10:00:00").
				Value(&m.fb.start).
				Validate(validateRequired("Inicio")),
			huh.NewInput().
				Title("Fin").
				Placeholder("2025-01-15T11:00:00").
				Value(&m.fb.end),
			huh.NewInput().
				Title("Lugar").
				Value(&m.fb.location),
			huh.NewText().
				Title("Descripción").
				Value(&m.fb.description),
		),
	).WithWidth(m.formWidth())
}

func (m *Model) formWidth() int {
	w := m.width - 8
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s es obligatorio", field)
		}
		return nil
	}
}
