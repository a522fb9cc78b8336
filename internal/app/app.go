package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/rufae/servibot/internal/api"
	chatcore "github.com/rufae/servibot/internal/chat"
	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/notify"
	"github.com/rufae/servibot/internal/store"
	"github.com/rufae/servibot/internal/ui"
	chatview "github.com/rufae/servibot/internal/ui/chat"
	confirmview "github.com/rufae/servibot/internal/ui/confirm"
	helpview "github.com/rufae/servibot/internal/ui/help"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewChat ViewState = iota
	ViewConfirm
	ViewHelp
)

// actionResolvedMsg carries the outcome of submitting a confirmation
// decision to the backend.
type actionResolvedMsg struct {
	resp *api.ChatResponse
	err  error
}

// calendarChangedMsg is delivered when a confirmed action changed
// calendar data.
type calendarChangedMsg struct{}

// authExpiredMsg is delivered when the API client dropped the stored
// credential after an unauthorized response.
type authExpiredMsg struct{}

// meLoadedMsg carries the signed-in user's name for the header.
type meLoadedMsg struct {
	username string
}

// Model is the root Bubble Tea model that manages view routing, layout,
// the confirmation gate, and the decision dispatcher.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *KeyMap
	logger       *zap.Logger

	client     *api.Client
	gate       *chatcore.Gate
	dispatcher *chatcore.Dispatcher
	bus        *notify.Bus
	busCh      <-chan notify.Event
	busCancel  func()

	chatView    chatview.Model
	confirmView confirmview.Model
	helpView    helpview.Model

	authExpiredCh chan struct{}

	ready        bool
	resolving    bool
	username     string
	statusNotice string
}

// New creates a new root application model wired to the API client and
// the local transcript store.
func New(client *api.Client, history *store.SQLiteStore, cfg *model.AppConfig, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys := DefaultKeyMap()

	gate := chatcore.NewGate()
	bus := notify.NewBus()
	dispatcher := chatcore.NewDispatcher(client, gate, bus, nil, logger)
	busCh, busCancel := bus.Subscribe()

	authExpiredCh := make(chan struct{}, 1)
	client.SetAuthExpiredHandler(func() {
		select {
		case authExpiredCh <- struct{}{}:
		default:
		}
	})

	cv := chatview.New(client, history, keys, logger, 80, 24)
	if cfg != nil {
		cv.SetStreamReconnect(
			time.Duration(cfg.Stream.ReconnectInitialMS)*time.Millisecond,
			time.Duration(cfg.Stream.ReconnectMaxMS)*time.Millisecond,
		)
	}

	return Model{
		currentView:   ViewChat,
		keys:          keys,
		logger:        logger,
		client:        client,
		gate:          gate,
		dispatcher:    dispatcher,
		bus:           bus,
		busCh:         busCh,
		busCancel:     busCancel,
		chatView:      cv,
		confirmView:   confirmview.New(gate, keys, logger, 80, 24),
		helpView:      helpview.New(keys, 80, 24),
		authExpiredCh: authExpiredCh,
	}
}

// Init returns the initial commands: restore the transcript, identify
// the signed-in user, and start the notification listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.chatView.Init(),
		m.loadMe(),
		m.waitForCalendarChange(),
		m.waitForAuthExpired(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.chatView.SetSize(contentWidth, contentHeight)
		m.confirmView.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case meLoadedMsg:
		m.username = msg.username
		return m, nil

	case calendarChangedMsg:
		m.statusNotice = "Calendario actualizado"
		return m, m.waitForCalendarChange()

	case authExpiredMsg:
		m.statusNotice = "Sesión expirada. Vuelve a iniciar sesión."
		m.username = ""
		// An expired session empties the gate; leave the dialog.
		if m.currentView == ViewConfirm && m.gate.Pending() == nil {
			m.currentView = ViewChat
		}
		return m, m.waitForAuthExpired()

	case chatview.PendingConfirmationMsg:
		m.gate.Present(msg.Action)
		m.previousView = m.currentView
		m.currentView = ViewConfirm
		return m, m.confirmView.Refresh()

	case confirmview.ConfirmRequestedMsg:
		m.resolving = true
		return m, m.resolveAction("confirm")

	case confirmview.CancelRequestedMsg:
		m.resolving = true
		return m, m.resolveAction("cancel")

	case actionResolvedMsg:
		return m.handleResolved(msg)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit

		case "ctrl+h":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case "esc":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleResolved folds the backend's reply to a confirmation decision
// back into the conversation.
func (m Model) handleResolved(msg actionResolvedMsg) (tea.Model, tea.Cmd) {
	m.resolving = false

	if msg.err != nil {
		// With the restore policy the action is back in the gate, so
		// the dialog stays up for a retry. An auth failure empties it.
		if m.gate.Pending() != nil {
			m.statusNotice = "No se pudo enviar la decisión. Inténtalo de nuevo."
			return m, m.confirmView.Refresh()
		}
		m.currentView = ViewChat
		return m, nil
	}

	m.currentView = ViewChat
	m.statusNotice = ""

	var cmds []tea.Cmd
	if msg.resp != nil && msg.resp.Response != "" {
		cmds = append(cmds, m.chatView.AppendReply(msg.resp))
	}

	// The reply to one decision may itself propose another action.
	if msg.resp != nil && msg.resp.PendingConfirmation != nil {
		m.gate.Present(msg.resp.PendingConfirmation)
		m.previousView = m.currentView
		m.currentView = ViewConfirm
		cmds = append(cmds, m.confirmView.Refresh())
	}

	return m, tea.Batch(cmds...)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewChat:
		m.chatView, cmd = m.chatView.Update(msg)
	case ViewConfirm:
		m.confirmView, cmd = m.confirmView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Cargando..."
	}

	header := m.layout.RenderHeader("Servibot", m.headerStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewChat:
		return m.chatView.View()
	case ViewConfirm:
		return m.confirmView.View()
	case ViewHelp:
		return m.helpView.View()
	default:
		return ""
	}
}

// headerStatus returns the right-aligned header text.
func (m Model) headerStatus() string {
	if m.username != "" {
		return fmt.Sprintf("conectado: %s", m.username)
	}
	return "sin sesión"
}

// keyHints returns keyboard shortcut hints for the status bar. A
// pending notice takes precedence over the hints.
func (m Model) keyHints() string {
	if m.statusNotice != "" {
		return m.statusNotice
	}

	switch m.currentView {
	case ViewConfirm:
		if m.resolving {
			return "enviando decisión..."
		}
		if m.gate.State() == chatcore.StateEditing {
			return "enter guardar y enviar | esc descartar cambios"
		}
		return "y confirmar | n cancelar | e editar"
	case ViewHelp:
		return "ctrl+h cerrar ayuda | esc volver"
	default:
		return "enter enviar | ctrl+h ayuda | ctrl+c salir"
	}
}

// resolveAction submits the user's decision through the dispatcher.
func (m Model) resolveAction(decision string) tea.Cmd {
	d := m.dispatcher
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var (
			resp *api.ChatResponse
			err  error
		)
		if decision == "confirm" {
			resp, err = d.Confirm(ctx)
		} else {
			resp, err = d.Cancel(ctx)
		}
		return actionResolvedMsg{resp: resp, err: err}
	}
}

// loadMe fetches the signed-in user for the header. Failure is not
// fatal; the header just shows no session.
func (m Model) loadMe() tea.Cmd {
	client := m.client
	logger := m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Me(ctx)
		if err != nil {
			logger.Debug("loading session info", zap.Error(err))
			return meLoadedMsg{}
		}
		if !me.Authenticated || me.User == nil {
			return meLoadedMsg{}
		}
		return meLoadedMsg{username: me.User.Name}
	}
}

// waitForCalendarChange blocks on the notification bus and re-arms
// after each delivery.
func (m Model) waitForCalendarChange() tea.Cmd {
	ch := m.busCh
	return func() tea.Msg {
		for ev := range ch {
			if ev == notify.CalendarChanged {
				return calendarChangedMsg{}
			}
		}
		return nil
	}
}

// waitForAuthExpired blocks until the API client reports a dropped
// credential.
func (m Model) waitForAuthExpired() tea.Cmd {
	ch := m.authExpiredCh
	return func() tea.Msg {
		<-ch
		return authExpiredMsg{}
	}
}

// shutdown stops the stream and the bus subscription before quitting.
func (m *Model) shutdown() {
	m.chatView.Shutdown()
	m.busCancel()
}
