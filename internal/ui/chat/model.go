package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/rufae/servibot/internal/api"
	"github.com/rufae/servibot/internal/keys"
	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/store"
	"github.com/rufae/servibot/internal/theme"
)

// sendFailedNotice is appended to the transcript when a chat send fails
// after all retries, so the failure is never silent.
const sendFailedNotice = "Lo siento, no pude procesar tu mensaje. Inténtalo de nuevo."

// PendingConfirmationMsg tells the root model to open the confirmation
// dialog for a proposed action.
type PendingConfirmationMsg struct {
	Action *model.PendingAction
}

// ReplyMsg carries the backend's reply to a chat turn.
type ReplyMsg struct {
	Response *api.ChatResponse
	Err      error
}

// StreamEventMsg carries one decoded stream event into the UI loop.
type StreamEventMsg struct {
	Plan     *api.PlanEvent
	Step     *api.StepEvent
	Response *api.ResponseEvent
	Err      error
	Done     bool

	// ch identifies the turn the event belongs to. Events from a
	// superseded turn's channel are dropped on arrival.
	ch chan StreamEventMsg
}

// stepProgress is one live plan step shown while a turn executes.
type stepProgress struct {
	Step   int
	Action string
	Status string
}

// Model is the chat view: the transcript, the input area, and the live
// plan progress for the current turn.
type Model struct {
	client  *api.Client
	history *store.SQLiteStore
	logger  *zap.Logger
	keys    *keys.KeyMap

	// conversationID is the backend's identifier for the turn series;
	// localConversationID keys the persisted transcript.
	conversationID      string
	localConversationID string

	messages []model.Message

	input    textarea.Model
	viewport viewport.Model
	spin     spinner.Model

	stream           *api.StreamClient
	streamCh         chan StreamEventMsg
	steps            []stepProgress
	reconnectInitial time.Duration
	reconnectMax     time.Duration

	waiting bool
	width   int
	height  int
}

// New creates the chat view.
func New(client *api.Client, history *store.SQLiteStore, k *keys.KeyMap, logger *zap.Logger, width, height int) Model {
	ta := textarea.New()
	ta.Placeholder = "Escribe un mensaje..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.SetWidth(width - 4)
	ta.SetHeight(3)
	ta.CharLimit = 4000
	ta.Focus()

	vpHeight := height - 8
	if vpHeight < 4 {
		vpHeight = 4
	}
	vp := viewport.New(width-4, vpHeight)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		client:   client,
		history:  history,
		logger:   logger,
		keys:     k,
		input:    ta,
		viewport: vp,
		spin:     sp,
		width:    width,
		height:   height,
	}
}

// SetStreamReconnect overrides the reconnect delay bounds applied to
// each per-turn event stream.
func (m *Model) SetStreamReconnect(initial, max time.Duration) {
	m.reconnectInitial = initial
	m.reconnectMax = max
}

// Init returns the initial command for the chat view.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadHistory())
}

// historyLoadedMsg restores a persisted transcript on startup.
type historyLoadedMsg struct {
	conversationID string
	messages       []model.Message
}

// loadHistory restores the latest persisted conversation, creating a
// fresh one when none exists yet.
func (m Model) loadHistory() tea.Cmd {
	history := m.history
	logger := m.logger
	return func() tea.Msg {
		if history == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conv, err := history.LatestConversation(ctx)
		if err != nil {
			logger.Warn("loading conversation history", zap.Error(err))
			return nil
		}
		if conv == nil {
			created, err := history.CreateConversation(ctx, store.Conversation{})
			if err != nil {
				logger.Warn("creating conversation", zap.Error(err))
				return nil
			}
			return historyLoadedMsg{conversationID: created.ID}
		}
		msgs, err := history.Messages(ctx, conv.ID)
		if err != nil {
			logger.Warn("loading transcript", zap.Error(err))
			return nil
		}
		return historyLoadedMsg{conversationID: conv.ID, messages: msgs}
	}
}

// Update handles messages for the chat view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		m.localConversationID = msg.conversationID
		m.messages = msg.messages
		m.refreshViewport()
		return m, nil

	case ReplyMsg:
		return m.handleReply(msg)

	case StreamEventMsg:
		return m.handleStreamEvent(msg)

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	var cmds []tea.Cmd

	var taCmd tea.Cmd
	m.input, taCmd = m.input.Update(msg)
	if taCmd != nil {
		cmds = append(cmds, taCmd)
	}

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	if vpCmd != nil {
		cmds = append(cmds, vpCmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyMsg processes keyboard input for the chat view.
func (m Model) handleKeyMsg(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Send):
		if m.waiting {
			return m, nil
		}

		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}

		m.input.Reset()
		userMsg := model.Message{
			Role:      model.RoleUser,
			Content:   text,
			Timestamp: time.Now(),
		}
		m.messages = append(m.messages, userMsg)
		m.waiting = true
		m.steps = nil
		m.refreshViewport()

		return m, tea.Batch(
			m.spin.Tick,
			m.persist(userMsg),
			m.sendMessage(text),
			m.openStream(text),
		)

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfPageUp()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.HalfPageDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendMessage returns a command that posts the chat turn.
func (m Model) sendMessage(text string) tea.Cmd {
	client := m.client
	conversationID := m.conversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		resp, err := client.Chat(ctx, &api.ChatRequest{
			Message:        text,
			ConversationID: conversationID,
		})
		return ReplyMsg{Response: resp, Err: err}
	}
}

// openStream starts the per-turn event stream and returns a command
// that relays its events into the UI loop.
func (m *Model) openStream(text string) tea.Cmd {
	m.closeStream()

	ch := make(chan StreamEventMsg, 32)
	m.streamCh = ch

	forward := func(ev StreamEventMsg) {
		ev.ch = ch
		select {
		case ch <- ev:
		default:
			// Drop rather than block the stream reader.
		}
	}

	m.stream = api.NewStreamClient(m.client.BaseURL(), m.client.Tokens(), api.StreamHandlers{
		OnPlan:     func(ev api.PlanEvent) { forward(StreamEventMsg{Plan: &ev}) },
		OnStep:     func(ev api.StepEvent) { forward(StreamEventMsg{Step: &ev}) },
		OnResponse: func(ev api.ResponseEvent) { forward(StreamEventMsg{Response: &ev}) },
		OnError:    func(err error) { forward(StreamEventMsg{Err: err}) },
		OnDone:     func() { forward(StreamEventMsg{Done: true}) },
	}, m.logger)
	if m.reconnectInitial > 0 {
		m.stream.SetReconnectPolicy(m.reconnectInitial, m.reconnectMax)
	}
	m.stream.Connect(text, m.conversationID)

	return m.waitForStreamEvent()
}

// waitForStreamEvent returns a command that waits for the next stream
// event. It re-arms itself from handleStreamEvent until done.
func (m Model) waitForStreamEvent() tea.Cmd {
	ch := m.streamCh
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return ev
	}
}

// closeStream tears down the current turn's stream, if any. A done
// event is injected so an armed waitForStreamEvent command unblocks
// instead of waiting on a channel nothing writes to anymore.
func (m *Model) closeStream() {
	if m.stream == nil {
		return
	}
	m.stream.Close()
	m.stream = nil
	if m.streamCh != nil {
		select {
		case m.streamCh <- StreamEventMsg{Done: true, ch: m.streamCh}:
		default:
		}
	}
}

// handleStreamEvent folds a live execution event into the progress view.
// Events carrying a superseded turn's channel are dropped so a late Done
// from the previous turn cannot tear down the current one.
func (m Model) handleStreamEvent(ev StreamEventMsg) (Model, tea.Cmd) {
	if ev.ch != m.streamCh {
		return m, nil
	}

	switch {
	case ev.Done:
		m.closeStream()
		return m, nil

	case ev.Plan != nil:
		m.steps = m.steps[:0]
		for _, st := range ev.Plan.Subtasks {
			m.steps = append(m.steps, stepProgress{
				Step:   st.Step,
				Action: st.Action,
				Status: "pending",
			})
		}

	case ev.Step != nil:
		updated := false
		for i := range m.steps {
			if m.steps[i].Step == ev.Step.Step {
				m.steps[i].Status = ev.Step.Status
				if ev.Step.Action != "" {
					m.steps[i].Action = ev.Step.Action
				}
				updated = true
				break
			}
		}
		if !updated {
			m.steps = append(m.steps, stepProgress{
				Step:   ev.Step.Step,
				Action: ev.Step.Action,
				Status: ev.Step.Status,
			})
		}

	case ev.Err != nil:
		m.logger.Warn("stream event error", zap.Error(ev.Err))
	}

	m.refreshViewport()
	return m, m.waitForStreamEvent()
}

// handleReply folds the backend's reply into the transcript, or raises
// the confirmation dialog when the reply proposes an action.
func (m Model) handleReply(msg ReplyMsg) (Model, tea.Cmd) {
	m.waiting = false
	m.closeStream()

	if msg.Err != nil {
		m.logger.Warn("chat send failed", zap.Error(msg.Err))
		notice := model.Message{
			Role:      model.RoleAssistant,
			Content:   sendFailedNotice,
			Timestamp: time.Now(),
			Err:       true,
		}
		m.messages = append(m.messages, notice)
		m.refreshViewport()
		return m, m.persist(notice)
	}

	resp := msg.Response
	if resp.ConversationID != "" {
		m.conversationID = resp.ConversationID
	}

	if resp.PendingConfirmation != nil {
		return m, func() tea.Msg {
			return PendingConfirmationMsg{Action: resp.PendingConfirmation}
		}
	}

	reply := model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Response,
		Timestamp: time.Now(),
		Sources:   resp.Sources,
		Plan:      resp.Plan,
	}
	m.messages = append(m.messages, reply)
	m.steps = nil
	m.refreshViewport()
	return m, m.persist(reply)
}

// AppendMessage adds a finalized message to the transcript, persisting
// it. The root model uses this for resolved confirmation replies.
func (m *Model) AppendMessage(msg model.Message) tea.Cmd {
	m.messages = append(m.messages, msg)
	m.refreshViewport()
	return m.persist(msg)
}

// AppendReply folds a backend reply from outside the chat turn (a
// resolved confirmation decision) into the transcript.
func (m *Model) AppendReply(resp *api.ChatResponse) tea.Cmd {
	if resp.ConversationID != "" {
		m.conversationID = resp.ConversationID
	}
	m.steps = nil
	return m.AppendMessage(model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Response,
		Timestamp: time.Now(),
		Sources:   resp.Sources,
		Plan:      resp.Plan,
	})
}

// ConversationID returns the backend's identifier for the active
// conversation, or "" before the first reply assigns one.
func (m *Model) ConversationID() string {
	return m.conversationID
}

// persist writes a message to the local transcript store.
func (m *Model) persist(msg model.Message) tea.Cmd {
	history := m.history
	logger := m.logger
	conversationID := m.localConversationID
	return func() tea.Msg {
		if history == nil || conversationID == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := history.AppendMessage(ctx, conversationID, msg); err != nil {
			logger.Warn("persisting message", zap.Error(err))
		}
		return nil
	}
}

// refreshViewport re-renders the transcript and scrolls to the bottom.
func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// renderTranscript builds the transcript display string.
func (m Model) renderTranscript() string {
	if len(m.messages) == 0 {
		return lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("Habla con Servibot: consulta tus documentos, tu calendario o tu correo.")
	}

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}

		switch {
		case msg.Err:
			b.WriteString(theme.ErrorStyle.Render(msg.Content))
		case msg.Role == model.RoleUser:
			b.WriteString(theme.UserLabelStyle.Render("Tú: "))
			b.WriteString(msg.Content)
		default:
			b.WriteString(theme.AssistantLabelStyle.Render("Servibot: "))
			b.WriteString(msg.Content)
			if len(msg.Sources) > 0 {
				b.WriteString("\n")
				b.WriteString(theme.SourceStyle.Render("Fuentes: " + strings.Join(msg.Sources, ", ")))
			}
		}
	}

	if m.waiting && len(m.steps) > 0 {
		b.WriteString("\n\n")
		for _, st := range m.steps {
			line := fmt.Sprintf("%s %d. %s",
				theme.StepStyle(st.Status).Render("●"),
				st.Step,
				st.Action,
			)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// View renders the chat view.
func (m Model) View() string {
	status := ""
	if m.waiting {
		status = m.spin.View() + " pensando..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		theme.HelpStyle.Render(status),
		m.input.View(),
	)
}

// SetSize updates the chat view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.SetWidth(width - 4)
	vpHeight := height - 8
	if vpHeight < 4 {
		vpHeight = 4
	}
	m.viewport.Width = width - 4
	m.viewport.Height = vpHeight
	m.refreshViewport()
}

// Shutdown releases the turn's stream on application exit.
func (m *Model) Shutdown() {
	m.closeStream()
}
