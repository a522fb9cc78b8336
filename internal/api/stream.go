package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rufae/servibot/internal/model"
)

// Stream event payloads, decoded from the backend's SSE channel.

// PlanEvent reports plan generation progress for the turn.
type PlanEvent struct {
	Status   string           `json:"status"`
	Subtasks []model.PlanStep `json:"subtasks,omitempty"`
}

// StepEvent reports the execution state of a single plan step.
type StepEvent struct {
	Step   int    `json:"step"`
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
	Tool   string `json:"tool,omitempty"`
}

// ResponseEvent carries the final response for the turn.
type ResponseEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StreamHandlers receives decoded events. Nil handlers are skipped.
type StreamHandlers struct {
	OnPlan     func(PlanEvent)
	OnStep     func(StepEvent)
	OnResponse func(ResponseEvent)
	OnError    func(error)

	// OnDone fires once when the termination sentinel arrives. The
	// stream is closed afterwards and never reconnects.
	OnDone func()
}

// StreamClient consumes the one-way SSE channel for a single chat turn.
// While the client is active, transport drops trigger reconnection with
// bounded exponential backoff; Close is the only way to stop it.
type StreamClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	handlers   StreamHandlers
	logger     *zap.Logger

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamClient creates a stream client for the backend at baseURL.
func NewStreamClient(baseURL string, tokens TokenStore, handlers StreamHandlers, logger *zap.Logger) *StreamClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No Timeout here: an SSE response body stays open for the
		// whole turn.
		httpClient:       &http.Client{},
		tokens:           tokens,
		handlers:         handlers,
		logger:           logger,
		reconnectInitial: 2 * time.Second,
		reconnectMax:     30 * time.Second,
		closed:           make(chan struct{}),
	}
}

// SetReconnectPolicy overrides the reconnect delay bounds.
func (s *StreamClient) SetReconnectPolicy(initial, max time.Duration) {
	if initial > 0 {
		s.reconnectInitial = initial
	}
	if max >= initial {
		s.reconnectMax = max
	}
}

// Connect opens the stream for one chat turn. The turn's parameters are
// carried in the request itself since the channel is read-only. Connect
// returns immediately; events are delivered on a background goroutine.
// A closed client stays closed: Connect after Close is a no-op.
func (s *StreamClient) Connect(message, conversationID string) {
	select {
	case <-s.closed:
		// A closed client is spent; reconnecting it would leak a
		// goroutine with no cancel path.
		return
	default:
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	params := url.Values{}
	params.Set("message", message)
	if conversationID != "" {
		params.Set("conversation_id", conversationID)
	}

	go s.run(ctx, "/api/chat/stream?"+params.Encode())
}

// Close tears the stream down. It sets the active flag to false exactly
// once; any reconnect already scheduled observes the flag and becomes a
// no-op. Close is safe to call multiple times and after the sentinel.
func (s *StreamClient) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(s.closed)
	})
}

func (s *StreamClient) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// run is the connect/read/reconnect loop. It exits when the sentinel
// arrives (terminal) or the client is closed.
func (s *StreamClient) run(ctx context.Context, path string) {
	delay := s.reconnectInitial

	for s.isActive() {
		done, err := s.consume(ctx, path)
		if done {
			return
		}
		if !s.isActive() {
			return
		}

		if err != nil {
			s.logger.Warn("stream connection error", zap.Error(err))
			if s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
		}

		// Schedule the reconnect. A Close during the wait wins.
		select {
		case <-s.closed:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.reconnectMax {
			delay = s.reconnectMax
		}
	}
}

// consume opens the stream and dispatches events until it ends. The
// returned bool is true when the termination sentinel was seen.
func (s *StreamClient) consume(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.tokens != nil {
		if token, err := s.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line ends one event.
			if eventName != "" || data.Len() > 0 {
				if s.dispatch(eventName, data.String()) {
					return true, nil
				}
			}
			eventName = ""
			data.Reset()

		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))

		case strings.HasPrefix(line, ":"):
			// Comment/heartbeat; ignore.
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return false, fmt.Errorf("reading stream: %w", err)
	}
	// Server closed the stream without a sentinel; reconnect.
	return false, nil
}

// dispatch decodes one event and routes it to the matching handler. The
// returned bool is true for the termination sentinel. Malformed
// payloads and unknown types are logged and skipped; the channel heals
// on the next valid event.
func (s *StreamClient) dispatch(eventName, data string) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		s.logger.Warn("malformed stream event",
			zap.String("event", eventName),
			zap.Error(err),
		)
		return false
	}

	// The declared type inside the payload wins; fall back to the SSE
	// event name.
	kind := envelope.Type
	if kind == "" {
		kind = eventName
	}

	switch kind {
	case "done":
		if s.handlers.OnDone != nil {
			s.handlers.OnDone()
		}
		s.Close()
		return true

	case "plan":
		var ev PlanEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed plan event", zap.Error(err))
			return false
		}
		if s.handlers.OnPlan != nil {
			s.handlers.OnPlan(ev)
		}

	case "step":
		var ev StepEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed step event", zap.Error(err))
			return false
		}
		if s.handlers.OnStep != nil {
			s.handlers.OnStep(ev)
		}

	case "response":
		var ev ResponseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed response event", zap.Error(err))
			return false
		}
		if s.handlers.OnResponse != nil {
			s.handlers.OnResponse(ev)
		}

	case "error":
		var ev struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("malformed error event", zap.Error(err))
			return false
		}
		if s.handlers.OnError != nil {
			s.handlers.OnError(fmt.Errorf("stream error: %s", ev.Message))
		}

	default:
		s.logger.Debug("unrecognized stream event type", zap.String("type", kind))
	}

	return false
}
