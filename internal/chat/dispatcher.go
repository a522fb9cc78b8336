package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rufae/servibot/internal/api"
	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/notify"
)

// FailurePolicy decides what happens to the pending action when the
// confirm/cancel POST itself fails.
type FailurePolicy int

const (
	// RestorePending puts the action back in the gate so the user can
	// retry the decision. This is the default.
	RestorePending FailurePolicy = iota

	// DiscardPending drops the action; the user must restart the flow
	// with a fresh chat turn.
	DiscardPending
)

// Transcript receives resolved replies. The store and the chat view
// both satisfy it.
type Transcript interface {
	Append(ctx context.Context, msg model.Message) error
}

// Dispatcher submits the user's confirmation decisions to the backend
// and folds the reply into the conversation transcript. After a
// confirmed calendar-affecting action it broadcasts a calendar-changed
// notification so independent UI regions can refresh.
type Dispatcher struct {
	client     *api.Client
	gate       *Gate
	bus        *notify.Bus
	transcript Transcript
	policy     FailurePolicy
	logger     *zap.Logger
}

// NewDispatcher wires a dispatcher. bus and transcript may be nil when
// the caller handles those concerns itself.
func NewDispatcher(client *api.Client, gate *Gate, bus *notify.Bus, transcript Transcript, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		client:     client,
		gate:       gate,
		bus:        bus,
		transcript: transcript,
		policy:     RestorePending,
		logger:     logger,
	}
}

// SetFailurePolicy overrides what happens to the pending action when
// the decision POST fails.
func (d *Dispatcher) SetFailurePolicy(p FailurePolicy) {
	d.policy = p
}

// Confirm resolves the gate affirmatively (original or edited
// parameters, depending on gate state) and submits the decision.
func (d *Dispatcher) Confirm(ctx context.Context) (*api.ChatResponse, error) {
	action, err := d.gate.Confirm()
	if err != nil {
		return nil, err
	}
	return d.submit(ctx, "confirm", action)
}

// Cancel resolves the gate negatively and submits the decision so the
// backend aborts the proposed action.
func (d *Dispatcher) Cancel(ctx context.Context) (*api.ChatResponse, error) {
	action, err := d.gate.Cancel()
	if err != nil {
		return nil, err
	}
	return d.submit(ctx, "cancel", action)
}

// submit posts the decision, applies the failure policy, folds the
// reply into the transcript, and broadcasts the calendar notification
// when a calendar-affecting action was confirmed.
func (d *Dispatcher) submit(ctx context.Context, decision string, action *model.PendingAction) (*api.ChatResponse, error) {
	resp, err := d.client.ResolveAction(ctx, &api.ConfirmationRequest{
		Message:            "",
		ConfirmationAction: decision,
		PendingActionData:  action,
	})
	if err != nil {
		d.logger.Warn("submitting confirmation decision",
			zap.String("decision", decision),
			zap.String("action_type", string(action.Type)),
			zap.Error(err),
		)
		if d.policy == RestorePending && !api.IsAuthError(err) {
			d.gate.Present(action)
		}
		return nil, fmt.Errorf("submitting %s decision: %w", decision, err)
	}

	if d.transcript != nil {
		msg := model.Message{
			Role:      model.RoleAssistant,
			Content:   resp.Response,
			Timestamp: parseTimestamp(resp.Timestamp),
			Sources:   resp.Sources,
			Plan:      resp.Plan,
		}
		if err := d.transcript.Append(ctx, msg); err != nil {
			d.logger.Warn("appending reply to transcript", zap.Error(err))
		}
	}

	if decision == "confirm" && action.Type.Calendar() && d.bus != nil {
		d.bus.Publish(notify.CalendarChanged)
	}

	return resp, nil
}

// parseTimestamp converts the backend's ISO timestamp, falling back to
// now when it is absent or malformed.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
