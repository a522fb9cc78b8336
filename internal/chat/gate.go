// Package chat implements the confirmation protocol between the user
// and the agent backend: the single-slot confirmation gate, the action
// fingerprint, and the dispatcher that submits decisions.
package chat

import (
	"errors"
	"sync"

	"github.com/rufae/servibot/internal/model"
)

// GateState is the confirmation gate's current state.
type GateState int

const (
	// StateNoPending means no action is awaiting confirmation.
	StateNoPending GateState = iota

	// StateViewing means a pending action is shown for review.
	StateViewing

	// StateEditing means the user is modifying a draft of the
	// pending action's parameters.
	StateEditing
)

var (
	// ErrNoPending is returned by transitions that need a pending action.
	ErrNoPending = errors.New("no pending action")

	// ErrNotEditable is returned when edit is requested for an action
	// type that does not allow it.
	ErrNotEditable = errors.New("action is not editable")

	// ErrNotEditing is returned by draft operations outside Editing.
	ErrNotEditing = errors.New("not editing")
)

// Gate is the single-slot state machine holding zero or one pending
// action. Presenting a new action replaces any previous one.
//
// Editing intent survives incidental re-initialization of the owning
// UI: the fact "the user was editing action F" is kept in an in-memory
// map keyed by fingerprint, so re-presenting an unchanged action
// restores Editing instead of silently reverting to Viewing.
type Gate struct {
	mu sync.Mutex

	state   GateState
	pending *model.PendingAction
	draft   model.ActionParams

	editIntents map[string]struct{}
}

// NewGate creates a gate with no pending action.
func NewGate() *Gate {
	return &Gate{
		state:       StateNoPending,
		editIntents: make(map[string]struct{}),
	}
}

// Present installs a pending action, replacing any previous one. The
// draft starts as a copy of the action's parameters. If editing intent
// is recorded for this action's fingerprint, the gate resumes Editing.
func (g *Gate) Present(action *model.PendingAction) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending = action
	g.draft = action.Params.Clone()

	if _, editing := g.editIntents[Fingerprint(action)]; editing && action.Type.Editable() {
		g.state = StateEditing
	} else {
		g.state = StateViewing
	}
}

// State returns the gate's current state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns the action awaiting confirmation, or nil.
func (g *Gate) Pending() *model.PendingAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Draft returns the editable parameter copy. It is only meaningful
// while a pending action exists.
func (g *Gate) Draft() model.ActionParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draft
}

// BeginEdit moves Viewing to Editing and records the editing intent for
// the action's fingerprint. Only email sends and new calendar events
// are editable.
func (g *Gate) BeginEdit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return ErrNoPending
	}
	if !g.pending.Type.Editable() {
		return ErrNotEditable
	}

	g.editIntents[Fingerprint(g.pending)] = struct{}{}
	g.state = StateEditing
	return nil
}

// SetDraftField updates one field of the editing draft.
func (g *Gate) SetDraftField(name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateEditing {
		return ErrNotEditing
	}
	return g.draft.SetField(name, value)
}

// CancelEdit abandons the draft and returns to Viewing. The recorded
// editing intent for this action is cleared and the draft resets to
// the original parameters.
func (g *Gate) CancelEdit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateEditing {
		return ErrNotEditing
	}

	delete(g.editIntents, Fingerprint(g.pending))
	g.draft = g.pending.Params.Clone()
	g.state = StateViewing
	return nil
}

// Confirm resolves the pending action affirmatively and empties the
// gate. From Viewing the original action is returned unchanged; from
// Editing the returned action carries the draft parameters ("save and
// send") and the editing intent is cleared.
func (g *Gate) Confirm() (*model.PendingAction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return nil, ErrNoPending
	}

	action := g.pending
	if g.state == StateEditing {
		delete(g.editIntents, Fingerprint(action))
		action = &model.PendingAction{
			Type:                g.pending.Type,
			Params:              g.draft,
			ConfirmationMessage: g.pending.ConfirmationMessage,
		}
	}

	g.reset()
	return action, nil
}

// Cancel resolves the pending action negatively and empties the gate.
// It is valid from both Viewing and Editing.
func (g *Gate) Cancel() (*model.PendingAction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending == nil {
		return nil, ErrNoPending
	}

	action := g.pending
	delete(g.editIntents, Fingerprint(action))
	g.reset()
	return action, nil
}

// HasEditIntent reports whether editing intent is recorded for the
// given fingerprint.
func (g *Gate) HasEditIntent(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.editIntents[fingerprint]
	return ok
}

// ClearEditIntent drops any recorded editing intent for the given
// fingerprint. Clearing an absent entry is a no-op.
func (g *Gate) ClearEditIntent(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.editIntents, fingerprint)
}

// reset empties the slot. Callers hold the lock.
func (g *Gate) reset() {
	g.pending = nil
	g.draft = nil
	g.state = StateNoPending
}
