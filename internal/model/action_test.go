package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingActionUnmarshalTypedVariants(t *testing.T) {
	t.Run("send_email", func(t *testing.T) {
		var a PendingAction
		err := json.Unmarshal([]byte(`{
			"action_type": "send_email",
			"action_params": {"to": "ana@example.com", "subject": "Hola", "body": "¿Qué tal?"},
			"confirmation_message": "¿Enviar este correo?"
		}`), &a)
		require.NoError(t, err)

		assert.Equal(t, ActionSendEmail, a.Type)
		params, ok := a.Params.(*EmailParams)
		require.True(t, ok, "email actions decode to *EmailParams, got %T", a.Params)
		assert.Equal(t, "ana@example.com", params.To)
		assert.Equal(t, "¿Enviar este correo?", a.ConfirmationMessage)
	})

	t.Run("create_calendar_event", func(t *testing.T) {
		var a PendingAction
		err := json.Unmarshal([]byte(`{
			"action_type": "create_calendar_event",
			"action_params": {"summary": "Cita", "start": "2025-02-01T10:00:00", "location": "Madrid"}
		}`), &a)
		require.NoError(t, err)

		params, ok := a.Params.(*CalendarEventParams)
		require.True(t, ok)
		assert.Equal(t, "Cita", params.Summary)
		assert.Empty(t, params.EventID)
	})

	t.Run("delete_calendar_event", func(t *testing.T) {
		var a PendingAction
		err := json.Unmarshal([]byte(`{
			"action_type": "delete_calendar_event",
			"action_params": {"event_id": "ev-3"}
		}`), &a)
		require.NoError(t, err)

		params, ok := a.Params.(*CalendarDeleteParams)
		require.True(t, ok)
		assert.Equal(t, "ev-3", params.EventID)
	})

	t.Run("unknown type falls back to opaque params", func(t *testing.T) {
		var a PendingAction
		err := json.Unmarshal([]byte(`{
			"action_type": "reboot_flux_capacitor",
			"action_params": {"power": "1.21GW"}
		}`), &a)
		require.NoError(t, err)

		assert.Equal(t, ActionOther, a.Type)
		params, ok := a.Params.(OtherParams)
		require.True(t, ok)
		assert.Equal(t, "1.21GW", params["power"])
	})
}

func TestPendingActionValidationOnConstruction(t *testing.T) {
	t.Run("email without recipient", func(t *testing.T) {
		_, err := NewPendingAction(ActionSendEmail, &EmailParams{Subject: "sin destino"}, "")
		assert.Error(t, err)
	})

	t.Run("delete without event id", func(t *testing.T) {
		_, err := NewPendingAction(ActionDeleteCalendarEvent, &CalendarDeleteParams{}, "")
		assert.Error(t, err)
	})

	t.Run("nil params", func(t *testing.T) {
		_, err := NewPendingAction(ActionSendEmail, nil, "")
		assert.Error(t, err)
	})

	t.Run("calendar update by reference alone", func(t *testing.T) {
		_, err := NewPendingAction(ActionUpdateCalendarEvent, &CalendarEventParams{EventID: "ev-1"}, "")
		assert.NoError(t, err)
	})
}

func TestPendingActionMarshalWireShape(t *testing.T) {
	a, err := NewPendingAction(
		ActionSendEmail,
		&EmailParams{To: "ana@example.com", Subject: "Hola", Body: "¿Qué tal?"},
		"¿Enviar?",
	)
	require.NoError(t, err)

	data, err := json.Marshal(a)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Contains(t, wire, "action_type")
	assert.Contains(t, wire, "action_params")
	assert.Contains(t, wire, "confirmation_message")
}

func TestConfirmationMessageSeparatorStripping(t *testing.T) {
	a, err := NewPendingAction(
		ActionSendEmail,
		&EmailParams{To: "ana@example.com"},
		"──────────\nVoy a enviar un correo a Ana.\n==========\n¿Confirmas?\n----------",
	)
	require.NoError(t, err)
	assert.Equal(t, "Voy a enviar un correo a Ana.\n¿Confirmas?", a.ConfirmationMessage)
}

func TestActionTypePredicates(t *testing.T) {
	assert.True(t, ActionSendEmail.Editable())
	assert.True(t, ActionCreateCalendarEvent.Editable())
	assert.False(t, ActionUpdateCalendarEvent.Editable())
	assert.False(t, ActionDeleteCalendarEvent.Editable())
	assert.False(t, ActionOther.Editable())

	assert.False(t, ActionSendEmail.Calendar())
	assert.True(t, ActionCreateCalendarEvent.Calendar())
	assert.True(t, ActionUpdateCalendarEvent.Calendar())
	assert.True(t, ActionDeleteCalendarEvent.Calendar())
}

func TestOtherParamsCloneIsIndependent(t *testing.T) {
	orig := OtherParams{"a": "1"}
	clone := orig.Clone().(OtherParams)
	clone["a"] = "2"
	assert.Equal(t, "1", orig["a"])
}

func TestEmailParamsSetFieldRejectsUnknown(t *testing.T) {
	p := &EmailParams{}
	assert.Error(t, p.SetField("cc", "x"))
	require.NoError(t, p.SetField("to", "ana@example.com"))
	assert.Equal(t, "ana@example.com", p.To)
}
