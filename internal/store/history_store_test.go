package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rufae/servibot/internal/model"
	"github.com/rufae/servibot/internal/store"
	"github.com/rufae/servibot/tests/testutil"
)

func TestCreateAndLoadConversation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.Conversation{Title: "Consulta de agenda"})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID, "ID generated when absent")

	latest, err := s.LatestConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, conv.ID, latest.ID)
	assert.Equal(t, "Consulta de agenda", latest.Title)
}

func TestLatestConversationEmptyStore(t *testing.T) {
	s := testutil.NewTestStore(t)

	latest, err := s.LatestConversation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestAppendAndListMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.Conversation{})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role:      model.RoleUser,
		Content:   "¿Qué eventos tengo mañana?",
		Timestamp: base,
	}))
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role:      model.RoleAssistant,
		Content:   "Tienes dos eventos.",
		Timestamp: base.Add(time.Second),
		Sources:   []string{"agenda.pdf"},
		Plan: []model.PlanStep{
			{Step: 1, Action: "consultar calendario", Status: "completed"},
		},
	}))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "¿Qué eventos tengo mañana?", msgs[0].Content)

	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, []string{"agenda.pdf"}, msgs[1].Sources)
	require.Len(t, msgs[1].Plan, 1)
	assert.Equal(t, "consultar calendario", msgs[1].Plan[0].Action)
}

func TestMessagesChronologicalOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.Conversation{})
	require.NoError(t, err)

	base := time.Now().UTC()
	// Insert out of order; reads must come back chronological.
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role: model.RoleAssistant, Content: "segundo", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role: model.RoleUser, Content: "primero", Timestamp: base,
	}))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "primero", msgs[0].Content)
	assert.Equal(t, "segundo", msgs[1].Content)
}

func TestAppendTouchesConversation(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	older, err := s.CreateConversation(ctx, store.Conversation{Title: "vieja"})
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, store.Conversation{Title: "nueva"})
	require.NoError(t, err)

	// Appending to the older conversation makes it the latest again.
	require.NoError(t, s.AppendMessage(ctx, older.ID, model.Message{
		Role: model.RoleUser, Content: "hola",
	}))

	latest, err := s.LatestConversation(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, older.ID, latest.ID)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.Conversation{})
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role: model.RoleUser, Content: "hola",
	}))

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	latest, err := s.LatestConversation(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestErrorNoticePersists(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, store.Conversation{})
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, conv.ID, model.Message{
		Role:    model.RoleAssistant,
		Content: "Lo siento, no pude procesar tu mensaje.",
		Err:     true,
	}))

	msgs, err := s.Messages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Err)
}
