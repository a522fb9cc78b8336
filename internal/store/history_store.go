package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rufae/servibot/internal/model"
)

// Conversation is one persisted chat session.
type Conversation struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// messageRow is the database shape of a transcript message. Sources and
// plan are stored as JSON columns.
type messageRow struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	Timestamp      time.Time `db:"timestamp"`
	Sources        string    `db:"sources"`
	Plan           string    `db:"plan"`
	Err            bool      `db:"error"`
}

// CreateConversation inserts a new conversation. Generates a UUID if ID
// is empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv Conversation) (Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// LatestConversation returns the most recently updated conversation, or
// nil when none exists yet.
func (s *SQLiteStore) LatestConversation(ctx context.Context) (*Conversation, error) {
	var conv Conversation
	err := s.db.GetContext(ctx, &conv, `
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
		LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest conversation: %w", err)
	}
	return &conv, nil
}

// AppendMessage stores one transcript message in a conversation.
// Generates a UUID if the message has no ID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	sources, err := json.Marshal(msg.Sources)
	if err != nil {
		return fmt.Errorf("encoding sources: %w", err)
	}
	plan, err := json.Marshal(msg.Plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, role, content, timestamp, sources, plan, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), msg.Content, msg.Timestamp,
		string(sources), string(plan), msg.Err,
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		time.Now().UTC(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// Messages returns a conversation's transcript in chronological order.
func (s *SQLiteStore) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conversation_id, role, content, timestamp, sources, plan, error
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msg := model.Message{
			ID:        row.ID,
			Role:      model.Role(row.Role),
			Content:   row.Content,
			Timestamp: row.Timestamp,
			Err:       row.Err,
		}
		if row.Sources != "" {
			if err := json.Unmarshal([]byte(row.Sources), &msg.Sources); err != nil {
				return nil, fmt.Errorf("decoding sources for message %s: %w", row.ID, err)
			}
		}
		if row.Plan != "" {
			if err := json.Unmarshal([]byte(row.Plan), &msg.Plan); err != nil {
				return nil, fmt.Errorf("decoding plan for message %s: %w", row.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}
