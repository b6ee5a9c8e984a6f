package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context, c Conversation) error {
	return insertConversation(ctx, s.conn, c)
}

func insertConversation(ctx context.Context, c conn, conv Conversation) error {
	_, err := c.exec(ctx, `
		INSERT INTO conversations (id, user_id, subject_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.SubjectID, conv.Title, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
	)
	return err
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.queryRow(ctx, `SELECT id, user_id, subject_id, title, created_at, updated_at FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

// ListConversations returns the user's conversations, most recently active
// first. An empty subjectID lists all subjects.
func (s *Store) ListConversations(ctx context.Context, userID, subjectID string) ([]Conversation, error) {
	q := `SELECT id, user_id, subject_id, title, created_at, updated_at FROM conversations WHERE user_id = ?`
	args := []any{userID}
	if subjectID != "" {
		q += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	q += ` ORDER BY updated_at DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	res, err := s.exec(ctx, `UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`, title, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// DeleteConversation removes the conversation; messages, quizzes and
// feedback cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// --- Messages ---

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.query(ctx, `
		SELECT id, conversation_id, role, content, persona, images, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var persona, images sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &persona, &images, &createdAt); err != nil {
			return nil, err
		}
		m.Persona = persona.String
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &m.Images); err != nil {
				return nil, fmt.Errorf("decoding images of message %s: %w", m.ID, err)
			}
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordTurn persists one exchange atomically: the user message, the
// assistant message, a message activity and the conversation's updated_at.
func (s *Store) RecordTurn(ctx context.Context, t TurnRecord) error {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	var images sql.NullString
	if len(t.Images) > 0 {
		b, err := json.Marshal(t.Images)
		if err != nil {
			return fmt.Errorf("marshalling images: %w", err)
		}
		images = sql.NullString{String: string(b), Valid: true}
	}

	return s.withTx(ctx, func(c conn) error {
		if t.NewConversation != nil {
			if err := insertConversation(ctx, c, *t.NewConversation); err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
		}

		if _, err := c.exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, persona, images, created_at)
			VALUES (?, ?, ?, ?, NULL, NULL, ?)`,
			uuid.New().String(), t.ConversationID, RoleUser, t.UserContent, formatTime(at),
		); err != nil {
			return fmt.Errorf("saving user message: %w", err)
		}

		// The reply is stamped a microsecond later so it always sorts after the question.
		if _, err := c.exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, persona, images, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), t.ConversationID, RoleAssistant, t.AssistantContent, nullString(t.Persona), images, formatTime(at.Add(time.Microsecond)),
		); err != nil {
			return fmt.Errorf("saving assistant message: %w", err)
		}

		if err := insertActivity(ctx, c, Activity{
			ID:        uuid.New().String(),
			UserID:    t.UserID,
			SubjectID: t.SubjectID,
			Type:      ActivityMessage,
			Points:    t.Points,
			CreatedAt: at,
		}); err != nil {
			return fmt.Errorf("saving activity: %w", err)
		}

		res, err := c.exec(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(at.Add(time.Microsecond)), t.ConversationID)
		if err != nil {
			return fmt.Errorf("bumping conversation: %w", err)
		}
		return expectRow(res)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	if err := r.Scan(&c.ID, &c.UserID, &c.SubjectID, &c.Title, &createdAt, &updatedAt); err != nil {
		return Conversation{}, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
