package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// --- Friend requests ---

// CreateFriendRequest stores a pending request. It fails with ErrConflict
// when a pending request between the two users already exists in either
// direction, or when they are already friends.
func (s *Store) CreateFriendRequest(ctx context.Context, fr FriendRequest) error {
	return s.withTx(ctx, func(c conn) error {
		var n int
		if err := c.queryRow(ctx, `
			SELECT COUNT(*) FROM friend_requests
			WHERE status = ? AND ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))`,
			RequestPending, fr.SenderID, fr.ReceiverID, fr.ReceiverID, fr.SenderID,
		).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("pending request exists: %w", ErrConflict)
		}

		a, b := SortedPair(fr.SenderID, fr.ReceiverID)
		if err := c.queryRow(ctx, `SELECT COUNT(*) FROM friendships WHERE user_id_1 = ? AND user_id_2 = ?`, a, b).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("already friends: %w", ErrConflict)
		}

		_, err := c.exec(ctx, `
			INSERT INTO friend_requests (id, sender_id, receiver_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			fr.ID, fr.SenderID, fr.ReceiverID, RequestPending, formatTime(fr.CreatedAt), formatTime(fr.CreatedAt),
		)
		return err
	})
}

func (s *Store) GetFriendRequest(ctx context.Context, id string) (FriendRequest, error) {
	row := s.queryRow(ctx, `SELECT id, sender_id, receiver_id, status, created_at, updated_at FROM friend_requests WHERE id = ?`, id)
	fr, err := scanFriendRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FriendRequest{}, ErrNotFound
	}
	return fr, err
}

// ResolveFriendRequest moves a pending request to status. Accepting also
// inserts the friendship as a sorted pair in the same transaction.
func (s *Store) ResolveFriendRequest(ctx context.Context, id, status string, at time.Time) error {
	return s.withTx(ctx, func(c conn) error {
		fr, err := scanFriendRequest(c.queryRow(ctx, `SELECT id, sender_id, receiver_id, status, created_at, updated_at FROM friend_requests WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if fr.Status != RequestPending {
			return fmt.Errorf("request is %s: %w", fr.Status, ErrConflict)
		}

		if _, err := c.exec(ctx, `UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ?`, status, formatTime(at), id); err != nil {
			return err
		}

		if status != RequestAccepted {
			return nil
		}
		a, b := SortedPair(fr.SenderID, fr.ReceiverID)
		_, err = c.exec(ctx, `
			INSERT INTO friendships (id, user_id_1, user_id_2, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id_1, user_id_2) DO NOTHING`,
			uuid.New().String(), a, b, formatTime(at))
		return err
	})
}

// PendingRequestsFor lists pending requests received by userID, newest first.
func (s *Store) PendingRequestsFor(ctx context.Context, userID string) ([]FriendRequest, error) {
	rows, err := s.query(ctx, `
		SELECT id, sender_id, receiver_id, status, created_at, updated_at
		FROM friend_requests WHERE receiver_id = ? AND status = ? ORDER BY created_at DESC`,
		userID, RequestPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequest
	for rows.Next() {
		fr, err := scanFriendRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// FriendIDs returns the ids of everyone userID is friends with.
func (s *Store) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT CASE WHEN user_id_1 = ? THEN user_id_2 ELSE user_id_1 END
		FROM friendships WHERE user_id_1 = ? OR user_id_2 = ?`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SortedPair orders two user ids so a friendship has one canonical row.
func SortedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

func scanFriendRequest(r rowScanner) (FriendRequest, error) {
	var fr FriendRequest
	var createdAt, updatedAt string
	if err := r.Scan(&fr.ID, &fr.SenderID, &fr.ReceiverID, &fr.Status, &createdAt, &updatedAt); err != nil {
		return FriendRequest{}, err
	}
	var err error
	if fr.CreatedAt, err = parseTime(createdAt); err != nil {
		return FriendRequest{}, err
	}
	if fr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return FriendRequest{}, err
	}
	return fr, nil
}

// --- Feedback ---

func (s *Store) AddFeedback(ctx context.Context, f Feedback) error {
	_, err := s.exec(ctx, `
		INSERT INTO conversation_feedback (id, conversation_id, user_id, feedback_type, feedback_value, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConversationID, f.UserID, f.Type, f.Value, nullString(f.Comments), formatTime(f.CreatedAt),
	)
	return err
}

func (s *Store) ListFeedback(ctx context.Context, conversationID string) ([]Feedback, error) {
	rows, err := s.query(ctx, `
		SELECT id, conversation_id, user_id, feedback_type, feedback_value, comments, created_at
		FROM conversation_feedback WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		var comments sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &f.ConversationID, &f.UserID, &f.Type, &f.Value, &comments, &createdAt); err != nil {
			return nil, err
		}
		f.Comments = comments.String
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
