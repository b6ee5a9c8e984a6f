package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// --- Textbooks ---

// CreateTextbook inserts the textbook, all of its chunks and the optional
// ingestion activity in one transaction.
func (s *Store) CreateTextbook(ctx context.Context, tb Textbook, chunks []TextbookChunk, activity *Activity) error {
	return s.withTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, `
			INSERT INTO textbooks (id, user_id, subject_id, title, file_url, file_name, content, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tb.ID, tb.UserID, tb.SubjectID, tb.Title, tb.FileURL, tb.FileName, nullString(tb.Content), formatTime(tb.UploadedAt),
		); err != nil {
			return fmt.Errorf("saving textbook: %w", err)
		}

		for _, ch := range chunks {
			createdAt := ch.CreatedAt
			if createdAt.IsZero() {
				createdAt = tb.UploadedAt
			}
			if _, err := c.exec(ctx, `
				INSERT INTO textbook_chunks (id, textbook_id, chunk_index, content, page_number, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				ch.ID, tb.ID, ch.ChunkIndex, ch.Content, ch.PageNumber, formatTime(createdAt),
			); err != nil {
				return fmt.Errorf("saving chunk %d: %w", ch.ChunkIndex, err)
			}
		}

		if activity != nil {
			if err := insertActivity(ctx, c, *activity); err != nil {
				return fmt.Errorf("saving activity: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetTextbook(ctx context.Context, id string) (Textbook, error) {
	row := s.queryRow(ctx, `
		SELECT id, user_id, subject_id, title, file_url, file_name, content, uploaded_at
		FROM textbooks WHERE id = ?`, id)
	tb, err := scanTextbook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Textbook{}, ErrNotFound
	}
	return tb, err
}

// ListTextbooks returns the user's textbooks, newest first. An empty
// subjectID lists all subjects.
func (s *Store) ListTextbooks(ctx context.Context, userID, subjectID string) ([]Textbook, error) {
	q := `SELECT id, user_id, subject_id, title, file_url, file_name, content, uploaded_at FROM textbooks WHERE user_id = ?`
	args := []any{userID}
	if subjectID != "" {
		q += ` AND subject_id = ?`
		args = append(args, subjectID)
	}
	q += ` ORDER BY uploaded_at DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Textbook
	for rows.Next() {
		tb, err := scanTextbook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}

// DeleteTextbook removes the textbook row; chunks cascade.
func (s *Store) DeleteTextbook(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM textbooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// CountChunks returns how many chunks a textbook has.
func (s *Store) CountChunks(ctx context.Context, textbookID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM textbook_chunks WHERE textbook_id = ?`, textbookID).Scan(&n)
	return n, err
}

// SubjectChunks returns up to limit chunks from the user's textbooks for a
// subject, ordered by textbook upload time then chunk index. There is no
// relevance ranking.
func (s *Store) SubjectChunks(ctx context.Context, userID, subjectID string, limit int) ([]SourcedChunk, error) {
	rows, err := s.query(ctx, `
		SELECT t.id, t.title, c.chunk_index, c.page_number, c.content
		FROM textbook_chunks c
		JOIN textbooks t ON t.id = c.textbook_id
		WHERE t.user_id = ? AND t.subject_id = ?
		ORDER BY t.uploaded_at ASC, t.id ASC, c.chunk_index ASC
		LIMIT ?`, userID, subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourcedChunk
	for rows.Next() {
		var sc SourcedChunk
		var page sql.NullInt64
		if err := rows.Scan(&sc.TextbookID, &sc.TextbookTitle, &sc.ChunkIndex, &page, &sc.Content); err != nil {
			return nil, err
		}
		sc.PageNumber = int(page.Int64)
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanTextbook(r rowScanner) (Textbook, error) {
	var tb Textbook
	var content sql.NullString
	var uploadedAt string
	if err := r.Scan(&tb.ID, &tb.UserID, &tb.SubjectID, &tb.Title, &tb.FileURL, &tb.FileName, &content, &uploadedAt); err != nil {
		return Textbook{}, err
	}
	tb.Content = content.String
	t, err := parseTime(uploadedAt)
	if err != nil {
		return Textbook{}, err
	}
	tb.UploadedAt = t
	return tb, nil
}

// --- Activity ---

func (s *Store) AddActivity(ctx context.Context, a Activity) error {
	return insertActivity(ctx, s.conn, a)
}

func insertActivity(ctx context.Context, c conn, a Activity) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := c.exec(ctx, `
		INSERT INTO user_activity (id, user_id, subject_id, activity_type, points, content_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.SubjectID, a.Type, a.Points, nullString(a.ContentData), formatTime(createdAt),
	)
	return err
}

// ActivitySince returns the user's activity created at or after since, oldest first.
func (s *Store) ActivitySince(ctx context.Context, userID string, since time.Time) ([]Activity, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, subject_id, activity_type, points, content_data, created_at
		FROM user_activity WHERE user_id = ? AND created_at >= ? ORDER BY created_at ASC`,
		userID, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var points sql.NullInt64
		var data sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.SubjectID, &a.Type, &points, &data, &createdAt); err != nil {
			return nil, err
		}
		a.Points = int(points.Int64)
		a.ContentData = data.String
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PointTotalsFor sums activity points per user, splitting content_covered
// from every other activity type. A missing point value counts as 1.
func (s *Store) PointTotalsFor(ctx context.Context, userIDs []string) (map[string]PointTotals, error) {
	totals := make(map[string]PointTotals, len(userIDs))
	if len(userIDs) == 0 {
		return totals, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.query(ctx, `
		SELECT user_id, activity_type, SUM(COALESCE(points, 1))
		FROM user_activity WHERE user_id IN (`+placeholders(len(userIDs))+`)
		GROUP BY user_id, activity_type`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID, typ string
		var sum int64
		if err := rows.Scan(&userID, &typ, &sum); err != nil {
			return nil, err
		}
		t := totals[userID]
		if typ == ActivityContentCovered {
			t.Content += int(sum)
		} else {
			t.Activity += int(sum)
		}
		totals[userID] = t
	}
	return totals, rows.Err()
}
