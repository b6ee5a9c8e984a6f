package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// --- Quizzes ---

// CreateQuiz inserts a quiz and its questions in one transaction, so a quiz
// never exists without its questions.
func (s *Store) CreateQuiz(ctx context.Context, q Quiz, questions []QuizQuestion) error {
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return s.withTx(ctx, func(c conn) error {
		if _, err := c.exec(ctx, `
			INSERT INTO quizzes (id, conversation_id, title, total_questions, score, completed_at, created_at)
			VALUES (?, ?, ?, ?, NULL, NULL, ?)`,
			q.ID, q.ConversationID, q.Title, q.TotalQuestions, formatTime(createdAt),
		); err != nil {
			return fmt.Errorf("saving quiz: %w", err)
		}

		for i, qq := range questions {
			opts, err := json.Marshal(qq.Options)
			if err != nil {
				return fmt.Errorf("marshalling options: %w", err)
			}
			if _, err := c.exec(ctx, `
				INSERT INTO quiz_questions (id, quiz_id, position, question, options, correct_answer, user_answer, is_correct, created_at)
				VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
				qq.ID, q.ID, i, qq.Question, string(opts), qq.CorrectAnswer, formatTime(createdAt),
			); err != nil {
				return fmt.Errorf("saving question %d: %w", i, err)
			}
		}
		return nil
	})
}

func (s *Store) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	row := s.queryRow(ctx, `
		SELECT id, conversation_id, title, total_questions, score, completed_at, created_at
		FROM quizzes WHERE id = ?`, id)
	q, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, ErrNotFound
	}
	return q, err
}

// ListQuizzes returns a conversation's quizzes, newest first.
func (s *Store) ListQuizzes(ctx context.Context, conversationID string) ([]Quiz, error) {
	rows, err := s.query(ctx, `
		SELECT id, conversation_id, title, total_questions, score, completed_at, created_at
		FROM quizzes WHERE conversation_id = ? ORDER BY created_at DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) ListQuizQuestions(ctx context.Context, quizID string) ([]QuizQuestion, error) {
	rows, err := s.query(ctx, `
		SELECT id, quiz_id, position, question, options, correct_answer, user_answer, is_correct
		FROM quiz_questions WHERE quiz_id = ? ORDER BY position ASC`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuizQuestion
	for rows.Next() {
		var qq QuizQuestion
		var opts string
		var answer sql.NullString
		var correct sql.NullBool
		if err := rows.Scan(&qq.ID, &qq.QuizID, &qq.Position, &qq.Question, &opts, &qq.CorrectAnswer, &answer, &correct); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &qq.Options); err != nil {
			return nil, fmt.Errorf("decoding options of question %s: %w", qq.ID, err)
		}
		qq.UserAnswer = answer.String
		if correct.Valid {
			v := correct.Bool
			qq.IsCorrect = &v
		}
		out = append(out, qq)
	}
	return out, rows.Err()
}

// CompleteQuiz records graded answers, the score and the completion time,
// plus the quiz activity, in one transaction. It fails with ErrConflict when
// the quiz is already completed.
func (s *Store) CompleteQuiz(ctx context.Context, quizID string, graded []GradedAnswer, score int, completedAt time.Time, activity Activity) error {
	return s.withTx(ctx, func(c conn) error {
		res, err := c.exec(ctx, `UPDATE quizzes SET score = ?, completed_at = ? WHERE id = ? AND completed_at IS NULL`,
			score, formatTime(completedAt), quizID)
		if err != nil {
			return fmt.Errorf("completing quiz: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := c.queryRow(ctx, `SELECT COUNT(*) FROM quizzes WHERE id = ?`, quizID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}

		for _, g := range graded {
			if _, err := c.exec(ctx, `UPDATE quiz_questions SET user_answer = ?, is_correct = ? WHERE id = ? AND quiz_id = ?`,
				nullString(g.Answer), g.Correct, g.QuestionID, quizID); err != nil {
				return fmt.Errorf("grading question %s: %w", g.QuestionID, err)
			}
		}

		if err := insertActivity(ctx, c, activity); err != nil {
			return fmt.Errorf("saving activity: %w", err)
		}
		return nil
	})
}

func scanQuiz(r rowScanner) (Quiz, error) {
	var q Quiz
	var score sql.NullInt64
	var completedAt sql.NullString
	var createdAt string
	if err := r.Scan(&q.ID, &q.ConversationID, &q.Title, &q.TotalQuestions, &score, &completedAt, &createdAt); err != nil {
		return Quiz{}, err
	}
	if score.Valid {
		v := int(score.Int64)
		q.Score = &v
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return Quiz{}, err
		}
		q.CompletedAt = &t
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Quiz{}, err
	}
	q.CreatedAt = t
	return q, nil
}
