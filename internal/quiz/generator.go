package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/storage"
)

var (
	// ErrEmptyConversation is returned when there is nothing to quiz on.
	ErrEmptyConversation = errors.New("no messages found in conversation")
	// ErrAlreadyCompleted is returned on resubmission of a quiz.
	ErrAlreadyCompleted = errors.New("quiz already completed")
)

const fallbackSubject = "Topic"

type Completer interface {
	Complete(ctx context.Context, messages []gateway.Message) (string, error)
}

type Store interface {
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	GetSubject(ctx context.Context, idOrName string) (storage.Subject, error)
	ListMessages(ctx context.Context, conversationID string) ([]storage.Message, error)
	CreateQuiz(ctx context.Context, q storage.Quiz, questions []storage.QuizQuestion) error
	GetQuiz(ctx context.Context, id string) (storage.Quiz, error)
	ListQuizQuestions(ctx context.Context, quizID string) ([]storage.QuizQuestion, error)
	CompleteQuiz(ctx context.Context, quizID string, graded []storage.GradedAnswer, score int, completedAt time.Time, activity storage.Activity) error
}

type Result struct {
	QuizID         string `json:"quizId"`
	TotalQuestions int    `json:"totalQuestions"`
}

type Score struct {
	Score          int `json:"score"`
	TotalQuestions int `json:"totalQuestions"`
}

// Generator builds quizzes from conversations and grades submissions.
type Generator struct {
	llm     Completer
	store   Store
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewGenerator(llm Completer, store Store, rec *metrics.Recorder) *Generator {
	return &Generator{llm: llm, store: store, metrics: rec, now: time.Now}
}

// Generate asks the model for questions about a conversation and stores the
// quiz with its questions atomically. Nothing is written when the model call
// or parsing fails.
func (g *Generator) Generate(ctx context.Context, conversationID, userID string) (Result, error) {
	conv, err := g.ownedConversation(ctx, conversationID, userID)
	if err != nil {
		return Result{}, err
	}

	history, err := g.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return Result{}, fmt.Errorf("loading messages: %w", err)
	}
	if len(history) == 0 {
		return Result{}, ErrEmptyConversation
	}

	subject := fallbackSubject
	if sub, err := g.store.GetSubject(ctx, conv.SubjectID); err == nil {
		subject = sub.Name
	}

	start := time.Now()
	raw, err := g.llm.Complete(ctx, BuildPrompt(subject, history))
	g.metrics.Since("quiz.generate", start)
	if err != nil {
		return Result{}, err
	}

	questions, err := ParseQuestions(raw)
	if err != nil {
		slog.Error("quiz output not parseable", "conversation_id", conv.ID, "error", err)
		return Result{}, err
	}
	if len(questions) != QuestionCount {
		slog.Warn("unexpected quiz length", "conversation_id", conv.ID, "questions", len(questions))
	}

	now := g.now()
	q := storage.Quiz{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Title:          subject + " Quiz",
		TotalQuestions: len(questions),
		CreatedAt:      now,
	}
	rows := make([]storage.QuizQuestion, len(questions))
	for i, qq := range questions {
		rows[i] = storage.QuizQuestion{
			ID:            uuid.New().String(),
			QuizID:        q.ID,
			Position:      i,
			Question:      qq.Question,
			Options:       qq.Options,
			CorrectAnswer: qq.CorrectAnswer,
		}
	}
	if err := g.store.CreateQuiz(ctx, q, rows); err != nil {
		return Result{}, fmt.Errorf("saving quiz: %w", err)
	}

	slog.Info("quiz created", "quiz_id", q.ID, "conversation_id", conv.ID, "questions", len(rows))
	return Result{QuizID: q.ID, TotalQuestions: len(rows)}, nil
}

// Get returns a quiz and its questions if the quiz belongs to the user.
func (g *Generator) Get(ctx context.Context, quizID, userID string) (storage.Quiz, []storage.QuizQuestion, error) {
	q, err := g.ownedQuiz(ctx, quizID, userID)
	if err != nil {
		return storage.Quiz{}, nil, err
	}
	questions, err := g.store.ListQuizQuestions(ctx, q.ID)
	if err != nil {
		return storage.Quiz{}, nil, fmt.Errorf("loading questions: %w", err)
	}
	return q, questions, nil
}

// Submit grades answers keyed by question ID. Unanswered questions count as
// wrong. The score is recorded as a quiz activity worth one point per
// correct answer.
func (g *Generator) Submit(ctx context.Context, quizID, userID string, answers map[string]string) (Score, error) {
	q, err := g.ownedQuiz(ctx, quizID, userID)
	if err != nil {
		return Score{}, err
	}
	if q.CompletedAt != nil {
		return Score{}, ErrAlreadyCompleted
	}
	questions, err := g.store.ListQuizQuestions(ctx, q.ID)
	if err != nil {
		return Score{}, fmt.Errorf("loading questions: %w", err)
	}

	graded := make([]storage.GradedAnswer, len(questions))
	score := 0
	for i, qq := range questions {
		answer := strings.ToUpper(strings.TrimSpace(answers[qq.ID]))
		correct := answer != "" && answer == qq.CorrectAnswer
		if correct {
			score++
		}
		graded[i] = storage.GradedAnswer{QuestionID: qq.ID, Answer: answer, Correct: correct}
	}

	conv, err := g.store.GetConversation(ctx, q.ConversationID)
	if err != nil {
		return Score{}, fmt.Errorf("loading conversation: %w", err)
	}
	now := g.now()
	cd, _ := json.Marshal(map[string]any{"quiz_id": q.ID, "score": score, "total": len(questions)})
	activity := storage.Activity{
		ID:          uuid.New().String(),
		UserID:      userID,
		SubjectID:   conv.SubjectID,
		Type:        storage.ActivityQuiz,
		Points:      score,
		ContentData: string(cd),
		CreatedAt:   now,
	}

	err = g.store.CompleteQuiz(ctx, q.ID, graded, score, now, activity)
	if errors.Is(err, storage.ErrConflict) {
		return Score{}, ErrAlreadyCompleted
	}
	if err != nil {
		return Score{}, fmt.Errorf("completing quiz: %w", err)
	}
	return Score{Score: score, TotalQuestions: len(questions)}, nil
}

func (g *Generator) ownedConversation(ctx context.Context, conversationID, userID string) (storage.Conversation, error) {
	conv, err := g.store.GetConversation(ctx, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if userID != "" && conv.UserID != userID {
		return storage.Conversation{}, storage.ErrNotFound
	}
	return conv, nil
}

func (g *Generator) ownedQuiz(ctx context.Context, quizID, userID string) (storage.Quiz, error) {
	q, err := g.store.GetQuiz(ctx, quizID)
	if err != nil {
		return storage.Quiz{}, err
	}
	if _, err := g.ownedConversation(ctx, q.ConversationID, userID); err != nil {
		return storage.Quiz{}, err
	}
	return q, nil
}
