package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write violates a state precondition, such
// as completing an already completed quiz.
var ErrConflict = errors.New("conflict")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ActivityMessage        = "message"
	ActivityQuiz           = "quiz"
	ActivityContentCovered = "content_covered"
)

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       *int      `json:"age,omitempty"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SubjectID string    `json:"subject_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Persona        string    `json:"persona,omitempty"`
	Images         []string  `json:"images,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TurnRecord is one persisted chat exchange. When NewConversation is set it
// is inserted in the same transaction before the messages.
type TurnRecord struct {
	NewConversation  *Conversation
	ConversationID   string
	UserID           string
	SubjectID        string
	Persona          string
	UserContent      string
	AssistantContent string
	Images           []string
	Points           int
	At               time.Time
}

type Textbook struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SubjectID  string    `json:"subject_id"`
	Title      string    `json:"title"`
	FileURL    string    `json:"file_url"`
	FileName   string    `json:"file_name"`
	Content    string    `json:"content"` // JSON object {"raw_text": ...}
	UploadedAt time.Time `json:"uploaded_at"`
}

type TextbookChunk struct {
	ID         string    `json:"id"`
	TextbookID string    `json:"textbook_id"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	PageNumber int       `json:"page_number"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourcedChunk is a chunk joined with the title of the textbook it came from.
type SourcedChunk struct {
	TextbookID    string
	TextbookTitle string
	ChunkIndex    int
	PageNumber    int
	Content       string
}

type Quiz struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Title          string     `json:"title"`
	TotalQuestions int        `json:"total_questions"`
	Score          *int       `json:"score,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type QuizQuestion struct {
	ID            string   `json:"id"`
	QuizID        string   `json:"quiz_id"`
	Position      int      `json:"position"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	UserAnswer    string   `json:"user_answer,omitempty"`
	IsCorrect     *bool    `json:"is_correct,omitempty"`
}

// GradedAnswer is the outcome for one question of a submitted quiz.
type GradedAnswer struct {
	QuestionID string
	Answer     string
	Correct    bool
}

type Activity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SubjectID   string    `json:"subject_id"`
	Type        string    `json:"activity_type"`
	Points      int       `json:"points"`
	ContentData string    `json:"content_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PointTotals aggregates activity points for one user.
type PointTotals struct {
	Content  int
	Activity int
}

type FriendRequest struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Friendship struct {
	ID        string    `json:"id"`
	UserID1   string    `json:"user_id_1"`
	UserID2   string    `json:"user_id_2"`
	CreatedAt time.Time `json:"created_at"`
}

type Feedback struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"feedback_type"`
	Value          string    `json:"feedback_value"`
	Comments       string    `json:"comments,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
