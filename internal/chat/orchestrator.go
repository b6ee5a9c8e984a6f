package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/composer"
	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/intent"
	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/retrieval"
	"github.com/kalambet/tutord/internal/storage"
)

const (
	messagePoints  = 1
	maxTitleLength = 50
	geographyID    = "geography"
)

// ErrInvalidRequest marks client input errors.
var ErrInvalidRequest = errors.New("invalid request")

// Gateway is the model backend used for the reply.
type Gateway interface {
	Configured() bool
	Complete(ctx context.Context, messages []gateway.Message) (string, error)
	Stream(ctx context.Context, messages []gateway.Message) (io.ReadCloser, error)
}

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	GetSubject(ctx context.Context, idOrName string) (storage.Subject, error)
	GetProfile(ctx context.Context, id string) (storage.Profile, error)
	GetConversation(ctx context.Context, id string) (storage.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]storage.Message, error)
	RecordTurn(ctx context.Context, t storage.TurnRecord) error
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, userID, subjectID string) ([]retrieval.ContextChunk, error)
}

type TopicClassifier interface {
	Classify(ctx context.Context, query string) intent.Scope
}

type Illustrator interface {
	Generate(ctx context.Context, query string, n int) []string
}

// Request is one chat turn. Either Messages (full client history) or
// Message (a single new user message) must be set.
type Request struct {
	Messages       []gateway.Message `json:"messages"`
	Message        string            `json:"message"`
	Persona        string            `json:"persona"`
	Subject        string            `json:"subject" validate:"required"`
	UserID         string            `json:"userId" validate:"required"`
	ConversationID string            `json:"conversationId"`
	Stream         bool              `json:"stream"`
}

type Response struct {
	Message        string   `json:"message"`
	Images         []string `json:"images,omitempty"`
	ConversationID string   `json:"conversationId"`
}

// Deps wires the orchestrator. Illustrator and Classifier may be nil, which
// disables geography illustrations.
type Deps struct {
	Gateway     Gateway
	Store       Store
	Retriever   ContextRetriever
	Classifier  TopicClassifier
	Illustrator Illustrator
	Composer    *composer.Composer
	Metrics     *metrics.Recorder
}

// Orchestrator runs a chat turn: prompt building, textbook context, optional
// illustrations, the model call and persistence.
type Orchestrator struct {
	Deps
	now func() time.Time
}

func New(d Deps) *Orchestrator {
	if d.Composer == nil {
		d.Composer = composer.New(0)
	}
	return &Orchestrator{Deps: d, now: time.Now}
}

// turn is a prepared exchange, ready for the model call.
type turn struct {
	userID    string
	subject   storage.Subject
	persona   composer.Persona
	query     string
	messages  []gateway.Message
	conv      storage.Conversation
	isNewConv bool
	images    []string
}

// Handle runs a non-streaming turn. Nothing is persisted when the gateway
// call fails.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	reply, err := o.Gateway.Complete(ctx, t.messages)
	if err != nil {
		return Response{}, fmt.Errorf("calling gateway: %w", err)
	}
	slog.Debug("model replied", "duration_ms", time.Since(start).Milliseconds(), "chars", len(reply))

	if err := o.persist(ctx, t, reply); err != nil {
		return Response{}, err
	}
	return Response{Message: reply, Images: t.images, ConversationID: t.conv.ID}, nil
}

// Stream is an open upstream SSE response waiting to be relayed.
type Stream struct {
	o              *Orchestrator
	t              *turn
	body           io.ReadCloser
	Images         []string
	ConversationID string
}

// OpenStream prepares the turn and opens the upstream stream. Gateway
// errors surface here, before anything is written to the client.
func (o *Orchestrator) OpenStream(ctx context.Context, req Request) (*Stream, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := o.Gateway.Stream(ctx, t.messages)
	if err != nil {
		return nil, fmt.Errorf("calling gateway: %w", err)
	}
	return &Stream{o: o, t: t, body: body, Images: t.images, ConversationID: t.conv.ID}, nil
}

// Relay writes the optional images event, copies the upstream events to w
// and persists the turn once the stream ends.
func (s *Stream) Relay(ctx context.Context, w io.Writer, flush func()) (Response, error) {
	defer s.body.Close()

	if len(s.Images) > 0 {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", imagesEvent(s.Images)); err != nil {
			return Response{}, fmt.Errorf("writing images event: %w", err)
		}
		flush()
	}

	reply, err := gateway.Relay(w, flush, s.body)
	if err != nil {
		return Response{}, err
	}
	if err := s.o.persist(ctx, s.t, reply); err != nil {
		return Response{}, err
	}
	return Response{Message: reply, Images: s.Images, ConversationID: s.ConversationID}, nil
}

// Close releases the upstream body without relaying it.
func (s *Stream) Close() error {
	return s.body.Close()
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (*turn, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return nil, fmt.Errorf("subject is required: %w", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("userId is required: %w", ErrInvalidRequest)
	}
	if len(req.Messages) == 0 && strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("a user message is required: %w", ErrInvalidRequest)
	}
	if !o.Gateway.Configured() {
		return nil, gateway.ErrNotConfigured
	}

	subject, err := o.Store.GetSubject(ctx, req.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("unknown subject %q: %w", req.Subject, ErrInvalidRequest)
	}
	if err != nil {
		return nil, fmt.Errorf("loading subject: %w", err)
	}

	t := &turn{userID: req.UserID, subject: subject, persona: composer.ParsePersona(req.Persona)}

	history, err := o.history(ctx, req, t)
	if err != nil {
		return nil, err
	}
	if t.query == "" {
		return nil, fmt.Errorf("a user message is required: %w", ErrInvalidRequest)
	}

	var profile storage.Profile
	if t.persona == composer.PersonaPersonal {
		profile, err = o.Store.GetProfile(ctx, req.UserID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("loading profile failed", "user_id", req.UserID, "error", err)
		}
	}

	var chunks []retrieval.ContextChunk
	if o.Retriever != nil {
		chunks, err = o.Retriever.Retrieve(ctx, req.UserID, subject.ID)
		if err != nil {
			slog.Warn("textbook retrieval failed", "user_id", req.UserID, "subject", subject.ID, "error", err)
			chunks = nil
		}
	}

	system := o.Composer.SystemPrompt(t.persona, subject.Name, profile, chunks)
	t.messages = o.Composer.Compose(system, history)

	if subject.ID == geographyID && o.Classifier != nil && o.Illustrator != nil {
		scope := o.Classifier.Classify(ctx, t.query)
		start := time.Now()
		t.images = o.Illustrator.Generate(ctx, t.query, scope.ImageCount())
		o.Metrics.Since("chat.illustrate", start)
		slog.Debug("illustrations generated", "scope", scope, "requested", scope.ImageCount(), "received", len(t.images))
	}

	slog.Debug("turn prepared",
		"persona", t.persona,
		"subject", subject.ID,
		"chunks", len(chunks),
		"history", len(history),
		"new_conversation", t.isNewConv,
	)
	return t, nil
}

// history resolves the conversation and returns the messages to send after
// the system prompt. It sets t.query and t.conv.
func (o *Orchestrator) history(ctx context.Context, req Request, t *turn) ([]gateway.Message, error) {
	var history []gateway.Message

	if req.ConversationID != "" {
		conv, err := o.Store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		if conv.UserID != req.UserID {
			return nil, fmt.Errorf("loading conversation: %w", storage.ErrNotFound)
		}
		t.conv = conv
	}

	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			if m.Role != gateway.RoleUser && m.Role != gateway.RoleAssistant && m.Role != gateway.RoleSystem {
				return nil, fmt.Errorf("unsupported role %q: %w", m.Role, ErrInvalidRequest)
			}
			history = append(history, m)
		}
		t.query = lastUserMessage(history)
	} else {
		if t.conv.ID != "" {
			stored, err := o.Store.ListMessages(ctx, t.conv.ID)
			if err != nil {
				return nil, fmt.Errorf("loading history: %w", err)
			}
			for _, m := range stored {
				history = append(history, gateway.Message{Role: m.Role, Content: m.Content})
			}
		}
		t.query = strings.TrimSpace(req.Message)
		history = append(history, gateway.Message{Role: gateway.RoleUser, Content: t.query})
	}

	if t.conv.ID == "" {
		now := o.now()
		t.conv = storage.Conversation{
			ID:        uuid.New().String(),
			UserID:    req.UserID,
			SubjectID: t.subject.ID,
			Title:     Title(t.query),
			CreatedAt: now,
			UpdatedAt: now,
		}
		t.isNewConv = true
	}
	return history, nil
}

func (o *Orchestrator) persist(ctx context.Context, t *turn, reply string) error {
	rec := storage.TurnRecord{
		ConversationID:   t.conv.ID,
		UserID:           t.userID,
		SubjectID:        t.subject.ID,
		Persona:          string(t.persona),
		UserContent:      t.query,
		AssistantContent: reply,
		Images:           t.images,
		Points:           messagePoints,
		At:               o.now(),
	}
	if t.isNewConv {
		conv := t.conv
		rec.NewConversation = &conv
	}

	start := time.Now()
	defer o.Metrics.Since("store.record_turn", start)
	if err := o.Store.RecordTurn(ctx, rec); err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}
	return nil
}

// Title derives a conversation title from the first query.
func Title(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	r := []rune(q)
	if len(r) > maxTitleLength {
		return string(r[:maxTitleLength])
	}
	return q
}

func lastUserMessage(msgs []gateway.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == gateway.RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

func imagesEvent(images []string) []byte {
	b, _ := json.Marshal(struct {
		Images []string `json:"images"`
	}{images})
	return b
}
