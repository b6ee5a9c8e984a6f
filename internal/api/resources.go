package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/storage"
)

type profileBody struct {
	Name     string `json:"name" validate:"required"`
	Age      *int   `json:"age" validate:"omitempty,min=1,max=120"`
	Location string `json:"location"`
}

type createConversationBody struct {
	UserID    string `json:"userId" validate:"required"`
	SubjectID string `json:"subjectId" validate:"required"`
	Title     string `json:"title"`
}

type renameBody struct {
	Title string `json:"title" validate:"required"`
}

type feedbackBody struct {
	UserID        string `json:"userId" validate:"required"`
	FeedbackType  string `json:"feedbackType" validate:"required,oneof=persona accuracy"`
	FeedbackValue string `json:"feedbackValue"`
	Comments      string `json:"comments"`
}

type submitQuizBody struct {
	UserID  string            `json:"userId" validate:"required"`
	Answers map[string]string `json:"answers"`
}

type friendRequestBody struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
}

type respondBody struct {
	UserID string `json:"userId" validate:"required"`
	Accept bool   `json:"accept"`
}

type quizWithQuestions struct {
	storage.Quiz
	Questions []storage.QuizQuestion `json:"questions"`
}

// requireQuery returns a mandatory query parameter or writes a 400.
func requireQuery(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		httpError(w, http.StatusBadRequest, "%s is required", key)
		return "", false
	}
	return v, true
}

// ownedConversation loads a conversation and checks it belongs to the
// caller. Someone else's conversation reads as missing, as quizzes do; an
// anonymous caller with authentication disabled skips the check.
func ownedConversation(deps Deps, r *http.Request, id string) (storage.Conversation, error) {
	conv, err := deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		return storage.Conversation{}, err
	}
	if caller := requestUser(r); caller != "" && caller != conv.UserID {
		return storage.Conversation{}, storage.ErrNotFound
	}
	return conv, nil
}

// requestUser is the authenticated subject, falling back to ?userId when
// authentication is disabled.
func requestUser(r *http.Request) string {
	if sub, ok := r.Context().Value(subjectKey{}).(string); ok {
		return sub
	}
	return r.URL.Query().Get("userId")
}

func handleListSubjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjects, err := deps.Store.ListSubjects(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		if subjects == nil {
			subjects = []storage.Subject{}
		}
		writeJSON(w, http.StatusOK, subjects)
	}
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := authorize(r, id); err != nil {
			writeError(w, r, err)
			return
		}
		p, err := deps.Store.GetProfile(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePutProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := authorize(r, id); err != nil {
			writeError(w, r, err)
			return
		}
		var body profileBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		now := time.Now().UTC()
		p := storage.Profile{ID: id, Name: strings.TrimSpace(body.Name), Age: body.Age, Location: body.Location, CreatedAt: now, UpdatedAt: now}
		if err := deps.Store.UpsertProfile(r.Context(), p); err != nil {
			writeError(w, r, err)
			return
		}
		saved, err := deps.Store.GetProfile(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		subjectID := r.URL.Query().Get("subjectId")
		if subjectID != "" {
			sub, err := deps.Store.GetSubject(r.Context(), subjectID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			subjectID = sub.ID
		}
		convs, err := deps.Store.ListConversations(r.Context(), userID, subjectID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, http.StatusOK, convs)
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createConversationBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, body.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		sub, err := deps.Store.GetSubject(r.Context(), body.SubjectID)
		if err != nil {
			writeError(w, r, fmt.Errorf("unknown subject %q: %w", body.SubjectID, chat.ErrInvalidRequest))
			return
		}
		title := chat.Title(body.Title)
		if title == "" {
			title = "New " + sub.Name + " chat"
		}
		now := time.Now().UTC()
		conv := storage.Conversation{ID: uuid.New().String(), UserID: body.UserID, SubjectID: sub.ID, Title: title, CreatedAt: now, UpdatedAt: now}
		if err := deps.Store.CreateConversation(r.Context(), conv); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleRenameConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := ownedConversation(deps, r, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		var body renameBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		title := chat.Title(body.Title)
		if err := deps.Store.RenameConversation(r.Context(), conv.ID, title); err != nil {
			writeError(w, r, err)
			return
		}
		renamed, err := deps.Store.GetConversation(r.Context(), conv.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, renamed)
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := ownedConversation(deps, r, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := deps.Store.DeleteConversation(r.Context(), conv.ID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := ownedConversation(deps, r, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		msgs, err := deps.Store.ListMessages(r.Context(), conv.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body feedbackBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, body.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		f, err := deps.Social.SubmitFeedback(r.Context(), storage.Feedback{
			ConversationID: chi.URLParam(r, "id"),
			UserID:         body.UserID,
			Type:           body.FeedbackType,
			Value:          body.FeedbackValue,
			Comments:       body.Comments,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)
	}
}

func handleListQuizzes(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := requireQuery(w, r, "conversationId")
		if !ok {
			return
		}
		conv, err := ownedConversation(deps, r, convID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		quizzes, err := deps.Store.ListQuizzes(r.Context(), conv.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if quizzes == nil {
			quizzes = []storage.Quiz{}
		}
		writeJSON(w, http.StatusOK, quizzes)
	}
}

func handleGetQuiz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, questions, err := deps.Quiz.Get(r.Context(), chi.URLParam(r, "id"), requestUser(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if questions == nil {
			questions = []storage.QuizQuestion{}
		}
		writeJSON(w, http.StatusOK, quizWithQuestions{Quiz: q, Questions: questions})
	}
}

func handleSubmitQuiz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitQuizBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, body.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		score, err := deps.Quiz.Submit(r.Context(), chi.URLParam(r, "id"), body.UserID, body.Answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, score)
	}
}

func handleListTextbooks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		subjectID := r.URL.Query().Get("subjectId")
		if subjectID != "" {
			sub, err := deps.Store.GetSubject(r.Context(), subjectID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			subjectID = sub.ID
		}
		books, err := deps.Store.ListTextbooks(r.Context(), userID, subjectID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if books == nil {
			books = []storage.Textbook{}
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func handleDeleteTextbook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := deps.Ingest.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLeaderboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := deps.Social.Leaderboard(r.Context(), userID, r.URL.Query().Get("sort"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleListFriends(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		friends, err := deps.Social.ListFriends(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, friends)
	}
}

func handleSendFriendRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body friendRequestBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, body.SenderID); err != nil {
			writeError(w, r, err)
			return
		}
		fr, err := deps.Social.SendFriendRequest(r.Context(), body.SenderID, body.ReceiverID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, fr)
	}
}

func handleRespondFriendRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body respondBody
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, body.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		fr, err := deps.Social.RespondFriendRequest(r.Context(), chi.URLParam(r, "id"), body.UserID, body.Accept)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, fr)
	}
}

func handleActivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireQuery(w, r, "userId")
		if !ok {
			return
		}
		if err := authorize(r, userID); err != nil {
			writeError(w, r, err)
			return
		}
		chart, err := deps.Social.ActivityChart(r.Context(), userID, parseIntParam(r, "days", 0, 90))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chart)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
