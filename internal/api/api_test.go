package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/composer"
	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/illustrate"
	"github.com/kalambet/tutord/internal/ingest"
	"github.com/kalambet/tutord/internal/intent"
	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/objectstore"
	"github.com/kalambet/tutord/internal/quiz"
	"github.com/kalambet/tutord/internal/retrieval"
	"github.com/kalambet/tutord/internal/social"
	"github.com/kalambet/tutord/internal/storage"
)

const quizJSON = `[
 {"question": "Who built the pyramids?", "options": ["Egyptians", "Romans", "Vikings", "Aztecs"], "correct_answer": "A"},
 {"question": "Which river fed Egypt?", "options": ["Amazon", "Nile", "Danube", "Ganges"], "correct_answer": "B"}
]`

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTextbook(t *testing.T, s *storage.Store, userID, subjectID, title, content string) storage.Textbook {
	t.Helper()
	now := time.Now()
	tb := storage.Textbook{ID: uuid.New().String(), UserID: userID, SubjectID: subjectID, Title: title, Content: `{"raw_text":""}`, UploadedAt: now}
	chunks := []storage.TextbookChunk{{ID: uuid.New().String(), TextbookID: tb.ID, ChunkIndex: 0, Content: content, PageNumber: 1, CreatedAt: now}}
	if err := s.CreateTextbook(context.Background(), tb, chunks, nil); err != nil {
		t.Fatalf("CreateTextbook: %v", err)
	}
	return tb
}

// fakeGateway mimics the chat completions endpoint. Quiz prompts get the
// quiz reply, everything else the chat reply.
type fakeGateway struct {
	status    int
	chatReply string
	quizReply string
	calls     atomic.Int32
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		fmt.Fprint(w, `{"error":"upstream"}`)
		return
	}
	var req gateway.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)

	reply := f.chatReply
	if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "quiz generator") {
		reply = f.quizReply
	}
	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, word := range strings.Fields(reply) {
			chunk, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": word + " "}}}})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}
	body, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": reply}}}})
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

type testAPI struct {
	handler http.Handler
	store   *storage.Store
	gw      *fakeGateway
	objects *objectstore.Local
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()
	store := openTestStore(t)
	gw := &fakeGateway{chatReply: "The pyramids were tombs for pharaohs.", quizReply: "```json\n" + quizJSON + "\n```"}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	rec := metrics.NewRecorder()
	client := gateway.NewClient(gateway.Options{APIKey: "test-key", BaseURL: srv.URL, Metrics: rec})
	objects, err := objectstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	orch := chat.New(chat.Deps{
		Gateway:     client,
		Store:       store,
		Retriever:   retrieval.NewRetriever(store, 5, rec),
		Classifier:  intent.NewClassifier(client),
		Illustrator: illustrate.New(client, 2),
		Composer:    composer.New(4000),
		Metrics:     rec,
	})
	h := NewHandler(Deps{
		Store:     store,
		Chat:      orch,
		Quiz:      quiz.NewGenerator(client, store, rec),
		Ingest:    ingest.NewService(store, objects, srv.Client(), rec),
		Social:    social.NewService(store),
		Metrics:   rec,
		JWTSecret: secret,
	})
	return &testAPI{handler: h, store: store, gw: gw, objects: objects}
}

func (a *testAPI) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rr)["error"]
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t, "")
	for _, path := range []string{"/functions/v1/chat", "/v1/leaderboard", "/anything"} {
		rr := a.do(t, http.MethodOptions, path, "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rr.Code)
		}
		if rr.Body.Len() != 0 {
			t.Errorf("%s: expected empty body, got %q", path, rr.Body.String())
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: allow-origin = %q", path, got)
		}
		if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "authorization, x-client-info, apikey, content-type" {
			t.Errorf("%s: allow-headers = %q", path, got)
		}
	}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, "")
	rr := a.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := decode[map[string]string](t, rr); body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing on normal response")
	}
}

func TestChat_NonStreaming(t *testing.T) {
	a := newTestAPI(t, "")
	rr := a.do(t, http.MethodPost, "/functions/v1/chat", `{"message":"Why were the pyramids built?","persona":"genz","subject":"history","userId":"u1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decode[chat.Response](t, rr)
	if resp.Message != "The pyramids were tombs for pharaohs." || resp.ConversationID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Images) != 0 {
		t.Errorf("history turn should have no images, got %d", len(resp.Images))
	}

	msgs, err := a.store.ListMessages(context.Background(), resp.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(msgs))
	}
}

func TestChat_GatewayErrors(t *testing.T) {
	cases := []struct {
		upstream int
		want     int
		msg      string
	}{
		{http.StatusTooManyRequests, http.StatusTooManyRequests, "Rate limit exceeded. Please try again in a moment."},
		{http.StatusPaymentRequired, http.StatusPaymentRequired, "AI credits exhausted. Please add credits to continue."},
		{http.StatusServiceUnavailable, http.StatusInternalServerError, "AI gateway error: 503"},
	}
	for _, tc := range cases {
		a := newTestAPI(t, "")
		a.gw.status = tc.upstream
		rr := a.do(t, http.MethodPost, "/functions/v1/chat", `{"message":"hi","subject":"history","userId":"u1"}`)
		if rr.Code != tc.want {
			t.Errorf("upstream %d: status = %d, want %d", tc.upstream, rr.Code, tc.want)
		}
		if got := errorMessage(t, rr); got != tc.msg {
			t.Errorf("upstream %d: error = %q, want %q", tc.upstream, got, tc.msg)
		}
		convs, err := a.store.ListConversations(context.Background(), "u1", "")
		if err != nil {
			t.Fatalf("ListConversations: %v", err)
		}
		if len(convs) != 0 {
			t.Errorf("upstream %d: expected nothing persisted, got %d conversations", tc.upstream, len(convs))
		}
	}
}

func TestChat_Validation(t *testing.T) {
	a := newTestAPI(t, "")
	cases := map[string]string{
		`{"message":"hi","userId":"u1"}`:                      "subject is required",
		`{"message":"hi","subject":"history"}`:                "userId is required",
		`{"message":"hi","subject":"music","userId":"u1"}`:    "",
		`not json`:                                            "",
		`{"message":"  ","subject":"history","userId":"u1"}`: "",
	}
	for body, want := range cases {
		rr := a.do(t, http.MethodPost, "/functions/v1/chat", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
			continue
		}
		msg := errorMessage(t, rr)
		if want != "" && msg != want {
			t.Errorf("%s: error = %q, want %q", body, msg, want)
		}
	}
	if a.gw.calls.Load() != 0 {
		t.Errorf("gateway should not be called for invalid requests, got %d calls", a.gw.calls.Load())
	}
}

func TestChat_Streaming(t *testing.T) {
	a := newTestAPI(t, "")
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/functions/v1/chat", "application/json",
		strings.NewReader(`{"message":"Tell me about pharaohs","subject":"history","userId":"u1","stream":true}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	convID := resp.Header.Get("X-Conversation-Id")
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "pharaohs") {
		t.Errorf("stream body missing content: %s", body)
	}

	msgs, err := a.store.ListMessages(context.Background(), convID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || !strings.Contains(msgs[1].Content, "pharaohs") {
		t.Errorf("streamed turn not persisted: %+v", msgs)
	}
}

func TestChat_StreamingRateLimited(t *testing.T) {
	a := newTestAPI(t, "")
	a.gw.status = http.StatusTooManyRequests
	rr := a.do(t, http.MethodPost, "/functions/v1/chat", `{"message":"hi","subject":"history","userId":"u1","stream":true}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func chatTurn(t *testing.T, a *testAPI, userID string) string {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/functions/v1/chat", fmt.Sprintf(`{"message":"Tell me about Egypt","subject":"history","userId":%q}`, userID))
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d body=%s", rr.Code, rr.Body.String())
	}
	return decode[chat.Response](t, rr).ConversationID
}

func TestGenerateAndSubmitQuiz(t *testing.T) {
	a := newTestAPI(t, "")
	convID := chatTurn(t, a, "u1")

	rr := a.do(t, http.MethodPost, "/functions/v1/generate-quiz", fmt.Sprintf(`{"conversationId":%q,"userId":"u1"}`, convID))
	if rr.Code != http.StatusOK {
		t.Fatalf("generate status = %d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[quiz.Result](t, rr)
	if res.TotalQuestions != 2 || res.QuizID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	rr = a.do(t, http.MethodGet, "/v1/quizzes/"+res.QuizID+"?userId=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get quiz status = %d", rr.Code)
	}
	q := decode[quizWithQuestions](t, rr)
	if q.Title != "History Quiz" || len(q.Questions) != 2 {
		t.Fatalf("unexpected quiz %+v", q)
	}

	answers, _ := json.Marshal(map[string]any{"userId": "u1", "answers": map[string]string{q.Questions[0].ID: "A", q.Questions[1].ID: "C"}})
	rr = a.do(t, http.MethodPost, "/v1/quizzes/"+res.QuizID+"/submit", string(answers))
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d body=%s", rr.Code, rr.Body.String())
	}
	if score := decode[quiz.Score](t, rr); score.Score != 1 || score.TotalQuestions != 2 {
		t.Errorf("score = %+v", score)
	}

	rr = a.do(t, http.MethodPost, "/v1/quizzes/"+res.QuizID+"/submit", string(answers))
	if rr.Code != http.StatusConflict {
		t.Errorf("resubmit status = %d, want 409", rr.Code)
	}

	rr = a.do(t, http.MethodGet, "/v1/quizzes?conversationId="+convID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list quizzes status = %d", rr.Code)
	}
	if list := decode[[]storage.Quiz](t, rr); len(list) != 1 {
		t.Errorf("expected 1 quiz, got %d", len(list))
	}
}

func TestGenerateQuiz_Errors(t *testing.T) {
	a := newTestAPI(t, "")

	rr := a.do(t, http.MethodPost, "/functions/v1/generate-quiz", `{"userId":"u1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing conversationId: status = %d", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/v1/conversations", `{"userId":"u1","subjectId":"history"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create conversation status = %d body=%s", rr.Code, rr.Body.String())
	}
	empty := decode[storage.Conversation](t, rr)
	rr = a.do(t, http.MethodPost, "/functions/v1/generate-quiz", fmt.Sprintf(`{"conversationId":%q,"userId":"u1"}`, empty.ID))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty conversation: status = %d, want 400", rr.Code)
	}

	convID := chatTurn(t, a, "u1")
	a.gw.quizReply = "I cannot make a quiz"
	rr = a.do(t, http.MethodPost, "/functions/v1/generate-quiz", fmt.Sprintf(`{"conversationId":%q,"userId":"u1"}`, convID))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("malformed output: status = %d, want 502", rr.Code)
	}
	if got := errorMessage(t, rr); got != "Failed to parse quiz questions from AI" {
		t.Errorf("malformed output: error = %q", got)
	}

	rr = a.do(t, http.MethodPost, "/functions/v1/generate-quiz", fmt.Sprintf(`{"conversationId":%q,"userId":"u2"}`, convID))
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign conversation: status = %d, want 404", rr.Code)
	}
}

func TestProcessTextbook(t *testing.T) {
	a := newTestAPI(t, "")
	if _, err := a.objects.Put(context.Background(), "u1/nile.txt", []byte(strings.Repeat("The Nile floods every year. ", 60)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rr := a.do(t, http.MethodPost, "/functions/v1/process-textbook", `{"userId":"u1","subjectId":"history","title":"Nile","fileName":"u1/nile.txt"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[ingest.Result](t, rr)
	if !res.Success || res.ChunksCreated != 2 {
		t.Errorf("unexpected result %+v", res)
	}

	rr = a.do(t, http.MethodGet, "/v1/textbooks?userId=u1&subjectId=History", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if books := decode[[]storage.Textbook](t, rr); len(books) != 1 || books[0].ID != res.TextbookID {
		t.Errorf("unexpected textbooks %+v", books)
	}

	rr = a.do(t, http.MethodDelete, "/v1/textbooks/"+res.TextbookID+"?userId=u1", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/functions/v1/process-textbook", `{"userId":"u1","subjectId":"history"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing title: status = %d, want 400", rr.Code)
	}
}

func TestConversationsCRUD(t *testing.T) {
	a := newTestAPI(t, "")
	convID := chatTurn(t, a, "u1")

	rr := a.do(t, http.MethodGet, "/v1/conversations?userId=u1&subjectId=history", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	if convs := decode[[]storage.Conversation](t, rr); len(convs) != 1 || convs[0].Title != "Tell me about Egypt" {
		t.Fatalf("unexpected conversations %+v", convs)
	}

	rr = a.do(t, http.MethodPatch, "/v1/conversations/"+convID, `{"title":"Ancient Egypt"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("rename status = %d", rr.Code)
	}
	if c := decode[storage.Conversation](t, rr); c.Title != "Ancient Egypt" {
		t.Errorf("title = %q", c.Title)
	}

	rr = a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "")
	if msgs := decode[[]storage.Message](t, rr); len(msgs) != 2 || msgs[0].Role != "user" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	rr = a.do(t, http.MethodPost, "/v1/conversations/"+convID+"/feedback", `{"userId":"u1","feedbackType":"persona","feedbackValue":"too_casual"}`)
	if rr.Code != http.StatusCreated {
		t.Errorf("feedback status = %d body=%s", rr.Code, rr.Body.String())
	}
	rr = a.do(t, http.MethodPost, "/v1/conversations/"+convID+"/feedback", `{"userId":"u1","feedbackType":"tone"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad feedback type: status = %d", rr.Code)
	}

	rr = a.do(t, http.MethodDelete, "/v1/conversations/"+convID, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("messages after delete: status = %d, want 404", rr.Code)
	}

	rr = a.do(t, http.MethodGet, "/v1/conversations", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing userId: status = %d", rr.Code)
	}
}

func TestForeignConversationIsNotFound(t *testing.T) {
	a := newTestAPI(t, "")
	convID := chatTurn(t, a, "u1")

	if rr := a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages?userId=u2", ""); rr.Code != http.StatusNotFound {
		t.Errorf("foreign messages: status = %d, want 404", rr.Code)
	}
	if rr := a.do(t, http.MethodDelete, "/v1/conversations/"+convID+"?userId=u2", ""); rr.Code != http.StatusNotFound {
		t.Errorf("foreign delete: status = %d, want 404", rr.Code)
	}
	if rr := a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages?userId=u1", ""); rr.Code != http.StatusOK {
		t.Errorf("own messages: status = %d, want 200", rr.Code)
	}
}

func TestForeignConversationIsNotFound_JWT(t *testing.T) {
	const secret = "test-secret"
	a := newTestAPI(t, secret)
	owner := "Bearer " + signToken(t, secret, "u1")

	rr := a.do(t, http.MethodPost, "/functions/v1/chat", `{"message":"Tell me about Egypt","subject":"history","userId":"u1"}`, "Authorization", owner)
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status = %d body=%s", rr.Code, rr.Body.String())
	}
	convID := decode[chat.Response](t, rr).ConversationID

	other := "Bearer " + signToken(t, secret, "u2")
	if rr := a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "", "Authorization", other); rr.Code != http.StatusNotFound {
		t.Errorf("foreign subject: status = %d, want 404", rr.Code)
	}
	if rr := a.do(t, http.MethodGet, "/v1/conversations/"+convID+"/messages", "", "Authorization", owner); rr.Code != http.StatusOK {
		t.Errorf("owner: status = %d, want 200", rr.Code)
	}
}

func TestProfilesAndSubjects(t *testing.T) {
	a := newTestAPI(t, "")

	rr := a.do(t, http.MethodGet, "/v1/profiles/u1", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing profile: status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodPut, "/v1/profiles/u1", `{"name":"Ada","age":15,"location":"Cairo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", rr.Code, rr.Body.String())
	}
	p := decode[storage.Profile](t, rr)
	if p.Name != "Ada" || p.Age == nil || *p.Age != 15 || p.Location != "Cairo" {
		t.Errorf("unexpected profile %+v", p)
	}
	rr = a.do(t, http.MethodPut, "/v1/profiles/u1", `{"age":15}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", rr.Code)
	}

	rr = a.do(t, http.MethodGet, "/v1/subjects", "")
	if subjects := decode[[]storage.Subject](t, rr); len(subjects) != 2 {
		t.Errorf("expected 2 subjects, got %d", len(subjects))
	}
}

func TestFriendsLeaderboardActivity(t *testing.T) {
	a := newTestAPI(t, "")
	chatTurn(t, a, "u1")

	rr := a.do(t, http.MethodPost, "/v1/friends/requests", `{"senderId":"u1","receiverId":"u1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("self request: status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodPost, "/v1/friends/requests", `{"senderId":"u1","receiverId":"u2"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("send status = %d body=%s", rr.Code, rr.Body.String())
	}
	fr := decode[storage.FriendRequest](t, rr)
	rr = a.do(t, http.MethodPost, "/v1/friends/requests", `{"senderId":"u1","receiverId":"u2"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/v1/friends/requests/"+fr.ID+"/respond", `{"userId":"u2","accept":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("respond status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = a.do(t, http.MethodGet, "/v1/friends?userId=u2", "")
	if f := decode[social.Friends](t, rr); len(f.Friends) != 1 || f.Friends[0].UserID != "u1" {
		t.Errorf("unexpected friends %+v", f)
	}

	rr = a.do(t, http.MethodGet, "/v1/leaderboard?userId=u2&sort=activity", "")
	entries := decode[[]social.Entry](t, rr)
	if len(entries) != 2 || entries[0].UserID != "u1" || entries[0].ActivityPoints != 1 {
		t.Errorf("unexpected leaderboard %+v", entries)
	}

	rr = a.do(t, http.MethodGet, "/v1/activity?userId=u1", "")
	chart := decode[[]social.DayActivity](t, rr)
	if len(chart) != 7 || chart[6].Messages != 1 {
		t.Errorf("unexpected chart %+v", chart)
	}
}

func TestStats(t *testing.T) {
	a := newTestAPI(t, "")
	chatTurn(t, a, "u1")

	rr := a.do(t, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	stats := decode[struct {
		Driver  string            `json:"driver"`
		Latency []metrics.Summary `json:"latency"`
	}](t, rr)
	if stats.Driver != "sqlite" {
		t.Errorf("driver = %q", stats.Driver)
	}
	found := false
	for _, s := range stats.Latency {
		if s.Name == "gateway.complete" && s.Count == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("gateway.complete latency missing: %+v", stats.Latency)
	}
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "iat": time.Now().Unix(), "exp": time.Now().Add(time.Hour).Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	a := newTestAPI(t, secret)
	body := `{"message":"hi","subject":"history","userId":"u1"}`

	rr := a.do(t, http.MethodPost, "/functions/v1/chat", body)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/functions/v1/chat", body, "Authorization", "Bearer "+signToken(t, "other-secret", "u1"))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: status = %d, want 401", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/functions/v1/chat", body, "Authorization", "Bearer "+signToken(t, secret, "u2"))
	if rr.Code != http.StatusForbidden {
		t.Errorf("wrong subject: status = %d, want 403", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/functions/v1/chat", body, "Authorization", "Bearer "+signToken(t, secret, "u1"))
	if rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d body=%s", rr.Code, rr.Body.String())
	}

	if rr := a.do(t, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Errorf("health should not require auth, got %d", rr.Code)
	}
	if rr := a.do(t, http.MethodOptions, "/functions/v1/chat", ""); rr.Code != http.StatusOK {
		t.Errorf("preflight should not require auth, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{gateway.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("calling gateway: %w", gateway.ErrQuotaExhausted), http.StatusPaymentRequired},
		{&gateway.StatusError{Status: 500}, http.StatusInternalServerError},
		{gateway.ErrNotConfigured, http.StatusInternalServerError},
		{fmt.Errorf("completing: %w", gateway.ErrNoChoices), http.StatusBadGateway},
		{&quiz.ParseError{Reason: "x"}, http.StatusBadGateway},
		{quiz.ErrEmptyConversation, http.StatusBadRequest},
		{quiz.ErrAlreadyCompleted, http.StatusConflict},
		{chat.ErrInvalidRequest, http.StatusBadRequest},
		{social.ErrInvalid, http.StatusBadRequest},
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrConflict, http.StatusConflict},
		{errForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
