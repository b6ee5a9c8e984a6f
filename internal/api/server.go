package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/ingest"
	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/quiz"
	"github.com/kalambet/tutord/internal/social"
	"github.com/kalambet/tutord/internal/storage"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
)

type Deps struct {
	Store     *storage.Store
	Chat      *chat.Orchestrator
	Quiz      *quiz.Generator
	Ingest    *ingest.Service
	Social    *social.Service
	Metrics   *metrics.Recorder
	JWTSecret string
}

// NewHandler returns the HTTP API: the three edge functions under
// /functions/v1, the data routes under /v1, and unauthenticated /health and
// /stats.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/health", handleHealth(deps))
	r.Get("/stats", handleStats(deps))

	r.Group(func(r chi.Router) {
		r.Use(JWTAuth(deps.JWTSecret))

		r.Post("/functions/v1/chat", handleChat(deps))
		r.Post("/functions/v1/generate-quiz", handleGenerateQuiz(deps))
		r.Post("/functions/v1/process-textbook", handleProcessTextbook(deps))

		r.Route("/v1", func(r chi.Router) {
			r.Get("/subjects", handleListSubjects(deps))

			r.Get("/profiles/{id}", handleGetProfile(deps))
			r.Put("/profiles/{id}", handlePutProfile(deps))

			r.Get("/conversations", handleListConversations(deps))
			r.Post("/conversations", handleCreateConversation(deps))
			r.Patch("/conversations/{id}", handleRenameConversation(deps))
			r.Delete("/conversations/{id}", handleDeleteConversation(deps))
			r.Get("/conversations/{id}/messages", handleListMessages(deps))
			r.Post("/conversations/{id}/feedback", handleFeedback(deps))

			r.Get("/quizzes", handleListQuizzes(deps))
			r.Get("/quizzes/{id}", handleGetQuiz(deps))
			r.Post("/quizzes/{id}/submit", handleSubmitQuiz(deps))

			r.Get("/textbooks", handleListTextbooks(deps))
			r.Delete("/textbooks/{id}", handleDeleteTextbook(deps))

			r.Get("/leaderboard", handleLeaderboard(deps))
			r.Get("/friends", handleListFriends(deps))
			r.Post("/friends/requests", handleSendFriendRequest(deps))
			r.Post("/friends/requests/{id}/respond", handleRespondFriendRequest(deps))
			r.Get("/activity", handleActivity(deps))
		})
	})

	return r
}

// CORS sets the browser headers on every response and answers any OPTIONS
// request with an empty 200.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := struct {
			Driver  string            `json:"driver,omitempty"`
			Latency []metrics.Summary `json:"latency"`
		}{Latency: deps.Metrics.Snapshot()}
		if deps.Store != nil {
			stats.Driver = deps.Store.Driver()
		}
		if stats.Latency == nil {
			stats.Latency = []metrics.Summary{}
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
