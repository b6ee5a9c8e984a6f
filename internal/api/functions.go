package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/ingest"
)

type generateQuizRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, req.UserID); err != nil {
			writeError(w, r, err)
			return
		}

		if !req.Stream {
			resp, err := deps.Chat.Handle(r.Context(), req)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}
		stream, err := deps.Chat.OpenStream(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Conversation-Id", stream.ConversationID)
		w.WriteHeader(http.StatusOK)

		if _, err := stream.Relay(r.Context(), w, flusher.Flush); err != nil {
			slog.Error("chat stream failed", "conversation_id", stream.ConversationID, "error", err)
			payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
			if marshalErr == nil {
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}

func handleGenerateQuiz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateQuizRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, req.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Quiz.Generate(r.Context(), req.ConversationID, req.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleProcessTextbook(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.Request
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if err := authorize(r, req.UserID); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := deps.Ingest.Process(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
