package gateway

import (
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of an OpenAI-compatible conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model      string    `json:"model"`
	Messages   []Message `json:"messages"`
	Stream     bool      `json:"stream,omitempty"`
	Modalities []string  `json:"modalities,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Images  []struct {
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

var (
	// ErrRateLimited is returned when the gateway answers HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExhausted is returned when the gateway answers HTTP 402.
	ErrQuotaExhausted = errors.New("credits exhausted")
	// ErrNotConfigured is returned when no API key is available.
	ErrNotConfigured = errors.New("gateway API key not configured")
	// ErrNoImage is returned when an image response carries no image URL.
	ErrNoImage = errors.New("no image in response")
	// ErrNoChoices is returned when a completion carries no choices.
	ErrNoChoices = errors.New("no choices in response")
)

// StatusError is any other non-200 gateway response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}
