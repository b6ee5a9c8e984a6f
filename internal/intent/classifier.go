package intent

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/tutord/internal/gateway"
)

const classifyTimeout = 10 * time.Second

// Completer is the gateway call the classifier needs.
type Completer interface {
	Complete(ctx context.Context, messages []gateway.Message) (string, error)
}

// Scope is how broad a geography question is.
type Scope int

const (
	ScopeSubtopic Scope = iota
	ScopeChapter
)

func (s Scope) String() string {
	if s == ScopeChapter {
		return "chapter"
	}
	return "subtopic"
}

// ImageCount is the number of illustrations generated for the scope.
func (s Scope) ImageCount() int {
	if s == ScopeChapter {
		return 2
	}
	return 1
}

// Classifier labels a query as chapter-level or subtopic via the gateway.
type Classifier struct {
	client Completer
}

func NewClassifier(client Completer) *Classifier {
	return &Classifier{client: client}
}

// Classify never fails: an error, a timeout, or any response other than the
// exact string CHAPTER yields ScopeSubtopic.
func (c *Classifier) Classify(ctx context.Context, query string) Scope {
	if query == "" {
		return ScopeSubtopic
	}

	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	raw, err := c.client.Complete(ctx, BuildPrompt(query))
	if err != nil {
		slog.Warn("topic classification failed", "error", err)
		return ScopeSubtopic
	}
	if raw == "CHAPTER" {
		return ScopeChapter
	}
	slog.Debug("topic classified", "response", raw)
	return ScopeSubtopic
}
