package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/retrieval"
	"github.com/kalambet/tutord/internal/storage"
)

const defaultMaxContextTokens = 4000

const contextHeader = "[Textbook Context]\n"

// Composer assembles the tutor's system prompt from persona, textbook
// context and subject guidance, and prepends it to the conversation.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// SystemPrompt joins the persona prompt, the context block (when any chunk
// fits the budget) and the subject guidance.
func (c *Composer) SystemPrompt(p Persona, subject string, profile storage.Profile, chunks []retrieval.ContextChunk) string {
	parts := []string{PersonaPrompt(p, subject, profile)}
	if block := c.contextBlock(chunks); block != "" {
		parts = append(parts, block)
	}
	parts = append(parts, SubjectGuidance(subject))
	return strings.Join(parts, "\n\n")
}

// Compose prepends system to history. If history already starts with a
// system message, the new prompt is merged in front of it.
func (c *Composer) Compose(system string, history []gateway.Message) []gateway.Message {
	out := make([]gateway.Message, 0, len(history)+1)
	if len(history) > 0 && history[0].Role == gateway.RoleSystem {
		out = append(out, gateway.Message{Role: gateway.RoleSystem, Content: system + "\n\n---\n\n" + history[0].Content})
		return append(out, history[1:]...)
	}
	out = append(out, gateway.Message{Role: gateway.RoleSystem, Content: system})
	return append(out, history...)
}

// contextBlock keeps chunks in retrieval order and skips any that would
// exceed the remaining token budget.
func (c *Composer) contextBlock(chunks []retrieval.ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	remaining := c.MaxContextTokens - EstimateTokens(contextHeader)

	var selected []string
	for _, ch := range chunks {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return ""
	}
	return strings.TrimRight(contextHeader+strings.Join(selected, ""), "\n")
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("(Source: %s, page %d)\n%s\n\n", ch.Title, ch.Page, ch.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
