package intent

import "github.com/kalambet/tutord/internal/gateway"

const systemPrompt = `You classify geography questions by scope. A question covering a whole chapter or broad theme (for example "explain plate tectonics" or "teach me about climate zones") is CHAPTER. A question about one specific feature, term or fact is SUBTOPIC.

Respond with exactly CHAPTER or SUBTOPIC. Do not include any other text.`

// BuildPrompt constructs the gateway messages for scope classification.
func BuildPrompt(query string) []gateway.Message {
	return []gateway.Message{
		{Role: gateway.RoleSystem, Content: systemPrompt},
		{Role: gateway.RoleUser, Content: query},
	}
}
