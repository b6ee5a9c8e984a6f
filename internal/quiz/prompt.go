package quiz

import (
	"fmt"
	"strings"

	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/storage"
)

// QuestionCount is how many questions the model is asked for.
const QuestionCount = 5

const systemPrompt = `You are a quiz generator. Based on the conversation provided, generate 5 multiple-choice questions that test understanding of the key concepts discussed. Each question should have 4 options (A, B, C, D) with exactly one correct answer.

Return ONLY a valid JSON array with this exact structure:
[
  {
    "question": "Question text here?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correct_answer": "A"
  }
]

Make sure:
- Questions are clear and based on content from the conversation
- Options are plausible but only one is correct
- correct_answer is one of: "A", "B", "C", or "D"
- Return ONLY the JSON array, no other text`

// BuildPrompt renders the conversation into gateway messages asking for a quiz.
func BuildPrompt(subject string, history []storage.Message) []gateway.Message {
	blocks := make([]string, len(history))
	for i, m := range history {
		blocks[i] = m.Role + ": " + m.Content
	}
	user := fmt.Sprintf("Generate %d quiz questions based on this conversation about %s:\n\n%s",
		QuestionCount, subject, strings.Join(blocks, "\n\n"))

	return []gateway.Message{
		{Role: gateway.RoleSystem, Content: systemPrompt},
		{Role: gateway.RoleUser, Content: user},
	}
}
