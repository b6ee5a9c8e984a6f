package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput is matched by every *ParseError.
var ErrMalformedOutput = errors.New("malformed quiz output")

// ParseError reports model output that could not be turned into questions.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parsing quiz output: " + e.Reason
}

func (e *ParseError) Unwrap() error { return ErrMalformedOutput }

// Question is one generated multiple-choice question.
type Question struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// ParseQuestions decodes the model's JSON array, with or without a markdown
// code fence around it.
func ParseQuestions(raw string) ([]Question, error) {
	cleaned := stripFences(raw)

	var qs []Question
	if err := json.Unmarshal([]byte(cleaned), &qs); err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: raw}
	}
	if len(qs) == 0 {
		return nil, &ParseError{Reason: "no questions", Raw: raw}
	}
	for i := range qs {
		q := &qs[i]
		q.Question = strings.TrimSpace(q.Question)
		q.CorrectAnswer = strings.ToUpper(strings.TrimSpace(q.CorrectAnswer))
		if q.Question == "" {
			return nil, &ParseError{Reason: fmt.Sprintf("question %d has no text", i+1), Raw: raw}
		}
		if len(q.Options) != 4 {
			return nil, &ParseError{Reason: fmt.Sprintf("question %d has %d options", i+1, len(q.Options)), Raw: raw}
		}
		if !validLetter(q.CorrectAnswer) {
			return nil, &ParseError{Reason: fmt.Sprintf("question %d has answer %q", i+1, q.CorrectAnswer), Raw: raw}
		}
	}
	return qs, nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json\n", "")
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```\n", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func validLetter(s string) bool {
	return len(s) == 1 && s[0] >= 'A' && s[0] <= 'D'
}
