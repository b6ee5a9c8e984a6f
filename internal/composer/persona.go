package composer

import (
	"fmt"
	"strings"

	"github.com/kalambet/tutord/internal/storage"
)

// Persona selects the tutor's voice.
type Persona string

const (
	PersonaGenZ     Persona = "genz"
	PersonaPersonal Persona = "personal"
	PersonaNormal   Persona = "normal"
)

// ParsePersona maps a client-supplied persona. Unknown values are normal.
func ParsePersona(s string) Persona {
	switch Persona(strings.ToLower(strings.TrimSpace(s))) {
	case PersonaGenZ:
		return PersonaGenZ
	case PersonaPersonal:
		return PersonaPersonal
	default:
		return PersonaNormal
	}
}

// PersonaPrompt returns the persona's opening system instruction for subject.
// Missing profile fields are rendered neutrally.
func PersonaPrompt(p Persona, subject string, profile storage.Profile) string {
	switch p {
	case PersonaGenZ:
		return fmt.Sprintf("You are a fun, relatable Gen-Z tutor teaching %s. Use casual language, metaphors, and make learning feel like chatting with a friend. Keep it factual but engaging. Use expressions like \"no cap\", \"lowkey\", \"vibes\", but don't overdo it.", subject)
	case PersonaPersonal:
		return fmt.Sprintf("You are a personalized tutor teaching %s to %s. Use examples and references that relate to their age and location. Make the content feel familiar and culturally relevant.", subject, describeStudent(profile))
	default:
		return fmt.Sprintf("You are a professional, traditional tutor teaching %s. Provide clear, structured explanations with proper terminology. Be thorough and academic in your approach.", subject)
	}
}

func describeStudent(p storage.Profile) string {
	var sb strings.Builder
	name := strings.TrimSpace(p.Name)
	if name == "" {
		sb.WriteString("the student")
	} else {
		sb.WriteString(name)
	}

	switch {
	case p.Age != nil && *p.Age > 0:
		fmt.Fprintf(&sb, ", a %d-year-old student", *p.Age)
	case name != "":
		sb.WriteString(", a student")
	}

	if loc := strings.TrimSpace(p.Location); loc != "" {
		fmt.Fprintf(&sb, " from %s", loc)
	}
	return sb.String()
}

// SubjectGuidance returns the formatting instructions appended after the
// persona and context.
func SubjectGuidance(subject string) string {
	g := "Format answers in markdown: use ## headings for major sections, ### for sub-points, and bullet lists for key facts. Keep paragraphs short."
	if strings.EqualFold(subject, "geography") {
		g += "\n\nFor Geography topics, you can describe visual elements but do not generate images yourself. Focus on clear explanations."
	}
	return g
}
