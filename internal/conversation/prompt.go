package conversation

import (
	"strings"
)

const (
	personaOpenTag      = "<persona>"
	personaCloseTag     = "</persona>"
	userMessageOpenTag  = "<user_message>"
	userMessageCloseTag = "</user_message>"

	seedInstruction = "A partir de ahora, asume el siguiente rol y contexto en todas tus respuestas. " +
		"Responde siempre en el idioma del usuario."
)

// sectionTags are the markers that delimit prompt sections.
var sectionTags = []string{personaOpenTag, personaCloseTag, userMessageOpenTag, userMessageCloseTag}

// PromptBuilder renders the persona into seed turns (stateful mode) and into
// one-shot prompts (stateless mode). It holds no per-request state.
type PromptBuilder struct {
	persona string
}

// NewPromptBuilder captures the rendered persona text. The text is fixed for
// the lifetime of the builder.
func NewPromptBuilder(persona Persona) *PromptBuilder {
	return &PromptBuilder{persona: persona.Render()}
}

// PersonaContext returns the rendered persona text.
func (b *PromptBuilder) PersonaContext() string {
	return b.persona
}

// SeedTurns returns the two turns every new session starts with: a user turn
// asking the model to adopt the persona, then an assistant turn holding it.
func (b *PromptBuilder) SeedTurns() []ChatMessage {
	return []ChatMessage{
		UserTurn(seedInstruction),
		AssistantTurn(b.persona),
	}
}

// BuildPrompt assembles a single stateless prompt from the persona and the
// literal user message.
func (b *PromptBuilder) BuildPrompt(message string) string {
	var sb strings.Builder
	sb.Grow(len(b.persona) + len(message) + 64)
	sb.WriteString(personaOpenTag)
	sb.WriteString("\n")
	sb.WriteString(b.persona)
	sb.WriteString("\n")
	sb.WriteString(personaCloseTag)
	sb.WriteString("\n\n")
	sb.WriteString(userMessageOpenTag)
	sb.WriteString("\n")
	sb.WriteString(neutralizeSectionTags(message))
	sb.WriteString("\n")
	sb.WriteString(userMessageCloseTag)
	return sb.String()
}

// neutralizeSectionTags swaps the angle brackets of any section tag in s
// (case-insensitive) for ‹ and ›. Other text is left byte-for-byte intact.
func neutralizeSectionTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	i := 0
	for i < len(s) {
		matched := ""
		if s[i] == '<' {
			for _, tag := range sectionTags {
				if len(s)-i >= len(tag) && strings.EqualFold(s[i:i+len(tag)], tag) {
					matched = tag
					break
				}
			}
		}
		if matched == "" {
			out.WriteByte(s[i])
			i++
			continue
		}
		out.WriteString("‹")
		out.WriteString(s[i+1 : i+len(matched)-1])
		out.WriteString("›")
		i += len(matched)
	}
	return out.String()
}
