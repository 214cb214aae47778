package conversation

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultPersonaIdentity = "Eres un asistente virtual para mi negocio."

// PersonaLink is a named URL the assistant may share with users.
type PersonaLink struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// Persona describes who the assistant is and what it knows about the business.
// It is rendered once at startup and injected into every new session.
type Persona struct {
	Name     string        `yaml:"name"`
	Identity string        `yaml:"identity"`
	Tone     string        `yaml:"tone"`
	Facts    []string      `yaml:"facts"`
	Rules    []string      `yaml:"rules"`
	Links    []PersonaLink `yaml:"links"`
}

// DefaultPersona is the one-line business assistant prompt used when no persona is configured.
func DefaultPersona() Persona {
	return Persona{
		Identity: defaultPersonaIdentity,
		Tone:     "Sé amable, conciso y profesional.",
	}
}

// LoadPersonaFile reads a YAML persona definition.
func LoadPersonaFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("conversation: read persona file: %w", err)
	}
	return ParsePersona(data)
}

// ParsePersona decodes a YAML persona and rejects definitions with nothing to say.
func ParsePersona(data []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("conversation: decode persona: %w", err)
	}
	if strings.TrimSpace(p.Render()) == "" {
		return Persona{}, errors.New("conversation: persona is empty")
	}
	return p, nil
}

// PersonaFromText wraps a free-form context string (e.g. PERSONA_CONTEXT).
func PersonaFromText(text string) Persona {
	return Persona{Identity: strings.TrimSpace(text)}
}

// Render produces the PersonaContext text.
func (p Persona) Render() string {
	var b strings.Builder
	writeLine := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}

	if name := strings.TrimSpace(p.Name); name != "" {
		writeLine("Nombre del asistente: " + name)
	}
	writeLine(p.Identity)
	writeLine(p.Tone)
	if len(p.Facts) > 0 {
		writeLine("Información del negocio:")
		for _, f := range p.Facts {
			if strings.TrimSpace(f) != "" {
				writeLine("- " + f)
			}
		}
	}
	if len(p.Rules) > 0 {
		writeLine("Reglas:")
		for _, r := range p.Rules {
			if strings.TrimSpace(r) != "" {
				writeLine("- " + r)
			}
		}
	}
	if len(p.Links) > 0 {
		writeLine("Enlaces útiles:")
		for _, l := range p.Links {
			if strings.TrimSpace(l.URL) == "" {
				continue
			}
			label := strings.TrimSpace(l.Label)
			if label == "" {
				writeLine("- " + l.URL)
				continue
			}
			writeLine("- " + label + ": " + l.URL)
		}
	}
	return b.String()
}
