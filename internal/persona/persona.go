// Package persona builds the prompt sent upstream from a user's question.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona describes who the assistant speaks as and how it answers.
type Persona struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Instructions []string `yaml:"instructions"`
	// MaxSentences bounds spoken answers; zero disables the hint.
	MaxSentences int `yaml:"max_sentences"`
}

// Default is used when no persona file is configured.
func Default() *Persona {
	return &Persona{
		Name:        "Assistant",
		Description: "a friendly voice assistant",
		Instructions: []string{
			"Answer in plain conversational language that sounds natural when read aloud.",
			"Do not use markdown, lists, code blocks or emoji.",
			"If you do not know the answer, say so briefly.",
		},
		MaxSentences: 3,
	}
}

// Load reads a persona from a YAML file. An empty path returns Default.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML persona. Missing fields fall back to Default.
func Parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse persona: %w", err)
	}

	def := Default()
	if p.Name == "" {
		p.Name = def.Name
	}
	if p.Description == "" {
		p.Description = def.Description
	}
	if len(p.Instructions) == 0 {
		p.Instructions = def.Instructions
	}
	if p.MaxSentences < 0 {
		return nil, fmt.Errorf("max_sentences must not be negative, got %d", p.MaxSentences)
	}
	return &p, nil
}

// Prompt wraps the question with the persona's instructions.
func (p *Persona) Prompt(question string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, %s.\n", p.Name, p.Description)
	for _, line := range p.Instructions {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if p.MaxSentences > 0 {
		fmt.Fprintf(&b, "Keep the answer to at most %d sentences.\n", p.MaxSentences)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))

	return b.String()
}
