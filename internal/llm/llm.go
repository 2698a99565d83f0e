// Package llm wraps the remote completion providers behind one Completer
// interface. Providers return raw model text (or tool-call arguments encoded
// as JSON); parsing and validation belong to the callers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Param describes one argument of a Tool. Type is a JSON schema primitive:
// "string", "number", "boolean", "array" or "object".
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Enum        []string
}

// Tool asks providers with native function calling to answer through a
// structured call. Providers without it fall back to a JSON instruction.
type Tool struct {
	Name        string
	Description string
	Params      []Param
}

type Request struct {
	System   string
	Messages []Message
	Tool     *Tool
}

type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

var (
	ErrNoChoices    = errors.New("no response from model")
	ErrNoJSON       = errors.New("no JSON object in model response")
	ErrNotSupported = errors.New("unsupported LLM provider")
)

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// ExtractJSONObject pulls the outermost {...} out of model output that may be
// wrapped in markdown fences or commentary.
func ExtractJSONObject(content string) (string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSON
	}
	return content[start : end+1], nil
}

// toolInstruction renders a Tool as a plain JSON instruction for providers
// that cannot make function calls.
func toolInstruction(t *Tool) string {
	var b strings.Builder
	b.WriteString("Respond with ONLY a JSON object (no markdown, no commentary) with these fields:\n")
	for _, p := range t.Params {
		b.WriteString("- ")
		b.WriteString(p.Name)
		b.WriteString(" (")
		b.WriteString(p.Type)
		if !p.Required {
			b.WriteString(", optional")
		}
		b.WriteString("): ")
		b.WriteString(p.Description)
		if len(p.Enum) > 0 {
			b.WriteString(" One of: ")
			b.WriteString(strings.Join(p.Enum, ", "))
			b.WriteString(".")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// systemPrompt joins the request system text with the tool instruction.
func systemPrompt(req Request) string {
	if req.Tool == nil {
		return req.System
	}
	if req.System == "" {
		return toolInstruction(req.Tool)
	}
	return req.System + "\n\n" + toolInstruction(req.Tool)
}

// transcript flattens a role-tagged history into one prompt for providers
// whose client only accepts a single user turn.
func transcript(msgs []Message) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		case RoleSystem:
			b.WriteString("System: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
