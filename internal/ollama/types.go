package ollama

import (
	"strings"
	"time"
)

// Model is one installed model as listed by /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ModelOptions are sampling options forwarded to the runtime.
type ModelOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

// Temperature returns options with the given sampling temperature.
func Temperature(v float64) *ModelOptions {
	return &ModelOptions{Temperature: &v}
}

// GenerateRequest is a single-turn completion.
type GenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt,omitempty"`
	System  string        `json:"system,omitempty"`
	Images  []string      `json:"images,omitempty"`
	Options *ModelOptions `json:"options,omitempty"`
	// KeepAlive is sent as-is; zero evicts the model right after the call.
	KeepAlive *int `json:"keep_alive,omitempty"`
	Stream    bool `json:"stream"`
}

// Message is one chat turn. Images are raw base64 without a data-URL prefix.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PullProgress is one status line streamed by /api/pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent returns completed/total as a whole percentage, or -1 when the line
// carries no byte counts.
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	return int(p.Completed * 100 / p.Total)
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Options  *ModelOptions `json:"options,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type nameRequest struct {
	Name   string `json:"name"`
	Stream *bool  `json:"stream,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Preferred picks the model a chat should default to: the first qwen or
// llama family model, otherwise the first installed one.
func Preferred(models []Model) string {
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if strings.Contains(name, "qwen") || strings.Contains(name, "llama") {
			return m.Name
		}
	}
	if len(models) > 0 {
		return models[0].Name
	}
	return ""
}
