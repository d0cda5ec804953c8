// Package chat holds the agent conversation: the message log, the
// generation directive embedded in model replies, and the agent that ties the
// language model to the image pipeline.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind tells the page how to render a message.
type Kind string

const (
	KindText              Kind = "text"
	KindGenerationRequest Kind = "image-generation-request"
	KindGenerationResult  Kind = "image-result"
)

// Roles used in the log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const welcomeText = "Hey! I'm your creative AI assistant. I can help you brainstorm ideas, answer questions, and generate images when you need them. How can I help you?"

// Message is one entry of the conversation.
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Kind      Kind              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Images    []string          `json:"images,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m Message) clone() Message {
	if m.Images != nil {
		m.Images = append([]string(nil), m.Images...)
	}
	if m.Metadata != nil {
		md := make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			md[k] = v
		}
		m.Metadata = md
	}
	return m
}

// Log is an append-only conversation, safe for concurrent use.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
	now  func() time.Time
}

// NewLog returns a log holding the welcome message.
func NewLog() *Log {
	l := &Log{now: time.Now}
	l.Append(Message{ID: "welcome", Role: RoleAssistant, Content: welcomeText, Kind: KindText})
	return l
}

// Append stores m, filling in the id, kind and timestamp when unset, and
// returns the stored copy.
func (l *Log) Append(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now()
	}
	m = m.clone()
	l.msgs = append(l.msgs, m)
	return m.clone()
}

// List returns a copy of every message in order.
func (l *Log) List() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	for i, m := range l.msgs {
		out[i] = m.clone()
	}
	return out
}

// Get returns the message with the given id.
func (l *Log) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.msgs {
		if m.ID == id {
			return m.clone(), true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
