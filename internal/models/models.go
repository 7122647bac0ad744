package models

import "time"

// Document is one corpus entry. Embedding is derived from Content only,
// computed at most once per process lifetime and never written back to disk.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Scored pairs a document with its similarity score for one query.
type Scored struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ChatMessage is one turn in a conversation transcript. Sources holds the
// titles of the documents whose content was injected into the prompt.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Messages  []ChatMessage `json:"messages,omitempty"`
}
