package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether the role is one of the known roles
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

var (
	ErrMissingUserID         = errors.New("user_id is required")
	ErrMissingConversationID = errors.New("conversation_id is required")
)

// Scope is the (user, conversation) pair that bounds every retrieval.
// Results never cross a scope.
type Scope struct {
	UserID         string `json:"user_id" db:"user_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
}

// NewScope builds a scope from trimmed identifiers
func NewScope(userID, conversationID string) Scope {
	return Scope{
		UserID:         strings.TrimSpace(userID),
		ConversationID: strings.TrimSpace(conversationID),
	}
}

// Validate checks that both identifiers are present
func (s Scope) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return ErrMissingUserID
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrMissingConversationID
	}
	return nil
}

// Message is a single turn in a conversation
type Message struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	ConversationID string         `json:"conversation_id" db:"conversation_id"`
	Role           Role           `json:"role" db:"role"`
	Content        string         `json:"content" db:"content"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

// NewMessage creates a new Message with a fresh id and creation timestamp
func NewMessage(scope Scope, role Role, content string) *Message {
	return &Message{
		ID:             uuid.New(),
		UserID:         scope.UserID,
		ConversationID: scope.ConversationID,
		Role:           role,
		Content:        content,
		Metadata:       map[string]any{},
		CreatedAt:      time.Now().UTC(),
	}
}

// Scope returns the (user, conversation) pair this message belongs to
func (m *Message) Scope() Scope {
	return Scope{UserID: m.UserID, ConversationID: m.ConversationID}
}

// HasContent reports whether the message carries non-blank text
func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != ""
}

// Embedding is the vector representation of one message. It is written
// once, alongside its message, and removed when the message is deleted.
type Embedding struct {
	MessageID uuid.UUID `json:"message_id" db:"message_id"`
	Vector    []float32 `json:"-" db:"embedding"`
	Model     string    `json:"model" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Embedding model
func (Embedding) TableName() string {
	return "message_embeddings"
}

// NewEmbedding creates an Embedding for the given message
func NewEmbedding(messageID uuid.UUID, vector []float32, model string) *Embedding {
	return &Embedding{
		MessageID: messageID,
		Vector:    vector,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
}

// Dimensions returns the length of the stored vector
func (e *Embedding) Dimensions() int {
	return len(e.Vector)
}
