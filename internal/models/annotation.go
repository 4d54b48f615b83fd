package models

import "time"

// Annotation holds provider notes and tags attached to a conversation.
// Keyed by lower-cased conversation id in the annotation cache.
type Annotation struct {
	ConversationID string     `json:"conversation_id"`
	Notes          string     `json:"notes"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedBy      *string    `json:"created_by,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}
