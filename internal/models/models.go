package models

import "time"

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
)

// MessageMetadata records what a turn did
type MessageMetadata struct {
	ActionType string   `json:"actionType,omitempty"`
	TaskIDs    []string `json:"taskIds,omitempty"`
	ProjectIDs []string `json:"projectIds,omitempty"`
}

// ChatMessage is one immutable entry of a user's conversation
type ChatMessage struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Type      MessageType      `json:"type"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// Notification is pushed to a user outside of a chat turn
type Notification struct {
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
