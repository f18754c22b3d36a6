package model

import (
	"time"
)

// MessageType represents the kind of message a task delivers
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeMarkdown MessageType = "markdown"
	MessageTypeImage    MessageType = "image"
	MessageTypeFile     MessageType = "file"
)

// KnownMessageTypes lists every message type accepted at task creation
var KnownMessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeMarkdown,
	MessageTypeImage,
	MessageTypeFile,
}

// Valid reports whether the message type is one of the known kinds
func (t MessageType) Valid() bool {
	for _, known := range KnownMessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// RequiresFile reports whether the message type is delivered from a local file
// instead of inline content
func (t MessageType) RequiresFile() bool {
	return t == MessageTypeImage || t == MessageTypeFile
}

// Task represents a recurring WeCom notification task
type Task struct {
	ID             int64       `json:"id"`
	UUID           string      `json:"uuid"`
	Name           string      `json:"name"`
	WebhookURL     string      `json:"webhook_url"`
	MessageType    MessageType `json:"message_type"`
	MessageContent string      `json:"message_content,omitempty"`
	FilePath       string      `json:"file_path,omitempty"`

	// CronExpression is the canonical schedule derived from the raw user
	// input, never the raw input itself.
	CronExpression string     `json:"cron_expression"`
	NextRunTime    *time.Time `json:"next_run_time,omitempty"`
	Active         bool       `json:"active"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// TaskUpdate carries a partial update for a task. Nil fields are left
// untouched by the store.
type TaskUpdate struct {
	Name           *string      `json:"name,omitempty"`
	WebhookURL     *string      `json:"webhook_url,omitempty"`
	MessageType    *MessageType `json:"message_type,omitempty"`
	MessageContent *string      `json:"message_content,omitempty"`
	FilePath       *string      `json:"file_path,omitempty"`
	CronExpression *string      `json:"cron_expression,omitempty"`
	NextRunTime    *time.Time   `json:"next_run_time,omitempty"`
	Active         *bool        `json:"active,omitempty"`
}

// TaskFilters defines the filters for listing tasks
type TaskFilters struct {
	Name   string
	Active *bool
	Limit  int
	Offset int
}
