// Package msgqueue implements durable inter-agent messaging on the
// filesystem. Messages are immutable JSON files: one copy in the recipient
// inbox, one in the sender's outbox. The filesystem is the only
// coordination channel; collision-free ids make writes clobber-free.
package msgqueue

import (
	"fmt"
	"time"
)

// MessageType classifies a message.
type MessageType string

const (
	TypeInfo      MessageType = "info"
	TypeTask      MessageType = "task"
	TypeQuestion  MessageType = "question"
	TypeAnswer    MessageType = "answer"
	TypeCompleted MessageType = "completed"
	TypeError     MessageType = "error"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeInfo, TypeTask, TypeQuestion, TypeAnswer, TypeCompleted, TypeError:
		return true
	}
	return false
}

// Message is an immutable inter-agent message. Once written it is never
// mutated or deleted by the system.
type Message struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	MessageType MessageType `json:"message_type"`
	ProjectDir  string      `json:"project_dir,omitempty"`
	GitBranch   string      `json:"git_branch,omitempty"`
}

// NewMessage builds a message with a collision-free id. The id embeds the
// sender plus second and nanosecond time, so distinct messages map to
// distinct filenames under normal clocks.
func NewMessage(from, to, content string, messageType MessageType) *Message {
	if messageType == "" {
		messageType = TypeInfo
	}
	now := time.Now()
	return &Message{
		ID:          fmt.Sprintf("%s-%d-%d", from, now.Unix(), now.UnixNano()),
		From:        from,
		To:          to,
		Content:     content,
		Timestamp:   now.UTC(),
		MessageType: messageType,
	}
}
