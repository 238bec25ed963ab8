package core

import "time"

// NotificationType categorizes a published Notification.
type NotificationType string

const (
	// NotifyToken carries one generated token of an interactive chat.
	NotifyToken NotificationType = "token"
	// NotifyProgress reports agent processing state and the current step.
	NotifyProgress NotificationType = "progress"
	// NotifyTool reports a tool invocation.
	NotifyTool NotificationType = "tool"
	// NotifyNotice carries an informational notice such as an exhausted
	// tool iteration ceiling.
	NotifyNotice NotificationType = "notice"
)

// Notification is a fire-and-forget progress or token event.
type Notification struct {
	Type         NotificationType `json:"type"`
	ChatID       string           `json:"chat_id,omitempty"`
	AgentID      string           `json:"agent_id,omitempty"`
	Text         string           `json:"text,omitempty"`
	TokenType    string           `json:"token_type,omitempty"`
	Done         bool             `json:"done,omitempty"`
	IsProcessing bool             `json:"is_processing,omitempty"`
	Behavior     string           `json:"behavior,omitempty"`
	Step         string           `json:"step,omitempty"`
	Tool         string           `json:"tool,omitempty"`
	Time         time.Time        `json:"time"`
}

// Notifier publishes notifications. Publish must never block the caller;
// a slow sink degrades (drops) rather than stalls generation.
type Notifier interface {
	Publish(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

// Publish calls f(n).
func (f NotifierFunc) Publish(n Notification) { f(n) }

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

// Publish implements Notifier.
func (NoOpNotifier) Publish(Notification) {}
