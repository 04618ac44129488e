package harnessports

import "context"

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged chat message.
type Message struct {
	Role    Role
	Content string
}

// ChatModel is the language model collaborator: messages in, one message out.
type ChatModel interface {
	Invoke(ctx context.Context, messages []Message) (Message, error)
}
