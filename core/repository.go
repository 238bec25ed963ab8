package core

import "context"

// AgentRepository persists agents. Load returns ErrAgentNotFound for an
// unknown id. Implementations return copies so callers cannot mutate stored
// state behind the repository's back.
type AgentRepository interface {
	LoadAgent(ctx context.Context, id string) (*Agent, error)
	SaveAgent(ctx context.Context, agent *Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]*Agent, error)
}

// ChatRepository persists chats. Load returns ErrChatNotFound for an
// unknown id.
type ChatRepository interface {
	LoadChat(ctx context.Context, id string) (*Chat, error)
	SaveChat(ctx context.Context, chat *Chat) error
	DeleteChat(ctx context.Context, id string) error
}
