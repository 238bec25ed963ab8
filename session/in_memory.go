package session

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// InMemoryStore is a volatile repository for agents and chats kept in
// process local maps. It is safe for concurrent access and best suited for
// tests, the CLI and ephemeral servers. Values are cloned on the way in and
// on the way out so callers never share state with the store.
type InMemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*core.Agent
	chats  map[string]*core.Chat
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		agents: make(map[string]*core.Agent),
		chats:  make(map[string]*core.Chat),
	}
}

// LoadAgent returns a clone of the stored agent.
func (s *InMemoryStore) LoadAgent(_ context.Context, id string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, core.ErrAgentNotFound
	}
	return a.Clone(), nil
}

// SaveAgent stores a clone of agent, replacing any previous version.
func (s *InMemoryStore) SaveAgent(_ context.Context, agent *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = agent.Clone()
	return nil
}

// DeleteAgent removes an agent. Deleting an unknown id is not an error.
func (s *InMemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

// ListAgents returns clones of every agent sorted by id.
func (s *InMemoryStore) ListAgents(_ context.Context) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadChat returns a clone of the stored chat.
func (s *InMemoryStore) LoadChat(_ context.Context, id string) (*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, core.ErrChatNotFound
	}
	return c.Clone(), nil
}

// SaveChat stores a clone of chat, replacing any previous version.
func (s *InMemoryStore) SaveChat(_ context.Context, chat *core.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat.Clone()
	return nil
}

// DeleteChat removes a chat. Deleting an unknown id is not an error.
func (s *InMemoryStore) DeleteChat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, id)
	return nil
}

var (
	_ core.AgentRepository = (*InMemoryStore)(nil)
	_ core.ChatRepository  = (*InMemoryStore)(nil)
)
