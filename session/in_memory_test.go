package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
)

func TestAgentRoundTripIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	agent := &core.Agent{ID: "a1", Instruction: "Be brief.", Behaviors: map[string]string{"Default": "x"}, Steps: []string{"START"}}
	require.NoError(t, s.SaveAgent(ctx, agent))

	agent.Steps[0] = "CLEANUP"
	agent.Behaviors["Default"] = "mutated"

	loaded, err := s.LoadAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"START"}, loaded.Steps)
	assert.Equal(t, "x", loaded.Behaviors["Default"])

	loaded.Instruction = "changed"
	again, err := s.LoadAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", again.Instruction)
}

func TestAgentNotFound(t *testing.T) {
	_, err := NewInMemoryStore().LoadAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrAgentNotFound)
}

func TestListAndDeleteAgents(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.SaveAgent(ctx, &core.Agent{ID: "b"}))
	require.NoError(t, s.SaveAgent(ctx, &core.Agent{ID: "a"}))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].ID)

	require.NoError(t, s.DeleteAgent(ctx, "a"))
	require.NoError(t, s.DeleteAgent(ctx, "unknown"))
	agents, err = s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestChatRoundTripIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	chat := core.NewChat("c1", "gemma2:2b")
	chat.Append(core.NewMessage(core.RoleUser, "hi"))
	chat.SetProperty(core.PropDataFilter, "x")
	chat.ResumableState = []byte{1, 2}
	require.NoError(t, s.SaveChat(ctx, chat))

	chat.Messages[0].Content = "mutated"
	chat.ResumableState[0] = 9

	loaded, err := s.LoadChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", loaded.Messages[0].Content)
	assert.Equal(t, []byte{1, 2}, loaded.ResumableState)
	v, ok := loaded.Property(core.PropDataFilter)
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	require.NoError(t, s.DeleteChat(ctx, "c1"))
	_, err = s.LoadChat(ctx, "c1")
	assert.ErrorIs(t, err, core.ErrChatNotFound)
}
