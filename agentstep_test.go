package agentstep

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/model/registry"
)

func newTestAgentStep(t *testing.T, cfg config.Config, replies ...model.MockReply) (*AgentStep, *model.MockBackend) {
	t.Helper()
	mock := model.NewMockBackend("mock", replies...)
	reg := registry.New()
	reg.RegisterBackend(core.BackendLocal, mock)

	a, err := New(context.Background(), func(o *Options) {
		o.Config = cfg
		o.Backends = reg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, mock
}

func TestCreateAgentAndProcess(t *testing.T) {
	a, _ := newTestAgentStep(t, config.Default(), model.MockReply{Text: "Hi there"})
	ctx := context.Background()

	agent, err := a.CreateAgent(ctx, &core.Agent{
		ID:          "greeter",
		Model:       "mock",
		Instruction: "You greet people.",
		Steps:       []string{"ANSWER"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.BackendLocal, agent.Backend)

	chat, err := a.Process(ctx, "greeter", "Hello")
	require.NoError(t, err)
	require.Len(t, chat.Messages, 3)
	assert.Equal(t, core.RoleSystem, chat.Messages[0].Role)
	assert.Equal(t, "Hi there", chat.LastMessage().Content)
}

func TestEnsureAgentFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = []config.AgentConfig{{
		ID:          "declared",
		Model:       "mock",
		Instruction: "Declared instruction.",
		Steps:       []string{"ANSWER"},
	}}
	a, _ := newTestAgentStep(t, cfg)
	ctx := context.Background()

	agent, err := a.EnsureAgent(ctx, "declared")
	require.NoError(t, err)
	assert.Equal(t, "Declared instruction.", agent.Instruction)
	require.NotEmpty(t, agent.ChatID)

	again, err := a.EnsureAgent(ctx, "declared")
	require.NoError(t, err)
	assert.Equal(t, agent.ChatID, again.ChatID, "second call loads the stored agent")

	_, err = a.EnsureAgent(ctx, "undeclared")
	assert.True(t, errors.Is(err, core.ErrAgentNotFound))
}

func TestSQLiteStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "agents.db")
	a, _ := newTestAgentStep(t, cfg, model.MockReply{Text: "stored"})
	ctx := context.Background()

	_, err := a.CreateAgent(ctx, &core.Agent{ID: "durable", Model: "mock", Instruction: "x", Steps: []string{"ANSWER"}})
	require.NoError(t, err)
	_, err = a.Process(ctx, "durable", "q")
	require.NoError(t, err)

	chat, err := a.Engine().Chat(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, "stored", chat.LastMessage().Content)
}

func TestListModels(t *testing.T) {
	a, _ := newTestAgentStep(t, config.Default())
	models, err := a.ListModels(context.Background(), core.BackendLocal)
	require.NoError(t, err)
	assert.NotEmpty(t, models)

	_, err = a.ListModels(context.Background(), core.BackendAnthropic)
	assert.True(t, core.IsConfigError(err), "override registry knows no anthropic backend")
}

func TestRegisterBackendsFromConfig(t *testing.T) {
	cfg := config.Default()
	reg := registry.New()
	registerBackends(reg, cfg, nil, core.NoOpNotifier{}, nil, logging.NoOpLogger{})

	types := reg.Types()
	assert.Contains(t, types, core.BackendOpenAI)
	assert.Contains(t, types, core.BackendAnthropic)
	assert.NotContains(t, types, core.BackendCompatible, "no base url configured")
	assert.NotContains(t, types, core.BackendLocal, "no runtime")

	b, err := reg.Backend(core.BackendDeepSeek)
	require.NoError(t, err)
	assert.Equal(t, "deepseek", string(b.Info().Provider))
}
