// Package agentstep provides a high-level facade over the step engine and
// its collaborators (backends, repositories, memory, notifications and
// logging). Most applications interact with this package by:
//  1. Creating an AgentStep via New(), usually from a config.Config
//  2. Creating agents (CreateAgent) or declaring them in the configuration
//  3. Sending user messages to agents (Process)
//
// The facade delegates execution to engine.Engine. All defaults are safe for
// local development; production deployments typically select the sqlite
// storage driver and a structured logger.
package agentstep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/datasource"
	"github.com/hupe1980/agentstep/engine"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/memory"
	"github.com/hupe1980/agentstep/model"
	anthropicbackend "github.com/hupe1980/agentstep/model/anthropic"
	"github.com/hupe1980/agentstep/model/local"
	openaibackend "github.com/hupe1980/agentstep/model/openai"
	"github.com/hupe1980/agentstep/model/registry"
	"github.com/hupe1980/agentstep/notify"
	"github.com/hupe1980/agentstep/session"
	"github.com/hupe1980/agentstep/store/sqlite"
	"github.com/hupe1980/agentstep/tool"
)

// Options configures the AgentStep instance.
type Options struct {
	Config config.Config

	// Runtime enables the local backend. Without one, chats targeting the
	// local backend fail with a configuration error.
	Runtime local.Runtime

	// Repositories override the storage driver selected by Config.
	Agents core.AgentRepository
	Chats  core.ChatRepository
	// MemoryStore backs AskWithContext retrieval.
	MemoryStore core.MemoryStore

	// Backends overrides the registry built from Config.
	Backends *registry.Registry
	Tools    *tool.Registry

	Callbacks *engine.CallbackManager
	// Notifier receives progress and token events. It is wrapped in a
	// non-blocking notify.Async.
	Notifier core.Notifier
	// Logger defaults to a logger built from Config.Log.
	Logger logging.Logger
}

// AgentStep is the facade aggregating the engine and its services.
type AgentStep struct {
	opts     Options
	engine   *engine.Engine
	backends *registry.Registry
	notifier *notify.Async
	logger   logging.Logger
	closers  []io.Closer
}

// New creates an AgentStep. Unset services are built from opts.Config.
func New(ctx context.Context, optFns ...func(o *Options)) (*AgentStep, error) {
	opts := Options{Config: config.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config

	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:       logging.ParseLevel(cfg.Log.Level),
			Format:      cfg.Log.Format,
			Output:      os.Stderr,
			Component:   "agentstep",
			CustomAttrs: map[string]any{},
		})
	}

	a := &AgentStep{opts: opts, logger: opts.Logger}

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	var sink core.Notifier = core.NoOpNotifier{}
	if opts.Notifier != nil {
		sink = opts.Notifier
	}
	a.notifier = notify.NewAsync(sink, func(o *notify.AsyncOptions) {
		if cfg.Notify.BufferSize > 0 {
			o.BufferSize = cfg.Notify.BufferSize
		}
		o.Logger = opts.Logger
	})

	retriever := memory.NewService(func(o *memory.Options) {
		o.Store = a.opts.MemoryStore
		o.Logger = opts.Logger
	})

	a.backends = opts.Backends
	if a.backends == nil {
		a.backends = registry.New()
		registerBackends(a.backends, cfg, opts.Runtime, a.notifier, retriever, opts.Logger)
	}

	a.engine = engine.New(func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentInvocations: cfg.Engine.MaxConcurrentInvocations,
			MaxToolIterations:        cfg.Engine.MaxToolIterations,
			ParallelToolCalls:        cfg.Engine.ParallelToolCalls,
		}
		o.Agents = a.opts.Agents
		o.Chats = a.opts.Chats
		o.Backends = a.backends
		o.Tools = opts.Tools
		o.DataSources = datasource.New(func(o *datasource.Options) { o.Logger = opts.Logger })
		o.Callbacks = opts.Callbacks
		o.Notifier = a.notifier
		o.Logger = opts.Logger
	})

	return a, nil
}

func (a *AgentStep) openStorage(ctx context.Context) error {
	if a.opts.Agents != nil && a.opts.Chats != nil {
		if a.opts.MemoryStore == nil {
			a.opts.MemoryStore = memory.NewInMemoryStore()
		}
		return nil
	}

	switch a.opts.Config.Storage.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, a.opts.Config.Storage.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, st)
		a.fillStorage(st, st, st)
	default:
		st := session.NewInMemoryStore()
		a.fillStorage(st, st, memory.NewInMemoryStore())
	}
	return nil
}

func (a *AgentStep) fillStorage(agents core.AgentRepository, chats core.ChatRepository, mem core.MemoryStore) {
	if a.opts.Agents == nil {
		a.opts.Agents = agents
	}
	if a.opts.Chats == nil {
		a.opts.Chats = chats
	}
	if a.opts.MemoryStore == nil {
		a.opts.MemoryStore = mem
	}
}

// registerBackends installs a factory for every backend the configuration
// can reach. Factories run on first use, so unused providers cost nothing.
func registerBackends(reg *registry.Registry, cfg config.Config, rt local.Runtime, n core.Notifier, r model.Retriever, logger logging.Logger) {
	openAICompatible := []core.BackendType{
		core.BackendOpenAI, core.BackendGroq, core.BackendDeepSeek,
		core.BackendXAI, core.BackendOllama, core.BackendCompatible,
	}
	for _, t := range openAICompatible {
		p, _ := cfg.Provider(t)
		if t == core.BackendCompatible && p.BaseURL == "" {
			continue
		}
		reg.Register(t, func() (model.Backend, error) {
			return openaibackend.New(func(o *openaibackend.Options) {
				o.Provider = t
				o.APIKey = p.APIKey
				o.BaseURL = p.BaseURL
				if p.Model != "" {
					o.Model = p.Model
				}
				if p.ImageModel != "" {
					o.ImageModel = p.ImageModel
				}
				if p.Temperature > 0 {
					o.Temperature = p.Temperature
				}
				if p.MaxTokens > 0 {
					o.MaxCompletionTokens = p.MaxTokens
				}
				o.Stream = p.Stream
				o.Reasoner = model.Reasoners[p.Reasoning]
				o.Notifier = n
				o.Retriever = r
				o.Logger = logger
			}), nil
		})
	}

	p := cfg.Backend.Anthropic
	reg.Register(core.BackendAnthropic, func() (model.Backend, error) {
		return anthropicbackend.New(func(o *anthropicbackend.Options) {
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			if p.Model != "" {
				o.Model = anthropic.Model(p.Model)
			}
			if p.Temperature > 0 {
				o.Temperature = p.Temperature
			}
			if p.MaxTokens > 0 {
				o.MaxTokens = p.MaxTokens
			}
			o.Notifier = n
			o.Retriever = r
			o.Logger = logger
		}), nil
	})

	if rt == nil {
		return
	}
	lc := cfg.Local
	reg.Register(core.BackendLocal, func() (model.Backend, error) {
		catalog := local.DefaultCatalog()
		for _, e := range lc.Models {
			catalog.Add(e)
		}
		return local.New(rt, func(o *local.Options) {
			o.ModelsPath = lc.ModelsPath
			if lc.MaxTokens > 0 {
				o.MaxTokens = lc.MaxTokens
			}
			if lc.ContextSize > 0 {
				o.ContextSize = lc.ContextSize
			}
			o.GPULayers = lc.GPULayers
			o.Catalog = catalog
			o.Notifier = n
			o.Retriever = r
			o.Logger = logger
		}), nil
	})
}

// Engine exposes the underlying engine.
func (a *AgentStep) Engine() *engine.Engine { return a.engine }

// Backends exposes the backend registry.
func (a *AgentStep) Backends() *registry.Registry { return a.backends }

// CreateAgent creates the agent's chat, runs START and persists both. The
// chat inherits the agent's model and backend, falling back to the
// configured default backend.
func (a *AgentStep) CreateAgent(ctx context.Context, agent *core.Agent, chatFns ...func(c *core.Chat)) (*core.Agent, error) {
	if agent.Backend == "" {
		agent = agent.Clone()
		agent.Backend = core.BackendType(a.opts.Config.Backend.Default)
	}
	bypass := a.opts.Config.Local.BypassCache
	fns := append([]func(c *core.Chat){func(c *core.Chat) { c.BypassCache = bypass }}, chatFns...)
	return a.engine.CreateAgent(ctx, agent, fns...)
}

// EnsureAgent loads the agent, creating it from its configuration
// declaration when it does not exist yet.
func (a *AgentStep) EnsureAgent(ctx context.Context, id string) (*core.Agent, error) {
	agent, err := a.opts.Agents.LoadAgent(ctx, id)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, core.ErrAgentNotFound) {
		return nil, err
	}
	decl, ok := a.opts.Config.Agent(id)
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, core.ErrAgentNotFound)
	}
	a.logger.Info("agentstep.agent_created", "agent_id", id)
	return a.CreateAgent(ctx, decl.ToAgent(core.BackendType(a.opts.Config.Backend.Default)), func(c *core.Chat) {
		c.Interactive = decl.Interactive
		c.Visual = decl.Visual
	})
}

// Process appends userMessage to the agent's chat and runs its step list.
func (a *AgentStep) Process(ctx context.Context, agentID, userMessage string) (*core.Chat, error) {
	return a.engine.Process(ctx, agentID, userMessage)
}

// Restart resets the agent's conversation to its first message.
func (a *AgentStep) Restart(ctx context.Context, agentID string) (*core.Chat, error) {
	return a.engine.Restart(ctx, agentID)
}

// ListModels lists the models available from backend t.
func (a *AgentStep) ListModels(ctx context.Context, t core.BackendType) ([]string, error) {
	b, err := a.backends.Backend(t)
	if err != nil {
		return nil, err
	}
	return b.ListModels(ctx)
}

// Close flushes pending notifications and releases backends and storage.
func (a *AgentStep) Close() error {
	errs := []error{a.notifier.Close(), a.backends.Close()}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
