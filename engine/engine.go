package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/datasource"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/mcp"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/model/registry"
	"github.com/hupe1980/agentstep/session"
	"github.com/hupe1980/agentstep/step"
	"github.com/hupe1980/agentstep/tool"
)

const tracerName = "github.com/hupe1980/agentstep/engine"

// Config defines tuning parameters of an Engine.
type Config struct {
	// MaxConcurrentInvocations limits the number of conversations processed
	// at the same time. Zero means unlimited.
	MaxConcurrentInvocations int

	// MaxToolIterations lowers the generation ceiling of tool-calling
	// steps. Zero or values above flow.DefaultMaxIterations select the
	// default.
	MaxToolIterations int

	// ParallelToolCalls bounds how many tool calls of one generation run at
	// once. Values below 2 run them one after another.
	ParallelToolCalls int
}

// DefaultConfig holds the defaults used by New.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
}

// BackendResolver selects the generation backend of a chat.
// *registry.Registry satisfies it.
type BackendResolver interface {
	Backend(t core.BackendType) (model.Backend, error)
}

// MCPSession is a connected MCP server whose tools can be registered for
// one generation.
type MCPSession interface {
	Register(ctx context.Context, reg *tool.Registry) ([]core.ToolDefinition, error)
	Close() error
}

// MCPConnector launches or connects to the server described by cfg.
type MCPConnector func(ctx context.Context, cfg *core.McpConfig) (MCPSession, error)

// Options configure an Engine.
type Options struct {
	Config Config

	Agents core.AgentRepository
	Chats  core.ChatRepository

	// Backends resolves chat backends. Required for any generating step.
	Backends BackendResolver
	// Tools holds the executors of tools declared by chats.
	Tools *tool.Registry
	// DataSources reads FETCH_DATA sources.
	DataSources *datasource.Fetcher
	// ConnectMCP defaults to launching the server over stdio.
	ConnectMCP MCPConnector

	Callbacks *CallbackManager
	Notifier  core.Notifier
	Logger    logging.Logger
	Tracer    trace.Tracer
}

// Engine executes agents' step lists against their chats.
type Engine struct {
	agents     core.AgentRepository
	chats      core.ChatRepository
	backends   BackendResolver
	tools      *tool.Registry
	sources    *datasource.Fetcher
	connectMCP MCPConnector
	callbacks  *CallbackManager
	notifier   core.Notifier
	logger     logging.Logger
	tracer     trace.Tracer
	config     Config

	handlers map[step.Kind]Handler
	locks    *keyedMutex
	sem      *semaphore.Weighted

	// Cancellation of running invocations by chat id.
	activeInvocations map[string]context.CancelFunc
	invocationsMu     sync.Mutex
}

// New creates an Engine. Agents and chats default to a shared in-memory
// store; backends default to an empty registry, so generating steps fail
// until one is provided.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Config: DefaultConfig}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Agents == nil || opts.Chats == nil {
		store := session.NewInMemoryStore()
		if opts.Agents == nil {
			opts.Agents = store
		}
		if opts.Chats == nil {
			opts.Chats = store
		}
	}
	if opts.Backends == nil {
		opts.Backends = registry.New()
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	if opts.DataSources == nil {
		opts.DataSources = datasource.New(func(o *datasource.Options) { o.Logger = opts.Logger })
	}
	if opts.ConnectMCP == nil {
		logger := opts.Logger
		opts.ConnectMCP = func(ctx context.Context, cfg *core.McpConfig) (MCPSession, error) {
			c, err := mcp.Start(ctx, cfg, func(o *mcp.Options) { o.Logger = logger })
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	e := &Engine{
		agents:            opts.Agents,
		chats:             opts.Chats,
		backends:          opts.Backends,
		tools:             opts.Tools,
		sources:           opts.DataSources,
		connectMCP:        opts.ConnectMCP,
		callbacks:         opts.Callbacks,
		notifier:          opts.Notifier,
		logger:            opts.Logger,
		tracer:            opts.Tracer,
		config:            opts.Config,
		locks:             newKeyedMutex(),
		activeInvocations: make(map[string]context.CancelFunc),
	}
	if n := opts.Config.MaxConcurrentInvocations; n > 0 {
		e.sem = semaphore.NewWeighted(int64(n))
	}
	e.handlers = map[step.Kind]Handler{
		step.KindStart:     HandlerFunc(e.handleStart),
		step.KindAnswer:    HandlerFunc(e.handleAnswer),
		step.KindBecome:    HandlerFunc(e.handleBecome),
		step.KindRedirect:  HandlerFunc(e.handleRedirect),
		step.KindFetchData: HandlerFunc(e.handleFetchData),
		step.KindMcp:       HandlerFunc(e.handleMcp),
		step.KindCleanup:   HandlerFunc(e.handleCleanup),
	}
	return e
}

// CreateAgent stores agent together with a new chat and runs the START
// step on it. Missing ids are generated. chatFns may set chat flags such
// as Interactive or Visual before START runs.
func (e *Engine) CreateAgent(ctx context.Context, agent *core.Agent, chatFns ...func(c *core.Chat)) (*core.Agent, error) {
	agent = agent.Clone()
	if agent.ID == "" {
		agent.ID = core.NewID()
	}
	if agent.ChatID == "" {
		agent.ChatID = core.NewID()
	}
	if agent.Behaviors == nil {
		agent.Behaviors = map[string]string{}
	}
	if agent.CurrentBehavior == "" {
		agent.CurrentBehavior = core.DefaultBehavior
	}
	if _, err := step.ParseAll(agent.Steps); err != nil {
		return nil, err
	}

	chat := core.NewChat(agent.ChatID, agent.Model)
	chat.Name = agent.Name
	chat.Backend = agent.Backend
	for _, fn := range chatFns {
		fn(chat)
	}

	sc := &StepContext{Agent: agent, Chat: chat, Invocation: step.Invocation{Raw: string(step.KindStart), Name: string(step.KindStart), Step: step.Start{}}}
	if _, err := e.handleStart(ctx, sc); err != nil {
		return nil, err
	}
	if err := e.persist(ctx, agent, chat); err != nil {
		return nil, err
	}
	e.logger.Info("engine.agent_created", "agent_id", agent.ID, "chat_id", chat.ID, "steps", len(agent.Steps))
	return agent, nil
}

// Process appends a user message to the agent's chat and runs the agent's
// step list. An empty message runs the steps without appending.
func (e *Engine) Process(ctx context.Context, agentID, userMessage string) (*core.Chat, error) {
	var msg *core.Message
	if userMessage != "" {
		m := core.NewMessage(core.RoleUser, userMessage)
		msg = &m
	}
	return e.ProcessMessage(ctx, agentID, msg)
}

// ProcessMessage is Process for a prepared message, e.g. one carrying file
// references. A nil message runs the steps without appending.
func (e *Engine) ProcessMessage(ctx context.Context, agentID string, msg *core.Message) (*core.Chat, error) {
	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer e.sem.Release(1)
	}

	agent, err := e.agents.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.ChatID == "" {
		return nil, fmt.Errorf("agent %s: %w", agentID, core.ErrChatNotFound)
	}

	ctx, unlock, err := e.lockChat(ctx, agent.ChatID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.invocationsMu.Lock()
	e.activeInvocations[agent.ChatID] = cancel
	e.invocationsMu.Unlock()
	defer func() {
		e.invocationsMu.Lock()
		delete(e.activeInvocations, agent.ChatID)
		e.invocationsMu.Unlock()
	}()

	chat, err := e.chats.LoadChat(ctx, agent.ChatID)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		chat.Append(*msg)
	}
	return e.Run(ctx, agent, chat)
}

// Restart truncates the agent's chat to its first message and drops any
// generation session held for it.
func (e *Engine) Restart(ctx context.Context, agentID string) (*core.Chat, error) {
	agent, err := e.agents.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	ctx, unlock, err := e.lockChat(ctx, agent.ChatID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	chat, err := e.chats.LoadChat(ctx, agent.ChatID)
	if err != nil {
		return nil, err
	}
	if len(chat.Messages) > 1 {
		chat.Messages = chat.Messages[:1]
	}
	chat.ResumableState = nil
	e.invalidate(chat)
	if err := e.chats.SaveChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// Chat returns the chat owned by agentID.
func (e *Engine) Chat(ctx context.Context, agentID string) (*core.Chat, error) {
	agent, err := e.agents.LoadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return e.chats.LoadChat(ctx, agent.ChatID)
}

// Stop cancels the invocation currently running against chatID.
func (e *Engine) Stop(chatID string) error {
	e.invocationsMu.Lock()
	cancel, exists := e.activeInvocations[chatID]
	e.invocationsMu.Unlock()

	if !exists {
		return fmt.Errorf("no invocation running for chat %s", chatID)
	}
	cancel()
	return nil
}

// Run executes agent's step list against chat without taking the per-chat
// lock; callers serialize runs of one chat themselves. The chat and agent
// are persisted after every step. The returned chat is chat itself.
func (e *Engine) Run(ctx context.Context, agent *core.Agent, chat *core.Chat) (*core.Chat, error) {
	invocations, err := step.ParseAll(agent.Steps)
	if err != nil {
		return chat, err
	}

	sc := &StepContext{
		Agent:  agent,
		Chat:   chat,
		Notify: e.notifier.Publish,
		Persist: func(ctx context.Context) error {
			return e.persist(ctx, agent, chat)
		},
	}
	if last := chat.LastMessage(); last != nil {
		m := last.Clone()
		sc.RedirectMessage = &m
	}

	agent.IsProcessing = true
	runErr := e.runSteps(ctx, sc, invocations)
	agent.IsProcessing = false

	e.scrub(agent, sc.tags)
	if err := e.agents.SaveAgent(ctx, agent); err != nil && runErr == nil {
		runErr = fmt.Errorf("save agent: %w", err)
	}
	e.notifier.Publish(core.Notification{
		Type:     core.NotifyProgress,
		ChatID:   chat.ID,
		AgentID:  agent.ID,
		Behavior: agent.CurrentBehavior,
		Time:     time.Now(),
	})
	return chat, runErr
}

func (e *Engine) runSteps(ctx context.Context, sc *StepContext, invocations []step.Invocation) error {
	for i, inv := range invocations {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inv.Once {
			if _, done := sc.Chat.Property(inv.SentinelKey()); done {
				e.logger.Debug("step.skipped", "step", inv.Raw, "chat_id", sc.Chat.ID, "reason", "once")
				continue
			}
		}

		sc.Invocation = inv
		if err := e.runStep(ctx, sc, i); err != nil {
			return fmt.Errorf("step %d %s: %w", i, inv.Raw, err)
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, sc *StepContext, index int) (err error) {
	inv := sc.Invocation
	cc := &CallbackContext{Agent: sc.Agent, Chat: sc.Chat, Invocation: inv, Index: index}

	ctx, span := e.tracer.Start(ctx, "engine.step", trace.WithAttributes(
		attribute.String("step.name", inv.Name),
		attribute.String("step.raw", inv.Raw),
		attribute.Int("step.index", index),
		attribute.String("agent.id", sc.Agent.ID),
		attribute.String("chat.id", sc.Chat.ID),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			cc.Err = err
			_ = e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cc)
		}
		span.End()
		e.logStep(sc, index, time.Since(start), err)
	}()

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeStep, cc); err != nil {
		return err
	}

	sc.notifyProgress(true)

	h, ok := e.handlers[inv.Step.Kind()]
	if !ok {
		return core.NewConfigError("dispatch "+inv.Raw, fmt.Errorf("%w: %q", core.ErrUnknownStep, inv.Name))
	}
	res, err := h.Handle(ctx, sc)
	if err != nil {
		if errors.Is(err, model.ErrNoDecodeSlot) || IsCanceled(err) {
			e.saveDiscarded(ctx, sc)
		}
		return err
	}

	if inv.Once {
		sc.Chat.SetProperty(inv.SentinelKey(), "true")
	}
	if err := sc.Persist(ctx); err != nil {
		return err
	}

	// REDIRECT does not move the chain forward.
	if inv.Step.Kind() != step.KindRedirect {
		switch {
		case res != nil && res.RedirectMessage != nil:
			sc.RedirectMessage = res.RedirectMessage
		case sc.Chat.LastMessage() != nil:
			m := sc.Chat.LastMessage().Clone()
			sc.RedirectMessage = &m
		}
	}

	return e.callbacks.ExecuteCallbacks(ctx, CallbackAfterStep, cc)
}

// persist saves the chat, then the agent.
func (e *Engine) persist(ctx context.Context, agent *core.Agent, chat *core.Chat) error {
	if err := e.chats.SaveChat(ctx, chat); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}
	if err := e.agents.SaveAgent(ctx, agent); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// saveDiscarded persists a chat whose generation state was dropped by a
// failed call, so the next run starts from a fresh context instead of the
// stale blob still in the repository.
func (e *Engine) saveDiscarded(ctx context.Context, sc *StepContext) {
	if sc.Chat.ResumableState != nil {
		return
	}
	if err := e.chats.SaveChat(context.WithoutCancel(ctx), sc.Chat); err != nil {
		e.logger.Warn("engine.save_discarded_failed", "chat_id", sc.Chat.ID, "error", err)
	}
}

// scrub restores the filter placeholder in every behavior for each tag
// substituted during the run.
func (e *Engine) scrub(agent *core.Agent, tags []string) {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		for name, text := range agent.Behaviors {
			agent.Behaviors[name] = strings.ReplaceAll(text, tag, core.FilterPlaceholder)
		}
	}
}

func (e *Engine) logStep(sc *StepContext, index int, dur time.Duration, err error) {
	if sl, ok := e.logger.(*logging.StepLogger); ok {
		sl.WithChat(sc.Chat.ID, sc.Agent.ID).LogStep(sc.Invocation.Name, index, dur, err == nil, err)
		return
	}
	if err != nil {
		e.logger.Error("step.failed", "step", sc.Invocation.Name, "step_index", index, "chat_id", sc.Chat.ID, "agent_id", sc.Agent.ID, "duration", dur, "error", err)
		return
	}
	e.logger.Info("step.complete", "step", sc.Invocation.Name, "step_index", index, "chat_id", sc.Chat.ID, "agent_id", sc.Agent.ID, "duration", dur)
}

type heldChatsKey struct{}

// lockChat takes the per-chat lock unless the calling run already holds
// it, which happens when a REDIRECT chain returns to an agent whose chat is
// being processed.
func (e *Engine) lockChat(ctx context.Context, chatID string) (context.Context, func(), error) {
	held, _ := ctx.Value(heldChatsKey{}).(map[string]struct{})
	if _, ok := held[chatID]; ok {
		return ctx, func() {}, nil
	}
	if err := e.locks.Lock(ctx, chatID); err != nil {
		return ctx, nil, err
	}
	next := make(map[string]struct{}, len(held)+1)
	for id := range held {
		next[id] = struct{}{}
	}
	next[chatID] = struct{}{}
	return context.WithValue(ctx, heldChatsKey{}, next), func() { e.locks.Unlock(chatID) }, nil
}

// keyedMutex is a set of mutexes created on demand per key and removed once
// no caller holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires key, giving up when ctx is done.
func (k *keyedMutex) Lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, l)
		return ctx.Err()
	}
}

// Unlock releases key.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-l.ch
	k.release(key, l)
}

func (k *keyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// IsCanceled reports whether err stems from a stopped or expired run.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
