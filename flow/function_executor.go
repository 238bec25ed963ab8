package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/tool"
)

// FunctionExecutor runs a batch of tool calls and returns one tool result
// message per call, in call order. Implementations must:
//   - Respect ctx cancellation
//   - Never panic (recover internally and report the panic as a failure)
//   - Turn executor failures into {"error": message} payloads
type FunctionExecutor interface {
	Execute(ctx context.Context, chatID string, calls []core.ToolCall, executors []tool.Executor) []core.Message
}

// FunctionExecutorConfig configures the default executor.
type FunctionExecutorConfig struct {
	// MaxParallel bounds concurrently running calls; values below 2 run
	// calls one after another.
	MaxParallel int
	Logger      logging.Logger
	Notifier    core.Notifier
}

// functionExecutor is the default implementation.
type functionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewSequentialFunctionExecutor runs calls one after another.
func NewSequentialFunctionExecutor(optFns ...func(c *FunctionExecutorConfig)) FunctionExecutor {
	cfg := FunctionExecutorConfig{MaxParallel: 1}
	for _, fn := range optFns {
		fn(&cfg)
	}
	return newFunctionExecutor(cfg)
}

// NewParallelFunctionExecutor runs up to MaxParallel calls at once.
// Results are still returned in call order.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return newFunctionExecutor(cfg)
}

func newFunctionExecutor(cfg FunctionExecutorConfig) *functionExecutor {
	cfg.Logger = logging.OrNoOp(cfg.Logger)
	if cfg.Notifier == nil {
		cfg.Notifier = core.NoOpNotifier{}
	}
	return &functionExecutor{cfg: cfg}
}

func (e *functionExecutor) Execute(ctx context.Context, chatID string, calls []core.ToolCall, executors []tool.Executor) []core.Message {
	n := len(calls)
	results := make([]core.Message, n)
	if n == 0 {
		return results
	}

	maxPar := e.cfg.MaxParallel
	if maxPar <= 1 || n == 1 {
		for i := range calls {
			results[i] = e.executeSingle(ctx, chatID, calls[i], executors[i])
		}
		return results
	}
	if maxPar > n {
		maxPar = n
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxPar)
	batchStart := time.Now()
	for i := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.executeSingle(ctx, chatID, calls[idx], executors[idx])
		}(i)
	}
	wg.Wait()

	e.cfg.Logger.Debug(
		"tool.batch.complete",
		"chat_id", chatID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func (e *functionExecutor) executeSingle(ctx context.Context, chatID string, call core.ToolCall, exec tool.Executor) core.Message {
	e.cfg.Notifier.Publish(core.Notification{Type: core.NotifyTool, ChatID: chatID, Tool: call.Function.Name, Time: time.Now()})

	start := time.Now()
	var (
		out string
		err error
	)
	if err = ctx.Err(); err == nil {
		func() { // panic safety
			defer func() {
				if r := recover(); r != nil {
					err = panicError(r)
					e.cfg.Logger.Error("tool.call.panic", "chat_id", chatID, "tool", call.Function.Name, "recover", r)
				}
			}()
			out, err = exec.Execute(ctx, call.Function.Arguments)
		}()
	}
	dur := time.Since(start)

	if sl, ok := e.cfg.Logger.(*logging.StepLogger); ok {
		sl.LogToolCall(call.Function.Name, dur, err == nil, err)
	} else {
		e.cfg.Logger.Info(
			"tool.call.executed",
			"chat_id", chatID,
			"tool", call.Function.Name,
			"tool_call_id", call.ID,
			"duration_ms", dur.Milliseconds(),
			"error", err != nil,
		)
	}

	if err != nil {
		out = errorPayload(err)
	}
	msg := core.NewMessage(core.RoleTool, out)
	msg.ToolCallID = call.ID
	msg.ToolName = call.Function.Name
	return msg
}

// errorPayload serializes err as {"error": message} for the model to read.
func errorPayload(err error) string {
	b, mErr := json.Marshal(map[string]string{"error": err.Error()})
	if mErr != nil {
		return `{"error":"tool failed"}`
	}
	return string(b)
}

// panicError converts a recovered panic value to an error keeping the stack.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
