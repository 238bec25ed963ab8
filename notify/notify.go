// Package notify provides core.Notifier sinks: a non-blocking asynchronous
// wrapper, a logging sink, fan-out and a WebSocket hub.
//
// Every sink honors the core.Notifier contract that Publish never blocks
// generation. Slow consumers lose events instead of stalling producers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
)

// AsyncOptions configure an Async notifier.
type AsyncOptions struct {
	// BufferSize is the number of queued events before new ones are dropped.
	BufferSize int
	Logger     logging.Logger
}

// Async delivers notifications to a downstream notifier on a background
// goroutine. When the buffer is full the event is dropped and counted.
type Async struct {
	next    core.Notifier
	queue   chan core.Notification
	dropped atomic.Int64
	logger  logging.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewAsync starts an asynchronous wrapper around next.
func NewAsync(next core.Notifier, optFns ...func(o *AsyncOptions)) *Async {
	opts := AsyncOptions{BufferSize: 256}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}
	a := &Async{
		next:   next,
		queue:  make(chan core.Notification, opts.BufferSize),
		logger: logging.OrNoOp(opts.Logger),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish implements core.Notifier.
func (a *Async) Publish(n core.Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- n:
	default:
		if a.dropped.Add(1)%100 == 1 {
			a.logger.Warn("notify.dropped", "type", n.Type, "chat_id", n.ChatID, "dropped_total", a.dropped.Load())
		}
	}
}

// Dropped returns the number of events lost to a full buffer.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits until queued ones are delivered.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		a.deliver(n)
	}
}

func (a *Async) deliver(n core.Notification) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("notify.panic", "type", n.Type, "panic", r)
		}
	}()
	a.next.Publish(n)
}

// Log writes every notification to a logger. Tokens are logged at debug
// level, everything else at info.
type Log struct {
	logger logging.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger logging.Logger) *Log {
	return &Log{logger: logging.OrNoOp(logger)}
}

// Publish implements core.Notifier.
func (l *Log) Publish(n core.Notification) {
	switch n.Type {
	case core.NotifyToken:
		l.logger.Debug("notify.token", "chat_id", n.ChatID, "token_type", n.TokenType, "done", n.Done)
	case core.NotifyProgress:
		l.logger.Info("notify.progress", "agent_id", n.AgentID, "is_processing", n.IsProcessing, "behavior", n.Behavior, "step", n.Step)
	case core.NotifyTool:
		l.logger.Info("notify.tool", "agent_id", n.AgentID, "chat_id", n.ChatID, "tool", n.Tool)
	default:
		l.logger.Info("notify.notice", "chat_id", n.ChatID, "text", n.Text)
	}
}

// Multi fans a notification out to several notifiers in order.
type Multi []core.Notifier

// Publish implements core.Notifier.
func (m Multi) Publish(n core.Notification) {
	for _, next := range m {
		if next != nil {
			next.Publish(n)
		}
	}
}

var (
	_ core.Notifier = (*Async)(nil)
	_ core.Notifier = (*Log)(nil)
	_ core.Notifier = Multi(nil)
)
