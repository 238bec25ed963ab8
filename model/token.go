package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/tool"
)

// TokenType is the channel a generated token belongs to.
type TokenType int

const (
	// TokenFullAnswer marks the final, complete answer of a call.
	TokenFullAnswer TokenType = iota
	// TokenMessage is visible answer text.
	TokenMessage
	// TokenReason is reasoning text kept out of the answer.
	TokenReason
	// TokenSpecial is a control token such as a thinking delimiter.
	TokenSpecial
	// TokenToolCall carries streamed tool call fragments.
	TokenToolCall
)

func (t TokenType) String() string {
	switch t {
	case TokenFullAnswer:
		return "full_answer"
	case TokenMessage:
		return "message"
	case TokenReason:
		return "reason"
	case TokenSpecial:
		return "special"
	case TokenToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

// Token is one unit produced by a generation loop.
type Token struct {
	Type      TokenType
	Text      string
	ToolCalls []core.ToolCallDelta
}

// Stream fans tokens out to independent consumers. Each consumer reads its
// own buffered channel in its own goroutine, so a slow consumer never
// delays the others beyond its buffer. Every consumer sees tokens in
// production order.
type Stream struct {
	sinks []chan Token
	wg    sync.WaitGroup
	once  sync.Once
}

// NewStream starts one goroutine per consumer.
func NewStream(buffer int, consumers ...func(Token)) *Stream {
	s := &Stream{sinks: make([]chan Token, 0, len(consumers))}
	for _, c := range consumers {
		ch := make(chan Token, buffer)
		s.sinks = append(s.sinks, ch)
		s.wg.Add(1)
		go func(consume func(Token)) {
			defer s.wg.Done()
			for tok := range ch {
				consume(tok)
			}
		}(c)
	}
	return s
}

// Emit pushes tok to every consumer. It returns ctx.Err() if the context
// ends while a consumer buffer is full.
func (s *Stream) Emit(ctx context.Context, tok Token) error {
	for _, ch := range s.sinks {
		select {
		case ch <- tok:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close ends the stream and waits until every consumer drained its buffer.
func (s *Stream) Close() {
	s.once.Do(func() {
		for _, ch := range s.sinks {
			close(ch)
		}
		s.wg.Wait()
	})
}

// Accumulator builds the result of a call from its token stream.
type Accumulator struct {
	text   strings.Builder
	reason strings.Builder
	calls  *tool.CallBuilder
	count  int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: tool.NewCallBuilder()}
}

// Add consumes one token.
func (a *Accumulator) Add(tok Token) {
	a.count++
	switch tok.Type {
	case TokenMessage:
		a.text.WriteString(tok.Text)
	case TokenReason:
		a.reason.WriteString(tok.Text)
	case TokenToolCall:
		for _, d := range tok.ToolCalls {
			a.calls.Add(d)
		}
	}
}

// Text returns the accumulated message-channel text.
func (a *Accumulator) Text() string { return a.text.String() }

// Reasoning returns the accumulated reasoning-channel text.
func (a *Accumulator) Reasoning() string { return a.reason.String() }

// ToolCalls returns the finalized streamed tool calls.
func (a *Accumulator) ToolCalls() []core.ToolCall { return a.calls.Build() }

// Count returns the number of tokens consumed.
func (a *Accumulator) Count() int { return a.count }

// Pipeline wires the consumers of one generation call: the accumulator, the
// caller's token callback and, for interactive chats, the notifier.
type Pipeline struct {
	stream      *Stream
	acc         *Accumulator
	notifier    core.Notifier
	chatID      string
	interactive bool
}

// NewPipeline builds the consumers for chatID according to opts.
func NewPipeline(chatID string, opts SendOptions, notifier core.Notifier) *Pipeline {
	p := &Pipeline{acc: NewAccumulator(), notifier: notifier, chatID: chatID}
	consumers := []func(Token){p.acc.Add}
	if opts.OnToken != nil {
		consumers = append(consumers, opts.OnToken)
	}
	if opts.Interactive && notifier != nil {
		p.interactive = true
		consumers = append(consumers, func(tok Token) {
			if tok.Type == TokenToolCall {
				return
			}
			notifier.Publish(core.Notification{
				Type:      core.NotifyToken,
				ChatID:    chatID,
				Text:      tok.Text,
				TokenType: tok.Type.String(),
				Time:      time.Now(),
			})
		})
	}
	p.stream = NewStream(64, consumers...)
	return p
}

// Emit forwards tok to every consumer.
func (p *Pipeline) Emit(ctx context.Context, tok Token) error {
	return p.stream.Emit(ctx, tok)
}

// Finish closes the stream and, for interactive chats, publishes the full
// answer as the last notification of the call.
func (p *Pipeline) Finish() *Accumulator {
	p.stream.Close()
	if p.interactive {
		p.notifier.Publish(core.Notification{
			Type:      core.NotifyToken,
			ChatID:    p.chatID,
			Text:      p.acc.Text(),
			TokenType: TokenFullAnswer.String(),
			Done:      true,
			Time:      time.Now(),
		})
	}
	return p.acc
}

// Abort closes the stream without publishing a final answer.
func (p *Pipeline) Abort() {
	p.stream.Close()
}
