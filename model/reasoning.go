package model

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkingState is the per-request state of a reasoning classifier. It is
// created fresh for every generation call and threaded through the decode
// loop explicitly.
type ThinkingState struct {
	InThinking bool
	Props      map[string]string
}

// NewThinkingState returns an empty state.
func NewThinkingState() *ThinkingState {
	return &ThinkingState{Props: map[string]string{}}
}

// ReasonFunc classifies one decoded token given the current state.
type ReasonFunc func(text string, state *ThinkingState) Token

// ThinkTags splits <think>...</think> spans into the reasoning channel.
// The delimiters themselves are special tokens.
func ThinkTags(text string, state *ThinkingState) Token {
	switch {
	case strings.Contains(text, thinkOpen):
		state.InThinking = true
		return Token{Type: TokenSpecial, Text: text}
	case strings.Contains(text, thinkClose):
		state.InThinking = false
		return Token{Type: TokenSpecial, Text: text}
	case state.InThinking:
		return Token{Type: TokenReason, Text: text}
	default:
		return Token{Type: TokenMessage, Text: text}
	}
}

// ImplicitThinking handles models whose output starts inside a reasoning
// span without an opening tag and leaves it at </think>.
func ImplicitThinking(text string, state *ThinkingState) Token {
	if state.Props["started"] == "" {
		state.Props["started"] = "true"
		state.InThinking = true
	}
	return ThinkTags(text, state)
}

// Reasoners maps a catalog reasoning name to its classifier.
var Reasoners = map[string]ReasonFunc{
	"think": ThinkTags,
	"qwq":   ImplicitThinking,
}

// Classify applies fn, treating every token as message text when fn is nil.
func Classify(fn ReasonFunc, text string, state *ThinkingState) Token {
	if fn == nil {
		return Token{Type: TokenMessage, Text: text}
	}
	if state.Props == nil {
		state.Props = map[string]string{}
	}
	return fn(text, state)
}
