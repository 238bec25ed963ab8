// Package model defines the uniform generation contract shared by every
// backend family (local in-process decode, remote streaming chat completion)
// together with the helpers backends compose instead of inheriting:
//
//   - Backend: send a chat, ask with external context, list models,
//     invalidate a cached session
//   - Stream / Pipeline: a token channel fanned out to independent consumers
//     (result accumulation, token callback, notification sink)
//   - ReasonFunc / ThinkingState: per-model reasoning token classification
//   - MergeHistory: session history de-duplication for remote backends
//   - MockBackend: a scripted backend for tests and examples
package model
