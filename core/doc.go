// Package core provides the foundational domain types and collaborator
// interfaces used by agentstep. It defines:
//
//   - Agents (named, ordered step lists with behaviors and a data source)
//   - Chats (ordered messages, a string property bag and resumable decode state)
//   - Messages and tool calls exchanged with generation backends
//   - Notifications published while steps and generations run
//   - Repositories that persist agents and chats between steps
//
// Implementation concerns (step dispatch, generation backends, persistence)
// live in sibling packages. core only exposes small types and interfaces so
// callers can plug custom backends and stores.
package core
