// Package session houses the in-memory implementations of the core agent
// and chat repositories. The interfaces live in the core package so the
// engine never depends on concrete storage; durable backends live in
// sub-packages of store.
//
// Only the wiring layer decides which implementation to instantiate.
package session
