// Package memory contains the retrieval collaborator used by
// model.Backend.AskWithContext and a concrete core.MemoryStore.
//
// The store interface and SearchResult type reside in the core package;
// Service ingests the context inputs (text blobs, files, web pages and
// prior answers) into any core.MemoryStore under the chat's namespace and
// returns the passages most relevant to the question.
//
// Retrieval quality is deliberately simple keyword overlap; swap the store
// for an embedding index without touching callers.
package memory
