package core

import "github.com/google/uuid"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Well-known property keys.
const (
	// PropDataFilter carries a filter value between steps (set by ANSWER,
	// MCP or REDIRECT, consumed by BECOME and FETCH_DATA).
	PropDataFilter = "data_filter"
	// PropAgentInternal marks a message produced by the engine rather than
	// the end user.
	PropAgentInternal = "agent_internal"
)

// FilterPlaceholder is substituted with the data filter inside behaviors,
// API requests and SQL queries.
const FilterPlaceholder = "@filter@"

// DefaultBehavior is the behavior name restored by CLEANUP.
const DefaultBehavior = "Default"

// NewID returns a new random identifier.
func NewID() string { return uuid.NewString() }
