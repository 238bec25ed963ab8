package step

// Kind names a step family.
type Kind string

const (
	KindStart     Kind = "START"
	KindAnswer    Kind = "ANSWER"
	KindBecome    Kind = "BECOME"
	KindRedirect  Kind = "REDIRECT"
	KindFetchData Kind = "FETCH_DATA"
	KindMcp       Kind = "MCP"
	KindCleanup   Kind = "CLEANUP"
)

// Kinds lists every known step kind.
var Kinds = []Kind{KindStart, KindAnswer, KindBecome, KindRedirect, KindFetchData, KindMcp, KindCleanup}

// Step is a parsed step. Concrete types implement the unexported isStep
// marker enabling a closed set.
type Step interface {
	Kind() Kind
	isStep()
}

// Start inserts the agent instruction as the chat's system message.
type Start struct{}

// Answer generates an assistant reply.
type Answer struct {
	// UseMemory answers through the retrieval collaborator.
	UseMemory bool
}

// Become switches the agent to a named behavior.
type Become struct {
	Behavior string
}

// OutputMode selects what REDIRECT does with the target agent's answer.
type OutputMode string

const (
	// AsOutput appends the answer to the chat.
	AsOutput OutputMode = "AS_Output"
	// AsFilter stores the answer as the chat's data filter.
	AsFilter OutputMode = "AS_Filter"
)

// Redirect hands the conversation to another agent and collects its answer.
type Redirect struct {
	AgentID string
	Mode    OutputMode
	// Replace swaps the chat's last message for the answer.
	Replace bool
}

// FetchData reads the agent's data source into the chat.
type FetchData struct {
	// AsSystem appends fetched data with the system role instead of user.
	AsSystem bool
}

// Mcp answers using tools exposed by an MCP server.
type Mcp struct{}

// Cleanup resets behaviors, properties and history.
type Cleanup struct{}

func (Start) Kind() Kind     { return KindStart }
func (Answer) Kind() Kind    { return KindAnswer }
func (Become) Kind() Kind    { return KindBecome }
func (Redirect) Kind() Kind  { return KindRedirect }
func (FetchData) Kind() Kind { return KindFetchData }
func (Mcp) Kind() Kind       { return KindMcp }
func (Cleanup) Kind() Kind   { return KindCleanup }

func (Start) isStep()     {}
func (Answer) isStep()    {}
func (Become) isStep()    {}
func (Redirect) isStep()  {}
func (FetchData) isStep() {}
func (Mcp) isStep()       {}
func (Cleanup) isStep()   {}
