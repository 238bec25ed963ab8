// Package engine implements the step dispatcher of agentstep.
//
// An Engine executes an agent's declared step list against the agent's chat.
// Steps run strictly in order; the chat and the agent are persisted after
// every step so partial progress survives a failing step, and progress
// notifications are published as each step starts and as the run ends.
//
// # Step Execution
//
// Each entry of core.Agent.Steps is parsed by the step package into a tagged
// variant before anything runs; an unknown step name fails the whole run
// with a configuration error. A name ending in "*" runs at most once per
// conversation: the chat property keyed by the step name records that it
// ran.
//
// The built-in handlers are:
//
//	START       appends the agent instruction as the system message
//	ANSWER      generates an assistant reply (USE_MEMORY routes through retrieval)
//	BECOME      switches the current behavior and the system message
//	REDIRECT    runs another agent and collects its answer (AS_Output, AS_Filter, REPLACE)
//	FETCH_DATA  reads the agent's data source into the chat (AS_SYSTEM)
//	MCP         answers with tools served by an MCP server
//	CLEANUP     resets behavior, properties, history and the backend session
//
// Handlers receive a StepContext carrying the agent, the chat, the message
// produced by the previous step (the redirect message) and the set of tags
// to scrub. BECOME substitutes the filter into the system message only and
// records the value as a tag; once the run ends every tag is replaced by the
// @filter@ placeholder in the agent's behavior texts so the value does not
// leak into the next run.
//
// # Concurrency
//
// Different conversations are processed in parallel, bounded by
// Config.MaxConcurrentInvocations. Runs against the same chat are
// serialized by a per-chat lock.
//
// # Observability
//
// Every step is logged through the logging package, wrapped in an
// OpenTelemetry span ("engine.step") and reported to the configured
// core.Notifier. A CallbackManager lets callers hook into step boundaries.
package engine
