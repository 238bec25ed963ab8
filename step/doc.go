// Package step parses agent step specifications.
//
// A step text follows the grammar NAME[+ARG]*. NAME may end in '*',
// meaning the step runs at most once per conversation. Arguments are
// positional and interpreted per step kind:
//
//	START
//	ANSWER[+USE_MEMORY]
//	BECOME+<behavior>
//	REDIRECT+<agentId>[+AS_Output|AS_Filter][+REPLACE]
//	FETCH_DATA[+AS_SYSTEM]
//	MCP
//	CLEANUP
//
// Parse returns a closed tagged variant (Step) so dispatch never switches
// on raw strings.
package step
