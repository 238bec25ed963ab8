package step

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentstep/core"
)

const (
	separator  = "+"
	onceSuffix = "*"
)

// Invocation is one parsed entry of an agent's step list.
type Invocation struct {
	// Raw is the step text as written.
	Raw string
	// Name is the step name without the run-once suffix.
	Name string
	// Once limits the step to a single run per conversation. The chat
	// property keyed by SentinelKey records that it ran.
	Once bool
	// Args are the positional arguments following the name.
	Args []string
	Step Step
}

// SentinelKey returns the property key marking a run-once step as done.
func (i Invocation) SentinelKey() string { return i.Name }

// Split breaks a step text into name, run-once flag and arguments
// without interpreting them.
func Split(raw string) (name string, once bool, args []string) {
	parts := strings.Split(strings.TrimSpace(raw), separator)
	name = strings.TrimSpace(parts[0])
	if strings.HasSuffix(name, onceSuffix) {
		once = true
		name = strings.TrimSuffix(name, onceSuffix)
	}
	for _, p := range parts[1:] {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}
	return strings.ToUpper(name), once, args
}

// Parse parses a single step text. Unknown names and malformed
// arguments are configuration errors.
func Parse(raw string) (Invocation, error) {
	name, once, args := Split(raw)
	inv := Invocation{Raw: raw, Name: name, Once: once, Args: args}

	var err error
	switch Kind(name) {
	case KindStart:
		inv.Step = Start{}
	case KindAnswer:
		inv.Step, err = parseAnswer(args)
	case KindBecome:
		inv.Step, err = parseBecome(args)
	case KindRedirect:
		inv.Step, err = parseRedirect(args)
	case KindFetchData:
		inv.Step, err = parseFetchData(args)
	case KindMcp:
		inv.Step = Mcp{}
	case KindCleanup:
		inv.Step = Cleanup{}
	default:
		err = fmt.Errorf("%w: %q", core.ErrUnknownStep, name)
	}
	if err != nil {
		return Invocation{}, core.NewConfigError("step "+raw, err)
	}
	return inv, nil
}

// ParseAll parses a whole step list, failing on the first bad entry.
func ParseAll(specs []string) ([]Invocation, error) {
	out := make([]Invocation, 0, len(specs))
	for _, s := range specs {
		inv, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func parseAnswer(args []string) (Step, error) {
	a := Answer{}
	for _, arg := range args {
		switch strings.ToUpper(arg) {
		case "USE_MEMORY", "MEMORY":
			a.UseMemory = true
		default:
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidArgument, arg)
		}
	}
	return a, nil
}

func parseBecome(args []string) (Step, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: behavior name", core.ErrMissingArgument)
	}
	return Become{Behavior: args[0]}, nil
}

func parseRedirect(args []string) (Step, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: target agent id", core.ErrMissingArgument)
	}
	r := Redirect{AgentID: args[0], Mode: AsOutput}
	for _, arg := range args[1:] {
		switch strings.ToUpper(arg) {
		case "AS_OUTPUT", "AS_MESSAGE":
			r.Mode = AsOutput
		case "AS_FILTER":
			r.Mode = AsFilter
		case "REPLACE":
			r.Replace = true
		default:
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidArgument, arg)
		}
	}
	return r, nil
}

func parseFetchData(args []string) (Step, error) {
	f := FetchData{}
	for _, arg := range args {
		switch strings.ToUpper(arg) {
		case "AS_SYSTEM", "SYSTEM":
			f.AsSystem = true
		case "USER":
			f.AsSystem = false
		default:
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidArgument, arg)
		}
	}
	return f, nil
}
