// Package command defines the command record delivered to a worker and the
// channel that carries it. Shorthand command forms are normalized here, at the
// channel boundary, so components only ever see the canonical three-field
// record.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownOperation is returned by a component when a command names an
	// operation the component does not expose.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrBadArgument is returned when a command's arguments are missing or of
	// the wrong type for the named operation.
	ErrBadArgument = errors.New("bad argument")
	// ErrMalformed is returned by Normalize for values that are not a command.
	ErrMalformed = errors.New("malformed command")
)

// ExitOp is the reserved operation name of the exit sentinel. It is never
// dispatched to a component.
const ExitOp = "EXIT"

// RunOp is the operation every component accepts: one extra work unit,
// performed before the worker's own.
const RunOp = "run"

// Exit is the sentinel that terminates the owning worker.
var Exit = Command{Op: ExitOp}

// Command is the canonical command record: an operation name, ordered
// positional arguments and named arguments.
type Command struct {
	Op     string
	Args   []any
	Kwargs map[string]any
}

// New builds a command with positional arguments.
func New(op string, args ...any) Command {
	return Command{Op: op, Args: args}
}

// Named builds a command with named arguments.
func Named(op string, kwargs map[string]any) Command {
	return Command{Op: op, Kwargs: kwargs}
}

// IsExit reports whether c is the exit sentinel.
func (c Command) IsExit() bool {
	return c.Op == ExitOp
}

// String renders the command as op(arg, ..., key=value) for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+len(c.Kwargs))
	for _, a := range c.Args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	keys := make([]string, 0, len(c.Kwargs))
	for k := range c.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Kwargs[k]))
	}
	return c.Op + "(" + strings.Join(parts, ", ") + ")"
}

// Normalize converts any accepted command form into a Command:
//
//   - a Command (returned as is)
//   - an operation name alone: "stop"
//   - []any{op}
//   - []any{op, positional}  where positional is []any
//   - []any{op, named}       where named is map[string]any
//   - []any{op, positional, named}
func Normalize(raw any) (Command, error) {
	switch v := raw.(type) {
	case Command:
		if v.Op == "" {
			return Command{}, fmt.Errorf("%w: empty operation", ErrMalformed)
		}
		return v, nil
	case string:
		if v == "" {
			return Command{}, fmt.Errorf("%w: empty operation", ErrMalformed)
		}
		return Command{Op: v}, nil
	case []any:
		return normalizeTuple(v)
	default:
		return Command{}, fmt.Errorf("%w: unsupported type %T", ErrMalformed, raw)
	}
}

func normalizeTuple(t []any) (Command, error) {
	if len(t) == 0 || len(t) > 3 {
		return Command{}, fmt.Errorf("%w: expected 1 to 3 elements, got %d", ErrMalformed, len(t))
	}
	op, ok := t[0].(string)
	if !ok || op == "" {
		return Command{}, fmt.Errorf("%w: operation must be a non-empty string, got %T", ErrMalformed, t[0])
	}
	cmd := Command{Op: op}

	switch len(t) {
	case 2:
		switch agg := t[1].(type) {
		case []any:
			cmd.Args = agg
		case map[string]any:
			cmd.Kwargs = agg
		case nil:
		default:
			return Command{}, fmt.Errorf("%w: second element must be a tuple or mapping, got %T", ErrMalformed, t[1])
		}
	case 3:
		args, ok := t[1].([]any)
		if !ok && t[1] != nil {
			return Command{}, fmt.Errorf("%w: positional arguments must be a tuple, got %T", ErrMalformed, t[1])
		}
		kwargs, ok := t[2].(map[string]any)
		if !ok && t[2] != nil {
			return Command{}, fmt.Errorf("%w: named arguments must be a mapping, got %T", ErrMalformed, t[2])
		}
		cmd.Args, cmd.Kwargs = args, kwargs
	}
	return cmd, nil
}
