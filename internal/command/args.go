package command

import "fmt"

// Arg looks up an argument by position first and then by name.
func (c Command) Arg(pos int, name string) (any, bool) {
	if pos >= 0 && pos < len(c.Args) {
		return c.Args[pos], true
	}
	if c.Kwargs != nil {
		v, ok := c.Kwargs[name]
		return v, ok
	}
	return nil, false
}

// Float returns a required numeric argument.
func (c Command) Float(pos int, name string) (float64, error) {
	v, ok := c.Arg(pos, name)
	if !ok {
		return 0, fmt.Errorf("%s: %w: missing %q", c.Op, ErrBadArgument, name)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: %w: %q must be a number, got %T", c.Op, ErrBadArgument, name, v)
	}
	return f, nil
}

// OptFloat returns a numeric argument or def when it is absent.
func (c Command) OptFloat(pos int, name string, def float64) (float64, error) {
	if _, ok := c.Arg(pos, name); !ok {
		return def, nil
	}
	return c.Float(pos, name)
}

// Int returns a required integral argument.
func (c Command) Int(pos int, name string) (int, error) {
	f, err := c.Float(pos, name)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%s: %w: %q must be an integer, got %v", c.Op, ErrBadArgument, name, f)
	}
	return int(f), nil
}

// OptBool returns a boolean argument or def when it is absent.
func (c Command) OptBool(pos int, name string, def bool) (bool, error) {
	v, ok := c.Arg(pos, name)
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %w: %q must be a bool, got %T", c.Op, ErrBadArgument, name, v)
	}
	return b, nil
}

// NoArgs fails when the command carries any argument.
func (c Command) NoArgs() error {
	if len(c.Args) > 0 || len(c.Kwargs) > 0 {
		return fmt.Errorf("%s: %w: takes no arguments", c.Op, ErrBadArgument)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Unknown returns the error a component reports for an operation it does not
// expose.
func Unknown(component string, c Command) error {
	return fmt.Errorf("%s: %w %q", component, ErrUnknownOperation, c.Op)
}
