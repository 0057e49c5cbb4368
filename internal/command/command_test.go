package command

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Command
	}{
		{"name only", "stop", Command{Op: "stop"}},
		{"one element tuple", []any{"stop"}, Command{Op: "stop"}},
		{"positional tuple", []any{"increaseSpeed", []any{0.5, true}}, Command{Op: "increaseSpeed", Args: []any{0.5, true}}},
		{"named mapping", []any{"setAngleRange", map[string]any{"min": -40.0, "max": 40.0}}, Command{Op: "setAngleRange", Kwargs: map[string]any{"min": -40.0, "max": 40.0}}},
		{"full form", []any{"increaseSpeed", []any{0.2}, map[string]any{"block": false}}, Command{Op: "increaseSpeed", Args: []any{0.2}, Kwargs: map[string]any{"block": false}}},
		{"full form with nils", []any{"stop", nil, nil}, Command{Op: "stop"}},
		{"canonical passthrough", New("setStepSize", 0.71), Command{Op: "setStepSize", Args: []any{0.71}}},
		{"exit sentinel", ExitOp, Exit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%v) error: %v", tt.raw, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"empty string", ""},
		{"empty tuple", []any{}},
		{"too long", []any{"a", []any{}, map[string]any{}, 1}},
		{"non string op", []any{42}},
		{"bad aggregate", []any{"stop", 3}},
		{"bad positional in full form", []any{"stop", 1, map[string]any{}}},
		{"bad named in full form", []any{"stop", []any{}, 1}},
		{"unsupported type", 3.14},
		{"empty canonical", Command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Normalize(%v) error = %v, want ErrMalformed", tt.raw, err)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Op: "increaseSpeed", Args: []any{0.5}, Kwargs: map[string]any{"block": true, "a": 1}}
	if got, want := c.String(), "increaseSpeed(0.5, a=1, block=true)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !Exit.IsExit() || New("stop").IsExit() {
		t.Error("IsExit misreports")
	}
}

func TestArgs(t *testing.T) {
	c := Command{Op: "increaseSpeed", Args: []any{2}, Kwargs: map[string]any{"block": false, "repeat": 20}}

	f, err := c.Float(0, "scale")
	if err != nil || f != 2 {
		t.Errorf("Float = %v, %v", f, err)
	}
	b, err := c.OptBool(1, "block", true)
	if err != nil || b {
		t.Errorf("OptBool = %v, %v; want false from kwargs", b, err)
	}
	n, err := c.Int(5, "repeat")
	if err != nil || n != 20 {
		t.Errorf("Int = %v, %v", n, err)
	}
	d, err := c.OptFloat(3, "missing", 7)
	if err != nil || d != 7 {
		t.Errorf("OptFloat default = %v, %v", d, err)
	}

	if _, err := c.Float(4, "nope"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("missing arg error = %v", err)
	}
	bad := New("setStepSize", "fast")
	if _, err := bad.Float(0, "step"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("wrong type error = %v", err)
	}
	frac := New("setRepeat", 2.5)
	if _, err := frac.Int(0, "repeat"); !errors.Is(err, ErrBadArgument) {
		t.Errorf("non integral error = %v", err)
	}
	if err := New("stop", 1).NoArgs(); !errors.Is(err, ErrBadArgument) {
		t.Errorf("NoArgs error = %v", err)
	}
	if err := Unknown("wheel", New("fly")); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("Unknown error = %v", err)
	}
}

func TestChannel(t *testing.T) {
	ch := NewChannel()
	if err := ch.Send([]any{"increaseSpeed", []any{0.1}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(42); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Send(42) error = %v", err)
	}
	ch.Push(Exit)

	if ch.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ch.Len())
	}
	first, _ := ch.TryPop()
	if first.Op != "increaseSpeed" {
		t.Errorf("first = %v", first)
	}
	second, _ := ch.TryPop()
	if !second.IsExit() {
		t.Errorf("second = %v", second)
	}
	if !ch.Empty() {
		t.Error("channel should be empty")
	}
}
