// Package component defines the capability set shared by every unit of work a
// worker can drive: perform one work unit, emit one telemetry record and apply
// a command.
package component

import (
	"context"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/telemetry"
)

// Component is a stateful unit of work. A component is owned by exactly one
// worker, so implementations need no internal locking.
type Component interface {
	// Name is the immutable source name stamped on every telemetry record.
	Name() string

	// Schema describes the tuple layout of the records Emit produces.
	Schema() telemetry.Schema

	// Run advances the component by one work unit. It may block for a
	// bounded, component-specific duration and must return early when ctx is
	// cancelled. Hardware faults are reported through telemetry status, not
	// through the returned error.
	Run(ctx context.Context) error

	// Emit pushes exactly one record describing the work just done.
	Emit(sink telemetry.Sink)

	// Apply decodes cmd into one of the component's operations and executes
	// it. An operation the component does not expose fails with
	// command.ErrUnknownOperation and leaves state unchanged. command.RunOp
	// performs one work unit and blocks like Run.
	Apply(ctx context.Context, cmd command.Command) error
}

// Canceler is implemented by components that must restore hardware to a safe
// state before their worker exits, e.g. returning a stepper to zero.
type Canceler interface {
	Cancel(ctx context.Context) error
}

// Initializer is implemented by components that need a one-off setup step
// before their first Run.
type Initializer interface {
	Initialize(ctx context.Context) error
}
