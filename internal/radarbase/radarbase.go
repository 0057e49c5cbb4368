// Package radarbase implements the component that sweeps the range sensor's
// stepper mount back and forth between two angles.
package radarbase

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// Stepper is the synchronous driver for the mount's stepper motor.
type Stepper interface {
	// Rotate turns the motor by degrees. Clockwise decreases the position.
	Rotate(ctx context.Context, degrees float64, clockwise bool, delay time.Duration) error
	// CurrentPosition returns the mount angle in degrees.
	CurrentPosition() float64
}

// Releaser is implemented by steppers that can de-energise their coils.
type Releaser interface {
	Release() error
}

// Direction is the sweep state.
type Direction int

const (
	// SweepingForward turns anti-clockwise, increasing the position.
	SweepingForward Direction = iota
	// SweepingBackward turns clockwise, decreasing the position.
	SweepingBackward
)

func (d Direction) String() string {
	switch d {
	case SweepingForward:
		return "forward"
	case SweepingBackward:
		return "backward"
	default:
		return "unknown"
	}
}

// Schema is the telemetry layout of the radar base.
var Schema = telemetry.Base("position", "min_degree", "max_degree", "direction")

// Config holds the sweep parameters.
type Config struct {
	Name        string
	MinDegree   float64
	MaxDegree   float64
	StepSize    float64
	Delay       time.Duration
	DwellFactor float64
}

// DefaultConfig mirrors the mount used on the robot: an 80 degree arc centred on
// straight ahead.
func DefaultConfig() Config {
	return Config{
		Name:        "radar_base",
		MinDegree:   -40,
		MaxDegree:   40,
		StepSize:    0.71,
		Delay:       2500 * time.Microsecond,
		DwellFactor: 3,
	}
}

// Validate checks the sweep parameters.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("radar base name is required")
	}
	if c.MinDegree >= c.MaxDegree {
		return fmt.Errorf("min_degree %.2f must be below max_degree %.2f", c.MinDegree, c.MaxDegree)
	}
	if c.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %v", c.StepSize)
	}
	if c.Delay <= 0 {
		return fmt.Errorf("delay must be positive, got %v", c.Delay)
	}
	if c.DwellFactor < 0 {
		return fmt.Errorf("dwell_factor must not be negative, got %v", c.DwellFactor)
	}
	return nil
}

// Component sweeps the mount one step per Run.
type Component struct {
	cfg     Config
	stepper Stepper
	clock   timeutil.Clock
	dir     Direction
	logf    func(string, ...interface{})
}

// New returns a radar base driving stepper. The initial direction is chosen
// from the stepper's current position.
func New(cfg Config, stepper Stepper, clock timeutil.Clock) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	c := &Component{
		cfg:     cfg,
		stepper: stepper,
		clock:   clock,
		logf:    monitoring.Prefixed(cfg.Name),
	}
	c.dir = c.directionFor(stepper.CurrentPosition())
	return c, nil
}

func (c *Component) directionFor(pos float64) Direction {
	if pos >= c.cfg.MaxDegree {
		return SweepingBackward
	}
	return SweepingForward
}

// Name implements component.Component.
func (c *Component) Name() string { return c.cfg.Name }

// Schema implements component.Component.
func (c *Component) Schema() telemetry.Schema { return Schema }

// Direction returns the current sweep state.
func (c *Component) Direction() Direction { return c.dir }

// Config returns the current sweep parameters.
func (c *Component) Config() Config { return c.cfg }

// Initialize moves the mount to the centre of the range when it starts outside
// of it.
func (c *Component) Initialize(ctx context.Context) error {
	pos := c.stepper.CurrentPosition()
	if pos >= c.cfg.MinDegree && pos <= c.cfg.MaxDegree {
		c.dir = c.directionFor(pos)
		return nil
	}
	centre := (c.cfg.MinDegree + c.cfg.MaxDegree) / 2
	c.logf("position %.2f outside [%.2f, %.2f], moving to %.2f", pos, c.cfg.MinDegree, c.cfg.MaxDegree, centre)
	var err error
	if centre > pos {
		err = c.stepper.Rotate(ctx, centre-pos, false, c.cfg.Delay)
	} else {
		err = c.stepper.Rotate(ctx, pos-centre, true, c.cfg.Delay)
	}
	if err != nil {
		return fmt.Errorf("failed to centre radar base: %w", err)
	}
	c.dir = SweepingForward
	return nil
}

// Run moves one step in the current direction, reversing with a dwell when a
// limit is crossed.
func (c *Component) Run(ctx context.Context) error {
	clockwise := c.dir == SweepingBackward
	if err := c.stepper.Rotate(ctx, c.cfg.StepSize, clockwise, c.cfg.Delay); err != nil {
		return fmt.Errorf("rotate %s: %w", c.dir, err)
	}

	pos := c.stepper.CurrentPosition()
	switch {
	case pos > c.cfg.MaxDegree && c.dir == SweepingForward:
		c.dir = SweepingBackward
		return c.dwell(ctx)
	case pos < c.cfg.MinDegree && c.dir == SweepingBackward:
		c.dir = SweepingForward
		return c.dwell(ctx)
	}
	return nil
}

func (c *Component) dwell(ctx context.Context) error {
	if r, ok := c.stepper.(Releaser); ok {
		if err := r.Release(); err != nil {
			c.logf("failed to release coils: %v", err)
		}
	}
	pause := time.Duration(c.cfg.DwellFactor * float64(c.cfg.Delay))
	return c.clock.Sleep(ctx, pause)
}

// Emit implements component.Component.
func (c *Component) Emit(sink telemetry.Sink) {
	sink.Push(telemetry.Record{
		Timestamp: timeutil.Seconds(c.clock.Now()),
		Source:    c.cfg.Name,
		Fields: []any{
			c.stepper.CurrentPosition(),
			c.cfg.MinDegree,
			c.cfg.MaxDegree,
			c.dir.String(),
		},
	})
}

// Apply implements component.Component.
func (c *Component) Apply(ctx context.Context, cmd command.Command) error {
	op, err := ParseOp(cmd)
	if err != nil {
		return err
	}
	switch o := op.(type) {
	case SetAngleRange:
		c.cfg.MinDegree, c.cfg.MaxDegree = o.Min, o.Max
		pos := c.stepper.CurrentPosition()
		if pos > o.Max {
			c.dir = SweepingBackward
		} else if pos < o.Min {
			c.dir = SweepingForward
		}
	case SetStepSize:
		c.cfg.StepSize = o.Step
	case SetDelay:
		c.cfg.Delay = o.Delay
	case SetDwell:
		c.cfg.DwellFactor = o.Factor
	case RunOnce:
		return c.Run(ctx)
	}
	return nil
}

// Cancel returns the mount to zero and releases the coils.
func (c *Component) Cancel(ctx context.Context) error {
	pos := c.stepper.CurrentPosition()
	var err error
	if pos > 0 {
		err = c.stepper.Rotate(ctx, pos, true, c.cfg.Delay)
	} else if pos < 0 {
		err = c.stepper.Rotate(ctx, -pos, false, c.cfg.Delay)
	}
	if err != nil {
		return fmt.Errorf("failed to return radar base to zero: %w", err)
	}
	if r, ok := c.stepper.(Releaser); ok {
		return r.Release()
	}
	return nil
}
