// Package wheel implements the component holding the drive signal of one
// continuous-rotation servo wheel.
//
// The servo is driven by pulse width: the reference pulse holds it still and
// a pulse of reference ± max deviation spins it at full speed. A mirrored
// wheel is mounted the other way round, so the same forward motion needs the
// opposite deviation.
package wheel

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// SignalGenerator is the synchronous pulse driver for one servo pin.
type SignalGenerator interface {
	// EmitSignal outputs repeat pulses of width pulse, each followed by idle.
	EmitSignal(ctx context.Context, repeat int, pulse, idle time.Duration) error
}

// Schema is the telemetry layout of a wheel.
var Schema = telemetry.Base("pulse", "reference_pulse", "max_deviation", "mirror")

// Config holds the servo calibration. Pulse widths are in seconds.
type Config struct {
	Name           string
	Mirror         bool
	ReferencePulse float64
	MaxDeviation   float64
	IdleWidth      float64
	Repeat         int
}

// DefaultConfig returns the calibration of the robot's servos.
func DefaultConfig(name string, mirror bool) Config {
	return Config{
		Name:           name,
		Mirror:         mirror,
		ReferencePulse: 0.0014454,
		MaxDeviation:   0.00025,
		IdleWidth:      0.020,
		Repeat:         20,
	}
}

// Validate checks the calibration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("wheel name is required")
	}
	if c.ReferencePulse <= 0 {
		return fmt.Errorf("%s: reference_pulse must be positive, got %v", c.Name, c.ReferencePulse)
	}
	if c.MaxDeviation <= 0 || c.MaxDeviation > c.ReferencePulse {
		return fmt.Errorf("%s: max_deviation must be in (0, reference_pulse], got %v", c.Name, c.MaxDeviation)
	}
	if c.IdleWidth < 0 {
		return fmt.Errorf("%s: idle_width must not be negative, got %v", c.Name, c.IdleWidth)
	}
	if c.Repeat <= 0 {
		return fmt.Errorf("%s: repeat must be positive, got %d", c.Name, c.Repeat)
	}
	return nil
}

// Component holds and emits one wheel's drive signal.
type Component struct {
	cfg   Config
	gen   SignalGenerator
	clock timeutil.Clock
	pulse float64
}

// New returns a stopped wheel.
func New(cfg Config, gen SignalGenerator, clock timeutil.Clock) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Component{cfg: cfg, gen: gen, clock: clock, pulse: cfg.ReferencePulse}, nil
}

// Name implements component.Component.
func (c *Component) Name() string { return c.cfg.Name }

// Schema implements component.Component.
func (c *Component) Schema() telemetry.Schema { return Schema }

// Pulse returns the current drive signal.
func (c *Component) Pulse() float64 { return c.pulse }

// Repeat returns how many pulses each Run emits.
func (c *Component) Repeat() int { return c.cfg.Repeat }

func (c *Component) bounds() (lo, hi float64) {
	return c.cfg.ReferencePulse - c.cfg.MaxDeviation, c.cfg.ReferencePulse + c.cfg.MaxDeviation
}

func (c *Component) clamp(p float64) float64 {
	lo, hi := c.bounds()
	return min(max(p, lo), hi)
}

// IncreaseSpeed shifts the signal by scale * max deviation, negated for a
// mirrored wheel. With block set the signal stops at the reference pulse
// rather than reversing direction.
func (c *Component) IncreaseSpeed(scale float64, block bool) {
	inc := scale * c.cfg.MaxDeviation
	if c.cfg.Mirror {
		inc = -inc
	}
	ref := c.cfg.ReferencePulse
	next := c.pulse + inc
	if block {
		if c.pulse > ref && next < ref || c.pulse < ref && next > ref {
			next = ref
		}
	}
	c.pulse = c.clamp(next)
}

// Stop resets the signal to the reference pulse.
func (c *Component) Stop() {
	c.pulse = c.cfg.ReferencePulse
}

// Run emits the current signal Repeat times.
func (c *Component) Run(ctx context.Context) error {
	return c.gen.EmitSignal(ctx, c.cfg.Repeat, timeutil.Duration(c.pulse), timeutil.Duration(c.cfg.IdleWidth))
}

// Emit implements component.Component.
func (c *Component) Emit(sink telemetry.Sink) {
	sink.Push(telemetry.Record{
		Timestamp: timeutil.Seconds(c.clock.Now()),
		Source:    c.cfg.Name,
		Fields:    []any{c.pulse, c.cfg.ReferencePulse, c.cfg.MaxDeviation, c.cfg.Mirror},
	})
}

// Apply implements component.Component.
func (c *Component) Apply(ctx context.Context, cmd command.Command) error {
	op, err := ParseOp(cmd)
	if err != nil {
		return err
	}
	switch o := op.(type) {
	case IncreaseSpeed:
		c.IncreaseSpeed(o.Scale, o.Block)
	case Stop:
		c.Stop()
	case SetPulse:
		c.pulse = c.clamp(o.Pulse)
	case SetRepeat:
		c.cfg.Repeat = o.N
	case RunOnce:
		return c.Run(ctx)
	}
	return nil
}

// Cancel parks the wheel at the reference pulse and emits one last burst so
// the servo actually stops before the worker exits.
func (c *Component) Cancel(ctx context.Context) error {
	c.Stop()
	return c.Run(ctx)
}
