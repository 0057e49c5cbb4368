// Package drive coordinates the two wheel workers of the differential drive.
//
// The coordinator never touches a wheel component directly. It sends
// commands on each wheel's command channel and learns the wheels' current
// drive signal from their telemetry.
package drive

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/wheel"
)

// ErrNoWheelState is returned by Straight before both wheels have reported.
var ErrNoWheelState = errors.New("drive: wheel state not yet known")

// Direction is a turn direction.
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
)

// ParseDirection accepts "left" or "right".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Left, Right:
		return d, nil
	default:
		return "", fmt.Errorf("%w: direction must be left or right, got %q", command.ErrBadArgument, s)
	}
}

// profile is a pair of per-wheel speed fractions.
type profile struct{ left, right float64 }

// Turn profiles: soft is used at weight 0, sharp at weight 1.
var turnProfiles = map[Direction]struct{ soft, sharp profile }{
	Left:  {soft: profile{0, 0.1}, sharp: profile{-1, 1}},
	Right: {soft: profile{0.1, 0}, sharp: profile{1, -1}},
}

// CommandSink accepts commands for one wheel worker.
type CommandSink interface {
	Push(cmd command.Command)
}

// WheelLink connects the coordinator to one wheel worker.
type WheelLink struct {
	Commands  CommandSink
	Telemetry *telemetry.Channel
}

// WheelState is what the latest wheel telemetry says about a wheel.
type WheelState struct {
	Timestamp    float64
	Pulse        float64
	Reference    float64
	MaxDeviation float64
	Mirror       bool
}

// Speed returns the wheel's forward speed as a fraction of full speed in
// [-1, 1], accounting for mirrored mounting.
func (s WheelState) Speed() float64 {
	if s.MaxDeviation == 0 {
		return 0
	}
	f := (s.Pulse - s.Reference) / s.MaxDeviation
	if s.Mirror {
		f = -f
	}
	return f
}

func stateFromRecord(r telemetry.Record) (WheelState, bool) {
	var s WheelState
	var ok bool
	s.Timestamp = r.Timestamp
	if s.Pulse, ok = wheel.Schema.Float(r, "pulse"); !ok {
		return s, false
	}
	if s.Reference, ok = wheel.Schema.Float(r, "reference_pulse"); !ok {
		return s, false
	}
	if s.MaxDeviation, ok = wheel.Schema.Float(r, "max_deviation"); !ok {
		return s, false
	}
	v, _ := wheel.Schema.Value(r, "mirror")
	s.Mirror, _ = v.(bool)
	return s, true
}

type side struct {
	name  string
	link  WheelLink
	buf   *telemetry.Buffer
	state WheelState
	known bool
}

// refresh drains pending wheel telemetry and keeps the newest state.
func (s *side) refresh() {
	if s.link.Telemetry == nil {
		return
	}
	if telemetry.Drain(s.link.Telemetry, s.buf) == 0 {
		return
	}
	if r, ok := s.buf.Latest(); ok {
		if st, ok := stateFromRecord(r); ok {
			s.state, s.known = st, true
		}
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRand sets the source used to pick the dispatch order.
func WithRand(r *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = r }
}

// WithHistory sets how many telemetry records are kept per wheel.
func WithHistory(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.history = n
		}
	}
}

// Coordinator issues symmetric and asymmetric speed commands to the left
// and right wheel workers. It is safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	left    *side
	right   *side
	rng     *rand.Rand
	history int
	logf    func(format string, v ...interface{})
}

// New returns a coordinator for the two wheels.
func New(left, right WheelLink, opts ...Option) *Coordinator {
	c := &Coordinator{history: 16, logf: monitoring.Prefixed("drive")}
	for _, o := range opts {
		o(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	c.left = &side{name: "left", link: left, buf: telemetry.NewBuffer("left_wheel", wheel.Schema, c.history)}
	c.right = &side{name: "right", link: right, buf: telemetry.NewBuffer("right_wheel", wheel.Schema, c.history)}
	return c
}

// Refresh drains the wheels' telemetry channels.
func (c *Coordinator) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left.refresh()
	c.right.refresh()
}

// State returns the last known state of both wheels. ok is false until both
// wheels have reported.
func (c *Coordinator) State() (left, right WheelState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left.state, c.right.state, c.left.known && c.right.known
}

// dispatch sends one command to each wheel in a random order so neither
// wheel systematically reacts first.
func (c *Coordinator) dispatch(left, right command.Command) {
	if c.rng.Intn(2) == 0 {
		c.left.link.Commands.Push(left)
		c.right.link.Commands.Push(right)
		return
	}
	c.right.link.Commands.Push(right)
	c.left.link.Commands.Push(left)
}

func speedCmd(scale float64) command.Command {
	return command.New(wheel.OpIncreaseSpeed, scale)
}

// clampScale keeps a coordinator scale inside [-1, 1].
func clampScale(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// IncreaseSpeed changes both wheels' speed by scale, clamped to [-1, 1].
func (c *Coordinator) IncreaseSpeed(scale float64) {
	scale = clampScale(scale)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch(speedCmd(scale), speedCmd(scale))
}

// Stop resets both wheels to their reference pulse.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch(command.New(wheel.OpStop), command.New(wheel.OpStop))
}

// Turn blends the soft and sharp profiles for direction by weight and scales
// the result. weight must lie in [0, 1]; scale is clamped to [-1, 1].
func (c *Coordinator) Turn(dir Direction, scale, weight float64) error {
	scale = clampScale(scale)
	p, ok := turnProfiles[dir]
	if !ok {
		return fmt.Errorf("%w: unknown direction %q", command.ErrBadArgument, dir)
	}
	if weight < 0 || weight > 1 || math.IsNaN(weight) {
		return fmt.Errorf("%w: weight must be in [0, 1], got %v", command.ErrBadArgument, weight)
	}
	l := scale * (p.sharp.left*weight + p.soft.left*(1-weight))
	r := scale * (p.sharp.right*weight + p.soft.right*(1-weight))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatch(speedCmd(l), speedCmd(r))
	return nil
}

// Straight pulls both wheels to the same speed magnitude: the mean of their
// current magnitudes, each wheel keeping its own direction. A stopped wheel
// follows the direction of the other one.
func (c *Coordinator) Straight() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left.refresh()
	c.right.refresh()
	if !c.left.known || !c.right.known {
		return ErrNoWheelState
	}

	sl, sr := c.left.state.Speed(), c.right.state.Speed()
	target := (math.Abs(sl) + math.Abs(sr)) / 2
	dl := signOr(sl, sr)*target - sl
	dr := signOr(sr, sl)*target - sr
	c.logf("straight: left %.3f right %.3f -> %.3f", sl, sr, target)
	c.dispatch(speedCmd(dl), speedCmd(dr))
	return nil
}

// signOr returns the sign of v, falling back to the sign of other when v is
// zero.
func signOr(v, other float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	case other > 0:
		return 1
	case other < 0:
		return -1
	default:
		return 0
	}
}
