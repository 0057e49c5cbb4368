// Package sim provides simulated hardware drivers so the robot can run on a
// development machine. Timing goes through a timeutil.Clock: a real clock
// reproduces the hardware's pace, a mock clock makes tests instant.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// StepAngle is the mount rotation of one full 8-phase cycle of a 28BYJ-48
// stepper in half-step mode.
const StepAngle = 360.0 / 4096.0 * 8

// phasesPerCycle is the number of coil phases, each held for one delay.
const phasesPerCycle = 8

// Stepper simulates the radar mount's stepper motor. Rotations are
// quantized to whole cycles, rounding up.
type Stepper struct {
	clock timeutil.Clock

	mu        sync.Mutex
	pos       float64
	energised bool
	releases  int
}

// NewStepper returns a stepper at position degrees.
func NewStepper(clock timeutil.Clock, position float64) *Stepper {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stepper{clock: clock, pos: position}
}

// Rotate implements radarbase.Stepper.
func (s *Stepper) Rotate(ctx context.Context, degrees float64, clockwise bool, delay time.Duration) error {
	if degrees <= 0 {
		return nil
	}
	cycles := math.Ceil(degrees/StepAngle - 1e-9)
	if err := s.clock.Sleep(ctx, time.Duration(cycles*phasesPerCycle)*delay); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energised = true
	if clockwise {
		s.pos -= cycles * StepAngle
	} else {
		s.pos += cycles * StepAngle
	}
	return nil
}

// CurrentPosition implements radarbase.Stepper.
func (s *Stepper) CurrentPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Release de-energises the coils.
func (s *Stepper) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.energised = false
	s.releases++
	return nil
}

// Energised reports whether the coils are holding the mount.
func (s *Stepper) Energised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.energised
}

// Releases returns how many times the coils were released.
func (s *Stepper) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// Obstacle is a box-like object at Distance metres that covers the angles
// within Width/2 degrees of Angle.
type Obstacle struct {
	Angle    float64
	Width    float64
	Distance float64
}

// Room is the simulated surroundings: a flat wall Wall metres ahead plus
// obstacles. Angles are degrees anti-clockwise from straight ahead.
type Room struct {
	Wall      float64
	Obstacles []Obstacle
}

// DistanceAt returns the distance to the first surface at angle, or +Inf
// when the ray never meets one.
func (r Room) DistanceAt(angle float64) float64 {
	d := math.Inf(1)
	if c := math.Cos(angle * math.Pi / 180); c > 1e-6 && r.Wall > 0 {
		d = r.Wall / c
	}
	for _, o := range r.Obstacles {
		if math.Abs(angle-o.Angle) <= o.Width/2 && o.Distance < d {
			d = o.Distance
		}
	}
	return d
}

// RangerOptions tunes the simulated sensor.
type RangerOptions struct {
	// MaxEcho is the longest echo the sensor waits for.
	MaxEcho time.Duration
	// Noise is the standard deviation of the reading in metres.
	Noise float64
	// Dropout is the probability that a ping gets no echo.
	Dropout float64
	Rand    *rand.Rand
}

// Ranger simulates the ultrasonic sensor on the radar mount. It reads the
// mount angle from angle and the distance from room.
type Ranger struct {
	clock timeutil.Clock
	room  Room
	angle func() float64
	opts  RangerOptions

	mu sync.Mutex
}

// NewRanger returns a sensor looking into room along angle().
func NewRanger(clock timeutil.Clock, room Room, angle func() float64, opts RangerOptions) *Ranger {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.MaxEcho <= 0 {
		opts.MaxEcho = 30 * time.Millisecond
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Ranger{clock: clock, room: room, angle: angle, opts: opts}
}

// MeasureOnce implements rangesensor.Ranger.
func (r *Ranger) MeasureOnce(ctx context.Context) (float64, rangesensor.Status) {
	r.mu.Lock()
	d := r.room.DistanceAt(r.angle())
	dropped := r.opts.Dropout > 0 && r.opts.Rand.Float64() < r.opts.Dropout
	noise := r.opts.Rand.NormFloat64() * r.opts.Noise
	r.mu.Unlock()

	maxRange := r.opts.MaxEcho.Seconds() * rangesensor.EchoSpeed
	if dropped || d > maxRange {
		_ = r.clock.Sleep(ctx, r.opts.MaxEcho)
		return 0, rangesensor.StatusTimeout
	}
	if err := r.clock.Sleep(ctx, timeutil.Duration(d/rangesensor.EchoSpeed)); err != nil {
		return 0, rangesensor.StatusTimeout
	}
	return math.Max(0, d+noise), rangesensor.StatusSuccess
}

// Servo simulates a continuous-rotation wheel servo.
type Servo struct {
	clock timeutil.Clock

	mu     sync.Mutex
	pulse  time.Duration
	pulses int
}

// NewServo returns an idle servo.
func NewServo(clock timeutil.Clock) *Servo {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Servo{clock: clock}
}

// EmitSignal implements wheel.SignalGenerator.
func (s *Servo) EmitSignal(ctx context.Context, repeat int, pulse, idle time.Duration) error {
	if err := s.clock.Sleep(ctx, time.Duration(repeat)*(pulse+idle)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulse = pulse
	s.pulses += repeat
	return nil
}

// LastPulse returns the width of the most recent pulse.
func (s *Servo) LastPulse() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulse
}

// Pulses returns how many pulses were emitted in total.
func (s *Servo) Pulses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulses
}
