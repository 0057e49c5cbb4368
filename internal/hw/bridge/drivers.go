package bridge

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/serialmux"
)

// stepCycle is the mount rotation per 8-phase cycle; the firmware rounds
// every rotation up to whole cycles.
const stepCycle = 360.0 / 4096.0 * 8

// Stepper drives the radar mount's stepper through the bridge. The position
// is the one the firmware last reported.
type Stepper struct {
	conn    Conn
	tag     string
	timeout time.Duration

	mu  sync.Mutex
	pos float64
}

// NewStepper returns a stepper driver for tag. timeout is the reply budget
// on top of the rotation time itself.
func NewStepper(conn Conn, tag string, timeout time.Duration) *Stepper {
	return &Stepper{conn: conn, tag: tag, timeout: timeout}
}

// Sync asks the firmware for the current position.
func (s *Stepper) Sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := roundTrip(ctx, s.conn, s.tag, []string{VerbPos}, VerbPosQuery)
	if err != nil {
		return err
	}
	return s.store(reply)
}

func (s *Stepper) store(reply serialmux.Line) error {
	pos, err := floatArg(reply, 0)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pos = pos
	s.mu.Unlock()
	return nil
}

// Rotate implements radarbase.Stepper.
func (s *Stepper) Rotate(ctx context.Context, degrees float64, clockwise bool, delay time.Duration) error {
	if degrees <= 0 {
		return nil
	}
	busy := time.Duration(math.Ceil(degrees/stepCycle)*8) * delay
	ctx, cancel := context.WithTimeout(ctx, busy+s.timeout)
	defer cancel()
	reply, err := roundTrip(ctx, s.conn, s.tag, []string{VerbPos}, VerbStep,
		formatFloat(degrees), boolFlag(clockwise), micros(delay))
	if err != nil {
		return err
	}
	return s.store(reply)
}

// CurrentPosition implements radarbase.Stepper.
func (s *Stepper) CurrentPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Release de-energises the stepper coils.
func (s *Stepper) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := roundTrip(ctx, s.conn, s.tag, []string{VerbOK}, VerbOff)
	return err
}

// Ranger reads the ultrasonic sensor through the bridge.
type Ranger struct {
	conn    Conn
	tag     string
	maxEcho time.Duration
	timeout time.Duration
	logf    func(string, ...interface{})
}

// NewRanger returns a sensor driver for tag. maxEcho is how long the
// firmware waits for an echo.
func NewRanger(conn Conn, tag string, maxEcho, timeout time.Duration) *Ranger {
	return &Ranger{conn: conn, tag: tag, maxEcho: maxEcho, timeout: timeout, logf: monitoring.Prefixed("bridge " + tag)}
}

// MeasureOnce implements rangesensor.Ranger. Transport failures are
// reported as a timeout so the sensor keeps emitting.
func (r *Ranger) MeasureOnce(ctx context.Context) (float64, rangesensor.Status) {
	ctx, cancel := context.WithTimeout(ctx, r.maxEcho+r.timeout)
	defer cancel()
	reply, err := roundTrip(ctx, r.conn, r.tag, []string{VerbDist}, VerbPing,
		formatFloat(float64(r.maxEcho.Milliseconds())))
	switch {
	case err == nil:
		d, perr := floatArg(reply, 0)
		if perr != nil {
			r.logf("%v", perr)
			return 0, rangesensor.StatusTimeout
		}
		return d, rangesensor.StatusSuccess
	case errors.Is(err, ErrDevice) && len(reply.Args) > 0 && reply.Args[0] == ReasonRange:
		return 0, rangesensor.StatusOutOfRange
	case errors.Is(err, ErrDevice):
		return 0, rangesensor.StatusTimeout
	default:
		r.logf("ping failed: %v", err)
		return 0, rangesensor.StatusTimeout
	}
}

// Servo drives one wheel servo through the bridge.
type Servo struct {
	conn    Conn
	tag     string
	timeout time.Duration
}

// NewServo returns a servo driver for tag.
func NewServo(conn Conn, tag string, timeout time.Duration) *Servo {
	return &Servo{conn: conn, tag: tag, timeout: timeout}
}

// EmitSignal implements wheel.SignalGenerator. The call returns once the
// firmware has finished the pulse train.
func (s *Servo) EmitSignal(ctx context.Context, repeat int, pulse, idle time.Duration) error {
	busy := time.Duration(repeat) * (pulse + idle)
	ctx, cancel := context.WithTimeout(ctx, busy+s.timeout)
	defer cancel()
	_, err := roundTrip(ctx, s.conn, s.tag, []string{VerbOK}, VerbPWM,
		formatFloat(float64(repeat)), micros(pulse), micros(idle))
	return err
}
