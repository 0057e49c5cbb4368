// Package rangesensor implements the component that takes one ultrasonic range
// reading per work unit.
package rangesensor

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// Status qualifies a reading. Only StatusSuccess carries a distance.
type Status string

const (
	StatusSuccess       Status = "SUCCESS"
	StatusTimeout       Status = "TIMEOUT"
	StatusOutOfRange    Status = "OUT_OF_RANGE"
	StatusUninitialized Status = "UNINITIALIZED"
)

func (s Status) String() string { return string(s) }

// Ranger is the synchronous driver for the ultrasonic sensor.
type Ranger interface {
	// MeasureOnce fires one ping and returns the distance in metres. The
	// distance is meaningful only when status is StatusSuccess.
	MeasureOnce(ctx context.Context) (float64, Status)
}

// Schema is the telemetry layout of the range sensor. distance is nil unless
// status is SUCCESS.
var Schema = telemetry.Base("distance", "status")

// failureLogEvery throttles repeated-failure logging.
const failureLogEvery = 100

// Config holds the sensor parameters.
type Config struct {
	Name        string
	SettleDelay time.Duration
	// Readings outside [MinRange, MaxRange] metres are reported as
	// StatusOutOfRange.
	MinRange float64
	MaxRange float64
}

// EchoSpeed is half the speed of sound in m/s; it turns echo time into
// distance.
const EchoSpeed = 170.0

// EchoTimeout is the round trip time of an echo from MaxRange.
func (c Config) EchoTimeout() time.Duration {
	return timeutil.Duration(c.MaxRange / EchoSpeed)
}

// DefaultConfig matches an HC-SR04 class sensor.
func DefaultConfig() Config {
	return Config{
		Name:        "radar_distance_sensor",
		SettleDelay: 70 * time.Microsecond,
		MinRange:    0.04,
		MaxRange:    4,
	}
}

// Validate checks the sensor parameters.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("range sensor name is required")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative, got %v", c.SettleDelay)
	}
	if c.MinRange < 0 || c.MinRange >= c.MaxRange {
		return fmt.Errorf("invalid range window [%v, %v]", c.MinRange, c.MaxRange)
	}
	return nil
}

// Component takes one reading per Run.
type Component struct {
	cfg      Config
	ranger   Ranger
	clock    timeutil.Clock
	distance float64
	status   Status
	failures int
	logf     func(string, ...interface{})
}

// New returns a range sensor component reading from ranger.
func New(cfg Config, ranger Ranger, clock timeutil.Clock) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Component{
		cfg:    cfg,
		ranger: ranger,
		clock:  clock,
		status: StatusUninitialized,
		logf:   monitoring.Prefixed(cfg.Name),
	}, nil
}

// Name implements component.Component.
func (c *Component) Name() string { return c.cfg.Name }

// Schema implements component.Component.
func (c *Component) Schema() telemetry.Schema { return Schema }

// Config returns the current sensor parameters.
func (c *Component) Config() Config { return c.cfg }

// Last returns the most recent reading.
func (c *Component) Last() (float64, Status) { return c.distance, c.status }

// Run takes one reading and then waits for the settle delay.
func (c *Component) Run(ctx context.Context) error {
	d, st := c.ranger.MeasureOnce(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == StatusSuccess && (d < c.cfg.MinRange || d > c.cfg.MaxRange) {
		st = StatusOutOfRange
	}
	if st != StatusSuccess {
		d = 0
		c.failures++
		if c.failures == 1 || c.failures%failureLogEvery == 0 {
			c.logf("reading failed with %s (%d consecutive)", st, c.failures)
		}
	} else {
		if c.failures >= failureLogEvery {
			c.logf("readings recovered after %d failures", c.failures)
		}
		c.failures = 0
	}
	c.distance, c.status = d, st

	return c.clock.Sleep(ctx, c.cfg.SettleDelay)
}

// Emit implements component.Component.
func (c *Component) Emit(sink telemetry.Sink) {
	var distance any
	if c.status == StatusSuccess {
		distance = c.distance
	}
	sink.Push(telemetry.Record{
		Timestamp: timeutil.Seconds(c.clock.Now()),
		Source:    c.cfg.Name,
		Fields:    []any{distance, string(c.status)},
	})
}

// Apply implements component.Component.
func (c *Component) Apply(ctx context.Context, cmd command.Command) error {
	op, err := ParseOp(cmd)
	if err != nil {
		return err
	}
	switch o := op.(type) {
	case SetSettleDelay:
		c.cfg.SettleDelay = o.Delay
	case SetRangeWindow:
		c.cfg.MinRange, c.cfg.MaxRange = o.Min, o.Max
	case RunOnce:
		return c.Run(ctx)
	}
	return nil
}
