package rangesensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	d  float64
	st Status
}

type scriptedRanger struct {
	readings []reading
	calls    int
}

func (s *scriptedRanger) MeasureOnce(ctx context.Context) (float64, Status) {
	r := s.readings[s.calls%len(s.readings)]
	s.calls++
	return r.d, r.st
}

func newTestSensor(t *testing.T, readings ...reading) (*Component, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(10, 0))
	cfg := DefaultConfig()
	cfg.SettleDelay = 100 * time.Millisecond
	c, err := New(cfg, &scriptedRanger{readings: readings}, clock)
	require.NoError(t, err)
	return c, clock
}

func TestInitialEmitIsUninitialized(t *testing.T) {
	c, _ := newTestSensor(t, reading{1, StatusSuccess})
	ch := telemetry.NewChannel()
	c.Emit(ch)

	r, ok := ch.TryPop()
	require.True(t, ok)
	assert.Equal(t, []any{10.0, "radar_distance_sensor", nil, "UNINITIALIZED"}, r.Tuple())
}

func TestRunReadingsAndStatus(t *testing.T) {
	tests := []struct {
		name       string
		in         reading
		wantStatus Status
		wantDist   any
	}{
		{"success", reading{1.25, StatusSuccess}, StatusSuccess, 1.25},
		{"timeout", reading{0, StatusTimeout}, StatusTimeout, nil},
		{"too close", reading{0.01, StatusSuccess}, StatusOutOfRange, nil},
		{"too far", reading{7.5, StatusSuccess}, StatusOutOfRange, nil},
		{"driver out of range", reading{0, StatusOutOfRange}, StatusOutOfRange, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestSensor(t, tt.in)
			require.NoError(t, c.Run(context.Background()))

			ch := telemetry.NewChannel()
			c.Emit(ch)
			r, _ := ch.TryPop()

			status, _ := Schema.Text(r, "status")
			assert.Equal(t, string(tt.wantStatus), status)
			d, _ := Schema.Value(r, "distance")
			assert.Equal(t, tt.wantDist, d)
		})
	}
}

func TestRunSleepsSettleDelay(t *testing.T) {
	c, clock := newTestSensor(t, reading{1, StatusSuccess})
	ctx := context.Background()
	require.NoError(t, c.Run(ctx))
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, clock.Sleeps())
	assert.True(t, clock.Now().Equal(time.Unix(10, 200*int64(time.Millisecond))))
}

func TestRepeatedFaultKeepsReporting(t *testing.T) {
	c, _ := newTestSensor(t, reading{0, StatusTimeout})
	ch := telemetry.NewChannel()
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Run(context.Background()))
		c.Emit(ch)
	}
	assert.Equal(t, 5, ch.Len(), "a failing sensor must keep emitting")
	for !ch.Empty() {
		r, _ := ch.TryPop()
		st, _ := Schema.Text(r, "status")
		assert.Equal(t, "TIMEOUT", st)
	}
}

func TestRunCancelled(t *testing.T) {
	c, _ := newTestSensor(t, reading{1, StatusSuccess})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}

func TestApply(t *testing.T) {
	c, _ := newTestSensor(t, reading{1, StatusSuccess})

	require.NoError(t, c.Apply(context.Background(), command.New(OpSetSettleDelay, 0.5)))
	require.NoError(t, c.Apply(context.Background(), command.Named(OpSetRangeWindow, map[string]any{"min": 0.1, "max": 2.0})))
	cfg := c.Config()
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, 0.1, cfg.MinRange)
	assert.Equal(t, 2.0, cfg.MaxRange)

	err := c.Apply(context.Background(), command.New("setAngleRange", 0, 1))
	assert.True(t, errors.Is(err, command.ErrUnknownOperation))
	err = c.Apply(context.Background(), command.New(OpSetRangeWindow, 3.0, 1.0))
	assert.True(t, errors.Is(err, command.ErrBadArgument))
	err = c.Apply(context.Background(), command.New(OpSetSettleDelay, -1))
	assert.True(t, errors.Is(err, command.ErrBadArgument))
	assert.Equal(t, cfg, c.Config(), "rejected commands must not change state")
}

func TestEchoTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRange = 3.4
	assert.Equal(t, 20*time.Millisecond, cfg.EchoTimeout())
}

func TestApplyRunTakesReading(t *testing.T) {
	c, clock := newTestSensor(t, reading{1.5, StatusSuccess})

	require.NoError(t, c.Apply(context.Background(), command.New(command.RunOp)))
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, clock.Sleeps())

	ch := telemetry.NewChannel()
	c.Emit(ch)
	r, ok := ch.TryPop()
	require.True(t, ok)
	d, _ := Schema.Value(r, "distance")
	assert.Equal(t, 1.5, d)
}
