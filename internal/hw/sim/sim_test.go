package sim

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/timeutil"
)

func TestStepperQuantizesToCycles(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewStepper(clock, 0)

	require.NoError(t, s.Rotate(context.Background(), 0.71, false, 2*time.Millisecond))
	assert.InDelta(t, 2*StepAngle, s.CurrentPosition(), 1e-9)
	assert.Equal(t, []time.Duration{32 * time.Millisecond}, clock.Sleeps())
	assert.True(t, s.Energised())

	require.NoError(t, s.Rotate(context.Background(), StepAngle, true, time.Millisecond))
	assert.InDelta(t, StepAngle, s.CurrentPosition(), 1e-9)

	require.NoError(t, s.Rotate(context.Background(), 0, true, time.Millisecond))
	assert.InDelta(t, StepAngle, s.CurrentPosition(), 1e-9)

	require.NoError(t, s.Release())
	assert.False(t, s.Energised())
	assert.Equal(t, 1, s.Releases())
}

func TestStepperCancelled(t *testing.T) {
	s := NewStepper(timeutil.NewMockClock(time.Unix(0, 0)), 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Rotate(ctx, 10, false, time.Millisecond), context.Canceled)
	assert.Equal(t, 5.0, s.CurrentPosition())
}

func TestRoomDistance(t *testing.T) {
	room := Room{Wall: 2, Obstacles: []Obstacle{{Angle: 20, Width: 10, Distance: 0.5}}}

	assert.InDelta(t, 2, room.DistanceAt(0), 1e-9)
	assert.InDelta(t, 2/math.Cos(math.Pi/3), room.DistanceAt(-60), 1e-9)
	assert.Equal(t, 0.5, room.DistanceAt(24))
	assert.Equal(t, 0.5, room.DistanceAt(16))
	assert.True(t, math.IsInf(room.DistanceAt(90), 1))
	assert.True(t, math.IsInf(Room{}.DistanceAt(0), 1))
}

func TestRangerReadsRoomAtMountAngle(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	angle := 0.0
	r := NewRanger(clock, Room{Wall: 1.7}, func() float64 { return angle }, RangerOptions{Rand: rand.New(rand.NewSource(1))})

	d, st := r.MeasureOnce(context.Background())
	assert.Equal(t, rangesensor.StatusSuccess, st)
	assert.InDelta(t, 1.7, d, 1e-9)
	require.Len(t, clock.Sleeps(), 1)
	assert.Equal(t, 10*time.Millisecond, clock.Sleeps()[0])

	angle = 89.99
	_, st = r.MeasureOnce(context.Background())
	assert.Equal(t, rangesensor.StatusTimeout, st)
}

func TestRangerDropout(t *testing.T) {
	r := NewRanger(timeutil.NewMockClock(time.Unix(0, 0)), Room{Wall: 1}, func() float64 { return 0 },
		RangerOptions{Dropout: 1, Rand: rand.New(rand.NewSource(1))})
	_, st := r.MeasureOnce(context.Background())
	assert.Equal(t, rangesensor.StatusTimeout, st)
}

func TestServo(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewServo(clock)
	require.NoError(t, s.EmitSignal(context.Background(), 20, 1500*time.Microsecond, 20*time.Millisecond))

	assert.Equal(t, 1500*time.Microsecond, s.LastPulse())
	assert.Equal(t, 20, s.Pulses())
	assert.Equal(t, []time.Duration{430 * time.Millisecond}, clock.Sleeps())
}
