package drive

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
	"github.com/banshee-data/autocar/internal/wheel"
)

type sent struct {
	wheel string
	cmd   command.Command
}

// journal records the commands of both wheels in dispatch order.
type journal struct {
	mu   sync.Mutex
	sent []sent
}

type wheelSink struct {
	name string
	j    *journal
}

func (s wheelSink) Push(cmd command.Command) {
	s.j.mu.Lock()
	defer s.j.mu.Unlock()
	s.j.sent = append(s.j.sent, sent{s.name, cmd})
}

func (j *journal) take() []sent {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.sent
	j.sent = nil
	return out
}

func (j *journal) byWheel() map[string][]command.Command {
	out := map[string][]command.Command{}
	for _, s := range j.take() {
		out[s.wheel] = append(out[s.wheel], s.cmd)
	}
	return out
}

type rig struct {
	c        *Coordinator
	j        *journal
	leftTel  *telemetry.Channel
	rightTel *telemetry.Channel
}

func newRig(t *testing.T) *rig {
	t.Helper()
	monitoring.SetLogger(nil)
	j := &journal{}
	r := &rig{j: j, leftTel: telemetry.NewChannel(), rightTel: telemetry.NewChannel()}
	r.c = New(
		WheelLink{Commands: wheelSink{"left", j}, Telemetry: r.leftTel},
		WheelLink{Commands: wheelSink{"right", j}, Telemetry: r.rightTel},
		WithRand(rand.New(rand.NewSource(7))),
	)
	return r
}

// report pushes wheel telemetry with pulse expressed as a speed fraction of
// a 100/20 calibrated servo.
func (r *rig) report(leftPulse, rightPulse float64) {
	r.leftTel.Push(telemetry.Record{Timestamp: 1, Source: "left_wheel", Fields: []any{leftPulse, 100.0, 20.0, false}})
	r.rightTel.Push(telemetry.Record{Timestamp: 1, Source: "right_wheel", Fields: []any{rightPulse, 100.0, 20.0, true}})
}

func scaleOf(t *testing.T, cmd command.Command) float64 {
	t.Helper()
	require.Equal(t, wheel.OpIncreaseSpeed, cmd.Op)
	f, err := cmd.Float(0, "scale")
	require.NoError(t, err)
	return f
}

func TestStopThenStraightIssuesZeroCommands(t *testing.T) {
	r := newRig(t)
	r.report(100, 100)

	r.c.Stop()
	require.NoError(t, r.c.Straight())

	got := r.j.byWheel()
	for _, name := range []string{"left", "right"} {
		cmds := got[name]
		require.Len(t, cmds, 2, name)
		assert.Equal(t, wheel.OpStop, cmds[0].Op)
		assert.Equal(t, 0.0, scaleOf(t, cmds[1]))
	}
}

func TestStraightEqualizesMagnitude(t *testing.T) {
	r := newRig(t)
	// left forward 0.6, right (mirrored) forward 0.2
	r.report(112, 96)

	require.NoError(t, r.c.Straight())
	got := r.j.byWheel()
	assert.InDelta(t, -0.2, scaleOf(t, got["left"][0]), 1e-9)
	assert.InDelta(t, 0.2, scaleOf(t, got["right"][0]), 1e-9)
}

func TestStraightStoppedWheelFollowsOther(t *testing.T) {
	r := newRig(t)
	r.report(92, 100) // left reversing at 0.4, right stopped

	require.NoError(t, r.c.Straight())
	got := r.j.byWheel()
	assert.InDelta(t, 0.2, scaleOf(t, got["left"][0]), 1e-9)
	assert.InDelta(t, -0.2, scaleOf(t, got["right"][0]), 1e-9)
}

func TestStraightNeedsWheelState(t *testing.T) {
	r := newRig(t)
	assert.ErrorIs(t, r.c.Straight(), ErrNoWheelState)

	r.leftTel.Push(telemetry.Record{Timestamp: 1, Source: "left_wheel", Fields: []any{100.0, 100.0, 20.0, false}})
	assert.ErrorIs(t, r.c.Straight(), ErrNoWheelState)
	assert.Empty(t, r.j.take())
}

func TestTurnProfiles(t *testing.T) {
	tests := []struct {
		dir           Direction
		scale, weight float64
		left, right   float64
	}{
		{Left, 1, 0, 0, 0.1},
		{Left, 1, 1, -1, 1},
		{Left, 0.5, 0.2, -0.1, 0.14},
		{Right, 1, 0, 0.1, 0},
		{Right, 1, 1, 1, -1},
		{Right, 0.5, 0.2, 0.14, -0.1},
	}
	for _, tt := range tests {
		r := newRig(t)
		require.NoError(t, r.c.Turn(tt.dir, tt.scale, tt.weight))
		got := r.j.byWheel()
		assert.InDelta(t, tt.left, scaleOf(t, got["left"][0]), 1e-9, "%s %v %v", tt.dir, tt.scale, tt.weight)
		assert.InDelta(t, tt.right, scaleOf(t, got["right"][0]), 1e-9, "%s %v %v", tt.dir, tt.scale, tt.weight)
	}
}

func TestTurnRejectsBadArguments(t *testing.T) {
	r := newRig(t)
	assert.ErrorIs(t, r.c.Turn("up", 1, 0.5), command.ErrBadArgument)
	assert.ErrorIs(t, r.c.Turn(Left, 1, 1.5), command.ErrBadArgument)
	assert.Empty(t, r.j.take())

	_, err := ParseDirection("sideways")
	assert.ErrorIs(t, err, command.ErrBadArgument)
	d, err := ParseDirection("right")
	require.NoError(t, err)
	assert.Equal(t, Right, d)
}

func TestIncreaseSpeedBothWheels(t *testing.T) {
	r := newRig(t)
	r.c.IncreaseSpeed(0.3)
	got := r.j.byWheel()
	assert.Equal(t, 0.3, scaleOf(t, got["left"][0]))
	assert.Equal(t, 0.3, scaleOf(t, got["right"][0]))
}

func TestScaleIsClamped(t *testing.T) {
	r := newRig(t)
	r.c.IncreaseSpeed(2.5)
	got := r.j.byWheel()
	assert.Equal(t, 1.0, scaleOf(t, got["left"][0]))
	assert.Equal(t, 1.0, scaleOf(t, got["right"][0]))

	r = newRig(t)
	r.c.IncreaseSpeed(-4)
	got = r.j.byWheel()
	assert.Equal(t, -1.0, scaleOf(t, got["left"][0]))

	r = newRig(t)
	require.NoError(t, r.c.Turn(Left, 3, 1))
	got = r.j.byWheel()
	assert.InDelta(t, -1, scaleOf(t, got["left"][0]), 1e-9)
	assert.InDelta(t, 1, scaleOf(t, got["right"][0]), 1e-9)
}

func TestDispatchOrderIsRandomized(t *testing.T) {
	r := newRig(t)
	firsts := map[string]int{}
	for i := 0; i < 200; i++ {
		r.c.Stop()
		firsts[r.j.take()[0].wheel]++
	}
	assert.Greater(t, firsts["left"], 0)
	assert.Greater(t, firsts["right"], 0)
}

func TestRefreshKeepsLatestState(t *testing.T) {
	r := newRig(t)
	_, _, ok := r.c.State()
	assert.False(t, ok)

	r.report(105, 100)
	r.report(110, 90)
	r.c.Refresh()

	left, right, ok := r.c.State()
	require.True(t, ok)
	assert.Equal(t, 110.0, left.Pulse)
	assert.InDelta(t, 0.5, left.Speed(), 1e-9)
	assert.True(t, right.Mirror)
	assert.InDelta(t, 0.5, right.Speed(), 1e-9)
}

func TestCommandChannelSatisfiesSink(t *testing.T) {
	left, right := command.NewChannel(), command.NewChannel()
	c := New(WheelLink{Commands: left}, WheelLink{Commands: right})
	c.Stop()
	cmd, ok := left.TryPop()
	require.True(t, ok)
	assert.Equal(t, wheel.OpStop, cmd.Op)
	assert.Equal(t, 1, right.Len())
}
