package robot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/config"
	"github.com/banshee-data/autocar/internal/fusion"
	"github.com/banshee-data/autocar/internal/hw/bridge"
	"github.com/banshee-data/autocar/internal/hw/sim"
	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/serialmux"
	"github.com/banshee-data/autocar/internal/timeutil"
	"github.com/banshee-data/autocar/internal/worker"
)

// fastConfig keeps real-clock runs short: quick sweeps, one pulse per
// wheel cycle.
func fastConfig(driver string) *config.Config {
	cfg := config.Default()
	cfg.Hardware.Driver = driver
	cfg.Radar.Delay = config.Duration(200 * time.Microsecond)
	cfg.Fusion.Interval = config.Duration(20 * time.Millisecond)
	cfg.Wheels.Left.Repeat = 1
	cfg.Wheels.Right.Repeat = 1
	return cfg
}

// runUntilMapped runs r until a fused map has at least bins bins, then
// cancels and returns Run's result.
func runUntilMapped(t *testing.T, r *Robot, maps <-chan fusion.DistanceMap, bins int) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()

	deadline := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case m := <-maps:
			done = m.Len() >= bins
		case err := <-errc:
			t.Fatalf("Run returned early: %v", err)
		case <-deadline:
			t.Fatal("no distance map")
		}
	}
	cancel()
	select {
	case err := <-errc:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
		return nil
	}
}

func mapSink() (chan fusion.DistanceMap, func(fusion.DistanceMap)) {
	ch := make(chan fusion.DistanceMap, 1)
	return ch, func(m fusion.DistanceMap) {
		select {
		case ch <- m:
		default:
		}
	}
}

func TestRunFusesSimulatedRoom(t *testing.T) {
	for _, driver := range []string{config.DriverSim, config.DriverEmulated} {
		t.Run(driver, func(t *testing.T) {
			cfg := fastConfig(driver)
			hw, err := OpenHardware(cfg, nil, nil)
			require.NoError(t, err)
			defer hw.Close()

			maps, onMap := mapSink()
			reg := prometheus.NewRegistry()
			r, err := New(cfg, hw, Options{Registerer: reg, OnMap: onMap})
			require.NoError(t, err)
			require.Len(t, r.Workers(), 4)
			require.NotNil(t, r.Drive())

			require.NoError(t, runUntilMapped(t, r, maps, 3))

			for _, st := range r.Statuses() {
				assert.Equal(t, worker.StateStopped, st.State, st.Name)
				assert.NotZero(t, st.Cycles, st.Name)
			}
			nearest, ok := r.DistanceMap().Nearest()
			require.True(t, ok)
			assert.InDelta(t, cfg.Hardware.SimWall, nearest.Distance, 0.1)

			left, right, ok := r.Drive().State()
			require.True(t, ok)
			assert.Equal(t, left.Reference, left.Pulse)
			assert.Equal(t, right.Reference, right.Pulse)
			count, err := testutil.GatherAndCount(reg, "autocar_fusion_bins", "autocar_worker_cycles_total")
			require.NoError(t, err)
			assert.Equal(t, 5, count)

			assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)
		})
	}
}

func TestRadarOnly(t *testing.T) {
	cfg := fastConfig(config.DriverSim)
	hw, err := OpenHardware(cfg, nil, nil)
	require.NoError(t, err)
	defer hw.Close()

	maps, onMap := mapSink()
	r, err := New(cfg, hw, Options{RadarOnly: true, OnMap: onMap})
	require.NoError(t, err)
	assert.Nil(t, r.Drive())
	assert.Len(t, r.Workers(), 2)

	_, ok := r.Worker(cfg.Radar.Name)
	assert.True(t, ok)
	_, ok = r.Worker(cfg.Wheels.Left.Name)
	assert.False(t, ok)

	require.NoError(t, runUntilMapped(t, r, maps, 1))
	assert.NotZero(t, r.DistanceMap().Len())
}

type stuckStepper struct{ pos float64 }

func (s *stuckStepper) Rotate(context.Context, float64, bool, time.Duration) error {
	return errors.New("motor stalled")
}

func (s *stuckStepper) CurrentPosition() float64 { return s.pos }

func TestInitializeFailureStopsRobot(t *testing.T) {
	cfg := fastConfig(config.DriverSim)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	hw := &Hardware{
		Stepper: &stuckStepper{pos: 90},
		Ranger:  sim.NewRanger(clock, sim.Room{Wall: 1}, func() float64 { return 0 }, sim.RangerOptions{}),
		Left:    sim.NewServo(clock),
		Right:   sim.NewServo(clock),
	}
	defer hw.Close()

	r, err := New(cfg, hw, Options{RadarOnly: true, Clock: clock})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background()) }()
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "motor stalled")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after the radar failed")
	}
}

func TestReconfigure(t *testing.T) {
	cfg := fastConfig(config.DriverSim)
	hw, err := OpenHardware(cfg, nil, nil)
	require.NoError(t, err)
	defer hw.Close()
	r, err := New(cfg, hw, Options{})
	require.NoError(t, err)

	next := *cfg
	next.Radar.MinDegree, next.Radar.MaxDegree = -30, 30
	next.Radar.DwellFactor = 5
	next.Sensor.MaxRange = 2
	next.Fusion.DropFailed = true
	next.Wheels.Left.Repeat = 5
	require.NoError(t, r.Reconfigure(&next))

	var ops []string
	for {
		cmd, ok := r.radar.Commands().TryPop()
		if !ok {
			break
		}
		ops = append(ops, cmd.String())
	}
	assert.Equal(t, []string{
		command.New(radarbase.OpSetAngleRange, -30.0, 30.0).String(),
		command.New(radarbase.OpSetDwell, 5.0).String(),
	}, ops)

	cmd, ok := r.sensor.Commands().TryPop()
	require.True(t, ok)
	assert.Equal(t, rangesensor.OpSetRangeWindow, cmd.Op)
	assert.True(t, r.sensor.Commands().Empty())
	assert.True(t, r.left.Commands().Empty())

	assert.True(t, r.Engine().Options().DropFailed)
	assert.Same(t, &next, r.Config())

	bad := next
	bad.Fusion.TimeScale = 0
	assert.ErrorIs(t, r.Reconfigure(&bad), config.ErrInvalid)
	assert.Same(t, &next, r.Config())
}

func TestOpenHardwareSerial(t *testing.T) {
	cfg := fastConfig(config.DriverSerial)
	cfg.Hardware.Port = "/dev/ttyUSB3"
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	emu := bridge.NewEmulator(context.Background())
	emu.AttachStepper(cfg.Hardware.Tags.Stepper, sim.NewStepper(clock, 12.5))
	opener := &serialmux.MockOpener{Port: serialmux.NewResponderPort(emu.Respond)}

	hw, err := OpenHardware(cfg, nil, opener.Open)
	require.NoError(t, err)
	defer hw.Close()

	require.Len(t, opener.Calls, 1)
	assert.Equal(t, "/dev/ttyUSB3", opener.Calls[0].Path)
	assert.Equal(t, cfg.Hardware.BaudRate, opener.Calls[0].Opts.BaudRate)
	assert.Equal(t, 12.5, hw.Stepper.CurrentPosition())
	assert.IsType(t, &bridge.Servo{}, hw.Left)
	require.NoError(t, hw.Close())
	require.NoError(t, hw.Close())

	opener = &serialmux.MockOpener{Error: errors.New("no such device")}
	_, err = OpenHardware(cfg, nil, opener.Open)
	assert.ErrorContains(t, err, "no such device")
}

func TestOpenHardwareSerialWithoutStepper(t *testing.T) {
	cfg := fastConfig(config.DriverSerial)
	cfg.Hardware.RequestTimeout = config.Duration(20 * time.Millisecond)
	emu := bridge.NewEmulator(context.Background())
	opener := &serialmux.MockOpener{Port: serialmux.NewResponderPort(emu.Respond)}

	_, err := OpenHardware(cfg, nil, opener.Open)
	assert.ErrorIs(t, err, bridge.ErrDevice)
}
