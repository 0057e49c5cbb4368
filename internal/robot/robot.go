// Package robot assembles the workers, the fusion engine and the drive
// coordinator from a configuration and runs them together.
package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/config"
	"github.com/banshee-data/autocar/internal/drive"
	"github.com/banshee-data/autocar/internal/fusion"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/timeutil"
	"github.com/banshee-data/autocar/internal/wheel"
	"github.com/banshee-data/autocar/internal/worker"
)

// DefaultShutdownGrace bounds how long workers get to finish after EXIT.
const DefaultShutdownGrace = 10 * time.Second

// ErrAlreadyStarted is returned when Run is called a second time.
var ErrAlreadyStarted = errors.New("robot already started")

// Options configures a Robot.
type Options struct {
	// Clock drives the components and the control loop. Defaults to the
	// real clock.
	Clock timeutil.Clock
	// Registerer receives the worker and fusion metrics; nil skips
	// registration.
	Registerer prometheus.Registerer
	// RadarOnly leaves out the wheels and the drive coordinator.
	RadarOnly bool
	// ShutdownGrace defaults to DefaultShutdownGrace.
	ShutdownGrace time.Duration
	// OnMap is called from the control loop with every fused map.
	OnMap func(fusion.DistanceMap)
}

// Robot owns one worker per component, the fusion engine reading the radar
// workers' telemetry and the coordinator commanding the wheel workers.
type Robot struct {
	clock    timeutil.Clock
	grace    time.Duration
	onMap    func(fusion.DistanceMap)
	interval time.Duration
	logf     func(format string, v ...interface{})

	radar   *worker.Worker
	sensor  *worker.Worker
	left    *worker.Worker
	right   *worker.Worker
	workers []*worker.Worker
	engine  *fusion.Engine
	drive   *drive.Coordinator

	started atomic.Bool

	mu  sync.Mutex
	cfg *config.Config
}

// New builds the robot described by cfg on hw.
func New(cfg *config.Config, hw *Hardware, opts Options) (*Robot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	wm := worker.NewMetrics(opts.Registerer)
	fm := fusion.NewMetrics(opts.Registerer)

	r := &Robot{
		clock:    opts.Clock,
		grace:    opts.ShutdownGrace,
		onMap:    opts.OnMap,
		interval: cfg.Fusion.Interval.D(),
		logf:     monitoring.Prefixed("robot"),
		cfg:      cfg,
	}

	radar, err := radarbase.New(cfg.RadarBase(), hw.Stepper, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("radar base: %w", err)
	}
	sensor, err := rangesensor.New(cfg.RangeSensor(), hw.Ranger, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("range sensor: %w", err)
	}
	r.radar = worker.New(radar, worker.Options{Metrics: wm})
	r.sensor = worker.New(sensor, worker.Options{Metrics: wm})
	r.workers = []*worker.Worker{r.radar, r.sensor}

	r.engine, err = fusion.NewEngine(r.radar.Telemetry(), r.sensor.Telemetry(),
		cfg.Fusion.BufferSize, cfg.FusionOptions(), fm)
	if err != nil {
		return nil, fmt.Errorf("fusion: %w", err)
	}

	if opts.RadarOnly {
		return r, nil
	}

	left, err := wheel.New(cfg.LeftWheel(), hw.Left, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("left wheel: %w", err)
	}
	right, err := wheel.New(cfg.RightWheel(), hw.Right, opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("right wheel: %w", err)
	}
	r.left = worker.New(left, worker.Options{Metrics: wm})
	r.right = worker.New(right, worker.Options{Metrics: wm})
	r.workers = append(r.workers, r.left, r.right)
	r.drive = drive.New(
		drive.WheelLink{Commands: r.left.Commands(), Telemetry: r.left.Telemetry()},
		drive.WheelLink{Commands: r.right.Commands(), Telemetry: r.right.Telemetry()},
	)
	return r, nil
}

// Workers returns every worker, radar base first.
func (r *Robot) Workers() []*worker.Worker { return r.workers }

// Worker returns the worker whose component is called name.
func (r *Robot) Worker(name string) (*worker.Worker, bool) {
	for _, w := range r.workers {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// Statuses snapshots every worker.
func (r *Robot) Statuses() []worker.Status {
	out := make([]worker.Status, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Status())
	}
	return out
}

// Engine returns the fusion engine.
func (r *Robot) Engine() *fusion.Engine { return r.engine }

// Drive returns the drive coordinator, nil for a radar-only robot.
func (r *Robot) Drive() *drive.Coordinator { return r.drive }

// DistanceMap returns the latest fused map.
func (r *Robot) DistanceMap() fusion.DistanceMap { return r.engine.Latest() }

// Config returns the configuration in effect.
func (r *Robot) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Run starts every worker and the control loop and blocks until they have
// stopped. Cancelling ctx sends EXIT to every worker so that each
// component parks its hardware; workers still busy after the shutdown grace
// are interrupted. A worker that fails to start stops the others.
func (r *Robot) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	runCtx, interrupt := context.WithCancel(context.WithoutCancel(ctx))
	defer interrupt()

	g, gctx := errgroup.WithContext(runCtx)
	for _, w := range r.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		r.control(ctx, gctx)
		r.Exit()
		r.awaitWorkers(interrupt)
		return nil
	})
	r.logf("started %d workers", len(r.workers))

	err := g.Wait()
	r.tick()
	if err != nil {
		r.logf("stopped: %v", err)
		return err
	}
	r.logf("stopped")
	return nil
}

// control fuses the radar telemetry every interval until ctx or gctx is
// done.
func (r *Robot) control(ctx, gctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-gctx.Done():
			return
		case <-ticker.C():
			r.tick()
		}
	}
}

func (r *Robot) tick() {
	m := r.engine.Update()
	if r.drive != nil {
		r.drive.Refresh()
	}
	if r.onMap != nil {
		r.onMap(m)
	}
}

func (r *Robot) awaitWorkers(interrupt context.CancelFunc) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	for _, w := range r.workers {
		select {
		case <-w.Done():
		case <-timer.C:
			r.logf("workers still busy after %s, interrupting", r.grace)
			interrupt()
			return
		}
	}
}

// Exit sends EXIT to every worker.
func (r *Robot) Exit() {
	for _, w := range r.workers {
		w.Exit()
	}
}

// Reconfigure pushes the tunable differences between the running
// configuration and next to the workers and the fusion engine. Wheel
// calibration and hardware settings only take effect on restart.
func (r *Robot) Reconfigure(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	prev := r.cfg
	r.cfg = next
	r.mu.Unlock()

	for _, cmd := range radarChanges(prev.RadarBase(), next.RadarBase()) {
		r.radar.Commands().Push(cmd)
	}
	for _, cmd := range sensorChanges(prev.RangeSensor(), next.RangeSensor()) {
		r.sensor.Commands().Push(cmd)
	}
	if prev.FusionOptions() != next.FusionOptions() {
		if err := r.engine.SetOptions(next.FusionOptions()); err != nil {
			return err
		}
	}
	if prev.Wheels != next.Wheels || prev.Hardware != next.Hardware {
		r.logf("wheel and hardware changes apply on restart")
	}
	return nil
}

func radarChanges(prev, next radarbase.Config) []command.Command {
	var cmds []command.Command
	if prev.MinDegree != next.MinDegree || prev.MaxDegree != next.MaxDegree {
		cmds = append(cmds, command.New(radarbase.OpSetAngleRange, next.MinDegree, next.MaxDegree))
	}
	if prev.StepSize != next.StepSize {
		cmds = append(cmds, command.New(radarbase.OpSetStepSize, next.StepSize))
	}
	if prev.Delay != next.Delay {
		cmds = append(cmds, command.New(radarbase.OpSetDelay, next.Delay.Seconds()))
	}
	if prev.DwellFactor != next.DwellFactor {
		cmds = append(cmds, command.New(radarbase.OpSetDwell, next.DwellFactor))
	}
	return cmds
}

func sensorChanges(prev, next rangesensor.Config) []command.Command {
	var cmds []command.Command
	if prev.SettleDelay != next.SettleDelay {
		cmds = append(cmds, command.New(rangesensor.OpSetSettleDelay, next.SettleDelay.Seconds()))
	}
	if prev.MinRange != next.MinRange || prev.MaxRange != next.MaxRange {
		cmds = append(cmds, command.New(rangesensor.OpSetRangeWindow, next.MinRange, next.MaxRange))
	}
	return cmds
}
