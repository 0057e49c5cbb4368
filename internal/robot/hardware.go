package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/autocar/internal/config"
	"github.com/banshee-data/autocar/internal/hw/bridge"
	"github.com/banshee-data/autocar/internal/hw/sim"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/serialmux"
	"github.com/banshee-data/autocar/internal/timeutil"
	"github.com/banshee-data/autocar/internal/wheel"
)

// simNoise is the standard deviation of simulated readings in metres.
const simNoise = 0.005

// Hardware is the set of drivers the components run on.
type Hardware struct {
	Stepper radarbase.Stepper
	Ranger  rangesensor.Ranger
	Left    wheel.SignalGenerator
	Right   wheel.SignalGenerator
	// Bridge is the serial link for the serial and emulated drivers and
	// a disabled mux otherwise.
	Bridge serialmux.SerialMuxInterface

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closers   []func() error
}

type simDevices struct {
	stepper *sim.Stepper
	ranger  *sim.Ranger
	left    *sim.Servo
	right   *sim.Servo
}

func newSimDevices(cfg *config.Config, clock timeutil.Clock) simDevices {
	stepper := sim.NewStepper(clock, 0)
	room := sim.Room{Wall: cfg.Hardware.SimWall}
	return simDevices{
		stepper: stepper,
		ranger:  sim.NewRanger(clock, room, stepper.CurrentPosition, sim.RangerOptions{Noise: simNoise}),
		left:    sim.NewServo(clock),
		right:   sim.NewServo(clock),
	}
}

// OpenHardware builds the drivers selected by cfg.Hardware.Driver. opener
// is only used by the serial driver; nil opens a real port. The returned
// Hardware must be closed after the robot has stopped.
func OpenHardware(cfg *config.Config, clock timeutil.Clock, opener serialmux.PortOpener) (*Hardware, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hardware{cancel: cancel}
	logf := monitoring.Prefixed("hardware")

	switch cfg.Hardware.Driver {
	case config.DriverSim:
		dev := newSimDevices(cfg, clock)
		h.Stepper, h.Ranger, h.Left, h.Right = dev.stepper, dev.ranger, dev.left, dev.right
		h.Bridge = serialmux.NewDisabledSerialMux()
		logf("simulated devices, wall at %.2fm", cfg.Hardware.SimWall)
		return h, nil

	case config.DriverEmulated:
		dev := newSimDevices(cfg, clock)
		tags := cfg.Hardware.Tags
		emu := bridge.NewEmulator(ctx)
		emu.AttachStepper(tags.Stepper, dev.stepper)
		emu.AttachRanger(tags.Sensor, dev.ranger)
		emu.AttachServo(tags.LeftWheel, dev.left)
		emu.AttachServo(tags.RightWheel, dev.right)
		mux := serialmux.NewSerialMux[serialmux.SerialPorter](serialmux.NewResponderPort(emu.Respond))
		logf("emulated bridge over simulated devices")
		if err := h.connect(ctx, cfg, mux); err != nil {
			h.Close()
			return nil, err
		}
		return h, nil

	case config.DriverSerial:
		mux, err := serialmux.Open(cfg.Hardware.Port, cfg.PortOptions(), opener)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open bridge on %s: %w", cfg.Hardware.Port, err)
		}
		logf("bridge on %s at %d baud", cfg.Hardware.Port, cfg.Hardware.BaudRate)
		if err := h.connect(ctx, cfg, mux); err != nil {
			h.Close()
			return nil, err
		}
		return h, nil

	default:
		cancel()
		return nil, fmt.Errorf("%w: unknown hardware driver %q", config.ErrInvalid, cfg.Hardware.Driver)
	}
}

// connect starts reading the bridge, resets it and creates one driver per
// tag. The stepper position is read back from the bridge.
func (h *Hardware) connect(ctx context.Context, cfg *config.Config, mux *serialmux.SerialMux[serialmux.SerialPorter]) error {
	h.Bridge = mux
	h.closers = append(h.closers, mux.Close)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("bridge monitor stopped: %v", err)
		}
	}()

	if err := mux.Initialize(); err != nil {
		return err
	}
	tags := cfg.Hardware.Tags
	timeout := cfg.Hardware.RequestTimeout.D()
	stepper := bridge.NewStepper(mux, tags.Stepper, timeout)
	if err := stepper.Sync(ctx); err != nil {
		return fmt.Errorf("failed to read stepper position: %w", err)
	}
	h.Stepper = stepper
	h.Ranger = bridge.NewRanger(mux, tags.Sensor, cfg.RangeSensor().EchoTimeout(), timeout)
	h.Left = bridge.NewServo(mux, tags.LeftWheel, timeout)
	h.Right = bridge.NewServo(mux, tags.RightWheel, timeout)
	return nil
}

// Close stops the bridge. It is safe to call more than once.
func (h *Hardware) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		for _, c := range h.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		h.wg.Wait()
	})
	return errors.Join(errs...)
}
