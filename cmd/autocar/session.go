package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/autocar/internal/config"
	"github.com/banshee-data/autocar/internal/monitor"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/robot"
	"github.com/banshee-data/autocar/internal/serialmux"
)

// session is one run of the robot together with its monitor and config
// watcher.
type session struct {
	cfg        *config.Config
	configPath string
	hw         *robot.Hardware
	robot      *robot.Robot
	registry   *prometheus.Registry
	handler    http.Handler
}

// openSession opens the hardware of cfg and assembles the robot on it.
// opener replaces the serial port opener in tests.
func openSession(cfg *config.Config, configPath string, opts robot.Options, opener serialmux.PortOpener) (*session, error) {
	hw, err := robot.OpenHardware(cfg, opts.Clock, opener)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts.Registerer = reg

	r, err := robot.New(cfg, hw, opts)
	if err != nil {
		hw.Close()
		return nil, err
	}
	return &session{
		cfg:        cfg,
		configPath: configPath,
		hw:         hw,
		robot:      r,
		registry:   reg,
		handler:    monitor.LoggingMiddleware(monitor.NewServer(r, hw.Bridge, reg).ServeMux()),
	}, nil
}

// run blocks until ctx is done, the robot stops or front returns. front is
// an optional foreground task such as the teleop screen; its return stops
// the session. The hardware is closed once the robot has parked.
func (s *session) run(ctx context.Context, front func(ctx context.Context) error) error {
	defer s.hw.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.robot.Run(gctx)
	})
	if s.cfg.Monitor.Listen != "" {
		g.Go(func() error {
			return monitor.Serve(gctx, s.cfg.Monitor.Listen, s.handler)
		})
	}
	if s.configPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, s.configPath, s.reconfigure)
		})
	}
	if front != nil {
		g.Go(func() error {
			defer cancel()
			return front(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (s *session) reconfigure(next *config.Config) {
	if err := s.robot.Reconfigure(next); err != nil {
		monitoring.Logf("config: reconfigure failed: %v", err)
		return
	}
	monitoring.Logf("config: applied %s", s.configPath)
}
