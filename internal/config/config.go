// Package config loads the robot configuration from a JSON or YAML file.
//
// Fields omitted from the file keep their defaults, so partial files are
// safe. The component sections convert into the component packages' own
// Config types.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/autocar/internal/fusion"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/serialmux"
	"github.com/banshee-data/autocar/internal/wheel"
)

// maxFileSize bounds the config file.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Hardware drivers. The emulated driver runs the serial drivers against an
// in-process bridge backed by simulated devices.
const (
	DriverSim      = "sim"
	DriverSerial   = "serial"
	DriverEmulated = "emulated"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type RadarConfig struct {
	Name        string   `json:"name" yaml:"name"`
	MinDegree   float64  `json:"min_degree" yaml:"min_degree"`
	MaxDegree   float64  `json:"max_degree" yaml:"max_degree"`
	StepSize    float64  `json:"step_size" yaml:"step_size"`
	Delay       Duration `json:"delay" yaml:"delay"`
	DwellFactor float64  `json:"dwell_factor" yaml:"dwell_factor"`
}

type SensorConfig struct {
	Name        string   `json:"name" yaml:"name"`
	SettleDelay Duration `json:"settle_delay" yaml:"settle_delay"`
	MinRange    float64  `json:"min_range" yaml:"min_range"`
	MaxRange    float64  `json:"max_range" yaml:"max_range"`
}

// WheelConfig holds one servo's calibration. Pulse widths are seconds.
type WheelConfig struct {
	Name           string  `json:"name" yaml:"name"`
	Mirror         bool    `json:"mirror" yaml:"mirror"`
	ReferencePulse float64 `json:"reference_pulse" yaml:"reference_pulse"`
	MaxDeviation   float64 `json:"max_deviation" yaml:"max_deviation"`
	IdleWidth      float64 `json:"idle_width" yaml:"idle_width"`
	Repeat         int     `json:"repeat" yaml:"repeat"`
}

type WheelsConfig struct {
	Left  WheelConfig `json:"left" yaml:"left"`
	Right WheelConfig `json:"right" yaml:"right"`
}

type FusionConfig struct {
	TimeScale  float64  `json:"time_scale" yaml:"time_scale"`
	Interval   Duration `json:"interval" yaml:"interval"`
	BufferSize int      `json:"buffer_size" yaml:"buffer_size"`
	DropFailed bool     `json:"drop_failed" yaml:"drop_failed"`
}

// DriveConfig holds the teleop defaults for the drive coordinator.
type DriveConfig struct {
	SpeedStep  float64 `json:"speed_step" yaml:"speed_step"`
	TurnScale  float64 `json:"turn_scale" yaml:"turn_scale"`
	TurnWeight float64 `json:"turn_weight" yaml:"turn_weight"`
}

// BridgeTags are the line-protocol tags of each driver on the serial bridge.
type BridgeTags struct {
	Stepper    string `json:"stepper" yaml:"stepper"`
	Sensor     string `json:"sensor" yaml:"sensor"`
	LeftWheel  string `json:"left_wheel" yaml:"left_wheel"`
	RightWheel string `json:"right_wheel" yaml:"right_wheel"`
}

type HardwareConfig struct {
	// Driver is "sim", "serial" or "emulated".
	Driver         string     `json:"driver" yaml:"driver"`
	Port           string     `json:"port" yaml:"port"`
	BaudRate       int        `json:"baud_rate" yaml:"baud_rate"`
	RequestTimeout Duration   `json:"request_timeout" yaml:"request_timeout"`
	Tags           BridgeTags `json:"tags" yaml:"tags"`
	// SimWall is the distance in metres to the simulated room's front wall.
	SimWall float64 `json:"sim_wall" yaml:"sim_wall"`
}

type MonitorConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type LogConfig struct {
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Config is the root robot configuration.
type Config struct {
	Radar    RadarConfig    `json:"radar" yaml:"radar"`
	Sensor   SensorConfig   `json:"sensor" yaml:"sensor"`
	Wheels   WheelsConfig   `json:"wheels" yaml:"wheels"`
	Fusion   FusionConfig   `json:"fusion" yaml:"fusion"`
	Drive    DriveConfig    `json:"drive" yaml:"drive"`
	Hardware HardwareConfig `json:"hardware" yaml:"hardware"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

func wheelDefaults(name string, mirror bool) WheelConfig {
	w := wheel.DefaultConfig(name, mirror)
	return WheelConfig{
		Name:           w.Name,
		Mirror:         w.Mirror,
		ReferencePulse: w.ReferencePulse,
		MaxDeviation:   w.MaxDeviation,
		IdleWidth:      w.IdleWidth,
		Repeat:         w.Repeat,
	}
}

// Default returns the configuration of the stock robot running on simulated
// hardware.
func Default() *Config {
	r := radarbase.DefaultConfig()
	s := rangesensor.DefaultConfig()
	return &Config{
		Radar: RadarConfig{
			Name:        r.Name,
			MinDegree:   r.MinDegree,
			MaxDegree:   r.MaxDegree,
			StepSize:    r.StepSize,
			Delay:       Duration(r.Delay),
			DwellFactor: r.DwellFactor,
		},
		Sensor: SensorConfig{
			Name:        s.Name,
			SettleDelay: Duration(s.SettleDelay),
			MinRange:    s.MinRange,
			MaxRange:    s.MaxRange,
		},
		Wheels: WheelsConfig{
			Left:  wheelDefaults("left_wheel", false),
			Right: wheelDefaults("right_wheel", true),
		},
		Fusion: FusionConfig{
			TimeScale:  fusion.DefaultTimeScale,
			Interval:   Duration(200 * time.Millisecond),
			BufferSize: fusion.DefaultBufferSize,
		},
		Drive: DriveConfig{
			SpeedStep:  0.1,
			TurnScale:  0.5,
			TurnWeight: 0.2,
		},
		Hardware: HardwareConfig{
			Driver:         DriverSim,
			Port:           "/dev/ttyACM0",
			BaudRate:       115200,
			RequestTimeout: Duration(500 * time.Millisecond),
			Tags: BridgeTags{
				Stepper:    "S",
				Sensor:     "U",
				LeftWheel:  "L",
				RightWheel: "R",
			},
			SimWall: 1.5,
		},
		Monitor: MonitorConfig{Listen: ":8090"},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// Load reads path over the defaults. The extension selects the format:
// .json, .yaml or .yml.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	monitoring.Logf("config: loaded %s", cleanPath)
	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []func() error{
		func() error { return c.RadarBase().Validate() },
		func() error { return c.RangeSensor().Validate() },
		func() error { return c.LeftWheel().Validate() },
		func() error { return c.RightWheel().Validate() },
		func() error { return c.FusionOptions().Validate() },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if c.Fusion.Interval <= 0 {
		return fmt.Errorf("%w: fusion.interval must be positive, got %s", ErrInvalid, c.Fusion.Interval)
	}
	if c.Fusion.BufferSize <= 0 {
		return fmt.Errorf("%w: fusion.buffer_size must be positive, got %d", ErrInvalid, c.Fusion.BufferSize)
	}
	if c.Drive.TurnWeight < 0 || c.Drive.TurnWeight > 1 {
		return fmt.Errorf("%w: drive.turn_weight must be between 0 and 1, got %v", ErrInvalid, c.Drive.TurnWeight)
	}
	switch c.Hardware.Driver {
	case DriverSim, DriverEmulated:
		if c.Hardware.SimWall <= 0 {
			return fmt.Errorf("%w: hardware.sim_wall must be positive, got %v", ErrInvalid, c.Hardware.SimWall)
		}
	case DriverSerial:
		if c.Hardware.Port == "" {
			return fmt.Errorf("%w: hardware.port is required for the serial driver", ErrInvalid)
		}
		if c.Hardware.BaudRate <= 0 {
			return fmt.Errorf("%w: hardware.baud_rate must be positive, got %d", ErrInvalid, c.Hardware.BaudRate)
		}
	default:
		return fmt.Errorf("%w: hardware.driver must be %q, %q or %q, got %q", ErrInvalid,
			DriverSim, DriverSerial, DriverEmulated, c.Hardware.Driver)
	}
	if c.Hardware.Driver != DriverSim {
		if c.Hardware.RequestTimeout <= 0 {
			return fmt.Errorf("%w: hardware.request_timeout must be positive, got %s", ErrInvalid, c.Hardware.RequestTimeout)
		}
		t := c.Hardware.Tags
		seen := map[string]bool{}
		for _, tag := range []string{t.Stepper, t.Sensor, t.LeftWheel, t.RightWheel} {
			if tag == "" || tag == serialmux.BroadcastTag || seen[tag] {
				return fmt.Errorf("%w: hardware.tags must be non-empty and distinct", ErrInvalid)
			}
			seen[tag] = true
		}
	}
	return nil
}

// RadarBase converts the radar section.
func (c *Config) RadarBase() radarbase.Config {
	return radarbase.Config{
		Name:        c.Radar.Name,
		MinDegree:   c.Radar.MinDegree,
		MaxDegree:   c.Radar.MaxDegree,
		StepSize:    c.Radar.StepSize,
		Delay:       c.Radar.Delay.D(),
		DwellFactor: c.Radar.DwellFactor,
	}
}

// RangeSensor converts the sensor section.
func (c *Config) RangeSensor() rangesensor.Config {
	return rangesensor.Config{
		Name:        c.Sensor.Name,
		SettleDelay: c.Sensor.SettleDelay.D(),
		MinRange:    c.Sensor.MinRange,
		MaxRange:    c.Sensor.MaxRange,
	}
}

func (w WheelConfig) convert() wheel.Config {
	return wheel.Config{
		Name:           w.Name,
		Mirror:         w.Mirror,
		ReferencePulse: w.ReferencePulse,
		MaxDeviation:   w.MaxDeviation,
		IdleWidth:      w.IdleWidth,
		Repeat:         w.Repeat,
	}
}

// LeftWheel converts the left wheel section.
func (c *Config) LeftWheel() wheel.Config { return c.Wheels.Left.convert() }

// RightWheel converts the right wheel section.
func (c *Config) RightWheel() wheel.Config { return c.Wheels.Right.convert() }

// FusionOptions converts the fusion section.
func (c *Config) FusionOptions() fusion.Options {
	return fusion.Options{TimeScale: c.Fusion.TimeScale, DropFailed: c.Fusion.DropFailed}
}

// PortOptions converts the serial settings of the hardware section.
func (c *Config) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.Hardware.BaudRate}
}

// RotationOptions converts the log section.
func (c *Config) RotationOptions() monitoring.RotationOptions {
	return monitoring.RotationOptions{
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// JSON renders the configuration as indented JSON.
func (c *Config) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
