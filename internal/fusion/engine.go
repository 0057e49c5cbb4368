package fusion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/telemetry"
)

// DefaultBufferSize is the number of records kept per stream.
const DefaultBufferSize = 500

// Metrics are the fusion gauges exported on /metrics.
type Metrics struct {
	Bins     prometheus.Gauge
	Rows     prometheus.Gauge
	Fusions  prometheus.Counter
	Duration prometheus.Histogram
}

// NewMetrics creates the fusion metrics and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Bins: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autocar",
			Subsystem: "fusion",
			Name:      "bins",
			Help:      "Angle bins in the latest distance map",
		}),
		Rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autocar",
			Subsystem: "fusion",
			Name:      "rows",
			Help:      "Joined rows that survived forward-fill in the latest fusion",
		}),
		Fusions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autocar",
			Subsystem: "fusion",
			Name:      "runs_total",
			Help:      "Distance maps built",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "autocar",
			Subsystem: "fusion",
			Name:      "duration_seconds",
			Help:      "Time spent building one distance map",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Bins, m.Rows, m.Fusions, m.Duration)
	}
	return m
}

// Engine owns the two telemetry buffers feeding the distance map. Drain and
// Fuse are meant to be called from one control goroutine; Latest is safe
// from any goroutine.
type Engine struct {
	radarCh  *telemetry.Channel
	sensorCh *telemetry.Channel
	radar    *telemetry.Buffer
	sensor   *telemetry.Buffer
	metrics  *Metrics

	mu     sync.RWMutex
	opts   Options
	latest DistanceMap
}

// NewEngine returns an engine reading from the radar-base and range-sensor
// telemetry channels. A capacity <= 0 uses DefaultBufferSize.
func NewEngine(radarCh, sensorCh *telemetry.Channel, capacity int, opts Options, m *Metrics) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Engine{
		radarCh:  radarCh,
		sensorCh: sensorCh,
		radar:    telemetry.NewBuffer("radar_base", radarbase.Schema, capacity),
		sensor:   telemetry.NewBuffer("radar_distance_sensor", rangesensor.Schema, capacity),
		opts:     opts,
		metrics:  m,
	}, nil
}

// RadarBuffer returns the radar-base history.
func (e *Engine) RadarBuffer() *telemetry.Buffer { return e.radar }

// SensorBuffer returns the range-sensor history.
func (e *Engine) SensorBuffer() *telemetry.Buffer { return e.sensor }

// Drain moves every pending record from both channels into the buffers and
// returns how many were moved from each.
func (e *Engine) Drain() (radar, sensor int) {
	return telemetry.Drain(e.radarCh, e.radar), telemetry.Drain(e.sensorCh, e.sensor)
}

// Fuse rebuilds the distance map from the current buffer contents and
// publishes it as Latest.
func (e *Engine) Fuse() DistanceMap {
	start := time.Now()
	e.mu.RLock()
	opts := e.opts
	e.mu.RUnlock()
	// Options are validated before they are stored.
	m, _ := Build(e.radar.Snapshot(), e.sensor.Snapshot(), opts)

	e.mu.Lock()
	e.latest = m
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.Bins.Set(float64(m.Len()))
		e.metrics.Rows.Set(float64(m.Rows))
		e.metrics.Fusions.Inc()
		e.metrics.Duration.Observe(time.Since(start).Seconds())
	}
	return m
}

// Update drains both channels and fuses.
func (e *Engine) Update() DistanceMap {
	e.Drain()
	return e.Fuse()
}

// Options returns the options used by the next Fuse.
func (e *Engine) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// SetOptions replaces the fusion options from the next Fuse on.
func (e *Engine) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
	return nil
}

// Latest returns the most recently fused map.
func (e *Engine) Latest() DistanceMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}
