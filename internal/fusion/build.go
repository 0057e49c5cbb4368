// Package fusion joins the radar-base angle stream with the range-sensor
// distance stream into a distance map indexed by integer scan angle.
//
// The two workers sample at unrelated rates, so both streams are quantized
// onto a shared time grid, outer-joined on the grid slot and forward-filled.
// Each angle bin then keeps the distance of its most recent slot.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/telemetry"
)

// DefaultTimeScale quantizes timestamps to 0.1 ms slots.
const DefaultTimeScale = 1e4

// ErrBadTimeScale is returned for a non-positive or non-finite time scale.
var ErrBadTimeScale = errors.New("fusion: time scale must be positive and finite")

// Options tunes the fusion.
type Options struct {
	// TimeScale multiplies timestamps (seconds) before flooring them into
	// buckets. Larger values align the streams more strictly.
	TimeScale float64
	// DropFailed stops a failed sensor reading from inheriting the previous
	// distance: the carried value is cleared at that bucket.
	DropFailed bool
}

// DefaultOptions returns the standard fusion options.
func DefaultOptions() Options {
	return Options{TimeScale: DefaultTimeScale}
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.TimeScale <= 0 || math.IsInf(o.TimeScale, 0) || math.IsNaN(o.TimeScale) {
		return fmt.Errorf("%w: %v", ErrBadTimeScale, o.TimeScale)
	}
	return nil
}

type optFloat struct {
	v  float64
	ok bool
}

// slot is one stream's contribution to one bucket.
type slot struct {
	bucket   int64
	position optFloat
	distance optFloat
	status   string
	dists    []float64
}

type row struct {
	bucket   int64
	position optFloat
	distance optFloat
	status   string
}

func bucketOf(ts, scale float64) int64 {
	return int64(math.Floor(ts * scale))
}

// collapse quantizes one stream into slots ordered by bucket. Records that
// land in the same bucket are merged: position and status keep the last
// value, distance is the mean of the present values.
func collapse(records []telemetry.Record, scale float64, fill func(*slot, telemetry.Record)) []slot {
	if len(records) == 0 {
		return nil
	}
	sorted := true
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp < records[i-1].Timestamp {
			sorted = false
			break
		}
	}
	if !sorted {
		records = append([]telemetry.Record(nil), records...)
		sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	}

	var out []slot
	for _, r := range records {
		b := bucketOf(r.Timestamp, scale)
		if n := len(out); n == 0 || out[n-1].bucket != b {
			out = append(out, slot{bucket: b})
		}
		fill(&out[len(out)-1], r)
	}
	for i := range out {
		if len(out[i].dists) > 0 {
			out[i].distance = optFloat{stat.Mean(out[i].dists, nil), true}
		}
	}
	return out
}

func fillRadar(s *slot, r telemetry.Record) {
	if p, ok := radarbase.Schema.Float(r, "position"); ok {
		s.position = optFloat{p, true}
	}
}

func fillSensor(s *slot, r telemetry.Record) {
	if st, ok := rangesensor.Schema.Text(r, "status"); ok {
		s.status = st
	}
	if d, ok := rangesensor.Schema.Float(r, "distance"); ok {
		s.dists = append(s.dists, d)
	}
}

// join merges the two bucket-ordered slot sequences into one row per
// distinct bucket.
func join(radar, sensor []slot) []row {
	rows := make([]row, 0, len(radar)+len(sensor))
	i, j := 0, 0
	for i < len(radar) || j < len(sensor) {
		switch {
		case j >= len(sensor) || i < len(radar) && radar[i].bucket < sensor[j].bucket:
			rows = append(rows, row{bucket: radar[i].bucket, position: radar[i].position})
			i++
		case i >= len(radar) || sensor[j].bucket < radar[i].bucket:
			s := sensor[j]
			rows = append(rows, row{bucket: s.bucket, distance: s.distance, status: s.status})
			j++
		default:
			s := sensor[j]
			rows = append(rows, row{bucket: s.bucket, position: radar[i].position, distance: s.distance, status: s.status})
			i++
			j++
		}
	}
	return rows
}

// forwardFill carries the last present position, distance and status into
// later rows that lack them, in place.
func forwardFill(rows []row, dropFailed bool) {
	var pos, dist optFloat
	var status string
	for i := range rows {
		r := &rows[i]
		if r.status != "" {
			status = r.status
			if dropFailed && r.status != string(rangesensor.StatusSuccess) && !r.distance.ok {
				dist = optFloat{}
			}
		} else {
			r.status = status
		}
		if r.position.ok {
			pos = r.position
		} else {
			r.position = pos
		}
		if r.distance.ok {
			dist = r.distance
		} else {
			r.distance = dist
		}
	}
}

type binAcc struct {
	bucket int64
	dists  []float64
}

// Build fuses snapshots of the radar-base and range-sensor buffers into a
// distance map. It has no side effects, so identical inputs give identical
// maps. Empty inputs give an empty map.
func Build(radar, sensor []telemetry.Record, opts Options) (DistanceMap, error) {
	if err := opts.Validate(); err != nil {
		return DistanceMap{}, err
	}
	rows := join(
		collapse(radar, opts.TimeScale, fillRadar),
		collapse(sensor, opts.TimeScale, fillSensor),
	)
	forwardFill(rows, opts.DropFailed)

	bins := make(map[int]*binAcc)
	kept := 0
	for _, r := range rows {
		if !r.position.ok || !r.distance.ok {
			continue
		}
		kept++
		angle := int(math.Floor(r.position.v))
		acc, ok := bins[angle]
		switch {
		case !ok:
			bins[angle] = &binAcc{bucket: r.bucket, dists: []float64{r.distance.v}}
		case r.bucket > acc.bucket:
			acc.bucket = r.bucket
			acc.dists = append(acc.dists[:0], r.distance.v)
		case r.bucket == acc.bucket:
			acc.dists = append(acc.dists, r.distance.v)
		}
	}

	m := DistanceMap{Bins: make([]Bin, 0, len(bins)), Rows: kept}
	for angle, acc := range bins {
		m.Bins = append(m.Bins, Bin{Angle: angle, Distance: stat.Mean(acc.dists, nil)})
	}
	sort.Slice(m.Bins, func(i, j int) bool { return m.Bins[i].Angle < m.Bins[j].Angle })
	return m, nil
}
