package fusion

import (
	"math"
	"sort"
)

// Bin is one entry of a distance map: the obstacle distance in metres most
// recently observed while the radar pointed at Angle degrees.
type Bin struct {
	Angle    int     `json:"angle"`
	Distance float64 `json:"distance"`
}

// DistanceMap is the fused model of the robot's surroundings. Bins are sorted
// by angle and angles are unique.
type DistanceMap struct {
	Bins []Bin `json:"bins"`
	// Rows is the number of joined rows that survived forward-fill.
	Rows int `json:"rows"`
}

// Len returns the number of observed bins.
func (m DistanceMap) Len() int { return len(m.Bins) }

// Lookup returns the distance observed at angle.
func (m DistanceMap) Lookup(angle int) (float64, bool) {
	i := sort.Search(len(m.Bins), func(i int) bool { return m.Bins[i].Angle >= angle })
	if i < len(m.Bins) && m.Bins[i].Angle == angle {
		return m.Bins[i].Distance, true
	}
	return 0, false
}

// Nearest returns the bin with the smallest distance.
func (m DistanceMap) Nearest() (Bin, bool) {
	if len(m.Bins) == 0 {
		return Bin{}, false
	}
	best := m.Bins[0]
	for _, b := range m.Bins[1:] {
		if b.Distance < best.Distance {
			best = b
		}
	}
	return best, true
}

// Within returns the bins whose angle lies in [lo, hi], in angle order.
func (m DistanceMap) Within(lo, hi int) []Bin {
	start := sort.Search(len(m.Bins), func(i int) bool { return m.Bins[i].Angle >= lo })
	end := start
	for end < len(m.Bins) && m.Bins[end].Angle <= hi {
		end++
	}
	return m.Bins[start:end]
}

// AsMap returns the bins as angle → distance.
func (m DistanceMap) AsMap() map[int]float64 {
	out := make(map[int]float64, len(m.Bins))
	for _, b := range m.Bins {
		out[b.Angle] = b.Distance
	}
	return out
}

// XY projects each bin to cartesian coordinates, x to the robot's right and
// y straight ahead, with angle measured anti-clockwise from ahead.
func (m DistanceMap) XY() (xs, ys []float64) {
	xs = make([]float64, len(m.Bins))
	ys = make([]float64, len(m.Bins))
	for i, b := range m.Bins {
		rad := float64(b.Angle) * math.Pi / 180
		xs[i] = -b.Distance * math.Sin(rad)
		ys[i] = b.Distance * math.Cos(rad)
	}
	return xs, ys
}
