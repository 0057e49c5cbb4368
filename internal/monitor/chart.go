package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"tailscale.com/tsweb"

	"github.com/banshee-data/autocar/internal/fusion"
)

// AttachAdminRoutes registers the distance-map debug pages on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("distance-map", "distance map (polar to XY scatter)", s.handleDistanceMapChart)
	debug.HandleSilentFunc("distance-map.png", s.handleDistanceMapPNG)
}

// extent returns a symmetric axis limit that fits every point with a small
// margin.
func extent(xs, ys []float64) float64 {
	maxAbs := 0.0
	for i := range xs {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(xs[i]), math.Abs(ys[i])))
	}
	if maxAbs == 0 {
		return 1
	}
	return maxAbs * 1.05
}

// RenderChart writes an HTML scatter of m with the robot at the origin,
// x to its right and y straight ahead.
func RenderChart(w io.Writer, m fusion.DistanceMap) error {
	xs, ys := m.XY()
	data := make([]opts.ScatterData, 0, len(xs))
	maxDist := 0.0
	for i, b := range m.Bins {
		data = append(data, opts.ScatterData{
			Name:  fmt.Sprintf("%d°", b.Angle),
			Value: []interface{}{xs[i], ys[i], b.Distance},
		})
		maxDist = math.Max(maxDist, b.Distance)
	}
	if maxDist == 0 {
		maxDist = 1
	}
	pad := extent(xs, ys)

	subtitle := fmt.Sprintf("bins=%d rows=%d", m.Len(), m.Rows)
	if b, ok := m.Nearest(); ok {
		subtitle += fmt.Sprintf(" nearest=%.2fm at %d°", b.Distance, b.Angle)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Distance map (Polar->XY)", Theme: "dark", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Distance map", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDist),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#d73027", "#fc8d59", "#fee08b", "#d9ef8b", "#91cf60", "#1a9850"}},
		}),
	)
	scatter.AddSeries("obstacles", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("robot", []opts.ScatterData{{Name: "robot", Value: []interface{}{0.0, 0.0, 0.0}, Symbol: "triangle", SymbolSize: 14}})
	return scatter.Render(w)
}

func (s *Server) handleDistanceMapChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := RenderChart(&buf, s.robot.DistanceMap()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// NewPlot draws m as a gonum plot: obstacles as points, the robot as a
// triangle at the origin.
func NewPlot(m fusion.DistanceMap, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	xs, ys := m.XY()
	pad := extent(xs, ys)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = 0, pad

	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	if len(pts) > 0 {
		obstacles, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to plot obstacles: %w", err)
		}
		obstacles.GlyphStyle.Color = color.RGBA{R: 215, G: 48, B: 39, A: 255}
		obstacles.GlyphStyle.Radius = vg.Points(2.5)
		obstacles.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(obstacles)
		p.Legend.Add("obstacles", obstacles)
	}

	robot, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return nil, fmt.Errorf("failed to plot robot: %w", err)
	}
	robot.GlyphStyle.Color = color.RGBA{R: 26, G: 152, B: 80, A: 255}
	robot.GlyphStyle.Radius = vg.Points(5)
	robot.GlyphStyle.Shape = draw.TriangleGlyph{}
	p.Add(robot)
	p.Legend.Add("robot", robot)
	return p, nil
}

// WritePlot renders m as a square PNG of size to w.
func WritePlot(w io.Writer, m fusion.DistanceMap, title string, size vg.Length) error {
	p, err := NewPlot(m, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes m as a PNG file at path.
func SavePlot(path string, m fusion.DistanceMap, title string) error {
	p, err := NewPlot(m, title)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

func (s *Server) handleDistanceMapPNG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := WritePlot(&buf, s.robot.DistanceMap(), "Distance map", 6*vg.Inch); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
