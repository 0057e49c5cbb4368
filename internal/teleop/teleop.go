// Package teleop is a terminal UI for driving the robot by keyboard while
// watching the distance map.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/banshee-data/autocar/internal/drive"
	"github.com/banshee-data/autocar/internal/fusion"
)

// Obstacle thresholds in metres.
const (
	dangerDistance  = 0.3
	warningDistance = 0.6
)

// sectorWidth is the angle covered by one row of the proximity strip.
const sectorWidth = 10

// Driver is the part of the drive coordinator teleop uses.
type Driver interface {
	IncreaseSpeed(scale float64)
	Stop()
	Turn(dir drive.Direction, scale, weight float64) error
	Straight() error
	State() (left, right drive.WheelState, ok bool)
}

// MapSource provides the latest distance map.
type MapSource interface {
	DistanceMap() fusion.DistanceMap
}

// Settings tune the key bindings.
type Settings struct {
	SpeedStep  float64
	TurnScale  float64
	TurnWeight float64
	// Refresh is the screen refresh interval.
	Refresh time.Duration
}

type tickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dangerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	clearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

// Model is the bubbletea model of the teleop screen.
type Model struct {
	drv      Driver
	maps     MapSource
	settings Settings

	m           fusion.DistanceMap
	left, right drive.WheelState
	known       bool
	action      string
	err         error
	quitting    bool
}

// New returns the teleop model. Zero settings get the stock defaults.
func New(drv Driver, maps MapSource, s Settings) Model {
	if s.SpeedStep == 0 {
		s.SpeedStep = 0.1
	}
	if s.TurnScale == 0 {
		s.TurnScale = 0.5
	}
	if s.Refresh <= 0 {
		s.Refresh = 200 * time.Millisecond
	}
	m := Model{drv: drv, maps: maps, settings: s, action: "ready"}
	m.refresh()
	return m
}

func (m *Model) refresh() {
	m.m = m.maps.DistanceMap()
	m.left, m.right, m.known = m.drv.State()
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd(m.settings.Refresh)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		m.refresh()
		return m, tickCmd(m.settings.Refresh)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := m.settings
	m.err = nil
	switch msg.String() {
	case "up":
		m.drv.IncreaseSpeed(s.SpeedStep)
		m.action = fmt.Sprintf("faster %+.2f", s.SpeedStep)
	case "down":
		m.drv.IncreaseSpeed(-s.SpeedStep)
		m.action = fmt.Sprintf("slower %+.2f", -s.SpeedStep)
	case "left":
		m.err = m.drv.Turn(drive.Left, s.TurnScale, s.TurnWeight)
		m.action = "turn left"
	case "right":
		m.err = m.drv.Turn(drive.Right, s.TurnScale, s.TurnWeight)
		m.action = "turn right"
	case "s":
		m.err = m.drv.Straight()
		m.action = "straight"
	case " ":
		m.drv.Stop()
		m.action = "stop"
	case "q", "ctrl+c", "esc":
		m.drv.Stop()
		m.action = "quit"
		m.quitting = true
		return m, tea.Quit
	default:
		return m, nil
	}
	return m, nil
}

func distanceStyle(d float64) lipgloss.Style {
	switch {
	case d < dangerDistance:
		return dangerStyle
	case d < warningDistance:
		return warningStyle
	default:
		return clearStyle
	}
}

// Nearest describes the closest obstacle of m.
func Nearest(m fusion.DistanceMap) string {
	b, ok := m.Nearest()
	if !ok {
		return "no obstacles seen yet"
	}
	return fmt.Sprintf("%.2fm at %+d°", b.Distance, b.Angle)
}

// sectors returns the nearest distance per sectorWidth-degree sector, highest
// angle first. Sectors without a bin report -1.
func sectors(m fusion.DistanceMap) (starts []int, nearest []float64) {
	if m.Len() == 0 {
		return nil, nil
	}
	floor := func(a int) int {
		if a < 0 {
			return -((-a + sectorWidth - 1) / sectorWidth) * sectorWidth
		}
		return a / sectorWidth * sectorWidth
	}
	hi := floor(m.Bins[len(m.Bins)-1].Angle)
	lo := floor(m.Bins[0].Angle)
	for start := hi; start >= lo; start -= sectorWidth {
		bins := m.Within(start, start+sectorWidth-1)
		d := -1.0
		for _, b := range bins {
			if d < 0 || b.Distance < d {
				d = b.Distance
			}
		}
		starts = append(starts, start)
		nearest = append(nearest, d)
	}
	return starts, nearest
}

func bar(d, full float64, width int) string {
	n := int(d / full * float64(width))
	if n > width {
		n = width
	}
	if n < 1 {
		n = 1
	}
	return strings.Repeat("█", n)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return "stopped\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("autocar teleop"))
	b.WriteString("\n\n")

	if m.known {
		fmt.Fprintf(&b, "%s %+.5f  %s %+.5f\n",
			labelStyle.Render("left"), m.left.Speed(),
			labelStyle.Render("right"), m.right.Speed())
	} else {
		b.WriteString(labelStyle.Render("waiting for wheel telemetry") + "\n")
	}

	nearest := Nearest(m.m)
	if nb, ok := m.m.Nearest(); ok {
		nearest = distanceStyle(nb.Distance).Render(nearest)
	}
	fmt.Fprintf(&b, "%s %s\n\n", labelStyle.Render("nearest"), nearest)

	starts, dists := sectors(m.m)
	full := 0.0
	for _, d := range dists {
		if d > full {
			full = d
		}
	}
	for i, start := range starts {
		label := labelStyle.Render(fmt.Sprintf("%+4d°", start))
		if dists[i] < 0 {
			fmt.Fprintf(&b, "%s\n", label)
			continue
		}
		fmt.Fprintf(&b, "%s %s %.2fm\n", label, distanceStyle(dists[i]).Render(bar(dists[i], full, 30)), dists[i])
	}

	fmt.Fprintf(&b, "\n%s %s\n", labelStyle.Render("last"), m.action)
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ speed  ←/→ turn  s straight  space stop  q quit"))
	b.WriteString("\n")
	return b.String()
}

// Run shows the teleop screen until the user quits or ctx is done. The
// wheels are stopped on the way out.
func Run(ctx context.Context, drv Driver, maps MapSource, s Settings, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(New(drv, maps, s), opts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		drv.Stop()
		return nil
	}
	return err
}
