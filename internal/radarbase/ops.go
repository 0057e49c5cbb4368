package radarbase

import (
	"fmt"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// Operation names accepted by the radar base.
const (
	OpSetAngleRange = "setAngleRange"
	OpSetStepSize   = "setStepSize"
	OpSetDelay      = "setDelay"
	OpSetDwell      = "setDwell"
)

// Op is one of the radar base operations below.
type Op interface{ isRadarOp() }

// SetAngleRange replaces the sweep limits.
type SetAngleRange struct{ Min, Max float64 }

// SetStepSize replaces the number of degrees moved per Run.
type SetStepSize struct{ Step float64 }

// SetDelay replaces the stepper's per-phase delay, which sets the sweep speed.
type SetDelay struct{ Delay time.Duration }

// SetDwell replaces the pause at either limit, expressed as a multiple of the
// delay.
type SetDwell struct{ Factor float64 }

// RunOnce advances the sweep by one extra step.
type RunOnce struct{}

func (SetAngleRange) isRadarOp() {}
func (SetStepSize) isRadarOp()   {}
func (SetDelay) isRadarOp()      {}
func (SetDwell) isRadarOp()      {}
func (RunOnce) isRadarOp()       {}

// ParseOp decodes a wire command into a typed operation.
func ParseOp(cmd command.Command) (Op, error) {
	switch cmd.Op {
	case OpSetAngleRange:
		lo, err := cmd.Float(0, "min")
		if err != nil {
			return nil, err
		}
		hi, err := cmd.Float(1, "max")
		if err != nil {
			return nil, err
		}
		if lo >= hi {
			return nil, fmt.Errorf("%s: %w: min %.2f must be below max %.2f", cmd.Op, command.ErrBadArgument, lo, hi)
		}
		return SetAngleRange{Min: lo, Max: hi}, nil
	case OpSetStepSize:
		step, err := cmd.Float(0, "step")
		if err != nil {
			return nil, err
		}
		if step <= 0 {
			return nil, fmt.Errorf("%s: %w: step must be positive, got %v", cmd.Op, command.ErrBadArgument, step)
		}
		return SetStepSize{Step: step}, nil
	case OpSetDelay:
		secs, err := cmd.Float(0, "delay")
		if err != nil {
			return nil, err
		}
		if secs <= 0 {
			return nil, fmt.Errorf("%s: %w: delay must be positive, got %v", cmd.Op, command.ErrBadArgument, secs)
		}
		return SetDelay{Delay: timeutil.Duration(secs)}, nil
	case OpSetDwell:
		f, err := cmd.Float(0, "factor")
		if err != nil {
			return nil, err
		}
		if f < 0 {
			return nil, fmt.Errorf("%s: %w: factor must not be negative, got %v", cmd.Op, command.ErrBadArgument, f)
		}
		return SetDwell{Factor: f}, nil
	case command.RunOp:
		if err := cmd.NoArgs(); err != nil {
			return nil, err
		}
		return RunOnce{}, nil
	default:
		return nil, command.Unknown("radar base", cmd)
	}
}
