package wheel

import (
	"fmt"

	"github.com/banshee-data/autocar/internal/command"
)

// Operation names accepted by a wheel.
const (
	OpIncreaseSpeed = "increaseSpeed"
	OpStop          = "stop"
	OpSetPulse      = "setPulse"
	OpSetRepeat     = "setRepeat"
)

// Op is one of the wheel operations below.
type Op interface{ isWheelOp() }

// IncreaseSpeed shifts the drive signal by Scale full-speed units. With Block
// set the signal may not cross the reference pulse in one call.
type IncreaseSpeed struct {
	Scale float64
	Block bool
}

// Stop resets the drive signal to the reference pulse.
type Stop struct{}

// SetPulse sets an absolute drive signal in seconds, clamped to the deviation
// bounds.
type SetPulse struct{ Pulse float64 }

// SetRepeat changes how many pulses each Run emits.
type SetRepeat struct{ N int }

// RunOnce emits one extra burst of the current signal.
type RunOnce struct{}

func (IncreaseSpeed) isWheelOp() {}
func (Stop) isWheelOp()          {}
func (SetPulse) isWheelOp()      {}
func (SetRepeat) isWheelOp()     {}
func (RunOnce) isWheelOp()       {}

// ParseOp decodes a wire command into a typed operation. increaseSpeed takes
// (scale, block) with block defaulting to true.
func ParseOp(cmd command.Command) (Op, error) {
	switch cmd.Op {
	case OpIncreaseSpeed:
		scale, err := cmd.Float(0, "scale")
		if err != nil {
			return nil, err
		}
		block, err := cmd.OptBool(1, "block", true)
		if err != nil {
			return nil, err
		}
		return IncreaseSpeed{Scale: scale, Block: block}, nil
	case OpStop:
		if err := cmd.NoArgs(); err != nil {
			return nil, err
		}
		return Stop{}, nil
	case OpSetPulse:
		p, err := cmd.Float(0, "pulse")
		if err != nil {
			return nil, err
		}
		return SetPulse{Pulse: p}, nil
	case OpSetRepeat:
		n, err := cmd.Int(0, "repeat")
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s: %w: repeat must be positive, got %d", cmd.Op, command.ErrBadArgument, n)
		}
		return SetRepeat{N: n}, nil
	case command.RunOp:
		if err := cmd.NoArgs(); err != nil {
			return nil, err
		}
		return RunOnce{}, nil
	default:
		return nil, command.Unknown("wheel", cmd)
	}
}
