package rangesensor

import (
	"fmt"
	"time"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/timeutil"
)

// Operation names accepted by the range sensor.
const (
	OpSetSettleDelay = "setSettleDelay"
	OpSetRangeWindow = "setRangeWindow"
)

// Op is one of the range sensor operations below.
type Op interface{ isRangeOp() }

// SetSettleDelay replaces the pause after each reading.
type SetSettleDelay struct{ Delay time.Duration }

// SetRangeWindow replaces the accepted distance window in metres.
type SetRangeWindow struct{ Min, Max float64 }

// RunOnce takes one extra reading.
type RunOnce struct{}

func (SetSettleDelay) isRangeOp() {}
func (SetRangeWindow) isRangeOp() {}
func (RunOnce) isRangeOp()        {}

// ParseOp decodes a wire command into a typed operation.
func ParseOp(cmd command.Command) (Op, error) {
	switch cmd.Op {
	case OpSetSettleDelay:
		secs, err := cmd.Float(0, "delay")
		if err != nil {
			return nil, err
		}
		if secs < 0 {
			return nil, fmt.Errorf("%s: %w: delay must not be negative", cmd.Op, command.ErrBadArgument)
		}
		return SetSettleDelay{Delay: timeutil.Duration(secs)}, nil
	case OpSetRangeWindow:
		lo, err := cmd.Float(0, "min")
		if err != nil {
			return nil, err
		}
		hi, err := cmd.Float(1, "max")
		if err != nil {
			return nil, err
		}
		if lo < 0 || lo >= hi {
			return nil, fmt.Errorf("%s: %w: invalid window [%v, %v]", cmd.Op, command.ErrBadArgument, lo, hi)
		}
		return SetRangeWindow{Min: lo, Max: hi}, nil
	case command.RunOp:
		if err := cmd.NoArgs(); err != nil {
			return nil, err
		}
		return RunOnce{}, nil
	default:
		return nil, command.Unknown("range sensor", cmd)
	}
}
