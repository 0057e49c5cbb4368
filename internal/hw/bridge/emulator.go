package bridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/radarbase"
	"github.com/banshee-data/autocar/internal/rangesensor"
	"github.com/banshee-data/autocar/internal/serialmux"
	"github.com/banshee-data/autocar/internal/wheel"
)

// Emulator plays the microcontroller: it answers bridge lines by driving
// local devices. Paired with serialmux.NewResponderPort it runs the whole
// serial stack without hardware.
type Emulator struct {
	ctx context.Context

	mu       sync.Mutex
	steppers map[string]radarbase.Stepper
	rangers  map[string]rangesensor.Ranger
	servos   map[string]wheel.SignalGenerator
	lines    int

	logf func(string, ...interface{})
}

// NewEmulator returns an emulator with no devices. Device calls run under
// ctx.
func NewEmulator(ctx context.Context) *Emulator {
	return &Emulator{
		ctx:      ctx,
		steppers: make(map[string]radarbase.Stepper),
		rangers:  make(map[string]rangesensor.Ranger),
		servos:   make(map[string]wheel.SignalGenerator),
		logf:     monitoring.Prefixed("emulator"),
	}
}

// AttachStepper serves STEP, POS? and OFF for tag.
func (e *Emulator) AttachStepper(tag string, s radarbase.Stepper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.steppers[tag] = s
}

// AttachRanger serves PING for tag.
func (e *Emulator) AttachRanger(tag string, r rangesensor.Ranger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rangers[tag] = r
}

// AttachServo serves PWM for tag.
func (e *Emulator) AttachServo(tag string, g wheel.SignalGenerator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.servos[tag] = g
}

// Lines reports how many lines the emulator has handled.
func (e *Emulator) Lines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lines
}

// Respond answers one request line. Broadcast lines get no reply.
func (e *Emulator) Respond(raw string) []string {
	l, err := serialmux.ParseLine(raw)
	if err != nil {
		e.logf("dropping %q: %v", raw, err)
		return nil
	}
	e.mu.Lock()
	e.lines++
	stepper, hasStepper := e.steppers[l.Tag]
	ranger, hasRanger := e.rangers[l.Tag]
	servo, hasServo := e.servos[l.Tag]
	e.mu.Unlock()

	if l.Tag == serialmux.BroadcastTag {
		return nil
	}

	var reply serialmux.Line
	switch {
	case hasStepper && (l.Verb == VerbStep || l.Verb == VerbPosQuery || l.Verb == VerbOff):
		reply = e.stepper(l, stepper)
	case hasRanger && l.Verb == VerbPing:
		reply = e.ranger(l, ranger)
	case hasServo && l.Verb == VerbPWM:
		reply = e.servo(l, servo)
	default:
		reply = errLine(l.Tag, ReasonUnknown)
	}
	return []string{reply.String()}
}

func errLine(tag, reason string) serialmux.Line {
	return serialmux.Line{Tag: tag, Verb: VerbErr, Args: []string{reason}}
}

func posLine(tag string, s radarbase.Stepper) serialmux.Line {
	return serialmux.Line{Tag: tag, Verb: VerbPos, Args: []string{formatFloat(s.CurrentPosition())}}
}

func (e *Emulator) stepper(l serialmux.Line, s radarbase.Stepper) serialmux.Line {
	switch l.Verb {
	case VerbPosQuery:
		return posLine(l.Tag, s)
	case VerbOff:
		if r, ok := s.(radarbase.Releaser); ok {
			if err := r.Release(); err != nil {
				e.logf("%s release: %v", l.Tag, err)
				return errLine(l.Tag, ReasonUnknown)
			}
		}
		return serialmux.Line{Tag: l.Tag, Verb: VerbOK}
	}
	if len(l.Args) != 3 {
		return errLine(l.Tag, ReasonBadArgs)
	}
	deg, err1 := strconv.ParseFloat(l.Args[0], 64)
	cw, err2 := strconv.ParseBool(l.Args[1])
	us, err3 := strconv.ParseInt(l.Args[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || deg < 0 || us < 0 {
		return errLine(l.Tag, ReasonBadArgs)
	}
	if err := s.Rotate(e.ctx, deg, cw, time.Duration(us)*time.Microsecond); err != nil {
		e.logf("%s rotate: %v", l.Tag, err)
		return errLine(l.Tag, ReasonUnknown)
	}
	return posLine(l.Tag, s)
}

func (e *Emulator) ranger(l serialmux.Line, r rangesensor.Ranger) serialmux.Line {
	d, st := r.MeasureOnce(e.ctx)
	switch st {
	case rangesensor.StatusSuccess:
		return serialmux.Line{Tag: l.Tag, Verb: VerbDist, Args: []string{formatFloat(d)}}
	case rangesensor.StatusOutOfRange:
		return errLine(l.Tag, ReasonRange)
	default:
		return errLine(l.Tag, ReasonTimeout)
	}
}

func (e *Emulator) servo(l serialmux.Line, g wheel.SignalGenerator) serialmux.Line {
	if len(l.Args) != 3 {
		return errLine(l.Tag, ReasonBadArgs)
	}
	repeat, err1 := strconv.Atoi(l.Args[0])
	pulse, err2 := strconv.ParseInt(l.Args[1], 10, 64)
	idle, err3 := strconv.ParseInt(l.Args[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || repeat <= 0 || pulse < 0 || idle < 0 {
		return errLine(l.Tag, ReasonBadArgs)
	}
	if err := g.EmitSignal(e.ctx, repeat, time.Duration(pulse)*time.Microsecond, time.Duration(idle)*time.Microsecond); err != nil {
		e.logf("%s pwm: %v", l.Tag, err)
		return errLine(l.Tag, ReasonUnknown)
	}
	return serialmux.Line{Tag: l.Tag, Verb: VerbOK}
}
