// Package bridge drives the robot's hardware through a microcontroller on a
// serial line. Every request is one text line "<tag> <verb> <args...>" and
// the microcontroller answers with one line carrying the same tag:
//
//	<tag> STEP <deg> <cw:0|1> <delay_us>  ->  <tag> POS <deg>
//	<tag> POS?                            ->  <tag> POS <deg>
//	<tag> OFF                             ->  <tag> OK
//	<tag> PING <timeout_ms>               ->  <tag> DIST <m> | <tag> ERR TIMEOUT | <tag> ERR RANGE
//	<tag> PWM <repeat> <pulse_us> <idle_us> -> <tag> OK
//
// Any request may instead be answered with "<tag> ERR <reason>".
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/autocar/internal/serialmux"
)

// Verbs of the bridge protocol.
const (
	VerbStep     = "STEP"
	VerbPosQuery = "POS?"
	VerbPos      = "POS"
	VerbOff      = "OFF"
	VerbOK       = "OK"
	VerbPing     = "PING"
	VerbDist     = "DIST"
	VerbPWM      = "PWM"
	VerbErr      = "ERR"
)

// Error reasons.
const (
	ReasonTimeout = "TIMEOUT"
	ReasonRange   = "RANGE"
	ReasonBadArgs = "ARGS"
	ReasonUnknown = "UNKNOWN"
)

var (
	// ErrDevice is returned when the bridge answers ERR.
	ErrDevice = errors.New("bridge device error")
	// ErrBadReply is returned for a reply that does not parse.
	ErrBadReply = errors.New("malformed bridge reply")
)

// Conn is the request/reply transport, satisfied by serialmux.SerialMux.
type Conn interface {
	Request(ctx context.Context, command string, match func(string) bool) (string, error)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func micros(d time.Duration) string {
	return strconv.FormatInt(d.Microseconds(), 10)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// roundTrip sends verb and args for tag and returns the parsed reply,
// turning ERR replies into ErrDevice.
func roundTrip(ctx context.Context, conn Conn, tag string, accept []string, verb string, args ...string) (serialmux.Line, error) {
	req := serialmux.Line{Tag: tag, Verb: verb, Args: args}
	raw, err := conn.Request(ctx, req.String(), serialmux.Tagged(tag, append(accept, VerbErr)...))
	if err != nil {
		return serialmux.Line{}, err
	}
	reply, err := serialmux.ParseLine(raw)
	if err != nil {
		return serialmux.Line{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	if reply.Verb == VerbErr {
		reason := ReasonUnknown
		if len(reply.Args) > 0 {
			reason = reply.Args[0]
		}
		return reply, fmt.Errorf("%s %s: %w: %s", tag, verb, ErrDevice, reason)
	}
	return reply, nil
}

func floatArg(l serialmux.Line, i int) (float64, error) {
	if i >= len(l.Args) {
		return 0, fmt.Errorf("%w: %q lacks argument %d", ErrBadReply, l.String(), i)
	}
	v, err := strconv.ParseFloat(l.Args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrBadReply, l.String(), err)
	}
	return v, nil
}
