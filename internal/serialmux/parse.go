package serialmux

import (
	"fmt"
	"strings"
)

// BroadcastTag addresses every driver on the bridge.
const BroadcastTag = "*"

// Line is one tagged line of the bridge protocol: "<tag> <verb> <args...>".
type Line struct {
	Tag  string
	Verb string
	Args []string
}

func (l Line) String() string {
	return strings.Join(append([]string{l.Tag, l.Verb}, l.Args...), " ")
}

// ParseLine splits a bridge line into its tag, verb and arguments.
func ParseLine(raw string) (Line, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return Line{}, fmt.Errorf("malformed bridge line %q", raw)
	}
	return Line{Tag: fields[0], Verb: fields[1], Args: fields[2:]}, nil
}

// Tagged returns a Request matcher accepting well-formed lines for tag
// whose verb is one of verbs.
func Tagged(tag string, verbs ...string) func(string) bool {
	return func(raw string) bool {
		l, err := ParseLine(raw)
		if err != nil || l.Tag != tag {
			return false
		}
		for _, v := range verbs {
			if l.Verb == v {
				return true
			}
		}
		return false
	}
}
