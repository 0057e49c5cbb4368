package telemetry

import "github.com/banshee-data/autocar/internal/queue"

// Sink receives records from a component's Emit.
type Sink interface {
	Push(Record)
}

// Channel carries records out of one worker to one drainer. Pushes never
// block.
type Channel struct {
	q queue.Queue[Record]
}

// NewChannel returns an empty telemetry channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Push enqueues r.
func (ch *Channel) Push(r Record) {
	ch.q.Push(r)
}

// TryPop removes the oldest record, if any.
func (ch *Channel) TryPop() (Record, bool) {
	return ch.q.TryPop()
}

// Empty reports whether no record is pending.
func (ch *Channel) Empty() bool {
	return ch.q.Empty()
}

// Len returns the number of pending records.
func (ch *Channel) Len() int {
	return ch.q.Len()
}

// Drain moves every record currently queued on ch into buf and returns how
// many were moved. It never waits for more data.
func Drain(ch *Channel, buf *Buffer) int {
	n := 0
	for !ch.Empty() {
		r, ok := ch.TryPop()
		if !ok {
			break
		}
		buf.Append(r)
		n++
	}
	return n
}
