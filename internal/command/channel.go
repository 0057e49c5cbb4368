package command

import "github.com/banshee-data/autocar/internal/queue"

// Channel is the unbounded queue of commands consumed by exactly one worker.
// Any number of goroutines may send.
type Channel struct {
	q queue.Queue[Command]
}

// NewChannel returns an empty command channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Push enqueues an already canonical command.
func (ch *Channel) Push(c Command) {
	ch.q.Push(c)
}

// Send normalizes raw (see Normalize) and enqueues it. Malformed values are
// rejected here and never reach the worker.
func (ch *Channel) Send(raw any) error {
	c, err := Normalize(raw)
	if err != nil {
		return err
	}
	ch.q.Push(c)
	return nil
}

// TryPop removes the oldest command, if any.
func (ch *Channel) TryPop() (Command, bool) {
	return ch.q.TryPop()
}

// Empty reports whether no command is pending.
func (ch *Channel) Empty() bool {
	return ch.q.Empty()
}

// Len returns the number of pending commands.
func (ch *Channel) Len() int {
	return ch.q.Len()
}
