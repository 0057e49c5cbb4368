package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
)

// counter is a component that counts increments and can be told to fail.
type counter struct {
	mu         sync.Mutex
	applied    []string
	emitsSeen  []int
	runs       int
	cancels    int
	runErr     error
	runBlocked chan struct{}
}

func (c *counter) Name() string             { return "counter" }
func (c *counter) Schema() telemetry.Schema { return telemetry.Base("applied") }

func (c *counter) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	err := c.runErr
	block := c.runBlocked
	c.mu.Unlock()
	if block != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	time.Sleep(time.Millisecond)
	return err
}

func (c *counter) Emit(sink telemetry.Sink) {
	c.mu.Lock()
	n := len(c.applied)
	c.emitsSeen = append(c.emitsSeen, n)
	c.mu.Unlock()
	sink.Push(telemetry.Record{Source: "counter", Fields: []any{n}})
}

func (c *counter) Apply(ctx context.Context, cmd command.Command) error {
	if cmd.Op != "inc" {
		return command.Unknown("counter", cmd)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, cmd.String())
	return nil
}

func (c *counter) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	return nil
}

func (c *counter) snapshot() (applied []string, emits []int, cancels int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.applied...), append([]int(nil), c.emitsSeen...), c.cancels
}

func init() {
	monitoring.SetLogger(nil)
}

func waitDone(t *testing.T, w *Worker) error {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	return w.Wait()
}

func TestQueuedCommandsAppliedBeforeFirstEmit(t *testing.T) {
	comp := &counter{}
	w := New(comp, Options{})
	for i := 0; i < 5; i++ {
		w.Commands().Push(command.New("inc", i))
	}
	w.Start(context.Background())

	require.Eventually(t, func() bool { return !w.Telemetry().Empty() }, 5*time.Second, time.Millisecond)
	w.Exit()
	require.NoError(t, waitDone(t, w))

	applied, emits, _ := comp.snapshot()
	assert.Equal(t, []string{"inc(0)", "inc(1)", "inc(2)", "inc(3)", "inc(4)"}, applied)
	require.NotEmpty(t, emits)
	assert.Equal(t, 5, emits[0])
}

func TestExitCleansUpOnceAndStopsTelemetry(t *testing.T) {
	comp := &counter{}
	w := New(comp, Options{})
	w.Start(context.Background())

	require.Eventually(t, func() bool { return w.Telemetry().Len() >= 2 }, 5*time.Second, time.Millisecond)
	w.Exit()
	w.Exit()
	require.NoError(t, waitDone(t, w))

	n := w.Telemetry().Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, w.Telemetry().Len())

	_, _, cancels := comp.snapshot()
	assert.Equal(t, 1, cancels)
	assert.Equal(t, StateStopped, w.Status().State)
}

func TestExitBeforeStartSkipsWork(t *testing.T) {
	comp := &counter{}
	w := New(comp, Options{})
	w.Commands().Push(command.New("inc", 1))
	w.Exit()
	w.Commands().Push(command.New("inc", 2))

	require.NoError(t, w.Run(context.Background()))
	applied, emits, cancels := comp.snapshot()
	assert.Equal(t, []string{"inc(1)"}, applied)
	assert.Empty(t, emits)
	assert.Equal(t, 1, cancels)
	assert.Equal(t, 1, w.Commands().Len())
}

func TestRejectedCommandDoesNotStopLoop(t *testing.T) {
	comp := &counter{}
	var mu sync.Mutex
	var rejected []string
	w := New(comp, Options{OnError: func(cmd command.Command, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.True(t, errors.Is(err, command.ErrUnknownOperation))
		rejected = append(rejected, cmd.Op)
	}})
	w.Commands().Push(command.New("explode"))
	w.Commands().Push(command.New("inc", 1))
	w.Start(context.Background())

	require.Eventually(t, func() bool { return w.Telemetry().Len() >= 3 }, 5*time.Second, time.Millisecond)
	w.Exit()
	require.NoError(t, waitDone(t, w))

	mu.Lock()
	assert.Equal(t, []string{"explode"}, rejected)
	mu.Unlock()
	applied, _, _ := comp.snapshot()
	assert.Equal(t, []string{"inc(1)"}, applied)

	st := w.Status()
	assert.Equal(t, uint64(1), st.ApplyErrors)
	assert.Equal(t, uint64(3), st.Commands)
	assert.Contains(t, st.LastError, "explode")
}

func TestRunErrorsAreCountedAndLoopContinues(t *testing.T) {
	comp := &counter{runErr: errors.New("bus glitch")}
	w := New(comp, Options{})
	w.Start(context.Background())

	require.Eventually(t, func() bool { return w.Status().RunErrors >= 3 }, 5*time.Second, time.Millisecond)
	w.Exit()
	require.NoError(t, waitDone(t, w))
	assert.GreaterOrEqual(t, w.Telemetry().Len(), 3)
}

func TestCancelInterruptsAndCleansUp(t *testing.T) {
	comp := &counter{runBlocked: make(chan struct{})}
	w := New(comp, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	require.Eventually(t, func() bool {
		comp.mu.Lock()
		defer comp.mu.Unlock()
		return comp.runs > 0
	}, 5*time.Second, time.Millisecond)
	cancel()

	err := waitDone(t, w)
	assert.True(t, errors.Is(err, ErrInterrupted))
	_, emits, cancels := comp.snapshot()
	assert.Empty(t, emits)
	assert.Equal(t, 1, cancels)
}

func TestRunTwice(t *testing.T) {
	w := New(&counter{}, Options{})
	w.Exit()
	require.NoError(t, w.Run(context.Background()))
	assert.ErrorIs(t, w.Run(context.Background()), ErrAlreadyStarted)
}

func TestSendNormalizesShorthand(t *testing.T) {
	comp := &counter{}
	w := New(comp, Options{})
	require.NoError(t, w.Send([]any{"inc", []any{7}}))
	require.NoError(t, w.Send("EXIT"))
	require.NoError(t, w.Run(context.Background()))

	applied, _, _ := comp.snapshot()
	assert.Equal(t, []string{"inc(7)"}, applied)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	comp := &counter{}
	w := New(comp, Options{Metrics: m})
	w.Commands().Push(command.New("bogus"))
	w.Start(context.Background())

	require.Eventually(t, func() bool { return w.Status().Cycles >= 2 }, 5*time.Second, time.Millisecond)
	w.Exit()
	require.NoError(t, waitDone(t, w))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApplyErrors.WithLabelValues("counter")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("counter")))
	assert.Equal(t, float64(w.Status().Cycles), testutil.ToFloat64(m.Cycles.WithLabelValues("counter")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Running.WithLabelValues("counter")))
	assert.NotEmpty(t, w.ID().String())
}
