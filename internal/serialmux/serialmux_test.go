package serialmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// echoBridge answers "<tag> PING" with "<tag> PONG" and everything else
// with "<tag> OK", after an unrelated chatter line.
func echoBridge(line string) []string {
	l, err := ParseLine(line)
	if err != nil {
		return []string{"? ERR PARSE"}
	}
	reply := "OK"
	if l.Verb == "PING" {
		reply = "PONG"
	}
	return []string{"Z NOISE", fmt.Sprintf("%s %s", l.Tag, reply)}
}

func startMux(t *testing.T, respond func(string) []string) (*SerialMux[*ResponderPort], context.CancelFunc) {
	t.Helper()
	mux := NewSerialMux(NewResponderPort(respond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mux.Monitor(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		mux.Close()
		<-done
	})
	return mux, cancel
}

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("S POS?"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if err := mux.SendCommand("U PING 30\n"); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if got, want := string(port.GetWrittenData()), "S POS?\nU PING 30\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSendCommandWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)

	err := mux.SendCommand("L OK")
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("SendCommand() error = %v, want ErrWriteFailed", err)
	}
}

func TestMonitorFansOutToSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("S POS 1.5\r\nU DIST 0.8\n"))
	mux := NewSerialMux(port)

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	if err := mux.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor() error = %v", err)
	}

	for _, ch := range []chan string{ch1, ch2} {
		for _, want := range []string{"S POS 1.5", "U DIST 0.8"} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("line = %q, want %q", got, want)
				}
			default:
				t.Fatalf("missing line %q", want)
			}
		}
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}
	mux.Unsubscribe(id1)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestRequestMatchesTaggedReply(t *testing.T) {
	mux, _ := startMux(t, echoBridge)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := mux.Request(ctx, "U PING 30", Tagged("U", "PONG"))
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got != "U PONG" {
		t.Errorf("Request() = %q, want %q", got, "U PONG")
	}
}

func TestConcurrentRequestsGetOwnReplies(t *testing.T) {
	mux, _ := startMux(t, echoBridge)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tags := []string{"S", "U", "L", "R"}
	errc := make(chan error, len(tags))
	for _, tag := range tags {
		go func(tag string) {
			for i := 0; i < 20; i++ {
				got, err := mux.Request(ctx, tag+" PING", Tagged(tag, "PONG"))
				if err != nil {
					errc <- err
					return
				}
				if got != tag+" PONG" {
					errc <- fmt.Errorf("tag %s got %q", tag, got)
					return
				}
			}
			errc <- nil
		}(tag)
	}
	for range tags {
		if err := <-errc; err != nil {
			t.Error(err)
		}
	}
}

func TestRequestTimesOut(t *testing.T) {
	mux, _ := startMux(t, func(string) []string { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := mux.Request(ctx, "S POS?", Tagged("S", "POS"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Request() error = %v, want DeadlineExceeded", err)
	}
}

func TestCloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
	if _, late := mux.Subscribe(); late != nil {
		if _, ok := <-late; ok {
			t.Error("subscribe after close should return a closed channel")
		}
	}
}

func TestInitializeResetsBridge(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := ScanLines(port.GetWrittenData()); len(got) != 1 || got[0] != "* RESET" {
		t.Errorf("written = %q", got)
	}
}

func TestParseLine(t *testing.T) {
	l, err := ParseLine("  S POS 12.5 ")
	if err != nil {
		t.Fatalf("ParseLine() error = %v", err)
	}
	if l.Tag != "S" || l.Verb != "POS" || len(l.Args) != 1 || l.Args[0] != "12.5" {
		t.Errorf("ParseLine() = %+v", l)
	}
	if l.String() != "S POS 12.5" {
		t.Errorf("String() = %q", l.String())
	}
	if _, err := ParseLine("S"); err == nil {
		t.Error("ParseLine(\"S\") should fail")
	}

	match := Tagged("U", "DIST", "ERR")
	for line, want := range map[string]bool{
		"U DIST 1.2":    true,
		"U ERR TIMEOUT": true,
		"S DIST 1.2":    false,
		"U OK":          false,
		"garbage":       false,
	} {
		if got := match(line); got != want {
			t.Errorf("Tagged match(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestOpenUsesOpener(t *testing.T) {
	port := NewTestableSerialPort()
	opener := &MockOpener{Port: port}

	mux, err := Open("/dev/ttyACM0", PortOptions{BaudRate: 9600}, opener.Open)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(opener.Calls) != 1 || opener.Calls[0].Path != "/dev/ttyACM0" || opener.Calls[0].Opts.BaudRate != 9600 {
		t.Errorf("opener calls = %+v", opener.Calls)
	}
	if err := mux.SendCommand("S OFF"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(port.GetWrittenData()), "S OFF") {
		t.Error("command not written to opened port")
	}

	opener.Error = errors.New("no such device")
	if _, err := Open("/dev/none", PortOptions{}, opener.Open); err == nil {
		t.Error("Open() should propagate opener error")
	}
}
