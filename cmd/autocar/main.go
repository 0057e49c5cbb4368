// Command autocar runs the scanning-radar robot: the radar and wheel
// workers, the distance-map fusion and the HTTP monitor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "autocar: %v\n", err)
		stop()
		os.Exit(1)
	}
}
