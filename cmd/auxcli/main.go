package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/auxprotocol/auxcli/cmd"
	"github.com/auxprotocol/auxcli/internal/observability"
)

const panicLogFile = "auxcli-panic.log"

// Injection points for tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Interrupts cancel the command context so sessions shut down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		observability.Sync()
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return
		}
		osExit(1)
		return
	}
	observability.Sync()
}

// handlePanic writes the stack to a file so a crashing run leaves something
// to debug, then exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(message), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", message)
		osExit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "auxcli crashed; details written to %s\n", panicLogFile)
	osExit(1)
}
