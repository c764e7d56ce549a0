// File: main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/forceps/cmd"
	"github.com/xkilldash9x/forceps/internal/observability"
)

const panicLogFile = "forceps-panic.log"

// Indirections for testing the exit paths.
var (
	osExit      = os.Exit
	osWriteFile = os.WriteFile
)

func main() {
	defer handlePanic()

	// SIGINT and SIGTERM cancel the context; in-flight scenarios notice and
	// wind down through the usual abort path.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// An operator interrupt is a clean stop, not a failure.
			osExit(0)
		}
		osExit(1)
	}
}

// handlePanic writes crash details somewhere durable before the process dies,
// so a wedged headless browser does not eat the evidence.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(message), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write panic log: %v\n%s\n", err, message)
		osExit(1)
		return
	}
	fmt.Fprintf(os.Stderr, "crash detected; details logged to %s\n", panicLogFile)
	osExit(1)
}
