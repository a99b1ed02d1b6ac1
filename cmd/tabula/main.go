package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackzampolin/tabula/internal/api"
)

// Exit codes beyond the generic 1.
const (
	exitTempFail    = 75  // gateway asked us to retry later (sysexits EX_TEMPFAIL)
	exitInterrupted = 130 // SIGINT or SIGTERM
)

func main() {
	// Set up context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(exitCode(ctx, rootCmd.ExecuteContext(ctx)))
}

// exitCode maps a command error to the process exit status. Scripts driving
// the CLI can back off on exitTempFail instead of treating it as a failure.
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	var se *api.StatusError
	if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
		return exitTempFail
	}
	return 1
}
