// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/xkilldash9x/suture-cli/cmd"
)

const panicLogFile = "panic.log"

// Function variables allow mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	// The sentinel: a crash of the repair tool itself must leave evidence
	// behind before the process dies.
	defer handlePanic()

	// Listen for SIGINT/SIGTERM for graceful shutdown mid-loop; the
	// patcher's rollback guards run before the context unwind completes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
		}
		osExit(1)
	}
}

// handlePanic writes the panic and stack to panic.log and rethrows so the
// process still dies loudly.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}

	report := fmt.Sprintf("time: %s\npanic: %v\n\nstack:\n%s\n",
		time.Now().UTC().Format(time.RFC3339), r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(report), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", panicLogFile, err)
	}
	panic(r)
}
