// Command tractools fits diffusion models, runs parallel tractography and
// builds visit maps from the resulting streamlines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	apperrors "tractools/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !apperrors.IsContextError(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(apperrors.ExitCode(err))
	}
}
