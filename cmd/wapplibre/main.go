// Command wapplibre is the wapplibre entity server and its admin CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apruden/wapplibre-server/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand().ExecuteContext(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return cli.ExitSuccess
	}
	fmt.Fprintf(os.Stderr, "wapplibre: %v\n", err)
	return cli.GetExitCode(err)
}
