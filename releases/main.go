package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/release-registry/internal/platform/logging"
)

func main() {
	logger, err := logging.New(os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid logging config:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
