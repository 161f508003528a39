package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andrei-cloud/go_eid/internal/commands/cli"
	"github.com/andrei-cloud/go_eid/internal/errorcodes"
	"github.com/rs/zerolog/log"
)

// main builds the command tree and runs it until done or interrupted.
func main() {
	root, err := cli.NewRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ^C aborts the session in flight.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "Error:", errorcodes.UserMessage(err))
		stop()
		os.Exit(1)
	}
}
