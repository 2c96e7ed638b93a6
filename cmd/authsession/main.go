// Command authsession logs in to HTTP services configured as a fallback
// chain of identity providers and makes authenticated calls with
// automatic reauthorization.
//
// Usage:
//
//	authsession login --ui
//	authsession status --token
//	authsession call /api/me
//	authsession logout
//	authsession forget
//
// Configuration is read from $XDG_CONFIG_HOME/authsession/config.yaml
// (override with --config), .env and AUTHSESSION_* environment variables.
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

	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
