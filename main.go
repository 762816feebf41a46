// Command cloud-provision is the entry point for the workload identity
// provisioning CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/anirudhbiyani/cloud-provision/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(cli.ExecuteContext(ctx))
}
