// Command buildweaver runs build rules and sandboxed processes.
//
// Usage:
//
//	# Run a process against the files of ./src
//	buildweaver exec --input src --output-file out.txt -- /bin/sh -c 'cat a > out.txt'
//
//	# Find the target owning an address
//	buildweaver owner --graph graph.yaml --field go_mod_sources proj/pkg:lib
//
//	# Inspect the Go module of a target
//	buildweaver gomod --graph graph.yaml proj/pkg:lib
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"buildweaver/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
