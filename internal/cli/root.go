// Package cli implements the buildweaver command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"buildweaver/internal/config"
)

type rootOptions struct {
	configFile  string
	logLevel    string
	traceFile   string
	metricsFile string
}

// Run executes the command line in args (excluding argv[0]) and returns the
// exit code. It is the entrypoint used by main and by black-box tests.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return ExitCode(err)
}

// NewRootCommand builds the command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "buildweaver",
		Short: "Sandboxed, memoized build rule execution",
		Long: `buildweaver resolves typed build rules into a dependency graph and runs
external processes in private, content-addressed sandboxes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flags.StringVar(&opts.traceFile, "trace", "", "write the canonical execution trace to this file")
	flags.StringVar(&opts.metricsFile, "metrics", "", "write metrics in the Prometheus text format to this file")

	root.AddCommand(
		newExecCommand(opts),
		newOwnerCommand(opts),
		newGoModCommand(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
		if err := config.Validate(cfg); err != nil {
			return nil, configErrorf("%v", err)
		}
	}
	return cfg, nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return invalidInvocationf("%s: expected %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}
