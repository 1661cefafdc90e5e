package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"buildweaver/internal/address"
	"buildweaver/internal/engine"
	"buildweaver/internal/gomod"
)

func newGoModCommand(root *rootOptions) *cobra.Command {
	opts := &graphOptions{}
	cmd := &cobra.Command{
		Use:   "gomod --graph FILE ADDRESS",
		Short: "Show the Go module owning a target",
		Long: `Find the go_mod target owning ADDRESS and list the module's import path
and resolved dependencies, as reported by the go tool run in a sandbox.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := address.ParseAddress(args[0])
			if err != nil {
				return invalidInvocationf("gomod: %v", err)
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			graph, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr(), graph)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s := a.session(ctx)
			defer a.report(s, root)

			owner, err := engine.Resolve[gomod.OwningGoMod](ctx, s, gomod.OwningGoModRequest{Address: addr})
			if err != nil {
				return err
			}
			info, err := engine.Resolve[gomod.GoModInfo](ctx, s, gomod.GoModInfoRequest{Address: owner.Address})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "target: %s\nmodule: %s\n", owner.Address, info.ImportPath)
			for _, m := range info.Modules {
				fmt.Fprintf(out, "  %s\n", m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.graphFile, "graph", "", "YAML build graph")
	return cmd
}
