package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"buildweaver/internal/address"
	"buildweaver/internal/engine"
)

type graphOptions struct {
	graphFile string
	field     string
}

func (o *graphOptions) load() (*address.MemoryGraph, error) {
	if o.graphFile == "" {
		return nil, invalidInvocationf("--graph is required")
	}
	g, err := address.LoadGraph(o.graphFile)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	return g, nil
}

func newOwnerCommand(root *rootOptions) *cobra.Command {
	opts := &graphOptions{}
	cmd := &cobra.Command{
		Use:   "owner --graph FILE --field NAME ADDRESS",
		Short: "Print the nearest ancestor target declaring a field",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.field == "" {
				return invalidInvocationf("owner: --field is required")
			}
			addr, err := address.ParseAddress(args[0])
			if err != nil {
				return invalidInvocationf("owner: %v", err)
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

			s := a.session(cmd.Context())
			tgt, err := engine.Resolve[address.Target](cmd.Context(), s, address.NearestAncestorRequest{
				Address: addr,
				Field:   opts.field,
			})
			a.report(s, root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tgt.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.graphFile, "graph", "", "YAML build graph")
	cmd.Flags().StringVar(&opts.field, "field", "", "field the owner must declare")
	return cmd
}
