package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"buildweaver/internal/engine"
	"buildweaver/internal/sandbox"
	"buildweaver/internal/store"
)

type execOptions struct {
	input        string
	workDir      string
	outputFiles  []string
	outputDirs   []string
	timeout      time.Duration
	env          []string
	toolHome     string
	description  string
	writeOutputs string
}

func newExecCommand(root *rootOptions) *cobra.Command {
	opts := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec [flags] -- argv...",
		Short: "Run one process in a sandbox",
		Long: `Run one process in a private sandbox seeded from --input.

Only --env variables are visible to the process. Declared outputs are
captured into the content store and can be written back with --write-outputs.
The exit code is 0 on success and 1 when the process fails or times out.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return invalidInvocationf("exec: missing command after --")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, root, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.input, "input", "", "directory whose contents seed the sandbox")
	f.StringVar(&opts.workDir, "workdir", "", "working directory relative to the sandbox root")
	f.StringArrayVar(&opts.outputFiles, "output-file", nil, "declared output file (repeatable)")
	f.StringArrayVar(&opts.outputDirs, "output-dir", nil, "declared output directory (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 0, "kill the process after this duration")
	f.StringArrayVar(&opts.env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVar(&opts.toolHome, "tool-home", "", "directory exposed at .jdk inside the sandbox")
	f.StringVar(&opts.description, "description", "", "process description for diagnostics")
	f.StringVar(&opts.writeOutputs, "write-outputs", "", "write captured outputs below this directory")
	return cmd
}

func runExec(cmd *cobra.Command, root *rootOptions, opts *execOptions, argv []string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	env, err := parseEnv(opts.env)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}

	input := store.EmptyDigest
	if opts.input != "" {
		input, err = ingestDir(a.store, opts.input)
		if err != nil {
			return invalidInvocationf("exec: --input: %v", err)
		}
	}

	toolHome := opts.toolHome
	if toolHome == "" {
		toolHome = cfg.ToolHome
	}
	description := opts.description
	if description == "" {
		description = strings.Join(argv, " ")
	}

	p := sandbox.Process{
		Argv:              argv,
		WorkingDirectory:  opts.workDir,
		Env:               env,
		InputDigest:       input,
		OutputFiles:       opts.outputFiles,
		OutputDirectories: opts.outputDirs,
		Timeout:           opts.timeout,
		ToolHome:          toolHome,
		Description:       description,
	}

	s := a.session(cmd.Context())
	res, err := engine.Resolve[sandbox.FallibleProcessResult](cmd.Context(), s, p)
	a.report(s, root)
	if err != nil {
		return err
	}

	cmd.OutOrStdout().Write(res.Stdout)
	cmd.ErrOrStderr().Write(res.Stderr)
	a.logger.Info("process finished",
		"description", description,
		"exit_code", res.ExitCode,
		"output_digest", res.OutputDigest.String(),
	)

	if opts.writeOutputs != "" {
		if err := writeContents(a.store, res.OutputDigest, opts.writeOutputs); err != nil {
			return fmt.Errorf("writing outputs: %w", err)
		}
	}
	if res.ExitCode != 0 {
		return &processExitError{code: res.ExitCode}
	}
	return nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, invalidInvocationf("exec: --env %q: expected KEY=VALUE", kv)
		}
		env[k] = v
	}
	return env, nil
}

// ingestDir stores every file below dir as a tree rooted at dir.
func ingestDir(st *store.Store, dir string) (store.Digest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return store.Digest{}, err
	}
	base := filepath.Base(abs)
	d, err := st.IngestPaths(filepath.Dir(abs), nil, []string{base})
	if err != nil {
		return store.Digest{}, err
	}
	return st.StripPrefix(d, base)
}

func writeContents(st *store.Store, d store.Digest, dir string) error {
	files, err := st.Contents(d)
	if err != nil {
		return err
	}
	for _, f := range files {
		target := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		perm := os.FileMode(0o644)
		if f.IsExecutable {
			perm = 0o755
		}
		if err := os.WriteFile(target, f.Content, perm); err != nil {
			return err
		}
	}
	return nil
}
