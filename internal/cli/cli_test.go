package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	t.Setenv("BUILDWEAVER_SCRATCH_DIR", t.TempDir())
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestExec_Success(t *testing.T) {
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "in.txt"), []byte("hello"), 0o644))
	outDir := t.TempDir()

	res := run(t, "exec",
		"--input", input,
		"--env", "GREETING=hi",
		"--output-file", "out.txt",
		"--write-outputs", outDir,
		"--", "/bin/bash", "-c", `/bin/cat in.txt; echo -n "$GREETING" > out.txt`)

	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "hello", res.stdout)

	got, err := os.ReadFile(filepath.Join(outDir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestExec_NonzeroExit(t *testing.T) {
	res := run(t, "exec", "--", "/bin/bash", "-c", "echo bad >&2; exit 3")
	assert.Equal(t, ExitExecutionFailure, res.code)
	assert.Contains(t, res.stderr, "bad")
	assert.Contains(t, res.stderr, "exited with code 3")
}

func TestExec_Timeout(t *testing.T) {
	res := run(t, "exec", "--timeout", "100ms", "--description", "nap", "--", "/bin/sleep", "2")
	assert.Equal(t, ExitExecutionFailure, res.code)
	assert.Contains(t, res.stdout, "Exceeded timeout")
	assert.Contains(t, res.stdout, "nap")
}

func TestExec_MissingOutput(t *testing.T) {
	res := run(t, "exec", "--output-file", "never.txt", "--", "/bin/true")
	assert.Equal(t, ExitExecutionFailure, res.code)
	assert.Contains(t, res.stderr, "never.txt")
}

func TestExec_WritesTraceAndMetrics(t *testing.T) {
	dir := t.TempDir()
	traceFile := filepath.Join(dir, "trace.json")
	metricsFile := filepath.Join(dir, "metrics.prom")

	res := run(t, "--trace", traceFile, "--metrics", metricsFile, "exec", "--", "/bin/true")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	raw, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	var tr struct {
		SessionID string `json:"sessionId"`
		Events    []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &tr))
	assert.NotEmpty(t, tr.SessionID)
	var kinds []string
	for _, e := range tr.Events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, "ProcessExecuted")
	assert.Contains(t, kinds, "RuleCompleted")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "buildweaver_sandbox_executions_total")
	assert.Contains(t, string(metrics), "buildweaver_engine_requests_total")
}

func TestInvocationErrors(t *testing.T) {
	cases := map[string][]string{
		"missing argv":  {"exec"},
		"bad env":       {"exec", "--env", "NOEQUALS", "--", "/bin/true"},
		"unknown flag":  {"exec", "--bogus", "--", "/bin/true"},
		"owner no args": {"owner", "--graph", "g.yaml", "--field", "f"},
		"bad address":   {"owner", "--graph", "g.yaml", "--field", "f", "a:b:c"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			res := run(t, args...)
			assert.Equal(t, ExitInvalidInvocation, res.code, res.stderr)
		})
	}
}

func TestConfigError(t *testing.T) {
	t.Setenv("BUILDWEAVER_WORKERS", "0")
	res := run(t, "exec", "--", "/bin/true")
	assert.Equal(t, ExitConfigError, res.code)
	assert.Contains(t, res.stderr, "workers")
}

func writeGraph(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
targets:
  - address: proj:go_mod
    fields:
      go_mod_sources: [proj/go.mod]
  - address: proj/sub:go_mod
    fields:
      go_mod_sources: [proj/sub/go.mod]
  - address: proj/sub/pkg:lib
`), 0o644))
	return p
}

func TestOwner(t *testing.T) {
	graph := writeGraph(t)

	res := run(t, "owner", "--graph", graph, "--field", "go_mod_sources", "proj/sub/pkg:lib")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "proj/sub:go_mod\n", res.stdout)

	res = run(t, "owner", "--graph", graph, "--field", "jdk_home", "proj/sub/pkg:lib")
	assert.Equal(t, ExitExecutionFailure, res.code)
	assert.Contains(t, res.stderr, "To fix")
}

func TestOwner_WritesTraceAndMetrics(t *testing.T) {
	dir := t.TempDir()
	traceFile := filepath.Join(dir, "trace.json")
	metricsFile := filepath.Join(dir, "metrics.prom")

	res := run(t, "--trace", traceFile, "--metrics", metricsFile,
		"owner", "--graph", writeGraph(t), "--field", "go_mod_sources", "proj/sub/pkg:lib")
	require.Equal(t, ExitSuccess, res.code, res.stderr)

	raw, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "nearest_ancestor")

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `buildweaver_engine_requests_total{outcome="completed",rule="nearest_ancestor"} 1`)
}

func TestGoMod(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proj", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proj", "sub", "go.mod"), []byte("module example.com/sub\n"), 0o644))

	goBin := filepath.Join(t.TempDir(), "go")
	require.NoError(t, os.WriteFile(goBin, []byte(`#!/bin/bash
if [ "$1" = "mod" ]; then
  printf '%s\n' '{"Module":{"Path":"example.com/sub"}}'
else
  printf '%s\n' '{"Path":"example.com/sub","Main":true}' '{"Path":"github.com/x/y","Version":"v0.1.0"}'
fi
`), 0o755))

	t.Setenv("BUILDWEAVER_BUILD_ROOT", root)
	t.Setenv("BUILDWEAVER_GO_BINARY", goBin)

	res := run(t, "gomod", "--graph", writeGraph(t), "proj/sub/pkg:lib")
	require.Equal(t, ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "target: proj/sub:go_mod\nmodule: example.com/sub\n  github.com/x/y@v0.1.0\n", res.stdout)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitInvalidInvocation, ExitCode(&InvocationError{}))
	assert.Equal(t, ExitConfigError, ExitCode(configErrorf("x")))
	assert.Equal(t, ExitExecutionFailure, ExitCode(&processExitError{code: 2}))
	assert.Equal(t, ExitInternalError, ExitCode(os.ErrPermission))
}
