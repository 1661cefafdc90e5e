package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"buildweaver/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, *store.Store) {
	t.Helper()
	st := store.New(store.WithScratchDir(t.TempDir()))
	return NewRunner(st, WithRegisterer(prometheus.NewRegistry())), st
}

func bash(script, description string) Process {
	return Process{
		Argv:        []string{"/bin/bash", "-c", script},
		InputDigest: store.EmptyDigest,
		Description: description,
	}
}

func TestRun_TimeoutReportsDiagnostic(t *testing.T) {
	r, _ := newTestRunner(t)

	p := bash("/bin/sleep 1 && echo -n 'European Burmese'", "sleepy-cat")
	p.Timeout = TimeoutSeconds(0.1)

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, TimeoutExitCode, res.ExitCode)
	assert.True(t, res.TimedOut())
	assert.Contains(t, string(res.Stdout), "timeout")
	assert.Contains(t, string(res.Stdout), "sleepy-cat")
	assert.Contains(t, string(res.Stdout), "Exceeded timeout of 0.1 seconds")
	assert.NotContains(t, string(res.Stdout), "European Burmese")
}

func TestRun_TimeoutIsNotCached(t *testing.T) {
	r, _ := newTestRunner(t)

	p := bash("/bin/sleep 1", "slow")
	p.Timeout = 50 * time.Millisecond

	for i := 0; i < 2; i++ {
		res, err := r.Run(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, res.FromCache)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues(outcomeTimeout)))
}

func TestRunStrict_TimeoutUnwrapsToErrTimeout(t *testing.T) {
	r, _ := newTestRunner(t)

	p := bash("/bin/sleep 1", "slow")
	p.Timeout = 50 * time.Millisecond

	_, err := r.RunStrict(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "Exceeded timeout")
}

func TestRunStrict_FailureMessage(t *testing.T) {
	r, _ := newTestRunner(t)

	_, err := r.RunStrict(context.Background(), bash("exit 1", "one-cat"))
	require.Error(t, err)

	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.ExitCode)
	assert.Contains(t, err.Error(), "process 'one-cat' failed with exit code 1.")
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestRun_FallibleAndStrictAgree(t *testing.T) {
	r, _ := newTestRunner(t)
	p := bash("echo oops >&2; exit 3", "grumpy")

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", string(res.Stderr))

	_, err = Strict(res, p)
	var failure *ExecutionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, res.ExitCode, failure.ExitCode)
	assert.Equal(t, res.Stderr, failure.Stderr)
	assert.Contains(t, err.Error(), "oops")
}

func TestRun_CapturesOnlyDeclaredOutputs(t *testing.T) {
	r, st := newTestRunner(t)

	p := bash("echo a > a.txt; echo b > b.txt; /bin/mkdir -p out/nested; echo c > out/nested/c.txt", "writer")
	p.OutputFiles = []string{"a.txt"}
	p.OutputDirectories = []string{"out"}

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)

	snap, err := st.Snapshot(res.OutputDigest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "out/nested/c.txt"}, snap.Files)
}

func TestRun_MissingOutputOnSuccessIsFatal(t *testing.T) {
	r, _ := newTestRunner(t)

	p := bash("echo a > a.txt", "under-producer")
	p.OutputFiles = []string{"a.txt", "missing.txt"}

	_, err := r.Run(context.Background(), p)
	var missing *MissingOutputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"missing.txt"}, missing.Paths)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues(outcomeMissing)))
}

func TestRun_DirectoryDeclaredAsFileIsMissing(t *testing.T) {
	r, _ := newTestRunner(t)

	p := bash("/bin/mkdir out", "wrong-kind")
	p.OutputFiles = []string{"out"}

	_, err := r.Run(context.Background(), p)
	var missing *MissingOutputError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"out"}, missing.Paths)
}

func TestRun_MissingOutputOnFailureIsTolerated(t *testing.T) {
	r, st := newTestRunner(t)

	p := bash("echo a > a.txt; exit 2", "half-done")
	p.OutputFiles = []string{"a.txt", "missing.txt"}

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ExitCode)

	snap, err := st.Snapshot(res.OutputDigest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, snap.Files)
}

func TestRun_OnlyDeclaredEnvironmentIsVisible(t *testing.T) {
	t.Setenv("BUILDWEAVER_SECRET", "leak")
	r, _ := newTestRunner(t)

	p := bash(`echo "$FOO:$BUILDWEAVER_SECRET"`, "env")
	p.Env = map[string]string{"FOO": "bar"}

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "bar:\n", string(res.Stdout))
}

func TestRun_InputDigestAndWorkingDirectory(t *testing.T) {
	r, st := newTestRunner(t)

	input, err := st.StoreFiles([]store.FileContent{
		{Path: "sub/greeting.txt", Content: []byte("hi\n")},
	})
	require.NoError(t, err)

	p := Process{
		Argv:             []string{"/bin/bash", "-c", "/bin/cat greeting.txt; echo out > result.txt"},
		WorkingDirectory: "sub",
		InputDigest:      input,
		OutputFiles:      []string{"result.txt"},
		Description:      "cat in subdir",
	}
	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(res.Stdout))

	contents, err := st.Contents(res.OutputDigest)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "result.txt", contents[0].Path)
	assert.Equal(t, "out\n", string(contents[0].Content))
}

func TestRun_ToolHomeMountedAtFixedPath(t *testing.T) {
	r, _ := newTestRunner(t)

	toolHome := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(toolHome, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(toolHome, "bin", "version"), []byte("jdk-11\n"), 0o644))

	p := bash("/bin/cat .jdk/bin/version", "javac version")
	p.ToolHome = toolHome

	res, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "jdk-11\n", string(res.Stdout))
}

func TestRun_MalformedProcess(t *testing.T) {
	r, _ := newTestRunner(t)

	cases := map[string]Process{
		"empty argv":        {InputDigest: store.EmptyDigest, Description: "nothing"},
		"missing tool home": {Argv: []string{"/bin/true"}, InputDigest: store.EmptyDigest, ToolHome: "/does/not/exist", Description: "jdk"},
		"escaping output":   {Argv: []string{"/bin/true"}, InputDigest: store.EmptyDigest, OutputFiles: []string{"../x"}, Description: "escape"},
		"negative timeout":  {Argv: []string{"/bin/true"}, InputDigest: store.EmptyDigest, Timeout: -time.Second, Description: "neg"},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Run(context.Background(), p)
			var malformed *MalformedProcessError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestRun_ScriptExecutableBit(t *testing.T) {
	r, st := newTestRunner(t)
	script := []byte("#!/bin/bash -eu\necho \"Hello\"\n")

	plain, err := st.StoreFiles([]store.FileContent{{Path: "echo.sh", Content: script}})
	require.NoError(t, err)
	_, err = r.RunStrict(context.Background(), Process{
		Argv:        []string{"./echo.sh"},
		InputDigest: plain,
		Description: "not executable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	executable, err := st.StoreFiles([]store.FileContent{{Path: "echo.sh", Content: script, IsExecutable: true}})
	require.NoError(t, err)
	res, err := r.RunStrict(context.Background(), Process{
		Argv:        []string{"./echo.sh"},
		InputDigest: executable,
		Description: "executable",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", string(res.Stdout))
}

func TestRun_ReplaysIdenticalProcessFromCache(t *testing.T) {
	r, _ := newTestRunner(t)
	p := bash("echo $RANDOM", "random")

	first, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	p.Description = "renamed"
	second, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Stdout, second.Stdout)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues(outcomeSuccess)))
}

func TestRun_ConcurrentProcessesUsePrivateDirectories(t *testing.T) {
	scratch := t.TempDir()
	st := store.New(store.WithScratchDir(scratch))
	r := NewRunner(st)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		p := bash(fmt.Sprintf("/bin/ls; echo %d > out.txt", i), fmt.Sprintf("writer-%d", i))
		p.OutputFiles = []string{"out.txt"}
		g.Go(func() error {
			res, err := r.RunStrict(context.Background(), p)
			if err != nil {
				return err
			}
			if len(res.Stdout) != 0 {
				return errors.New("sandbox was not empty: " + string(res.Stdout))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories must be removed")
}

func TestRun_IdenticalConcurrentProcessesExecuteOnce(t *testing.T) {
	r, _ := newTestRunner(t)
	counter := filepath.Join(t.TempDir(), "runs")

	p := bash(`/bin/sleep 0.3; echo run >> "$COUNTER"; echo -n done`, "counted")
	p.Env = map[string]string{"COUNTER": counter}

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			res, err := r.Run(context.Background(), p)
			if err != nil {
				return err
			}
			if string(res.Stdout) != "done" {
				return fmt.Errorf("unexpected stdout %q", res.Stdout)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	runs, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "run\n", string(runs))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.executions.WithLabelValues(outcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.metrics.shared)+testutil.ToFloat64(r.metrics.cacheHits))
}

func TestFingerprint(t *testing.T) {
	base := Process{
		Argv:        []string{"/bin/echo", "hi"},
		Env:         map[string]string{"A": "1", "B": "2"},
		InputDigest: store.EmptyDigest,
		OutputFiles: []string{"b", "a"},
		Description: "one",
	}

	renamed := base
	renamed.Description = "two"
	assert.Equal(t, base.Fingerprint(), renamed.Fingerprint())

	reordered := base
	reordered.OutputFiles = []string{"a", "b"}
	assert.Equal(t, base.Fingerprint(), reordered.Fingerprint())

	changed := base
	changed.Env = map[string]string{"A": "1", "B": "3"}
	assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())

	split := base
	split.Argv = []string{"/bin/echo h", "i"}
	assert.NotEqual(t, base.Fingerprint(), split.Fingerprint())
}
