package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// execution is the raw outcome of one spawned command.
type execution struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	timedOut bool
}

// execute runs p with dir as the sandbox root.
//
// Only variables declared in p.Env are visible to the command; the host
// environment is never inherited. The command runs in its own process group
// so a timeout or cancellation kills everything it spawned.
func execute(ctx context.Context, dir string, p Process) (*execution, error) {
	workDir := dir
	if p.WorkingDirectory != "" {
		workDir = filepath.Join(dir, filepath.FromSlash(p.WorkingDirectory))
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating working directory: %w", err)
		}
	}

	argv0, err := resolveArgv0(p.Argv[0], workDir, p.Env["PATH"])
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv0, p.Argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = buildIsolatedEnv(p.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process %q: %w", p.Description, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case <-timeout:
		killGroup(cmd)
		<-done
		return &execution{
			stdout:   append([]byte(timeoutDiagnostic(p)), stdout.Bytes()...),
			stderr:   stderr.Bytes(),
			exitCode: TimeoutExitCode,
			timedOut: true,
		}, nil
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute process %q: %w", p.Description, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &execution{
		stdout:   stdout.Bytes(),
		stderr:   stderr.Bytes(),
		exitCode: exitCode,
	}, nil
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

func timeoutDiagnostic(p Process) string {
	secs := strconv.FormatFloat(p.Timeout.Seconds(), 'f', -1, 64)
	return fmt.Sprintf("Exceeded timeout of %s seconds when executing local process: %s\n", secs, p.Description)
}

// resolveArgv0 turns argv[0] into a path the kernel can execute.
//
// Paths with a separator are taken relative to the working directory. Bare
// names are looked up in the declared PATH, falling back to the host PATH
// when the process declares none.
func resolveArgv0(name, workDir, declaredPath string) (string, error) {
	if strings.Contains(name, "/") {
		if filepath.IsAbs(name) {
			return name, nil
		}
		return filepath.Join(workDir, name), nil
	}
	if declaredPath == "" {
		lp, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("resolving %q: %w", name, err)
		}
		return lp, nil
	}
	for _, dir := range filepath.SplitList(declaredPath) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("resolving %q: %w in declared PATH", name, exec.ErrNotFound)
}

// buildIsolatedEnv constructs the environment from the declared variables
// only, sorted by key.
func buildIsolatedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return []string{}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+env[k])
	}
	return result
}
