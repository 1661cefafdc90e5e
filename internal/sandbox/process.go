package sandbox

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"buildweaver/internal/store"
)

// ToolHomeMountPath is where Process.ToolHome appears inside the sandbox.
const ToolHomeMountPath = ".jdk"

// Process describes one sandboxed command execution.
//
// Required: Argv, InputDigest, Description.
// Optional: WorkingDirectory, Env, OutputFiles, OutputDirectories, Timeout, ToolHome.
type Process struct {
	// Argv is the command and its arguments. Must be non-empty.
	Argv []string `json:"argv" yaml:"argv"`

	// WorkingDirectory is relative to the sandbox root. Output paths are
	// relative to it as well.
	WorkingDirectory string `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`

	// Env is the complete environment of the process. Host variables are
	// never inherited.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// InputDigest is the tree the sandbox starts with.
	InputDigest store.Digest `json:"input_digest" yaml:"input_digest"`

	OutputFiles       []string `json:"output_files,omitempty" yaml:"output_files,omitempty"`
	OutputDirectories []string `json:"output_directories,omitempty" yaml:"output_directories,omitempty"`

	// Timeout bounds the wall time of the process. Zero means no bound.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ToolHome is a host directory exposed read-only at ToolHomeMountPath.
	ToolHome string `json:"tool_home,omitempty" yaml:"tool_home,omitempty"`

	// Description names the process in diagnostics. It does not contribute
	// to the process fingerprint.
	Description string `json:"description" yaml:"description"`
}

// Describe implements the engine's request description hook.
func (p Process) Describe() string {
	if p.Description != "" {
		return fmt.Sprintf("process %q", p.Description)
	}
	return fmt.Sprintf("process %q", strings.Join(p.Argv, " "))
}

// TimeoutSeconds builds a Timeout from fractional seconds.
func TimeoutSeconds(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// Validate checks the shape of the process before anything is executed.
func (p Process) Validate() error {
	if len(p.Argv) == 0 {
		return malformed(p, "argv must not be empty")
	}
	if p.Argv[0] == "" {
		return malformed(p, "argv[0] must not be empty")
	}
	if p.Timeout < 0 {
		return malformed(p, "timeout must not be negative")
	}
	if err := p.InputDigest.Validate(); err != nil {
		return malformed(p, err.Error())
	}
	if p.WorkingDirectory != "" {
		if err := checkRelative(p.WorkingDirectory); err != nil {
			return malformed(p, "working directory: "+err.Error())
		}
	}
	for _, out := range append(append([]string{}, p.OutputFiles...), p.OutputDirectories...) {
		if err := checkRelative(out); err != nil {
			return malformed(p, "output path: "+err.Error())
		}
	}
	if p.ToolHome != "" {
		info, err := os.Stat(p.ToolHome)
		if err != nil {
			return malformed(p, fmt.Sprintf("tool home %q does not exist", p.ToolHome))
		}
		if !info.IsDir() {
			return malformed(p, fmt.Sprintf("tool home %q is not a directory", p.ToolHome))
		}
	}
	return nil
}

func checkRelative(p string) error {
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%q must be relative", p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return fmt.Errorf("%q must name a path inside the sandbox", p)
	}
	return nil
}

// Fingerprint is the deterministic identity of a process execution.
type Fingerprint string

// Fingerprint computes the identity used for result caching.
//
// The hash covers, in order and length-prefixed:
//  1. Working directory
//  2. Argv
//  3. Sorted environment variables
//  4. Sorted output files, then sorted output directories
//  5. Input digest
//  6. Timeout and tool home
//
// Description is excluded: renaming a process does not change what it does.
func (p Process) Fingerprint() Fingerprint {
	hasher := sha256.New()

	writeField := func(data string) {
		var lengthBytes [8]byte
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
		hasher.Write(lengthBytes[:])
		hasher.Write([]byte(data))
	}
	writeList := func(items []string) {
		writeField(strconv.Itoa(len(items)))
		for _, it := range items {
			writeField(it)
		}
	}

	writeField(p.WorkingDirectory)
	writeList(p.Argv)

	envKeys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	writeField(strconv.Itoa(len(envKeys)))
	for _, k := range envKeys {
		writeField(k)
		writeField(p.Env[k])
	}

	writeList(sortedCopy(p.OutputFiles))
	writeList(sortedCopy(p.OutputDirectories))

	writeField(p.InputDigest.Fingerprint)
	writeField(strconv.FormatInt(p.InputDigest.SizeBytes, 10))
	writeField(p.Timeout.String())
	writeField(p.ToolHome)

	return Fingerprint(hex.EncodeToString(hasher.Sum(nil)))
}

// String returns the string representation of the Fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
