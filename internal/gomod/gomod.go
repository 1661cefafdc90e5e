// Package gomod is a sample language collaborator: it locates the go.mod
// target owning an address and inspects the module with the go tool, running
// inside the process sandbox.
package gomod

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/mod/module"
)

// SourcesField is the target field listing a module's go.mod and go.sum.
const SourcesField = "go_mod_sources"

// ModuleDescriptor is one module required by a go.mod, with its resolved
// version.
type ModuleDescriptor struct {
	Path    string `json:"Path"`
	Version string `json:"Version"`
}

func (m ModuleDescriptor) String() string {
	return m.Path + "@" + m.Version
}

// ParseModuleDescriptors parses the concatenated JSON objects printed by
// `go list -m -json all`. The main module is skipped.
func ParseModuleDescriptors(raw []byte) ([]ModuleDescriptor, error) {
	var out []ModuleDescriptor
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var entry struct {
			Path    string
			Version string
			Main    bool
		}
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing module list: %w", err)
		}
		if entry.Main {
			continue
		}
		if entry.Path == "" {
			return nil, errors.New("parsing module list: module without a Path")
		}
		if err := checkModule(entry.Path, entry.Version); err != nil {
			return nil, fmt.Errorf("parsing module list: %w", err)
		}
		out = append(out, ModuleDescriptor{Path: entry.Path, Version: entry.Version})
	}
	return out, nil
}

// checkModule validates a listed module. Modules replaced by a local
// directory are listed without a version.
func checkModule(path, version string) error {
	if version == "" {
		return module.CheckImportPath(path)
	}
	return module.Check(path, version)
}

// uniqueModules drops repeated descriptors, keeping first occurrences.
func uniqueModules(mods []ModuleDescriptor) []ModuleDescriptor {
	seen := make(map[ModuleDescriptor]struct{}, len(mods))
	out := make([]ModuleDescriptor, 0, len(mods))
	for _, m := range mods {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// parseModulePath extracts Module.Path from `go mod edit -json` output.
func parseModulePath(raw []byte) (string, error) {
	var doc struct {
		Module struct {
			Path string
		}
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("parsing go mod edit output: %w", err)
	}
	if doc.Module.Path == "" {
		return "", errors.New("go.mod declares no module path")
	}
	if err := module.CheckImportPath(doc.Module.Path); err != nil {
		return "", fmt.Errorf("go.mod module path: %w", err)
	}
	return doc.Module.Path, nil
}
