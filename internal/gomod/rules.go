package gomod

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"buildweaver/internal/address"
	"buildweaver/internal/engine"
	"buildweaver/internal/intrinsics"
	"buildweaver/internal/sandbox"
	"buildweaver/internal/store"
)

// OwningGoModRequest asks which go_mod target owns Address.
type OwningGoModRequest struct {
	Address address.Address
}

func (r OwningGoModRequest) Describe() string {
	return "owning go_mod of " + r.Address.String()
}

// OwningGoMod is the address of the go_mod target nearest to a request.
type OwningGoMod struct {
	Address address.Address
}

// GoModInfoRequest asks for the module information of a go_mod target.
type GoModInfoRequest struct {
	Address address.Address
}

func (r GoModInfoRequest) Describe() string {
	return "go.mod info of " + r.Address.String()
}

// GoModInfo describes a Go module.
type GoModInfo struct {
	// ImportPath is the module path declared in go.mod.
	ImportPath string

	// Modules lists the required modules with resolved versions.
	Modules []ModuleDescriptor

	// Digest holds go.mod and go.sum at their full paths.
	Digest store.Digest

	// StrippedDigest holds go.mod and go.sum at the tree root.
	StrippedDigest store.Digest
}

// Rules runs the go tool through the sandbox.
type Rules struct {
	// GoBinary is the go executable. Defaults to "go".
	GoBinary string

	// Env is passed to every go invocation, e.g. GOPATH, GOCACHE and
	// GOFLAGS.
	Env map[string]string
}

// Register adds the Go module rules to reg.
func (r *Rules) Register(reg *engine.Registry) error {
	return errors.Join(
		engine.Register(reg, "find_nearest_go_mod", r.findNearestGoMod),
		engine.Register(reg, "determine_go_mod_info", r.determineGoModInfo),
	)
}

func (r *Rules) findNearestGoMod(c *engine.Call, req OwningGoModRequest) (OwningGoMod, error) {
	tgt, err := engine.Get[address.Target](c, address.NearestAncestorRequest{
		Address: req.Address,
		Field:   SourcesField,
		Hint: "please make sure your project has a `go.mod` file and add a `go_mod` " +
			"target declaring `" + SourcesField + "`.",
	})
	if err != nil {
		return OwningGoMod{}, err
	}
	return OwningGoMod{Address: tgt.Address}, nil
}

func (r *Rules) determineGoModInfo(c *engine.Call, req GoModInfoRequest) (GoModInfo, error) {
	tgt, err := engine.Get[address.Target](c, req.Address)
	if err != nil {
		return GoModInfo{}, err
	}
	sources, err := tgt.StringList(SourcesField)
	if err != nil {
		return GoModInfo{}, err
	}
	goModPath, err := findGoMod(sources)
	if err != nil {
		return GoModInfo{}, fmt.Errorf("target %s: %w", tgt.Address, err)
	}
	goModDir := path.Dir(goModPath)

	snap, err := engine.Get[store.Snapshot](c, intrinsics.PathGlobs{Globs: sources})
	if err != nil {
		return GoModInfo{}, err
	}
	if !slices.Contains(snap.Files, goModPath) {
		return GoModInfo{}, fmt.Errorf("target %s: %s does not exist", tgt.Address, goModPath)
	}

	modJSON := engine.Request[sandbox.ProcessResult](r.goProcess(snap.Digest, goModDir,
		fmt.Sprintf("Parse %s", goModPath), "mod", "edit", "-json"))
	listModules := engine.Request[sandbox.ProcessResult](r.goProcess(snap.Digest, goModDir,
		fmt.Sprintf("List modules in %s", goModPath), "list", "-m", "-json", "all"))
	stripped := engine.Request[store.Digest](intrinsics.RemovePrefix{Digest: snap.Digest, Prefix: goModDir})
	if err := c.Join(modJSON, listModules, stripped); err != nil {
		return GoModInfo{}, err
	}

	importPath, err := parseModulePath(modJSON.Value().Stdout)
	if err != nil {
		return GoModInfo{}, err
	}
	modules, err := ParseModuleDescriptors(listModules.Value().Stdout)
	if err != nil {
		return GoModInfo{}, err
	}

	c.Logger().Debug("inspected go module", "import_path", importPath, "modules", len(modules))
	return GoModInfo{
		ImportPath:     importPath,
		Modules:        uniqueModules(modules),
		Digest:         snap.Digest,
		StrippedDigest: stripped.Value(),
	}, nil
}

func (r *Rules) goProcess(input store.Digest, dir, description string, args ...string) sandbox.Process {
	bin := r.GoBinary
	if bin == "" {
		bin = "go"
	}
	workDir := dir
	if workDir == "." {
		workDir = ""
	}
	return sandbox.Process{
		Argv:             append([]string{bin}, args...),
		WorkingDirectory: workDir,
		Env:              r.Env,
		InputDigest:      input,
		Description:      description,
	}
}

func findGoMod(sources []string) (string, error) {
	for _, s := range sources {
		if path.Base(s) == "go.mod" {
			return path.Clean(s), nil
		}
	}
	return "", fmt.Errorf("`%s` must include a go.mod file, got [%s]", SourcesField, strings.Join(sources, ", "))
}
