package address

import (
	"fmt"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

// Graph answers structural queries over declared targets.
type Graph interface {
	// AscendantTargets returns the targets declared in dir or any of its
	// ancestors, up to and including the build root.
	AscendantTargets(dir string) ([]Target, error)

	// Target returns the target at addr.
	Target(addr Address) (Target, error)
}

// MemoryGraph is a Graph over a fixed in-memory set of targets.
type MemoryGraph struct {
	targets map[Address]Target
}

// NewMemoryGraph builds a graph from targets. Duplicate addresses are an
// error.
func NewMemoryGraph(targets ...Target) (*MemoryGraph, error) {
	g := &MemoryGraph{targets: make(map[Address]Target, len(targets))}
	for _, t := range targets {
		if _, dup := g.targets[t.Address]; dup {
			return nil, fmt.Errorf("duplicate target %s", t.Address)
		}
		g.targets[t.Address] = t
	}
	return g, nil
}

// AscendantTargets returns matching targets sorted by address.
func (g *MemoryGraph) AscendantTargets(dir string) ([]Target, error) {
	dirs := ancestors(dir)
	var out []Target
	for addr, t := range g.targets {
		if _, ok := dirs[addr.SpecPath]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address.SpecPath != out[j].Address.SpecPath {
			return out[i].Address.SpecPath < out[j].Address.SpecPath
		}
		return out[i].Address.Name < out[j].Address.Name
	})
	return out, nil
}

// Target returns the target at addr.
func (g *MemoryGraph) Target(addr Address) (Target, error) {
	t, ok := g.targets[addr]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrTargetNotFound, addr)
	}
	return t, nil
}

// ancestors returns dir and every parent directory, including the root "".
func ancestors(dir string) map[string]struct{} {
	out := map[string]struct{}{"": {}}
	d := path.Clean(dir)
	for d != "." && d != "/" && d != "" {
		out[d] = struct{}{}
		d = path.Dir(d)
	}
	return out
}

// graphFile is the YAML layout read by LoadGraph.
type graphFile struct {
	Targets []struct {
		Address string         `yaml:"address"`
		Fields  map[string]any `yaml:"fields"`
	} `yaml:"targets"`
}

// LoadGraph reads a YAML build graph of the form:
//
//	targets:
//	  - address: proj/sub:lib
//	    fields:
//	      go_mod_sources: [proj/sub/go.mod]
func LoadGraph(file string) (*MemoryGraph, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading build graph: %w", err)
	}
	return ParseGraph(data)
}

// ParseGraph parses the YAML build graph format of LoadGraph.
func ParseGraph(data []byte) (*MemoryGraph, error) {
	var gf graphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("parsing build graph: %w", err)
	}
	targets := make([]Target, 0, len(gf.Targets))
	for i, raw := range gf.Targets {
		addr, err := ParseAddress(raw.Address)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		targets = append(targets, Target{Address: addr, Fields: raw.Fields})
	}
	return NewMemoryGraph(targets...)
}
