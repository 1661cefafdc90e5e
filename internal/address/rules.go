package address

import (
	"errors"
	"sort"

	"buildweaver/internal/engine"
)

// AscendantAddresses requests every target declared in Directory or above.
type AscendantAddresses struct {
	Directory string
}

func (a AscendantAddresses) Describe() string {
	return "ascendants of " + a.Directory
}

// NearestAncestorRequest asks for the closest target, in Address's
// directory or above, that declares Field.
type NearestAncestorRequest struct {
	Address Address
	Field   string

	// Hint overrides the remediation advice of the ResolutionError.
	Hint string
}

func (r NearestAncestorRequest) Describe() string {
	return "nearest `" + r.Field + "` owner of " + r.Address.String()
}

// Rules exposes a Graph to the engine.
type Rules struct {
	Graph Graph
}

// Register adds the address rules to reg.
func (r *Rules) Register(reg *engine.Registry) error {
	return errors.Join(
		engine.Register(reg, "ascendant_targets", r.ascendantTargets),
		engine.Register(reg, "resolve_target", r.resolveTarget),
		engine.Register(reg, "nearest_ancestor", r.nearestAncestor),
	)
}

func (r *Rules) ascendantTargets(_ *engine.Call, req AscendantAddresses) (Targets, error) {
	return r.Graph.AscendantTargets(req.Directory)
}

func (r *Rules) resolveTarget(_ *engine.Call, addr Address) (Target, error) {
	return r.Graph.Target(addr)
}

func (r *Rules) nearestAncestor(c *engine.Call, req NearestAncestorRequest) (Target, error) {
	candidates, err := engine.Get[Targets](c, AscendantAddresses{Directory: req.Address.SpecPath})
	if err != nil {
		return Target{}, err
	}
	nearest, ok := Nearest(candidates, req.Field)
	if !ok {
		return Target{}, &ResolutionError{Address: req.Address, Field: req.Field, Hint: req.Hint}
	}
	return nearest, nil
}

// Nearest picks the target declaring field with the deepest spec path.
// Targets in the same directory are ordered by name.
func Nearest(candidates []Target, field string) (Target, bool) {
	var matching []Target
	for _, t := range candidates {
		if t.Has(field) {
			matching = append(matching, t)
		}
	}
	if len(matching) == 0 {
		return Target{}, false
	}
	sort.SliceStable(matching, func(i, j int) bool {
		a, b := matching[i].Address, matching[j].Address
		if a.SpecPath != b.SpecPath {
			return a.SpecPath > b.SpecPath
		}
		return a.Name < b.Name
	})
	return matching[0], true
}
