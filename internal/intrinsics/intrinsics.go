// Package intrinsics exposes the content store and the process sandbox to
// the rule engine as built-in rules.
package intrinsics

import (
	"errors"

	"buildweaver/internal/engine"
	"buildweaver/internal/sandbox"
	"buildweaver/internal/store"
	"buildweaver/internal/trace"
)

// CreateDigest requests a tree built from literal file contents.
type CreateDigest struct {
	Files []store.FileContent
}

// RemovePrefix requests the subtree of Digest below Prefix.
type RemovePrefix struct {
	Digest store.Digest
	Prefix string
}

// AddPrefix requests Digest relocated below Prefix.
type AddPrefix struct {
	Digest store.Digest
	Prefix string
}

// MergeDigests requests the union of several trees.
type MergeDigests struct {
	Digests []store.Digest
}

// PathGlobs requests a snapshot of workspace files matching Globs.
type PathGlobs struct {
	Globs []string
}

// DigestContents is the flattened file list of a tree.
type DigestContents []store.FileContent

// Intrinsics binds the built-in rules to a store, a runner and a workspace.
type Intrinsics struct {
	Store  *store.Store
	Runner *sandbox.Runner

	// BuildRoot is the workspace directory PathGlobs are expanded in.
	BuildRoot string
}

// Register adds every intrinsic rule to reg.
func (in *Intrinsics) Register(reg *engine.Registry) error {
	return errors.Join(
		engine.Register(reg, "create_digest", in.createDigest),
		engine.Register(reg, "remove_prefix", in.removePrefix),
		engine.Register(reg, "add_prefix", in.addPrefix),
		engine.Register(reg, "merge_digests", in.mergeDigests),
		engine.Register(reg, "snapshot", in.snapshot),
		engine.Register(reg, "digest_contents", in.digestContents),
		engine.Register(reg, "path_globs_snapshot", in.pathGlobs),
		engine.Register(reg, "execute_process", in.executeProcess),
		engine.Register(reg, "execute_process_strict", in.executeProcessStrict),
	)
}

func (in *Intrinsics) createDigest(_ *engine.Call, req CreateDigest) (store.Digest, error) {
	return in.Store.StoreFiles(req.Files)
}

func (in *Intrinsics) removePrefix(_ *engine.Call, req RemovePrefix) (store.Digest, error) {
	return in.Store.StripPrefix(req.Digest, req.Prefix)
}

func (in *Intrinsics) addPrefix(_ *engine.Call, req AddPrefix) (store.Digest, error) {
	return in.Store.AddPrefix(req.Digest, req.Prefix)
}

func (in *Intrinsics) mergeDigests(_ *engine.Call, req MergeDigests) (store.Digest, error) {
	return in.Store.Merge(req.Digests...)
}

func (in *Intrinsics) snapshot(_ *engine.Call, d store.Digest) (store.Snapshot, error) {
	return in.Store.Snapshot(d)
}

func (in *Intrinsics) digestContents(_ *engine.Call, d store.Digest) (DigestContents, error) {
	return in.Store.Contents(d)
}

func (in *Intrinsics) pathGlobs(_ *engine.Call, req PathGlobs) (store.Snapshot, error) {
	d, err := in.Store.Capture(in.BuildRoot, req.Globs)
	if err != nil {
		return store.Snapshot{}, err
	}
	return in.Store.Snapshot(d)
}

func (in *Intrinsics) executeProcess(c *engine.Call, p sandbox.Process) (sandbox.FallibleProcessResult, error) {
	res, err := in.Runner.Run(c.Context(), p)
	if err != nil {
		return sandbox.FallibleProcessResult{}, err
	}

	kind := trace.EventProcessExecuted
	switch {
	case res.FromCache:
		kind = trace.EventProcessCached
	case res.TimedOut():
		kind = trace.EventProcessTimedOut
	}
	c.Record(trace.TraceEvent{
		Kind:    kind,
		Request: p.Describe(),
		Digests: []string{res.OutputDigest.String()},
	})
	return *res, nil
}

// executeProcessStrict builds on the fallible rule so that requesting both
// result shapes for one process executes it once.
func (in *Intrinsics) executeProcessStrict(c *engine.Call, p sandbox.Process) (sandbox.ProcessResult, error) {
	res, err := engine.Get[sandbox.FallibleProcessResult](c, p)
	if err != nil {
		return sandbox.ProcessResult{}, err
	}
	strict, err := sandbox.Strict(&res, p)
	if err != nil {
		return sandbox.ProcessResult{}, err
	}
	return *strict, nil
}
