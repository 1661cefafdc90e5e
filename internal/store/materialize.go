package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Materialize realizes the tree at d in a fresh private directory, calls fn
// with that directory, and removes the directory afterwards.
//
// Each call gets its own directory, so concurrent materializations never share
// files. The directory is removed even when fn fails, unless the store was
// created WithKeepSandboxes.
func (s *Store) Materialize(ctx context.Context, d Digest, fn func(dir string) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.loadDirectory(d); err != nil {
		return fmt.Errorf("materializing: %w", err)
	}
	if err := os.MkdirAll(s.scratchDir, 0o755); err != nil {
		return fmt.Errorf("creating scratch directory: %w", err)
	}
	dir, err := os.MkdirTemp(s.scratchDir, "sandbox-")
	if err != nil {
		return fmt.Errorf("creating sandbox directory: %w", err)
	}
	if !s.keepSandboxes {
		defer func() {
			if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
				err = fmt.Errorf("removing sandbox directory: %w", rmErr)
			}
		}()
	}

	if err := s.writeTree(d, dir); err != nil {
		return fmt.Errorf("materializing %s: %w", d, err)
	}
	return fn(dir)
}

// writeTree writes the tree at d below target, which must already exist.
func (s *Store) writeTree(d Digest, target string) error {
	dir, err := s.loadDirectory(d)
	if err != nil {
		return err
	}
	for _, f := range dir.Files {
		content, err := s.LoadBytes(f.Digest)
		if err != nil {
			return err
		}
		perm := os.FileMode(0o644)
		if f.Executable {
			perm = 0o755
		}
		p := filepath.Join(target, f.Name)
		if err := os.WriteFile(p, content, perm); err != nil {
			return err
		}
		// WriteFile honours the umask; force the declared mode.
		if err := os.Chmod(p, perm); err != nil {
			return err
		}
	}
	for _, sub := range dir.Dirs {
		p := filepath.Join(target, sub.Name)
		if err := os.Mkdir(p, 0o755); err != nil {
			return err
		}
		if err := s.writeTree(sub.Digest, p); err != nil {
			return err
		}
	}
	return nil
}
