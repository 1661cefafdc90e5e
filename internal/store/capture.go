package store

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// IngestPaths reads the given files and directories below root into one tree.
//
// Paths are matched exactly, never expanded as globs. A declared file must be
// a regular file and a declared directory must be a directory; anything else
// (including absence) wraps ErrPathNotFound. Directories are ingested
// recursively, including empty subdirectories.
func (s *Store) IngestPaths(root string, files, dirs []string) (Digest, error) {
	tree := newNode()

	for _, f := range files {
		rel, err := cleanRelPath(f)
		if err != nil {
			return Digest{}, err
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			return Digest{}, fmt.Errorf("declared file %q: %w", f, ErrPathNotFound)
		}
		if err := s.ingestFile(tree, rel, full, info); err != nil {
			return Digest{}, err
		}
	}

	for _, d := range dirs {
		rel, err := cleanRelPath(d)
		if err != nil {
			return Digest{}, err
		}
		full := filepath.Join(root, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if err != nil || !info.IsDir() {
			return Digest{}, fmt.Errorf("declared directory %q: %w", d, ErrPathNotFound)
		}
		err = filepath.WalkDir(full, func(p string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			sub, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			sub = filepath.ToSlash(sub)
			if entry.IsDir() {
				_, err := tree.ensureDir(sub)
				return err
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			return s.ingestFile(tree, sub, p, info)
		})
		if err != nil {
			return Digest{}, fmt.Errorf("ingesting directory %q: %w", d, err)
		}
	}

	return s.writeNode(tree), nil
}

func (s *Store) ingestFile(tree *node, rel, full string, info os.FileInfo) error {
	content, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("reading %q: %w", rel, err)
	}
	entry := fileEntry{Digest: s.StoreBytes(content), Executable: info.Mode()&0o111 != 0}
	return tree.insertFile(rel, entry)
}

// Capture ingests the workspace files below root that match any of globs.
//
// Expansion is sorted and deduplicated so the resulting Digest does not depend
// on filesystem ordering. Directories matched by a glob are skipped; only
// files become part of the tree.
func (s *Store) Capture(root string, globs []string) (Digest, error) {
	seen := make(map[string]struct{})
	for _, g := range globs {
		pattern := g
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(root, filepath.FromSlash(g))
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return Digest{}, fmt.Errorf("expanding pattern %q: %w", g, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return Digest{}, fmt.Errorf("stat %q: %w", m, err)
			}
			if info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(root, m)
			if err != nil {
				return Digest{}, err
			}
			seen[filepath.ToSlash(rel)] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]FileContent, 0, len(paths))
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		info, err := os.Stat(full)
		if err != nil {
			return Digest{}, fmt.Errorf("stat %q: %w", p, err)
		}
		content, err := os.ReadFile(full)
		if err != nil {
			return Digest{}, fmt.Errorf("reading input %q: %w", p, err)
		}
		files = append(files, FileContent{Path: p, Content: content, IsExecutable: info.Mode()&0o111 != 0})
	}
	return s.StoreFiles(files)
}
