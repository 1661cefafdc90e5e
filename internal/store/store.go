package store

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Store is an in-memory content-addressed map of blobs and trees.
//
// It is safe for concurrent use. Writes are idempotent: storing the same
// content twice yields the same Digest and leaves a single copy.
type Store struct {
	mu    sync.RWMutex
	blobs map[Digest][]byte
	trees map[Digest]*directory

	scratchDir    string
	keepSandboxes bool
}

// Option configures a Store.
type Option func(*Store)

// WithScratchDir sets the parent directory for materialized trees.
// Defaults to os.TempDir().
func WithScratchDir(dir string) Option {
	return func(s *Store) { s.scratchDir = dir }
}

// WithKeepSandboxes disables removal of materialized directories.
// Intended for debugging only.
func WithKeepSandboxes(keep bool) Option {
	return func(s *Store) { s.keepSandboxes = keep }
}

// New creates an empty Store that already holds the empty tree.
func New(opts ...Option) *Store {
	s := &Store{
		blobs: make(map[Digest][]byte),
		trees: make(map[Digest]*directory),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scratchDir == "" {
		s.scratchDir = os.TempDir()
	}
	s.trees[EmptyDigest] = &directory{}
	return s
}

// StoreBytes ingests raw content and returns its Digest.
func (s *Store) StoreBytes(content []byte) Digest {
	d := digestOf(content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[d]; !ok {
		cp := make([]byte, len(content))
		copy(cp, content)
		s.blobs[d] = cp
	}
	return d
}

// LoadBytes returns the blob stored under d.
func (s *Store) LoadBytes(d Digest) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[d]
	if !ok {
		return nil, notFound("blob", d)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// StoreFiles ingests a set of files as one tree and returns the tree Digest.
//
// Paths must be relative and must not escape the root. The same path given
// twice with identical content is accepted; with different content it fails.
func (s *Store) StoreFiles(files []FileContent) (Digest, error) {
	root := newNode()
	for _, f := range files {
		p, err := cleanRelPath(f.Path)
		if err != nil {
			return Digest{}, fmt.Errorf("storing files: %w", err)
		}
		entry := fileEntry{Digest: s.StoreBytes(f.Content), Executable: f.IsExecutable}
		if err := root.insertFile(p, entry); err != nil {
			return Digest{}, fmt.Errorf("storing files: %w", err)
		}
	}
	return s.writeNode(root), nil
}

// HasTree reports whether d names a tree in the store.
func (s *Store) HasTree(d Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.trees[d]
	return ok
}

// writeNode stores n and all of its subdirectories bottom-up.
func (s *Store) writeNode(n *node) Digest {
	dir := &directory{}
	for _, name := range sortedKeys(n.files) {
		dir.Files = append(dir.Files, n.files[name])
	}
	for _, name := range sortedKeys(n.dirs) {
		dir.Dirs = append(dir.Dirs, dirEntry{Name: name, Digest: s.writeNode(n.dirs[name])})
	}
	return s.writeDirectory(dir)
}

func (s *Store) writeDirectory(dir *directory) Digest {
	d := digestOf(serializeDirectory(dir))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[d]; !ok {
		s.trees[d] = dir
	}
	return d
}

func (s *Store) loadDirectory(d Digest) (*directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir, ok := s.trees[d]
	if !ok {
		return nil, notFound("tree", d)
	}
	return dir, nil
}

// expand loads the tree at d into a mutable node.
func (s *Store) expand(d Digest) (*node, error) {
	dir, err := s.loadDirectory(d)
	if err != nil {
		return nil, err
	}
	n := newNode()
	for _, f := range dir.Files {
		n.files[f.Name] = f
	}
	for _, sub := range dir.Dirs {
		child, err := s.expand(sub.Digest)
		if err != nil {
			return nil, err
		}
		n.dirs[sub.Name] = child
	}
	return n, nil
}

// Merge unions trees into one. Identical content at the same path is allowed;
// anything else at a shared path is a *MergeConflictError.
func (s *Store) Merge(digests ...Digest) (Digest, error) {
	switch len(digests) {
	case 0:
		return EmptyDigest, nil
	case 1:
		if _, err := s.loadDirectory(digests[0]); err != nil {
			return Digest{}, err
		}
		return digests[0], nil
	}

	root := newNode()
	for _, d := range digests {
		n, err := s.expand(d)
		if err != nil {
			return Digest{}, fmt.Errorf("merging digests: %w", err)
		}
		if err := root.mergeFrom(n, ""); err != nil {
			return Digest{}, err
		}
	}
	return s.writeNode(root), nil
}

// StripPrefix returns the tree found under prefix.
//
// Every entry of the tree must live under prefix; a missing prefix or an entry
// outside of it is a *PrefixError. An empty prefix returns d unchanged.
func (s *Store) StripPrefix(d Digest, prefix string) (Digest, error) {
	if prefix == "" || prefix == "." {
		if _, err := s.loadDirectory(d); err != nil {
			return Digest{}, err
		}
		return d, nil
	}
	clean, err := cleanRelPath(prefix)
	if err != nil {
		return Digest{}, &PrefixError{Digest: d, Prefix: prefix, Msg: err.Error()}
	}

	cur := d
	walked := ""
	for _, part := range strings.Split(clean, "/") {
		dir, err := s.loadDirectory(cur)
		if err != nil {
			return Digest{}, err
		}
		var next *Digest
		var others []string
		for _, f := range dir.Files {
			others = append(others, path.Join(walked, f.Name))
		}
		for i := range dir.Dirs {
			if dir.Dirs[i].Name == part {
				next = &dir.Dirs[i].Digest
				continue
			}
			others = append(others, path.Join(walked, dir.Dirs[i].Name))
		}
		if next == nil {
			return Digest{}, &PrefixError{Digest: d, Prefix: prefix, Msg: "no entry has that prefix"}
		}
		if len(others) > 0 {
			return Digest{}, &PrefixError{
				Digest: d,
				Prefix: prefix,
				Msg:    fmt.Sprintf("entries outside the prefix: %s", strings.Join(others, ", ")),
			}
		}
		cur = *next
		walked = path.Join(walked, part)
	}
	return cur, nil
}

// AddPrefix nests the tree at d under prefix.
func (s *Store) AddPrefix(d Digest, prefix string) (Digest, error) {
	if _, err := s.loadDirectory(d); err != nil {
		return Digest{}, err
	}
	if prefix == "" || prefix == "." {
		return d, nil
	}
	clean, err := cleanRelPath(prefix)
	if err != nil {
		return Digest{}, fmt.Errorf("adding prefix: %w", err)
	}
	parts := strings.Split(clean, "/")
	cur := d
	for i := len(parts) - 1; i >= 0; i-- {
		cur = s.writeDirectory(&directory{Dirs: []dirEntry{{Name: parts[i], Digest: cur}}})
	}
	return cur, nil
}

// Snapshot lists the files and directories held by the tree at d.
func (s *Store) Snapshot(d Digest) (Snapshot, error) {
	snap := Snapshot{Digest: d, Files: []string{}, Dirs: []string{}}
	err := s.walk(d, "", func(p string, f *fileEntry) error {
		if f == nil {
			snap.Dirs = append(snap.Dirs, p)
		} else {
			snap.Files = append(snap.Files, p)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	sort.Strings(snap.Files)
	sort.Strings(snap.Dirs)
	return snap, nil
}

// Contents reads back every file of the tree at d, sorted by path.
func (s *Store) Contents(d Digest) ([]FileContent, error) {
	var out []FileContent
	err := s.walk(d, "", func(p string, f *fileEntry) error {
		if f == nil {
			return nil
		}
		b, err := s.LoadBytes(f.Digest)
		if err != nil {
			return fmt.Errorf("reading %q: %w", p, err)
		}
		out = append(out, FileContent{Path: p, Content: b, IsExecutable: f.Executable})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// walk visits every entry below d. fn receives a nil entry for directories.
func (s *Store) walk(d Digest, at string, fn func(p string, f *fileEntry) error) error {
	dir, err := s.loadDirectory(d)
	if err != nil {
		return err
	}
	for i := range dir.Files {
		if err := fn(path.Join(at, dir.Files[i].Name), &dir.Files[i]); err != nil {
			return err
		}
	}
	for _, sub := range dir.Dirs {
		p := path.Join(at, sub.Name)
		if err := fn(p, nil); err != nil {
			return err
		}
		if err := s.walk(sub.Digest, p, fn); err != nil {
			return err
		}
	}
	return nil
}
