package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// FileContent is a single file to ingest or a file read back from a tree.
type FileContent struct {
	Path         string
	Content      []byte
	IsExecutable bool
}

// Snapshot is a digest together with the paths the tree at that digest holds.
//
// Files and Dirs are sorted and always consistent with the tree at Digest.
type Snapshot struct {
	Digest Digest
	Files  []string
	Dirs   []string
}

type fileEntry struct {
	Name       string
	Digest     Digest
	Executable bool
}

type dirEntry struct {
	Name   string
	Digest Digest
}

// directory is the canonical tree node. Entries are sorted by name.
type directory struct {
	Files []fileEntry
	Dirs  []dirEntry
}

const treeHeader = "buildweaver-tree:v1\n"

// serializeDirectory produces the canonical bytes of a directory node.
//
// Every field is length-prefixed so no two distinct directories share an
// encoding.
func serializeDirectory(d *directory) []byte {
	var buf bytes.Buffer
	buf.WriteString(treeHeader)

	writeField := func(data string) {
		var lengthBytes [8]byte
		binary.BigEndian.PutUint64(lengthBytes[:], uint64(len(data)))
		buf.Write(lengthBytes[:])
		buf.WriteString(data)
	}

	for _, f := range d.Files {
		writeField("f")
		writeField(f.Name)
		writeField(f.Digest.Fingerprint)
		writeField(strconv.FormatInt(f.Digest.SizeBytes, 10))
		if f.Executable {
			writeField("x")
		} else {
			writeField("-")
		}
	}
	for _, sub := range d.Dirs {
		writeField("d")
		writeField(sub.Name)
		writeField(sub.Digest.Fingerprint)
		writeField(strconv.FormatInt(sub.Digest.SizeBytes, 10))
	}
	return buf.Bytes()
}

// node is the mutable form of a tree used while building or merging.
type node struct {
	files map[string]fileEntry
	dirs  map[string]*node
}

func newNode() *node {
	return &node{files: map[string]fileEntry{}, dirs: map[string]*node{}}
}

// cleanRelPath normalizes p and rejects absolute or escaping paths.
func cleanRelPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	c := path.Clean(p)
	if c == "." {
		return "", fmt.Errorf("path %q names the root", p)
	}
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("path %q escapes the root", p)
	}
	return c, nil
}

// ensureDir returns the node at the slash-separated dir path, creating it.
func (n *node) ensureDir(dir string) (*node, error) {
	cur := n
	if dir == "" {
		return cur, nil
	}
	walked := ""
	for _, part := range strings.Split(dir, "/") {
		walked = path.Join(walked, part)
		if _, isFile := cur.files[part]; isFile {
			return nil, &MergeConflictError{Path: walked, Reason: "file and directory share a path"}
		}
		next, ok := cur.dirs[part]
		if !ok {
			next = newNode()
			cur.dirs[part] = next
		}
		cur = next
	}
	return cur, nil
}

// insertFile adds a file entry at p. An identical entry is accepted.
func (n *node) insertFile(p string, entry fileEntry) error {
	dir, name := path.Split(p)
	parent, err := n.ensureDir(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return err
	}
	if _, isDir := parent.dirs[name]; isDir {
		return &MergeConflictError{Path: p, Reason: "file and directory share a path"}
	}
	entry.Name = name
	if existing, ok := parent.files[name]; ok && existing != entry {
		return &MergeConflictError{Path: p, Reason: "conflicting file content"}
	}
	parent.files[name] = entry
	return nil
}

// mergeFrom merges src into n. at is the path of n, used for error messages.
func (n *node) mergeFrom(src *node, at string) error {
	for name, f := range src.files {
		p := path.Join(at, name)
		if _, isDir := n.dirs[name]; isDir {
			return &MergeConflictError{Path: p, Reason: "file and directory share a path"}
		}
		if existing, ok := n.files[name]; ok && existing != f {
			return &MergeConflictError{Path: p, Reason: "conflicting file content"}
		}
		n.files[name] = f
	}
	for name, sub := range src.dirs {
		p := path.Join(at, name)
		if _, isFile := n.files[name]; isFile {
			return &MergeConflictError{Path: p, Reason: "file and directory share a path"}
		}
		dst, ok := n.dirs[name]
		if !ok {
			dst = newNode()
			n.dirs[name] = dst
		}
		if err := dst.mergeFrom(sub, p); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
