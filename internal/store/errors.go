package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a digest is not present in the store.
	ErrNotFound = errors.New("digest not found")

	// ErrPathNotFound is returned when ingesting a declared path that does not exist.
	ErrPathNotFound = errors.New("path not found")
)

// MergeConflictError reports two trees defining different content at one path.
type MergeConflictError struct {
	Path   string
	Reason string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("cannot merge digests: %s at %q", e.Reason, e.Path)
}

// PrefixError reports a StripPrefix that cannot be applied.
type PrefixError struct {
	Digest Digest
	Prefix string
	Msg    string
}

func (e *PrefixError) Error() string {
	return fmt.Sprintf("cannot strip prefix %q from %s: %s", e.Prefix, e.Digest, e.Msg)
}

func notFound(kind string, d Digest) error {
	return fmt.Errorf("%s %s: %w", kind, d, ErrNotFound)
}
