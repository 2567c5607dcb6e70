// Package vfs implements the authorization-scoped virtual filesystem layer:
// per-user path resolution with traversal containment, namespace ownership
// policy, directory and file operations, and the streaming compress /
// decompress transfer pipeline.
package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvedPath is a canonical absolute location confined to one user's
// namespace. It is constructed per request and never cached.
type ResolvedPath struct {
	Abs      string
	Owner    string
	Segments []string
}

// Resolver maps (userID, relative path) pairs onto absolute paths under a
// single base directory. Every resolution is checked for containment: a
// result that escapes base/userID is rejected, never clamped.
type Resolver struct {
	base string
}

// NewResolver creates a resolver rooted at base. The base directory is
// created if missing and resolved through symlinks once, so that later
// containment checks compare canonical paths.
func NewResolver(base string) (*Resolver, error) {
	if base == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("absolutize base %s: %w", base, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create base %s: %w", abs, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve base %s: %w", abs, err)
	}
	return &Resolver{base: canonical}, nil
}

// Base returns the canonical base directory.
func (r *Resolver) Base() string { return r.base }

// UserRoot returns the absolute namespace root for a user without touching
// the filesystem.
func (r *Resolver) UserRoot(userID string) (string, error) {
	if !validSegment(userID) {
		return "", fmt.Errorf("user id %q: %w", userID, ErrInvalidPath)
	}
	return filepath.Join(r.base, userID), nil
}

// Resolve turns a raw slash-separated path into a ResolvedPath inside the
// user's namespace. The raw path may be empty, which resolves to the
// namespace root. Any input that would land outside base/userID fails with
// ErrInvalidPath.
func (r *Resolver) Resolve(userID, rawPath string) (ResolvedPath, error) {
	root, err := r.UserRoot(userID)
	if err != nil {
		return ResolvedPath{}, err
	}

	if strings.HasPrefix(rawPath, "/") || filepath.IsAbs(rawPath) {
		return ResolvedPath{}, fmt.Errorf("absolute path: %w", ErrInvalidPath)
	}

	segments := splitPath(rawPath)
	for _, seg := range segments {
		if strings.ContainsRune(seg, 0) || strings.ContainsRune(seg, '\\') {
			return ResolvedPath{}, fmt.Errorf("segment %q: %w", seg, ErrInvalidPath)
		}
	}

	abs := filepath.Join(root, filepath.Join(segments...))

	// filepath.Join cleans "." and ".." lexically; after cleaning, the
	// target must still sit at or below the user root.
	if !within(abs, root) {
		return ResolvedPath{}, fmt.Errorf("path escapes namespace: %w", ErrInvalidPath)
	}

	// Symlink hardening: resolve the deepest existing ancestor and verify
	// it has not been re-pointed outside the user's namespace.
	if err := r.checkSymlinks(abs, root); err != nil {
		return ResolvedPath{}, err
	}

	return ResolvedPath{Abs: abs, Owner: userID, Segments: segments}, nil
}

// checkSymlinks walks up from target to the deepest existing path component,
// canonicalizes it, and requires the result to stay under the user's root.
// Checking against the shared base would let a symlink hop into another
// user's namespace.
func (r *Resolver) checkSymlinks(target, root string) error {
	p := target
	for {
		if _, err := os.Lstat(p); err == nil {
			break
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
	if p == r.base {
		// The namespace does not exist yet; the base is canonical by
		// construction.
		return nil
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p, ErrInvalidPath)
	}
	if !within(real, root) {
		return fmt.Errorf("symlink escapes namespace: %w", ErrInvalidPath)
	}
	return nil
}

// within reports whether path equals root or is a descendant of it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// splitPath breaks a slash-separated path into non-empty segments.
func splitPath(raw string) []string {
	var segments []string
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}

// validSegment reports whether name is usable as a single path component:
// non-empty, no separators, no traversal, no NUL.
func validSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.ContainsRune(name, 0) {
		return false
	}
	return true
}
