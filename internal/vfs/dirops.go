package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// CreateFolder creates the directory at res, including missing ancestors.
// A second call for the same path fails with ErrAlreadyExists rather than
// succeeding silently.
func CreateFolder(res ResolvedPath) error {
	if _, err := os.Stat(res.Abs); err == nil {
		return fmt.Errorf("folder %s: %w", lastSegment(res), ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat folder: %w", err)
	}
	if err := os.MkdirAll(res.Abs, 0755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// CreateSubfolder creates a single named child under an existing parent.
// The parent must already exist; the child must not.
func CreateSubfolder(parent ResolvedPath, name string) error {
	if !validSegment(name) {
		return fmt.Errorf("subfolder name %q: %w", name, ErrInvalidPath)
	}
	info, err := os.Stat(parent.Abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("parent folder: %w", ErrNotFound)
		}
		return fmt.Errorf("stat parent: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("parent is not a folder: %w", ErrNotFound)
	}

	child := filepath.Join(parent.Abs, name)
	// Mkdir is the atomic exclusive-create primitive: a concurrent loser
	// gets EEXIST instead of corrupting anything.
	if err := os.Mkdir(child, 0755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("subfolder %s: %w", name, ErrAlreadyExists)
		}
		return fmt.Errorf("create subfolder: %w", err)
	}
	return nil
}

// ListFolder returns the logical names of a directory's children, sorted
// lexicographically. Stored compressed files are reported under their
// logical name with the suffix stripped.
func ListFolder(res ResolvedPath) ([]string, error) {
	entries, err := os.ReadDir(res.Abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("folder: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("read folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			name = LogicalName(name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteFolder recursively removes a directory and all its contents.
func DeleteFolder(res ResolvedPath) error {
	info, err := os.Stat(res.Abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("folder: %w", ErrNotFound)
		}
		return fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a folder: %w", ErrNotFound)
	}
	if err := os.RemoveAll(res.Abs); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// EnsureDir creates a resolved directory and any missing ancestors,
// tolerating an existing directory. Used by upload paths that materialize
// their targets on demand.
func EnsureDir(res ResolvedPath) error {
	if err := os.MkdirAll(res.Abs, 0755); err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

// ProvisionNamespace creates a user's root directory and its protected
// folders. Called at registration; idempotent.
func ProvisionNamespace(r *Resolver, userID string) error {
	root, err := r.UserRoot(userID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create namespace %s: %w", userID, err)
	}
	for _, name := range ProtectedFolders {
		if err := os.MkdirAll(filepath.Join(root, name), 0755); err != nil {
			return fmt.Errorf("create protected folder %s: %w", name, err)
		}
	}
	return nil
}

func lastSegment(res ResolvedPath) string {
	if len(res.Segments) == 0 {
		return res.Owner
	}
	return res.Segments[len(res.Segments)-1]
}
