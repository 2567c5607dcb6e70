package vfs

import (
	"mime"
	"path/filepath"
	"strings"
)

// Files are persisted gzip-compressed with this suffix appended to the
// logical filename. This file owns the logical <-> stored name mapping;
// nothing else in the codebase appends or strips the suffix.
const storedSuffix = ".gz"

// StoredName maps a logical filename to its on-disk name.
func StoredName(logical string) string {
	return logical + storedSuffix
}

// LogicalName maps an on-disk name back to the name clients see.
func LogicalName(stored string) string {
	return strings.TrimSuffix(stored, storedSuffix)
}

// IsStored reports whether name carries the compressed-storage suffix.
func IsStored(name string) bool {
	return strings.HasSuffix(name, storedSuffix)
}

// ContentTypeFor derives a media type from a logical filename's extension,
// defaulting to application/octet-stream.
func ContentTypeFor(logical string) string {
	ct := mime.TypeByExtension(filepath.Ext(logical))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
