package vfs

import (
	"fmt"
	"path"
)

// Identity is a verified caller, produced by the auth layer from a token.
type Identity struct {
	Subject string
	Admin   bool
}

// Operation classifies what a request wants to do inside a namespace.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// ProtectedFolders are created for every user at registration and may only
// be deleted by an admin.
var ProtectedFolders = []string{"assets", "invoices", "misc", "resume"}

// IsProtectedFolder reports whether name is one of the eagerly created
// folders that require admin rights to delete.
func IsProtectedFolder(name string) bool {
	for _, p := range ProtectedFolders {
		if name == p {
			return true
		}
	}
	return false
}

// IsProtectedTarget reports whether a raw path names a protected folder
// itself (a single segment matching a protected name). Content nested under
// a protected folder is not protected. The path is cleaned lexically first,
// so "misc/../assets" is the same target as "assets". Purely string work:
// the decision must be made before any filesystem access.
func IsProtectedTarget(rawPath string) bool {
	segs := splitPath(path.Clean("/" + rawPath))
	return len(segs) == 1 && IsProtectedFolder(segs[0])
}

// Authorize decides whether id may perform op against targetUser's
// namespace. protectedTarget marks deletions aimed at a protected folder.
// It must be called before any filesystem probe so that unauthorized
// callers learn nothing about what exists.
//
// Rules, in order: protected deletions require admin; owners may do
// anything else in their own namespace; admins may delete in any
// namespace; everything else is denied.
func Authorize(id Identity, targetUser string, op Operation, protectedTarget bool) error {
	if op == OpDelete && protectedTarget && !id.Admin {
		return fmt.Errorf("deleting protected folder: %w", ErrUnauthorized)
	}
	if id.Subject == targetUser {
		return nil
	}
	if op == OpDelete && id.Admin {
		return nil
	}
	return fmt.Errorf("%s access to namespace %s: %w", op, targetUser, ErrUnauthorized)
}
