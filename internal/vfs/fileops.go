package vfs

import (
	"fmt"
	"os"
)

// DeleteFile removes exactly one file, using the same dual probe as
// download: a request to delete "report" also matches a stored
// "report.gz". Directories are never removed here.
func DeleteFile(res ResolvedPath) error {
	path, _, err := Locate(res)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file: %w", ErrNotFound)
		}
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
