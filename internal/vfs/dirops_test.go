package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resolve(t *testing.T, r *Resolver, user, path string) ResolvedPath {
	t.Helper()
	res, err := r.Resolve(user, path)
	if err != nil {
		t.Fatalf("Resolve(%s, %s): %v", user, path, err)
	}
	return res
}

func TestCreateFolderIdempotenceFailure(t *testing.T) {
	r := newTestResolver(t)
	res := resolve(t, r, "alice", "projects/2026")

	if err := CreateFolder(res); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := CreateFolder(res); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: %v, want ErrAlreadyExists", err)
	}
	// The second call must not have destroyed the directory.
	if _, err := os.Stat(res.Abs); err != nil {
		t.Errorf("folder missing after duplicate create: %v", err)
	}
}

func TestCreateSubfolder(t *testing.T) {
	r := newTestResolver(t)
	parent := resolve(t, r, "alice", "assets")

	if err := CreateSubfolder(parent, "photos"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("create under missing parent: %v, want ErrNotFound", err)
	}

	if err := CreateFolder(parent); err != nil {
		t.Fatal(err)
	}
	if err := CreateSubfolder(parent, "photos"); err != nil {
		t.Fatalf("create subfolder: %v", err)
	}
	if err := CreateSubfolder(parent, "photos"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate subfolder: %v, want ErrAlreadyExists", err)
	}

	for _, bad := range []string{"", ".", "..", "a/b", "a\\b"} {
		if err := CreateSubfolder(parent, bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("CreateSubfolder(%q) = %v, want ErrInvalidPath", bad, err)
		}
	}
}

func TestListFolder(t *testing.T) {
	r := newTestResolver(t)
	res := resolve(t, r, "alice", "assets")

	if _, err := ListFolder(res); !errors.Is(err, ErrNotFound) {
		t.Fatalf("list missing folder: %v, want ErrNotFound", err)
	}

	if err := os.MkdirAll(filepath.Join(res.Abs, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	// Stored files are listed under their logical names.
	for _, f := range []string{"note.txt.gz", "b.bin", "a.pdf.gz"} {
		if err := os.WriteFile(filepath.Join(res.Abs, f), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ListFolder(res)
	if err != nil {
		t.Fatalf("ListFolder: %v", err)
	}
	want := []string{"a.pdf", "b.bin", "note.txt", "sub"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("ListFolder = %v, want %v", names, want)
	}
}

func TestListFolderOnFile(t *testing.T) {
	r := newTestResolver(t)
	res := resolve(t, r, "alice", "file.txt")
	if err := os.MkdirAll(filepath.Dir(res.Abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(res.Abs, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ListFolder(res); !errors.Is(err, ErrNotFound) {
		t.Errorf("list over a file: %v, want ErrNotFound", err)
	}
}

func TestDeleteFolder(t *testing.T) {
	r := newTestResolver(t)
	res := resolve(t, r, "alice", "misc/old")

	if err := DeleteFolder(res); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing folder: %v, want ErrNotFound", err)
	}

	if err := os.MkdirAll(filepath.Join(res.Abs, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(res.Abs, "nested", "f.gz"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := DeleteFolder(res); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if _, err := os.Stat(res.Abs); !os.IsNotExist(err) {
		t.Errorf("folder still present after delete")
	}
}
