// Package vfs provides rooted filesystem access for repository control
// and store directories. Names are root-relative and use forward slashes
// regardless of platform.
package vfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

type FS struct {
	root string
}

func New(root string) *FS {
	return &FS{root: root}
}

func (f *FS) Root() string { return f.root }

// Join resolves a root-relative name to an absolute path.
func (f *FS) Join(name string) string {
	return filepath.Join(f.root, filepath.FromSlash(name))
}

func (f *FS) Exists(name string) bool {
	_, err := os.Lstat(f.Join(name))
	return err == nil
}

func (f *FS) IsDir(name string) bool {
	st, err := os.Stat(f.Join(name))
	return err == nil && st.IsDir()
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(f.Join(name))
}

// Size returns the current length of the named file.
func (f *FS) Size(name string) (int64, error) {
	st, err := os.Stat(f.Join(name))
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f *FS) Open(name string) (*os.File, error) {
	return os.Open(f.Join(name))
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(f.Join(name))
}

// TryRead returns the contents of name, or nil if it cannot be read.
func (f *FS) TryRead(name string) []byte {
	data, err := os.ReadFile(f.Join(name))
	if err != nil {
		return nil
	}
	return data
}

// ReadRange reads up to size bytes starting at offset. A file that ends
// early yields a short result, reported through the length of the
// returned slice rather than an error.
func (f *FS) ReadRange(name string, offset, size int64) ([]byte, error) {
	fp, err := os.Open(f.Join(name))
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	buf := make([]byte, size)
	n, err := fp.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s at byte %d: %w", name, offset, err)
	}
	return buf[:n], nil
}

// WriteFile writes data to name, creating parent directories as needed.
func (f *FS) WriteFile(name string, data []byte) error {
	path := f.Join(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// WriteAtomic writes data to a temporary file and renames it into place,
// so readers never observe a partial write.
func (f *FS) WriteAtomic(name string, data []byte) error {
	path := f.Join(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// OpenAppend opens name for appending, creating it (and parents) if
// needed.
func (f *FS) OpenAppend(name string) (*os.File, error) {
	path := f.Join(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (f *FS) MakeDirs(name string) error {
	return os.MkdirAll(f.Join(name), 0755)
}

func (f *FS) ListDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(f.Join(name))
}

// TryUnlink removes name, ignoring errors.
func (f *FS) TryUnlink(name string) {
	os.Remove(f.Join(name))
}

func (f *FS) Rename(oldname, newname string) error {
	return os.Rename(f.Join(oldname), f.Join(newname))
}

func (f *FS) Truncate(name string, size int64) error {
	return os.Truncate(f.Join(name), size)
}

// Basename returns the final element of a root-relative name.
func Basename(name string) string {
	return path.Base(name)
}
