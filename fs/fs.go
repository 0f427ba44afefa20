// Package fs defines the filesystem abstraction used to read manifests, build
// scripts, credential helpers and lockfiles. Implementations live in subpackages.
package fs

import (
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
)

// Filesystem is the set of operations envbuild performs on project files.
type Filesystem interface {
	Create(name string) (File, error)
	Exists(path string) (bool, error)
	MkdirAll(path string, perm os.FileMode) error
	Open(name string) (File, error)
	ReadDir(dirname string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	Remove(name string) error
	Stat(name string) (os.FileInfo, error)
	Walk(root string, walkFn filepath.WalkFunc) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
}

// IsExecutable reports whether path exists on fsys as a regular file with at
// least one execute bit set.
func IsExecutable(fsys Filesystem, path string) (bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	return info.Mode().Perm()&0o111 != 0, nil
}
