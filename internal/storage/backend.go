package storage

import (
	"io"
	"time"
)

// Backend is the interface that wraps the file operations under the model root.
// All paths are relative to the root.
type Backend interface {
	// Name returns the name of the backend implementation.
	Name() string
	// Root returns the absolute location of the model root.
	Root() string

	// Exist returns true when the given file is present.
	Exist(relpath string) bool
	// Size returns the byte count of the given file.
	Size(relpath string) (int64, error)
	// Reader returns a ReadCloser of the file.
	Reader(relpath string) (io.ReadCloser, error)
	// Writer returns a WriteCloser of the file, creating parent
	// directories as needed. With resume, it appends to an existing file.
	Writer(relpath string, resume bool) (io.WriteCloser, error)

	// TempPath returns the temporary location colocated with relpath so
	// the final rename stays on the same filesystem.
	TempPath(relpath string) string
	// Rename atomically moves a file to its final location.
	Rename(oldpath, newpath string) error

	// Remove deletes the given file.
	Remove(relpath string) error
	// Cleanup removes temporary files stalled for longer than maxAge and
	// prunes empty directories.
	Cleanup(maxAge time.Duration) error
}
