package storage

import (
	"io"
	fspkg "io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mdouchement/modelsync/internal/syncerror"
)

// TempSuffix marks in-flight downloads colocated with their destination.
const TempSuffix = ".part"

type fs struct {
	root string
}

// NewFileSystem returns a new File System backend rooted at the given directory.
func NewFileSystem(root string) Backend {
	return &fs{
		root: root,
	}
}

func (b *fs) Name() string {
	return "file_system"
}

func (b *fs) Root() string {
	return b.root
}

func (b *fs) Exist(relpath string) bool {
	_, err := os.Stat(filepath.Join(b.root, relpath))
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	return true // ignoring error
}

func (b *fs) Size(relpath string) (int64, error) {
	info, err := os.Stat(filepath.Join(b.root, relpath))
	if err != nil {
		return 0, syncerror.Wrap(syncerror.Filesystem, err, "could not stat file")
	}
	return info.Size(), nil
}

func (b *fs) Reader(relpath string) (io.ReadCloser, error) {
	rc, err := os.Open(filepath.Join(b.root, relpath))
	if err != nil {
		return rc, syncerror.Wrap(syncerror.Filesystem, err, "could not open file")
	}
	return rc, nil
}

func (b *fs) Writer(relpath string, resume bool) (io.WriteCloser, error) {
	if err := b.mkdirAllWithFilename(relpath); err != nil {
		return nil, err
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if resume {
		flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	wc, err := os.OpenFile(filepath.Join(b.root, relpath), flag, 0644)
	if err != nil {
		return wc, syncerror.Wrap(syncerror.Filesystem, err, "could not create file")
	}
	return wc, nil
}

func (b *fs) TempPath(relpath string) string {
	return relpath + TempSuffix
}

func (b *fs) Rename(oldpath, newpath string) error {
	if err := b.mkdirAllWithFilename(newpath); err != nil {
		return err
	}

	err := os.Rename(filepath.Join(b.root, oldpath), filepath.Join(b.root, newpath))
	return syncerror.Wrap(syncerror.Filesystem, err, "could not rename file")
}

func (b *fs) Remove(relpath string) error {
	err := os.Remove(filepath.Join(b.root, relpath))
	if err != nil && !os.IsNotExist(err) {
		return syncerror.Wrap(syncerror.Filesystem, err, "could not delete file")
	}
	return nil
}

func (b *fs) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	// Find stalled temporary files and empty directories.
	//
	stats := map[string]int{}
	var stalled []string
	err := filepath.Walk(b.root, func(path string, info fspkg.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path == b.root {
				return nil
			}
			stats[path] = 0
			return nil
		}

		if strings.HasSuffix(path, TempSuffix) && info.ModTime().Before(cutoff) {
			stalled = append(stalled, path)
			return nil
		}

		if strings.HasSuffix(path, ".DS_Store") {
			return nil
		}

		trimmedpath := strings.Replace(path, b.root, "", 1)
		base := b.root

		for _, segment := range strings.Split(filepath.Dir(trimmedpath), string(os.PathSeparator)) {
			base = filepath.Join(base, segment)
			if !strings.HasPrefix(base, b.root) {
				continue
			}
			stats[base]++
		}
		return nil
	})
	if err != nil {
		return syncerror.Wrap(syncerror.Filesystem, err, "cleanup")
	}

	for _, path := range stalled {
		os.Remove(path)
	}

	// Remove empty directories.
	//
	for dirname, count := range stats {
		if count == 0 {
			os.RemoveAll(dirname)
		}
	}
	return nil
}

func (b *fs) mkdirAllWithFilename(relpath string) error {
	dir := filepath.Join(b.root, filepath.Dir(relpath))
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	err := os.MkdirAll(dir, 0755)
	return syncerror.Wrap(syncerror.Filesystem, err, "could not create directory")
}
