// Package afero holds the local filesystem helpers the CLI uses to read
// upload sources and write downloads through spf13/afero.
package afero

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Glob expands pattern against fs. A pattern without meta characters is
// returned as is when the file exists.
func Glob(fs afero.Fs, pattern string) ([]string, error) {
	matches, err := afero.Glob(fs, pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no local files match %q", pattern)
	}
	return matches, nil
}

// OpenSized opens a regular file for reading and returns it with its size.
func OpenSized(fs afero.Fs, path string) (afero.File, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}
	return f, info.Size(), nil
}

// AtomicWrite streams r into a temporary file next to destPath and renames it
// into place once fully written, so a failed download never leaves a partial
// file at destPath.
func AtomicWrite(fs afero.Fs, destPath string, r io.Reader, perm os.FileMode) (int64, error) {
	dir, base := filepath.Split(destPath)
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fs, dir, "."+base+"~")
	if err != nil {
		return 0, fmt.Errorf("creating tmp file for atomic write: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = fs.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := fs.Chmod(tmp.Name(), perm); err != nil {
		return n, err
	}
	if err := fs.Rename(tmp.Name(), destPath); err != nil {
		return n, err
	}
	committed = true
	return n, nil
}
