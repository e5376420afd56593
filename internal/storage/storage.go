// Package storage keeps uploaded documents on local disk.
//
// The database only stores a reference ("/uploads/<name>"); the bytes live
// here. Names are flat: no subdirectories, no path separators, so a stored
// reference can never point outside the upload directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that are empty or carry a path.
var ErrInvalidName = errors.New("storage: invalid file name")

// Local is a FileStore rooted at one directory.
type Local struct {
	dir string
}

// NewLocal creates dir if needed and returns a store rooted there.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

// Dir is the root directory, used to serve /uploads statically.
func (l *Local) Dir() string {
	return l.dir
}

// ErrNoFreeName is returned by Save when every candidate name is taken.
var ErrNoFreeName = errors.New("storage: no free file name")

const maxNameAttempts = 100

// Save writes r under base+ext and returns the name actually used. If that
// name is taken it tries base-2+ext, base-3+ext and so on, so two uploads in
// the same millisecond never overwrite each other.
//
// The content goes to a temp file first and is hard-linked into place. A link
// fails if the target exists, which makes the name claim atomic; a reader
// never sees a half-written document and a failed copy leaves nothing behind.
func (l *Local) Save(base, ext string, r io.Reader) (string, int64, error) {
	if _, err := l.path(base + ext); err != nil {
		return "", 0, err
	}

	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("storage: writing %s%s: %w", base, ext, err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("storage: closing %s%s: %w", base, ext, err)
	}

	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		name := base + ext
		if attempt > 1 {
			name = fmt.Sprintf("%s-%d%s", base, attempt, ext)
		}
		err := os.Link(tmp.Name(), filepath.Join(l.dir, name))
		if err == nil {
			return name, n, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", 0, fmt.Errorf("storage: moving %s into place: %w", name, err)
		}
	}
	return "", 0, fmt.Errorf("%w for %s%s", ErrNoFreeName, base, ext)
}

// Open returns the stored file. A missing file yields an error matching
// fs.ErrNotExist.
func (l *Local) Open(name string) (*os.File, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", name, err)
	}
	return f, nil
}

// Delete removes name. Deleting a file that is already gone is not an error.
func (l *Local) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting %s: %w", name, err)
	}
	return nil
}

// NameFromURL strips the public "/uploads/" prefix from a stored reference.
func NameFromURL(fileURL string) string {
	return strings.TrimPrefix(fileURL, URLPrefix)
}

// URLPrefix is the public path the upload directory is served under.
const URLPrefix = "/uploads/"

// URLFor is the inverse of NameFromURL.
func URLFor(name string) string {
	return URLPrefix + name
}

func (l *Local) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.dir, name), nil
}
