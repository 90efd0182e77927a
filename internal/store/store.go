// Package store writes produced image bytes to disk.
//
// A Store owns the default output directory. The directory is created the
// first time something is written into it. Files are written to a temporary
// sibling first and moved into place, so a crash never leaves a partial file
// under the final name. Names generated inside the default directory never
// replace an existing file. On filesystems without hard links, generated names
// are claimed with an exclusive create and written in place.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ironsheep/imagegen-mcp/internal/toolerr"
)

// DefaultDir is the default output directory, relative to the working directory.
const DefaultDir = "generated_images"

// maxNameAttempts bounds the search for a free generated name.
const maxNameAttempts = 10000

// linkFile is os.Link; tests replace it to simulate filesystems without links.
var linkFile = os.Link

// Store resolves output locations and performs writes.
type Store struct {
	dir string

	once    sync.Once
	initErr error
}

// New creates a Store rooted at dir. The directory is not touched until first use.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory %s: %w", dir, err)
	}
	return &Store{dir: abs}, nil
}

// Dir returns the absolute default output directory.
func (s *Store) Dir() string { return s.dir }

// ensureDir creates the default directory once.
func (s *Store) ensureDir() error {
	s.once.Do(func() {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			s.initErr = toolerr.Wrap(toolerr.KindIOFailure, err, "create output directory %s", s.dir)
		}
	})
	return s.initErr
}

// Resolve maps a caller-supplied file name into the default directory.
// Absolute names are returned unchanged.
func (s *Store) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.dir, name)
}

// Save writes data and returns the absolute path written.
//
// With an empty explicitPath the file is placed in the default directory as
// generated_<n><ext>, where n starts at the directory's entry count and is
// bumped past any existing name. With an explicitPath the parent directories
// are created and the file is replaced atomically.
func (s *Store) Save(data []byte, explicitPath, ext string) (string, error) {
	if explicitPath != "" {
		return s.saveExplicit(data, explicitPath)
	}
	return s.saveGenerated(data, ext)
}

func (s *Store) saveExplicit(data []byte, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "resolve output path %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "create directory for %s", abs)
	}

	tmp, err := writeTemp(filepath.Dir(abs), data)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "write %s", abs)
	}
	return abs, nil
}

func (s *Store) saveGenerated(data []byte, ext string) (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", err
	}
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "list output directory %s", s.dir)
	}

	tmp, err := writeTemp(s.dir, data)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	n := len(entries)
	useLink := true
	for i := 0; i < maxNameAttempts; i++ {
		candidate := filepath.Join(s.dir, fmt.Sprintf("generated_%d%s", n+i, ext))

		var err error
		if useLink {
			err = linkFile(tmp, candidate)
			if err != nil && !errors.Is(err, os.ErrExist) && linkUnsupported(err) {
				useLink = false
				err = createExclusive(candidate, data)
			}
		} else {
			err = createExclusive(candidate, data)
		}
		if err == nil {
			return candidate, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "write %s", candidate)
	}
	return "", toolerr.New(toolerr.KindIOFailure, "no free output name in %s after %d attempts", s.dir, maxNameAttempts)
}

// linkUnsupported reports whether a link failure means the filesystem cannot
// hard link at all, as on FAT volumes and some network mounts.
func linkUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, os.ErrPermission)
}

// createExclusive writes data to path, failing with os.ErrExist if path is
// already taken. A failed write removes the partial file.
func createExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// writeTemp writes data to a synced temporary file in dir and returns its path.
func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".imagegen-*.tmp")
	if err != nil {
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "create temp file in %s", dir)
	}
	name := f.Name()

	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(name)
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "chmod temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", toolerr.Wrap(toolerr.KindIOFailure, err, "close temp file")
	}
	return name, nil
}
