// Package filestore keeps downloaded bulletins in a flat, append-only directory.
//
// File names are derived from the publication timestamp embedded in the archive link,
// so the same document always maps to the same name and an existing name means the
// document was already downloaded.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/guttosm/spimexpulse/internal/domain/models"
)

const (
	namePrefix = "oil_"
	nameLayout = "2006-01-02_15-04-05"
	nameExt    = ".xls"
)

// ErrExists is returned by Save when the target name is already present.
var ErrExists = errors.New("document already stored")

// NameFor derives the stored file name for a publication timestamp,
// e.g. oil_2024-10-14_16-20-00.xls.
func NameFor(publishedAt time.Time) string {
	return namePrefix + publishedAt.UTC().Format(nameLayout) + nameExt
}

// ParseName is the inverse of NameFor.
func ParseName(name string) (time.Time, error) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, namePrefix) || !strings.HasSuffix(base, nameExt) {
		return time.Time{}, fmt.Errorf("file %q is not a stored bulletin", base)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(base, namePrefix), nameExt)
	t, err := time.ParseInLocation(nameLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("file %q: %w", base, err)
	}
	return t, nil
}

// Store is a directory of bulletins on an afero filesystem.
type Store struct {
	fs  afero.Fs
	dir string
}

// New ensures dir exists on fs and is a directory.
func New(fs afero.Fs, dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	info, err := fs.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat data directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("data directory %q is not a directory", dir)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// NewOS returns a Store on the real filesystem.
func NewOS(dir string) (*Store, error) {
	return New(afero.NewOsFs(), dir)
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Ready reports whether the data directory is still present.
func (s *Store) Ready() error {
	info, err := s.fs.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory %q is not a directory", s.dir)
	}
	return nil
}

// Path returns the full path of name inside the store.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, filepath.Base(name)) }

// Exists reports whether name is already stored.
func (s *Store) Exists(name string) (bool, error) {
	return afero.Exists(s.fs, s.Path(name))
}

// Save writes data under name. It writes to a temporary file first and renames it,
// so readers never observe a partially written document.
func (s *Store) Save(name string, publishedAt time.Time, data []byte) (models.DownloadedFile, error) {
	target := s.Path(name)
	file := models.DownloadedFile{Name: filepath.Base(name), Path: target, PublishedAt: publishedAt}

	exists, err := s.Exists(name)
	if err != nil {
		return file, fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		return file, ErrExists
	}

	tmp, err := afero.TempFile(s.fs, s.dir, ".download-*.tmp")
	if err != nil {
		return file, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return file, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return file, fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		cleanup()
		return file, fmt.Errorf("rename %s: %w", name, err)
	}
	return file, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(name string) (afero.File, error) {
	return s.fs.Open(s.Path(name))
}

// List returns every stored bulletin, newest first. Files that do not follow the
// naming scheme (temp files, strays) are ignored.
func (s *Store) List() ([]models.DownloadedFile, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	files := make([]models.DownloadedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		published, err := ParseName(e.Name())
		if err != nil {
			continue
		}
		files = append(files, models.DownloadedFile{Name: e.Name(), Path: s.Path(e.Name()), PublishedAt: published})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].PublishedAt.After(files[j].PublishedAt) })
	return files, nil
}
