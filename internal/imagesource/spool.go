package imagesource

import (
	"fmt"
	"io"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Spool stores uploaded images on local disk so they can be used as handles.
type Spool struct {
	dir string
}

// NewSpool creates dir if needed.
func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Save copies r into a new spool file and returns its path. ext should
// include the leading dot.
func (s *Spool) Save(r io.Reader, ext string) (string, error) {
	if !imageExtensions[ext] {
		ext = ".jpg"
	}
	path := filepath.Join(s.dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Discard removes a file previously returned by Save. Paths outside the
// spool directory are refused.
func (s *Spool) Discard(path string) error {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == "." || rel != filepath.Base(rel) {
		return fmt.Errorf("%s is not a spooled file", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
