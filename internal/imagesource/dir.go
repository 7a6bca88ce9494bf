package imagesource

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// DirProvider serves images from inbox directories: the gallery directory
// holds user-picked files and the camera directory receives captures. The
// most recently modified image wins. An empty or unset directory counts as
// a cancelled selection.
type DirProvider struct {
	GalleryDir string
	CameraDir  string
}

func (p *DirProvider) RequestGalleryImage(ctx context.Context) (string, error) {
	return newestImage(ctx, p.GalleryDir)
}

func (p *DirProvider) RequestCameraImage(ctx context.Context) (string, error) {
	return newestImage(ctx, p.CameraDir)
}

func newestImage(ctx context.Context, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if dir == "" {
		return "", ErrCancelled
	}

	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return "", ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return "", ErrCancelled
	case err != nil:
		return "", err
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = e.Name(), info.ModTime()
		}
	}
	if best == "" {
		return "", ErrCancelled
	}
	return filepath.Join(dir, best), nil
}

var _ Provider = (*DirProvider)(nil)
