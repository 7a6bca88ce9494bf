// Package imagesource supplies local image handles to the scan workflow.
package imagesource

import (
	"context"
	"errors"
)

var (
	// ErrCancelled means the user made no selection.
	ErrCancelled = errors.New("image selection cancelled")
	// ErrPermissionDenied means the source refused access.
	ErrPermissionDenied = errors.New("image source permission denied")
)

// Source names where an image comes from.
type Source string

const (
	SourceGallery Source = "gallery"
	SourceCamera  Source = "camera"
)

// Provider hands out local image handles. Both methods return ErrCancelled
// or ErrPermissionDenied for the benign no-image outcomes.
type Provider interface {
	RequestGalleryImage(ctx context.Context) (string, error)
	RequestCameraImage(ctx context.Context) (string, error)
}

// Request dispatches to the provider method matching src.
func Request(ctx context.Context, p Provider, src Source) (string, error) {
	switch src {
	case SourceCamera:
		return p.RequestCameraImage(ctx)
	case SourceGallery:
		return p.RequestGalleryImage(ctx)
	default:
		return "", errors.New("unknown image source " + string(src))
	}
}

// IsBenign reports whether err is a cancellation or permission denial.
func IsBenign(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrPermissionDenied)
}
