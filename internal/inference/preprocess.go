package inference

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"strings"

	"github.com/nfnt/resize"
)

const dataURIPrefix = "data:image/jpeg;base64,"

// LocalPath resolves an image handle to a filesystem path. Plain paths and
// file:// URIs are accepted.
func LocalPath(imageURI string) (string, error) {
	if imageURI == "" {
		return "", fmt.Errorf("empty image handle")
	}
	if !strings.Contains(imageURI, "://") {
		return imageURI, nil
	}
	u, err := url.Parse(imageURI)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported image scheme %q", u.Scheme)
	}
	return u.Path, nil
}

// EncodeImage loads the image behind imageURI, resizes it to width x height,
// re-encodes it as JPEG and returns it as a base64 data URI.
func EncodeImage(imageURI string, width, height uint, quality int) (string, error) {
	path, err := LocalPath(imageURI)
	if err != nil {
		return "", &PreprocessingError{ImageURI: imageURI, Err: err}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", &PreprocessingError{ImageURI: imageURI, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", &PreprocessingError{ImageURI: imageURI, Err: fmt.Errorf("decode: %w", err)}
	}

	resized := resize.Resize(width, height, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return "", &PreprocessingError{ImageURI: imageURI, Err: fmt.Errorf("encode: %w", err)}
	}

	return dataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
