package phash

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/corona10/goimagehash"

	// Decoders for the image formats the grouper accepts
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imageExtensions is the set of file extensions the perceptual grouper
// considers, matching the registered decoders
var imageExtensions = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {},
	"bmp": {}, "tif": {}, "tiff": {}, "webp": {},
}

// IsImagePath reports whether a path carries a decodable image extension
func IsImagePath(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	_, ok := imageExtensions[ext]
	return ok
}

// Compute decodes the image and returns its 64-bit DCT perceptual hash
func Compute(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute perceptual hash: %w", err)
	}
	return hash.GetHash(), nil
}
