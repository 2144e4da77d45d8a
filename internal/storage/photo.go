package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"

	"github.com/authsvc/apiserver/config"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned for disallowed extensions and undecodable content.
var ErrUnsupportedImage = errors.New("unsupported image")

const (
	photoContentType    = "image/jpeg"
	defaultPhotoEdge    = 512
	defaultPhotoQuality = 85
	defaultPhotoPixels  = 4096 * 4096
)

var allowedPhotoExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// PhotoStore normalizes profile photos to JPEG and keeps them under users/<id>/.
type PhotoStore struct {
	backend   ObjectStorage
	edge      int
	quality   int
	maxPixels int64
	newID     func() string
}

func NewPhotoStore(backend ObjectStorage, cfg config.StorageConfig) *PhotoStore {
	edge := cfg.PhotoEdge
	if edge <= 0 {
		edge = defaultPhotoEdge
	}
	quality := cfg.PhotoQuality
	if quality < 1 || quality > 100 {
		quality = defaultPhotoQuality
	}
	maxPixels := cfg.MaxPhotoPixels
	if maxPixels <= 0 {
		maxPixels = defaultPhotoPixels
	}
	return &PhotoStore{
		backend:   backend,
		edge:      edge,
		quality:   quality,
		maxPixels: maxPixels,
		newID:     func() string { return uuid.NewString() },
	}
}

// EnsureBucket prepares the backing bucket.
func (s *PhotoStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Save validates filename, re-encodes the image and uploads it. It returns the object key.
func (s *PhotoStore) Save(ctx context.Context, userID int, filename string, r io.Reader) (string, error) {
	if !AllowedPhotoName(filename) {
		return "", fmt.Errorf("%w: extension of %q", ErrUnsupportedImage, filename)
	}

	data, err := NormalizePhoto(r, s.edge, s.quality, s.maxPixels)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("users/%d/%s.jpg", userID, s.newID())
	if err := s.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), photoContentType); err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return key, nil
}

func (s *PhotoStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

func (s *PhotoStore) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// AllowedPhotoName reports whether filename carries an accepted image extension.
func AllowedPhotoName(filename string) bool {
	_, ok := allowedPhotoExtensions[strings.ToLower(path.Ext(filename))]
	return ok
}

// NormalizePhoto decodes r, scales it down to fit an edge x edge box keeping
// the aspect ratio, and encodes the result as JPEG. Images whose header
// declares more than maxPixels pixels are rejected before decoding.
func NormalizePhoto(r io.Reader, edge, quality int, maxPixels int64) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}

	header, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds pixel limit %d",
			ErrUnsupportedImage, header.Width, header.Height, maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), edge)

	// JPEG has no alpha; paint onto white first.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(width, height, edge int) (int, int) {
	if width <= edge && height <= edge {
		return max(width, 1), max(height, 1)
	}
	if width >= height {
		return edge, max(height*edge/width, 1)
	}
	return max(width*edge/height, 1), edge
}
