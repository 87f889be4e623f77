// Package upload shrinks oversized images before they leave the client and
// turns stored files into media cards.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nfnt/resize"

	"github.com/pbaille/canvas/internal/domain"
)

// ErrTooLarge is returned when an image cannot be brought under the byte ceiling
var ErrTooLarge = errors.New("image too large after compression")

// Limits bounds what is sent to the uploader
type Limits struct {
	MaxBytes     int64
	MaxDimension int
}

// DefaultLimits returns the stock ceilings
func DefaultLimits() Limits {
	return Limits{MaxBytes: 2 << 20, MaxDimension: 2048}
}

// Uploaded is what the storage collaborator returns
type Uploaded struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

// Uploader stores a blob and returns where it lives
type Uploader interface {
	Upload(ctx context.Context, name, mime string, data []byte) (Uploaded, error)
}

// Image is compressed data plus its final pixel size
type Image struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

var qualities = []int{85, 75, 65, 50, 35}

// IsImage reports whether mime names a raster format we can decode
func IsImage(mime string) bool {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif":
		return true
	}
	return false
}

// Compress downscales and re-encodes an image until it fits lim. Images
// already within both limits are returned untouched.
func Compress(data []byte, mime string, lim Limits) (Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image config: %w", err)
	}
	if int64(len(data)) <= lim.MaxBytes && cfg.Width <= lim.MaxDimension && cfg.Height <= lim.MaxDimension {
		return Image{Data: data, MimeType: mime, Width: cfg.Width, Height: cfg.Height}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}

	bound := lim.MaxDimension
	for bound >= 64 {
		img := src
		b := src.Bounds()
		if b.Dx() > bound || b.Dy() > bound {
			img = resize.Thumbnail(uint(bound), uint(bound), src, resize.Lanczos3)
		}
		for _, q := range qualities {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				return Image{}, fmt.Errorf("encode jpeg: %w", err)
			}
			if int64(buf.Len()) <= lim.MaxBytes {
				out := img.Bounds()
				return Image{Data: buf.Bytes(), MimeType: "image/jpeg", Width: out.Dx(), Height: out.Dy()}, nil
			}
		}
		bound = bound * 3 / 4
	}
	return Image{}, ErrTooLarge
}

// Card builds the media payload for an uploaded blob. width and height are
// zero for non-images.
func Card(u Uploaded, width, height int) *domain.MediaCard {
	c := &domain.MediaCard{
		Kind:      domain.MediaFile,
		URL:       u.URL,
		Name:      u.Name,
		MimeType:  u.MimeType,
		Size:      u.Size,
		SizeLabel: humanize.Bytes(uint64(u.Size)),
	}
	if strings.HasPrefix(u.MimeType, "image/") {
		c.Kind = domain.MediaImage
		c.Width = width
		c.Height = height
	}
	return c
}

// Prepare compresses images, uploads the result and returns its media card
func Prepare(ctx context.Context, up Uploader, name, mime string, data []byte, lim Limits) (*domain.MediaCard, error) {
	var w, h int
	if IsImage(mime) {
		img, err := Compress(data, mime, lim)
		if err != nil {
			return nil, err
		}
		if img.MimeType != mime {
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
		}
		data, mime, w, h = img.Data, img.MimeType, img.Width, img.Height
	}
	u, err := up.Upload(ctx, name, mime, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	return Card(u, w, h), nil
}

// LocalUploader stores blobs in a directory served under BaseURL
type LocalUploader struct {
	Dir     string
	BaseURL string
}

// Upload writes data under a fresh name and returns its URL
func (l LocalUploader) Upload(ctx context.Context, name, mime string, data []byte) (Uploaded, error) {
	if err := ctx.Err(); err != nil {
		return Uploaded{}, err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return Uploaded{}, fmt.Errorf("create upload dir: %w", err)
	}
	stored := domain.NewID() + filepath.Ext(name)
	if err := os.WriteFile(filepath.Join(l.Dir, stored), data, 0o644); err != nil {
		return Uploaded{}, fmt.Errorf("write upload: %w", err)
	}
	return Uploaded{
		URL:      strings.TrimSuffix(l.BaseURL, "/") + "/" + stored,
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mime,
	}, nil
}
