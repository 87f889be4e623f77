package upload

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/canvas/internal/domain"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompressLeavesSmallImages(t *testing.T) {
	data := noisyPNG(t, 20, 10)
	img, err := Compress(data, "image/png", DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, data, img.Data)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 20, img.Width)
	assert.Equal(t, 10, img.Height)
}

func TestCompressDownscalesLargeDimensions(t *testing.T) {
	data := noisyPNG(t, 400, 200)
	img, err := Compress(data, "image/png", Limits{MaxBytes: 10 << 20, MaxDimension: 100})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.MimeType)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 50, img.Height)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
}

func TestCompressMeetsByteCeiling(t *testing.T) {
	data := noisyPNG(t, 300, 300)
	lim := Limits{MaxBytes: 20 << 10, MaxDimension: 2048}
	require.Greater(t, int64(len(data)), lim.MaxBytes)

	img, err := Compress(data, "image/png", lim)
	require.NoError(t, err)
	assert.LessOrEqual(t, int64(len(img.Data)), lim.MaxBytes)
}

func TestCompressImpossibleCeiling(t *testing.T) {
	data := noisyPNG(t, 300, 300)
	_, err := Compress(data, "image/png", Limits{MaxBytes: 10, MaxDimension: 2048})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCompressRejectsGarbage(t *testing.T) {
	_, err := Compress([]byte("not an image"), "image/png", DefaultLimits())
	assert.Error(t, err)
}

func TestCard(t *testing.T) {
	tests := []struct {
		name  string
		in    Uploaded
		kind  string
		label string
		w     int
	}{
		{"image", Uploaded{URL: "u", Name: "a.png", Size: 1500, MimeType: "image/png"}, domain.MediaImage, "1.5 kB", 40},
		{"file", Uploaded{URL: "u", Name: "a.pdf", Size: 3_000_000, MimeType: "application/pdf"}, domain.MediaFile, "3.0 MB", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Card(tt.in, 40, 30)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.label, c.SizeLabel)
			assert.Equal(t, tt.w, c.Width)
			assert.Equal(t, tt.in.Name, c.Name)
		})
	}
}

func TestPrepareWithLocalUploader(t *testing.T) {
	dir := t.TempDir()
	up := LocalUploader{Dir: dir, BaseURL: "http://files.test/"}

	card, err := Prepare(context.Background(), up, "photo.png", "image/png", noisyPNG(t, 400, 200), Limits{MaxBytes: 10 << 20, MaxDimension: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.MediaImage, card.Kind)
	assert.Equal(t, "photo.jpg", card.Name)
	assert.Equal(t, "image/jpeg", card.MimeType)
	assert.Equal(t, 100, card.Width)
	assert.True(t, strings.HasPrefix(card.URL, "http://files.test/"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(card.URL, "http://files.test/")))
	require.NoError(t, err)
	assert.Equal(t, card.Size, int64(len(stored)))

	doc, err := Prepare(context.Background(), up, "notes.txt", "text/plain", []byte("hello"), DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, domain.MediaFile, doc.Kind)
	assert.Equal(t, "5 B", doc.SizeLabel)
}
