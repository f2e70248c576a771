package composite

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/bereel/internal/errors"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 255 / w), uint8(y * 255 / h), 128, 255})
		}
	}
	return img
}

func rgba(c color.Color) color.RGBA {
	return color.RGBAModel.Convert(c).(color.RGBA)
}

func TestCompose_Geometry(t *testing.T) {
	main := solid(300, 400, color.RGBA{0, 0, 255, 255})
	selfie := solid(150, 200, color.RGBA{255, 0, 0, 255})

	out := Compose(main, selfie)
	require.Equal(t, main.Bounds(), out.Bounds())

	// Selfie is 100x133, plate 108x141 at (20,20), radius 10.
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, rgba(out.At(5, 5)), "outside the overlay")
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, rgba(out.At(20, 20)), "rounded plate corner")
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, rgba(out.At(22, 80)), "border")
	inner := rgba(out.At(70, 80))
	assert.True(t, inner.R > 250 && inner.G < 5 && inner.B < 5, "selfie interior %v", inner)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, rgba(out.At(200, 300)), "main beyond the overlay")
}

func TestCompose_FlattensOnWhite(t *testing.T) {
	main := image.NewRGBA(image.Rect(0, 0, 300, 300)) // fully transparent
	out := Compose(main, solid(90, 90, color.Black))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgba(out.At(299, 299)))
}

func TestCompose_TinyInputs(t *testing.T) {
	out := Compose(solid(2, 2, color.White), solid(1, 1, color.Black))
	assert.Equal(t, image.Rect(0, 0, 2, 2), out.Bounds())
}

func TestCompose_Deterministic(t *testing.T) {
	main, selfie := gradient(240, 320), gradient(120, 160)

	var first []byte
	for i := 0; i < 5; i++ {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, Compose(main, selfie)))
		if first == nil {
			first = buf.Bytes()
			continue
		}
		require.True(t, bytes.Equal(first, buf.Bytes()), "run %d differs", i)
	}
}

func TestRoundedMask(t *testing.T) {
	m := roundedMask(40, 30, 10)
	assert.Equal(t, uint8(0), m.AlphaAt(0, 0).A)
	assert.Equal(t, uint8(0xff), m.AlphaAt(20, 15).A)
	assert.Equal(t, uint8(0xff), m.AlphaAt(0, 15).A)

	// Anti-aliased edge pixels are partially covered.
	partial := false
	for x := 0; x < 10; x++ {
		a := m.AlphaAt(x, 2).A
		if a > 0 && a < 0xff {
			partial = true
		}
	}
	assert.True(t, partial)

	square := roundedMask(8, 8, 0)
	assert.Equal(t, uint8(0xff), square.AlphaAt(0, 0).A)
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "a.png")
	f, err := os.Create(good)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, gradient(12, 8)))
	require.NoError(t, f.Close())

	img, err := Decode(good)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 12, 8), img.Bounds())

	bad := filepath.Join(dir, "b.webp")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	_, err = Decode(bad)
	assert.True(t, errors.Is(err, errors.ErrDecode))

	_, err = Decode(filepath.Join(dir, "missing.jpg"))
	assert.True(t, errors.Is(err, errors.ErrDecode))
}
