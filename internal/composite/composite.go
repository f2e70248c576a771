// Package composite draws the selfie view over the main view the way the
// app presents a capture.
package composite

import (
	"bufio"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/hpungsan/bereel/internal/errors"
)

const (
	// Quality is the JPEG quality of composited images.
	Quality = 95

	// Ext is the extension of composited images.
	Ext = ".jpg"

	borderWidth = 4
	padding     = 20
	supersample = 4
)

// Decode reads a JPEG, PNG, or WebP image from path.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewDecode(path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.NewDecode(path, err)
	}
	return img, nil
}

// Compose returns main with selfie overlaid in the top-left corner:
// scaled to a third of main's width, rounded, bordered in black, and
// flattened on white. The result depends only on the input pixels.
func Compose(main, selfie image.Image) image.Image {
	mb := main.Bounds()
	sb := selfie.Bounds()

	sw := mb.Dx() / 3
	if sw < 1 {
		sw = 1
	}
	sh := 1
	if sb.Dx() > 0 {
		sh = int(float64(sb.Dy()) * (float64(sw) / float64(sb.Dx())))
	}
	if sh < 1 {
		sh = 1
	}
	scaled := resize.Resize(uint(sw), uint(sh), selfie, resize.Lanczos3)

	radius := min(sw, sh) / 10
	bw, bh := sw+2*borderWidth, sh+2*borderWidth

	// Bordered selfie: a black rounded plate with the rounded selfie on top.
	plate := image.NewRGBA(image.Rect(0, 0, bw, bh))
	draw.DrawMask(plate, plate.Bounds(), image.NewUniform(color.Black), image.Point{},
		roundedMask(bw, bh, radius+borderWidth), image.Point{}, draw.Over)
	draw.DrawMask(plate, image.Rect(borderWidth, borderWidth, borderWidth+sw, borderWidth+sh),
		scaled, scaled.Bounds().Min, roundedMask(sw, sh, radius), image.Point{}, draw.Over)

	out := image.NewRGBA(image.Rect(0, 0, mb.Dx(), mb.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), main, mb.Min, draw.Over)
	draw.Draw(out, image.Rect(padding, padding, padding+bw, padding+bh), plate, image.Point{}, draw.Over)
	return out
}

// Encode writes img as a JPEG at Quality.
func Encode(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: Quality})
}

// roundedMask returns a w×h alpha mask of a rectangle with corner radius r.
// Edges are anti-aliased by sampling each pixel on a 4×4 grid.
func roundedMask(w, h, r int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if r*2 > min(w, h) {
		r = min(w, h) / 2
	}
	rf := float64(r)
	fw, fh := float64(w), float64(h)
	const samples = supersample * supersample

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inCorner := (x < r || x >= w-r) && (y < r || y >= h-r)
			if !inCorner {
				mask.Pix[y*mask.Stride+x] = 0xff
				continue
			}
			hits := 0
			for j := 0; j < supersample; j++ {
				py := float64(y) + (float64(j)+0.5)/supersample
				for i := 0; i < supersample; i++ {
					px := float64(x) + (float64(i)+0.5)/supersample
					if insideRounded(px, py, fw, fh, rf) {
						hits++
					}
				}
			}
			mask.Pix[y*mask.Stride+x] = uint8(hits * 0xff / samples)
		}
	}
	return mask
}

// insideRounded reports whether (px, py) lies in the w×h rectangle with
// corners rounded to radius r.
func insideRounded(px, py, w, h, r float64) bool {
	cx, cy := px, py
	switch {
	case px < r:
		cx = r
	case px > w-r:
		cx = w - r
	}
	switch {
	case py < r:
		cy = r
	case py > h-r:
		cy = h - r
	}
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= r*r
}
