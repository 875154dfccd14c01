package tileview

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// RenderTile is what a renderer needs to draw one tile: its placement in
// image space, its state and, once normalized, its RGBA buffer.
type RenderTile struct {
	TileRect
	State           TileState
	SettingsVersion uint64
	Buffer          []byte
}

// Compositor draws normalized tiles through the composed transform
type Compositor struct {
	Background color.RGBA
	// Loading fills tiles that have no buffer yet
	Loading color.RGBA
	// Failed fills tiles whose load failed
	Failed color.RGBA

	Interpolator draw.Interpolator
}

// NewCompositor returns a compositor with the stock placeholder colors and
// nearest-neighbour sampling
func NewCompositor() *Compositor {
	return &Compositor{
		Background:   color.RGBA{0, 0, 0, 255},
		Loading:      color.RGBA{241, 242, 243, 255},
		Failed:       color.RGBA{176, 48, 48, 255},
		Interpolator: draw.NearestNeighbor,
	}
}

// aff3 converts t to the row-major layout used by x/image
func aff3(t AffineTransform) f64.Aff3 {
	return f64.Aff3{t.A, t.C, t.Tx, t.B, t.D, t.Ty}
}

// tileImage wraps a normalized buffer without copying it
func tileImage(t RenderTile) (*image.RGBA, bool) {
	if len(t.Buffer) != 4*t.Width*t.Height {
		return nil, false
	}
	return &image.RGBA{
		Pix:    t.Buffer,
		Stride: 4 * t.Width,
		Rect:   image.Rect(0, 0, t.Width, t.Height),
	}, true
}

// Render fills dst with the background and draws every tile through
// composed. Tiles without a usable buffer get the loading or failed fill.
func (c *Compositor) Render(dst draw.Image, composed AffineTransform, tiles []RenderTile) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(c.Background), image.Point{}, draw.Src)

	interp := c.Interpolator
	if interp == nil {
		interp = draw.NearestNeighbor
	}

	for _, t := range tiles {
		s2d := aff3(composed.Compose(Translation(float64(t.X), float64(t.Y))))
		sr := image.Rect(0, 0, t.Width, t.Height)

		var src image.Image
		switch {
		case t.State == TileFailed:
			src = image.NewUniform(c.Failed)
		case t.Buffer != nil:
			if img, ok := tileImage(t); ok {
				src = img
			}
		}
		if src == nil {
			src = image.NewUniform(c.Loading)
		}
		interp.Transform(dst, s2d, src, sr, draw.Over, nil)
	}
}

// EncodePNG renders a width x height snapshot and returns it PNG encoded
func (c *Compositor) EncodePNG(width, height int, composed AffineTransform, tiles []RenderTile) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: snapshot size %dx%d", ErrViewportUnknown, width, height)
	}

	pix := GetBuffer(4 * width * height)
	defer PutBuffer(pix)
	img := &image.RGBA{Pix: pix, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}
	c.Render(img, composed, tiles)

	buf := GetBytesBuffer()
	defer PutBytesBuffer(buf)
	if err := pngEncoder.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
