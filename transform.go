package tileview

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

const (
	// DefaultDragMargin is how far (viewport units) the image bounding box is
	// shrunk before checking that a pan keeps it on screen.
	DefaultDragMargin = 50.0

	// DefaultFitMargin is the per-side gap left by CenterRegionInViewport.
	DefaultFitMargin = 20.0
)

// TransformOptions tunes the interactive limits of a TransformState
type TransformOptions struct {
	DragMargin float64
	FitMargin  float64
}

// DefaultTransformOptions returns the stock margins
func DefaultTransformOptions() TransformOptions {
	return TransformOptions{DragMargin: DefaultDragMargin, FitMargin: DefaultFitMargin}
}

// TransformState owns the image→intrinsic and intrinsic→viewport transforms
// of one image together with their composition and the viewport size.
//
// The composed transform is never written directly; every mutator re-derives
// it as viewportTransform ∘ imageTransform. TransformState is not safe for
// concurrent use.
type TransformState struct {
	geometry          ImageGeometry
	opts              TransformOptions
	imageTransform    AffineTransform
	viewportTransform AffineTransform
	composed          AffineTransform
	viewportSize      Size
	hasViewport       bool
}

// NewTransformState creates a state for geometry with the base image
// orientation and an identity viewport transform.
func NewTransformState(geometry ImageGeometry, opts TransformOptions) (*TransformState, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	ts := &TransformState{
		opts:              opts,
		viewportTransform: Identity(),
	}
	ts.ResetImage(geometry)
	return ts, nil
}

// BaseImageTransform flips the vertical axis so image row 0 ends up at the
// bottom of the viewport: [1,0,0,-1,0,height].
func BaseImageTransform(geometry ImageGeometry) AffineTransform {
	return NewAffineTransform(1, 0, 0, -1, 0, float64(geometry.Height))
}

func (ts *TransformState) recompose() {
	ts.composed = ts.viewportTransform.Compose(ts.imageTransform)
}

// ResetImage restores the base orientation for geometry. The viewport
// transform (pan and zoom) is left alone.
func (ts *TransformState) ResetImage(geometry ImageGeometry) {
	ts.geometry = geometry
	ts.imageTransform = BaseImageTransform(geometry)
	ts.recompose()
}

// Geometry returns the geometry of the image this state maps
func (ts *TransformState) Geometry() ImageGeometry {
	return ts.geometry
}

func (ts *TransformState) ImageTransform() AffineTransform    { return ts.imageTransform }
func (ts *TransformState) ViewportTransform() AffineTransform { return ts.viewportTransform }

// Composed is the image→viewport mapping
func (ts *TransformState) Composed() AffineTransform { return ts.composed }

// SetViewportSize records the viewport size. Pan and zoom are preserved; a
// caller wanting the image refitted must call CenterRegionInViewport.
func (ts *TransformState) SetViewportSize(size Size) {
	ts.viewportSize = size
	ts.hasViewport = true
}

// ViewportSize returns the last reported size; ok is false before the first layout.
func (ts *TransformState) ViewportSize() (Size, bool) {
	return ts.viewportSize, ts.hasViewport
}

// SetViewportTransform replaces the viewport transform
func (ts *TransformState) SetViewportTransform(t AffineTransform) {
	ts.viewportTransform = t
	ts.recompose()
}

// SetImageTransform replaces the image transform
func (ts *TransformState) SetImageTransform(t AffineTransform) {
	ts.imageTransform = t
	ts.recompose()
}

// Scale is the on-screen size of one image pixel
func (ts *TransformState) Scale() float64 {
	return ts.composed.LinearScale()
}

// imageViewportBound is the viewport-space bounding box of the whole image
func (ts *TransformState) imageViewportBound() orb.Bound {
	w, h := float64(ts.geometry.Width), float64(ts.geometry.Height)
	return boundOf(
		ts.composed.Apply(Point{w, h}),
		ts.composed.Apply(Point{0, 0}),
		ts.composed.Apply(Point{0, h}),
		ts.composed.Apply(Point{w, 0}),
	)
}

// PanBy moves the image by (dx, dy) viewport units. The move is rejected,
// and false returned, if it would push the image (shrunk by the drag margin)
// completely out of the viewport.
func (ts *TransformState) PanBy(dx, dy float64) bool {
	if !ts.hasViewport || (dx == 0 && dy == 0) {
		return false
	}

	img := ts.imageViewportBound()
	moved := insetBound(img, ts.opts.DragMargin)
	moved.Min[0] += dx
	moved.Max[0] += dx
	moved.Min[1] += dy
	moved.Max[1] += dy

	viewport := orb.Bound{Max: orb.Point{ts.viewportSize.Width, ts.viewportSize.Height}}
	if !moved.Intersects(viewport) {
		return false
	}

	xScale := math.Abs(ts.viewportTransform.A)
	yScale := math.Abs(ts.viewportTransform.D)
	if xScale == 0 || yScale == 0 {
		return false
	}
	ts.viewportTransform = ts.viewportTransform.Translate(dx/xScale, dy/yScale)
	ts.recompose()
	return true
}

// insetBound shrinks b by margin on every side, collapsing to the center
// on an axis that is narrower than 2*margin.
func insetBound(b orb.Bound, margin float64) orb.Bound {
	out := b
	for axis := 0; axis < 2; axis++ {
		if b.Max[axis]-b.Min[axis] > 2*margin {
			out.Min[axis] = b.Min[axis] + margin
			out.Max[axis] = b.Max[axis] - margin
		} else {
			c := (b.Min[axis] + b.Max[axis]) / 2
			out.Min[axis] = c
			out.Max[axis] = c
		}
	}
	return out
}

// zoomLimits reports whether the current transform is already at the
// maximum zoom (one pixel wider or taller than the viewport) or the minimum
// zoom (the whole image fits).
func (ts *TransformState) zoomLimits() (atMax, atMin bool) {
	ulp := ts.composed.Apply(Point{0.5, 0.5})
	d := ulp.Distance(ts.composed.Apply(Point{1.5, 1.5}))
	atMax = d > ts.viewportSize.Width || d > ts.viewportSize.Height

	lrp := ts.composed.Apply(Point{float64(ts.geometry.Width) - 0.5, float64(ts.geometry.Height) - 0.5})
	d = ulp.Distance(lrp)
	atMin = d < ts.viewportSize.Width && d < ts.viewportSize.Height
	return atMax, atMin
}

// ZoomBy scales the view by factor about anchor (viewport coordinates; nil
// means the viewport center). It returns false when nothing changed: factor
// is 1 or non-positive, the viewport is unknown, or the relevant zoom limit
// has already been reached.
func (ts *TransformState) ZoomBy(factor float64, anchor *Point) bool {
	if !ts.hasViewport || factor == 1 || !(factor > 0) || math.IsInf(factor, 0) {
		return false
	}

	atMax, atMin := ts.zoomLimits()
	if (factor > 1 && atMax) || (factor < 1 && atMin) {
		return false
	}

	a := ts.viewportSize.Center()
	if anchor != nil {
		a = *anchor
	}
	local := ts.viewportTransform.MustInvert().Apply(a)

	ts.viewportTransform = ts.viewportTransform.ScaleAbout(factor, local)
	ts.recompose()
	return true
}

// ZoomTo zooms to an absolute scale (viewport units per image pixel)
func (ts *TransformState) ZoomTo(scale float64, anchor *Point) bool {
	current := ts.Scale()
	if current == 0 {
		return false
	}
	return ts.ZoomBy(scale/current, anchor)
}

// RotateBy rotates the image about the image point under anchor (viewport
// coordinates, nil for the viewport center). Positive angles turn the image
// clockwise on screen.
func (ts *TransformState) RotateBy(angleDegrees float64, anchor *Point) bool {
	if angleDegrees == 0 {
		return false
	}
	a := ts.viewportSize.Center()
	if anchor != nil {
		a = *anchor
	}
	imageAnchor := ts.composed.MustInvert().Apply(a)

	ts.imageTransform = ts.imageTransform.RotateAbout(-angleDegrees, imageAnchor)
	ts.recompose()
	return true
}

// Flip mirrors the image about its vertical centerline
func (ts *TransformState) Flip() {
	center := Point{X: float64(ts.geometry.Width) / 2, Y: float64(ts.geometry.Height) / 2}
	ts.imageTransform = ts.imageTransform.FlipHorizontalAbout(center)
	ts.recompose()
}

// CenterRegionInViewport resets the image orientation and picks a viewport
// transform that fits region (image coordinates) in the viewport with the
// configured margin on each side of the limiting axis. sizeOverride, when
// non-nil, is used instead of the recorded viewport size.
func (ts *TransformState) CenterRegionInViewport(region Region, sizeOverride *Size) error {
	if region.IsEmpty() {
		return fmt.Errorf("%w: %+v", ErrInvalidRegion, region)
	}
	region = region.Normalize()

	size := ts.viewportSize
	if sizeOverride != nil {
		size = *sizeOverride
	} else if !ts.hasViewport {
		return ErrViewportUnknown
	}
	if size.Width <= 0 || size.Height <= 0 {
		return fmt.Errorf("%w: %gx%g", ErrViewportUnknown, size.Width, size.Height)
	}

	usableW := size.Width - 2*ts.opts.FitMargin
	usableH := size.Height - 2*ts.opts.FitMargin
	if usableW <= 0 || usableH <= 0 {
		usableW, usableH = size.Width, size.Height
	}
	scale := math.Min(usableW/region.Width, usableH/region.Height)

	anchor := size.Center()
	c := region.Center()
	xShift := anchor.X - scale*c.X
	yShift := anchor.Y - scale*(float64(ts.geometry.Height)-c.Y)

	ts.ResetImage(ts.geometry)
	ts.SetViewportTransform(NewAffineTransform(scale, 0, 0, scale, xShift, yShift))
	return nil
}

// CurrentImageRegion is the image rectangle visible in the viewport. ok is
// false before the viewport size is known.
func (ts *TransformState) CurrentImageRegion() (Region, bool) {
	return CurrentImageRegion(ts, ts.geometry)
}

// ImageToViewport maps an image point to viewport coordinates
func (ts *TransformState) ImageToViewport(p Point) Point {
	return ts.composed.Apply(p)
}

// ViewportToImage maps a viewport point to image coordinates
func (ts *TransformState) ViewportToImage(p Point) Point {
	return ts.composed.ApplyInverse(p)
}
