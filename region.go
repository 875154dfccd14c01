package tileview

import (
	"math"

	"github.com/paulmach/orb"
)

// viewportCorners returns the four viewport corners offset by shift
func viewportCorners(size Size, shift float64) [4]Point {
	return [4]Point{
		{shift, shift},
		{size.Width + shift, shift},
		{shift, size.Height + shift},
		{size.Width + shift, size.Height + shift},
	}
}

// CurrentImageRegion returns the part of the image visible through the
// viewport of ts, using the pixel-center convention: viewport corners are
// sampled at +0.5, mapped into image space, shifted by +0.5 and clipped to
// [0.5, W+0.5]x[0.5, H+0.5]. A viewport that shows none of the image yields
// a zero-size region. ok is false while the viewport size is unknown.
func CurrentImageRegion(ts *TransformState, geometry ImageGeometry) (Region, bool) {
	size, ok := ts.ViewportSize()
	if !ok {
		return Region{}, false
	}

	inv := ts.Composed().MustInvert()
	var pts [4]Point
	for i, c := range viewportCorners(size, 0.5) {
		p := inv.Apply(c)
		pts[i] = Point{p.X + 0.5, p.Y + 0.5}
	}
	b := boundOf(pts[:]...)

	lo := orb.Point{0.5, 0.5}
	hi := orb.Point{float64(geometry.Width) + 0.5, float64(geometry.Height) + 0.5}
	for axis := 0; axis < 2; axis++ {
		b.Min[axis] = math.Min(hi[axis], math.Max(lo[axis], b.Min[axis]))
		b.Max[axis] = math.Min(hi[axis], math.Max(lo[axis], b.Max[axis]))
	}
	return RegionFromBound(b), true
}

// ViewportPolygon returns the viewport footprint in image space as a closed
// ring. Unlike CurrentImageRegion it keeps the exact quadrilateral when the
// view is rotated, and it is not clipped to the image.
func ViewportPolygon(ts *TransformState) (orb.Polygon, bool) {
	size, ok := ts.ViewportSize()
	if !ok {
		return orb.Polygon{}, false
	}
	inv := ts.Composed().MustInvert()
	c := viewportCorners(size, 0)
	// walk the corners around the edge, not in raster order
	ring := orb.Ring{
		inv.Apply(c[0]).orb(),
		inv.Apply(c[1]).orb(),
		inv.Apply(c[3]).orb(),
		inv.Apply(c[2]).orb(),
		inv.Apply(c[0]).orb(),
	}
	return orb.Polygon{ring}, true
}

// visibleImageBound is the image-space bounding box of the viewport corners.
// ok is false for an unknown or empty viewport.
func visibleImageBound(ts *TransformState) (orb.Bound, bool) {
	size, ok := ts.ViewportSize()
	if !ok || size.Width <= 0 || size.Height <= 0 {
		return orb.Bound{}, false
	}
	inv := ts.Composed().MustInvert()
	c := viewportCorners(size, 0)
	return boundOf(inv.Apply(c[0]), inv.Apply(c[1]), inv.Apply(c[2]), inv.Apply(c[3])), true
}
