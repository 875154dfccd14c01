package tileview

import (
	"math"
	"testing"

	"github.com/paulmach/orb/planar"
)

func TestCurrentImageRegionWholeImage(t *testing.T) {
	ts := newFittedState(t)
	r, ok := ts.CurrentImageRegion()
	if !ok {
		t.Fatal("region unavailable after layout")
	}
	want := Region{X: 0.5, Y: 0.5, Width: 4000, Height: 3000}
	if r != want {
		t.Errorf("CurrentImageRegion = %+v, want %+v", r, want)
	}
}

func TestCurrentImageRegionZoomed(t *testing.T) {
	ts, _ := NewTransformState(mustGeometry(t, 1000, 1000, 100, 100), DefaultTransformOptions())
	ts.SetViewportSize(Size{200, 100})
	// one image pixel per viewport unit, image rows 400..500 visible
	ts.SetViewportTransform(NewAffineTransform(1, 0, 0, 1, -100, -500))

	r, ok := ts.CurrentImageRegion()
	if !ok {
		t.Fatal("region unavailable")
	}
	// viewport (0.5,0.5)..(200.5,100.5) maps to x 100.5..300.5 and
	// y 399.5..499.5, shifted by +0.5
	want := Region{X: 101, Y: 400, Width: 200, Height: 100}
	if math.Abs(r.X-want.X) > 1e-9 || math.Abs(r.Y-want.Y) > 1e-9 ||
		math.Abs(r.Width-want.Width) > 1e-9 || math.Abs(r.Height-want.Height) > 1e-9 {
		t.Errorf("CurrentImageRegion = %+v, want %+v", r, want)
	}
}

func TestCurrentImageRegionOffImage(t *testing.T) {
	ts, _ := NewTransformState(mustGeometry(t, 100, 100, 10, 10), DefaultTransformOptions())
	ts.SetViewportSize(Size{50, 50})
	ts.SetViewportTransform(Translation(-10000, 0))

	r, ok := ts.CurrentImageRegion()
	if !ok {
		t.Fatal("region unavailable")
	}
	if r.Width != 0 {
		t.Errorf("off-image view gives %+v, want zero width", r)
	}
	if r.X < 0.5 || r.X > 100.5 || r.Y < 0.5 || r.Y > 100.5 ||
		r.X+r.Width > 100.5 || r.Y+r.Height > 100.5 {
		t.Errorf("region %+v outside [0.5, 100.5]", r)
	}
	if r.X != 100.5 || r.Y != 50 || r.Height != 50 {
		t.Errorf("region %+v, want X 100.5, Y 50, height 50", r)
	}

	ts.SetViewportTransform(Translation(10000, -10000))
	r, _ = ts.CurrentImageRegion()
	if r != (Region{X: 0.5, Y: 0.5}) {
		t.Errorf("view beyond the origin gives %+v, want {0.5 0.5 0 0}", r)
	}
}

func TestCurrentImageRegionBeforeLayout(t *testing.T) {
	ts, _ := NewTransformState(mustGeometry(t, 100, 100, 10, 10), DefaultTransformOptions())
	if _, ok := ts.CurrentImageRegion(); ok {
		t.Errorf("region reported before the viewport size is known")
	}
	if _, ok := ViewportPolygon(ts); ok {
		t.Errorf("polygon reported before the viewport size is known")
	}
}

func TestViewportPolygonRotated(t *testing.T) {
	ts := newFittedState(t)
	ts.ZoomBy(4, nil)
	ts.RotateBy(30, nil)

	poly, ok := ViewportPolygon(ts)
	if !ok {
		t.Fatal("polygon unavailable")
	}
	if len(poly) != 1 || len(poly[0]) != 5 || !poly[0].Closed() {
		t.Fatalf("polygon %v is not a closed quadrilateral", poly)
	}

	b, _ := visibleImageBound(ts)
	if pb := poly.Bound(); math.Abs(pb.Min[0]-b.Min[0]) > 1e-6 || math.Abs(pb.Max[1]-b.Max[1]) > 1e-6 {
		t.Errorf("polygon bound %v, visible bound %v", pb, b)
	}

	// a rotated footprint is smaller than its bounding box
	area := math.Abs(planar.Area(poly))
	if boxArea := (b.Max[0] - b.Min[0]) * (b.Max[1] - b.Min[1]); area >= boxArea {
		t.Errorf("polygon area %g not below bounding box area %g", area, boxArea)
	}
	// but it is the viewport area divided by scale squared
	want := 800 * 600 / (ts.Scale() * ts.Scale())
	if math.Abs(area-want)/want > 1e-9 {
		t.Errorf("polygon area %g, want %g", area, want)
	}
}
