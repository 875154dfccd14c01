package tileview

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Point is a continuous 2D coordinate in image or viewport space
type Point struct {
	X, Y float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.X, p.Y}
}

// Distance returns the euclidean distance between two points
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Size is a viewport size in device pixels
type Size struct {
	Width  float64
	Height float64
}

// Center returns the middle of a viewport of this size
func (s Size) Center() Point {
	return Point{X: s.Width / 2, Y: s.Height / 2}
}

// Region is a rectangle in image pixel coordinates. Width and Height may be
// negative while a selection is being dragged; call Normalize before use.
type Region struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// Normalize returns the same rectangle with non-negative width and height
func (r Region) Normalize() Region {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// IsEmpty reports whether the normalized region has zero area
func (r Region) IsEmpty() bool {
	n := r.Normalize()
	return n.Width <= 0 || n.Height <= 0 || math.IsNaN(n.Width) || math.IsNaN(n.Height)
}

// Center of the normalized region
func (r Region) Center() Point {
	n := r.Normalize()
	return Point{X: n.X + n.Width/2, Y: n.Y + n.Height/2}
}

// Bound converts the normalized region to an orb.Bound
func (r Region) Bound() orb.Bound {
	n := r.Normalize()
	return orb.Bound{
		Min: orb.Point{n.X, n.Y},
		Max: orb.Point{n.X + n.Width, n.Y + n.Height},
	}
}

// RegionFromBound converts an orb.Bound back to a Region
func RegionFromBound(b orb.Bound) Region {
	return Region{X: b.Min[0], Y: b.Min[1], Width: b.Max[0] - b.Min[0], Height: b.Max[1] - b.Min[1]}
}

// boundOf returns the axis-aligned bounding box of a set of points
func boundOf(points ...Point) orb.Bound {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.orb()
	}
	return mp.Bound()
}

// clipBound intersects b with clip. ok is false when they do not overlap.
func clipBound(b, clip orb.Bound) (orb.Bound, bool) {
	if !b.Intersects(clip) {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{math.Max(b.Min[0], clip.Min[0]), math.Max(b.Min[1], clip.Min[1])},
		Max: orb.Point{math.Min(b.Max[0], clip.Max[0]), math.Min(b.Max[1], clip.Max[1])},
	}, true
}

// ImageGeometry describes an opened image and its tile grid. It is immutable.
type ImageGeometry struct {
	Width      int
	Height     int
	TileWidth  int
	TileHeight int
}

// NewImageGeometry validates and returns a geometry
func NewImageGeometry(width, height, tileWidth, tileHeight int) (ImageGeometry, error) {
	g := ImageGeometry{Width: width, Height: height, TileWidth: tileWidth, TileHeight: tileHeight}
	if err := g.Validate(); err != nil {
		return ImageGeometry{}, err
	}
	return g, nil
}

// Validate checks that every dimension is positive
func (g ImageGeometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || g.TileWidth <= 0 || g.TileHeight <= 0 {
		return fmt.Errorf("%w: %dx%d image, %dx%d tiles", ErrInvalidGeometry, g.Width, g.Height, g.TileWidth, g.TileHeight)
	}
	return nil
}

// Cols is the number of tile columns
func (g ImageGeometry) Cols() int {
	return (g.Width + g.TileWidth - 1) / g.TileWidth
}

// Rows is the number of tile rows
func (g ImageGeometry) Rows() int {
	return (g.Height + g.TileHeight - 1) / g.TileHeight
}

// TileCount is Cols*Rows
func (g ImageGeometry) TileCount() int {
	return g.Cols() * g.Rows()
}

// Bound is the image extent [0,W]x[0,H]
func (g ImageGeometry) Bound() orb.Bound {
	return orb.Bound{Max: orb.Point{float64(g.Width), float64(g.Height)}}
}

// FullRegion is the region covering the whole image
func (g ImageGeometry) FullRegion() Region {
	return Region{Width: float64(g.Width), Height: float64(g.Height)}
}

// TileRect is the pixel rectangle of one tile, clipped to the image
type TileRect struct {
	Index  int
	X      int
	Y      int
	Width  int
	Height int
}

// TileRect returns the rectangle of tile index
func (g ImageGeometry) TileRect(index int) (TileRect, error) {
	if index < 0 || index >= g.TileCount() {
		return TileRect{}, fmt.Errorf("%w: %d of %d", ErrTileIndex, index, g.TileCount())
	}
	col := index % g.Cols()
	row := index / g.Cols()
	x := col * g.TileWidth
	y := row * g.TileHeight
	return TileRect{
		Index:  index,
		X:      x,
		Y:      y,
		Width:  min(g.TileWidth, g.Width-x),
		Height: min(g.TileHeight, g.Height-y),
	}, nil
}

// TileIndexAt returns the tile holding pixel (px, py)
func (g ImageGeometry) TileIndexAt(px, py int) (int, bool) {
	if px < 0 || py < 0 || px >= g.Width || py >= g.Height {
		return 0, false
	}
	return (py/g.TileHeight)*g.Cols() + px/g.TileWidth, true
}

// TilesInBound returns, in row-major order, every tile whose rectangle
// intersects b. Tiles that only touch b along an edge are excluded unless b
// is degenerate on that axis. A b that only touches the image edge yields
// nothing.
func (g ImageGeometry) TilesInBound(b orb.Bound) []int {
	clipped, ok := clipBound(b, g.Bound())
	if !ok {
		return nil
	}
	for axis := 0; axis < 2; axis++ {
		if clipped.Max[axis] == clipped.Min[axis] && b.Max[axis] > b.Min[axis] {
			return nil
		}
	}

	colStart, colEnd := tileSpan(clipped.Min[0], clipped.Max[0], g.TileWidth, g.Cols())
	rowStart, rowEnd := tileSpan(clipped.Min[1], clipped.Max[1], g.TileHeight, g.Rows())

	indices := make([]int, 0, (colEnd-colStart+1)*(rowEnd-rowStart+1))
	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			indices = append(indices, row*g.Cols()+col)
		}
	}
	return indices
}

// tileSpan converts a clipped [lo,hi] interval into an inclusive tile range
func tileSpan(lo, hi float64, tileSize, count int) (int, int) {
	start := int(math.Floor(lo / float64(tileSize)))
	end := int(math.Ceil(hi/float64(tileSize))) - 1
	start = max(0, min(count-1, start))
	end = max(0, min(count-1, end))
	if end < start {
		end = start
	}
	return start, end
}
