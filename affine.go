package tileview

import (
	"fmt"
	"math"
)

// singularEpsilon is the determinant magnitude below which a transform is
// treated as non-invertible.
const singularEpsilon = 1e-12

// AffineTransform is an immutable 2D affine matrix.
//
// A point is mapped as
//
//	x' = A*x + C*y + Tx
//	y' = B*x + D*y + Ty
//
// Every operation returns a new value. Translate, ScaleAbout, RotateAbout and
// FlipHorizontalAbout act in the transform's input (local) space: the new
// operation is applied to a point before the existing mapping.
type AffineTransform struct {
	A, B, C, D float64
	Tx, Ty     float64
}

// Identity returns the identity transform
func Identity() AffineTransform {
	return AffineTransform{A: 1, D: 1}
}

// NewAffineTransform builds a transform from its six coefficients
func NewAffineTransform(a, b, c, d, tx, ty float64) AffineTransform {
	return AffineTransform{A: a, B: b, C: c, D: d, Tx: tx, Ty: ty}
}

// Translation returns a pure translation
func Translation(dx, dy float64) AffineTransform {
	return AffineTransform{A: 1, D: 1, Tx: dx, Ty: dy}
}

// Scaling returns a pure scale about the origin
func Scaling(sx, sy float64) AffineTransform {
	return AffineTransform{A: sx, D: sy}
}

// Rotation returns a rotation about the origin by angle degrees.
func Rotation(angleDegrees float64) AffineTransform {
	sin, cos := math.Sincos(angleDegrees * math.Pi / 180)
	return AffineTransform{A: cos, B: sin, C: -sin, D: cos}
}

// Compose returns t ∘ other: other is applied first, then t.
func (t AffineTransform) Compose(other AffineTransform) AffineTransform {
	return AffineTransform{
		A:  t.A*other.A + t.C*other.B,
		B:  t.B*other.A + t.D*other.B,
		C:  t.A*other.C + t.C*other.D,
		D:  t.B*other.C + t.D*other.D,
		Tx: t.A*other.Tx + t.C*other.Ty + t.Tx,
		Ty: t.B*other.Tx + t.D*other.Ty + t.Ty,
	}
}

// Determinant of the linear part
func (t AffineTransform) Determinant() float64 {
	return t.A*t.D - t.B*t.C
}

// IsInvertible reports whether Invert would succeed
func (t AffineTransform) IsInvertible() bool {
	return math.Abs(t.Determinant()) >= singularEpsilon
}

// Invert returns the inverse transform or ErrSingularTransform.
func (t AffineTransform) Invert() (AffineTransform, error) {
	det := t.Determinant()
	if math.Abs(det) < singularEpsilon || math.IsNaN(det) {
		return AffineTransform{}, fmt.Errorf("%w: determinant %g", ErrSingularTransform, det)
	}
	return AffineTransform{
		A:  t.D / det,
		B:  -t.B / det,
		C:  -t.C / det,
		D:  t.A / det,
		Tx: (t.C*t.Ty - t.D*t.Tx) / det,
		Ty: (t.B*t.Tx - t.A*t.Ty) / det,
	}, nil
}

// MustInvert is Invert for callers that hold the non-degenerate invariant.
// A singular transform at this point is a programming error and panics.
func (t AffineTransform) MustInvert() AffineTransform {
	inv, err := t.Invert()
	if err != nil {
		panic(err)
	}
	return inv
}

// Apply maps p through the transform
func (t AffineTransform) Apply(p Point) Point {
	return Point{
		X: t.A*p.X + t.C*p.Y + t.Tx,
		Y: t.B*p.X + t.D*p.Y + t.Ty,
	}
}

// ApplyInverse maps p through the inverse transform. Panics if t is singular.
func (t AffineTransform) ApplyInverse(p Point) Point {
	return t.MustInvert().Apply(p)
}

// Translate prepends a translation in local space
func (t AffineTransform) Translate(dx, dy float64) AffineTransform {
	return t.Compose(Translation(dx, dy))
}

// ScaleAbout scales uniformly about anchor (local space)
func (t AffineTransform) ScaleAbout(factor float64, anchor Point) AffineTransform {
	return t.ScaleXYAbout(factor, factor, anchor)
}

// ScaleXYAbout scales each axis independently about anchor (local space)
func (t AffineTransform) ScaleXYAbout(sx, sy float64, anchor Point) AffineTransform {
	return t.Compose(Translation(anchor.X, anchor.Y)).
		Compose(Scaling(sx, sy)).
		Compose(Translation(-anchor.X, -anchor.Y))
}

// RotateAbout rotates by angleDegrees about anchor (local space)
func (t AffineTransform) RotateAbout(angleDegrees float64, anchor Point) AffineTransform {
	return t.Compose(Translation(anchor.X, anchor.Y)).
		Compose(Rotation(angleDegrees)).
		Compose(Translation(-anchor.X, -anchor.Y))
}

// FlipHorizontalAbout mirrors the x axis about the vertical line through anchor
func (t AffineTransform) FlipHorizontalAbout(anchor Point) AffineTransform {
	return t.ScaleXYAbout(-1, 1, anchor)
}

// LinearScale is the length of the (A, C) row, the on-screen size of one
// image pixel for similarity transforms.
func (t AffineTransform) LinearScale() float64 {
	return math.Hypot(t.A, t.C)
}

// ApproxEqual compares coefficients within tol
func (t AffineTransform) ApproxEqual(o AffineTransform, tol float64) bool {
	return math.Abs(t.A-o.A) <= tol && math.Abs(t.B-o.B) <= tol &&
		math.Abs(t.C-o.C) <= tol && math.Abs(t.D-o.D) <= tol &&
		math.Abs(t.Tx-o.Tx) <= tol && math.Abs(t.Ty-o.Ty) <= tol
}

func (t AffineTransform) String() string {
	return fmt.Sprintf("[%g %g %g %g %g %g]", t.A, t.B, t.C, t.D, t.Tx, t.Ty)
}
