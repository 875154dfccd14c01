package tileview

import "errors"

var (
	// ErrSingularTransform is raised (as a panic) when a transform with a
	// near-zero determinant has to be inverted. The zoom clamps keep this
	// from happening in normal operation.
	ErrSingularTransform = errors.New("singular transform")

	// ErrInvalidRegion is returned for zero or negative area regions.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrInvalidGeometry is returned for non-positive image or tile sizes.
	ErrInvalidGeometry = errors.New("invalid image geometry")

	// ErrViewportUnknown is returned when an operation needs the viewport
	// size before the first layout has reported one.
	ErrViewportUnknown = errors.New("viewport size unknown")

	ErrTileIndex        = errors.New("tile index out of range")
	ErrTileLoadFailed   = errors.New("tile load failed")
	ErrStaleTileResult  = errors.New("stale tile result")
	ErrInvalidSettings  = errors.New("invalid normalizer settings")
	ErrUnknownColorMap  = errors.New("unknown color map")
	ErrUnknownPrecision = errors.New("unknown pixel precision")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidConfig    = errors.New("invalid config")
)
