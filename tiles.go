package tileview

import (
	"fmt"
	"math"
)

// TileState is the lifecycle state of a tile
type TileState int

const (
	TileUnloaded TileState = iota
	TileLoading
	TileLoaded
	TileFailed
)

func (s TileState) String() string {
	switch s {
	case TileUnloaded:
		return "unloaded"
	case TileLoading:
		return "loading"
	case TileLoaded:
		return "loaded"
	case TileFailed:
		return "failed"
	}
	return fmt.Sprintf("TileState(%d)", int(s))
}

// Tile is one cell of the tile grid together with its raw samples.
// Pixels is row-major, Width*Height long, and only set while Loaded.
type Tile struct {
	TileRect
	State  TileState
	Pixels []float32
	Err    error

	// Generation changes every time the tile enters Loaded
	Generation uint64
}

// TileRequest asks the pixel loader for one tile. Epoch identifies the
// TileStore invalidation the request was issued under.
type TileRequest struct {
	TileRect
	Epoch uint64
}

// TileRequester receives load requests. RequestTile must not block; the
// result is reported back through OnTileLoaded or OnTileLoadFailed.
type TileRequester interface {
	RequestTile(req TileRequest)
}

// TileRequesterFunc adapts a function to TileRequester
type TileRequesterFunc func(req TileRequest)

func (f TileRequesterFunc) RequestTile(req TileRequest) { f(req) }

// TileStore tracks the load state and raw pixels of every tile of an image.
// It is not safe for concurrent use; load results are expected to be fed
// back on the goroutine that owns the store.
type TileStore struct {
	geometry   ImageGeometry
	tiles      []Tile
	requester  TileRequester
	epoch      uint64
	generation uint64
	logger     Logger
}

// NewTileStore creates every tile of geometry in the Unloaded state
func NewTileStore(geometry ImageGeometry, requester TileRequester, logger Logger) (*TileStore, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NullLogger{}
	}
	s := &TileStore{
		geometry:  geometry,
		tiles:     make([]Tile, geometry.TileCount()),
		requester: requester,
		logger:    logger,
	}
	for i := range s.tiles {
		rect, _ := geometry.TileRect(i)
		s.tiles[i] = Tile{TileRect: rect}
	}
	return s, nil
}

// Geometry of the stored image
func (s *TileStore) Geometry() ImageGeometry { return s.geometry }

// Len is the number of tiles
func (s *TileStore) Len() int { return len(s.tiles) }

// Epoch is the current invalidation epoch
func (s *TileStore) Epoch() uint64 { return s.epoch }

// Tile returns a copy of tile index. The Pixels slice is shared and must not
// be modified.
func (s *TileStore) Tile(index int) (Tile, error) {
	if index < 0 || index >= len(s.tiles) {
		return Tile{}, fmt.Errorf("%w: %d of %d", ErrTileIndex, index, len(s.tiles))
	}
	return s.tiles[index], nil
}

// State of tile index
func (s *TileStore) State(index int) TileState {
	if index < 0 || index >= len(s.tiles) {
		return TileUnloaded
	}
	return s.tiles[index].State
}

// CountByState returns how many tiles are in each state
func (s *TileStore) CountByState() map[TileState]int {
	counts := make(map[TileState]int, 4)
	for i := range s.tiles {
		counts[s.tiles[i].State]++
	}
	return counts
}

// VisibleTileIndices maps the four viewport corners through the inverse of
// the composed transform, takes their bounding box (so rotated views are
// covered), clips it to the image and returns every intersecting tile.
func (s *TileStore) VisibleTileIndices(ts *TransformState) []int {
	b, ok := visibleImageBound(ts)
	if !ok {
		return nil
	}
	return s.geometry.TilesInBound(b)
}

// RequestMissingTiles moves every Unloaded tile in indices to Loading and
// asks the requester for it. Tiles that are Loading, Loaded or Failed are
// left alone. Returns the indices that were requested.
func (s *TileStore) RequestMissingTiles(indices []int) []int {
	var issued []int
	for _, index := range indices {
		if index < 0 || index >= len(s.tiles) {
			continue
		}
		if s.tiles[index].State != TileUnloaded {
			continue
		}
		s.startLoad(index)
		issued = append(issued, index)
	}
	return issued
}

func (s *TileStore) startLoad(index int) {
	t := &s.tiles[index]
	t.State = TileLoading
	t.Err = nil
	tileRequests.Inc()
	s.logger.Debugf("requesting tile %d (%d,%d %dx%d) epoch %d", index, t.X, t.Y, t.Width, t.Height, s.epoch)
	if s.requester != nil {
		s.requester.RequestTile(TileRequest{TileRect: t.TileRect, Epoch: s.epoch})
	}
}

// Retry re-requests a Failed tile. It returns false for any other state:
// failures are never retried automatically.
func (s *TileStore) Retry(index int) (bool, error) {
	if index < 0 || index >= len(s.tiles) {
		return false, fmt.Errorf("%w: %d of %d", ErrTileIndex, index, len(s.tiles))
	}
	if s.tiles[index].State != TileFailed {
		return false, nil
	}
	s.startLoad(index)
	return true, nil
}

// checkResult validates that a load result still belongs to an in-flight
// request of the current epoch.
func (s *TileStore) checkResult(req TileRequest) error {
	if req.Index < 0 || req.Index >= len(s.tiles) {
		return fmt.Errorf("%w: %d of %d", ErrTileIndex, req.Index, len(s.tiles))
	}
	if req.Epoch != s.epoch {
		tileResults.WithLabelValues("stale").Inc()
		return fmt.Errorf("%w: tile %d epoch %d, store at %d", ErrStaleTileResult, req.Index, req.Epoch, s.epoch)
	}
	if s.tiles[req.Index].State != TileLoading {
		tileResults.WithLabelValues("stale").Inc()
		return fmt.Errorf("%w: tile %d is %s", ErrStaleTileResult, req.Index, s.tiles[req.Index].State)
	}
	return nil
}

// OnTileLoaded stores the pixels of an in-flight request. A pixel count
// that does not match the tile size marks the tile Failed.
func (s *TileStore) OnTileLoaded(req TileRequest, pixels []float32) error {
	if err := s.checkResult(req); err != nil {
		return err
	}
	t := &s.tiles[req.Index]
	if len(pixels) != t.Width*t.Height {
		return s.OnTileLoadFailed(req, fmt.Errorf("got %d samples, want %d", len(pixels), t.Width*t.Height))
	}
	s.generation++
	t.State = TileLoaded
	t.Pixels = pixels
	t.Err = nil
	t.Generation = s.generation
	tileResults.WithLabelValues("loaded").Inc()
	return nil
}

// OnTileLoadFailed marks an in-flight tile Failed. The failure is kept on the
// tile; it is not returned as an error.
func (s *TileStore) OnTileLoadFailed(req TileRequest, cause error) error {
	if err := s.checkResult(req); err != nil {
		return err
	}
	t := &s.tiles[req.Index]
	t.State = TileFailed
	t.Pixels = nil
	t.Err = fmt.Errorf("%w: tile %d: %v", ErrTileLoadFailed, req.Index, cause)
	tileResults.WithLabelValues("failed").Inc()
	s.logger.Errorf("%v", t.Err)
	return nil
}

// InvalidateAll forgets every tile's pixels and returns it to Unloaded, for
// when the raw data itself must be fetched again (bit depth or calibration
// change). Results of requests issued before the call are discarded.
func (s *TileStore) InvalidateAll() {
	s.epoch++
	for i := range s.tiles {
		s.tiles[i].State = TileUnloaded
		s.tiles[i].Pixels = nil
		s.tiles[i].Err = nil
	}
	s.logger.Infof("invalidated %d tiles, epoch now %d", len(s.tiles), s.epoch)
}

// PixelAt returns the raw sample covering image coordinate (x, y). Pixel
// (i, j) covers [i, i+1)x[j, j+1). ok is false outside the image or when the
// covering tile is not loaded.
func (s *TileStore) PixelAt(x, y float64) (float32, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	px, py := int(math.Floor(x)), int(math.Floor(y))
	index, ok := s.geometry.TileIndexAt(px, py)
	if !ok {
		return 0, false
	}
	t := &s.tiles[index]
	if t.State != TileLoaded {
		return 0, false
	}
	return t.Pixels[(py-t.Y)*t.Width+(px-t.X)], true
}
