package tileview

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// EventKind identifies what changed in a Session
type EventKind int

const (
	EventTransformChanged EventKind = iota
	EventViewportResized
	EventTileLoaded
	EventTileFailed
	EventTilesInvalidated
	EventSettingsChanged
	EventRegionChanged
	EventRegionModeChanged
)

func (k EventKind) String() string {
	switch k {
	case EventTransformChanged:
		return "transform-changed"
	case EventViewportResized:
		return "viewport-resized"
	case EventTileLoaded:
		return "tile-loaded"
	case EventTileFailed:
		return "tile-failed"
	case EventTilesInvalidated:
		return "tiles-invalidated"
	case EventSettingsChanged:
		return "settings-changed"
	case EventRegionChanged:
		return "region-changed"
	case EventRegionModeChanged:
		return "region-mode-changed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to subscribers after a Session change. TileIndex is -1
// for events that are not about a single tile.
type Event struct {
	Kind      EventKind
	TileIndex int
}

// RegionMode selects which region the sonification tools read
type RegionMode int

const (
	// RegionModeViewport follows whatever the viewport shows
	RegionModeViewport RegionMode = iota
	// RegionModeCustom uses the current entry of the region history and
	// recenters the view on it when the history moves
	RegionModeCustom
)

func (m RegionMode) String() string {
	if m == RegionModeCustom {
		return "custom"
	}
	return "viewport"
}

// PrecisionSetter is implemented by loaders whose sample encoding can change
type PrecisionSetter interface {
	Precision() Precision
	SetPrecision(p Precision) error
}

// SessionOptions configures NewSession
type SessionOptions struct {
	FileID   string
	Geometry ImageGeometry
	Loader   PixelLoader

	// Histogram may be nil and set later with SetHistogram or LoadHistogram
	Histogram HistogramStats

	// Config defaults to DefaultConfig()
	Config *Config

	// SizeFunc, when set, is polled by Run for the viewport size. ok false
	// means the host has not laid the viewport out yet.
	SizeFunc func() (size Size, ok bool)

	Logger Logger
}

type tileResult struct {
	req    TileRequest
	pixels []float32
	err    error
}

type observer struct {
	id int
	fn func(Event)
}

// Session is the per-image state container: it owns the transform state,
// tile store, normalization cache and region history of one open image.
//
// Session methods are not safe for concurrent use. Call them from the
// goroutine running Run (through Do) or, when Run is not used, from a single
// goroutine that calls ProcessPending to apply finished tile loads. Pixel
// fetches run on worker goroutines and only touch the session through the
// results channel.
type Session struct {
	fileID   string
	cfg      *Config
	loader   PixelLoader
	sizeFunc func() (Size, bool)
	logger   Logger

	transform  *TransformState
	tiles      *TileStore
	cache      *NormalizationCache
	history    *RegionHistory
	regionMode RegionMode
	fitted     bool

	observers      []observer
	nextObserverID int

	loadCtx    context.Context
	cancelLoad context.CancelFunc
	work       chan TileRequest
	results    chan tileResult
	ops        chan func()
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup

	// closeMu orders wg.Add in enqueue before the wg.Wait in Close
	closeMu sync.Mutex
	closed  bool
}

// NewSession opens a session and starts its load workers. The region
// history is seeded with the full image.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("session for %q needs a pixel loader", opts.FileID)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = &NullLogger{}
	}

	transform, err := NewTransformState(opts.Geometry, cfg.TransformOptions())
	if err != nil {
		return nil, err
	}

	s := &Session{
		fileID:    opts.FileID,
		cfg:       cfg,
		loader:    opts.Loader,
		sizeFunc:  opts.SizeFunc,
		logger:    logger,
		transform: transform,
		history:   NewRegionHistory(cfg.History.MaxRegions),
		ops:       make(chan func()),
		done:      make(chan struct{}),
	}

	s.tiles, err = NewTileStore(opts.Geometry, TileRequesterFunc(s.enqueue), logger)
	if err != nil {
		return nil, err
	}
	s.cache, err = NewNormalizationCache(s.tiles, opts.Histogram, cfg.Normalizer, cfg.Cache.MaxNormalizedTiles, logger)
	if err != nil {
		return nil, err
	}
	s.history.Push(opts.Geometry.FullRegion())

	count := opts.Geometry.TileCount()
	s.work = make(chan TileRequest, count)
	s.results = make(chan tileResult, count)
	s.loadCtx, s.cancelLoad = context.WithCancel(context.Background())

	workers := cfg.Loader.MaxConcurrentLoads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > count {
		workers = count
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.loadWorker()
	}

	logger.Infof("opened %s: %dx%d, %d tiles of %dx%d, %d load workers", opts.FileID,
		opts.Geometry.Width, opts.Geometry.Height, count, opts.Geometry.TileWidth, opts.Geometry.TileHeight, workers)
	return s, nil
}

func (s *Session) loadWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case req := <-s.work:
			s.load(req)
		}
	}
}

func (s *Session) load(req TileRequest) {
	pixels, err := s.loader.LoadTilePixels(s.loadCtx, s.fileID, req)
	select {
	case s.results <- tileResult{req: req, pixels: pixels, err: err}:
	case <-s.done:
	}
}

// enqueue hands a request to the workers without blocking. Requests that
// do not fit in the queue (possible right after InvalidateTiles) get their
// own goroutine.
func (s *Session) enqueue(req TileRequest) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.work <- req:
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.load(req)
		}()
	}
}

// Close stops the workers and the Run loop. Loads still in flight are
// cancelled and their results dropped.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.done)
		s.closeMu.Unlock()
		s.cancelLoad()
		s.wg.Wait()
		s.logger.Infof("closed %s", s.fileID)
	})
	return nil
}

// Run is the session event loop. It applies tile results, runs functions
// submitted through Do and polls SizeFunc every ResizePollInterval. It
// returns when ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.sizeFunc != nil && s.cfg.Viewport.ResizePollInterval > 0 {
		ticker := time.NewTicker(s.cfg.Viewport.ResizePollInterval)
		defer ticker.Stop()
		tick = ticker.C
		s.pollSize()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrSessionClosed
		case r := <-s.results:
			s.applyResult(r)
		case op := <-s.ops:
			op()
		case <-tick:
			s.pollSize()
		}
	}
}

// Do runs fn on the Run goroutine and waits for it to finish
func (s *Session) Do(ctx context.Context, fn func(*Session)) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn(s)
	}

	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessPending applies every tile result that has already arrived and
// returns how many there were. It never blocks.
func (s *Session) ProcessPending() int {
	n := 0
	for {
		select {
		case r := <-s.results:
			s.applyResult(r)
			n++
		default:
			return n
		}
	}
}

func (s *Session) applyResult(r tileResult) {
	var err error
	kind := EventTileLoaded
	if r.err != nil {
		kind = EventTileFailed
		err = s.tiles.OnTileLoadFailed(r.req, r.err)
	} else {
		err = s.tiles.OnTileLoaded(r.req, r.pixels)
	}
	if err != nil {
		if errors.Is(err, ErrStaleTileResult) {
			s.logger.Debugf("dropping result: %v", err)
		} else {
			s.logger.Errorf("applying result for tile %d: %v", r.req.Index, err)
		}
		return
	}
	if s.tiles.State(r.req.Index) == TileFailed {
		kind = EventTileFailed
	}
	s.notify(Event{Kind: kind, TileIndex: r.req.Index})
}

func (s *Session) pollSize() {
	size, ok := s.sizeFunc()
	if !ok {
		return
	}
	if current, known := s.transform.ViewportSize(); known && current == size {
		return
	}
	s.SetViewportSize(size)
}

// Subscribe registers fn for every subsequent event. Call the returned
// function to unsubscribe.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.nextObserverID++
	id := s.nextObserverID
	s.observers = append(s.observers, observer{id: id, fn: fn})
	return func() {
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) notify(ev Event) {
	for _, o := range append([]observer(nil), s.observers...) {
		o.fn(ev)
	}
}

// refresh requests every visible tile that has not been loaded yet
func (s *Session) refresh() {
	issued := s.tiles.RequestMissingTiles(s.tiles.VisibleTileIndices(s.transform))
	if len(issued) > 0 {
		s.logger.Debugf("requested %d tiles of %s", len(issued), s.fileID)
	}
}

func (s *Session) transformChanged() {
	s.notify(Event{Kind: EventTransformChanged, TileIndex: -1})
	s.refresh()
}

// SetViewportSize records a new viewport size. The first usable (non-empty)
// size fits the whole image; later sizes keep pan and zoom.
func (s *Session) SetViewportSize(size Size) {
	s.transform.SetViewportSize(size)
	s.notify(Event{Kind: EventViewportResized, TileIndex: -1})

	if !s.fitted && size.Width > 0 && size.Height > 0 {
		if err := s.transform.CenterRegionInViewport(s.transform.Geometry().FullRegion(), nil); err != nil {
			s.logger.Errorf("fitting %s: %v", s.fileID, err)
		} else {
			s.fitted = true
		}
		s.transformChanged()
		return
	}
	s.refresh()
}

// PanBy moves the view; see TransformState.PanBy
func (s *Session) PanBy(dx, dy float64) bool {
	if !s.transform.PanBy(dx, dy) {
		return false
	}
	s.transformChanged()
	return true
}

// ZoomBy zooms about a viewport anchor; see TransformState.ZoomBy
func (s *Session) ZoomBy(factor float64, anchor *Point) bool {
	if !s.transform.ZoomBy(factor, anchor) {
		return false
	}
	s.transformChanged()
	return true
}

func (s *Session) ZoomTo(scale float64, anchor *Point) bool {
	if !s.transform.ZoomTo(scale, anchor) {
		return false
	}
	s.transformChanged()
	return true
}

func (s *Session) RotateBy(angleDegrees float64, anchor *Point) bool {
	if !s.transform.RotateBy(angleDegrees, anchor) {
		return false
	}
	s.transformChanged()
	return true
}

func (s *Session) Flip() {
	s.transform.Flip()
	s.transformChanged()
}

// CenterRegion jumps the view to region (image coordinates)
func (s *Session) CenterRegion(region Region) error {
	if err := s.transform.CenterRegionInViewport(region, nil); err != nil {
		return err
	}
	s.fitted = true
	s.transformChanged()
	return nil
}

// ResetView fits the whole image in the viewport
func (s *Session) ResetView() error {
	return s.CenterRegion(s.transform.Geometry().FullRegion())
}

// followRegion recenters on the current history entry in custom mode
func (s *Session) followRegion() {
	if s.regionMode != RegionModeCustom {
		return
	}
	region, ok := s.history.Current()
	if !ok {
		return
	}
	if _, known := s.transform.ViewportSize(); !known {
		return
	}
	if err := s.CenterRegion(region); err != nil {
		s.logger.Errorf("centering on region %+v: %v", region, err)
	}
}

func (s *Session) regionChanged() {
	s.notify(Event{Kind: EventRegionChanged, TileIndex: -1})
	s.followRegion()
}

// PushRegion records a region of interest. Regions dragged with negative
// size are normalized first; empty regions are rejected.
func (s *Session) PushRegion(region Region) error {
	if region.IsEmpty() {
		return fmt.Errorf("%w: %+v", ErrInvalidRegion, region)
	}
	s.history.Push(region.Normalize())
	s.regionChanged()
	return nil
}

func (s *Session) UndoRegion() bool {
	if !s.history.Undo() {
		return false
	}
	s.regionChanged()
	return true
}

func (s *Session) RedoRegion() bool {
	if !s.history.Redo() {
		return false
	}
	s.regionChanged()
	return true
}

// ClearRegions empties the region history
func (s *Session) ClearRegions() {
	s.history.Clear()
	s.notify(Event{Kind: EventRegionChanged, TileIndex: -1})
}

// CurrentRegion is the current region history entry
func (s *Session) CurrentRegion() (Region, bool) {
	return s.history.Current()
}

// RegionHistory returns the history entries and the current index
func (s *Session) RegionHistory() ([]Region, int) {
	return s.history.Entries(), s.history.Index()
}

func (s *Session) RegionMode() RegionMode { return s.regionMode }

// SetRegionMode switches between viewport and custom regions. Entering
// custom mode centers the view on the current region.
func (s *Session) SetRegionMode(mode RegionMode) {
	if mode == s.regionMode {
		return
	}
	s.regionMode = mode
	s.notify(Event{Kind: EventRegionModeChanged, TileIndex: -1})
	s.followRegion()
}

// SonificationRegion is the region the sonification tools should use for
// the current mode
func (s *Session) SonificationRegion() (Region, bool) {
	if s.regionMode == RegionModeCustom {
		return s.history.Current()
	}
	return s.transform.CurrentImageRegion()
}

// UpdateNormalizer merges changes into the normalizer settings
func (s *Session) UpdateNormalizer(changes NormalizerChanges) (bool, error) {
	changed, err := s.cache.Update(changes)
	if err != nil || !changed {
		return changed, err
	}
	s.notify(Event{Kind: EventSettingsChanged, TileIndex: -1})
	return true, nil
}

// SetLevels sets absolute clip levels, stored as histogram percentiles
func (s *Session) SetLevels(background, peak float64) (bool, error) {
	changed, err := s.cache.SetLevels(background, peak)
	if err != nil || !changed {
		return changed, err
	}
	s.notify(Event{Kind: EventSettingsChanged, TileIndex: -1})
	return true, nil
}

// Levels are the sample values the current percentiles resolve to
func (s *Session) Levels() (background, peak float64, ok bool) {
	return s.cache.Levels()
}

func (s *Session) Settings() NormalizerSettings { return s.cache.Settings() }

// SettingsVersion changes every time normalized buffers become stale
func (s *Session) SettingsVersion() uint64 { return s.cache.Version() }

// SetHistogram replaces the full-image statistics
func (s *Session) SetHistogram(stats HistogramStats) {
	s.cache.SetHistogram(stats)
	s.notify(Event{Kind: EventSettingsChanged, TileIndex: -1})
}

// LoadHistogram fetches the histogram through the loader, which must
// implement HistogramLoader. It blocks on I/O.
func (s *Session) LoadHistogram(ctx context.Context) error {
	hl, ok := s.loader.(HistogramLoader)
	if !ok {
		return fmt.Errorf("loader %T cannot load histograms", s.loader)
	}
	hist, err := hl.LoadHistogram(ctx, s.fileID)
	if err != nil {
		return err
	}
	s.SetHistogram(hist)
	return nil
}

// SetPrecision changes the sample encoding requested from the server. A
// change discards every tile and refetches the visible ones.
func (s *Session) SetPrecision(p Precision) error {
	ps, ok := s.loader.(PrecisionSetter)
	if !ok {
		return fmt.Errorf("loader %T has no precision setting", s.loader)
	}
	if ps.Precision() == p {
		return nil
	}
	if err := ps.SetPrecision(p); err != nil {
		return err
	}
	s.InvalidateTiles()
	return nil
}

// InvalidateTiles drops every tile's pixels and refetches the visible ones
func (s *Session) InvalidateTiles() {
	s.tiles.InvalidateAll()
	s.cache.Purge()
	s.notify(Event{Kind: EventTilesInvalidated, TileIndex: -1})
	s.refresh()
}

// RetryTile re-requests a failed tile
func (s *Session) RetryTile(index int) (bool, error) {
	return s.tiles.Retry(index)
}

func (s *Session) FileID() string          { return s.fileID }
func (s *Session) Geometry() ImageGeometry { return s.transform.Geometry() }

// Composed is the image→viewport transform the renderer maps tiles through
func (s *Session) Composed() AffineTransform { return s.transform.Composed() }

func (s *Session) ImageTransform() AffineTransform    { return s.transform.ImageTransform() }
func (s *Session) ViewportTransform() AffineTransform { return s.transform.ViewportTransform() }
func (s *Session) Scale() float64                     { return s.transform.Scale() }
func (s *Session) ViewportSize() (Size, bool)         { return s.transform.ViewportSize() }

// CurrentImageRegion is the part of the image the viewport shows
func (s *Session) CurrentImageRegion() (Region, bool) {
	return s.transform.CurrentImageRegion()
}

// TileState reports the load state of one tile
func (s *Session) TileState(index int) TileState { return s.tiles.State(index) }

// TileCounts returns the number of tiles per state
func (s *Session) TileCounts() map[TileState]int { return s.tiles.CountByState() }

// VisibleTileIndices lists the tiles the viewport needs
func (s *Session) VisibleTileIndices() []int {
	return s.tiles.VisibleTileIndices(s.transform)
}

// PixelAtViewport returns the image coordinate under a viewport point and
// the raw sample there. ok is false off the image or on an unloaded tile.
func (s *Session) PixelAtViewport(p Point) (Point, float32, bool) {
	ip := s.transform.ViewportToImage(p)
	v, ok := s.tiles.PixelAt(ip.X, ip.Y)
	return ip, v, ok
}

// VisibleTiles returns the visible tiles for rendering. Loaded tiles carry
// a buffer normalized under the current settings; normalization happens
// here, for these tiles only.
func (s *Session) VisibleTiles() []RenderTile {
	indices := s.VisibleTileIndices()
	out := make([]RenderTile, 0, len(indices))
	for _, i := range indices {
		t, err := s.tiles.Tile(i)
		if err != nil {
			continue
		}
		rt := RenderTile{TileRect: t.TileRect, State: t.State}
		if t.State == TileLoaded {
			if nt, ok := s.cache.Get(i); ok {
				rt.Buffer = nt.Buffer
				rt.SettingsVersion = nt.SettingsVersion
			}
		}
		out = append(out, rt)
	}
	return out
}

// Render draws the visible tiles into dst with c
func (s *Session) Render(dst draw.Image, c *Compositor) {
	c.Render(dst, s.Composed(), s.VisibleTiles())
}

// Snapshot renders the viewport to PNG
func (s *Session) Snapshot(c *Compositor) ([]byte, error) {
	size, ok := s.transform.ViewportSize()
	if !ok {
		return nil, ErrViewportUnknown
	}
	return c.EncodePNG(int(size.Width), int(size.Height), s.Composed(), s.VisibleTiles())
}
