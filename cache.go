package tileview

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// NormalizedTile is a display-ready RGBA buffer for one tile. It is valid
// only for the settings version and tile generation it was computed under.
type NormalizedTile struct {
	TileIndex       int
	SettingsVersion uint64
	Generation      uint64
	Width           int
	Height          int
	Buffer          []byte
}

// NormalizationCache holds one normalized buffer per tile. Buffers are
// computed lazily by Get; settings changes only bump the version.
type NormalizationCache struct {
	store    *TileStore
	stats    HistogramStats
	settings NormalizerSettings
	version  uint64
	entries  *lru.Cache
	logger   Logger
}

// NewNormalizationCache creates a cache over store. capacity bounds the
// number of retained buffers; zero or less means one per tile.
func NewNormalizationCache(store *TileStore, stats HistogramStats, settings NormalizerSettings, capacity int, logger Logger) (*NormalizationCache, error) {
	if store == nil {
		return nil, fmt.Errorf("normalization cache needs a tile store")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 || capacity > store.Len() {
		capacity = store.Len()
	}
	entries, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NullLogger{}
	}
	return &NormalizationCache{
		store:    store,
		stats:    stats,
		settings: settings,
		version:  1,
		entries:  entries,
		logger:   logger,
	}, nil
}

// Version is the current settings version
func (c *NormalizationCache) Version() uint64 { return c.version }

// Settings returns the current normalizer settings
func (c *NormalizationCache) Settings() NormalizerSettings { return c.settings }

// Histogram returns the statistics used for levels, nil if none is set
func (c *NormalizationCache) Histogram() HistogramStats { return c.stats }

// Len is the number of buffers currently held, stale ones included
func (c *NormalizationCache) Len() int { return c.entries.Len() }

// Get returns the normalized buffer for tile index, computing it if the
// cached one is missing or stale. ok is false if the tile is not Loaded, no
// histogram is set, or normalization fails.
func (c *NormalizationCache) Get(index int) (NormalizedTile, bool) {
	tile, err := c.store.Tile(index)
	if err != nil || tile.State != TileLoaded {
		c.entries.Remove(index)
		return NormalizedTile{}, false
	}

	if v, ok := c.entries.Get(index); ok {
		nt := v.(*NormalizedTile)
		if nt.SettingsVersion == c.version && nt.Generation == tile.Generation {
			normalizationLookups.WithLabelValues("hit").Inc()
			return *nt, true
		}
	}
	normalizationLookups.WithLabelValues("miss").Inc()

	if c.stats == nil {
		return NormalizedTile{}, false
	}
	buf, err := Normalize(tile.Pixels, c.stats, c.settings)
	if err != nil {
		c.logger.Errorf("normalizing tile %d: %v", index, err)
		return NormalizedTile{}, false
	}

	nt := &NormalizedTile{
		TileIndex:       index,
		SettingsVersion: c.version,
		Generation:      tile.Generation,
		Width:           tile.Width,
		Height:          tile.Height,
		Buffer:          buf,
	}
	c.entries.Add(index, nt)
	return *nt, true
}

// Peek returns the cached buffer for index without computing anything.
// The result may be stale; compare its SettingsVersion to Version.
func (c *NormalizationCache) Peek(index int) (NormalizedTile, bool) {
	v, ok := c.entries.Peek(index)
	if !ok {
		return NormalizedTile{}, false
	}
	return *v.(*NormalizedTile), true
}

// OnSettingsChanged invalidates every buffer by bumping the version
func (c *NormalizationCache) OnSettingsChanged() {
	c.version++
}

// Update merges changes into the settings. It reports whether anything
// changed; invalid changes leave the settings untouched.
func (c *NormalizationCache) Update(changes NormalizerChanges) (bool, error) {
	merged, err := c.settings.Merge(changes)
	if err != nil {
		return false, err
	}
	if merged == c.settings {
		return false, nil
	}
	c.settings = merged
	c.OnSettingsChanged()
	c.logger.Infof("normalizer settings now %+v (version %d)", c.settings, c.version)
	return true, nil
}

// SetSettings replaces the settings wholesale
func (c *NormalizationCache) SetSettings(settings NormalizerSettings) (bool, error) {
	return c.Update(NormalizerChanges{
		BackgroundPercentile: &settings.BackgroundPercentile,
		PeakPercentile:       &settings.PeakPercentile,
		ColorMapName:         &settings.ColorMapName,
		StretchMode:          &settings.StretchMode,
		Inverted:             &settings.Inverted,
	})
}

// SetHistogram replaces the statistics used to derive levels
func (c *NormalizationCache) SetHistogram(stats HistogramStats) {
	c.stats = stats
	c.OnSettingsChanged()
}

// Levels returns the sample values the current percentiles resolve to
func (c *NormalizationCache) Levels() (background, peak float64, ok bool) {
	if c.stats == nil {
		return 0, 0, false
	}
	background, peak = c.stats.Levels(c.settings.BackgroundPercentile, c.settings.PeakPercentile)
	return background, peak, true
}

// SetLevels sets the clip levels as sample values by converting them to
// percentiles of the histogram.
func (c *NormalizationCache) SetLevels(background, peak float64) (bool, error) {
	if c.stats == nil {
		return false, fmt.Errorf("%w: no histogram to convert levels", ErrInvalidSettings)
	}
	lower, upper := c.stats.Percentiles(background, peak)
	return c.Update(NormalizerChanges{BackgroundPercentile: &lower, PeakPercentile: &upper})
}

// Purge drops every cached buffer
func (c *NormalizationCache) Purge() {
	c.entries.Purge()
}
