package tileview

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newLoadedCache returns a 4-tile store (2x2 tiles of 2x2 pixels) with
// tiles 0 and 1 loaded, and a cache over it
func newLoadedCache(t testing.TB, capacity int) (*NormalizationCache, *TileStore, *recordingRequester) {
	t.Helper()
	store, rec := newTestStore(t, mustGeometry(t, 4, 4, 2, 2))
	store.RequestMissingTiles([]int{0, 1})
	if err := store.OnTileLoaded(rec.requests[0], []float32{0, 100, 200, 300}); err != nil {
		t.Fatal(err)
	}
	if err := store.OnTileLoaded(rec.requests[1], []float32{400, 500, 600, 999}); err != nil {
		t.Fatal(err)
	}
	cache, err := NewNormalizationCache(store, rampHist(t), DefaultNormalizerSettings(), capacity, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cache, store, rec
}

func TestCacheGetComputesOnce(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	hits := tileLookups("hit")
	misses := tileLookups("miss")

	first, ok := cache.Get(0)
	if !ok {
		t.Fatal("Get(0) on a loaded tile failed")
	}
	if first.SettingsVersion != cache.Version() || first.Width != 2 || first.Height != 2 || len(first.Buffer) != 16 {
		t.Errorf("normalized tile %+v", first)
	}
	second, ok := cache.Get(0)
	if !ok || &second.Buffer[0] != &first.Buffer[0] {
		t.Errorf("second Get recomputed the buffer")
	}
	if got := tileLookups("miss") - misses; got != 1 {
		t.Errorf("misses grew by %g, want 1", got)
	}
	if got := tileLookups("hit") - hits; got != 1 {
		t.Errorf("hits grew by %g, want 1", got)
	}
}

func tileLookups(result string) float64 {
	return testutil.ToFloat64(normalizationLookups.WithLabelValues(result))
}

func TestCacheGetUnloaded(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	if _, ok := cache.Get(2); ok {
		t.Errorf("Get on an unloaded tile succeeded")
	}
	if _, ok := cache.Get(17); ok {
		t.Errorf("Get on an invalid index succeeded")
	}
}

func TestCacheSettingsChangeIsLazy(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	cache.Get(0)
	cache.Get(1)
	v1 := cache.Version()

	cache.OnSettingsChanged()
	if cache.Version() == v1 {
		t.Fatal("OnSettingsChanged did not bump the version")
	}
	// nothing recomputed yet
	for _, i := range []int{0, 1} {
		nt, ok := cache.Peek(i)
		if !ok || nt.SettingsVersion != v1 {
			t.Errorf("tile %d was touched by OnSettingsChanged: %+v", i, nt)
		}
	}

	nt, ok := cache.Get(0)
	if !ok || nt.SettingsVersion != cache.Version() {
		t.Errorf("Get after change returned version %d, want %d", nt.SettingsVersion, cache.Version())
	}
	if stale, _ := cache.Peek(1); stale.SettingsVersion != v1 {
		t.Errorf("tile 1 recomputed without being requested")
	}
}

func TestCacheCoherence(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	before, _ := cache.Get(0)
	beforeBuf := append([]byte(nil), before.Buffer...)

	inverted := true
	changed, err := cache.Update(NormalizerChanges{Inverted: &inverted})
	if err != nil || !changed {
		t.Fatalf("Update = %v, %v", changed, err)
	}
	after, ok := cache.Get(0)
	if !ok {
		t.Fatal("Get failed")
	}
	if after.SettingsVersion == before.SettingsVersion {
		t.Errorf("buffer from the old settings version returned")
	}
	if bytes.Equal(after.Buffer, beforeBuf) {
		t.Errorf("inverting did not change the buffer")
	}
}

func TestCacheFollowsTileReload(t *testing.T) {
	cache, store, rec := newLoadedCache(t, 0)
	before, _ := cache.Get(0)

	store.InvalidateAll()
	if _, ok := cache.Get(0); ok {
		t.Fatal("Get returned a buffer for an invalidated tile")
	}

	store.RequestMissingTiles([]int{0})
	if err := store.OnTileLoaded(rec.requests[len(rec.requests)-1], []float32{999, 999, 999, 999}); err != nil {
		t.Fatal(err)
	}
	after, ok := cache.Get(0)
	if !ok {
		t.Fatal("Get after reload failed")
	}
	if after.Generation == before.Generation || bytes.Equal(after.Buffer, before.Buffer) {
		t.Errorf("reloaded tile served the old buffer")
	}
}

func TestCacheUpdate(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	v := cache.Version()

	same := DefaultNormalizerSettings().ColorMapName
	if changed, err := cache.Update(NormalizerChanges{ColorMapName: &same}); changed || err != nil {
		t.Errorf("no-op update = %v, %v", changed, err)
	}
	bad := "Magma"
	if _, err := cache.Update(NormalizerChanges{ColorMapName: &bad}); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("bad colormap: got %v", err)
	}
	if cache.Version() != v || cache.Settings() != DefaultNormalizerSettings() {
		t.Errorf("rejected updates changed state")
	}

	settings := DefaultNormalizerSettings()
	settings.StretchMode = StretchSqrt
	if changed, err := cache.SetSettings(settings); !changed || err != nil {
		t.Errorf("SetSettings = %v, %v", changed, err)
	}
	if cache.Settings().StretchMode != StretchSqrt || cache.Version() != v+1 {
		t.Errorf("SetSettings left %+v at version %d", cache.Settings(), cache.Version())
	}
}

func TestCacheSetLevels(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 0)
	h := rampHist(t)
	bg, peak := h.Levels(25, 75)

	changed, err := cache.SetLevels(bg, peak)
	if err != nil || !changed {
		t.Fatalf("SetLevels = %v, %v", changed, err)
	}
	s := cache.Settings()
	if diff := s.BackgroundPercentile - 25; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("background percentile %g, want 25", s.BackgroundPercentile)
	}
	if diff := s.PeakPercentile - 75; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("peak percentile %g, want 75", s.PeakPercentile)
	}

	gotBg, gotPeak, ok := cache.Levels()
	if !ok || gotBg-bg > 1e-6 || bg-gotBg > 1e-6 || gotPeak-peak > 1e-6 || peak-gotPeak > 1e-6 {
		t.Errorf("Levels = %g, %g, %v want %g, %g", gotBg, gotPeak, ok, bg, peak)
	}
}

func TestCacheWithoutHistogram(t *testing.T) {
	store, rec := newTestStore(t, mustGeometry(t, 2, 2, 2, 2))
	store.RequestMissingTiles([]int{0})
	store.OnTileLoaded(rec.requests[0], []float32{1, 2, 3, 4})

	cache, err := NewNormalizationCache(store, nil, DefaultNormalizerSettings(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Get(0); ok {
		t.Errorf("normalized without a histogram")
	}
	if _, err := cache.SetLevels(1, 2); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("SetLevels without histogram: got %v", err)
	}

	v := cache.Version()
	cache.SetHistogram(rampHist(t))
	if cache.Version() == v {
		t.Errorf("SetHistogram did not bump the version")
	}
	if _, ok := cache.Get(0); !ok {
		t.Errorf("Get failed after the histogram arrived")
	}
}

func TestCacheCapacity(t *testing.T) {
	cache, _, _ := newLoadedCache(t, 1)
	cache.Get(0)
	cache.Get(1)
	if cache.Len() != 1 {
		t.Errorf("Len = %d with capacity 1", cache.Len())
	}
	if _, ok := cache.Peek(0); ok {
		t.Errorf("least recently used buffer kept")
	}
	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Purge left %d buffers", cache.Len())
	}
}

func TestNewNormalizationCacheValidates(t *testing.T) {
	store, _ := newTestStore(t, mustGeometry(t, 2, 2, 2, 2))
	bad := DefaultNormalizerSettings()
	bad.PeakPercentile = 200
	if _, err := NewNormalizationCache(store, nil, bad, 0, nil); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("bad settings: got %v", err)
	}
	if _, err := NewNormalizationCache(nil, nil, DefaultNormalizerSettings(), 0, nil); err == nil {
		t.Errorf("nil store accepted")
	}
}
