package tileview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TransformOptions() != DefaultTransformOptions() {
		t.Errorf("TransformOptions = %+v", cfg.TransformOptions())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("missing file did not give defaults: %+v", cfg)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "tileview.yaml")
	cfg := DefaultConfig()
	cfg.Viewport.ResizePollInterval = 125 * time.Millisecond
	cfg.Normalizer.ColorMapName = HeatColorMapName
	cfg.Normalizer.StretchMode = StretchAsinh
	cfg.Loader.Precision = PrecisionUint16
	cfg.History.MaxRegions = 12

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tileview.yaml")
	data := `
viewport:
  fitMargin: 5
  resizePollInterval: 200ms
normalizer:
  colorMap: Rainbow Color Map
  stretchMode: log
loader:
  timeout: 2s
logLevel: debug
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Viewport.FitMargin != 5 || cfg.Viewport.DragMargin != DefaultDragMargin {
		t.Errorf("margins %+v", cfg.Viewport)
	}
	if cfg.Viewport.ResizePollInterval != 200*time.Millisecond || cfg.Loader.Timeout != 2*time.Second {
		t.Errorf("durations %v %v", cfg.Viewport.ResizePollInterval, cfg.Loader.Timeout)
	}
	if cfg.Normalizer.ColorMapName != RainbowColorMapName || cfg.Normalizer.StretchMode != StretchLog {
		t.Errorf("normalizer %+v", cfg.Normalizer)
	}
	if cfg.Normalizer.PeakPercentile != 99 || cfg.Loader.Precision != PrecisionFloat32 {
		t.Errorf("defaults lost: %+v %s", cfg.Normalizer, cfg.Loader.Precision)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level %q", cfg.LogLevel)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"precision":  "loader:\n  precision: int12\n",
		"margin":     "viewport:\n  dragMargin: -1\n",
		"percentile": "normalizer:\n  peakPercentile: 150\n",
		"colormap":   "normalizer:\n  colorMap: Viridis\n",
		"log level":  "logLevel: loud\n",
	}
	for name, data := range tests {
		path := filepath.Join(t.TempDir(), "tileview.yaml")
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: got %v, want ErrInvalidConfig", name, err)
		}
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	os.WriteFile(path, []byte("viewport: [unclosed"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("broken yaml accepted")
	}
}

func TestConfigNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	l, err := cfg.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.GetLogLevel() != LogDebug {
		t.Errorf("level %v, want debug", l.GetLogLevel())
	}

	cfg.LogLevel = "loud"
	if _, err := cfg.NewLogger(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad level: got %v", err)
	}
}

func TestConfigNewHTTPLoader(t *testing.T) {
	srv := &pixelServer{}
	client := serveInMemory(t, srv.handle)

	cfg := DefaultConfig()
	cfg.Loader.BaseURL = testBaseURL + "/"
	cfg.Loader.Precision = PrecisionUint16
	cfg.Loader.Timeout = 2 * time.Second

	loader, err := cfg.NewHTTPLoader(client, nil)
	if err != nil {
		t.Fatalf("NewHTTPLoader: %v", err)
	}
	if loader.Precision() != PrecisionUint16 || loader.timeout != 2*time.Second {
		t.Errorf("loader precision %s timeout %v", loader.Precision(), loader.timeout)
	}

	req := TileRequest{TileRect: TileRect{Index: 0, Width: 2, Height: 2}}
	pixels, err := loader.LoadTilePixels(context.Background(), "img", req)
	if err != nil {
		t.Fatalf("LoadTilePixels: %v", err)
	}
	if len(pixels) != 4 || pixels[3] != 4 {
		t.Errorf("pixels %v", pixels)
	}
	path, query := srv.last()
	if path != "/core/v1/data-files/img/pixels" || query["precision"] != "uint16" {
		t.Errorf("request %s %v", path, query)
	}

	cfg.Loader.Precision = "int12"
	if _, err := cfg.NewHTTPLoader(client, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad precision: got %v", err)
	}
}
