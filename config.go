package tileview

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a viewing session
type Config struct {
	Viewport struct {
		// DragMargin is how far the image box is shrunk when checking that a
		// pan keeps it on screen
		DragMargin float64 `yaml:"dragMargin"`

		// FitMargin is the gap left on each side by region centering
		FitMargin float64 `yaml:"fitMargin"`

		// ResizePollInterval is how often the viewport size is sampled
		ResizePollInterval time.Duration `yaml:"resizePollInterval"`
	} `yaml:"viewport"`

	Normalizer NormalizerSettings `yaml:"normalizer"`

	Cache struct {
		// MaxNormalizedTiles bounds the number of normalized buffers kept;
		// 0 keeps one per tile
		MaxNormalizedTiles int `yaml:"maxNormalizedTiles"`
	} `yaml:"cache"`

	History struct {
		MaxRegions int `yaml:"maxRegions"`
	} `yaml:"history"`

	Loader struct {
		BaseURL            string        `yaml:"baseURL"`
		Precision          Precision     `yaml:"precision"`
		Timeout            time.Duration `yaml:"timeout"`
		MaxConcurrentLoads int           `yaml:"maxConcurrentLoads"`
	} `yaml:"loader"`

	LogLevel string `yaml:"logLevel"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Viewport.DragMargin = DefaultDragMargin
	cfg.Viewport.FitMargin = DefaultFitMargin
	cfg.Viewport.ResizePollInterval = 50 * time.Millisecond

	cfg.Normalizer = DefaultNormalizerSettings()

	cfg.History.MaxRegions = DefaultHistoryCapacity

	cfg.Loader.BaseURL = "http://localhost:4000/core/v1"
	cfg.Loader.Precision = PrecisionFloat32
	cfg.Loader.Timeout = 30 * time.Second
	cfg.Loader.MaxConcurrentLoads = runtime.NumCPU()

	cfg.LogLevel = "info"
	return cfg
}

// TransformOptions returns the viewport margins as TransformOptions
func (c *Config) TransformOptions() TransformOptions {
	return TransformOptions{DragMargin: c.Viewport.DragMargin, FitMargin: c.Viewport.FitMargin}
}

// NewLogger returns a stderr logger at the configured level
func (c *Config) NewLogger() (*StdErrLogger, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return NewStdErrLogger(level), nil
}

// NewHTTPLoader returns a loader for the configured base URL, precision and
// timeout. A nil client gets a default fasthttp client.
func (c *Config) NewHTTPLoader(client *fasthttp.Client, logger Logger) (*HTTPLoader, error) {
	l, err := NewHTTPLoader(c.Loader.BaseURL, c.Loader.Precision, client, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: loader: %v", ErrInvalidConfig, err)
	}
	l.SetTimeout(c.Loader.Timeout)
	return l, nil
}

// Validate rejects values no session can run with
func (c *Config) Validate() error {
	if c.Viewport.DragMargin < 0 || c.Viewport.FitMargin < 0 {
		return fmt.Errorf("%w: margins must not be negative", ErrInvalidConfig)
	}
	if c.Viewport.ResizePollInterval < 0 {
		return fmt.Errorf("%w: negative resize poll interval", ErrInvalidConfig)
	}
	if err := c.Normalizer.Validate(); err != nil {
		return fmt.Errorf("%w: normalizer: %v", ErrInvalidConfig, err)
	}
	if c.Cache.MaxNormalizedTiles < 0 {
		return fmt.Errorf("%w: negative cache size", ErrInvalidConfig)
	}
	if c.History.MaxRegions < 0 {
		return fmt.Errorf("%w: negative history size", ErrInvalidConfig)
	}
	if _, err := ParsePrecision(string(c.Loader.Precision)); err != nil {
		return fmt.Errorf("%w: loader: %v", ErrInvalidConfig, err)
	}
	if c.Loader.Timeout < 0 || c.Loader.MaxConcurrentLoads < 0 {
		return fmt.Errorf("%w: loader timeout and concurrency must not be negative", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads configuration from a YAML file. A missing file yields
// the defaults; keys absent from the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating the directory if needed
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}
