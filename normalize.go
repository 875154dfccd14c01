package tileview

import (
	"fmt"
	"math"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// StretchMode selects the monotonic curve applied between the clip levels
type StretchMode string

const (
	StretchLinear StretchMode = "linear"
	StretchLog    StretchMode = "log"
	StretchSqrt   StretchMode = "sqrt"
	StretchAsinh  StretchMode = "asinh"
)

// ParseStretchMode accepts the mode names case-insensitively
func ParseStretchMode(s string) (StretchMode, error) {
	switch mode := StretchMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case StretchLinear, StretchLog, StretchSqrt, StretchAsinh:
		return mode, nil
	}
	return "", fmt.Errorf("%w: unknown stretch mode %q", ErrInvalidSettings, s)
}

func (m StretchMode) fn() func(float64) float64 {
	switch m {
	case StretchLog:
		return func(x float64) float64 { return math.Log10(1000*x+1) / 3 }
	case StretchSqrt:
		return math.Sqrt
	case StretchAsinh:
		return func(x float64) float64 { return math.Asinh(10*x) / 3 }
	}
	return func(x float64) float64 { return x }
}

// NormalizerSettings describes how raw samples become colors
type NormalizerSettings struct {
	BackgroundPercentile float64     `yaml:"backgroundPercentile" json:"backgroundPercentile"`
	PeakPercentile       float64     `yaml:"peakPercentile" json:"peakPercentile"`
	ColorMapName         string      `yaml:"colorMap" json:"colorMapName"`
	StretchMode          StretchMode `yaml:"stretchMode" json:"stretchMode"`
	Inverted             bool        `yaml:"inverted" json:"inverted"`
}

// DefaultNormalizerSettings clips at the 10th and 99th percentile with a
// linear gray ramp
func DefaultNormalizerSettings() NormalizerSettings {
	return NormalizerSettings{
		BackgroundPercentile: 10,
		PeakPercentile:       99,
		ColorMapName:         GrayColorMapName,
		StretchMode:          StretchLinear,
	}
}

// Validate checks percentile ranges, the colormap and the stretch mode.
// A background percentile above the peak percentile is allowed and gives a
// reversed ramp.
func (s NormalizerSettings) Validate() error {
	for _, p := range []float64{s.BackgroundPercentile, s.PeakPercentile} {
		if math.IsNaN(p) || p < 0 || p > 100 {
			return fmt.Errorf("%w: percentile %g outside [0,100]", ErrInvalidSettings, p)
		}
	}
	if _, err := LookupColorMap(s.ColorMapName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if _, err := ParseStretchMode(string(s.StretchMode)); err != nil {
		return err
	}
	return nil
}

// NormalizerChanges is a partial update of NormalizerSettings; nil fields
// are left alone.
type NormalizerChanges struct {
	BackgroundPercentile *float64
	PeakPercentile       *float64
	ColorMapName         *string
	StretchMode          *StretchMode
	Inverted             *bool
}

// IsEmpty reports whether the changes touch nothing
func (c NormalizerChanges) IsEmpty() bool {
	return c.BackgroundPercentile == nil && c.PeakPercentile == nil &&
		c.ColorMapName == nil && c.StretchMode == nil && c.Inverted == nil
}

// Merge applies changes and validates the result. s is returned unchanged
// on error.
func (s NormalizerSettings) Merge(c NormalizerChanges) (NormalizerSettings, error) {
	out := s
	if c.BackgroundPercentile != nil {
		out.BackgroundPercentile = *c.BackgroundPercentile
	}
	if c.PeakPercentile != nil {
		out.PeakPercentile = *c.PeakPercentile
	}
	if c.ColorMapName != nil {
		out.ColorMapName = *c.ColorMapName
	}
	if c.StretchMode != nil {
		out.StretchMode = *c.StretchMode
	}
	if c.Inverted != nil {
		out.Inverted = *c.Inverted
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

// Normalize converts raw samples to RGBA (4 bytes per sample).
func Normalize(pixels []float32, stats HistogramStats, settings NormalizerSettings) ([]byte, error) {
	dst := make([]byte, 4*len(pixels))
	if err := NormalizeInto(dst, pixels, stats, settings); err != nil {
		return nil, err
	}
	return dst, nil
}

// NormalizeInto is Normalize writing into a caller-provided buffer of at
// least 4*len(pixels) bytes.
//
// Levels come from the histogram at the two percentiles; samples are
// clipped to them, mapped to [0,1], stretched, optionally reversed, and
// looked up in the colormap. NaN samples are fully transparent.
func NormalizeInto(dst []byte, pixels []float32, stats HistogramStats, settings NormalizerSettings) error {
	if len(dst) < 4*len(pixels) {
		return fmt.Errorf("normalize: buffer holds %d bytes, need %d", len(dst), 4*len(pixels))
	}
	if stats == nil {
		return fmt.Errorf("%w: no histogram", ErrInvalidSettings)
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	cm, _ := LookupColorMap(settings.ColorMapName)
	stretch := settings.StretchMode.fn()

	timer := prometheus.NewTimer(normalizeDuration)
	defer timer.ObserveDuration()

	background, peak := stats.Levels(settings.BackgroundPercentile, settings.PeakPercentile)
	if settings.Inverted {
		background, peak = peak, background
	}
	reversed := background > peak
	if reversed {
		background, peak = peak, background
	}
	span := peak - background

	for i, p := range pixels {
		v := float64(p)
		o := dst[4*i : 4*i+4 : 4*i+4]
		if math.IsNaN(v) {
			o[0], o[1], o[2], o[3] = 0, 0, 0, 0
			continue
		}

		var x float64
		if span > 0 {
			x = math.Min(1, math.Max(0, (v-background)/span))
		} else if v > background {
			x = 1
		}
		t := math.Min(1, math.Max(0, stretch(x)))
		if reversed {
			t = 1 - t
		}

		c := cm.At(t)
		o[0], o[1], o[2], o[3] = c.R, c.G, c.B, c.A
	}
	return nil
}
