package tileview

import (
	"errors"
	"math"
	"testing"
)

func rampHist(t testing.TB) *ImageHist {
	t.Helper()
	h, err := NewImageHist(rampPixels(1000), 100)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func redChannel(buf []byte) []int {
	out := make([]int, len(buf)/4)
	for i := range out {
		out[i] = int(buf[4*i])
	}
	return out
}

func TestNormalizeMonotonic(t *testing.T) {
	h := rampHist(t)
	pixels := rampPixels(1000)

	for _, mode := range []StretchMode{StretchLinear, StretchLog, StretchSqrt, StretchAsinh} {
		for _, inverted := range []bool{false, true} {
			settings := DefaultNormalizerSettings()
			settings.StretchMode = mode
			settings.Inverted = inverted

			buf, err := Normalize(pixels, h, settings)
			if err != nil {
				t.Fatalf("%s inverted=%v: %v", mode, inverted, err)
			}
			r := redChannel(buf)
			for i := 1; i < len(r); i++ {
				if !inverted && r[i] < r[i-1] {
					t.Fatalf("%s: output falls from %d to %d at sample %d", mode, r[i-1], r[i], i)
				}
				if inverted && r[i] > r[i-1] {
					t.Fatalf("%s inverted: output rises from %d to %d at sample %d", mode, r[i-1], r[i], i)
				}
			}
			lo, hi := r[0], r[len(r)-1]
			if inverted {
				lo, hi = hi, lo
			}
			if lo != 0 || hi < 254 {
				t.Errorf("%s inverted=%v: range %d..%d, want full ramp", mode, inverted, lo, hi)
			}
		}
	}
}

func TestNormalizeClipsAtLevels(t *testing.T) {
	h := rampHist(t)
	bg, peak := h.Levels(10, 99)

	buf, err := Normalize([]float32{float32(bg) - 50, float32(bg), float32(peak), float32(peak) + 50}, h, DefaultNormalizerSettings())
	if err != nil {
		t.Fatal(err)
	}
	r := redChannel(buf)
	if r[0] != 0 || r[1] != 0 {
		t.Errorf("at or below background: %v", r[:2])
	}
	if r[2] < 254 || r[3] != r[2] {
		t.Errorf("at or above peak: %v", r[2:])
	}
}

func TestNormalizeReversedPercentiles(t *testing.T) {
	h := rampHist(t)
	pixels := []float32{0, 500, 999}

	reversed := DefaultNormalizerSettings()
	reversed.BackgroundPercentile, reversed.PeakPercentile = 99, 10
	buf, err := Normalize(pixels, h, reversed)
	if err != nil {
		t.Fatal(err)
	}
	r := redChannel(buf)
	if !(r[0] > r[1] && r[1] > r[2]) {
		t.Errorf("reversed percentiles gave %v, want a falling ramp", r)
	}

	reversed.Inverted = true
	buf, _ = Normalize(pixels, h, reversed)
	r = redChannel(buf)
	if !(r[0] < r[1] && r[1] < r[2]) {
		t.Errorf("inverted reversed percentiles gave %v, want a rising ramp", r)
	}
}

func TestNormalizeNaNIsTransparent(t *testing.T) {
	buf, err := Normalize([]float32{float32(math.NaN()), 500}, rampHist(t), DefaultNormalizerSettings())
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0 || buf[1] != 0 || buf[2] != 0 || buf[3] != 0 {
		t.Errorf("NaN sample = %v, want transparent", buf[:4])
	}
	if buf[7] != 255 {
		t.Errorf("finite sample alpha = %d", buf[7])
	}
}

func TestNormalizeFlatHistogram(t *testing.T) {
	h, _ := NewImageHist(fillPixels(100, 5), 16)
	buf, err := Normalize([]float32{4, 5, 6}, h, DefaultNormalizerSettings())
	if err != nil {
		t.Fatal(err)
	}
	r := redChannel(buf)
	if r[0] != 0 || r[2] < 254 || r[1] > r[2] {
		t.Errorf("flat histogram gave %v, want a step", r)
	}
}

func TestNormalizeColorMap(t *testing.T) {
	settings := DefaultNormalizerSettings()
	settings.ColorMapName = GreenColorMapName
	buf, err := Normalize([]float32{999}, rampHist(t), settings)
	if err != nil {
		t.Fatal(err)
	}
	if buf[0] != 0 || buf[1] < 254 || buf[2] != 0 {
		t.Errorf("green map peak = %v", buf[:4])
	}
}

func TestNormalizeIntoErrors(t *testing.T) {
	h := rampHist(t)
	if err := NormalizeInto(make([]byte, 4), []float32{1, 2}, h, DefaultNormalizerSettings()); err == nil {
		t.Errorf("short buffer accepted")
	}
	if _, err := Normalize([]float32{1}, nil, DefaultNormalizerSettings()); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("nil stats: got %v", err)
	}
	bad := DefaultNormalizerSettings()
	bad.ColorMapName = "nope"
	if _, err := Normalize([]float32{1}, h, bad); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("unknown colormap: got %v", err)
	}
}

func TestStretchEndpoints(t *testing.T) {
	for _, mode := range []StretchMode{StretchLinear, StretchLog, StretchSqrt, StretchAsinh} {
		f := mode.fn()
		if f(0) != 0 {
			t.Errorf("%s(0) = %g", mode, f(0))
		}
		if math.Abs(f(1)-1) > 1e-3 {
			t.Errorf("%s(1) = %g", mode, f(1))
		}
	}
}

func TestParseStretchMode(t *testing.T) {
	if m, err := ParseStretchMode(" ASINH "); err != nil || m != StretchAsinh {
		t.Errorf("ParseStretchMode = %q, %v", m, err)
	}
	if _, err := ParseStretchMode("gamma"); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("unknown mode: got %v", err)
	}
}

func TestNormalizerSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NormalizerSettings)
		ok     bool
	}{
		{"defaults", func(s *NormalizerSettings) {}, true},
		{"reversed percentiles", func(s *NormalizerSettings) { s.BackgroundPercentile, s.PeakPercentile = 90, 5 }, true},
		{"peak above 100", func(s *NormalizerSettings) { s.PeakPercentile = 100.5 }, false},
		{"negative background", func(s *NormalizerSettings) { s.BackgroundPercentile = -1 }, false},
		{"NaN", func(s *NormalizerSettings) { s.PeakPercentile = math.NaN() }, false},
		{"unknown colormap", func(s *NormalizerSettings) { s.ColorMapName = "Viridis" }, false},
		{"unknown stretch", func(s *NormalizerSettings) { s.StretchMode = "cube" }, false},
	}
	for _, tt := range tests {
		s := DefaultNormalizerSettings()
		tt.mutate(&s)
		err := s.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate = %v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("%s: error %v does not wrap ErrInvalidSettings", tt.name, err)
		}
	}
}

func TestNormalizerSettingsMerge(t *testing.T) {
	base := DefaultNormalizerSettings()
	peak := 95.0
	cmap := HeatColorMapName

	merged, err := base.Merge(NormalizerChanges{PeakPercentile: &peak, ColorMapName: &cmap})
	if err != nil {
		t.Fatal(err)
	}
	want := base
	want.PeakPercentile = 95
	want.ColorMapName = HeatColorMapName
	if merged != want {
		t.Errorf("Merge = %+v, want %+v", merged, want)
	}

	bad := 101.0
	out, err := base.Merge(NormalizerChanges{PeakPercentile: &bad, ColorMapName: &cmap})
	if err == nil {
		t.Fatal("invalid merge accepted")
	}
	if out != base {
		t.Errorf("failed merge returned %+v, want the original", out)
	}

	if !(NormalizerChanges{}).IsEmpty() || (NormalizerChanges{PeakPercentile: &peak}).IsEmpty() {
		t.Errorf("IsEmpty wrong")
	}
}
