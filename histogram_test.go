package tileview

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

func rampPixels(n int) []float32 {
	p := make([]float32, n)
	for i := range p {
		p[i] = float32(i)
	}
	return p
}

func TestNewImageHist(t *testing.T) {
	h, err := NewImageHist(rampPixels(1000), 100)
	if err != nil {
		t.Fatal(err)
	}
	if h.NumBins() != 100 || h.MinBin != 0 || h.MaxBin != 999 {
		t.Fatalf("hist %d bins [%g, %g]", h.NumBins(), h.MinBin, h.MaxBin)
	}
	for i, c := range h.Data {
		if c != 10 {
			t.Fatalf("bin %d holds %d, want 10", i, c)
		}
	}
	if h.Total() != 1000 {
		t.Errorf("Total = %g", h.Total())
	}
	if got, want := h.BinCenter(0), 999.0/200; math.Abs(got-want) > 1e-9 {
		t.Errorf("BinCenter(0) = %g, want %g", got, want)
	}
}

func TestNewImageHistSkipsNonFinite(t *testing.T) {
	pixels := []float32{1, 2, float32(math.NaN()), 3, float32(math.Inf(1))}
	h, err := NewImageHist(pixels, 4)
	if err != nil {
		t.Fatal(err)
	}
	if h.Total() != 3 || h.MinBin != 1 || h.MaxBin != 3 {
		t.Errorf("hist total %g range [%g, %g]", h.Total(), h.MinBin, h.MaxBin)
	}
}

func TestNewImageHistDegenerate(t *testing.T) {
	h, err := NewImageHist(fillPixels(50, 5), 8)
	if err != nil {
		t.Fatal(err)
	}
	if h.MinBin != 5 || h.MaxBin != 6 || h.Data[0] != 50 {
		t.Errorf("constant image hist: [%g, %g] %v", h.MinBin, h.MaxBin, h.Data)
	}

	empty, err := NewImageHist(nil, 8)
	if err != nil {
		t.Fatal(err)
	}
	if empty.Total() != 0 {
		t.Errorf("empty hist total %g", empty.Total())
	}
	bg, peak := empty.Levels(10, 99)
	if math.IsNaN(bg) || math.IsNaN(peak) {
		t.Errorf("empty hist levels %g, %g", bg, peak)
	}

	if _, err := NewImageHist(rampPixels(4), 0); err == nil {
		t.Errorf("zero bins accepted")
	}
}

func TestImageHistLevels(t *testing.T) {
	h, _ := NewImageHist(rampPixels(1000), 100)

	bg, peak := h.Levels(10, 99)
	if bg < 90 || bg > 110 {
		t.Errorf("10th percentile level %g", bg)
	}
	if peak < 975 || peak > 995 {
		t.Errorf("99th percentile level %g", peak)
	}

	lo, _ := h.Levels(0, 100)
	_, hi := h.Levels(0, 100)
	if lo > bg || hi < peak {
		t.Errorf("wider percentiles gave narrower levels: [%g, %g] vs [%g, %g]", lo, hi, bg, peak)
	}
}

func TestImageHistPercentilesInvertLevels(t *testing.T) {
	h, _ := NewImageHist(rampPixels(1000), 100)
	for _, pct := range [][2]float64{{10, 99}, {25, 75}, {50, 90}} {
		bg, peak := h.Levels(pct[0], pct[1])
		lower, upper := h.Percentiles(bg, peak)
		if !scalar.EqualWithinAbs(lower, pct[0], 1e-6) || !scalar.EqualWithinAbs(upper, pct[1], 1e-6) {
			t.Errorf("Percentiles(Levels(%v)) = %g, %g", pct, lower, upper)
		}
	}
}

func TestImageHistLevelsSingleBin(t *testing.T) {
	h := &ImageHist{Data: []uint32{7}, MinBin: 0, MaxBin: 2}
	bg, peak := h.Levels(10, 99)
	if bg != 1 || peak != 1 {
		t.Errorf("single bin levels %g, %g, want the bin center", bg, peak)
	}
}

var _ HistogramStats = (*ImageHist)(nil)
