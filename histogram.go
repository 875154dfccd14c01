package tileview

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// HistogramStats supplies percentile lookups over the full image,
// independent of tiling.
type HistogramStats interface {
	// Levels returns the sample values at the given percentiles
	Levels(backgroundPercentile, peakPercentile float64) (background, peak float64)

	// Percentiles is the inverse of Levels
	Percentiles(background, peak float64) (backgroundPercentile, peakPercentile float64)
}

// ImageHist is a full-image histogram with equal-width bins spanning
// [MinBin, MaxBin].
type ImageHist struct {
	Data   []uint32 `json:"data"`
	MinBin float64  `json:"minBin"`
	MaxBin float64  `json:"maxBin"`
}

// DefaultHistogramBins is the bin count used by NewImageHist callers that
// have no preference
const DefaultHistogramBins = 4096

// NewImageHist bins pixels into n equal-width bins. NaN and infinite
// samples are ignored.
func NewImageHist(pixels []float32, n int) (*ImageHist, error) {
	if n <= 0 {
		return nil, fmt.Errorf("histogram bins must be positive, got %d", n)
	}

	values := make([]float64, 0, len(pixels))
	for _, p := range pixels {
		v := float64(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}

	hist := &ImageHist{Data: make([]uint32, n)}
	if len(values) == 0 {
		hist.MaxBin = 1
		return hist, nil
	}

	sort.Float64s(values)
	hist.MinBin = floats.Min(values)
	hist.MaxBin = floats.Max(values)
	if hist.MaxBin == hist.MinBin {
		hist.MaxBin = hist.MinBin + 1
	}

	dividers := make([]float64, n+1)
	floats.Span(dividers, hist.MinBin, hist.MaxBin)
	// stat.Histogram bins are half-open, so the largest sample needs room
	dividers[n] = math.Nextafter(hist.MaxBin, math.Inf(1))

	counts := stat.Histogram(nil, dividers, values, nil)
	for i, c := range counts {
		hist.Data[i] = uint32(c)
	}
	return hist, nil
}

// NumBins is the number of bins
func (h *ImageHist) NumBins() int { return len(h.Data) }

// BinWidth is the sample range covered by one bin
func (h *ImageHist) BinWidth() float64 {
	if len(h.Data) == 0 {
		return 0
	}
	return (h.MaxBin - h.MinBin) / float64(len(h.Data))
}

// BinCenter is the sample value at the middle of bin i
func (h *ImageHist) BinCenter(i int) float64 {
	return h.MinBin + (float64(i)+0.5)*h.BinWidth()
}

// Total is the number of samples counted
func (h *ImageHist) Total() float64 {
	var total float64
	for _, c := range h.Data {
		total += float64(c)
	}
	return total
}

// Levels walks the cumulative histogram and interpolates between adjacent
// bin centers to find the sample values at the two percentiles.
func (h *ImageHist) Levels(backgroundPercentile, peakPercentile float64) (background, peak float64) {
	switch len(h.Data) {
	case 0:
		return 0, 0
	case 1:
		c := h.BinCenter(0)
		return c, c
	}

	total := h.Total()
	minCount := backgroundPercentile / 100 * total
	maxCount := peakPercentile / 100 * total

	last := h.BinCenter(len(h.Data) - 1)
	background, peak = last, last
	foundBackground, foundPeak := false, false

	var x0 float64
	for i := 0; i < len(h.Data)-1 && !(foundBackground && foundPeak); i++ {
		x0 += float64(h.Data[i])
		x1 := x0 + float64(h.Data[i+1])
		y0, y1 := h.BinCenter(i), h.BinCenter(i+1)

		interp := func(x float64) float64 {
			if x1 == x0 {
				return y0
			}
			return (y0*(x1-x) + y1*(x-x0)) / (x1 - x0)
		}
		if !foundPeak && x1 >= maxCount {
			peak = interp(maxCount)
			foundPeak = true
		}
		if !foundBackground && x1 >= minCount {
			background = interp(minCount)
			foundBackground = true
		}
	}
	return background, peak
}

// Percentiles converts sample levels back to percentiles of the histogram
func (h *ImageHist) Percentiles(background, peak float64) (backgroundPercentile, peakPercentile float64) {
	total := h.Total()
	if len(h.Data) < 2 || total == 0 {
		return 0, 100
	}

	lower, upper := 0.0, total
	foundLower, foundUpper := false, false

	var y0 float64
	for i := 0; i < len(h.Data)-1 && !(foundLower && foundUpper); i++ {
		y0 += float64(h.Data[i])
		y1 := y0 + float64(h.Data[i+1])
		x0, x1 := h.BinCenter(i), h.BinCenter(i+1)

		interp := func(x float64) float64 {
			return (y0*(x1-x) + y1*(x-x0)) / (x1 - x0)
		}
		if !foundUpper && x1 > peak {
			upper = interp(peak)
			foundUpper = true
		}
		if !foundLower && x1 > background {
			lower = interp(background)
			foundLower = true
		}
	}
	return clampPercentile(lower / total * 100), clampPercentile(upper / total * 100)
}

func clampPercentile(p float64) float64 {
	return math.Max(0, math.Min(100, p))
}
