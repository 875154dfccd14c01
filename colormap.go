package tileview

import (
	"fmt"
	"image/color"
	"sort"
)

// colorMapLookupLength is the number of entries in every colormap LUT
const colorMapLookupLength = 16384

// ColorStop is one control point of a colormap channel: at position X in
// [0,1] the channel intensity is Y in [0,1].
type ColorStop struct {
	X, Y float64
}

// ColorMap is a named piecewise-linear colormap with a precomputed LUT
type ColorMap struct {
	Name   string
	Red    []ColorStop
	Green  []ColorStop
	Blue   []ColorStop
	lookup []color.RGBA
}

// channelValue interpolates one channel at position i/count
func channelValue(i, count int, stops []ColorStop) float64 {
	x := float64(i) / float64(count)
	index := 0
	for index < len(stops) && stops[index].X < x {
		index++
	}

	if index == 0 {
		return stops[0].Y * 255
	}
	if index == len(stops) {
		return stops[len(stops)-1].Y * 255
	}

	lo, hi := stops[index-1], stops[index]
	m := (hi.Y - lo.Y) / (hi.X - lo.X)
	if m != 0 {
		return (m*(x-lo.X) + lo.Y) * 255
	}
	return lo.Y * 255
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// NewColorMap builds the lookup table for a colormap. Every channel needs at
// least two stops.
func NewColorMap(name string, red, green, blue []ColorStop) (*ColorMap, error) {
	if len(red) < 2 || len(green) < 2 || len(blue) < 2 {
		return nil, fmt.Errorf("color map %q: every channel needs at least 2 stops", name)
	}
	cm := &ColorMap{
		Name:   name,
		Red:    red,
		Green:  green,
		Blue:   blue,
		lookup: make([]color.RGBA, colorMapLookupLength),
	}
	for i := range cm.lookup {
		cm.lookup[i] = color.RGBA{
			R: clampByte(channelValue(i, colorMapLookupLength, red)),
			G: clampByte(channelValue(i, colorMapLookupLength, green)),
			B: clampByte(channelValue(i, colorMapLookupLength, blue)),
			A: 255,
		}
	}
	return cm, nil
}

func mustColorMap(name string, red, green, blue []ColorStop) *ColorMap {
	cm, err := NewColorMap(name, red, green, blue)
	if err != nil {
		panic(err)
	}
	return cm
}

// At returns the color for t in [0,1]
func (cm *ColorMap) At(t float64) color.RGBA {
	return cm.lookup[cm.index(t)]
}

func (cm *ColorMap) index(t float64) int {
	last := len(cm.lookup) - 1
	i := int(t * float64(last))
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}

const (
	GrayColorMapName    = "Gray Color Map"
	RainbowColorMapName = "Rainbow Color Map"
	CoolColorMapName    = "Cool Color Map"
	HeatColorMapName    = "Heat Color Map"
	RedColorMapName     = "Red Color Map"
	GreenColorMapName   = "Green Color Map"
	BlueColorMapName    = "Blue Color Map"
	AColorMapName       = "'A' Color Map"
)

var (
	ramp = []ColorStop{{0, 0}, {1, 1}}
	zero = []ColorStop{{0, 0}, {0, 0}}

	colorMaps = map[string]*ColorMap{}
)

func init() {
	for _, cm := range []*ColorMap{
		mustColorMap(GrayColorMapName, ramp, ramp, ramp),
		mustColorMap(RainbowColorMapName,
			[]ColorStop{{0, 1}, {0.2, 0}, {0.6, 0}, {0.8, 1}, {1, 1}},
			[]ColorStop{{0, 0}, {0.2, 0}, {0.4, 1}, {0.8, 1}, {1, 0}},
			[]ColorStop{{0, 1}, {0.4, 1}, {0.6, 0}, {1, 0}}),
		mustColorMap(CoolColorMapName,
			[]ColorStop{{0, 0}, {0.29, 0}, {0.76, 0.1}, {1, 1}},
			[]ColorStop{{0, 0}, {0.22, 0}, {0.96, 1}, {1, 1}},
			[]ColorStop{{0, 0}, {0.53, 1}, {1, 1}}),
		mustColorMap(HeatColorMapName,
			[]ColorStop{{0, 0}, {0.34, 1}, {1, 1}},
			ramp,
			[]ColorStop{{0, 0}, {0.65, 0}, {0.98, 1}, {1, 1}}),
		mustColorMap(RedColorMapName, ramp, zero, zero),
		mustColorMap(GreenColorMapName, zero, ramp, zero),
		mustColorMap(BlueColorMapName, zero, zero, ramp),
		mustColorMap(AColorMapName,
			[]ColorStop{{0, 0}, {0.25, 0}, {0.5, 1}, {1, 1}},
			[]ColorStop{{0, 0}, {0.25, 1}, {0.5, 0}, {0.77, 0}, {1, 1}},
			[]ColorStop{{0, 0}, {0.125, 0}, {0.5, 1}, {0.64, 0.5}, {0.77, 0}, {1, 0}}),
	} {
		colorMaps[cm.Name] = cm
	}
}

// LookupColorMap returns a registered colormap by name
func LookupColorMap(name string) (*ColorMap, error) {
	cm, ok := colorMaps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColorMap, name)
	}
	return cm, nil
}

// ColorMapNames lists the registered colormaps in sorted order
func ColorMapNames() []string {
	names := make([]string, 0, len(colorMaps))
	for name := range colorMaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
