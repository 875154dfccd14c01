package tileview

import (
	"errors"
	"testing"
)

func TestColorMapRegistry(t *testing.T) {
	names := ColorMapNames()
	if len(names) != 8 {
		t.Fatalf("ColorMapNames = %v", names)
	}
	for _, name := range names {
		cm, err := LookupColorMap(name)
		if err != nil {
			t.Fatalf("LookupColorMap(%q): %v", name, err)
		}
		if len(cm.lookup) != colorMapLookupLength {
			t.Errorf("%s LUT has %d entries", name, len(cm.lookup))
		}
		for _, c := range cm.lookup {
			if c.A != 255 {
				t.Fatalf("%s has a non-opaque entry %v", name, c)
			}
		}
	}
	if _, err := LookupColorMap("Plasma"); !errors.Is(err, ErrUnknownColorMap) {
		t.Errorf("unknown map: got %v", err)
	}
}

func TestGrayColorMap(t *testing.T) {
	cm, _ := LookupColorMap(GrayColorMapName)
	if c := cm.At(0); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("At(0) = %v, want black", c)
	}
	if c := cm.At(1); c.R < 254 || c.R != c.G || c.G != c.B {
		t.Errorf("At(1) = %v, want white", c)
	}
	if c := cm.At(0.5); c.R < 126 || c.R > 128 {
		t.Errorf("At(0.5) = %v, want mid gray", c)
	}
	// out of range inputs clamp
	if cm.At(-3) != cm.At(0) || cm.At(7) != cm.At(1) {
		t.Errorf("out of range lookups not clamped")
	}

	prev := -1
	for i := 0; i <= 100; i++ {
		r := int(cm.At(float64(i) / 100).R)
		if r < prev {
			t.Fatalf("gray ramp decreases at %d", i)
		}
		prev = r
	}
}

func TestSingleChannelColorMaps(t *testing.T) {
	red, _ := LookupColorMap(RedColorMapName)
	c := red.At(0.8)
	if c.R == 0 || c.G != 0 || c.B != 0 {
		t.Errorf("red map At(0.8) = %v", c)
	}
	blue, _ := LookupColorMap(BlueColorMapName)
	c = blue.At(0.8)
	if c.B == 0 || c.R != 0 || c.G != 0 {
		t.Errorf("blue map At(0.8) = %v", c)
	}
}

func TestNewColorMapNeedsTwoStops(t *testing.T) {
	if _, err := NewColorMap("bad", []ColorStop{{0, 0}}, ramp, ramp); err == nil {
		t.Errorf("single-stop channel accepted")
	}
}
