package tileview

// DefaultHistoryCapacity bounds a RegionHistory created with capacity 0
const DefaultHistoryCapacity = 100

// RegionHistory is a bounded undo/redo stack of regions of interest.
// Pushing after an undo discards the redo branch. When full, the oldest
// entry is dropped.
type RegionHistory struct {
	entries  []Region
	index    int
	capacity int
}

// NewRegionHistory creates an uninitialized history
func NewRegionHistory(capacity int) *RegionHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &RegionHistory{capacity: capacity}
}

// Push records region as the current entry
func (h *RegionHistory) Push(region Region) {
	if len(h.entries) == 0 {
		h.entries = []Region{region}
		h.index = 0
		return
	}
	h.entries = append(h.entries[:h.index+1], region)
	if over := len(h.entries) - h.capacity; over > 0 {
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
	h.index = len(h.entries) - 1
}

// Undo steps back one entry. It reports whether the index moved.
func (h *RegionHistory) Undo() bool {
	if len(h.entries) == 0 || h.index == 0 {
		return false
	}
	h.index--
	return true
}

// Redo steps forward one entry. It reports whether the index moved.
func (h *RegionHistory) Redo() bool {
	if len(h.entries) == 0 || h.index == len(h.entries)-1 {
		return false
	}
	h.index++
	return true
}

// Clear returns the history to the uninitialized state
func (h *RegionHistory) Clear() {
	h.entries = nil
	h.index = 0
}

// Current returns the current entry; ok is false when uninitialized
func (h *RegionHistory) Current() (Region, bool) {
	if len(h.entries) == 0 {
		return Region{}, false
	}
	return h.entries[h.index], true
}

// Entries returns a copy of the stored regions, oldest first
func (h *RegionHistory) Entries() []Region {
	out := make([]Region, len(h.entries))
	copy(out, h.entries)
	return out
}

// Index of the current entry, -1 when uninitialized
func (h *RegionHistory) Index() int {
	if len(h.entries) == 0 {
		return -1
	}
	return h.index
}

func (h *RegionHistory) Len() int { return len(h.entries) }

func (h *RegionHistory) CanUndo() bool { return len(h.entries) > 0 && h.index > 0 }
func (h *RegionHistory) CanRedo() bool { return len(h.entries) > 0 && h.index < len(h.entries)-1 }
