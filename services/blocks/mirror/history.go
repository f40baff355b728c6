// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mirror

// history is a fixed-size circular buffer of environment snapshots.
//
// # Description
//
// Provides O(1) push and bounded memory. When full, the oldest snapshot
// is overwritten: undo depth is capped, not unbounded. Unlike a plain
// FIFO ring, consumption happens from the newest end (PopNewest), since
// undo rewinds the most recent mutation first.
//
// # Thread Safety
//
// NOT safe for concurrent use; the owning Environment synchronizes.
type history struct {
	data  []*snapshot
	head  int // Next write position
	tail  int // Oldest element position
	count int
	full  bool
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 50 // Default undo depth
	}
	return &history{data: make([]*snapshot, capacity)}
}

// Push records a snapshot, evicting the oldest when at capacity.
func (h *history) Push(s *snapshot) {
	h.data[h.head] = s
	h.head = (h.head + 1) % len(h.data)

	if h.full {
		h.tail = (h.tail + 1) % len(h.data)
	} else {
		h.count++
		h.full = h.count == len(h.data)
	}
}

// PopNewest removes and returns the most recent snapshot.
func (h *history) PopNewest() (*snapshot, bool) {
	if h.count == 0 {
		return nil, false
	}
	h.head--
	if h.head < 0 {
		h.head = len(h.data) - 1
	}
	s := h.data[h.head]
	h.data[h.head] = nil
	h.count--
	h.full = false
	return s, true
}

// Len returns the number of stored snapshots.
func (h *history) Len() int {
	return h.count
}

// Clear drops every snapshot.
func (h *history) Clear() {
	for i := range h.data {
		h.data[i] = nil
	}
	h.head, h.tail, h.count, h.full = 0, 0, 0, false
}
