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

import "sync"

// FocusManager tracks which block an editing surface has selected.
//
// # Description
//
// Focus is scoped to the Environment that owns the manager, not process
// wide. Surfaces subscribe for focus changes on mount and release the
// subscription on unmount via the returned cancel function.
//
// # Thread Safety
//
// Safe for concurrent use. Listeners are invoked synchronously while
// the manager's lock is NOT held, so a listener may call back in.
type FocusManager struct {
	mu        sync.Mutex
	focused   string
	nextToken int
	listeners map[int]func(old, now string)
}

// NewFocusManager builds an empty manager with nothing focused.
func NewFocusManager() *FocusManager {
	return &FocusManager{listeners: map[int]func(old, now string){}}
}

// Focused returns the focused block id, or empty when nothing is
// focused.
func (m *FocusManager) Focused() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

// SetFocus moves focus to a block id. An empty id clears focus.
// Refocusing the already-focused id notifies nobody.
func (m *FocusManager) SetFocus(id string) {
	m.mu.Lock()
	if m.focused == id {
		m.mu.Unlock()
		return
	}
	old := m.focused
	m.focused = id
	fns := make([]func(old, now string), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(old, id)
	}
}

// Blur clears focus only if id currently holds it. Used when a focused
// block is removed out from under the surface.
func (m *FocusManager) Blur(id string) {
	m.mu.Lock()
	isFocused := m.focused == id
	m.mu.Unlock()
	if isFocused {
		m.SetFocus("")
	}
}

// Subscribe registers a focus-change listener and returns its cancel
// function. Cancel is idempotent.
func (m *FocusManager) Subscribe(fn func(old, now string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := m.nextToken
	m.nextToken++
	m.listeners[token] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.listeners, token)
		})
	}
}
