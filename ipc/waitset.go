// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ipc

import (
	"fmt"
	"sync"
	"time"
)

// Result reports one handle whose observed signals intersect the mask it
// was registered with. Observed carries the handle's full signal set at
// the time of the scan.
type Result struct {
	Cookie   uint64
	Observed Signals
}

type waitSetEntry struct {
	h    Handle
	sigs Signals
}

// WaitSet observes many handles at once, level-triggered. Add and Remove
// may be called concurrently with a blocked Wait; registration changes
// wake the waiter for a rescan.
type WaitSet struct {
	mu      sync.Mutex
	entries map[uint64]waitSetEntry
	// attached counts registrations per endpoint so a handle registered
	// under several cookies detaches only when the last is removed.
	attached map[*signalState]int
	notify   chan struct{}
	waiter   *waiterEntry
	closed   bool
}

// NewWaitSet returns an empty wait-set.
func NewWaitSet() *WaitSet {
	notify := make(chan struct{}, 1)
	return &WaitSet{
		entries:  make(map[uint64]waitSetEntry),
		attached: make(map[*signalState]int),
		notify:   notify,
		waiter:   &waiterEntry{notify: notify},
	}
}

// Add registers h under cookie for the given signal mask. The cookie
// must not already be in use.
func (ws *WaitSet) Add(cookie uint64, h Handle, sigs Signals) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	if _, ok := ws.entries[cookie]; ok {
		return fmt.Errorf("ipc: cookie %#x already registered", cookie)
	}
	ws.entries[cookie] = waitSetEntry{h: h, sigs: sigs}
	st := h.state()
	st.mu.Lock()
	if ws.attached[st] == 0 {
		st.attach(ws.waiter)
	}
	ws.attached[st]++
	st.mu.Unlock()
	ws.kick()
	return nil
}

// Remove drops the registration under cookie.
func (ws *WaitSet) Remove(cookie uint64) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	e, ok := ws.entries[cookie]
	if !ok {
		return fmt.Errorf("ipc: cookie %#x not registered", cookie)
	}
	delete(ws.entries, cookie)
	st := e.h.state()
	st.mu.Lock()
	ws.attached[st]--
	if ws.attached[st] == 0 {
		st.detach(ws.waiter)
		delete(ws.attached, st)
	}
	st.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered handle's signals intersect
// its mask, then returns one Result per such handle. A zero timeout
// polls; a negative timeout waits forever. An empty result with a zero
// or positive timeout means nothing was ready in time.
func (ws *WaitSet) Wait(timeout time.Duration) ([]Result, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ws.mu.Lock()
		if ws.closed {
			ws.mu.Unlock()
			return nil, ErrClosed
		}
		var results []Result
		for cookie, e := range ws.entries {
			if obs := e.h.Signals(); obs&e.sigs != 0 {
				results = append(results, Result{Cookie: cookie, Observed: obs})
			}
		}
		ws.mu.Unlock()
		if len(results) > 0 {
			return results, nil
		}
		if timeout == 0 {
			return nil, nil
		}
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				return nil, nil
			}
			t := time.NewTimer(remain)
			select {
			case <-ws.notify:
				t.Stop()
			case <-t.C:
			}
			continue
		}
		<-ws.notify
	}
}

// Close detaches from every registered handle. A concurrently blocked
// Wait returns ErrClosed at its next rescan.
func (ws *WaitSet) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	ws.closed = true
	for st := range ws.attached {
		st.mu.Lock()
		st.detach(ws.waiter)
		st.mu.Unlock()
	}
	ws.entries = nil
	ws.attached = nil
	ws.kick()
	return nil
}

// kick wakes a blocked Wait for a rescan. Caller holds ws.mu.
func (ws *WaitSet) kick() {
	select {
	case ws.notify <- struct{}{}:
	default:
	}
}
