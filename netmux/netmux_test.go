// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"testing"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/rio"
)

func TestBufPoolReuse(t *testing.T) {
	var p bufPool
	a := p.get()
	if len(a) != BufSize {
		t.Fatalf("buffer size = %d, want %d", len(a), BufSize)
	}
	p.put(a)
	if p.len() != 1 {
		t.Fatalf("pool size = %d, want 1", p.len())
	}
	b := p.get()
	if &a[0] != &b[0] {
		t.Error("pool did not reuse the released buffer")
	}
	if p.len() != 0 {
		t.Errorf("pool size = %d after get, want 0", p.len())
	}
	p.put(nil) // no-op
	if p.len() != 0 {
		t.Error("put(nil) grew the pool")
	}
}

func TestArenaGenerations(t *testing.T) {
	var a arena
	ios1 := &iostate{sockfd: 1}
	ios2 := &iostate{sockfd: 2}

	c1 := a.insert(ios1)
	if got := a.lookup(c1); got != ios1 {
		t.Fatalf("lookup(c1) = %p, want %p", got, ios1)
	}
	a.remove(c1)
	if got := a.lookup(c1); got != nil {
		t.Fatalf("stale cookie resolved to %p", got)
	}

	// The slot is reused under a new generation; the old cookie must
	// keep failing.
	c2 := a.insert(ios2)
	if c1 == c2 {
		t.Fatalf("cookie reused without generation bump: %#x", c1)
	}
	if got := a.lookup(c1); got != nil {
		t.Errorf("stale cookie resolved after reuse: %p", got)
	}
	if got := a.lookup(c2); got != ios2 {
		t.Errorf("lookup(c2) = %p, want %p", got, ios2)
	}

	// Double remove is harmless.
	a.remove(c1)
	if got := a.lookup(c2); got != ios2 {
		t.Errorf("remove(stale) disturbed live slot")
	}
}

func TestArenaCookieNamespaces(t *testing.T) {
	var a arena
	c := a.insert(&iostate{})
	if c&requestCookieFlag != 0 {
		t.Errorf("arena cookie %#x collides with the request namespace", c)
	}
	if c == ctrlCookie {
		t.Errorf("arena cookie %#x collides with the control cookie", c)
	}
}

func TestWaitQueuesFIFO(t *testing.T) {
	m := &Mux{queues: newWaitQueues()}
	const fd = 7
	var rqs []*request
	for i := 0; i < 3; i++ {
		rq := &request{op: rio.OpRead}
		rqs = append(rqs, rq)
		m.queues.put(waitNet, fd, rq)
	}
	// A different fd and a different domain are independent.
	other := &request{op: rio.OpWrite}
	m.queues.put(waitSocket, fd, other)
	m.queues.put(waitNet, fd+1, &request{op: rio.OpSigConnR})

	for i, want := range rqs {
		if got := m.queues.get(waitNet, fd); got != want {
			t.Fatalf("get #%d = %p, want %p", i, got, want)
		}
	}
	if got := m.queues.get(waitNet, fd); got != nil {
		t.Fatalf("drained queue returned %p", got)
	}
	if got := m.queues.get(waitSocket, fd); got != other {
		t.Errorf("socket domain queue disturbed")
	}
}

func TestWaitQueuesSwap(t *testing.T) {
	m := &Mux{queues: newWaitQueues()}
	const fd = 3
	a := &request{op: rio.OpRead}
	b := &request{op: rio.OpWrite}
	m.queues.put(waitNet, fd, a)
	m.queues.put(waitNet, fd, b)

	got := m.queues.swap(waitNet, fd)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("swap = %v, want [a b] in order", got)
	}
	if m.queues.pending(waitNet, fd) != 0 {
		t.Error("queue not empty after swap")
	}
	if got := m.queues.swap(waitNet, fd); got != nil {
		t.Errorf("second swap = %v, want nil", got)
	}
}

func TestDiscardWaitQueueReleasesRefs(t *testing.T) {
	m := &Mux{queues: newWaitQueues()}
	ios := &iostate{sockfd: 9, refs: 1}
	m.queues.put(waitNet, 9, m.newRequest(rio.OpRead, nil, nil, ios))
	m.queues.put(waitSocket, 9, m.newRequest(rio.OpWrite, nil, nil, ios))
	if ios.refs != 3 {
		t.Fatalf("refs = %d after parking, want 3", ios.refs)
	}
	m.discardWaitQueue(waitNet, 9)
	m.discardWaitQueue(waitSocket, 9)
	if ios.refs != 1 {
		t.Errorf("refs = %d after discard, want 1", ios.refs)
	}
	if m.queues.pending(waitNet, 9)+m.queues.pending(waitSocket, 9) != 0 {
		t.Error("queues not empty after discard")
	}
}

// TestSignalSubscription checks that watching_signals always equals
// what is actually registered in the wait-set.
func TestSignalSubscription(t *testing.T) {
	m := &Mux{ws: ipc.NewWaitSet()}
	defer m.ws.Close()

	local, peer := ipc.NewSocketPair()
	defer local.Close()
	defer peer.Close()
	ios := &iostate{sockfd: 5, dataSock: local, refs: 1}
	ios.cookie = m.arena.insert(ios)

	verify := func(want ipc.Signals) {
		t.Helper()
		if ios.watching != want {
			t.Fatalf("watching = %#x, want %#x", ios.watching, want)
		}
		// Assert all bits on the handle; the wait-set must report the
		// registration exactly when a watched bit is present.
		peer.SignalPeer(0, ipc.SignalHalfClosed|ipc.SignalConnected)
		results, err := m.ws.Wait(0)
		if err != nil {
			t.Fatalf("Wait: %s", err)
		}
		registered := len(results) > 0 && results[0].Cookie == ios.cookie
		if wantReg := want != 0; registered != wantReg {
			t.Fatalf("registered = %t with watching %#x", registered, want)
		}
		peer.SignalPeer(ipc.SignalHalfClosed|ipc.SignalConnected, 0)
	}

	m.signalsSet(ios, ipc.SignalHalfClosed)
	verify(ipc.SignalHalfClosed)
	// Widening keeps a single registration.
	m.signalsSet(ios, ipc.SignalConnected)
	verify(ipc.SignalHalfClosed | ipc.SignalConnected)
	// Re-setting an already-watched bit is a no-op.
	m.signalsSet(ios, ipc.SignalHalfClosed)
	verify(ipc.SignalHalfClosed | ipc.SignalConnected)
	// Narrowing.
	m.signalsClear(ios, ipc.SignalHalfClosed)
	verify(ipc.SignalConnected)
	// Clearing an unwatched bit is a no-op.
	m.signalsClear(ios, ipc.SignalHalfClosed)
	verify(ipc.SignalConnected)
	// Empty mask removes the registration entirely.
	m.signalsClear(ios, ipc.SignalConnected)
	verify(0)
}

func TestFDEventTable(t *testing.T) {
	events := make(fdEvents)
	events.set(4, eventRead|eventExcept)
	events.set(4, eventWrite)
	if got := events.mask(4); got != eventRead|eventWrite|eventExcept {
		t.Errorf("mask = %#x, want all bits", got)
	}
	events.clear(4, eventRead|eventWrite)
	if got := events.mask(4); got != eventExcept {
		t.Errorf("mask = %#x, want except only", got)
	}
	events.clear(4, eventExcept)
	if _, ok := events[4]; ok {
		t.Error("fd not removed from table when mask emptied")
	}
	// Clearing an unknown fd is a no-op.
	events.clear(5, eventAll)
}
