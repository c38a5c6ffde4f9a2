// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netfd"
)

type watcherFixture struct {
	ws   *ipc.WaitSet
	intr *netfd.Interrupter
	w    *handleWatcher
}

func newWatcherFixture(t *testing.T) *watcherFixture {
	t.Helper()
	intr, err := netfd.NewInterrupter()
	if err != nil {
		t.Fatalf("NewInterrupter: %s", err)
	}
	ws := ipc.NewWaitSet()
	w, err := startHandleWatcher(ws, intr)
	if err != nil {
		t.Fatalf("startHandleWatcher: %s", err)
	}
	return &watcherFixture{ws: ws, intr: intr, w: w}
}

func (f *watcherFixture) close() {
	f.w.close()
	f.ws.Close()
	f.intr.Close()
}

// interruptPending polls the interrupt pipe's read end.
func (f *watcherFixture) interruptPending(t *testing.T, timeoutMs int) bool {
	t.Helper()
	pfds := []unix.PollFd{{Fd: int32(f.intr.ReadFD()), Events: unix.POLLIN}}
	n, err := netfd.Poll(pfds, timeoutMs)
	if err != nil {
		t.Fatalf("poll: %s", err)
	}
	return n > 0
}

func TestWatcherFindsReadyHandle(t *testing.T) {
	f := newWatcherFixture(t)
	defer f.close()

	a, b := ipc.NewSocketPair()
	defer a.Close()
	defer b.Close()
	f.ws.Add(42, b, ipc.SignalReadable)

	if err := f.w.start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	a.Write([]byte("wake"))

	found, err := f.w.stop()
	if err != nil {
		t.Fatalf("stop: %s", err)
	}
	if !found {
		t.Error("stop = NOT FOUND, want FOUND")
	}
	if !f.interruptPending(t, 1000) {
		t.Error("no byte on the interrupt pipe after FOUND")
	}
	f.intr.Drain()
}

func TestWatcherAbortWhenIdle(t *testing.T) {
	f := newWatcherFixture(t)
	defer f.close()

	a, b := ipc.NewSocketPair()
	defer a.Close()
	defer b.Close()
	f.ws.Add(42, b, ipc.SignalReadable)

	if err := f.w.start(); err != nil {
		t.Fatalf("start: %s", err)
	}
	// Nothing becomes ready; stop must abort the wait and report
	// NOT FOUND without writing an interrupt.
	time.Sleep(20 * time.Millisecond)
	found, err := f.w.stop()
	if err != nil {
		t.Fatalf("stop: %s", err)
	}
	if found {
		t.Error("stop = FOUND on an idle wait-set")
	}
	if f.interruptPending(t, 0) {
		t.Error("interrupt written for NOT FOUND")
	}
}

func TestWatcherStaleAbortConsumed(t *testing.T) {
	f := newWatcherFixture(t)
	defer f.close()

	a, b := ipc.NewSocketPair()
	defer a.Close()
	defer b.Close()
	f.ws.Add(42, b, ipc.SignalReadable)

	// Round 1: the handle becomes ready while stop is racing; whether
	// or not the ABORT lands after the reply, the next round must still
	// work (a stale ABORT is consumed silently).
	f.w.start()
	a.Write([]byte("x"))
	if _, err := f.w.stop(); err != nil {
		t.Fatalf("stop: %s", err)
	}
	f.intr.Drain()

	// Drain the readable signal so round 2 starts idle.
	buf := make([]byte, 8)
	b.Read(buf)

	// Round 2.
	f.w.start()
	a.Write([]byte("y"))
	found, err := f.w.stop()
	if err != nil {
		t.Fatalf("stop (round 2): %s", err)
	}
	if !found {
		t.Error("round 2: stop = NOT FOUND, want FOUND")
	}
	f.intr.Drain()
}

func TestWatcherRepeatedRounds(t *testing.T) {
	f := newWatcherFixture(t)
	defer f.close()

	a, b := ipc.NewSocketPair()
	defer a.Close()
	defer b.Close()
	f.ws.Add(7, b, ipc.SignalReadable)

	buf := make([]byte, 8)
	for round := 0; round < 5; round++ {
		f.w.start()
		a.Write([]byte{byte(round)})
		found, err := f.w.stop()
		if err != nil {
			t.Fatalf("round %d: stop: %s", round, err)
		}
		if !found {
			t.Fatalf("round %d: stop = NOT FOUND", round)
		}
		f.intr.Drain()
		if _, err := b.Read(buf); err != nil {
			t.Fatalf("round %d: drain: %s", round, err)
		}
	}
}
