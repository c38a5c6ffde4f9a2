// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ipc

import (
	"sort"
	"testing"
	"time"
)

func cookies(results []Result) []uint64 {
	var cs []uint64
	for _, r := range results {
		cs = append(cs, r.Cookie)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i] < cs[j] })
	return cs
}

func TestWaitSetPoll(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a1, b1 := NewSocketPair()
	defer a1.Close()
	defer b1.Close()
	a2, b2 := NewChannelPair()
	defer a2.Close()
	defer b2.Close()

	if err := ws.Add(1, b1, SignalReadable); err != nil {
		t.Fatalf("Add: %s", err)
	}
	if err := ws.Add(2, b2, SignalReadable); err != nil {
		t.Fatalf("Add: %s", err)
	}

	results, err := ws.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %s", err)
	}
	if len(results) != 0 {
		t.Fatalf("idle wait-set reported %v", results)
	}

	a1.Write([]byte("x"))
	a2.Write([]byte("y"))
	results, err = ws.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %s", err)
	}
	if got := cookies(results); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ready cookies = %v, want [1 2]", got)
	}
}

func TestWaitSetMaskFiltering(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()

	// Watch only for the half-close user signal; readability must not
	// wake this registration.
	if err := ws.Add(7, b, SignalHalfClosed); err != nil {
		t.Fatalf("Add: %s", err)
	}
	a.Write([]byte("data"))
	if results, _ := ws.Wait(0); len(results) != 0 {
		t.Fatalf("mask ignored: %v", results)
	}
	a.ShutdownWrite()
	results, err := ws.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %s", err)
	}
	if len(results) != 1 || results[0].Cookie != 7 {
		t.Fatalf("results = %v, want cookie 7", results)
	}
	// Observed carries the full signal set, not just the watched bits.
	if results[0].Observed&SignalReadable == 0 {
		t.Errorf("Observed = %#x, missing SignalReadable", results[0].Observed)
	}
}

func TestWaitSetBlockingWake(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()
	ws.Add(1, b, SignalReadable)

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Write([]byte("wake"))
	}()
	done := make(chan []Result, 1)
	go func() {
		results, _ := ws.Wait(-1)
		done <- results
	}()
	select {
	case results := <-done:
		if len(results) != 1 || results[0].Cookie != 1 {
			t.Errorf("results = %v, want cookie 1", results)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking Wait never woke")
	}
}

func TestWaitSetAddWhileBlocked(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	done := make(chan []Result, 1)
	go func() {
		results, _ := ws.Wait(-1)
		done <- results
	}()

	// Register an already-ready handle; the blocked waiter must rescan.
	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()
	a.Write([]byte("ready"))
	time.Sleep(10 * time.Millisecond)
	ws.Add(3, b, SignalReadable)

	select {
	case results := <-done:
		if len(results) != 1 || results[0].Cookie != 3 {
			t.Errorf("results = %v, want cookie 3", results)
		}
	case <-time.After(time.Second):
		t.Fatal("Add did not wake blocked Wait")
	}
}

func TestWaitSetRemove(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()
	ws.Add(1, b, SignalReadable)
	a.Write([]byte("x"))
	if err := ws.Remove(1); err != nil {
		t.Fatalf("Remove: %s", err)
	}
	if results, _ := ws.Wait(0); len(results) != 0 {
		t.Errorf("removed registration still reported: %v", results)
	}
	if err := ws.Remove(1); err == nil {
		t.Error("Remove of unknown cookie succeeded")
	}
}

func TestWaitSetDuplicateCookie(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()
	if err := ws.Add(1, b, SignalReadable); err != nil {
		t.Fatalf("Add: %s", err)
	}
	if err := ws.Add(1, b, SignalWritable); err == nil {
		t.Error("duplicate cookie accepted")
	}
}

func TestWaitSetSameHandleTwoCookies(t *testing.T) {
	ws := NewWaitSet()
	defer ws.Close()

	a, b := NewSocketPair()
	defer a.Close()
	defer b.Close()
	ws.Add(1, b, SignalReadable)
	ws.Add(2, b, SignalHalfClosed)

	// Removing one registration must not detach the other.
	ws.Remove(1)
	a.ShutdownWrite()
	results, err := ws.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %s", err)
	}
	if len(results) != 1 || results[0].Cookie != 2 {
		t.Errorf("results = %v, want cookie 2", results)
	}
}
