// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ipc provides the in-process IPC primitives the multiplexer is
// built on: byte-stream socket pairs, datagram message channels, and a
// wait-set for observing many handles at once.
//
// Handles carry a set of level-triggered signals. Object signals
// (readable, writable, peer closed) track the transport state; user
// signals are asserted explicitly with SignalPeer and stay asserted
// until cleared.
package ipc

import (
	"errors"
	"sync"
	"time"
)

// Signals is a bitmask of conditions observable on a handle.
type Signals uint32

const (
	SignalReadable Signals = 1 << iota
	SignalWritable
	SignalPeerClosed

	// User signals. HalfClosed indicates the peer has disabled its
	// write side; Connected, Incoming and Outgoing report connection
	// progress on stream sockets.
	SignalHalfClosed
	SignalConnected
	SignalIncoming
	SignalOutgoing
)

var (
	// ErrShouldWait is returned by non-blocking reads of an empty
	// transport and writes of a full one.
	ErrShouldWait = errors.New("ipc: should wait")

	// ErrPeerClosed is returned once the other endpoint has been closed
	// and, for reads, all in-flight data has been drained.
	ErrPeerClosed = errors.New("ipc: peer closed")

	// ErrBadState is returned when the requested direction has been
	// shut down.
	ErrBadState = errors.New("ipc: bad state")

	// ErrBufferTooSmall is returned by Channel.Read when the supplied
	// buffer cannot hold the next message.
	ErrBufferTooSmall = errors.New("ipc: buffer too small")

	// ErrClosed is returned on operations against a closed endpoint.
	ErrClosed = errors.New("ipc: handle closed")
)

// Handle is the common surface of one endpoint of a transport pair.
type Handle interface {
	// Signals reports the currently asserted signal set.
	Signals() Signals

	// SignalPeer clears then sets user signals on the peer endpoint.
	SignalPeer(clear, set Signals) error

	// Close closes this endpoint. The peer observes SignalPeerClosed.
	Close() error

	// state returns the endpoint's signal bookkeeping. Only the ipc
	// package reaches through this.
	state() *signalState
}

// signalState is the per-endpoint signal word plus the wait-sets that
// must be kicked when it changes. The mutex is shared across a transport
// pair so that a data transfer and the resulting signal updates on both
// endpoints are one atomic step.
type signalState struct {
	mu       *sync.Mutex
	asserted Signals
	watchers map[*waiterEntry]struct{}
}

type waiterEntry struct {
	notify chan<- struct{}
}

func newSignalState(mu *sync.Mutex) *signalState {
	return &signalState{
		mu:       mu,
		watchers: make(map[*waiterEntry]struct{}),
	}
}

// update changes the asserted set while st.mu is held and wakes any
// wait-sets observing this endpoint.
func (st *signalState) update(clear, set Signals) {
	old := st.asserted
	st.asserted = (st.asserted &^ clear) | set
	if st.asserted == old {
		return
	}
	for w := range st.watchers {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

// attach registers a wait-set's notification entry. Caller holds st.mu.
func (st *signalState) attach(w *waiterEntry) {
	st.watchers[w] = struct{}{}
}

// detach removes a notification entry. Caller holds st.mu.
func (st *signalState) detach(w *waiterEntry) {
	delete(st.watchers, w)
}

// WaitOne blocks until any signal in sigs is asserted on h, or until the
// timeout elapses. A negative timeout means wait forever. It returns the
// full observed signal set at wakeup.
func WaitOne(h Handle, sigs Signals, timeout time.Duration) (Signals, error) {
	ws := NewWaitSet()
	defer ws.Close()
	const cookie = 1
	ws.Add(cookie, h, sigs)
	results, err := ws.Wait(timeout)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return h.Signals(), ErrTimedOut
	}
	return results[0].Observed, nil
}

// ErrTimedOut is returned by WaitOne when the timeout elapses with no
// observed signals. WaitSet.Wait reports a timeout as an empty result
// with a nil error instead.
var ErrTimedOut = errors.New("ipc: timed out")
