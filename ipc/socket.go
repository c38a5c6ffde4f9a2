// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ipc

import "sync"

// DefaultSocketCapacity is the per-direction byte capacity of a stream
// socket pair.
const DefaultSocketCapacity = 256 * 1024

// Socket is one endpoint of a byte-stream transport pair. Reads and
// writes never block; a full or empty direction reports ErrShouldWait
// and the caller is expected to watch signals instead.
type Socket struct {
	st   *signalState
	peer *Socket

	// buf holds bytes waiting to be read by this endpoint.
	buf           []byte
	capacity      int
	writeDisabled bool
	closed        bool
}

// NewSocketPair returns the two endpoints of a stream transport with the
// default capacity.
func NewSocketPair() (*Socket, *Socket) {
	return NewSocketPairSize(DefaultSocketCapacity)
}

// NewSocketPairSize returns a stream transport pair whose per-direction
// buffers hold at most capacity bytes.
func NewSocketPairSize(capacity int) (*Socket, *Socket) {
	mu := new(sync.Mutex)
	a := &Socket{st: newSignalState(mu), capacity: capacity}
	b := &Socket{st: newSignalState(mu), capacity: capacity}
	a.peer, b.peer = b, a
	a.st.asserted = SignalWritable
	b.st.asserted = SignalWritable
	return a, b
}

func (s *Socket) state() *signalState { return s.st }

// Signals reports the currently asserted signal set.
func (s *Socket) Signals() Signals {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.asserted
}

// SignalPeer clears then sets user signals on the peer endpoint.
func (s *Socket) SignalPeer(clear, set Signals) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.peer.closed {
		return ErrPeerClosed
	}
	s.peer.st.update(clear, set)
	return nil
}

// Read copies buffered bytes into p. An empty socket reports
// ErrShouldWait, or ErrBadState once the peer has shut down its write
// side and all data has drained, or ErrPeerClosed once the peer is gone.
func (s *Socket) Read(p []byte) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(s.buf) == 0 {
		switch {
		case s.peer.closed:
			return 0, ErrPeerClosed
		case s.peer.writeDisabled:
			return 0, ErrBadState
		default:
			return 0, ErrShouldWait
		}
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	s.recompute()
	s.peer.recompute()
	return n, nil
}

// Write copies bytes from p into the peer's read buffer, up to the
// remaining capacity. A full socket reports ErrShouldWait; short writes
// return the count actually transferred.
func (s *Socket) Write(p []byte) (int, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.writeDisabled {
		return 0, ErrBadState
	}
	if s.peer.closed {
		return 0, ErrPeerClosed
	}
	room := s.capacity - len(s.peer.buf)
	if room == 0 {
		return 0, ErrShouldWait
	}
	if len(p) > room {
		p = p[:room]
	}
	s.peer.buf = append(s.peer.buf, p...)
	s.recompute()
	s.peer.recompute()
	return len(p), nil
}

// ShutdownWrite disables further writes from this endpoint. The peer
// observes SignalHalfClosed and drains any remaining bytes before its
// reads report ErrBadState.
func (s *Socket) ShutdownWrite() error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.peer.closed {
		return ErrPeerClosed
	}
	s.writeDisabled = true
	s.recompute()
	s.peer.st.update(0, SignalHalfClosed)
	return nil
}

// Close closes this endpoint. Bytes already transferred remain readable
// by the peer; the peer observes SignalPeerClosed.
func (s *Socket) Close() error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.buf = nil
	s.st.update(SignalReadable|SignalWritable, 0)
	s.peer.st.update(SignalWritable, SignalPeerClosed)
	return nil
}

// recompute refreshes this endpoint's object signals. Caller holds the
// pair mutex.
func (s *Socket) recompute() {
	var set, clear Signals
	if len(s.buf) > 0 {
		set |= SignalReadable
	} else {
		clear |= SignalReadable
	}
	if !s.closed && !s.writeDisabled && !s.peer.closed && len(s.peer.buf) < s.capacity {
		set |= SignalWritable
	} else {
		clear |= SignalWritable
	}
	s.st.update(clear, set)
}
