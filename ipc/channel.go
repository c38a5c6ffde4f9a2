// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ipc

import "sync"

type message struct {
	data    []byte
	handles []Handle
}

// Channel is one endpoint of a datagram transport pair. Each write
// delivers exactly one message, optionally carrying handles; each read
// consumes exactly one. Writes never report ErrShouldWait.
type Channel struct {
	st   *signalState
	peer *Channel

	// queue holds messages waiting to be read by this endpoint.
	queue  []message
	closed bool
}

// NewChannelPair returns the two endpoints of a message transport.
func NewChannelPair() (*Channel, *Channel) {
	mu := new(sync.Mutex)
	a := &Channel{st: newSignalState(mu)}
	b := &Channel{st: newSignalState(mu)}
	a.peer, b.peer = b, a
	a.st.asserted = SignalWritable
	b.st.asserted = SignalWritable
	return a, b
}

func (c *Channel) state() *signalState { return c.st }

// Signals reports the currently asserted signal set.
func (c *Channel) Signals() Signals {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	return c.st.asserted
}

// SignalPeer clears then sets user signals on the peer endpoint.
func (c *Channel) SignalPeer(clear, set Signals) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.peer.closed {
		return ErrPeerClosed
	}
	c.peer.st.update(clear, set)
	return nil
}

// Write delivers one message to the peer. The data is copied; the
// handle slice is transferred as-is.
func (c *Channel) Write(data []byte, handles ...Handle) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.peer.closed {
		return ErrPeerClosed
	}
	m := message{handles: handles}
	if len(data) > 0 {
		m.data = make([]byte, len(data))
		copy(m.data, data)
	}
	c.peer.queue = append(c.peer.queue, m)
	c.peer.st.update(0, SignalReadable)
	return nil
}

// Read pops the next message into p and returns its handles. An empty
// channel reports ErrShouldWait, or ErrPeerClosed once the peer is gone
// and the queue has drained. If p cannot hold the message it is left
// queued and ErrBufferTooSmall is returned.
func (c *Channel) Read(p []byte) (int, []Handle, error) {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClosed
	}
	if len(c.queue) == 0 {
		if c.peer.closed {
			return 0, nil, ErrPeerClosed
		}
		return 0, nil, ErrShouldWait
	}
	m := c.queue[0]
	if len(m.data) > len(p) {
		return len(m.data), nil, ErrBufferTooSmall
	}
	n := copy(p, m.data)
	c.queue[0] = message{}
	c.queue = c.queue[1:]
	if len(c.queue) == 0 {
		c.st.update(SignalReadable, 0)
	}
	return n, m.handles, nil
}

// Close closes this endpoint. Queued messages remain readable by the
// peer; the peer observes SignalPeerClosed.
func (c *Channel) Close() error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.queue = nil
	c.st.update(SignalReadable|SignalWritable, 0)
	c.peer.st.update(SignalWritable, SignalPeerClosed)
	return nil
}
