// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

// BufSize is the fixed size of every scratch buffer. One read-ahead and
// one write-ahead buffer bound the per-socket memory.
const BufSize = 64 * 1024

// bufPool is a free list of scratch buffers, owned by the dispatcher.
// Buffers come back dirty; callers must not assume contents.
type bufPool struct {
	free [][]byte
}

func (p *bufPool) get() []byte {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		return b
	}
	return make([]byte, BufSize)
}

func (p *bufPool) put(b []byte) {
	if b == nil {
		return
	}
	p.free = append(p.free, b[:BufSize])
}

func (p *bufPool) len() int { return len(p.free) }
