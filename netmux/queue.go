// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/rio"
)

// waitDomain selects which readiness domain a parked request waits on.
type waitDomain int

const (
	waitNet waitDomain = iota
	waitSocket
	numWaitDomains
)

func (d waitDomain) String() string {
	if d == waitNet {
		return "net"
	}
	return "socket"
}

// request is one tagged work item: an operation, the envelope it came
// in (nil for internally scheduled ops), the channel a reply would go
// out on, and the iostate it operates on. A request holds one iostate
// reference for its lifetime.
type request struct {
	op      rio.Op
	msg     *rio.Msg
	replyCh *ipc.Channel
	ios     *iostate
}

func (m *Mux) newRequest(op rio.Op, msg *rio.Msg, replyCh *ipc.Channel, ios *iostate) *request {
	if ios != nil {
		m.acquireIOState(ios)
	}
	return &request{op: op, msg: msg, replyCh: replyCh, ios: ios}
}

func (m *Mux) freeRequest(rq *request) {
	if rq.ios != nil {
		m.releaseIOState(rq.ios)
		rq.ios = nil
	}
	rq.msg = nil
	rq.replyCh = nil
}

// waitQueues holds the per-(domain, fd) FIFOs of parked requests.
type waitQueues struct {
	q [numWaitDomains]map[int][]*request
}

func newWaitQueues() waitQueues {
	var w waitQueues
	for d := range w.q {
		w.q[d] = make(map[int][]*request)
	}
	return w
}

// put appends rq to the (domain, fd) queue.
func (w *waitQueues) put(d waitDomain, fd int, rq *request) {
	w.q[d][fd] = append(w.q[d][fd], rq)
}

// get pops the head of the (domain, fd) queue, or nil.
func (w *waitQueues) get(d waitDomain, fd int) *request {
	q := w.q[d][fd]
	if len(q) == 0 {
		return nil
	}
	rq := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(w.q[d], fd)
	} else {
		w.q[d][fd] = q[1:]
	}
	return rq
}

// swap removes and returns the whole (domain, fd) queue in arrival
// order.
func (w *waitQueues) swap(d waitDomain, fd int) []*request {
	q := w.q[d][fd]
	if q != nil {
		delete(w.q[d], fd)
	}
	return q
}

// pending reports the number of requests parked under (domain, fd).
func (w *waitQueues) pending(d waitDomain, fd int) int {
	return len(w.q[d][fd])
}

// discardWaitQueue drops every request parked under (domain, fd),
// releasing each one's iostate reference. Used on close.
func (m *Mux) discardWaitQueue(d waitDomain, fd int) {
	for _, rq := range m.queues.swap(d, fd) {
		m.freeRequest(rq)
	}
}
