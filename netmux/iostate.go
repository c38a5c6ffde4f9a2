// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netfd"
)

type handleType int

const (
	handleTypeNone handleType = iota
	handleTypeStream
	handleTypeDgram
)

func (t handleType) String() string {
	switch t {
	case handleTypeNone:
		return "none"
	case handleTypeStream:
		return "stream"
	case handleTypeDgram:
		return "dgram"
	}
	return "unknown"
}

// iostate is the per-logical-socket record. All fields are owned by the
// dispatcher; nothing here is safe to touch from another goroutine.
type iostate struct {
	typ    handleType
	sockfd int

	// Exactly one of dataSock/dataChan is set for stream/dgram types.
	dataSock *ipc.Socket
	dataChan *ipc.Channel

	// watching mirrors the wait-set registration for the data handle.
	watching ipc.Signals

	// cookie is the arena id under which the data handle is registered;
	// zero when there is no data handle.
	cookie uint64

	// reg is the request-channel registration serving this socket.
	reg *rioReg

	// Read path: bytes [roff, rlen) of rbuf are pending delivery to the
	// data transport. Write path is symmetric toward the network.
	rbuf, wbuf []byte
	rlen, roff int
	wlen, woff int

	// Transfer counters, logged at V(2).
	readNetRead     int
	readSocketWrite int
	writeSocketRead int
	writeNetWrite   int

	lastErrno unix.Errno

	refs   int
	closed bool
}

func (ios *iostate) dataHandle() ipc.Handle {
	switch {
	case ios.dataSock != nil:
		return ios.dataSock
	case ios.dataChan != nil:
		return ios.dataChan
	}
	return nil
}

// newIOState allocates a record holding the dispatcher-registration
// reference.
func (m *Mux) newIOState() *iostate {
	return &iostate{sockfd: -1, refs: 1}
}

func (m *Mux) acquireIOState(ios *iostate) {
	ios.refs++
}

// releaseIOState drops one reference and destroys the record when the
// count reaches zero: host fd and data handle closed, wait-set
// registration removed, buffers returned, arena slot retired. The
// request channel is not closed here; the code that drops the
// dispatcher-registration reference closes it first.
func (m *Mux) releaseIOState(ios *iostate) {
	ios.refs--
	if ios.refs > 0 {
		return
	}
	if ios.refs < 0 {
		glog.Errorf("iostate %p over-released (refs=%d)", ios, ios.refs)
		return
	}
	glog.V(2).Infof("iostate %p: destroy (type=%s counters r=%d/%d w=%d/%d)",
		ios, ios.typ, ios.readNetRead, ios.readSocketWrite, ios.writeSocketRead, ios.writeNetWrite)
	if ios.sockfd >= 0 {
		netfd.Close(ios.sockfd)
		ios.sockfd = -1
	}
	if ios.watching != 0 {
		m.ws.Remove(ios.cookie)
		ios.watching = 0
	}
	if ios.cookie != 0 {
		m.arena.remove(ios.cookie)
		ios.cookie = 0
	}
	if h := ios.dataHandle(); h != nil {
		h.Close()
		ios.dataSock = nil
		ios.dataChan = nil
	}
	m.bufs.put(ios.rbuf)
	m.bufs.put(ios.wbuf)
	ios.rbuf = nil
	ios.wbuf = nil
}
