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
	"fuchsia.googlesource.com/netmux/rio"
)

func doRead(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	switch rq.ios.typ {
	case handleTypeStream:
		return doReadStream(m, rq, events, signals)
	case handleTypeDgram:
		return doReadDgram(m, rq, events, signals)
	}
	glog.Errorf("read: bad handle type %s", rq.ios.typ)
	return rio.ErrNotSupported
}

// doReadStream shuttles network bytes toward the data transport,
// alternating between the two readiness domains on each partial
// transfer.
func doReadStream(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	glog.V(2).Infof("read_stream: iostate %p rlen=%d roff=%d events=%#x signals=%#x",
		ios, ios.rlen, ios.roff, events, signals)

	if ios.rlen == 0 {
		if ios.rbuf == nil {
			ios.rbuf = m.bufs.get()
		}
		n, err := netfd.Read(ios.sockfd, ios.rbuf)
		errno := netfd.Errno(err)
		ios.lastErrno = errno
		glog.V(2).Infof("net_read => %d (errno=%d)", n, errno)
		switch {
		case err == nil && n == 0:
			// Graceful close from the network.
			return m.readStreamClosed(ios)
		case errno == unix.EAGAIN:
			m.events.set(ios.sockfd, eventRead)
			return pendingNet
		case err != nil:
			glog.Errorf("read_stream: net_read failed (errno=%d)", errno)
			return m.readStreamClosed(ios)
		}
		ios.rlen = n
		ios.roff = 0
		ios.readNetRead += n
	}

	for ios.roff < ios.rlen {
		n, err := ios.dataSock.Write(ios.rbuf[ios.roff:ios.rlen])
		glog.V(2).Infof("socket_write(%d bytes) => %d, %v", ios.rlen-ios.roff, n, err)
		switch err {
		case nil:
		case ipc.ErrShouldWait:
			m.signalsSet(ios, ipc.SignalWritable)
			return pendingSocket
		default:
			glog.Errorf("read_stream: socket write: %s", err)
			return rio.ErrPeerClosed
		}
		ios.roff += n
		ios.readSocketWrite += n
	}
	ios.rlen = 0
	ios.roff = 0
	m.events.set(ios.sockfd, eventRead)
	return pendingNet
}

// readStreamClosed half-closes the data transport toward the client so
// it drains the remaining bytes and then observes EOF.
func (m *Mux) readStreamClosed(ios *iostate) rio.Status {
	err := ios.dataSock.ShutdownWrite()
	if err != nil && err != ipc.ErrPeerClosed && err != ipc.ErrClosed {
		glog.Errorf("read_stream: half-close data transport: %s", err)
		return rio.ErrBadState
	}
	glog.V(1).Infof("read_stream: connection closed (iostate %p)", ios)
	return rio.StatusOK
}

// doReadDgram forwards one datagram as one framed channel message.
func doReadDgram(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	if ios.rbuf == nil {
		ios.rbuf = m.bufs.get()
	}
	n, sa, err := netfd.Recvfrom(ios.sockfd, ios.rbuf[rio.SocketMsgHeaderSize:])
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(2).Infof("net_recvfrom => %d (errno=%d)", n, errno)
	// n == 0 is an empty datagram, not a disconnect.
	if errno == unix.EAGAIN {
		m.events.set(ios.sockfd, eventRead)
		return pendingNet
	}
	if err != nil {
		glog.Errorf("read_dgram: net_recvfrom failed (errno=%d)", errno)
		return rio.StatusOK
	}
	if err := rio.PutSocketMsgHeader(ios.rbuf, sa); err != nil {
		glog.Errorf("read_dgram: framing: %s", err)
		return rio.StatusOK
	}
	if err := ios.dataChan.Write(ios.rbuf[:rio.SocketMsgHeaderSize+n]); err != nil {
		glog.Errorf("read_dgram: channel write: %s", err)
		return rio.ErrPeerClosed
	}
	ios.readNetRead += n
	ios.readSocketWrite += n
	m.events.set(ios.sockfd, eventRead)
	return pendingNet
}

func doWrite(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	switch rq.ios.typ {
	case handleTypeStream:
		return doWriteStream(m, rq, events, signals)
	case handleTypeDgram:
		return doWriteDgram(m, rq, events, signals)
	}
	glog.Errorf("write: bad handle type %s", rq.ios.typ)
	return rio.ErrNotSupported
}

// doWriteStream shuttles data-transport bytes toward the network.
func doWriteStream(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	glog.V(2).Infof("write_stream: iostate %p wlen=%d woff=%d events=%#x signals=%#x",
		ios, ios.wlen, ios.woff, events, signals)

	if ios.wlen == 0 {
		if ios.wbuf == nil {
			ios.wbuf = m.bufs.get()
		}
		n, err := ios.dataSock.Read(ios.wbuf)
		glog.V(2).Infof("socket_read => %d, %v", n, err)
		switch err {
		case nil:
		case ipc.ErrShouldWait:
			if signals&ipc.SignalPeerClosed != 0 {
				m.handleRequestClose(ios, signals)
				return rio.StatusOK
			}
			m.signalsSet(ios, ipc.SignalReadable|ipc.SignalPeerClosed|ipc.SignalHalfClosed)
			return pendingSocket
		case ipc.ErrPeerClosed:
			m.handleRequestClose(ios, signals)
			return rio.StatusOK
		case ipc.ErrBadState:
			// Client shut down its write side and we have drained it.
			m.handleRequestHalfClose(ios, signals)
			return rio.StatusOK
		default:
			glog.Errorf("write_stream: socket read: %s", err)
			// Half-close toward the client to surface the failure.
			if err := ios.dataSock.ShutdownWrite(); err != nil && err != ipc.ErrPeerClosed {
				glog.Errorf("write_stream: half-close: %s", err)
			}
			return rio.ErrBadState
		}
		ios.wlen = n
		ios.woff = 0
		ios.writeSocketRead += n
	}

	for ios.woff < ios.wlen {
		n, err := netfd.Write(ios.sockfd, ios.wbuf[ios.woff:ios.wlen])
		errno := netfd.Errno(err)
		ios.lastErrno = errno
		glog.V(2).Infof("net_write => %d (errno=%d)", n, errno)
		if errno == unix.EAGAIN {
			m.events.set(ios.sockfd, eventWrite)
			return pendingNet
		}
		if err != nil {
			glog.Errorf("write_stream: net_write failed (errno=%d)", errno)
			return rio.StatusOK
		}
		ios.woff += n
		ios.writeNetWrite += n
	}
	ios.wlen = 0
	ios.woff = 0

	m.signalsSet(ios, ipc.SignalReadable|ipc.SignalPeerClosed|ipc.SignalHalfClosed)
	return pendingSocket
}

// doWriteDgram sends one framed channel message as one datagram.
func doWriteDgram(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	if ios.wbuf == nil {
		ios.wbuf = m.bufs.get()
	}
	n, _, err := ios.dataChan.Read(ios.wbuf)
	glog.V(2).Infof("channel_read => %d, %v", n, err)
	switch err {
	case nil:
	case ipc.ErrShouldWait:
		if signals&ipc.SignalPeerClosed != 0 {
			m.handleRequestClose(ios, signals)
			return rio.StatusOK
		}
		m.signalsSet(ios, ipc.SignalReadable|ipc.SignalPeerClosed)
		return pendingSocket
	case ipc.ErrPeerClosed:
		m.handleRequestClose(ios, signals)
		return rio.StatusOK
	case ipc.ErrBufferTooSmall:
		// Oversized frame; pull it with a throwaway buffer and drop it.
		glog.Errorf("write_dgram: oversized message (%d bytes), dropped", n)
		big := make([]byte, n)
		ios.dataChan.Read(big)
		m.signalsSet(ios, ipc.SignalReadable|ipc.SignalPeerClosed)
		return pendingSocket
	default:
		glog.Errorf("write_dgram: channel read: %s", err)
		return rio.ErrBadState
	}

	if n > rio.SocketMsgHeaderSize {
		sa, payload, err := rio.ParseSocketMsg(ios.wbuf[:n])
		if err != nil {
			glog.Errorf("write_dgram: bad socket message: %s", err)
		} else {
			sent, err := netfd.Sendto(ios.sockfd, payload, sa)
			errno := netfd.Errno(err)
			ios.lastErrno = errno
			glog.V(2).Infof("net_sendto => %d (errno=%d)", sent, errno)
			if err == nil {
				ios.writeSocketRead += n
				ios.writeNetWrite += sent
			}
		}
	} else {
		glog.Errorf("write_dgram: bad socket message (%d bytes)", n)
	}

	m.signalsSet(ios, ipc.SignalReadable|ipc.SignalPeerClosed)
	return pendingSocket
}
