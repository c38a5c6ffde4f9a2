// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"encoding/binary"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netfd"
	"fuchsia.googlesource.com/netmux/rio"
)

// Sentinel statuses handlers return to park their request; never sent
// on the wire.
const (
	pendingNet    rio.Status = -99999
	pendingSocket rio.Status = -99998
)

// opFunc handles one operation. events carries network readiness when
// the request was woken by poll; signals carries the observed
// data-transport signals when it was woken by the wait-set.
type opFunc func(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status

var opFuncs = map[rio.Op]opFunc{
	rio.OpOpen:        doOpen,
	rio.OpConnect:     doConnect,
	rio.OpBind:        doBind,
	rio.OpListen:      doListen,
	rio.OpIoctl:       doIoctl,
	rio.OpGetAddrInfo: doGetAddrInfo,
	rio.OpGetSockName: doGetSockName,
	rio.OpGetPeerName: doGetPeerName,
	rio.OpGetSockOpt:  doGetSockOpt,
	rio.OpSetSockOpt:  doSetSockOpt,
	rio.OpRead:        doRead,
	rio.OpWrite:       doWrite,
	rio.OpClose:       doClose,
	rio.OpHalfClose:   doHalfClose,
	rio.OpSigConnR:    doSigConnR,
	rio.OpSigConnW:    doSigConnW,
}

// createHandles builds the client-facing endpoints for ios: a request
// channel pair, plus a data transport matched to the handle type. The
// dispatcher ends are registered; the peer ends are returned for the
// OPEN reply.
func (m *Mux) createHandles(ios *iostate) (*ipc.Channel, ipc.Handle) {
	rioLocal, rioPeer := ipc.NewChannelPair()
	var dataPeer ipc.Handle
	switch ios.typ {
	case handleTypeStream:
		local, peer := ipc.NewSocketPairSize(m.sockBufSize)
		ios.dataSock = local
		dataPeer = peer
	case handleTypeDgram:
		local, peer := ipc.NewChannelPair()
		ios.dataChan = local
		dataPeer = peer
	}
	ios.reg = m.registerRequestChannel(rioLocal, ios)
	if ios.dataHandle() != nil {
		ios.cookie = m.arena.insert(ios)
		m.acquireIOState(ios)
	}
	return rioPeer, dataPeer
}

// doOpen dispatches on the path prefix and replies on the channel the
// envelope carried, transferring the new endpoints on success.
func doOpen(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	msg := rq.msg
	var replyCh *ipc.Channel
	if len(msg.Handles) > 0 {
		replyCh, _ = msg.Handles[0].(*ipc.Channel)
		closeHandles(msg.Handles[1:])
	}
	msg.Handles = nil
	if replyCh == nil {
		glog.Errorf("open: no reply channel")
		return rio.StatusOK
	}

	status := rio.ErrInvalidArgs
	var peerRio *ipc.Channel
	var peerData ipc.Handle
	if len(msg.Data) >= 1 && len(msg.Data) <= rio.MaxPathLen {
		path := string(msg.Data)
		glog.V(1).Infof("open: path %q", path)
		if _, ok := rio.MatchSubdir(path, rio.DirNone); ok {
			status, peerRio, peerData = m.doOpenNone()
		} else if rest, ok := rio.MatchSubdir(path, rio.DirSocket); ok {
			status, peerRio, peerData = m.doOpenSocket(rest)
		} else if _, ok := rio.MatchSubdir(path, rio.DirAccept); ok {
			status, peerRio, peerData = m.doOpenAccept(rq.ios)
		} else {
			glog.V(1).Infof("open: invalid path %q", path)
		}
	}

	reply := rio.Msg{Op: rio.OpStatus, Arg: int32(status), Arg2: rio.ProtocolSocket}
	var handles []ipc.Handle
	if peerRio != nil {
		handles = append(handles, peerRio)
		if peerData != nil {
			handles = append(handles, peerData)
		}
	}
	if err := replyCh.Write(reply.Encode(), handles...); err != nil {
		glog.Errorf("open: reply: %s", err)
		closeHandles(handles)
	}
	replyCh.Close()
	return rio.StatusOK
}

// doOpenNone creates a bare logical socket with no host fd and no data
// transport.
func (m *Mux) doOpenNone() (rio.Status, *ipc.Channel, ipc.Handle) {
	ios := m.newIOState()
	ios.typ = handleTypeNone
	peerRio, peerData := m.createHandles(ios)
	glog.V(1).Infof("open: none: iostate %p", ios)
	return rio.StatusOK, peerRio, peerData
}

// doOpenSocket creates a host socket from the numeric triple and wires
// up its transports.
func (m *Mux) doOpenSocket(rest string) (rio.Status, *ipc.Channel, ipc.Handle) {
	domain, typ, proto, err := rio.ParseSocketArgs(rest)
	if err != nil {
		glog.V(1).Infof("open: %s", err)
		return rio.ErrInvalidArgs, nil, nil
	}
	var ht handleType
	switch typ {
	case unix.SOCK_STREAM:
		ht = handleTypeStream
	case unix.SOCK_DGRAM:
		ht = handleTypeDgram
	default:
		return rio.ErrNotSupported, nil, nil
	}

	ios := m.newIOState()
	ios.typ = ht
	fd, err := netfd.Socket(domain, typ, proto)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_socket => %d (errno=%d)", fd, errno)
	if err != nil {
		m.releaseIOState(ios)
		return rio.StatusFromErrno(errno), nil, nil
	}
	ios.sockfd = fd
	if err := netfd.SetNonblock(fd); err != nil {
		errno := netfd.Errno(err)
		ios.lastErrno = errno
		m.releaseIOState(ios)
		return rio.StatusFromErrno(errno), nil, nil
	}

	peerRio, peerData := m.createHandles(ios)
	m.events.set(fd, eventExcept)
	m.signalsSet(ios, ipc.SignalPeerClosed|ipc.SignalHalfClosed)
	if ios.typ == handleTypeDgram {
		m.scheduleW(ios)
	}
	glog.V(1).Infof("open: socket %d/%d/%d: iostate %p fd=%d", domain, typ, proto, ios, fd)
	return rio.StatusOK, peerRio, peerData
}

// doOpenAccept takes one pending connection off the listening socket
// that carried the OPEN.
func (m *Mux) doOpenAccept(ios *iostate) (rio.Status, *ipc.Channel, ipc.Handle) {
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle, nil, nil
	}
	nfd, err := netfd.Accept(ios.sockfd)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_accept => %d (errno=%d)", nfd, errno)
	if err != nil {
		return rio.StatusFromErrno(errno), nil, nil
	}

	if ios.typ == handleTypeStream {
		if err := ios.dataSock.SignalPeer(ipc.SignalIncoming, 0); err != nil {
			glog.Errorf("accept: clear incoming: %s", err)
		}
	}
	m.scheduleSigConnR(ios)

	iosNew := m.newIOState()
	iosNew.typ = ios.typ
	iosNew.sockfd = nfd
	if err := netfd.SetNonblock(nfd); err != nil {
		iosNew.lastErrno = netfd.Errno(err)
		m.releaseIOState(iosNew)
		return rio.StatusFromErrno(netfd.Errno(err)), nil, nil
	}
	peerRio, peerData := m.createHandles(iosNew)
	m.events.set(nfd, eventExcept)
	m.signalsSet(iosNew, ipc.SignalPeerClosed|ipc.SignalHalfClosed)
	m.scheduleRW(iosNew)
	glog.V(1).Infof("accept: iostate %p fd=%d", iosNew, nfd)
	return rio.StatusOK, peerRio, peerData
}

func doConnect(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	sa, err := rio.DecodeSockaddr(rq.msg.Data)
	if err != nil || sa == nil {
		return rio.ErrInvalidArgs
	}
	err = netfd.Connect(ios.sockfd, sa)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_connect => errno=%d (iostate %p)", errno, ios)
	if errno == unix.EINPROGRESS {
		m.scheduleSigConnW(ios)
	}
	if err != nil {
		return rio.StatusFromErrno(errno)
	}
	if ios.typ == handleTypeStream {
		m.scheduleRW(ios)
	}
	rq.msg.Arg2 = 0
	rq.msg.Data = nil
	return rio.StatusOK
}

// doSigConnW runs when an in-progress connect's fd turns writable:
// signal OUTGOING, capture SO_ERROR, and start shuttling on success.
func doSigConnW(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	if ios.typ == handleTypeStream {
		if err := ios.dataSock.SignalPeer(0, ipc.SignalOutgoing); err != nil {
			glog.V(1).Infof("sigconn_w: signal outgoing: %s", err)
		}
	}
	val, err := netfd.GetsockoptInt(ios.sockfd, unix.SOL_SOCKET, unix.SO_ERROR)
	glog.V(1).Infof("sigconn_w: so_error=%d err=%v (iostate %p)", val, err, ios)
	if err == nil {
		ios.lastErrno = unix.Errno(val)
		if val == 0 {
			m.scheduleRW(ios)
		}
	}
	return rio.StatusOK
}

func doBind(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	sa, err := rio.DecodeSockaddr(rq.msg.Data)
	if err != nil || sa == nil {
		return rio.ErrInvalidArgs
	}
	err = netfd.Bind(ios.sockfd, sa)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_bind => errno=%d (iostate %p)", errno, ios)
	if err != nil {
		return rio.StatusFromErrno(errno)
	}
	if ios.typ == handleTypeDgram {
		m.scheduleR(ios)
	}
	rq.msg.Arg2 = 0
	rq.msg.Data = nil
	return rio.StatusOK
}

func doListen(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	if len(rq.msg.Data) < 4 {
		return rio.ErrInvalidArgs
	}
	backlog := int(int32(binary.LittleEndian.Uint32(rq.msg.Data)))
	err := netfd.Listen(ios.sockfd, backlog)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_listen(%d) => errno=%d (iostate %p)", backlog, errno, ios)
	if err != nil {
		return rio.StatusFromErrno(errno)
	}
	m.scheduleSigConnR(ios)
	rq.msg.Arg2 = 0
	rq.msg.Data = nil
	return rio.StatusOK
}

// doSigConnR runs when a listening fd turns readable: raise INCOMING on
// the data peer so the client knows an accept will succeed.
func doSigConnR(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios.sockfd < 0 {
		return rio.StatusOK
	}
	if ios.typ == handleTypeStream {
		if err := ios.dataSock.SignalPeer(0, ipc.SignalIncoming); err != nil {
			glog.V(1).Infof("sigconn_r: signal incoming: %s", err)
		}
	}
	return rio.StatusOK
}

// closeIOState tears down the host side of ios: fd closed, poll
// interest dropped, both wait queues purged, data-handle watch removed.
// Releases the data-transport reference exactly once.
func (m *Mux) closeIOState(ios *iostate) {
	if ios.closed {
		return
	}
	ios.closed = true
	if ios.sockfd >= 0 {
		glog.V(1).Infof("close: iostate %p fd=%d", ios, ios.sockfd)
		netfd.Close(ios.sockfd)
		m.events.clear(ios.sockfd, eventAll)
		m.discardWaitQueue(waitNet, ios.sockfd)
		m.discardWaitQueue(waitSocket, ios.sockfd)
		ios.sockfd = -1
	}
	if ios.watching != 0 {
		m.signalsChange(ios, 0)
	}
	if ios.dataHandle() != nil {
		m.releaseIOState(ios)
	}
}

func doClose(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	if rq.ios == nil {
		return rio.ErrBadHandle
	}
	m.closeIOState(rq.ios)
	return rio.StatusOK
}

func doHalfClose(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	if ios == nil || ios.sockfd < 0 {
		return rio.StatusOK
	}
	err := netfd.Shutdown(ios.sockfd, unix.SHUT_WR)
	glog.V(1).Infof("net_shutdown(WR) => %v (iostate %p)", err, ios)
	m.signalsSet(ios, ipc.SignalPeerClosed)
	return rio.StatusOK
}
