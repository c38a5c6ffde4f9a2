// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

// Package netmux multiplexes client-facing IPC endpoints onto the
// host's non-blocking BSD socket layer. A single dispatcher goroutine
// owns all mutable state and interleaves three readiness domains:
// network readiness from poll(2), data-transport readiness from the
// wait-set (relayed by the handle watcher), and request arrival on the
// per-socket request channels.
package netmux

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/dns"
	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netconfig"
	"fuchsia.googlesource.com/netmux/netfd"
	"fuchsia.googlesource.com/netmux/rio"
)

// Options configures a Mux.
type Options struct {
	// Store backs the netconfig ioctls. Nil creates an empty store.
	Store *netconfig.Store

	// Resolver answers GETADDRINFO. Nil builds one over the store's
	// DNS servers.
	Resolver *dns.Client

	// SocketBufferSize is the per-direction capacity of stream data
	// transports. Zero uses the ipc default.
	SocketBufferSize int
}

// rioReg is one request channel registered with the dispatcher. ios is
// nil for root channels that only serve OPEN.
type rioReg struct {
	cookie uint64
	ch     *ipc.Channel
	ios    *iostate
}

// Mux is the multiplexer. Construct with New, hand out request
// channels with NewRequestChannel, then drive it with Run.
type Mux struct {
	bufs   bufPool
	arena  arena
	queues waitQueues
	events fdEvents

	ws      *ipc.WaitSet
	watcher *handleWatcher
	intr    *netfd.Interrupter

	regs    map[uint64]*rioReg
	nextReg uint64

	netcfg      *netconfig.Store
	resolver    *dns.Client
	sockBufSize int

	stopFlag int32
	done     chan struct{}
}

// New builds a Mux and starts its handle watcher. Call Run to serve.
func New(opts Options) (*Mux, error) {
	store := opts.Store
	if store == nil {
		store = netconfig.NewStore()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = dns.NewClient(store.DNSServers)
	}
	sockBufSize := opts.SocketBufferSize
	if sockBufSize == 0 {
		sockBufSize = ipc.DefaultSocketCapacity
	}

	intr, err := netfd.NewInterrupter()
	if err != nil {
		return nil, err
	}
	ws := ipc.NewWaitSet()
	watcher, err := startHandleWatcher(ws, intr)
	if err != nil {
		intr.Close()
		return nil, err
	}
	m := &Mux{
		queues:      newWaitQueues(),
		events:      make(fdEvents),
		ws:          ws,
		watcher:     watcher,
		intr:        intr,
		regs:        make(map[uint64]*rioReg),
		netcfg:      store,
		resolver:    resolver,
		sockBufSize: sockBufSize,
		done:        make(chan struct{}),
	}
	return m, nil
}

// NewRequestChannel registers a root request channel and returns the
// client endpoint. Root channels accept OPEN only. Must be called
// before Run; the dispatcher owns the registration table afterwards.
func (m *Mux) NewRequestChannel() *ipc.Channel {
	local, remote := ipc.NewChannelPair()
	m.registerRequestChannel(local, nil)
	return remote
}

// registerRequestChannel adds a request channel to the dispatcher's
// table and the wait-set.
func (m *Mux) registerRequestChannel(ch *ipc.Channel, ios *iostate) *rioReg {
	m.nextReg++
	reg := &rioReg{cookie: requestCookieFlag | m.nextReg, ch: ch, ios: ios}
	m.regs[reg.cookie] = reg
	if err := m.ws.Add(reg.cookie, ch, ipc.SignalReadable|ipc.SignalPeerClosed); err != nil {
		glog.Errorf("request channel: wait-set add: %s", err)
	}
	return reg
}

// Run drives the dispatcher until Stop is called. It must not be
// entered twice.
func (m *Mux) Run() error {
	defer close(m.done)
	for atomic.LoadInt32(&m.stopFlag) == 0 {
		if err := m.iterate(); err != nil {
			return err
		}
	}
	return nil
}

// Stop makes Run return after the current iteration and blocks until
// it has.
func (m *Mux) Stop() {
	atomic.StoreInt32(&m.stopFlag, 1)
	m.intr.Wake()
	<-m.done
}

// Close releases every resource: open sockets, transports, request
// channels, the watcher and the interrupt pipe. Call after Run has
// returned.
func (m *Mux) Close() {
	for cookie, reg := range m.regs {
		m.ws.Remove(cookie)
		delete(m.regs, cookie)
		reg.ch.Close()
		if ios := reg.ios; ios != nil {
			ios.reg = nil
			if !ios.closed {
				m.closeIOState(ios)
			}
			m.releaseIOState(ios)
		}
	}
	m.watcher.close()
	m.ws.Close()
	m.intr.Close()
}

// iterate runs one dispatcher round: poll with the watcher armed, then
// drain the three readiness domains.
func (m *Mux) iterate() error {
	pfds := make([]unix.PollFd, 1, len(m.events)+1)
	pfds[0] = unix.PollFd{Fd: int32(m.intr.ReadFD()), Events: unix.POLLIN}
	for fd, ev := range m.events {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: ev.pollBits()})
	}

	if err := m.watcher.start(); err != nil {
		return fmt.Errorf("netmux: watcher start: %v", err)
	}
	if _, err := netfd.Poll(pfds, -1); err != nil {
		m.watcher.stop()
		return fmt.Errorf("netmux: poll: %v", err)
	}
	found, err := m.watcher.stop()
	if err != nil {
		return fmt.Errorf("netmux: watcher stop: %v", err)
	}
	m.intr.Drain()

	if found {
		m.drainWaitSet()
	}

	for _, p := range pfds[1:] {
		if p.Revents == 0 {
			continue
		}
		fd := int(p.Fd)
		ev := eventsFromPoll(p.Revents)
		glog.V(2).Infof("net ready: fd=%d revents=%#x", fd, p.Revents)
		m.events.clear(fd, ev&(eventRead|eventWrite))
		for _, rq := range m.queues.swap(waitNet, fd) {
			m.handleRequest(rq, ev, 0)
		}
		// poll reports error/hangup unsolicited. Once no continuation
		// holds read or write interest, the fd must leave the poll set
		// or the error condition re-fires every iteration.
		if p.Revents&(unix.POLLERR|unix.POLLHUP) != 0 &&
			m.events.mask(fd) == eventExcept && m.queues.pending(waitNet, fd) == 0 {
			m.events.clear(fd, eventAll)
		}
	}

	m.drainRequests()
	return nil
}

// drainWaitSet classifies every ready data handle. The watched mask is
// narrowed before any handler runs, so a handler that needs the signal
// again must re-arm it.
func (m *Mux) drainWaitSet() {
	results, err := m.ws.Wait(0)
	if err != nil {
		glog.Errorf("wait-set drain: %s", err)
		return
	}
	for _, r := range results {
		if r.Cookie == ctrlCookie || r.Cookie&requestCookieFlag != 0 {
			// Command traffic and request channels are handled in
			// drainRequests.
			continue
		}
		ios := m.arena.lookup(r.Cookie)
		if ios == nil {
			// Released since the wait; the generation check ate it.
			continue
		}
		observed := r.Observed
		watching := ios.watching
		glog.V(2).Infof("socket ready: iostate %p observed=%#x watching=%#x", ios, observed, watching)
		m.signalsClear(ios, observed)
		switch {
		case observed&ipc.SignalPeerClosed != 0 && observed&ipc.SignalReadable == 0:
			// Peer closed with nothing left to read.
			m.handleRequestClose(ios, observed)
		case observed&ipc.SignalHalfClosed != 0 && observed&ipc.SignalReadable == 0:
			// Peer half-closed with nothing left to read.
			m.handleRequestHalfClose(ios, observed)
		case observed&watching != 0:
			for _, rq := range m.queues.swap(waitSocket, ios.sockfd) {
				m.handleRequest(rq, 0, observed)
			}
		}
	}
}

// drainRequests empties every request channel, wrapping each message in
// a request and dispatching it.
func (m *Mux) drainRequests() {
	for _, reg := range m.regs {
		m.drainRequestChannel(reg)
	}
}

func (m *Mux) drainRequestChannel(reg *rioReg) {
	buf := m.bufs.get()
	defer m.bufs.put(buf)
	for {
		if _, ok := m.regs[reg.cookie]; !ok {
			// A handler disconnected this registration mid-drain.
			return
		}
		n, handles, err := reg.ch.Read(buf)
		switch err {
		case nil:
		case ipc.ErrShouldWait:
			return
		case ipc.ErrPeerClosed:
			m.disconnectRequestChannel(reg)
			return
		default:
			glog.Errorf("request channel: read: %s", err)
			m.disconnectRequestChannel(reg)
			return
		}
		msg, err := rio.DecodeMsg(buf[:n], handles)
		if err != nil {
			glog.Errorf("request channel: %s", err)
			closeHandles(handles)
			continue
		}
		glog.V(1).Infof("request: op=%s arg=%d datalen=%d ios=%p", msg.Op, msg.Arg, len(msg.Data), reg.ios)
		rq := m.newRequest(msg.Op, msg, reg.ch, reg.ios)
		if !msg.Op.Wire() {
			m.rejectRequest(rq)
			continue
		}
		m.handleRequest(rq, 0, 0)
	}
}

// disconnectRequestChannel tears down a request channel whose peer went
// away, funneling socket teardown through the ordinary close path.
func (m *Mux) disconnectRequestChannel(reg *rioReg) {
	glog.V(1).Infof("request channel disconnect: ios=%p", reg.ios)
	m.ws.Remove(reg.cookie)
	delete(m.regs, reg.cookie)
	reg.ch.Close()
	if ios := reg.ios; ios != nil {
		ios.reg = nil
		if !ios.closed {
			m.handleRequestCloseLocked(ios, 0)
		}
		// Drop the dispatcher-registration reference.
		m.releaseIOState(ios)
	}
}

func closeHandles(handles []ipc.Handle) {
	for _, h := range handles {
		h.Close()
	}
}

// handleRequestClose funnels a peer-closed data transport into a CLOSE
// request exactly once.
func (m *Mux) handleRequestClose(ios *iostate, signals ipc.Signals) {
	if ios.closed {
		return
	}
	m.handleRequestCloseLocked(ios, signals)
}

func (m *Mux) handleRequestCloseLocked(ios *iostate, signals ipc.Signals) {
	m.handleRequest(m.newRequest(rio.OpClose, nil, nil, ios), 0, signals)
}

// handleRequestHalfClose schedules an internal HALFCLOSE request.
func (m *Mux) handleRequestHalfClose(ios *iostate, signals ipc.Signals) {
	m.handleRequest(m.newRequest(rio.OpHalfClose, nil, nil, ios), 0, signals)
}

// handleRequest invokes the handler for rq. PENDING results park the
// request on the corresponding wait queue; everything else completes
// it, replying when the operation calls for one.
func (m *Mux) handleRequest(rq *request, events netEvents, signals ipc.Signals) {
	fn := opFuncs[rq.op]
	if fn == nil {
		glog.Errorf("request: no handler for op %s", rq.op)
		m.rejectRequest(rq)
		return
	}
	status := fn(m, rq, events, signals)
	switch status {
	case pendingNet:
		glog.V(2).Infof("request: op=%s pending on net (fd=%d)", rq.op, rq.ios.sockfd)
		m.queues.put(waitNet, rq.ios.sockfd, rq)
	case pendingSocket:
		glog.V(2).Infof("request: op=%s pending on socket (fd=%d)", rq.op, rq.ios.sockfd)
		m.queues.put(waitSocket, rq.ios.sockfd, rq)
	default:
		m.completeRequest(rq, status)
	}
}

// repliedOps are the wire operations that send a STATUS reply when the
// handler completes. Data-path and teardown ops complete silently, as
// does OPEN, which replies on the channel it carried.
var repliedOps = map[rio.Op]bool{
	rio.OpConnect:     true,
	rio.OpBind:        true,
	rio.OpListen:      true,
	rio.OpIoctl:       true,
	rio.OpGetAddrInfo: true,
	rio.OpGetSockName: true,
	rio.OpGetPeerName: true,
	rio.OpGetSockOpt:  true,
	rio.OpSetSockOpt:  true,
}

// rejectRequest refuses an envelope the dispatcher cannot route,
// replying INVALID_ARGS when there is a channel to reply on.
func (m *Mux) rejectRequest(rq *request) {
	if rq.msg != nil && rq.replyCh != nil {
		m.sendStatus(rq, rio.ErrInvalidArgs)
	}
	m.freeRequest(rq)
}

func (m *Mux) completeRequest(rq *request, status rio.Status) {
	if repliedOps[rq.op] && rq.msg != nil && rq.replyCh != nil {
		m.sendStatus(rq, status)
	}
	m.freeRequest(rq)
}

// sendStatus turns the request envelope into a STATUS reply and writes
// it back on the request channel.
func (m *Mux) sendStatus(rq *request, status rio.Status) {
	msg := rq.msg
	if status < 0 || !msg.Valid() {
		closeHandles(msg.Handles)
		msg.Data = nil
		msg.Handles = nil
		if status >= 0 {
			status = rio.ErrInternal
		}
	}
	msg.Op = rio.OpStatus
	msg.Arg = int32(status)
	if err := rq.replyCh.Write(msg.Encode(), msg.Handles...); err != nil {
		glog.Errorf("reply: write: %s", err)
		closeHandles(msg.Handles)
	}
}
