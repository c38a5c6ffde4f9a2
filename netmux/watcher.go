// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"fmt"

	"github.com/golang/glog"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netfd"
)

// Handle watcher command bytes and replies.
const (
	cmdStart = 1
	cmdAbort = 2

	replyNotFound = 0
	replyFound    = 1
)

// handleWatcher bridges the wait-set into the dispatcher's poll: while
// the dispatcher blocks in poll(2), the watcher blocks in the wait-set,
// and any non-control readiness turns into a byte on the interrupt
// pipe. The two sides handshake on a command channel: START before the
// dispatcher enters poll, a reply (FOUND/NOT FOUND) after it leaves,
// with ABORT cutting a wait short. A stale ABORT left over from a
// round that already replied is consumed silently at the top of the
// loop.
type handleWatcher struct {
	ctrlLocal  *ipc.Channel // watcher side
	ctrlRemote *ipc.Channel // dispatcher side
	ws         *ipc.WaitSet
	intr       *netfd.Interrupter
}

// startHandleWatcher registers the command channel in the wait-set
// under the reserved cookie and starts the watcher goroutine.
func startHandleWatcher(ws *ipc.WaitSet, intr *netfd.Interrupter) (*handleWatcher, error) {
	local, remote := ipc.NewChannelPair()
	if err := ws.Add(ctrlCookie, local, ipc.SignalReadable); err != nil {
		return nil, err
	}
	w := &handleWatcher{ctrlLocal: local, ctrlRemote: remote, ws: ws, intr: intr}
	go w.loop()
	return w, nil
}

// start sends START; the watcher enters its blocking wait.
func (w *handleWatcher) start() error {
	return w.ctrlRemote.Write([]byte{cmdStart})
}

// stop collects the round's reply, aborting the wait first if no reply
// is pending yet. It reports whether any IPC handle was found ready.
func (w *handleWatcher) stop() (bool, error) {
	if w.ctrlRemote.Signals()&ipc.SignalReadable == 0 {
		if err := w.ctrlRemote.Write([]byte{cmdAbort}); err != nil {
			return false, err
		}
	}
	obs, err := ipc.WaitOne(w.ctrlRemote, ipc.SignalReadable|ipc.SignalPeerClosed, -1)
	if err != nil {
		return false, err
	}
	if obs&ipc.SignalReadable == 0 {
		return false, fmt.Errorf("netmux: handle watcher died")
	}
	var reply [1]byte
	if _, _, err := w.ctrlRemote.Read(reply[:]); err != nil {
		return false, err
	}
	glog.V(2).Infof("watcher: stop => %d", reply[0])
	return reply[0] == replyFound, nil
}

// close tears the watcher down; the goroutine exits when it observes
// the peer-closed command channel.
func (w *handleWatcher) close() {
	w.ctrlRemote.Close()
}

// loop cycles between IDLE (awaiting a command) and WAITING (blocked in
// the wait-set). Failures here are fatal to the multiplexer; the loop
// returns and every subsequent stop() fails.
func (w *handleWatcher) loop() {
	// Closing our end on exit makes a pending or future stop() fail
	// instead of blocking forever.
	defer w.ctrlLocal.Close()
	for {
		obs, err := ipc.WaitOne(w.ctrlLocal, ipc.SignalReadable|ipc.SignalPeerClosed, -1)
		if err != nil {
			glog.Errorf("handle watcher: command wait: %s", err)
			return
		}
		if obs&ipc.SignalReadable == 0 {
			// Dispatcher went away; orderly shutdown.
			return
		}
		var cmd [1]byte
		if _, _, err := w.ctrlLocal.Read(cmd[:]); err != nil {
			glog.Errorf("handle watcher: command read: %s", err)
			return
		}
		if cmd[0] == cmdAbort {
			// Stale ABORT from a round that already replied.
			continue
		}
		if cmd[0] != cmdStart {
			glog.Errorf("handle watcher: unknown command %d", cmd[0])
			return
		}

		results, err := w.ws.Wait(-1)
		if err == ipc.ErrClosed {
			// Orderly teardown.
			return
		}
		if err != nil {
			glog.Errorf("handle watcher: wait-set: %s", err)
			return
		}
		found := false
		for _, r := range results {
			if r.Cookie != ctrlCookie && r.Observed != 0 {
				found = true
				break
			}
		}
		if found {
			if err := w.intr.Wake(); err != nil {
				glog.Errorf("handle watcher: interrupt: %s", err)
				return
			}
		}
		reply := byte(replyNotFound)
		if found {
			reply = replyFound
		}
		if err := w.ctrlLocal.Write([]byte{reply}); err != nil {
			glog.Errorf("handle watcher: reply: %s", err)
			return
		}
	}
}
