// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"github.com/golang/glog"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/rio"
)

// scheduleR arms network readability and parks a READ continuation.
func (m *Mux) scheduleR(ios *iostate) {
	glog.V(2).Infof("iostate %p: schedule_r", ios)
	m.events.set(ios.sockfd, eventRead)
	m.queues.put(waitNet, ios.sockfd, m.newRequest(rio.OpRead, nil, nil, ios))
}

// scheduleW arms data-transport readability and parks a WRITE
// continuation.
func (m *Mux) scheduleW(ios *iostate) {
	glog.V(2).Infof("iostate %p: schedule_w", ios)
	m.signalsSet(ios, ipc.SignalReadable)
	m.queues.put(waitSocket, ios.sockfd, m.newRequest(rio.OpWrite, nil, nil, ios))
}

// scheduleRW starts full-duplex shuttling; stream sockets additionally
// signal CONNECTED to the data peer.
func (m *Mux) scheduleRW(ios *iostate) {
	if ios.typ == handleTypeStream {
		if err := ios.dataSock.SignalPeer(0, ipc.SignalConnected); err != nil {
			glog.Errorf("iostate %p: signal connected: %s", ios, err)
		}
	}
	m.scheduleR(ios)
	m.scheduleW(ios)
}

// scheduleSigConnR parks an internal SIGCONN_R continuation on network
// readability (used by listening sockets).
func (m *Mux) scheduleSigConnR(ios *iostate) {
	glog.V(2).Infof("iostate %p: schedule_sigconn_r", ios)
	m.events.set(ios.sockfd, eventRead)
	m.queues.put(waitNet, ios.sockfd, m.newRequest(rio.OpSigConnR, nil, nil, ios))
}

// scheduleSigConnW parks an internal SIGCONN_W continuation on network
// writability (used by in-progress connects).
func (m *Mux) scheduleSigConnW(ios *iostate) {
	glog.V(2).Infof("iostate %p: schedule_sigconn_w", ios)
	m.events.set(ios.sockfd, eventWrite)
	m.queues.put(waitNet, ios.sockfd, m.newRequest(rio.OpSigConnW, nil, nil, ios))
}
