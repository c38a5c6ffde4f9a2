// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"github.com/golang/glog"

	"fuchsia.googlesource.com/netmux/ipc"
)

// signalsSet widens the watched signal mask for ios's data handle.
// ios.watching always equals the mask registered in the wait-set.
func (m *Mux) signalsSet(ios *iostate, sigs ipc.Signals) {
	if ios.watching&sigs == sigs {
		return
	}
	m.signalsChange(ios, ios.watching|sigs)
}

// signalsClear narrows the watched signal mask for ios's data handle.
func (m *Mux) signalsClear(ios *iostate, sigs ipc.Signals) {
	if ios.watching&sigs == 0 {
		return
	}
	m.signalsChange(ios, ios.watching&^sigs)
}

func (m *Mux) signalsChange(ios *iostate, sigs ipc.Signals) {
	glog.V(2).Infof("iostate %p: watching %#x -> %#x", ios, ios.watching, sigs)
	if ios.watching != 0 {
		if err := m.ws.Remove(ios.cookie); err != nil {
			glog.Errorf("iostate %p: wait-set remove: %s", ios, err)
			return
		}
	}
	if sigs != 0 {
		h := ios.dataHandle()
		if h == nil {
			glog.Errorf("iostate %p: watching %#x with no data handle", ios, sigs)
			ios.watching = 0
			return
		}
		if err := m.ws.Add(ios.cookie, h, sigs); err != nil {
			glog.Errorf("iostate %p: wait-set add: %s", ios, err)
			ios.watching = 0
			return
		}
	}
	ios.watching = sigs
}
