// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import "golang.org/x/sys/unix"

// netEvents is the per-fd bitmap of network readiness interest.
type netEvents uint32

const (
	eventRead netEvents = 1 << iota
	eventWrite
	eventExcept

	eventAll = eventRead | eventWrite | eventExcept
)

// fdEvents is the table the dispatcher builds its poll set from: an fd
// is polled exactly when any bit is set.
type fdEvents map[int]netEvents

func (e fdEvents) set(fd int, ev netEvents) {
	e[fd] |= ev
}

func (e fdEvents) clear(fd int, ev netEvents) {
	m, ok := e[fd]
	if !ok {
		return
	}
	m &^= ev
	if m == 0 {
		delete(e, fd)
	} else {
		e[fd] = m
	}
}

func (e fdEvents) mask(fd int) netEvents { return e[fd] }

// pollBits translates interest bits to poll(2) event bits.
func (ev netEvents) pollBits() int16 {
	var bits int16
	if ev&eventRead != 0 {
		bits |= unix.POLLIN
	}
	if ev&eventWrite != 0 {
		bits |= unix.POLLOUT
	}
	if ev&eventExcept != 0 {
		bits |= unix.POLLPRI
	}
	return bits
}

// eventsFromPoll translates poll(2) revents back. An error condition
// surfaces as both read and write readiness, and hangup as read
// readiness, so parked continuations run and observe the failure from
// the host call.
func eventsFromPoll(revents int16) netEvents {
	var ev netEvents
	if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		ev |= eventRead
	}
	if revents&(unix.POLLOUT|unix.POLLERR) != 0 {
		ev |= eventWrite
	}
	if revents&unix.POLLPRI != 0 {
		ev |= eventExcept
	}
	return ev
}
