// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netfd

import "golang.org/x/sys/unix"

// Poll event bits, re-exported so callers need not reach for unix
// directly when building poll sets.
const (
	PollIn  = unix.POLLIN
	PollOut = unix.POLLOUT
	PollPri = unix.POLLPRI
	PollErr = unix.POLLERR
	PollHup = unix.POLLHUP
)

// Poll blocks until an fd in fds is ready or the timeout (milliseconds,
// negative for none) expires, retrying on EINTR.
func Poll(fds []unix.PollFd, timeout int) (int, error) {
	for {
		n, err := unix.Poll(fds, timeout)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Interrupter is a host pipe used only to wake a blocked Poll. Writes
// and reads never block; the byte values are meaningless.
type Interrupter struct {
	r, w int
}

// NewInterrupter creates the pipe with both ends non-blocking.
func NewInterrupter() (*Interrupter, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &Interrupter{r: p[0], w: p[1]}, nil
}

// ReadFD returns the fd to include in the poll set.
func (i *Interrupter) ReadFD() int { return i.r }

// Wake writes one byte. A full pipe already guarantees a wakeup, so
// EAGAIN is not an error.
func (i *Interrupter) Wake() error {
	_, err := unix.Write(i.w, []byte{1})
	if err == unix.EAGAIN || err == unix.EINTR {
		return nil
	}
	return err
}

// Drain consumes every pending wakeup byte.
func (i *Interrupter) Drain() {
	var buf [16]byte
	for {
		n, err := unix.Read(i.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close closes both pipe ends.
func (i *Interrupter) Close() {
	unix.Close(i.r)
	unix.Close(i.w)
}
