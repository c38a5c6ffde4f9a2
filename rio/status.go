// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Status is the portable result code carried in reply envelopes.
// Negative values are errors.
type Status int32

const (
	StatusOK Status = 0

	ErrInternal     Status = -1
	ErrNotSupported Status = -2
	ErrNoMemory     Status = -4
	ErrNoResources  Status = -5
	ErrInvalidArgs  Status = -10
	ErrBadHandle    Status = -11
	ErrBadState     Status = -20
	ErrTimedOut     Status = -21
	ErrShouldWait   Status = -22
	ErrPeerClosed   Status = -24
	ErrAccessDenied Status = -30
	ErrIO           Status = -40
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case ErrInternal:
		return "internal"
	case ErrNotSupported:
		return "not supported"
	case ErrNoMemory:
		return "no memory"
	case ErrNoResources:
		return "no resources"
	case ErrInvalidArgs:
		return "invalid args"
	case ErrBadHandle:
		return "bad handle"
	case ErrBadState:
		return "bad state"
	case ErrTimedOut:
		return "timed out"
	case ErrShouldWait:
		return "should wait"
	case ErrPeerClosed:
		return "peer closed"
	case ErrAccessDenied:
		return "access denied"
	case ErrIO:
		return "io"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// StatusFromErrno maps a host errno to a portable status code.
func StatusFromErrno(errno unix.Errno) Status {
	switch errno {
	case 0:
		return StatusOK
	case unix.EACCES:
		return ErrAccessDenied
	case unix.EBADF:
		return ErrBadHandle
	case unix.EINPROGRESS:
		return ErrShouldWait
	case unix.EINVAL:
		return ErrInvalidArgs
	case unix.EIO:
		return ErrIO
	case unix.ENOBUFS:
		return ErrNoResources
	case unix.ENOMEM:
		return ErrNoMemory
	case unix.EAGAIN:
		return ErrShouldWait
	default:
		return ErrIO
	}
}
