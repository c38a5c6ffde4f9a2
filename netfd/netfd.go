// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

// Package netfd wraps the host's non-blocking BSD socket layer. The
// wrappers are deliberately thin: callers receive raw fds and
// unix.Errno values and do their own readiness handling.
package netfd

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Errno extracts the unix.Errno from an error returned by this package,
// or 0 for nil and non-errno errors.
func Errno(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return 0
}

// Socket creates a host socket.
func Socket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ, proto)
}

// SetNonblock marks fd non-blocking.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Connect starts a connection attempt; on a non-blocking socket the
// error is typically unix.EINPROGRESS.
func Connect(fd int, sa unix.Sockaddr) error {
	for {
		err := unix.Connect(fd, sa)
		if err != unix.EINTR {
			return err
		}
	}
}

// Bind binds fd to a local address.
func Bind(fd int, sa unix.Sockaddr) error {
	return unix.Bind(fd, sa)
}

// Listen marks fd as accepting connections.
func Listen(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Accept takes one pending connection, returning the new fd.
func Accept(fd int) (int, error) {
	for {
		nfd, _, err := unix.Accept(fd)
		if err != unix.EINTR {
			return nfd, err
		}
	}
}

// Read reads from fd.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Write writes to fd.
func Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err != unix.EINTR {
			return n, err
		}
	}
}

// Recvfrom reads one datagram and its source address.
func Recvfrom(fd int, p []byte) (int, unix.Sockaddr, error) {
	for {
		n, sa, err := unix.Recvfrom(fd, p, 0)
		if err != unix.EINTR {
			return n, sa, err
		}
	}
}

// Sendto writes one datagram. A nil address uses the connected peer.
func Sendto(fd int, p []byte, sa unix.Sockaddr) (int, error) {
	for {
		var err error
		if sa == nil {
			_, err = unix.Write(fd, p)
		} else {
			err = unix.Sendto(fd, p, 0, sa)
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, err
		}
		return len(p), nil
	}
}

// Shutdown disables a direction of fd; how is unix.SHUT_RD, SHUT_WR or
// SHUT_RDWR.
func Shutdown(fd, how int) error {
	return unix.Shutdown(fd, how)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// Getsockname returns fd's local address.
func Getsockname(fd int) (unix.Sockaddr, error) {
	return unix.Getsockname(fd)
}

// Getpeername returns fd's remote address.
func Getpeername(fd int) (unix.Sockaddr, error) {
	return unix.Getpeername(fd)
}

// GetsockoptInt reads an int-sized socket option.
func GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// SetsockoptInt writes an int-sized socket option.
func SetsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// GetsockoptRaw reads an arbitrary socket option into buf and returns
// the option length reported by the host.
func GetsockoptRaw(fd, level, opt int, buf []byte) (int, error) {
	optlen := uint32(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&optlen)), 0)
	if errno != 0 {
		return 0, errno
	}
	return int(optlen), nil
}

// SetsockoptRaw writes an arbitrary socket option from buf.
func SetsockoptRaw(fd, level, opt int, buf []byte) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
