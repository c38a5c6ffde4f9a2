// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// SockaddrStorageSize is the fixed wire size of an encoded address,
// mirroring sockaddr_storage.
const SockaddrStorageSize = 128

// Encoded address lengths per family, mirroring sockaddr_in and
// sockaddr_in6.
const (
	sockaddrInSize  = 16
	sockaddrIn6Size = 28
)

// PutSockaddr encodes sa into b (at least SockaddrStorageSize bytes)
// and returns the meaningful address length.
func PutSockaddr(b []byte, sa unix.Sockaddr) (int, error) {
	if len(b) < SockaddrStorageSize {
		return 0, fmt.Errorf("rio: sockaddr buffer too small (%d)", len(b))
	}
	for i := 0; i < SockaddrStorageSize; i++ {
		b[i] = 0
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		binary.LittleEndian.PutUint16(b[0:], unix.AF_INET)
		binary.BigEndian.PutUint16(b[2:], uint16(sa.Port))
		copy(b[4:8], sa.Addr[:])
		return sockaddrInSize, nil
	case *unix.SockaddrInet6:
		binary.LittleEndian.PutUint16(b[0:], unix.AF_INET6)
		binary.BigEndian.PutUint16(b[2:], uint16(sa.Port))
		copy(b[8:24], sa.Addr[:])
		binary.LittleEndian.PutUint32(b[24:], sa.ZoneId)
		return sockaddrIn6Size, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("rio: unsupported sockaddr %T", sa)
}

// EncodeSockaddr returns a fresh SockaddrStorageSize buffer holding sa
// plus the meaningful address length.
func EncodeSockaddr(sa unix.Sockaddr) ([]byte, int, error) {
	b := make([]byte, SockaddrStorageSize)
	n, err := PutSockaddr(b, sa)
	if err != nil {
		return nil, 0, err
	}
	return b, n, nil
}

// DecodeSockaddr parses a wire-encoded address. An empty or zero-family
// buffer decodes to nil.
func DecodeSockaddr(b []byte) (unix.Sockaddr, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("rio: short sockaddr (%d bytes)", len(b))
	}
	family := binary.LittleEndian.Uint16(b[0:])
	switch family {
	case 0:
		return nil, nil
	case unix.AF_INET:
		if len(b) < sockaddrInSize {
			return nil, fmt.Errorf("rio: short sockaddr_in (%d bytes)", len(b))
		}
		sa := &unix.SockaddrInet4{Port: int(binary.BigEndian.Uint16(b[2:]))}
		copy(sa.Addr[:], b[4:8])
		return sa, nil
	case unix.AF_INET6:
		if len(b) < sockaddrIn6Size {
			return nil, fmt.Errorf("rio: short sockaddr_in6 (%d bytes)", len(b))
		}
		sa := &unix.SockaddrInet6{
			Port:   int(binary.BigEndian.Uint16(b[2:])),
			ZoneId: binary.LittleEndian.Uint32(b[24:]),
		}
		copy(sa.Addr[:], b[8:24])
		return sa, nil
	}
	return nil, fmt.Errorf("rio: unsupported address family %d", family)
}

// SockaddrReply is the payload of GETSOCKNAME and GETPEERNAME replies.
type SockaddrReply struct {
	Len  uint32
	Addr unix.Sockaddr
}

// SockaddrReplySize is the encoded size of a SockaddrReply.
const SockaddrReplySize = 4 + SockaddrStorageSize

// Encode renders the reply payload.
func (r *SockaddrReply) Encode() ([]byte, error) {
	b := make([]byte, SockaddrReplySize)
	n, err := PutSockaddr(b[4:], r.Addr)
	if err != nil {
		return nil, err
	}
	if r.Len == 0 {
		r.Len = uint32(n)
	}
	binary.LittleEndian.PutUint32(b[0:], r.Len)
	return b, nil
}

// DecodeSockaddrReply parses a GETSOCKNAME/GETPEERNAME reply payload.
func DecodeSockaddrReply(b []byte) (*SockaddrReply, error) {
	if len(b) < SockaddrReplySize {
		return nil, fmt.Errorf("rio: short sockaddr reply (%d bytes)", len(b))
	}
	sa, err := DecodeSockaddr(b[4:])
	if err != nil {
		return nil, err
	}
	return &SockaddrReply{Len: binary.LittleEndian.Uint32(b[0:]), Addr: sa}, nil
}
