// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rio defines the remote-I/O message envelope exchanged on
// request channels, the operation and status codes, and the wire
// layouts for addresses, datagram framing, socket options and address
// resolution.
package rio

import (
	"encoding/binary"
	"fmt"

	"fuchsia.googlesource.com/netmux/ipc"
)

// Op identifies a remote-I/O operation.
type Op uint32

const (
	OpStatus Op = iota
	OpClose
	OpOpen
	OpRead
	OpWrite
	OpIoctl
	OpGetAddrInfo
	OpGetSockName
	OpGetPeerName
	OpGetSockOpt
	OpSetSockOpt
	OpConnect
	OpBind
	OpListen
	OpHalfClose

	numWireOps

	// Internal scheduling ops; these never appear on the wire.
	OpSigConnR
	OpSigConnW

	NumOps
)

var opNames = map[Op]string{
	OpStatus:      "status",
	OpClose:       "close",
	OpOpen:        "open",
	OpRead:        "read",
	OpWrite:       "write",
	OpIoctl:       "ioctl",
	OpGetAddrInfo: "getaddrinfo",
	OpGetSockName: "getsockname",
	OpGetPeerName: "getpeername",
	OpGetSockOpt:  "getsockopt",
	OpSetSockOpt:  "setsockopt",
	OpConnect:     "connect",
	OpBind:        "bind",
	OpListen:      "listen",
	OpHalfClose:   "halfclose",
	OpSigConnR:    "sigconn_r",
	OpSigConnW:    "sigconn_w",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint32(op))
}

// Wire reports whether op may arrive on a request channel.
func (op Op) Wire() bool { return op < numWireOps }

const (
	// ChunkSize bounds the data payload of one envelope.
	ChunkSize = 8192

	// MaxHandles bounds the handles carried by one envelope.
	MaxHandles = 4

	// MaxPathLen bounds the path in an OPEN envelope.
	MaxPathLen = 1024

	// HeaderSize is the encoded envelope header.
	HeaderSize = 16
)

// Open-path prefixes.
const (
	DirNone   = "none"
	DirSocket = "socket"
	DirAccept = "accept"
)

// ProtocolSocket tags OPEN replies as socket protocol.
const ProtocolSocket uint32 = 4

// Msg is one request or reply envelope: (op, arg, arg2, data, handles).
// Arg carries the status on replies; Arg2 is an offset or, for IOCTL,
// the ioctl opcode.
type Msg struct {
	Op      Op
	Arg     int32
	Arg2    uint32
	Data    []byte
	Handles []ipc.Handle
}

// Valid reports whether the envelope respects the size bounds.
func (m *Msg) Valid() bool {
	return len(m.Data) <= ChunkSize && len(m.Handles) <= MaxHandles
}

// Encode renders the envelope header and data. Handles travel
// out-of-band on the channel.
func (m *Msg) Encode() []byte {
	b := make([]byte, HeaderSize+len(m.Data))
	binary.LittleEndian.PutUint32(b[0:], uint32(m.Op))
	binary.LittleEndian.PutUint32(b[4:], uint32(m.Arg))
	binary.LittleEndian.PutUint32(b[8:], m.Arg2)
	binary.LittleEndian.PutUint32(b[12:], uint32(len(m.Data)))
	copy(b[HeaderSize:], m.Data)
	return b
}

// DecodeMsg parses an envelope from channel bytes and handles.
func DecodeMsg(b []byte, handles []ipc.Handle) (*Msg, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("rio: short message (%d bytes)", len(b))
	}
	datalen := binary.LittleEndian.Uint32(b[12:])
	if datalen > ChunkSize || int(datalen) != len(b)-HeaderSize {
		return nil, fmt.Errorf("rio: bad datalen %d for %d payload bytes", datalen, len(b)-HeaderSize)
	}
	if len(handles) > MaxHandles {
		return nil, fmt.Errorf("rio: too many handles (%d)", len(handles))
	}
	m := &Msg{
		Op:      Op(binary.LittleEndian.Uint32(b[0:])),
		Arg:     int32(binary.LittleEndian.Uint32(b[4:])),
		Arg2:    binary.LittleEndian.Uint32(b[8:]),
		Handles: handles,
	}
	if datalen > 0 {
		m.Data = make([]byte, datalen)
		copy(m.Data, b[HeaderSize:])
	}
	return m, nil
}

// ParseSocketArgs parses the numeric "<domain>/<type>/<protocol>"
// triple of an OPEN socket path. All three fields must be present,
// base-10, with no trailing bytes.
func ParseSocketArgs(path string) (domain, typ, proto int, err error) {
	var fields [3]int
	rest := path
	for i := range fields {
		j := 0
		neg := false
		if j < len(rest) && (rest[j] == '-' || rest[j] == '+') {
			neg = rest[j] == '-'
			j++
		}
		start := j
		v := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			v = v*10 + int(rest[j]-'0')
			j++
		}
		if j == start {
			return 0, 0, 0, fmt.Errorf("rio: bad socket args %q", path)
		}
		if neg {
			v = -v
		}
		fields[i] = v
		if i < len(fields)-1 {
			if j >= len(rest) || rest[j] != '/' {
				return 0, 0, 0, fmt.Errorf("rio: bad socket args %q", path)
			}
			j++
		} else if j != len(rest) {
			return 0, 0, 0, fmt.Errorf("rio: bad socket args %q", path)
		}
		rest = rest[j:]
	}
	return fields[0], fields[1], fields[2], nil
}

// MatchSubdir matches a path against a directory prefix, returning the
// remainder after the separator and whether it matched. "socket/2/1/0"
// against "socket" yields "2/1/0".
func MatchSubdir(path, dir string) (string, bool) {
	if len(path) < len(dir) || path[:len(dir)] != dir {
		return "", false
	}
	switch {
	case len(path) == len(dir):
		return "", true
	case path[len(dir)] == '/':
		return path[len(dir)+1:], true
	}
	return "", false
}
