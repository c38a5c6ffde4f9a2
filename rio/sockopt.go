// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"encoding/binary"
	"fmt"
)

// MaxSockOptLen bounds the option value carried in a GETSOCKOPT or
// SETSOCKOPT payload.
const MaxSockOptLen = 128

// SockOptSize is the encoded size of a SockOpt payload: level, optname,
// value storage and optlen.
const SockOptSize = 4 + 4 + MaxSockOptLen + 4

// SockOpt is the request and reply payload of the socket-option ops.
type SockOpt struct {
	Level   int32
	OptName int32
	OptVal  []byte
}

// Encode renders the payload.
func (o *SockOpt) Encode() ([]byte, error) {
	if len(o.OptVal) > MaxSockOptLen {
		return nil, fmt.Errorf("rio: sockopt value too large (%d)", len(o.OptVal))
	}
	b := make([]byte, SockOptSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(o.Level))
	binary.LittleEndian.PutUint32(b[4:], uint32(o.OptName))
	copy(b[8:], o.OptVal)
	binary.LittleEndian.PutUint32(b[8+MaxSockOptLen:], uint32(len(o.OptVal)))
	return b, nil
}

// DecodeSockOpt parses a socket-option payload.
func DecodeSockOpt(b []byte) (*SockOpt, error) {
	if len(b) < SockOptSize {
		return nil, fmt.Errorf("rio: short sockopt payload (%d bytes)", len(b))
	}
	optlen := binary.LittleEndian.Uint32(b[8+MaxSockOptLen:])
	if optlen > MaxSockOptLen {
		return nil, fmt.Errorf("rio: bad optlen %d", optlen)
	}
	o := &SockOpt{
		Level:   int32(binary.LittleEndian.Uint32(b[0:])),
		OptName: int32(binary.LittleEndian.Uint32(b[4:])),
	}
	if optlen > 0 {
		o.OptVal = make([]byte, optlen)
		copy(o.OptVal, b[8:8+optlen])
	}
	return o, nil
}
