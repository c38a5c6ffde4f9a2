// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"encoding/binary"
	"fmt"
)

// Bounds for getaddrinfo payloads.
const (
	MaxHostLen    = 256
	MaxServiceLen = 256

	gaiReqSize    = 4 + MaxHostLen + MaxServiceLen + 16
	gaiResultSize = 16 + 4 + SockaddrStorageSize
)

// GAIRequest is the payload of a GETADDRINFO request. Empty Node or
// Service mean the corresponding argument was null.
type GAIRequest struct {
	Node    string
	Service string

	// Hints; zero values mean unspecified.
	Flags    int32
	Family   int32
	SockType int32
	Protocol int32
}

// Encode renders the request payload.
func (r *GAIRequest) Encode() ([]byte, error) {
	if len(r.Node) >= MaxHostLen || len(r.Service) >= MaxServiceLen {
		return nil, fmt.Errorf("rio: getaddrinfo arguments too long (%d/%d)", len(r.Node), len(r.Service))
	}
	b := make([]byte, gaiReqSize)
	if r.Node == "" {
		b[0] = 1
	}
	if r.Service == "" {
		b[1] = 1
	}
	copy(b[4:], r.Node)
	copy(b[4+MaxHostLen:], r.Service)
	h := b[4+MaxHostLen+MaxServiceLen:]
	binary.LittleEndian.PutUint32(h[0:], uint32(r.Flags))
	binary.LittleEndian.PutUint32(h[4:], uint32(r.Family))
	binary.LittleEndian.PutUint32(h[8:], uint32(r.SockType))
	binary.LittleEndian.PutUint32(h[12:], uint32(r.Protocol))
	return b, nil
}

// DecodeGAIRequest parses a GETADDRINFO request payload.
func DecodeGAIRequest(b []byte) (*GAIRequest, error) {
	if len(b) < gaiReqSize {
		return nil, fmt.Errorf("rio: short getaddrinfo request (%d bytes)", len(b))
	}
	r := new(GAIRequest)
	if b[0] == 0 {
		r.Node = cstr(b[4 : 4+MaxHostLen])
	}
	if b[1] == 0 {
		r.Service = cstr(b[4+MaxHostLen : 4+MaxHostLen+MaxServiceLen])
	}
	h := b[4+MaxHostLen+MaxServiceLen:]
	r.Flags = int32(binary.LittleEndian.Uint32(h[0:]))
	r.Family = int32(binary.LittleEndian.Uint32(h[4:]))
	r.SockType = int32(binary.LittleEndian.Uint32(h[8:]))
	r.Protocol = int32(binary.LittleEndian.Uint32(h[12:]))
	return r, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// GAIResult is one resolved address in a GETADDRINFO reply.
type GAIResult struct {
	Flags    int32
	Family   int32
	SockType int32
	Protocol int32
	AddrLen  uint32
	Addr     []byte // wire-encoded sockaddr, SockaddrStorageSize bytes
}

// GAIReply is the payload of a GETADDRINFO reply. The result count
// (len(Results)) is carried on the wire so the result list can grow
// without a format change.
type GAIReply struct {
	Retval  int32
	Results []GAIResult
}

// Encode renders the reply payload.
func (r *GAIReply) Encode() ([]byte, error) {
	b := make([]byte, 8+len(r.Results)*gaiResultSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(r.Retval))
	binary.LittleEndian.PutUint32(b[4:], uint32(len(r.Results)))
	off := 8
	for _, res := range r.Results {
		if len(res.Addr) > SockaddrStorageSize {
			return nil, fmt.Errorf("rio: getaddrinfo address too large (%d)", len(res.Addr))
		}
		binary.LittleEndian.PutUint32(b[off+0:], uint32(res.Flags))
		binary.LittleEndian.PutUint32(b[off+4:], uint32(res.Family))
		binary.LittleEndian.PutUint32(b[off+8:], uint32(res.SockType))
		binary.LittleEndian.PutUint32(b[off+12:], uint32(res.Protocol))
		binary.LittleEndian.PutUint32(b[off+16:], res.AddrLen)
		copy(b[off+20:off+20+SockaddrStorageSize], res.Addr)
		off += gaiResultSize
	}
	return b, nil
}

// DecodeGAIReply parses a GETADDRINFO reply payload.
func DecodeGAIReply(b []byte) (*GAIReply, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("rio: short getaddrinfo reply (%d bytes)", len(b))
	}
	nres := binary.LittleEndian.Uint32(b[4:])
	if int(nres)*gaiResultSize != len(b)-8 {
		return nil, fmt.Errorf("rio: bad getaddrinfo reply (nres=%d, %d bytes)", nres, len(b))
	}
	r := &GAIReply{Retval: int32(binary.LittleEndian.Uint32(b[0:]))}
	off := 8
	for i := uint32(0); i < nres; i++ {
		res := GAIResult{
			Flags:    int32(binary.LittleEndian.Uint32(b[off+0:])),
			Family:   int32(binary.LittleEndian.Uint32(b[off+4:])),
			SockType: int32(binary.LittleEndian.Uint32(b[off+8:])),
			Protocol: int32(binary.LittleEndian.Uint32(b[off+12:])),
			AddrLen:  binary.LittleEndian.Uint32(b[off+16:]),
			Addr:     make([]byte, SockaddrStorageSize),
		}
		copy(res.Addr, b[off+20:off+20+SockaddrStorageSize])
		r.Results = append(r.Results, res)
		off += gaiResultSize
	}
	return r, nil
}
