// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sys/unix"
)

// sockaddrCmp makes unix sockaddr types comparable; their cached raw
// forms are irrelevant here.
var sockaddrCmp = cmpopts.IgnoreUnexported(unix.SockaddrInet4{}, unix.SockaddrInet6{})

func TestParseSocketArgs(t *testing.T) {
	for _, tc := range []struct {
		path    string
		domain  int
		typ     int
		proto   int
		wantErr bool
	}{
		{path: "2/1/0", domain: 2, typ: 1, proto: 0},
		{path: "10/2/17", domain: 10, typ: 2, proto: 17},
		{path: "2/1/0/", wantErr: true},
		{path: "2/1", wantErr: true},
		{path: "2//0", wantErr: true},
		{path: "a/1/0", wantErr: true},
		{path: "2/1/0x11", wantErr: true},
		{path: "2/1/ 0", wantErr: true},
		{path: "", wantErr: true},
		// Partially numeric fields must not parse as their prefix.
		{path: "2abc/1/0", wantErr: true},
	} {
		domain, typ, proto, err := ParseSocketArgs(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSocketArgs(%q) succeeded, want error", tc.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSocketArgs(%q): %s", tc.path, err)
			continue
		}
		if domain != tc.domain || typ != tc.typ || proto != tc.proto {
			t.Errorf("ParseSocketArgs(%q) = %d/%d/%d, want %d/%d/%d",
				tc.path, domain, typ, proto, tc.domain, tc.typ, tc.proto)
		}
	}
}

func TestMatchSubdir(t *testing.T) {
	for _, tc := range []struct {
		path, dir string
		rest      string
		ok        bool
	}{
		{path: "socket/2/1/0", dir: "socket", rest: "2/1/0", ok: true},
		{path: "socket", dir: "socket", rest: "", ok: true},
		{path: "sockets/2", dir: "socket", ok: false},
		{path: "none", dir: "none", rest: "", ok: true},
		{path: "accept", dir: "accept", rest: "", ok: true},
		{path: "sock", dir: "socket", ok: false},
	} {
		rest, ok := MatchSubdir(tc.path, tc.dir)
		if ok != tc.ok || rest != tc.rest {
			t.Errorf("MatchSubdir(%q, %q) = %q, %t; want %q, %t",
				tc.path, tc.dir, rest, ok, tc.rest, tc.ok)
		}
	}
}

func TestMsgEncodeDecode(t *testing.T) {
	m := &Msg{Op: OpConnect, Arg: -5, Arg2: 42, Data: []byte("payload")}
	got, err := DecodeMsg(m.Encode(), nil)
	if err != nil {
		t.Fatalf("DecodeMsg: %s", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMsgRejectsBadSizes(t *testing.T) {
	if _, err := DecodeMsg(make([]byte, HeaderSize-1), nil); err == nil {
		t.Error("short header accepted")
	}
	m := &Msg{Op: OpWrite, Data: []byte("abc")}
	b := m.Encode()
	// Corrupt datalen so it disagrees with the payload.
	b[12] = 0xff
	if _, err := DecodeMsg(b, nil); err == nil {
		t.Error("inconsistent datalen accepted")
	}
}

func TestSockaddrRoundTrip(t *testing.T) {
	for _, sa := range []unix.Sockaddr{
		&unix.SockaddrInet4{Port: 8080, Addr: [4]byte{127, 0, 0, 1}},
		&unix.SockaddrInet6{Port: 53, ZoneId: 3, Addr: [16]byte{0: 0xfe, 1: 0x80, 15: 1}},
	} {
		b, n, err := EncodeSockaddr(sa)
		if err != nil {
			t.Fatalf("EncodeSockaddr(%T): %s", sa, err)
		}
		if n == 0 || n > SockaddrStorageSize {
			t.Errorf("addrlen = %d out of range", n)
		}
		got, err := DecodeSockaddr(b)
		if err != nil {
			t.Fatalf("DecodeSockaddr: %s", err)
		}
		if diff := cmp.Diff(sa, got, sockaddrCmp); diff != "" {
			t.Errorf("sockaddr mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestSocketMsgFraming(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 9999, Addr: [4]byte{10, 0, 0, 2}}
	b := make([]byte, SocketMsgHeaderSize+5)
	if err := PutSocketMsgHeader(b, sa); err != nil {
		t.Fatalf("PutSocketMsgHeader: %s", err)
	}
	copy(b[SocketMsgHeaderSize:], "hello")

	gotSA, payload, err := ParseSocketMsg(b)
	if err != nil {
		t.Fatalf("ParseSocketMsg: %s", err)
	}
	if diff := cmp.Diff(sa, gotSA, sockaddrCmp); diff != "" {
		t.Errorf("address mismatch (-want +got):\n%s", diff)
	}
	if string(payload) != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}

	// Anonymous frame: addrlen zero decodes to a nil address.
	if err := PutSocketMsgHeader(b, nil); err != nil {
		t.Fatalf("PutSocketMsgHeader(nil): %s", err)
	}
	gotSA, _, err = ParseSocketMsg(b)
	if err != nil {
		t.Fatalf("ParseSocketMsg: %s", err)
	}
	if gotSA != nil {
		t.Errorf("anonymous frame decoded to %v", gotSA)
	}

	if _, _, err := ParseSocketMsg(b[:SocketMsgHeaderSize-1]); err == nil {
		t.Error("short frame accepted")
	}
}

func TestStatusFromErrno(t *testing.T) {
	for _, tc := range []struct {
		errno unix.Errno
		want  Status
	}{
		{0, StatusOK},
		{unix.EACCES, ErrAccessDenied},
		{unix.EBADF, ErrBadHandle},
		{unix.EINPROGRESS, ErrShouldWait},
		{unix.EAGAIN, ErrShouldWait},
		{unix.EINVAL, ErrInvalidArgs},
		{unix.ENOMEM, ErrNoMemory},
		{unix.ENOBUFS, ErrNoResources},
		{unix.ECONNREFUSED, ErrIO},
	} {
		if got := StatusFromErrno(tc.errno); got != tc.want {
			t.Errorf("StatusFromErrno(%d) = %s, want %s", tc.errno, got, tc.want)
		}
	}
}

func TestGAIReplySingleResultRoundTrip(t *testing.T) {
	addr, n, err := EncodeSockaddr(&unix.SockaddrInet4{Port: 80, Addr: [4]byte{93, 184, 216, 34}})
	if err != nil {
		t.Fatalf("EncodeSockaddr: %s", err)
	}
	reply := &GAIReply{
		Results: []GAIResult{{
			Family:   unix.AF_INET,
			SockType: unix.SOCK_STREAM,
			AddrLen:  uint32(n),
			Addr:     addr,
		}},
	}
	b, err := reply.Encode()
	if err != nil {
		t.Fatalf("Encode: %s", err)
	}
	got, err := DecodeGAIReply(b)
	if err != nil {
		t.Fatalf("DecodeGAIReply: %s", err)
	}
	if diff := cmp.Diff(reply, got); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}
