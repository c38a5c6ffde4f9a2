// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/rio"
)

// Client drives a multiplexer from the consumer side of a request
// channel. It is the in-process analog of the C library's socket
// veneer and is used by tests and the self-check command.
type Client struct {
	ch      *ipc.Channel
	Timeout time.Duration
}

// NewClient wraps the client endpoint of a request channel.
func NewClient(ch *ipc.Channel) *Client {
	return &Client{ch: ch, Timeout: 10 * time.Second}
}

// Close closes the request channel.
func (c *Client) Close() {
	c.ch.Close()
}

// Conn is one logical socket: its request channel plus the data
// transport matching its type.
type Conn struct {
	rio     *ipc.Channel
	Stream  *ipc.Socket
	Dgram   *ipc.Channel
	timeout time.Duration
}

// Open sends an OPEN for path and returns the resulting connection.
func (c *Client) Open(path string) (rio.Status, *Conn, error) {
	return openOn(c.ch, path, c.Timeout)
}

// Accept opens "accept" against this (listening) connection.
func (co *Conn) Accept() (rio.Status, *Conn, error) {
	return openOn(co.rio, rio.DirAccept, co.timeout)
}

func openOn(ch *ipc.Channel, path string, timeout time.Duration) (rio.Status, *Conn, error) {
	replyLocal, replyRemote := ipc.NewChannelPair()
	msg := &rio.Msg{Op: rio.OpOpen, Data: []byte(path)}
	if err := ch.Write(msg.Encode(), replyRemote); err != nil {
		replyLocal.Close()
		return 0, nil, err
	}
	defer replyLocal.Close()

	obs, err := ipc.WaitOne(replyLocal, ipc.SignalReadable|ipc.SignalPeerClosed, timeout)
	if err != nil {
		return 0, nil, err
	}
	if obs&ipc.SignalReadable == 0 {
		return 0, nil, fmt.Errorf("netmux: open: reply channel closed")
	}
	buf := make([]byte, rio.HeaderSize+rio.ChunkSize)
	n, handles, err := replyLocal.Read(buf)
	if err != nil {
		return 0, nil, err
	}
	reply, err := rio.DecodeMsg(buf[:n], handles)
	if err != nil {
		return 0, nil, err
	}
	status := rio.Status(reply.Arg)
	if status != rio.StatusOK {
		closeHandles(reply.Handles)
		return status, nil, nil
	}
	if len(reply.Handles) < 1 {
		return 0, nil, fmt.Errorf("netmux: open: no handles in reply")
	}
	conn := &Conn{timeout: timeout}
	conn.rio, _ = reply.Handles[0].(*ipc.Channel)
	if conn.rio == nil {
		return 0, nil, fmt.Errorf("netmux: open: bad request handle")
	}
	if len(reply.Handles) > 1 {
		switch h := reply.Handles[1].(type) {
		case *ipc.Socket:
			conn.Stream = h
		case *ipc.Channel:
			conn.Dgram = h
		}
	}
	return status, conn, nil
}

// transact sends one request and waits for its STATUS reply.
func (co *Conn) transact(msg *rio.Msg) (*rio.Msg, error) {
	if err := co.rio.Write(msg.Encode(), msg.Handles...); err != nil {
		return nil, err
	}
	obs, err := ipc.WaitOne(co.rio, ipc.SignalReadable|ipc.SignalPeerClosed, co.timeout)
	if err != nil {
		return nil, err
	}
	if obs&ipc.SignalReadable == 0 {
		return nil, fmt.Errorf("netmux: request channel closed")
	}
	buf := make([]byte, rio.HeaderSize+rio.ChunkSize)
	n, handles, err := co.rio.Read(buf)
	if err != nil {
		return nil, err
	}
	reply, err := rio.DecodeMsg(buf[:n], handles)
	if err != nil {
		return nil, err
	}
	if reply.Op != rio.OpStatus {
		return nil, fmt.Errorf("netmux: unexpected reply op %s", reply.Op)
	}
	return reply, nil
}

// Connect issues CONNECT to addr.
func (co *Conn) Connect(sa unix.Sockaddr) (rio.Status, error) {
	data, _, err := rio.EncodeSockaddr(sa)
	if err != nil {
		return 0, err
	}
	reply, err := co.transact(&rio.Msg{Op: rio.OpConnect, Data: data})
	if err != nil {
		return 0, err
	}
	return rio.Status(reply.Arg), nil
}

// Bind issues BIND to addr.
func (co *Conn) Bind(sa unix.Sockaddr) (rio.Status, error) {
	data, _, err := rio.EncodeSockaddr(sa)
	if err != nil {
		return 0, err
	}
	reply, err := co.transact(&rio.Msg{Op: rio.OpBind, Data: data})
	if err != nil {
		return 0, err
	}
	return rio.Status(reply.Arg), nil
}

// Listen issues LISTEN with the given backlog.
func (co *Conn) Listen(backlog int) (rio.Status, error) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(backlog))
	reply, err := co.transact(&rio.Msg{Op: rio.OpListen, Data: data})
	if err != nil {
		return 0, err
	}
	return rio.Status(reply.Arg), nil
}

// GetSockName returns the socket's local address.
func (co *Conn) GetSockName() (unix.Sockaddr, rio.Status, error) {
	return co.sockName(rio.OpGetSockName)
}

// GetPeerName returns the socket's remote address.
func (co *Conn) GetPeerName() (unix.Sockaddr, rio.Status, error) {
	return co.sockName(rio.OpGetPeerName)
}

func (co *Conn) sockName(op rio.Op) (unix.Sockaddr, rio.Status, error) {
	reply, err := co.transact(&rio.Msg{Op: op})
	if err != nil {
		return nil, 0, err
	}
	if status := rio.Status(reply.Arg); status != rio.StatusOK {
		return nil, status, nil
	}
	r, err := rio.DecodeSockaddrReply(reply.Data)
	if err != nil {
		return nil, 0, err
	}
	return r.Addr, rio.StatusOK, nil
}

// GetSockOpt issues GETSOCKOPT and returns the option bytes.
func (co *Conn) GetSockOpt(level, name int32) ([]byte, rio.Status, error) {
	req := rio.SockOpt{Level: level, OptName: name}
	data, err := req.Encode()
	if err != nil {
		return nil, 0, err
	}
	reply, err := co.transact(&rio.Msg{Op: rio.OpGetSockOpt, Data: data})
	if err != nil {
		return nil, 0, err
	}
	if status := rio.Status(reply.Arg); status != rio.StatusOK {
		return nil, status, nil
	}
	opt, err := rio.DecodeSockOpt(reply.Data)
	if err != nil {
		return nil, 0, err
	}
	return opt.OptVal, rio.StatusOK, nil
}

// SoError reads getsockopt(SO_ERROR) as an errno value.
func (co *Conn) SoError() (unix.Errno, error) {
	val, status, err := co.GetSockOpt(unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, err
	}
	if status != rio.StatusOK {
		return 0, fmt.Errorf("netmux: getsockopt(SO_ERROR): %s", status)
	}
	if len(val) < 4 {
		return 0, fmt.Errorf("netmux: short SO_ERROR value")
	}
	return unix.Errno(binary.LittleEndian.Uint32(val)), nil
}

// SetSockOpt issues SETSOCKOPT.
func (co *Conn) SetSockOpt(level, name int32, val []byte) (rio.Status, error) {
	req := rio.SockOpt{Level: level, OptName: name, OptVal: val}
	data, err := req.Encode()
	if err != nil {
		return 0, err
	}
	reply, err := co.transact(&rio.Msg{Op: rio.OpSetSockOpt, Data: data})
	if err != nil {
		return 0, err
	}
	return rio.Status(reply.Arg), nil
}

// Ioctl issues a netconfig ioctl and returns the reply payload.
func (co *Conn) Ioctl(op uint32, data []byte) ([]byte, rio.Status, error) {
	reply, err := co.transact(&rio.Msg{Op: rio.OpIoctl, Arg2: op, Data: data})
	if err != nil {
		return nil, 0, err
	}
	return reply.Data, rio.Status(reply.Arg), nil
}

// GetAddrInfo issues GETADDRINFO.
func (co *Conn) GetAddrInfo(req *rio.GAIRequest) (*rio.GAIReply, rio.Status, error) {
	data, err := req.Encode()
	if err != nil {
		return nil, 0, err
	}
	reply, err := co.transact(&rio.Msg{Op: rio.OpGetAddrInfo, Data: data})
	if err != nil {
		return nil, 0, err
	}
	if status := rio.Status(reply.Arg); status != rio.StatusOK {
		return nil, status, nil
	}
	r, err := rio.DecodeGAIReply(reply.Data)
	if err != nil {
		return nil, 0, err
	}
	return r, rio.StatusOK, nil
}

// HalfClose asks the multiplexer to shut down the host socket's write
// side. No reply is sent.
func (co *Conn) HalfClose() error {
	msg := &rio.Msg{Op: rio.OpHalfClose}
	return co.rio.Write(msg.Encode())
}

// CloseWrite half-closes the stream data transport from the client
// side; the multiplexer drains in-flight bytes and then shuts down the
// host write side.
func (co *Conn) CloseWrite() error {
	if co.Stream == nil {
		return fmt.Errorf("netmux: not a stream socket")
	}
	return co.Stream.ShutdownWrite()
}

// Close sends CLOSE and drops every handle.
func (co *Conn) Close() error {
	msg := &rio.Msg{Op: rio.OpClose}
	err := co.rio.Write(msg.Encode())
	co.rio.Close()
	if co.Stream != nil {
		co.Stream.Close()
	}
	if co.Dgram != nil {
		co.Dgram.Close()
	}
	return err
}

// WaitSignals blocks until the data transport asserts any of sigs.
func (co *Conn) WaitSignals(sigs ipc.Signals) (ipc.Signals, error) {
	var h ipc.Handle
	switch {
	case co.Stream != nil:
		h = co.Stream
	case co.Dgram != nil:
		h = co.Dgram
	default:
		return 0, fmt.Errorf("netmux: no data transport")
	}
	return ipc.WaitOne(h, sigs, co.timeout)
}

// Write sends p on the stream transport, blocking on writability.
func (co *Conn) Write(p []byte) (int, error) {
	if co.Stream == nil {
		return 0, fmt.Errorf("netmux: not a stream socket")
	}
	written := 0
	for written < len(p) {
		n, err := co.Stream.Write(p[written:])
		switch err {
		case nil:
			written += n
		case ipc.ErrShouldWait:
			if _, err := ipc.WaitOne(co.Stream, ipc.SignalWritable|ipc.SignalPeerClosed, co.timeout); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

// Read receives from the stream transport, blocking until bytes arrive,
// the transport half-closes (returning 0, nil at EOF), or the peer
// closes.
func (co *Conn) Read(p []byte) (int, error) {
	if co.Stream == nil {
		return 0, fmt.Errorf("netmux: not a stream socket")
	}
	for {
		n, err := co.Stream.Read(p)
		switch err {
		case nil:
			return n, nil
		case ipc.ErrBadState:
			return 0, nil // EOF
		case ipc.ErrShouldWait:
			const sigs = ipc.SignalReadable | ipc.SignalPeerClosed | ipc.SignalHalfClosed
			if _, err := ipc.WaitOne(co.Stream, sigs, co.timeout); err != nil {
				return 0, err
			}
		default:
			return 0, err
		}
	}
}

// SendTo sends one framed datagram. A nil address uses the connected
// peer.
func (co *Conn) SendTo(p []byte, sa unix.Sockaddr) error {
	if co.Dgram == nil {
		return fmt.Errorf("netmux: not a datagram socket")
	}
	buf := make([]byte, rio.SocketMsgHeaderSize+len(p))
	if err := rio.PutSocketMsgHeader(buf, sa); err != nil {
		return err
	}
	copy(buf[rio.SocketMsgHeaderSize:], p)
	return co.Dgram.Write(buf)
}

// RecvFrom receives one framed datagram, blocking until one arrives.
func (co *Conn) RecvFrom() ([]byte, unix.Sockaddr, error) {
	if co.Dgram == nil {
		return nil, nil, fmt.Errorf("netmux: not a datagram socket")
	}
	buf := make([]byte, rio.SocketMsgHeaderSize+BufSize)
	for {
		n, _, err := co.Dgram.Read(buf)
		switch err {
		case nil:
			sa, payload, err := rio.ParseSocketMsg(buf[:n])
			if err != nil {
				return nil, nil, err
			}
			out := make([]byte, len(payload))
			copy(out, payload)
			return out, sa, nil
		case ipc.ErrShouldWait:
			if _, err := ipc.WaitOne(co.Dgram, ipc.SignalReadable|ipc.SignalPeerClosed, co.timeout); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, err
		}
	}
}
