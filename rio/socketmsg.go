// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rio

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// SocketMsgHeaderSize is the fixed framing header preceding each
// datagram payload on a DGRAM data channel: addrlen plus the address
// storage.
const SocketMsgHeaderSize = 4 + SockaddrStorageSize

// PutSocketMsgHeader writes the datagram framing header for sa into
// b[:SocketMsgHeaderSize]. A nil sa encodes addrlen zero.
func PutSocketMsgHeader(b []byte, sa unix.Sockaddr) error {
	if len(b) < SocketMsgHeaderSize {
		return fmt.Errorf("rio: socket msg buffer too small (%d)", len(b))
	}
	n, err := PutSockaddr(b[4:], sa)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[0:], uint32(n))
	return nil
}

// ParseSocketMsg splits one framed datagram into its source/target
// address (nil when addrlen is zero) and payload.
func ParseSocketMsg(b []byte) (unix.Sockaddr, []byte, error) {
	if len(b) < SocketMsgHeaderSize {
		return nil, nil, fmt.Errorf("rio: short socket msg (%d bytes)", len(b))
	}
	addrlen := binary.LittleEndian.Uint32(b[0:])
	if addrlen > SockaddrStorageSize {
		return nil, nil, fmt.Errorf("rio: bad addrlen %d", addrlen)
	}
	var sa unix.Sockaddr
	if addrlen != 0 {
		var err error
		sa, err = DecodeSockaddr(b[4 : 4+addrlen])
		if err != nil {
			return nil, nil, err
		}
	}
	return sa, b[SocketMsgHeaderSize:], nil
}
