// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package netconfig implements the network-configuration surface
// reached through the IOCTL operation: interface enumeration, interface
// address and gateway assignment, DHCP status and DNS server selection,
// plus the fixed wire layouts those ioctls use.
package netconfig

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/rio"
)

// Wire-format bounds.
const (
	IfNameSize = 16
	IfInfoMax  = 8
	HWAddrSize = 8

	// IfInfoSize is one encoded interface record.
	IfInfoSize = IfNameSize + 3*rio.SockaddrStorageSize + 4 + 2 + 2 + HWAddrSize

	// IfInfoReplySize is the full GET_IF_INFO reply: count plus a
	// fixed-size record table.
	IfInfoReplySize = 4 + IfInfoMax*IfInfoSize

	// SetIfAddrSize is the SET_IF_ADDR request payload.
	SetIfAddrSize = IfNameSize + 2*rio.SockaddrStorageSize

	// SetIfGatewaySize is the SET_IF_GATEWAY request payload.
	SetIfGatewaySize = IfNameSize + rio.SockaddrStorageSize

	// SetDHCPStatusSize is the SET_DHCP_STATUS request payload.
	SetDHCPStatusSize = IfNameSize + 4
)

// Interface flag bits reported by GET_IF_INFO.
const (
	IffUp uint32 = 1 << iota
	IffLoopback
	IffMulticast
)

func ioctlNum(kind, family, number uint32) uint32 {
	return ((kind & 0xF) << 20) | ((family & 0xFF) << 8) | (number & 0xFF)
}

const (
	ioctlKindDefault     = 0x0
	ioctlFamilyNetconfig = 0x26
)

// Ioctl opcodes carried in the envelope's Arg2.
var (
	IoctlGetIfInfo     = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 1)
	IoctlSetIfAddr     = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 2)
	IoctlGetIfGateway  = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 3)
	IoctlSetIfGateway  = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 4)
	IoctlGetDHCPStatus = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 5)
	IoctlSetDHCPStatus = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 6)
	IoctlGetDNSServer  = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 7)
	IoctlSetDNSServer  = ioctlNum(ioctlKindDefault, ioctlFamilyNetconfig, 8)
)

// IfInfo describes one network interface.
type IfInfo struct {
	Name      string
	Addr      unix.Sockaddr
	Netmask   unix.Sockaddr
	Broadaddr unix.Sockaddr
	Flags     uint32
	Index     uint16
	HWAddr    []byte
}

func putName(b []byte, name string) {
	if len(name) >= IfNameSize {
		name = name[:IfNameSize-1]
	}
	copy(b, name)
	for i := len(name); i < IfNameSize; i++ {
		b[i] = 0
	}
}

func getName(b []byte) string {
	for i := 0; i < IfNameSize; i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b[:IfNameSize-1])
}

// marshal encodes one interface record into b[:IfInfoSize].
func (info *IfInfo) marshal(b []byte) error {
	putName(b, info.Name)
	off := IfNameSize
	for _, sa := range []unix.Sockaddr{info.Addr, info.Netmask, info.Broadaddr} {
		if _, err := rio.PutSockaddr(b[off:], sa); err != nil {
			return err
		}
		off += rio.SockaddrStorageSize
	}
	binary.LittleEndian.PutUint32(b[off:], info.Flags)
	binary.LittleEndian.PutUint16(b[off+4:], info.Index)
	hw := info.HWAddr
	if len(hw) > HWAddrSize {
		hw = hw[:HWAddrSize]
	}
	binary.LittleEndian.PutUint16(b[off+6:], uint16(len(hw)))
	copy(b[off+8:off+8+HWAddrSize], hw)
	return nil
}

// unmarshal decodes one interface record from b[:IfInfoSize].
func (info *IfInfo) unmarshal(b []byte) error {
	if len(b) < IfInfoSize {
		return fmt.Errorf("netconfig: short if-info record (%d bytes)", len(b))
	}
	info.Name = getName(b)
	off := IfNameSize
	for _, dst := range []*unix.Sockaddr{&info.Addr, &info.Netmask, &info.Broadaddr} {
		sa, err := rio.DecodeSockaddr(b[off : off+rio.SockaddrStorageSize])
		if err != nil {
			return err
		}
		*dst = sa
		off += rio.SockaddrStorageSize
	}
	info.Flags = binary.LittleEndian.Uint32(b[off:])
	info.Index = binary.LittleEndian.Uint16(b[off+4:])
	hwlen := binary.LittleEndian.Uint16(b[off+6:])
	if hwlen > HWAddrSize {
		return fmt.Errorf("netconfig: bad hwaddr length %d", hwlen)
	}
	if hwlen > 0 {
		info.HWAddr = make([]byte, hwlen)
		copy(info.HWAddr, b[off+8:])
	} else {
		info.HWAddr = nil
	}
	return nil
}

// EncodeIfInfoReply renders the GET_IF_INFO reply for up to IfInfoMax
// interfaces.
func EncodeIfInfoReply(infos []IfInfo) ([]byte, error) {
	if len(infos) > IfInfoMax {
		infos = infos[:IfInfoMax]
	}
	b := make([]byte, IfInfoReplySize)
	binary.LittleEndian.PutUint32(b[0:], uint32(len(infos)))
	for i := range infos {
		if err := infos[i].marshal(b[4+i*IfInfoSize:]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// DecodeIfInfoReply parses a GET_IF_INFO reply.
func DecodeIfInfoReply(b []byte) ([]IfInfo, error) {
	if len(b) < IfInfoReplySize {
		return nil, fmt.Errorf("netconfig: short if-info reply (%d bytes)", len(b))
	}
	n := binary.LittleEndian.Uint32(b[0:])
	if n > IfInfoMax {
		return nil, fmt.Errorf("netconfig: bad interface count %d", n)
	}
	infos := make([]IfInfo, n)
	for i := range infos {
		if err := infos[i].unmarshal(b[4+i*IfInfoSize:]); err != nil {
			return nil, err
		}
	}
	return infos, nil
}

// EncodeSetIfAddr renders a SET_IF_ADDR request payload.
func EncodeSetIfAddr(name string, addr, netmask unix.Sockaddr) ([]byte, error) {
	b := make([]byte, SetIfAddrSize)
	putName(b, name)
	if _, err := rio.PutSockaddr(b[IfNameSize:], addr); err != nil {
		return nil, err
	}
	if _, err := rio.PutSockaddr(b[IfNameSize+rio.SockaddrStorageSize:], netmask); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeSetIfAddr parses a SET_IF_ADDR request payload.
func DecodeSetIfAddr(b []byte) (name string, addr, netmask unix.Sockaddr, err error) {
	if len(b) < SetIfAddrSize {
		return "", nil, nil, fmt.Errorf("netconfig: short set-if-addr payload (%d bytes)", len(b))
	}
	name = getName(b)
	if addr, err = rio.DecodeSockaddr(b[IfNameSize : IfNameSize+rio.SockaddrStorageSize]); err != nil {
		return "", nil, nil, err
	}
	if netmask, err = rio.DecodeSockaddr(b[IfNameSize+rio.SockaddrStorageSize:]); err != nil {
		return "", nil, nil, err
	}
	return name, addr, netmask, nil
}

// EncodeSetIfGateway renders a SET_IF_GATEWAY request payload.
func EncodeSetIfGateway(name string, gateway unix.Sockaddr) ([]byte, error) {
	b := make([]byte, SetIfGatewaySize)
	putName(b, name)
	if _, err := rio.PutSockaddr(b[IfNameSize:], gateway); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeSetIfGateway parses a SET_IF_GATEWAY request payload.
func DecodeSetIfGateway(b []byte) (string, unix.Sockaddr, error) {
	if len(b) < SetIfGatewaySize {
		return "", nil, fmt.Errorf("netconfig: short set-if-gateway payload (%d bytes)", len(b))
	}
	sa, err := rio.DecodeSockaddr(b[IfNameSize:])
	if err != nil {
		return "", nil, err
	}
	return getName(b), sa, nil
}

// EncodeIfName renders the name-only request payload used by
// GET_IF_GATEWAY and GET_DHCP_STATUS.
func EncodeIfName(name string) []byte {
	b := make([]byte, IfNameSize)
	putName(b, name)
	return b
}

// DecodeIfName parses a name-only request payload.
func DecodeIfName(b []byte) (string, error) {
	if len(b) < IfNameSize {
		return "", fmt.Errorf("netconfig: short ifname payload (%d bytes)", len(b))
	}
	return getName(b), nil
}

// EncodeSetDHCPStatus renders a SET_DHCP_STATUS request payload.
func EncodeSetDHCPStatus(name string, enabled bool) []byte {
	b := make([]byte, SetDHCPStatusSize)
	putName(b, name)
	if enabled {
		binary.LittleEndian.PutUint32(b[IfNameSize:], 1)
	}
	return b
}

// DecodeSetDHCPStatus parses a SET_DHCP_STATUS request payload.
func DecodeSetDHCPStatus(b []byte) (string, bool, error) {
	if len(b) < SetDHCPStatusSize {
		return "", false, fmt.Errorf("netconfig: short set-dhcp payload (%d bytes)", len(b))
	}
	return getName(b), binary.LittleEndian.Uint32(b[IfNameSize:]) != 0, nil
}
