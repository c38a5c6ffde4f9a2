// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package netmux

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/dns"
	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netconfig"
	"fuchsia.googlesource.com/netmux/netfd"
	"fuchsia.googlesource.com/netmux/rio"
)

// doIoctl marshals the netconfig operations through the store.
func doIoctl(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	msg := rq.msg
	op := msg.Arg2
	glog.V(1).Infof("ioctl: op=%#x datalen=%d", op, len(msg.Data))
	defer func() { msg.Arg2 = 0 }()

	switch op {
	case netconfig.IoctlGetIfInfo:
		infos, err := m.netcfg.Interfaces()
		if err != nil {
			glog.Errorf("ioctl: interfaces: %s", err)
			msg.Data = nil
			return rio.ErrIO
		}
		data, err := netconfig.EncodeIfInfoReply(infos)
		if err != nil {
			msg.Data = nil
			return rio.ErrInternal
		}
		msg.Data = data
		return rio.StatusOK

	case netconfig.IoctlSetIfAddr:
		name, addr, netmask, err := netconfig.DecodeSetIfAddr(msg.Data)
		msg.Data = nil
		if err != nil {
			return rio.ErrInvalidArgs
		}
		m.netcfg.SetIfAddr(name, addr, netmask)
		return rio.StatusOK

	case netconfig.IoctlGetIfGateway:
		name, err := netconfig.DecodeIfName(msg.Data)
		msg.Data = nil
		if err != nil {
			return rio.ErrInvalidArgs
		}
		gw, err := m.netcfg.Gateway(name)
		if err != nil {
			return rio.ErrInvalidArgs
		}
		b, _, err := rio.EncodeSockaddr(gw)
		if err != nil {
			return rio.ErrInternal
		}
		msg.Data = b
		return rio.StatusOK

	case netconfig.IoctlSetIfGateway:
		name, gw, err := netconfig.DecodeSetIfGateway(msg.Data)
		msg.Data = nil
		if err != nil {
			return rio.ErrInvalidArgs
		}
		m.netcfg.SetGateway(name, gw)
		return rio.StatusOK

	case netconfig.IoctlGetDHCPStatus:
		name, err := netconfig.DecodeIfName(msg.Data)
		msg.Data = nil
		if err != nil {
			return rio.ErrInvalidArgs
		}
		b := make([]byte, 4)
		if m.netcfg.DHCPStatus(name) {
			binary.LittleEndian.PutUint32(b, 1)
		}
		msg.Data = b
		return rio.StatusOK

	case netconfig.IoctlSetDHCPStatus:
		name, enabled, err := netconfig.DecodeSetDHCPStatus(msg.Data)
		msg.Data = nil
		if err != nil {
			return rio.ErrInvalidArgs
		}
		m.netcfg.SetDHCPStatus(name, enabled)
		return rio.StatusOK

	case netconfig.IoctlGetDNSServer:
		msg.Data = nil
		servers := m.netcfg.DNSServers()
		if len(servers) == 0 {
			return rio.ErrInvalidArgs
		}
		b, _, err := rio.EncodeSockaddr(ipToSockaddr(servers[0]))
		if err != nil {
			return rio.ErrInternal
		}
		msg.Data = b
		return rio.StatusOK

	case netconfig.IoctlSetDNSServer:
		sa, err := rio.DecodeSockaddr(msg.Data)
		msg.Data = nil
		if err != nil || sa == nil {
			return rio.ErrInvalidArgs
		}
		m.netcfg.SetDNSServer(sockaddrIP(sa))
		return rio.StatusOK
	}

	glog.Errorf("ioctl: unknown op %#x", op)
	msg.Data = nil
	return rio.ErrInvalidArgs
}

func ipToSockaddr(ip net.IP) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := new(unix.SockaddrInet4)
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := new(unix.SockaddrInet6)
	copy(sa.Addr[:], ip.To16())
	return sa
}

func sockaddrIP(sa unix.Sockaddr) net.IP {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(sa.Addr[:])
	case *unix.SockaddrInet6:
		return net.IP(sa.Addr[:])
	}
	return nil
}

// AI_PASSIVE per netdb.h; the unix package has no netdb constants.
const aiPassive = 0x1

const gaiLookupTimeout = 5 * time.Second

// EAI_NONAME; reported in the reply's retval on lookup failure.
const gaiErrNoName = -2

// doGetAddrInfo resolves node/service through the configured resolver.
// Only the first matching result is returned; the reply format carries
// a count so this can grow later.
func doGetAddrInfo(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	msg := rq.msg
	req, err := rio.DecodeGAIRequest(msg.Data)
	msg.Data = nil
	if err != nil {
		glog.V(1).Infof("getaddrinfo: %s", err)
		return rio.ErrInvalidArgs
	}
	if req.Node == "" && req.Service == "" {
		return rio.ErrInvalidArgs
	}
	glog.V(1).Infof("getaddrinfo: node=%q service=%q family=%d", req.Node, req.Service, req.Family)

	ctx, cancel := context.WithTimeout(context.Background(), gaiLookupTimeout)
	defer cancel()

	port, err := dnsLookupPort(ctx, req)
	if err != nil {
		glog.V(1).Infof("getaddrinfo: port %q: %s", req.Service, err)
		return replyGAI(msg, &rio.GAIReply{Retval: gaiErrNoName})
	}

	var ips []net.IP
	if req.Node == "" {
		if req.Flags&aiPassive != 0 {
			ips = []net.IP{net.IPv4zero}
		} else {
			ips = []net.IP{net.IPv4(127, 0, 0, 1)}
		}
	} else {
		ips, err = m.resolver.LookupIP(ctx, req.Node)
		if err != nil {
			glog.V(1).Infof("getaddrinfo: lookup %q: %s", req.Node, err)
			return replyGAI(msg, &rio.GAIReply{Retval: gaiErrNoName})
		}
	}

	for _, ip := range ips {
		sa, family := gaiSockaddr(ip, port, req.Family)
		if sa == nil {
			continue
		}
		addr, addrlen, err := rio.EncodeSockaddr(sa)
		if err != nil {
			continue
		}
		sockType := req.SockType
		if sockType == 0 {
			sockType = unix.SOCK_STREAM
		}
		return replyGAI(msg, &rio.GAIReply{
			Results: []rio.GAIResult{{
				Flags:    req.Flags,
				Family:   family,
				SockType: sockType,
				Protocol: req.Protocol,
				AddrLen:  uint32(addrlen),
				Addr:     addr,
			}},
		})
	}
	return replyGAI(msg, &rio.GAIReply{Retval: gaiErrNoName})
}

func dnsLookupPort(ctx context.Context, req *rio.GAIRequest) (int, error) {
	network := "tcp"
	if req.SockType == unix.SOCK_DGRAM {
		network = "udp"
	}
	return dns.LookupPort(ctx, network, req.Service)
}

// gaiSockaddr converts ip/port to a sockaddr of the requested family,
// or nil if the families are incompatible.
func gaiSockaddr(ip net.IP, port int, family int32) (unix.Sockaddr, int32) {
	if ip4 := ip.To4(); ip4 != nil {
		if family != unix.AF_UNSPEC && family != unix.AF_INET {
			return nil, 0
		}
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}
	if family != unix.AF_UNSPEC && family != unix.AF_INET6 {
		return nil, 0
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6
}

func replyGAI(msg *rio.Msg, reply *rio.GAIReply) rio.Status {
	b, err := reply.Encode()
	if err != nil {
		return rio.ErrInternal
	}
	msg.Data = b
	msg.Arg2 = 0
	return rio.StatusOK
}

func doGetSockName(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	return replySockName(rq, netfd.Getsockname)
}

func doGetPeerName(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	return replySockName(rq, netfd.Getpeername)
}

func replySockName(rq *request, get func(int) (unix.Sockaddr, error)) rio.Status {
	ios := rq.ios
	msg := rq.msg
	msg.Data = nil
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	sa, err := get(ios.sockfd)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	if err != nil {
		return rio.StatusFromErrno(errno)
	}
	reply := rio.SockaddrReply{Addr: sa}
	b, err := reply.Encode()
	if err != nil {
		return rio.ErrInternal
	}
	msg.Data = b
	msg.Arg2 = 0
	return rio.StatusOK
}

// doGetSockOpt passes options through to the host, except SO_ERROR
// which reports the recorded per-socket errno.
func doGetSockOpt(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	msg := rq.msg
	opt, err := rio.DecodeSockOpt(msg.Data)
	msg.Data = nil
	if err != nil {
		return rio.ErrInvalidArgs
	}
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	if opt.Level == unix.SOL_SOCKET && opt.OptName == unix.SO_ERROR {
		val := make([]byte, 4)
		binary.LittleEndian.PutUint32(val, uint32(ios.lastErrno))
		opt.OptVal = val
	} else {
		buf := make([]byte, rio.MaxSockOptLen)
		n, err := netfd.GetsockoptRaw(ios.sockfd, int(opt.Level), int(opt.OptName), buf)
		errno := netfd.Errno(err)
		ios.lastErrno = errno
		glog.V(1).Infof("net_getsockopt(%d, %d) => %d bytes (errno=%d)", opt.Level, opt.OptName, n, errno)
		if err != nil {
			return rio.StatusFromErrno(errno)
		}
		opt.OptVal = buf[:n]
	}
	b, err := opt.Encode()
	if err != nil {
		return rio.ErrInternal
	}
	msg.Data = b
	msg.Arg2 = 0
	return rio.StatusOK
}

func doSetSockOpt(m *Mux, rq *request, events netEvents, signals ipc.Signals) rio.Status {
	ios := rq.ios
	msg := rq.msg
	opt, err := rio.DecodeSockOpt(msg.Data)
	msg.Data = nil
	if err != nil {
		return rio.ErrInvalidArgs
	}
	if ios == nil || ios.sockfd < 0 {
		return rio.ErrBadHandle
	}
	if len(opt.OptVal) == 0 {
		return rio.ErrInvalidArgs
	}
	err = netfd.SetsockoptRaw(ios.sockfd, int(opt.Level), int(opt.OptName), opt.OptVal)
	errno := netfd.Errno(err)
	ios.lastErrno = errno
	glog.V(1).Infof("net_setsockopt(%d, %d) => errno=%d", opt.Level, opt.OptName, errno)
	if err != nil {
		return rio.StatusFromErrno(errno)
	}
	msg.Arg2 = 0
	return rio.StatusOK
}
