// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netconfig

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// Store holds the mutable network-configuration state the SET ioctls
// operate on: interface address overrides, per-interface gateways and
// DHCP flags, and the DNS server list. Interface enumeration reads the
// host and applies the overrides on top.
type Store struct {
	mu sync.Mutex

	addrs    map[string]addrOverride
	gateways map[string]unix.Sockaddr
	dhcp     map[string]bool
	dns      []net.IP

	// interfaces enumerates the host; replaced in tests.
	interfaces func() ([]net.Interface, error)
	ifAddrs    func(*net.Interface) ([]net.Addr, error)
}

type addrOverride struct {
	addr    unix.Sockaddr
	netmask unix.Sockaddr
}

// NewStore returns an empty store backed by the host interface table.
func NewStore() *Store {
	return &Store{
		addrs:      make(map[string]addrOverride),
		gateways:   make(map[string]unix.Sockaddr),
		dhcp:       make(map[string]bool),
		interfaces: net.Interfaces,
		ifAddrs:    (*net.Interface).Addrs,
	}
}

// Interfaces enumerates host interfaces with overrides applied, at most
// IfInfoMax entries.
func (s *Store) Interfaces() ([]IfInfo, error) {
	ifaces, err := s.interfaces()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []IfInfo
	for i := range ifaces {
		if len(infos) == IfInfoMax {
			break
		}
		iface := &ifaces[i]
		info := IfInfo{
			Name:   iface.Name,
			Index:  uint16(iface.Index),
			HWAddr: iface.HardwareAddr,
		}
		if iface.Flags&net.FlagUp != 0 {
			info.Flags |= IffUp
		}
		if iface.Flags&net.FlagLoopback != 0 {
			info.Flags |= IffLoopback
		}
		if iface.Flags&net.FlagMulticast != 0 {
			info.Flags |= IffMulticast
		}
		if ov, ok := s.addrs[iface.Name]; ok {
			info.Addr = ov.addr
			info.Netmask = ov.netmask
		} else if addrs, err := s.ifAddrs(iface); err == nil {
			info.Addr, info.Netmask, info.Broadaddr = firstV4(addrs)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// firstV4 picks the first IPv4 network from addrs and derives its
// netmask and broadcast address.
func firstV4(addrs []net.Addr) (addr, netmask, broadaddr unix.Sockaddr) {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		m := ipnet.Mask
		if len(m) == net.IPv6len {
			m = m[12:]
		}
		var sa, mask, bcast unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		copy(mask.Addr[:], m)
		for i := range bcast.Addr {
			bcast.Addr[i] = ip4[i] | ^m[i]
		}
		return &sa, &mask, &bcast
	}
	return nil, nil, nil
}

// SetIfAddr records an address/netmask override for name.
func (s *Store) SetIfAddr(name string, addr, netmask unix.Sockaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addrs[name] = addrOverride{addr: addr, netmask: netmask}
}

// Gateway returns the recorded gateway for name.
func (s *Store) Gateway(name string) (unix.Sockaddr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa, ok := s.gateways[name]
	if !ok {
		return nil, fmt.Errorf("netconfig: no gateway for %q", name)
	}
	return sa, nil
}

// SetGateway records the gateway for name.
func (s *Store) SetGateway(name string, gw unix.Sockaddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateways[name] = gw
}

// DHCPStatus reports whether DHCP is enabled on name.
func (s *Store) DHCPStatus(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dhcp[name]
}

// SetDHCPStatus records the DHCP flag for name.
func (s *Store) SetDHCPStatus(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dhcp[name] = enabled
}

// DNSServers returns the configured DNS servers, preferred first.
func (s *Store) DNSServers() []net.IP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.IP, len(s.dns))
	copy(out, s.dns)
	return out
}

// SetDNSServer moves ip to the front of the server list, inserting it
// if new.
func (s *Store) SetDNSServer(ip net.IP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	servers := []net.IP{ip}
	for _, old := range s.dns {
		if !old.Equal(ip) {
			servers = append(servers, old)
		}
	}
	s.dns = servers
}
