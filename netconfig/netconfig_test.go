// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netconfig

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sys/unix"
)

var sockaddrCmp = cmpopts.IgnoreUnexported(unix.SockaddrInet4{}, unix.SockaddrInet6{})

func TestIfInfoReplyRoundTrip(t *testing.T) {
	infos := []IfInfo{
		{
			Name:      "eth0",
			Addr:      &unix.SockaddrInet4{Addr: [4]byte{192, 168, 1, 5}},
			Netmask:   &unix.SockaddrInet4{Addr: [4]byte{255, 255, 255, 0}},
			Broadaddr: &unix.SockaddrInet4{Addr: [4]byte{192, 168, 1, 255}},
			Flags:     IffUp | IffMulticast,
			Index:     2,
			HWAddr:    []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01},
		},
		{Name: "lo", Flags: IffUp | IffLoopback, Index: 1},
	}
	b, err := EncodeIfInfoReply(infos)
	if err != nil {
		t.Fatalf("EncodeIfInfoReply: %s", err)
	}
	if len(b) != IfInfoReplySize {
		t.Errorf("reply size = %d, want %d", len(b), IfInfoReplySize)
	}
	got, err := DecodeIfInfoReply(b)
	if err != nil {
		t.Fatalf("DecodeIfInfoReply: %s", err)
	}
	if diff := cmp.Diff(infos, got, sockaddrCmp); diff != "" {
		t.Errorf("interfaces mismatch (-want +got):\n%s", diff)
	}
}

func TestIfNameTruncation(t *testing.T) {
	long := "averyveryverylongname0"
	b := EncodeIfName(long)
	name, err := DecodeIfName(b)
	if err != nil {
		t.Fatalf("DecodeIfName: %s", err)
	}
	if len(name) >= IfNameSize {
		t.Errorf("name %q not truncated", name)
	}
	if want := long[:IfNameSize-1]; name != want {
		t.Errorf("name = %q, want %q", name, want)
	}
}

func TestStoreOverridesHostAddrs(t *testing.T) {
	s := NewStore()
	s.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Index: 2, Name: "eth0", Flags: net.FlagUp},
		}, nil
	}
	s.ifAddrs = func(iface *net.Interface) ([]net.Addr, error) {
		return []net.Addr{&net.IPNet{
			IP:   net.IPv4(10, 0, 0, 7),
			Mask: net.CIDRMask(24, 32),
		}}, nil
	}

	infos, err := s.Interfaces()
	if err != nil {
		t.Fatalf("Interfaces: %s", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(infos))
	}
	want := &unix.SockaddrInet4{Addr: [4]byte{10, 0, 0, 7}}
	if diff := cmp.Diff(want, infos[1].Addr, sockaddrCmp); diff != "" {
		t.Errorf("eth0 addr (-want +got):\n%s", diff)
	}
	wantBcast := &unix.SockaddrInet4{Addr: [4]byte{10, 0, 0, 255}}
	if diff := cmp.Diff(wantBcast, infos[1].Broadaddr, sockaddrCmp); diff != "" {
		t.Errorf("eth0 broadaddr (-want +got):\n%s", diff)
	}

	// A SET_IF_ADDR override wins over the host address.
	s.SetIfAddr("eth0",
		&unix.SockaddrInet4{Addr: [4]byte{172, 16, 0, 1}},
		&unix.SockaddrInet4{Addr: [4]byte{255, 255, 0, 0}})
	infos, err = s.Interfaces()
	if err != nil {
		t.Fatalf("Interfaces: %s", err)
	}
	wantOv := &unix.SockaddrInet4{Addr: [4]byte{172, 16, 0, 1}}
	if diff := cmp.Diff(wantOv, infos[1].Addr, sockaddrCmp); diff != "" {
		t.Errorf("override addr (-want +got):\n%s", diff)
	}
}

func TestStoreGatewayAndDHCP(t *testing.T) {
	s := NewStore()
	if _, err := s.Gateway("eth0"); err == nil {
		t.Error("Gateway on empty store succeeded")
	}
	gw := &unix.SockaddrInet4{Addr: [4]byte{10, 0, 0, 1}}
	s.SetGateway("eth0", gw)
	got, err := s.Gateway("eth0")
	if err != nil {
		t.Fatalf("Gateway: %s", err)
	}
	if diff := cmp.Diff(unix.Sockaddr(gw), got, sockaddrCmp); diff != "" {
		t.Errorf("gateway (-want +got):\n%s", diff)
	}

	if s.DHCPStatus("eth0") {
		t.Error("DHCP enabled by default")
	}
	s.SetDHCPStatus("eth0", true)
	if !s.DHCPStatus("eth0") {
		t.Error("DHCP not enabled after set")
	}
}

func TestStoreDNSServerOrdering(t *testing.T) {
	s := NewStore()
	s.SetDNSServer(net.IPv4(8, 8, 8, 8))
	s.SetDNSServer(net.IPv4(1, 1, 1, 1))
	got := s.DNSServers()
	if len(got) != 2 || !got[0].Equal(net.IPv4(1, 1, 1, 1)) {
		t.Errorf("servers = %v, want most recent first", got)
	}
	// Re-setting an existing server moves it to the front, no duplicate.
	s.SetDNSServer(net.IPv4(8, 8, 8, 8))
	got = s.DNSServers()
	if len(got) != 2 || !got[0].Equal(net.IPv4(8, 8, 8, 8)) {
		t.Errorf("servers = %v, want deduplicated with 8.8.8.8 first", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "netconfig")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "netmux.yaml")
	const doc = `
dns_servers:
  - 8.8.8.8
  - 2001:4860:4860::8888
interfaces:
  - name: eth0
    addr: 192.168.1.5
    netmask: 255.255.255.0
    gateway: 192.168.1.1
    dhcp: true
socket_buffer: 65536
`
	if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %s", err)
	}
	if c.SocketBuffer != 65536 {
		t.Errorf("SocketBuffer = %d, want 65536", c.SocketBuffer)
	}

	s := c.NewStore()
	servers := s.DNSServers()
	if len(servers) != 2 || !servers[0].Equal(net.IPv4(8, 8, 8, 8)) {
		t.Errorf("servers = %v, want file order", servers)
	}
	if !s.DHCPStatus("eth0") {
		t.Error("eth0 DHCP not seeded")
	}
	if _, err := s.Gateway("eth0"); err != nil {
		t.Errorf("eth0 gateway not seeded: %s", err)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	dir, err := ioutil.TempDir("", "netconfig")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for name, doc := range map[string]string{
		"bad-ip":        "dns_servers: [not-an-ip]",
		"unnamed-iface": "interfaces: [{addr: 10.0.0.1}]",
		"unknown-field": "dns_serverz: [8.8.8.8]",
	} {
		path := filepath.Join(dir, name+".yaml")
		if err := ioutil.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: LoadConfig succeeded, want error", name)
		}
	}
}
