// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package netconfig

import (
	"fmt"
	"io/ioutil"
	"net"

	"golang.org/x/sys/unix"
	yaml "gopkg.in/yaml.v2"
)

// Config is the YAML configuration consumed by netmuxd.
type Config struct {
	// DNSServers seeds the resolver's server list.
	DNSServers []string `yaml:"dns_servers"`

	// Interfaces seeds per-interface overrides.
	Interfaces []IfConfig `yaml:"interfaces"`

	// SocketBuffer overrides the per-direction data-transport capacity
	// in bytes. Zero keeps the default.
	SocketBuffer int `yaml:"socket_buffer"`
}

// IfConfig is one interface entry in the configuration file.
type IfConfig struct {
	Name    string `yaml:"name"`
	Addr    string `yaml:"addr"`
	Netmask string `yaml:"netmask"`
	Gateway string `yaml:"gateway"`
	DHCP    bool   `yaml:"dhcp"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("netconfig: parsing %s: %v", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("netconfig: %s: %v", path, err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	for _, s := range c.DNSServers {
		if net.ParseIP(s) == nil {
			return fmt.Errorf("bad dns server %q", s)
		}
	}
	for _, ifc := range c.Interfaces {
		if ifc.Name == "" {
			return fmt.Errorf("interface entry with no name")
		}
		for _, field := range []string{ifc.Addr, ifc.Netmask, ifc.Gateway} {
			if field != "" && net.ParseIP(field) == nil {
				return fmt.Errorf("interface %q: bad address %q", ifc.Name, field)
			}
		}
	}
	if c.SocketBuffer < 0 {
		return fmt.Errorf("negative socket_buffer")
	}
	return nil
}

// NewStore builds a Store seeded from the configuration.
func (c *Config) NewStore() *Store {
	s := NewStore()
	// SetDNSServer prepends; walk backwards to keep file order.
	for i := len(c.DNSServers) - 1; i >= 0; i-- {
		if ip := net.ParseIP(c.DNSServers[i]); ip != nil {
			s.SetDNSServer(ip)
		}
	}
	for _, ifc := range c.Interfaces {
		if ifc.Addr != "" {
			s.SetIfAddr(ifc.Name, ipSockaddr(ifc.Addr), ipSockaddr(ifc.Netmask))
		}
		if ifc.Gateway != "" {
			s.SetGateway(ifc.Name, ipSockaddr(ifc.Gateway))
		}
		if ifc.DHCP {
			s.SetDHCPStatus(ifc.Name, true)
		}
	}
	return s
}

// ipSockaddr converts a textual IP to a port-zero sockaddr, or nil.
func ipSockaddr(s string) unix.Sockaddr {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := new(unix.SockaddrInet4)
		copy(sa.Addr[:], ip4)
		return sa
	}
	sa := new(unix.SockaddrInet6)
	copy(sa.Addr[:], ip.To16())
	return sa
}
