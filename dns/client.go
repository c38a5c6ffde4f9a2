// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package dns resolves host names for the multiplexer's GETADDRINFO
// operation. When DNS servers have been configured it queries them
// directly over UDP; otherwise it falls back to the system resolver.
package dns

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/dns/dnsmessage"
)

const (
	dnsPort      = 53
	queryTimeout = 3 * time.Second
	maxAnswer    = 512
)

// Client answers lookups against a dynamic server list.
type Client struct {
	// Servers returns the servers to query, preferred first. A nil
	// function or empty result routes lookups to the system resolver.
	Servers func() []net.IP

	// dial and port are replaced in tests.
	dial func(ctx context.Context, network, address string) (net.Conn, error)
	port int
}

// NewClient returns a Client drawing servers from the given function.
func NewClient(servers func() []net.IP) *Client {
	var d net.Dialer
	return &Client{Servers: servers, dial: d.DialContext, port: dnsPort}
}

// LookupIP resolves host to IP addresses. Literal addresses resolve to
// themselves without a query.
func (c *Client) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	var servers []net.IP
	if c.Servers != nil {
		servers = c.Servers()
	}
	if len(servers) == 0 {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, len(addrs))
		for i, a := range addrs {
			ips[i] = a.IP
		}
		return ips, nil
	}

	var lastErr error
	for _, server := range servers {
		ips, err := c.query(ctx, server, host)
		if err != nil {
			glog.V(1).Infof("dns: query %s via %s failed: %s", host, server, err)
			lastErr = err
			continue
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dns: no addresses for %s", host)
	}
	return nil, lastErr
}

// query asks one server for A then AAAA records.
func (c *Client) query(ctx context.Context, server net.IP, host string) ([]net.IP, error) {
	name, err := dnsmessage.NewName(dnsFQDN(host))
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, qtype := range []dnsmessage.Type{dnsmessage.TypeA, dnsmessage.TypeAAAA} {
		answer, err := c.exchange(ctx, server, name, qtype)
		if err != nil {
			return nil, err
		}
		ips = append(ips, answer...)
	}
	return ips, nil
}

func (c *Client) exchange(ctx context.Context, server net.IP, name dnsmessage.Name, qtype dnsmessage.Type) ([]net.IP, error) {
	id := uint16(time.Now().UnixNano())
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{ID: id, RecursionDesired: true})
	b.EnableCompression()
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(dnsmessage.Question{Name: name, Type: qtype, Class: dnsmessage.ClassINET}); err != nil {
		return nil, err
	}
	query, err := b.Finish()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	conn, err := c.dial(ctx, "udp", net.JoinHostPort(server.String(), fmt.Sprintf("%d", c.port)))
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(query); err != nil {
		return nil, err
	}
	reply := make([]byte, maxAnswer)
	n, err := conn.Read(reply)
	if err != nil {
		return nil, err
	}
	return parseAnswer(reply[:n], id, qtype)
}

func parseAnswer(reply []byte, id uint16, qtype dnsmessage.Type) ([]net.IP, error) {
	var p dnsmessage.Parser
	hdr, err := p.Start(reply)
	if err != nil {
		return nil, err
	}
	if hdr.ID != id {
		return nil, fmt.Errorf("dns: reply id %d does not match query id %d", hdr.ID, id)
	}
	if hdr.RCode != dnsmessage.RCodeSuccess {
		return nil, fmt.Errorf("dns: server returned %s", hdr.RCode)
	}
	if err := p.SkipAllQuestions(); err != nil {
		return nil, err
	}
	var ips []net.IP
	for {
		h, err := p.AnswerHeader()
		if err == dnsmessage.ErrSectionDone {
			break
		}
		if err != nil {
			return nil, err
		}
		if h.Type != qtype {
			if err := p.SkipAnswer(); err != nil {
				return nil, err
			}
			continue
		}
		switch h.Type {
		case dnsmessage.TypeA:
			r, err := p.AResource()
			if err != nil {
				return nil, err
			}
			ips = append(ips, net.IP(r.A[:]))
		case dnsmessage.TypeAAAA:
			r, err := p.AAAAResource()
			if err != nil {
				return nil, err
			}
			ips = append(ips, net.IP(r.AAAA[:]))
		default:
			if err := p.SkipAnswer(); err != nil {
				return nil, err
			}
		}
	}
	return ips, nil
}

// dnsFQDN appends the trailing dot dnsmessage names require.
func dnsFQDN(host string) string {
	if len(host) == 0 || host[len(host)-1] != '.' {
		return host + "."
	}
	return host
}

// LookupPort resolves a service name or decimal string to a port.
func LookupPort(ctx context.Context, network, service string) (int, error) {
	if service == "" {
		return 0, nil
	}
	return net.DefaultResolver.LookupPort(ctx, network, service)
}
