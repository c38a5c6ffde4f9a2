// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package dns

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

// serveOnce answers every query on pc with the records in answers,
// keyed by query type.
func serveOnce(t *testing.T, pc net.PacketConn, answers map[dnsmessage.Type][]net.IP) {
	t.Helper()
	buf := make([]byte, 512)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		var p dnsmessage.Parser
		hdr, err := p.Start(buf[:n])
		if err != nil {
			t.Errorf("server: bad query: %s", err)
			return
		}
		q, err := p.Question()
		if err != nil {
			t.Errorf("server: no question: %s", err)
			return
		}
		b := dnsmessage.NewBuilder(nil, dnsmessage.Header{
			ID:                 hdr.ID,
			Response:           true,
			RecursionDesired:   true,
			RecursionAvailable: true,
		})
		b.EnableCompression()
		b.StartQuestions()
		b.Question(q)
		b.StartAnswers()
		for _, ip := range answers[q.Type] {
			hdr := dnsmessage.ResourceHeader{Name: q.Name, Type: q.Type, Class: dnsmessage.ClassINET, TTL: 60}
			switch q.Type {
			case dnsmessage.TypeA:
				var r dnsmessage.AResource
				copy(r.A[:], ip.To4())
				b.AResource(hdr, r)
			case dnsmessage.TypeAAAA:
				var r dnsmessage.AAAAResource
				copy(r.AAAA[:], ip.To16())
				b.AAAAResource(hdr, r)
			}
		}
		reply, err := b.Finish()
		if err != nil {
			t.Errorf("server: building reply: %s", err)
			return
		}
		pc.WriteTo(reply, addr)
	}
}

func newTestClient(t *testing.T, answers map[dnsmessage.Type][]net.IP) (*Client, func()) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go serveOnce(t, pc, answers)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	c := NewClient(func() []net.IP { return []net.IP{net.IPv4(127, 0, 0, 1)} })
	c.port = port
	return c, func() { pc.Close() }
}

func TestLookupIPQueriesConfiguredServer(t *testing.T) {
	want4 := net.IPv4(93, 184, 216, 34).To4()
	want6 := net.ParseIP("2606:2800:220:1::1")
	c, cleanup := newTestClient(t, map[dnsmessage.Type][]net.IP{
		dnsmessage.TypeA:    {want4},
		dnsmessage.TypeAAAA: {want6},
	})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ips, err := c.LookupIP(ctx, "example.com")
	if err != nil {
		t.Fatalf("LookupIP: %s", err)
	}
	if len(ips) != 2 {
		t.Fatalf("got %d addresses %v, want 2", len(ips), ips)
	}
	if !ips[0].Equal(want4) || !ips[1].Equal(want6) {
		t.Errorf("addresses = %v, want [%v %v]", ips, want4, want6)
	}
}

func TestLookupIPLiteral(t *testing.T) {
	c := NewClient(nil)
	ips, err := c.LookupIP(context.Background(), "10.1.2.3")
	if err != nil {
		t.Fatalf("LookupIP: %s", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.IPv4(10, 1, 2, 3)) {
		t.Errorf("addresses = %v, want [10.1.2.3]", ips)
	}
}

func TestLookupIPEmptyAnswer(t *testing.T) {
	c, cleanup := newTestClient(t, nil)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.LookupIP(ctx, "nosuchname.invalid"); err == nil {
		t.Error("LookupIP with no answers succeeded")
	}
}
