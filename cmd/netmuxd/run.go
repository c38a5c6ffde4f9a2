// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"fuchsia.googlesource.com/netmux/ipc"
	"fuchsia.googlesource.com/netmux/netconfig"
	"fuchsia.googlesource.com/netmux/netmux"
	"fuchsia.googlesource.com/netmux/rio"
)

// RunCommand starts the multiplexer and serves until interrupted.
type RunCommand struct {
	// configFile is the path to the YAML configuration; optional.
	configFile string

	// selfCheck runs a loopback echo through the dispatcher at startup.
	selfCheck bool
}

func (*RunCommand) Name() string { return "run" }

func (*RunCommand) Usage() string {
	return `
netmuxd run [flags...]

flags:
`
}

func (*RunCommand) Synopsis() string {
	return "runs the socket multiplexer"
}

func (r *RunCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configFile, "config", "", "path to a YAML configuration file")
	f.BoolVar(&r.selfCheck, "selfcheck", false, "run a loopback echo through the dispatcher before serving")
}

func (r *RunCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	opts := netmux.Options{}
	if r.configFile != "" {
		cfg, err := netconfig.LoadConfig(r.configFile)
		if err != nil {
			glog.Errorf("loading config: %s", err)
			return subcommands.ExitFailure
		}
		opts.Store = cfg.NewStore()
		opts.SocketBufferSize = cfg.SocketBuffer
	}

	m, err := netmux.New(opts)
	if err != nil {
		glog.Errorf("creating multiplexer: %s", err)
		return subcommands.ExitFailure
	}
	root := m.NewRequestChannel()

	runErr := make(chan error, 1)
	go func() { runErr <- m.Run() }()

	if r.selfCheck {
		if err := runSelfCheck(netmux.NewClient(root)); err != nil {
			glog.Errorf("self-check: %s", err)
			m.Stop()
			m.Close()
			return subcommands.ExitFailure
		}
		glog.Info("self-check passed")
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		glog.Infof("received %s, shutting down", sig)
		m.Stop()
		m.Close()
		return subcommands.ExitSuccess
	case err := <-runErr:
		glog.Errorf("dispatcher: %s", err)
		m.Close()
		return subcommands.ExitFailure
	}
}

// echoPayload is the self-check probe.
const echoPayload = "netmuxd self-check"

func runSelfCheck(c *netmux.Client) error {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(echoPayload))
		for total := 0; total < len(buf); {
			n, err := conn.Read(buf[total:])
			if err != nil {
				return
			}
			total += n
		}
		conn.Write(buf)
	}()

	status, conn, err := c.Open(fmt.Sprintf("socket/%d/%d/0", unix.AF_INET, unix.SOCK_STREAM))
	if err != nil || status != 0 {
		return fmt.Errorf("open: status=%d err=%v", status, err)
	}
	defer conn.Close()

	addr := l.Addr().(*net.TCPAddr)
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To4())
	if status, err := conn.Connect(sa); err != nil {
		return err
	} else if status != 0 && status != rio.ErrShouldWait {
		return fmt.Errorf("connect: %s", status)
	}
	if _, err := conn.WaitSignals(ipc.SignalConnected | ipc.SignalOutgoing); err != nil {
		return fmt.Errorf("waiting for connect: %v", err)
	}
	if errno, err := conn.SoError(); err != nil {
		return err
	} else if errno != 0 {
		return fmt.Errorf("connect failed: %s", errno)
	}
	if _, err := conn.Write([]byte(echoPayload)); err != nil {
		return err
	}
	got := make([]byte, len(echoPayload))
	for total := 0; total < len(got); {
		n, err := conn.Read(got[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("unexpected EOF after %d bytes", total)
		}
		total += n
	}
	if string(got) != echoPayload {
		return fmt.Errorf("echo mismatch: %q", got)
	}
	return nil
}
