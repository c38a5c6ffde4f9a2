// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// +build linux

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"fuchsia.googlesource.com/netmux/netconfig"
)

// CheckConfigCommand validates a configuration file and prints a
// summary.
type CheckConfigCommand struct{}

func (*CheckConfigCommand) Name() string { return "check-config" }

func (*CheckConfigCommand) Usage() string {
	return `
netmuxd check-config <config file>
`
}

func (*CheckConfigCommand) Synopsis() string {
	return "validates a netmuxd configuration file"
}

func (*CheckConfigCommand) SetFlags(f *flag.FlagSet) {}

func (*CheckConfigCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println("expected exactly one config file")
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)
	cfg, err := netconfig.LoadConfig(path)
	if err != nil {
		fmt.Printf("%s: %s\n", path, err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: ok (%d dns servers, %d interfaces)\n", path, len(cfg.DNSServers), len(cfg.Interfaces))
	return subcommands.ExitSuccess
}
