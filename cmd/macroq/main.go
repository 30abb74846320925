// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Macroq is a tool for managing macroq cluster configuration.

Usage:

	macroq <command> [arguments]

The commands are:

	setup-ec2   configure EC2 for use with macroq
	profile     print the macroq profile
`)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("macroq: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "setup-ec2":
		setupEc2Cmd(args)
	case "profile":
		profileCmd(args)
	}
}
