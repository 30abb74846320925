// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"
	"github.com/grailbio/macroq/macroqconfig"
)

func profileUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: macroq profile

Command profile prints the macroq profile together with the defaults
of every registered parameter. The profile is read from `, macroqconfig.Path, `
if that file exists.
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func profileCmd(args []string) {
	flags := flag.NewFlagSet("macroq profile", flag.ExitOnError)
	flags.Usage = func() { profileUsage(flags) }
	flags.Parse(args)
	if flags.NArg() != 0 {
		flags.Usage()
	}
	profile := config.New()
	f, err := os.Open(macroqconfig.Path)
	if err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}
	must.Nil(profile.PrintTo(os.Stdout))
}
