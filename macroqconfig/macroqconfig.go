// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package macroqconfig provides a mechanism to create a macro task
// queue from a shared configuration. Macroqconfig uses the
// configuration mechanism in package github.com/grailbio/base/config,
// and reads a default profile from $HOME/.macroq/config.
// Configurations may be provisioned using the macroq command.
package macroqconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/macroq/exec"
)

// Path determines the location of the macroq profile read by Parse.
var Path = os.ExpandEnv("$HOME/.macroq/config")

// Parse registers configuration flags, macroq flags, and calls
// flag.Parse. It reads macroq configuration from Path defined in this
// package. Parse returns a queue as configured by the configuration
// and any flags provided, together with a shutdown function to be
// called when the queue is discarded. Parse panics if queue creation
// fails.
func Parse() (queue *exec.Queue, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("macroq", &queue)
	return queue, queue.Shutdown
}
