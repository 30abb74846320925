// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Macrobench is a binary used to test and stress the macro task
// queue. It's distributed as a separate binary as it may launch
// external clusters, and may run for a long time.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/macroq/macroqconfig"
	"github.com/grailbio/macroq/value"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: macrobench [-wait] benchmark args...

Macrobench runs macro task workloads against the queue configured by
the macroq profile, and verifies their outputs against immediate
execution.

Available benchmarks are:

	scale
		Map a vector of fields through a mask and scale.
	inner
		Reduce a vector of fields to a single field.
	pairs
		Run a two-dimensional workload over pairs of fields.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}

	wait := flag.Bool("wait", false, "don't exit after completion")
	queue, shutdown := macroqconfig.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	default:
		fmt.Fprintf(os.Stderr, "unknown benchmark %s\n", cmd)
		flag.Usage()
	case "scale":
		err = scale(queue, args)
	case "inner":
		err = inner(queue, args)
	case "pairs":
		err = pairs(queue, args)
	}
	shutdown()
	if *wait {
		if err != nil {
			log.Printf("finished with error %v: waiting", err)
		} else {
			log.Print("done: waiting")
		}
		<-make(chan struct{})
	}
	must.Nil(err, cmd)
}

func demoField(size int, seed float64) value.Field {
	f := value.Field{Data: make([]float64, size)}
	for j := range f.Data {
		f.Data[j] = math.Sin(seed + float64(j))
	}
	return f
}

func demoVec(n, size int, seed float64) value.Value {
	fields := make([]value.Field, n)
	for i := range fields {
		fields[i] = demoField(size, seed+float64(i))
	}
	return value.Vec(fields...)
}

// check compares a queue result against its immediate reference.
func check(name string, got, want value.Value) error {
	if !value.EqualApprox(got, want, 1e-9) {
		return fmt.Errorf("%s: deferred and immediate results diverge", name)
	}
	log.Printf("%s: ok", name)
	return nil
}
