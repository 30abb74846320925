// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/gob"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/exec"
	"github.com/grailbio/macroq/value"
	"gonum.org/v1/gonum/floats"
)

func init() {
	gob.Register(scaleTask{})
}

// scaleTask maps each field of its vector argument through an
// elementwise mask and a scale: out[i] = alpha * mask * f[i].
type scaleTask struct{ Gran int }

func (scaleTask) Signature() []value.Kind {
	return []value.Kind{value.KindField, value.KindScalar, value.KindVec}
}

func (t scaleTask) Partitioner() batch.Partitioner {
	return batch.Partitioner{Granularity: t.Gran}
}

func (scaleTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[2].ZeroLike(), nil
}

func (scaleTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	var (
		mask  = args[0].Field()
		alpha = args[1].Scalar()
		fs    = args[2].Vec()
		out   = make([]value.Field, len(fs))
	)
	for i, f := range fs {
		g := f.Clone()
		floats.Mul(g.Data, mask.Data)
		g.Scale(alpha)
		out[i] = g
	}
	return value.Vec(out...), nil
}

func scale(queue *exec.Queue, args []string) error {
	var (
		flags = flag.NewFlagSet("scale", flag.ExitOnError)
		n     = flags.Int("n", 100, "number of fields")
		size  = flags.Int("size", 1000, "coefficients per field")
		gran  = flags.Int("gran", 10, "fields per batch")
		alpha = flags.Float64("alpha", 2.5, "scale applied to each field")
		dump  = flags.Bool("print", false, "print the queue's records and timings")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: macrobench scale [-n N] [-size N] [-gran N] [-alpha F]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	var (
		ctx  = context.Background()
		mask = value.Single(demoField(*size, 0.5))
		vec  = demoVec(*n, *size, 1)
		task = scaleTask{Gran: *gran}
	)
	log.Printf("scale: %d fields of %d coefficients, granularity %d", *n, *size, *gran)
	h, err := exec.MacroTask{Task: task, Queue: queue}.Apply(ctx, mask, value.Scalar(*alpha), vec)
	if err != nil {
		return err
	}
	if err := queue.Run(ctx); err != nil {
		return err
	}
	got, err := h.Result(ctx)
	if err != nil {
		return err
	}
	ref, err := exec.MacroTask{Task: task}.Apply(ctx, mask, value.Scalar(*alpha), vec)
	if err != nil {
		return err
	}
	want, err := ref.Result(ctx)
	if err != nil {
		return err
	}
	if *dump {
		queue.WriteTasks(os.Stderr)
		queue.WriteTimings(os.Stderr)
	}
	return check("scale", got, want)
}
