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
	gob.Register(innerTask{})
}

// innerTask reduces a vector of fields to a single field: the mask
// scaled by alpha times the summed squared norms of the argument
// fields. Each batch contributes the partial sum over its fields.
type innerTask struct{ Gran int }

func (innerTask) Signature() []value.Kind {
	return []value.Kind{value.KindField, value.KindScalar, value.KindVec}
}

func (t innerTask) Partitioner() batch.Partitioner {
	return batch.Partitioner{Granularity: t.Gran}
}

func (innerTask) Allocate(args value.Tuple) (value.Value, error) {
	return value.Single(value.Constant(args[0].Field().Len(), 0)), nil
}

func (innerTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	var (
		mask  = args[0].Field()
		alpha = args[1].Scalar()
		dot   float64
	)
	for _, f := range args[2].Vec() {
		dot += floats.Dot(f.Data, f.Data)
	}
	g := mask.Clone()
	g.Scale(alpha * dot)
	return value.Single(g), nil
}

func inner(queue *exec.Queue, args []string) error {
	var (
		flags = flag.NewFlagSet("inner", flag.ExitOnError)
		n     = flags.Int("n", 200, "number of fields")
		size  = flags.Int("size", 1000, "coefficients per field")
		gran  = flags.Int("gran", 10, "fields per batch")
		alpha = flags.Float64("alpha", 0.25, "scale applied to the reduction")
		dump  = flags.Bool("print", false, "print the queue's records and timings")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: macrobench inner [-n N] [-size N] [-gran N] [-alpha F]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	var (
		ctx  = context.Background()
		mask = value.Single(demoField(*size, 2))
		vec  = demoVec(*n, *size, 3)
		task = innerTask{Gran: *gran}
	)
	log.Printf("inner: %d fields of %d coefficients, granularity %d", *n, *size, *gran)
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
	return check("inner", got, want)
}
