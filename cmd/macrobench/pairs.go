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
	gob.Register(pairTask{})
}

// pairTask runs the two-dimensional pattern: each row field is scaled
// by alpha times the inner product of the column fields in the batch.
// Row ranges coincide across column blocks, so the output rows sum the
// contributions of every block of columns.
type pairTask struct{ Gran int }

func (pairTask) Signature() []value.Kind {
	return []value.Kind{value.KindVec, value.KindScalar, value.KindVec}
}

func (t pairTask) Partitioner() batch.Partitioner {
	return batch.Partitioner{Granularity: t.Gran, Dimension: 2}
}

func (pairTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (pairTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	var (
		rows  = args[0].Vec()
		alpha = args[1].Scalar()
		dot   float64
	)
	for _, c := range args[2].Vec() {
		dot += floats.Dot(c.Data, c.Data)
	}
	out := make([]value.Field, len(rows))
	for i, r := range rows {
		g := r.Clone()
		g.Scale(alpha * dot)
		out[i] = g
	}
	return value.Vec(out...), nil
}

func pairs(queue *exec.Queue, args []string) error {
	var (
		flags = flag.NewFlagSet("pairs", flag.ExitOnError)
		nrow  = flags.Int("nrow", 40, "number of row fields")
		ncol  = flags.Int("ncol", 60, "number of column fields")
		size  = flags.Int("size", 500, "coefficients per field")
		gran  = flags.Int("gran", 10, "fields per batch, per dimension")
		alpha = flags.Float64("alpha", 1.5, "scale applied to each block")
		dump  = flags.Bool("print", false, "print the queue's records and timings")
	)
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, `usage: macrobench pairs [-nrow N] [-ncol N] [-size N] [-gran N] [-alpha F]`)
		flags.PrintDefaults()
		os.Exit(2)
	}
	if err := flags.Parse(args); err != nil {
		log.Fatal(err)
	}

	var (
		ctx  = context.Background()
		rows = demoVec(*nrow, *size, 5)
		cols = demoVec(*ncol, *size, 7)
		task = pairTask{Gran: *gran}
	)
	log.Printf("pairs: %dx%d fields of %d coefficients, granularity %d", *nrow, *ncol, *size, *gran)
	h, err := exec.MacroTask{Task: task, Queue: queue}.Apply(ctx, rows, value.Scalar(*alpha), cols)
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
	ref, err := exec.MacroTask{Task: task}.Apply(ctx, rows, value.Scalar(*alpha), cols)
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
	return check("pairs", got, want)
}
