// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package batch implements index ranges and batches, by which a macro
// task over vector arguments is split into smaller tasks over slices
// of those arguments. A batch addresses a slice of each vector input
// together with the slice of the output collection into which the
// batch's partial result is merged. Batches are produced by a
// Partitioner.
package batch

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq/value"
)

// A Range addresses the positions [Begin, End) of a vector, taken
// with stride Step. The end -1 stands for the length of whatever
// vector the range is applied to, so that the zero of End never
// addresses an empty prefix by accident.
type Range struct {
	Begin, End, Step int
}

// All returns the range covering any vector in its entirety.
func All() Range {
	return Range{0, -1, 1}
}

// Interval returns the contiguous range [begin, end).
func Interval(begin, end int) Range {
	return Range{begin, end, 1}
}

// IsAll tells whether the range is the whole-vector range.
func (r Range) IsAll() bool {
	return r.Begin == 0 && r.End == -1 && r.Step == 1
}

// Resolve returns the range with its end resolved against a vector
// of length n.
func (r Range) Resolve(n int) Range {
	if r.End == -1 {
		r.End = n
	}
	return r
}

// Len returns the number of positions addressed by the resolved
// range.
func (r Range) Len() int {
	if r.Step <= 0 || r.End < r.Begin {
		return 0
	}
	return (r.End - r.Begin + r.Step - 1) / r.Step
}

// String returns a compact description of the range.
func (r Range) String() string {
	if r.IsAll() {
		return "[:]"
	}
	if r.Step == 1 {
		return fmt.Sprintf("[%d:%d)", r.Begin, r.End)
	}
	return fmt.Sprintf("[%d:%d:%d)", r.Begin, r.End, r.Step)
}

func (r Range) check(n int) error {
	if r.Step < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("range %s: invalid step", r))
	}
	if r.Begin < 0 || r.End < r.Begin || r.End > n {
		return errors.E(errors.Invalid, fmt.Sprintf("range %s: out of bounds [0,%d)", r, n))
	}
	return nil
}

// A Batch addresses one task's share of a macro task's arguments: one
// range per vector argument, in tuple order, plus the range of the
// output collection into which the task's partial result is merged.
// Scalar and field arguments are not batched and pass to every task
// whole.
//
// The batches produced by a single partitioning tile the argument
// index space disjointly. Output ranges of distinct batches may
// coincide (the rectangular blocks of a 2-D partition share row
// ranges); partial results merge by accumulation, so coinciding
// output ranges sum.
type Batch struct {
	Inputs []Range
	Output Range
}

// Whole returns the batch that passes all arguments unsliced and
// merges results whole. It is the batch of a task that was not
// partitioned.
func Whole(nvec int) Batch {
	in := make([]Range, nvec)
	for i := range in {
		in[i] = All()
	}
	return Batch{Inputs: in, Output: All()}
}

// String returns a compact description of the batch.
func (b Batch) String() string {
	ins := make([]string, len(b.Inputs))
	for i, r := range b.Inputs {
		ins[i] = r.String()
	}
	return fmt.Sprintf("in(%s) out%s", strings.Join(ins, ","), b.Output)
}

// SliceTuple returns the tuple holding the batch's share of the
// provided arguments: each vector argument is sliced by its input
// range; other arguments pass through. The returned vector values
// share field storage with args.
func (b Batch) SliceTuple(args value.Tuple) (value.Tuple, error) {
	vecs := args.Vecs()
	if len(b.Inputs) != len(vecs) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("batch %s: %d input ranges for %d vector arguments", b, len(b.Inputs), len(vecs)))
	}
	sliced := make(value.Tuple, len(args))
	copy(sliced, args)
	for i, idx := range vecs {
		v := args[idx]
		r := b.Inputs[i].Resolve(v.Len())
		if err := r.check(v.Len()); err != nil {
			return nil, err
		}
		sliced[idx] = v.Slice(r.Begin, r.End, r.Step)
	}
	return sliced, nil
}

// AccumulateResult merges a task's partial result into the whole
// output value. Vec partials are added into the elements addressed by
// the batch's output range; scalar and field partials are merged into
// the whole output.
func (b Batch) AccumulateResult(output *value.Value, partial value.Value) error {
	if partial.Kind() != value.KindVec || output.Kind() != value.KindVec {
		return output.Accumulate(partial)
	}
	r := b.Output.Resolve(output.Len())
	if err := r.check(output.Len()); err != nil {
		return err
	}
	return output.AccumulateSlice(r.Begin, r.End, r.Step, partial)
}
