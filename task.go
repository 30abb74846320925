// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package macroq

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/value"
)

// A Task is a user-defined macro operation over a tuple of values.
// Tasks declare the kinds of their arguments and how to allocate
// their output; the scheduler uses these declarations to check
// submissions, partition vector arguments into batches, and merge the
// batches' partial results. Task implementations must be safe for
// concurrent Run invocations, and deterministic: the scheduler
// assumes that rerunning a task cannot change its result.
//
// Tasks that are run on remote subworlds are gob-encoded, so remote
// task types must be registered with gob and carry their parameters
// in exported fields.
type Task interface {
	// Signature returns the kinds of the task's arguments, in order.
	Signature() []value.Kind

	// Allocate returns the zero value into which the task's partial
	// results are merged, shaped for the provided arguments. A task
	// producing one field per vector element allocates a vec of the
	// argument's length; a task reducing to a single field or scalar
	// allocates that.
	Allocate(args value.Tuple) (value.Value, error)

	// Run computes the task over a batch of its arguments. Vector
	// arguments hold only the batch's share of their elements; other
	// arguments arrive whole.
	Run(ctx context.Context, args value.Tuple) (value.Value, error)
}

// Partitioned is implemented by tasks that configure how their vector
// arguments are split into batches. Tasks without a partitioner are
// split one-dimensionally at the default granularity.
type Partitioned interface {
	Partitioner() batch.Partitioner
}

// Named is implemented by tasks that provide their own display name.
type Named interface {
	TaskName() string
}

// Prioritized is implemented by tasks that schedule ahead of or
// behind their peers. Higher priorities dispatch first; tasks of
// equal priority dispatch in submission order. The default priority
// is 0.
type Prioritized interface {
	Priority() int
}

// Name returns the task's display name.
func Name(task Task) string {
	if named, ok := task.(Named); ok {
		return named.TaskName()
	}
	return fmt.Sprintf("%T", task)
}

// PartitionerOf returns the task's partitioner, or the zero
// partitioner if the task does not configure one.
func PartitionerOf(task Task) batch.Partitioner {
	if p, ok := task.(Partitioned); ok {
		return p.Partitioner()
	}
	return batch.Partitioner{}
}

// PriorityOf returns the task's scheduling priority.
func PriorityOf(task Task) int {
	if p, ok := task.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// Validate checks the provided arguments against the task's declared
// signature. Mismatches are invalid errors, reported before anything
// is stored or scheduled.
func Validate(task Task, args value.Tuple) error {
	kinds := task.Signature()
	if len(args) != len(kinds) {
		return errors.E(errors.Invalid,
			fmt.Sprintf("%s: %d arguments for a signature of %d", Name(task), len(args), len(kinds)))
	}
	for i := range kinds {
		if args[i].Kind() != kinds[i] {
			return errors.E(errors.Invalid,
				fmt.Sprintf("%s: argument %d is %s, not %s", Name(task), i, args[i].Kind(), kinds[i]))
		}
	}
	return nil
}
