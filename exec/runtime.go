// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/cloud"
	"github.com/grailbio/macroq/value"
)

// A Runtime provisions the subworlds on which a queue runs its
// records.
type Runtime interface {
	// Name returns a short name for the runtime.
	Name() string

	// Split provisions n subworlds for the provided queue. It is
	// called once, when the queue starts.
	Split(ctx context.Context, q *Queue, n int) ([]Subworld, error)

	// Shutdown releases any resources held by the runtime. No
	// subworld is used after Shutdown.
	Shutdown()
}

// A Subworld executes records one at a time. The queue's dispatch
// loop guarantees that a subworld runs at most one record at any
// moment; distinct subworlds run concurrently.
type Subworld interface {
	// Name returns the subworld's display name.
	Name() string

	// Run provisions the record's inputs, executes its batch, and
	// merges the partial result into the record's output. Run sets
	// the record's state to RecordRunning when execution begins; the
	// queue sets the terminal state when Run returns.
	Run(ctx context.Context, rec *Record) error
}

// A preloader is a subworld that can be provisioned with records
// ahead of dispatch. Subworlds sharing the queue's store need no
// preloading.
type preloader interface {
	preload(ctx context.Context, ids cloud.List) error
}

// A clearer is a subworld that caches records and can drop them, for
// example when the queue's store is cleared.
type clearer interface {
	clear(ctx context.Context) error
}

// A statsResetter is a store that can zero its traffic counters.
type statsResetter interface {
	ResetStats()
}

// evaluate loads the record's inputs from the provided store, slices
// them to the batch, and applies the task, returning the batch's
// partial result.
func evaluate(ctx context.Context, store cloud.Store, task macroq.Task, b batch.Batch, inputs cloud.List) (value.Value, error) {
	args, err := cloud.LoadTuple(ctx, store, inputs)
	if err != nil {
		return value.Value{}, err
	}
	sliced, err := b.SliceTuple(args)
	if err != nil {
		return value.Value{}, err
	}
	return runTask(ctx, task, sliced)
}

// runTask applies the task to the provided arguments, converting
// panics in user code into fatal errors.
func runTask(ctx context.Context, task macroq.Task, args value.Tuple) (v value.Value, err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Sprintf("task %s panicked: %v", macroq.Name(task), e))
		}
	}()
	return task.Run(ctx, args)
}
