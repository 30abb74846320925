// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/cloud"
	"github.com/grailbio/macroq/value"
)

// A MacroTask binds a task to a queue. Apply partitions the task's
// arguments into batches and arranges for them to run. If the queue
// is nil, batches are executed immediately in the calling goroutine;
// otherwise they are queued for dispatch by the next Run. The output
// is the same either way.
type MacroTask struct {
	// Task is the task to apply.
	Task macroq.Task
	// Queue is the queue on which applications run. A nil queue
	// selects immediate execution.
	Queue *Queue
}

// Apply applies the macro task to the provided arguments and returns
// a handle naming the output. Argument and partitioning errors are
// reported synchronously.
func (m MacroTask) Apply(ctx context.Context, args ...value.Value) (*Handle, error) {
	tuple := value.Tuple(args)
	if m.Queue != nil {
		return m.Queue.Submit(ctx, m.Task, tuple)
	}
	if err := macroq.Validate(m.Task, tuple); err != nil {
		return nil, err
	}
	batches, err := macroq.PartitionerOf(m.Task).Partition(tuple)
	if err != nil {
		return nil, err
	}
	out, err := m.Task.Allocate(tuple)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		sliced, err := b.SliceTuple(tuple)
		if err != nil {
			return nil, err
		}
		partial, err := runTask(ctx, m.Task, sliced)
		if err != nil {
			return nil, err
		}
		if err := b.AccumulateResult(&out, partial); err != nil {
			return nil, err
		}
	}
	return &Handle{name: macroq.Name(m.Task), value: out}, nil
}

// A Handle names the output of one task application. Each
// application gets a fresh output, even when its arguments were seen
// before, so handles from repeated applications are independent.
type Handle struct {
	name    string
	queue   *Queue
	output  cloud.ID
	records []*Record
	value   value.Value
}

// Name returns the name of the task that produced this handle.
func (h *Handle) Name() string { return h.name }

// Output returns the id of the output record, or the zero id if the
// handle came from an immediate application.
func (h *Handle) Output() cloud.ID { return h.output }

// Done tells whether all of the handle's records have finished.
func (h *Handle) Done() bool {
	for _, rec := range h.records {
		if state, _ := rec.snapshot(); state != RecordDone {
			return false
		}
	}
	return true
}

// Result returns the application's output. For deferred
// applications, Result waits until the handle's records have run;
// arm the context with a deadline or cancelation to bound the wait.
// If any record failed, its error is returned and the output is
// discarded.
func (h *Handle) Result(ctx context.Context) (value.Value, error) {
	if h.queue == nil {
		return h.value.Clone(), nil
	}
	for _, rec := range h.records {
		if _, err := rec.WaitState(ctx, RecordDone); err != nil {
			return value.Value{}, err
		}
		if err := rec.Err(); err != nil {
			return value.Value{}, errors.E("result "+h.name, err)
		}
	}
	return h.queue.store.Load(ctx, h.output)
}
