// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
)

// localRuntime runs subworlds in-process, in separate goroutines.
// Subworlds share the queue's store directly, so no records are
// shipped.
type localRuntime struct{}

func newLocalRuntime() *localRuntime {
	return &localRuntime{}
}

func (*localRuntime) Name() string { return "local" }

func (*localRuntime) Split(ctx context.Context, q *Queue, n int) ([]Subworld, error) {
	subworlds := make([]Subworld, n)
	for i := range subworlds {
		subworlds[i] = &localSubworld{
			name:  fmt.Sprintf("local%d", i),
			queue: q,
		}
	}
	return subworlds, nil
}

func (*localRuntime) Shutdown() {}

// A localSubworld executes records in a goroutine of the driver
// process, against the queue's own store.
type localSubworld struct {
	name  string
	queue *Queue
}

func (s *localSubworld) Name() string { return s.name }

func (s *localSubworld) Run(ctx context.Context, rec *Record) error {
	rec.State(RecordRunning)
	partial, err := evaluate(ctx, s.queue.store, rec.Task, rec.Batch, rec.Inputs)
	if err != nil {
		return err
	}
	return s.queue.store.Accumulate(ctx, rec.Output, rec.Batch, partial)
}
