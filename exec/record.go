// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/status"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/cloud"
)

// RecordState represents the runtime state of a Record. RecordState
// values are defined so that their magnitudes correspond with record
// progression, and records only ever progress: entering a
// smaller-valued state is a bug.
type RecordState int

const (
	// RecordWaiting is the initial state of a record: it is queued
	// but has not yet been assigned a subworld.
	RecordWaiting RecordState = iota
	// RecordDispatched indicates that a record has been assigned a
	// subworld, which is provisioning the record's inputs.
	RecordDispatched
	// RecordRunning is the state of a record whose task is currently
	// executing on its subworld.
	RecordRunning
	// RecordDone indicates that the record has finished: either its
	// partial result has been merged into its output record, or it
	// failed, in which case its error is set.
	RecordDone
)

var recordStates = [...]string{
	RecordWaiting:    "WAITING",
	RecordDispatched: "DISPATCHED",
	RecordRunning:    "RUNNING",
	RecordDone:       "DONE",
}

// String returns the record's state as an upper-case string.
func (s RecordState) String() string {
	return recordStates[s]
}

// A Record tracks one batch of a submitted task through the queue.
// Records are created by Queue.Submit, one per batch of the
// submission's partitioning.
//
// Records also maintain scheduling state, and are used to coordinate
// between the queue's dispatch loop and waiters on the submission's
// handle. Records thus embed a mutex for coordination and provide a
// context-aware conditional variable to coordinate runtime state
// changes.
type Record struct {
	// Task is the user task of which this record runs one batch.
	Task macroq.Task
	// TaskName is the task's display name.
	TaskName string
	// Batch addresses the record's share of the submission's
	// arguments and of its output.
	Batch batch.Batch
	// Inputs are the argument records of the submission, in tuple
	// order.
	Inputs cloud.List
	// Output is the record into which the batch's partial result is
	// merged.
	Output cloud.ID
	// Priority orders dispatch: higher priorities dispatch first.
	// Records of equal priority dispatch in submission order.
	Priority int

	// Status is a status task to which record progress is reported.
	// It may be nil.
	Status *status.Task

	// The following are used to coordinate scheduling.

	sync.Mutex
	waitc chan struct{}

	// state is the record's state. It is protected by the record's
	// lock and state changes are also broadcast on the record's
	// condition variable.
	state RecordState
	// err is set when the record failed.
	err error

	// seq breaks priority ties in submission order.
	seq int64
	// index is the index of this record in the pending heap.
	index int
}

// String returns a short, human-readable string describing the
// record's state.
func (r *Record) String() string {
	// We play fast-and-loose with concurrency here (we read state and
	// err without holding the record's mutex) so that it is safe to
	// call String even when the lock is held.
	var b bytes.Buffer
	fmt.Fprintf(&b, "record %s %s %s", r.TaskName, r.Batch, r.state)
	if r.err != nil {
		fmt.Fprintf(&b, ": %v", r.err)
	}
	return b.String()
}

// State sets the record's state to the provided state and notifies
// any waiters. State panics if the record would reenter an earlier
// state.
func (r *Record) State(state RecordState) {
	r.Lock()
	if state < r.state {
		panic(fmt.Sprintf("record %s: state %s precedes %s", r.TaskName, state, r.state))
	}
	r.state = state
	if r.Status != nil {
		r.Status.Print(state.String())
	}
	r.Broadcast()
	r.Unlock()
}

// Error marks the record done with the provided error. Waiters are
// notified.
func (r *Record) Error(err error) {
	r.Lock()
	r.state = RecordDone
	r.err = err
	if r.Status != nil {
		r.Status.Printf("error: %v", err)
	}
	r.Broadcast()
	r.Unlock()
}

// Errorf formats an error message using fmt.Errorf and marks the
// record done with the resulting error.
func (r *Record) Errorf(format string, v ...interface{}) {
	r.Error(fmt.Errorf(format, v...))
}

// Err returns the error under which the record failed, if any. It is
// set only once the record is done.
func (r *Record) Err() error {
	r.Lock()
	defer r.Unlock()
	return r.err
}

// snapshot returns a consistent view of the record's state and error.
func (r *Record) snapshot() (RecordState, error) {
	r.Lock()
	defer r.Unlock()
	return r.state, r.err
}

// Broadcast notifies waiters of a state change. Broadcast must only
// be called while the record's lock is held.
func (r *Record) Broadcast() {
	if r.waitc != nil {
		close(r.waitc)
		r.waitc = nil
	}
}

// Wait returns after the next call to Broadcast, or if the context
// is complete. The record's lock must be held when calling Wait.
func (r *Record) Wait(ctx context.Context) error {
	if r.waitc == nil {
		r.waitc = make(chan struct{})
	}
	waitc := r.waitc
	r.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	r.Lock()
	return err
}

// WaitState returns when the record's state is at least the provided
// state, or when the context is complete, whichever comes first.
func (r *Record) WaitState(ctx context.Context, state RecordState) (RecordState, error) {
	r.Lock()
	defer r.Unlock()
	for r.state < state {
		if err := r.Wait(ctx); err != nil {
			return r.state, err
		}
	}
	return r.state, nil
}

// A recordQ is a priority queue of pending records: higher priorities
// dispatch first, and records of equal priority dispatch in
// submission order.
type recordQ []*Record

func (q recordQ) Len() int { return len(q) }

func (q recordQ) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q recordQ) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *recordQ) Push(x interface{}) {
	n := len(*q)
	rec := x.(*Record)
	rec.index = n
	*q = append(*q, rec)
}

func (q *recordQ) Pop() interface{} {
	old := *q
	n := len(old)
	rec := old[n-1]
	rec.index = -1
	*q = old[0 : n-1]
	return rec
}
