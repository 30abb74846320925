// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements the macro task queue: submission of tasks
// over stored arguments, partitioning into batch records, priority
// dispatch onto a pool of subworlds, and reduction of partial results
// into output records. Queues can run locally or distribute their
// subworlds with bigmachine.
package exec

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/cloud"
	"github.com/grailbio/macroq/stats"
	"github.com/grailbio/macroq/value"
)

// A Queue schedules macro tasks over a fixed pool of subworlds.
// Tasks are submitted with Submit, which partitions them into batch
// records; Run dispatches pending records to free subworlds in
// priority order until none remain. A queue is valid for the life of
// its process and can run many submissions, allowing for iterative
// computing.
type Queue struct {
	context.Context
	index     int32
	nsub      int
	gran      int
	store     cloud.Store
	runtime   Runtime
	status    *status.Status
	group     *status.Group
	replicate bool
	stats     *stats.Map
	subworlds []Subworld

	mu      sync.Mutex
	pending recordQ
	records []*Record
	seq     int64

	// runMu serializes Run loops: the queue dispatches one run at a
	// time.
	runMu sync.Mutex
}

// nextQueueIndex is the index of the next queue started by Start. In
// general, there should be only one queue per process, but we violate
// this in some tests.
var nextQueueIndex int32

func newQueue() *Queue {
	return &Queue{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextQueueIndex, 1) - 1,
		stats:   stats.NewMap(),
	}
}

// An Option represents a queue configuration parameter value.
type Option func(q *Queue)

// Local configures a queue whose subworlds run within the driver
// process.
var Local Option = func(q *Queue) {
	q.runtime = newLocalRuntime()
}

// Bigmachine configures a queue whose subworlds are bigmachine
// machines provisioned from the provided system. If any params are
// provided, they are applied to each machine allocated by the queue.
func Bigmachine(system bigmachine.System, params ...bigmachine.Param) Option {
	return func(q *Queue) {
		q.runtime = newBigmachineRuntime(system, params...)
	}
}

// Subworlds configures the queue with the provided number of
// subworlds. The default is one per CPU.
func Subworlds(n int) Option {
	if n <= 0 {
		panic("exec.Subworlds: n <= 0")
	}
	return func(q *Queue) {
		q.nsub = n
	}
}

// Granularity configures the default batch size for tasks that do
// not configure their own partitioner. The default is
// batch.DefaultGranularity.
func Granularity(n int) Option {
	if n <= 0 {
		panic("exec.Granularity: n <= 0")
	}
	return func(q *Queue) {
		q.gran = n
	}
}

// Storage configures the store through which the queue's records are
// exchanged. The default is an in-memory store.
func Storage(store cloud.Store) Option {
	return func(q *Queue) {
		q.store = store
	}
}

// Status configures the queue with a status object to which record
// statuses are reported.
func Status(status *status.Status) Option {
	return func(q *Queue) {
		q.status = status
	}
}

// Replicate is a queue option that provisions every subworld with a
// submission's input records at submission time, ahead of dispatch.
// This front-loads data movement for workloads where every subworld
// eventually sees every input.
var Replicate Option = func(q *Queue) {
	q.replicate = true
}

// Start creates and starts a new queue, configuring it according to
// the provided options. If no runtime is configured, subworlds run
// locally, in process.
func Start(options ...Option) (*Queue, error) {
	q := newQueue()
	for _, opt := range options {
		opt(q)
	}
	if err := q.start(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) start() error {
	if q.nsub == 0 {
		q.nsub = runtime.NumCPU()
	}
	if q.store == nil {
		q.store = cloud.NewMemory()
	}
	if q.runtime == nil {
		q.runtime = newLocalRuntime()
	}
	if q.status != nil {
		q.group = q.status.Groupf("macroq %02d", q.index)
	}
	subworlds, err := q.runtime.Split(q.Context, q, q.nsub)
	if err != nil {
		return err
	}
	if len(subworlds) == 0 {
		return errors.E(errors.Invalid, "runtime provided no subworlds")
	}
	q.subworlds = subworlds
	log.Printf("started %s queue with %d subworlds", q.runtime.Name(), len(subworlds))
	return nil
}

// Submit partitions the task over the provided arguments and queues
// one record per batch. The arguments are checked against the task's
// signature and stored before Submit returns; configuration errors
// are reported here, synchronously, and leave the queue untouched.
// The returned handle names the submission's output, which
// materializes once the records have been run.
//
// Submitting the same arguments twice stores them once; outputs are
// never shared between submissions.
func (q *Queue) Submit(ctx context.Context, task macroq.Task, args value.Tuple) (*Handle, error) {
	if err := macroq.Validate(task, args); err != nil {
		return nil, err
	}
	p := macroq.PartitionerOf(task)
	if p.Granularity == 0 {
		p.Granularity = q.gran
	}
	batches, err := p.Partition(args)
	if err != nil {
		return nil, err
	}
	out, err := task.Allocate(args)
	if err != nil {
		return nil, err
	}
	inputs, err := cloud.StoreTuple(ctx, q.store, args)
	if err != nil {
		return nil, err
	}
	if q.replicate {
		err = traverse.Each(len(q.subworlds), func(i int) error {
			if p, ok := q.subworlds[i].(preloader); ok {
				return p.preload(ctx, inputs)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	output, err := q.store.Placeholder(ctx, out)
	if err != nil {
		return nil, err
	}
	var (
		name     = macroq.Name(task)
		priority = macroq.PriorityOf(task)
		records  = make([]*Record, len(batches))
	)
	q.mu.Lock()
	for i, b := range batches {
		rec := &Record{
			Task:     task,
			TaskName: name,
			Batch:    b,
			Inputs:   inputs,
			Output:   output,
			Priority: priority,
			seq:      q.seq,
		}
		q.seq++
		heap.Push(&q.pending, rec)
		q.records = append(q.records, rec)
		records[i] = rec
	}
	q.mu.Unlock()
	log.Debug.Printf("macroq: submitted %s: %d records, output %s", name, len(records), output.Short())
	return &Handle{
		name:    name,
		queue:   q,
		output:  output,
		records: records,
	}, nil
}

// Run dispatches pending records to free subworlds until none
// remain, and returns when all dispatched records have finished. Runs
// are all-or-nothing: the first record failure stops dispatch, and
// once in-flight records drain, the remaining pending records are
// marked failed and the error is returned. Failed records are never
// retried; task bodies are assumed deterministic, so a retry could
// not change the outcome.
func (q *Queue) Run(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	type done struct {
		rec *Record
		sub Subworld
		err error
	}
	var (
		donec    = make(chan done)
		free     = append([]Subworld(nil), q.subworlds...)
		ctxc     = ctx.Done()
		inflight int
		err      error
	)
	for {
		for err == nil && len(free) > 0 {
			rec := q.next()
			if rec == nil {
				break
			}
			sub := free[len(free)-1]
			free = free[:len(free)-1]
			if q.group != nil {
				rec.Status = q.group.Startf("%s %s", rec.TaskName, rec.Batch)
			}
			rec.State(RecordDispatched)
			inflight++
			go func(rec *Record, sub Subworld) {
				begin := time.Now()
				runErr := sub.Run(ctx, rec)
				q.stats.Timer(rec.TaskName).Add(time.Since(begin))
				donec <- done{rec, sub, runErr}
			}(rec, sub)
		}
		if inflight == 0 {
			if err != nil {
				q.abort(err)
				return err
			}
			if q.empty() {
				return nil
			}
			continue
		}
		select {
		case d := <-donec:
			inflight--
			free = append(free, d.sub)
			if d.err != nil {
				log.Error.Printf("macroq: %s on %s: %v", d.rec.TaskName, d.sub.Name(), d.err)
				d.rec.Error(d.err)
				if err == nil {
					err = d.err
				}
			} else {
				d.rec.State(RecordDone)
			}
			if d.rec.Status != nil {
				d.rec.Status.Done()
			}
		case <-ctxc:
			err = ctx.Err()
			// Stop re-selecting on the context; we still drain
			// in-flight records.
			ctxc = nil
		}
	}
}

// next pops the highest-priority pending record, or nil.
func (q *Queue) next() *Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.pending).(*Record)
}

// empty tells whether the pending queue is empty.
func (q *Queue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0
}

// abort fails all pending records with the cause of a stopped run.
func (q *Queue) abort(cause error) {
	for {
		rec := q.next()
		if rec == nil {
			return
		}
		rec.Error(errors.E("run aborted", cause))
	}
}

// Clear drops all records from the queue's store and from any caches
// held by its subworlds. Clear must not be called while a run is in
// progress or while handles are outstanding.
func (q *Queue) Clear(ctx context.Context) error {
	for _, sub := range q.subworlds {
		if c, ok := sub.(clearer); ok {
			if err := c.clear(ctx); err != nil {
				return err
			}
		}
	}
	return q.store.Clear(ctx)
}

// Store returns the store through which the queue's records are
// exchanged.
func (q *Queue) Store() cloud.Store {
	return q.store
}

// Status returns the queue's status aggregator.
func (q *Queue) Status() *status.Status {
	return q.status
}

// WriteTasks writes a table of the queue's records, their batches,
// priorities, and states into w.
func (q *Queue) WriteTasks(w io.Writer) {
	q.mu.Lock()
	records := append([]*Record(nil), q.records...)
	q.mu.Unlock()
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "records:")
	for _, rec := range records {
		state, err := rec.snapshot()
		var errstr string
		if err != nil {
			errstr = err.Error()
		}
		fmt.Fprintf(&tw, "\t%s\t%s\tprio %d\t%s\t%s\n", rec.TaskName, rec.Batch, rec.Priority, state, errstr)
	}
	tw.Flush()
}

// WriteTimings writes a table of per-task execution timings, and a
// summary of store traffic, into w.
func (q *Queue) WriteTimings(w io.Writer) {
	timings := make(stats.Timings)
	q.stats.AddTimings(timings)
	var names []string
	for name := range timings {
		names = append(names, name)
	}
	sort.Strings(names)
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	fmt.Fprintln(&tw, "timings:")
	for _, name := range names {
		t := timings[name]
		fmt.Fprintf(&tw, "\t%s\t%d\t%s\t%s\n", name, t.N, t.Total, t.Mean())
	}
	vals := q.store.Stats()
	fmt.Fprintf(&tw, "store:\thits %d/%d\tread %s\twritten %s\n",
		vals["hits"], vals["stores"],
		data.Size(vals["readbytes"]), data.Size(vals["writebytes"]))
	tw.Flush()
}

// ResetTimings zeroes the queue's execution timers, and the store's
// traffic counters when the store supports it.
func (q *Queue) ResetTimings() {
	q.stats.Reset()
	if s, ok := q.store.(statsResetter); ok {
		s.ResetStats()
	}
}

// Shutdown tears down resources associated with this queue. It
// should be called when the queue is discarded.
func (q *Queue) Shutdown() {
	q.runtime.Shutdown()
}
