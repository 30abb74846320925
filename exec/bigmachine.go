// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/cloud"
	"github.com/grailbio/macroq/stats"
	"github.com/grailbio/macroq/value"
	"golang.org/x/sync/errgroup"
)

func init() {
	gob.Register(&worker{})
}

// bigmachineRuntime provisions one bigmachine machine per subworld.
// Input records are pushed to machines on demand and cached there;
// partial results are returned to the driver, which owns the queue's
// store.
type bigmachineRuntime struct {
	system bigmachine.System
	params []bigmachine.Param
	b      *bigmachine.B
}

func newBigmachineRuntime(system bigmachine.System, params ...bigmachine.Param) *bigmachineRuntime {
	return &bigmachineRuntime{system: system, params: params}
}

func (r *bigmachineRuntime) Name() string {
	return "bigmachine:" + r.system.Name()
}

func (r *bigmachineRuntime) Split(ctx context.Context, q *Queue, n int) ([]Subworld, error) {
	r.b = bigmachine.Start(r.system)
	params := append([]bigmachine.Param{bigmachine.Services{"Worker": &worker{}}}, r.params...)
	machines, err := r.b.Start(ctx, n, params...)
	if err != nil {
		return nil, err
	}
	var group *status.Group
	if q.status != nil {
		group = q.status.Group("machines")
	}
	subworlds := make([]Subworld, len(machines))
	err = traverse.Each(len(machines), func(i int) error {
		m := machines[i]
		<-m.Wait(bigmachine.Running)
		if m.State() != bigmachine.Running {
			return errors.E(fmt.Sprintf("machine %s failed to start", m.Addr), m.Err())
		}
		sub := &machineSubworld{
			queue:   q,
			machine: m,
			have:    make(map[cloud.ID]bool),
		}
		if group != nil {
			sub.status = group.Start(m.Addr)
			sub.status.Print("ready")
		}
		subworlds[i] = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return subworlds, nil
}

func (r *bigmachineRuntime) Shutdown() {
	if r.b != nil {
		r.b.Shutdown()
	}
}

// A machineSubworld runs records on a single bigmachine machine. The
// driver tracks which records the machine holds; since a machine is
// only ever written to by its own subworld, the set cannot go stale.
type machineSubworld struct {
	queue   *Queue
	machine *bigmachine.Machine
	status  *status.Task

	mu   sync.Mutex
	have map[cloud.ID]bool
}

func (s *machineSubworld) Name() string {
	return s.machine.Addr
}

func (s *machineSubworld) Run(ctx context.Context, rec *Record) error {
	if err := s.provision(ctx, rec.Inputs); err != nil {
		return err
	}
	rec.State(RecordRunning)
	req := runRequest{
		Task:     rec.Task,
		TaskName: rec.TaskName,
		Batch:    rec.Batch,
		Inputs:   rec.Inputs,
	}
	var reply runReply
	// Run is called exactly once per record: a failed batch fails the
	// whole run, so there is nothing to be gained by retrying the RPC.
	if err := s.machine.Call(ctx, "Worker.Run", req, &reply); err != nil {
		return err
	}
	if err := s.queue.store.Accumulate(ctx, rec.Output, rec.Batch, reply.Partial); err != nil {
		return err
	}
	if s.status != nil {
		var vals stats.Values
		if err := s.machine.Call(ctx, "Worker.Stats", struct{}{}, &vals); err == nil {
			s.status.Print(vals)
		}
	}
	return nil
}

// provision pushes the records the machine is missing, concurrently.
// Record contents are fixed by their ids, so installs are idempotent
// and safe to retry.
func (s *machineSubworld) provision(ctx context.Context, ids cloud.List) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		s.mu.Lock()
		ok := s.have[id]
		s.mu.Unlock()
		if ok {
			continue
		}
		id := id
		g.Go(func() error {
			v, err := s.queue.store.Load(ctx, id)
			if err != nil {
				return err
			}
			p, err := value.Marshal(v)
			if err != nil {
				return err
			}
			if err := s.machine.RetryCall(ctx, "Worker.Put", putRequest{ID: id, Data: p}, nil); err != nil {
				return err
			}
			log.Debug.Printf("machine %s: installed record %s (%d bytes)", s.machine.Addr, id.Short(), len(p))
			s.mu.Lock()
			s.have[id] = true
			s.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (s *machineSubworld) preload(ctx context.Context, ids cloud.List) error {
	return s.provision(ctx, ids)
}

func (s *machineSubworld) clear(ctx context.Context) error {
	s.mu.Lock()
	s.have = make(map[cloud.ID]bool)
	s.mu.Unlock()
	return s.machine.RetryCall(ctx, "Worker.Reset", struct{}{}, nil)
}

// A worker is the bigmachine service that executes batches on a
// remote machine. Records pushed by the driver are kept in a local
// memory store for the life of the machine, or until Reset.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at
	// least one exported field.
	Exported struct{}

	b     *bigmachine.B
	store *cloud.Memory
}

func (w *worker) Init(b *bigmachine.B) error {
	w.b = b
	w.store = cloud.NewMemory()
	return nil
}

// putRequest is the request payload for Worker.Put.
type putRequest struct {
	// ID names the record being installed.
	ID cloud.ID
	// Data is the record's encoding.
	Data []byte
}

// Put installs an input record in the worker's store.
func (w *worker) Put(ctx context.Context, req putRequest, _ *struct{}) error {
	return w.store.Install(req.ID, req.Data)
}

// runRequest is the request payload for Worker.Run.
type runRequest struct {
	// Task is the task to run. Concrete task types must be registered
	// with gob by the user.
	Task macroq.Task
	// TaskName is the task's display name.
	TaskName string
	// Batch is the batch of the task's arguments to execute.
	Batch batch.Batch
	// Inputs name the argument records, installed by previous calls
	// to Put.
	Inputs cloud.List
}

// runReply is the reply payload for Worker.Run.
type runReply struct {
	// Partial is the batch's partial result.
	Partial value.Value
}

// Run executes one batch against the worker's store and returns the
// partial result to the driver. Panics in task code are reported as
// fatal errors.
func (w *worker) Run(ctx context.Context, req runRequest, reply *runReply) error {
	partial, err := evaluate(ctx, w.store, req.Task, req.Batch, req.Inputs)
	if err != nil {
		return errors.E(fmt.Sprintf("run %s %s", req.TaskName, req.Batch), err)
	}
	reply.Partial = partial
	return nil
}

// Stats returns a snapshot of the worker's store counters.
func (w *worker) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	*values = w.store.Stats()
	return nil
}

// Reset drops the worker's record store.
func (w *worker) Reset(ctx context.Context, _ struct{}, _ *struct{}) error {
	return w.store.Clear(ctx)
}
