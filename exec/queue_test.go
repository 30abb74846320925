// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"encoding/gob"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/macroq"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/value"
)

func init() {
	log.AddFlags()
	gob.Register(scaleVecTask{})
	gob.Register(axpyTask{})
	gob.Register(sumVecTask{})
	gob.Register(outerTask{})
	gob.Register(poisonTask{})
}

// scaleVecTask scales each field of its vector argument.
type scaleVecTask struct{ Factor float64 }

func (scaleVecTask) Signature() []value.Kind { return []value.Kind{value.KindVec} }

func (scaleVecTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (s scaleVecTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	fields := args[0].Vec()
	out := make([]value.Field, len(fields))
	for i, f := range fields {
		g := f.Clone()
		g.Scale(s.Factor)
		out[i] = g
	}
	return value.Vec(out...), nil
}

// axpyTask computes Alpha*x+y over two congruent vector arguments.
type axpyTask struct{ Alpha float64 }

func (axpyTask) Signature() []value.Kind {
	return []value.Kind{value.KindVec, value.KindVec}
}

func (axpyTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (a axpyTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	var (
		xs  = args[0].Vec()
		ys  = args[1].Vec()
		out = make([]value.Field, len(xs))
	)
	for i := range xs {
		g := ys[i].Clone()
		if err := g.AddScaled(a.Alpha, xs[i]); err != nil {
			return value.Value{}, err
		}
		out[i] = g
	}
	return value.Vec(out...), nil
}

// sumVecTask reduces its vector argument to a single field of size N,
// the sum of the argument's fields. Each batch contributes a partial
// sum; the output accumulates them.
type sumVecTask struct{ N int }

func (sumVecTask) Signature() []value.Kind { return []value.Kind{value.KindVec} }

func (s sumVecTask) Allocate(args value.Tuple) (value.Value, error) {
	return value.Single(value.Constant(s.N, 0)), nil
}

func (s sumVecTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	acc := value.Constant(s.N, 0)
	for _, f := range args[0].Vec() {
		if err := acc.Add(f); err != nil {
			return value.Value{}, err
		}
	}
	return value.Single(acc), nil
}

// outerTask scales each row field by the grand sum of the column
// fields it sees. Under two-dimensional partitioning, row ranges
// coincide across column blocks, so the output rows sum contributions
// from every block of columns.
type outerTask struct{ Gran int }

func (outerTask) Signature() []value.Kind {
	return []value.Kind{value.KindVec, value.KindVec}
}

func (o outerTask) Partitioner() batch.Partitioner {
	return batch.Partitioner{Granularity: o.Gran, Dimension: 2}
}

func (outerTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (outerTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	var csum float64
	for _, c := range args[1].Vec() {
		for _, v := range c.Data {
			csum += v
		}
	}
	rows := args[0].Vec()
	out := make([]value.Field, len(rows))
	for i, r := range rows {
		g := r.Clone()
		g.Scale(csum)
		out[i] = g
	}
	return value.Vec(out...), nil
}

// poisonTask copies its argument, failing on any field whose leading
// coefficient is below Threshold.
type poisonTask struct{ Threshold float64 }

func (poisonTask) Signature() []value.Kind { return []value.Kind{value.KindVec} }

func (poisonTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (p poisonTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	for _, f := range args[0].Vec() {
		if f.Data[0] < p.Threshold {
			return value.Value{}, errors.E(errors.Fatal, "leading coefficient below threshold")
		}
	}
	return args[0].Clone(), nil
}

// faultyTask counts its runs and fails like poisonTask with a zero
// threshold. It carries test state and is not gob encodable, so it is
// only usable on local queues.
type faultyTask struct{ runs *int32 }

func (faultyTask) Signature() []value.Kind { return []value.Kind{value.KindVec} }

func (faultyTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (f faultyTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	atomic.AddInt32(f.runs, 1)
	for _, g := range args[0].Vec() {
		if g.Data[0] < 0 {
			return value.Value{}, errors.E(errors.Fatal, "leading coefficient below threshold")
		}
	}
	return args[0].Clone(), nil
}

// orderTask records the order in which its submissions execute. It is
// only usable on local queues.
type orderTask struct {
	tag   string
	prio  int
	mu    *sync.Mutex
	order *[]string
}

func (orderTask) Signature() []value.Kind { return []value.Kind{value.KindVec} }

func (t orderTask) TaskName() string { return "order:" + t.tag }

func (t orderTask) Priority() int { return t.prio }

func (orderTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (t orderTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	t.mu.Lock()
	*t.order = append(*t.order, t.tag)
	t.mu.Unlock()
	return args[0].Clone(), nil
}

// testVec builds a vector of n fields of the provided size with
// deterministic coefficients offset by seed.
func testVec(n, size int, seed float64) value.Value {
	fields := make([]value.Field, n)
	for i := range fields {
		f := value.Field{Data: make([]float64, size)}
		for j := range f.Data {
			f.Data[j] = seed + float64(i) + float64(j)/16
		}
		fields[i] = f
	}
	return value.Vec(fields...)
}

var runtimes = map[string]func() Option{
	"Local":           func() Option { return Local },
	"Bigmachine.Test": func() Option { return Bigmachine(testsystem.New()) },
}

func testQueue(t *testing.T, run func(t *testing.T, q *Queue)) {
	t.Helper()
	for name, opt := range runtimes {
		t.Run(name, func(t *testing.T) {
			q, err := Start(opt(), Subworlds(2))
			if err != nil {
				t.Fatal(err)
			}
			defer q.Shutdown()
			run(t, q)
		})
	}
}

func TestApplyImmediate(t *testing.T) {
	ctx := context.Background()
	vec := testVec(22, 8, 0)
	h, err := MacroTask{Task: scaleVecTask{Factor: 3}}.Apply(ctx, vec)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Done() {
		t.Error("immediate handles are always done")
	}
	got, err := h.Result(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := vec.Clone()
	for _, f := range want.Vec() {
		f.Scale(3)
	}
	if !value.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestQueueEquivalence verifies that deferred execution computes the
// same outputs as immediate execution, on every runtime.
func TestQueueEquivalence(t *testing.T) {
	var (
		ctx = context.Background()
		x   = testVec(22, 8, 0)
		y   = testVec(22, 8, 100)
	)
	cases := []struct {
		task macroq.Task
		args []value.Value
	}{
		{scaleVecTask{Factor: 2.5}, []value.Value{x}},
		{axpyTask{Alpha: -1.5}, []value.Value{x, y}},
		{sumVecTask{N: 8}, []value.Value{x}},
	}
	wants := make([]value.Value, len(cases))
	for i, c := range cases {
		h, err := MacroTask{Task: c.task}.Apply(ctx, c.args...)
		if err != nil {
			t.Fatal(err)
		}
		if wants[i], err = h.Result(ctx); err != nil {
			t.Fatal(err)
		}
	}
	testQueue(t, func(t *testing.T, q *Queue) {
		for i, c := range cases {
			h, err := MacroTask{Task: c.task, Queue: q}.Apply(ctx, c.args...)
			if err != nil {
				t.Fatal(err)
			}
			if err := q.Run(ctx); err != nil {
				t.Fatal(err)
			}
			got, err := h.Result(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !value.EqualApprox(got, wants[i], 1e-12) {
				t.Errorf("%s: got %v, want %v", macroq.Name(c.task), got, wants[i])
			}
		}
	})
}

// TestQueueTwice verifies that repeated applications share argument
// records but never output records.
func TestQueueTwice(t *testing.T) {
	ctx := context.Background()
	vec := testVec(15, 4, 0)
	testQueue(t, func(t *testing.T, q *Queue) {
		task := MacroTask{Task: scaleVecTask{Factor: 2}, Queue: q}
		h1, err := task.Apply(ctx, vec)
		if err != nil {
			t.Fatal(err)
		}
		h2, err := task.Apply(ctx, vec)
		if err != nil {
			t.Fatal(err)
		}
		if h1.Output() == h2.Output() {
			t.Error("applications must not share output records")
		}
		if err := q.Run(ctx); err != nil {
			t.Fatal(err)
		}
		r1, err := h1.Result(ctx)
		if err != nil {
			t.Fatal(err)
		}
		r2, err := h2.Result(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !value.Equal(r1, r2) {
			t.Errorf("results diverged: %v != %v", r1, r2)
		}
		// The argument was stored once and memoized once.
		vals := q.Store().Stats()
		if got, want := vals["hits"], int64(1); got != want {
			t.Errorf("got %v store hits, want %v", got, want)
		}
	})
}

func TestQueuePriority(t *testing.T) {
	q, err := Start(Local, Subworlds(1))
	if err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown()
	var (
		ctx   = context.Background()
		vec   = testVec(4, 2, 0)
		mu    sync.Mutex
		order []string
	)
	for _, c := range []struct {
		tag  string
		prio int
	}{
		{"low1", 1},
		{"high", 10},
		{"low2", 1},
	} {
		task := orderTask{tag: c.tag, prio: c.prio, mu: &mu, order: &order}
		if _, err := q.Submit(ctx, task, value.Tuple{vec}); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.Run(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"high", "low1", "low2"}
	if got := order; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestQueueCommutes verifies that dispatch order does not change a
// submission's result: the same work submitted under reversed
// priorities accumulates to an equal output.
func TestQueueCommutes(t *testing.T) {
	var (
		ctx = context.Background()
		vec = testVec(28, 6, 0)
	)
	results := make([]value.Value, 2)
	for trial := range results {
		q, err := Start(Local, Subworlds(2))
		if err != nil {
			t.Fatal(err)
		}
		var hs []*Handle
		for i, prio := range []int{3, 1, 2} {
			if trial == 1 {
				prio = -prio
			}
			task := prioTask{sumVecTask{N: 6}, prio}
			h, err := q.Submit(ctx, task, value.Tuple{vec})
			if err != nil {
				t.Fatal(err)
			}
			if i == 0 {
				hs = append(hs, h)
			}
		}
		if err := q.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if results[trial], err = hs[0].Result(ctx); err != nil {
			t.Fatal(err)
		}
		q.Shutdown()
	}
	if !value.EqualApprox(results[0], results[1], 1e-12) {
		t.Errorf("dispatch order changed result: %v != %v", results[0], results[1])
	}
}

// prioTask wraps a task with an explicit priority.
type prioTask struct {
	sumVecTask
	prio int
}

func (t prioTask) Priority() int { return t.prio }

func TestQueueGranularity(t *testing.T) {
	q, err := Start(Local, Subworlds(2), Granularity(4))
	if err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown()
	ctx := context.Background()
	h, err := q.Submit(ctx, scaleVecTask{Factor: 2}, value.Tuple{testVec(20, 2, 0)})
	if err != nil {
		t.Fatal(err)
	}
	// The queue's granularity applies to unpartitioned tasks: 20
	// fields at granularity 4 make 5 records.
	if got, want := len(h.records), 5; got != want {
		t.Errorf("got %v records, want %v", got, want)
	}
	if err := q.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(ctx); err != nil {
		t.Fatal(err)
	}
}

// TestQueueError verifies that a failed record stops the run: no
// record is retried, and batches that were still pending are failed
// with the run's error.
func TestQueueError(t *testing.T) {
	q, err := Start(Local, Subworlds(1))
	if err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown()
	var (
		ctx  = context.Background()
		runs int32
	)
	fields := make([]value.Field, 40)
	for i := range fields {
		fields[i] = value.Constant(2, 1)
	}
	fields[12].Data[0] = -1 // poisons the second batch of ten
	h, err := q.Submit(ctx, faultyTask{runs: &runs}, value.Tuple{value.Vec(fields...)})
	if err != nil {
		t.Fatal(err)
	}
	err = q.Run(ctx)
	if err == nil {
		t.Fatal("expected run error")
	}
	if errors.Recover(err).Severity != errors.Fatal {
		t.Errorf("expected fatal error, got %v", err)
	}
	// The first batch ran, the second failed, and the remaining two
	// were never attempted.
	if got, want := atomic.LoadInt32(&runs), int32(2); got != want {
		t.Errorf("got %v runs, want %v", got, want)
	}
	if _, err := h.Result(ctx); err == nil {
		t.Error("expected result error")
	}
	for _, rec := range h.records {
		if got, want := rec.mustState(t), RecordDone; got != want {
			t.Errorf("%s: got %v, want %v", rec, got, want)
		}
	}
}

func TestQueue2D(t *testing.T) {
	var (
		ctx  = context.Background()
		rows = testVec(8, 4, 0)
		cols = testVec(11, 3, 100)
		task = outerTask{Gran: 3}
	)
	wantH, err := MacroTask{Task: task}.Apply(ctx, rows, cols)
	if err != nil {
		t.Fatal(err)
	}
	want, err := wantH.Result(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testQueue(t, func(t *testing.T, q *Queue) {
		h, err := MacroTask{Task: task, Queue: q}.Apply(ctx, rows, cols)
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Run(ctx); err != nil {
			t.Fatal(err)
		}
		got, err := h.Result(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !value.EqualApprox(got, want, 1e-9) {
			t.Errorf("got %v, want %v", got, want)
		}
	})
}

func TestHandleResultDeadline(t *testing.T) {
	q, err := Start(Local, Subworlds(1))
	if err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown()
	vec := testVec(5, 2, 0)
	h, err := q.Submit(context.Background(), scaleVecTask{Factor: 1}, value.Tuple{vec})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Result(ctx); err != context.DeadlineExceeded {
		t.Errorf("got %v, want %v", err, context.DeadlineExceeded)
	}
	// The records are still pending; running the queue completes them.
	if err := q.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestQueueClear(t *testing.T) {
	testQueue(t, func(t *testing.T, q *Queue) {
		ctx := context.Background()
		task := MacroTask{Task: scaleVecTask{Factor: 4}, Queue: q}
		h, err := task.Apply(ctx, testVec(12, 3, 0))
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Result(ctx); err != nil {
			t.Fatal(err)
		}
		if err := q.Clear(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Result(ctx); !errors.Is(errors.NotExist, err) {
			t.Errorf("expected NotExist after clear, got %v", err)
		}
		// The queue remains usable after a clear.
		h, err = task.Apply(ctx, testVec(12, 3, 0))
		if err != nil {
			t.Fatal(err)
		}
		if err := q.Run(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := h.Result(ctx); err != nil {
			t.Fatal(err)
		}
	})
}

func TestQueueReports(t *testing.T) {
	q, err := Start(Local, Subworlds(2))
	if err != nil {
		t.Fatal(err)
	}
	defer q.Shutdown()
	ctx := context.Background()
	h, err := q.Submit(ctx, scaleVecTask{Factor: 2}, value.Tuple{testVec(25, 2, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Result(ctx); err != nil {
		t.Fatal(err)
	}
	var b bytes.Buffer
	q.WriteTasks(&b)
	for _, want := range []string{"scaleVecTask", "DONE"} {
		if !strings.Contains(b.String(), want) {
			t.Errorf("tasks report missing %q:\n%s", want, b.String())
		}
	}
	b.Reset()
	q.WriteTimings(&b)
	if !strings.Contains(b.String(), "scaleVecTask") {
		t.Errorf("timings report missing task name:\n%s", b.String())
	}
	q.ResetTimings()
	b.Reset()
	q.WriteTimings(&b)
	if !strings.Contains(b.String(), "store:") {
		t.Errorf("timings report missing store summary:\n%s", b.String())
	}
}
