// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package macroq

import (
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/value"
)

// scaleTask scales each field of its vector argument.
type scaleTask struct {
	Factor float64
}

func (scaleTask) Signature() []value.Kind {
	return []value.Kind{value.KindVec, value.KindScalar}
}

func (scaleTask) Allocate(args value.Tuple) (value.Value, error) {
	return args[0].ZeroLike(), nil
}

func (s scaleTask) Run(ctx context.Context, args value.Tuple) (value.Value, error) {
	out := args[0].Clone()
	for _, f := range out.Vec() {
		f.Scale(s.Factor * args[1].Scalar())
	}
	return out, nil
}

type fancyTask struct {
	scaleTask
	priority int
}

func (fancyTask) TaskName() string { return "fancy" }

func (t fancyTask) Priority() int { return t.priority }

func (fancyTask) Partitioner() batch.Partitioner {
	return batch.Partitioner{Granularity: 2}
}

func TestValidate(t *testing.T) {
	task := scaleTask{Factor: 2}
	args := value.Tuple{value.Vec(value.Constant(2, 1)), value.Scalar(3)}
	if err := Validate(task, args); err != nil {
		t.Fatal(err)
	}
	if err := Validate(task, args[:1]); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
	swapped := value.Tuple{args[1], args[0]}
	if err := Validate(task, swapped); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	plain := scaleTask{}
	if got, want := Name(plain), "macroq.scaleTask"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := PriorityOf(plain), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := PartitionerOf(plain), (batch.Partitioner{}); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	fancy := fancyTask{priority: 7}
	if got, want := Name(fancy), "fancy"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := PriorityOf(fancy), 7; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := PartitionerOf(fancy).Granularity, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
