// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"testing"
	"time"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("x")
		_ = coll.Int("y")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["x"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["y"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTimers(t *testing.T) {
	coll := NewMap()
	timer := coll.Timer("run")
	timer.Add(2 * time.Second)
	timer.Add(4 * time.Second)
	n, total := timer.Get()
	if got, want := n, int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := total, 6*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	timings := make(Timings)
	coll.AddTimings(timings)
	coll.AddTimings(timings)
	if got, want := timings["run"].N, int64(4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := timings["run"].Mean(), 3*time.Second; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	coll.Reset()
	if n, total := timer.Get(); n != 0 || total != 0 {
		t.Errorf("got %v/%v after reset, want zero", n, total)
	}
}

func TestNilCounters(t *testing.T) {
	var (
		i *Int
		m *Timer
	)
	i.Add(1)
	m.Add(time.Second)
	if got, want := i.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if n, _ := m.Get(); n != 0 {
		t.Errorf("got %v, want 0", n)
	}
}
