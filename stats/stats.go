// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides collections of counters and timers. Each
// counter belongs to a snapshottable collection, and these collections
// can be aggregated.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Values is a snapshot of the counter values in a collection.
type Values map[string]int64

// Copy returns a copy of the values v.
func (v Values) Copy() Values {
	w := make(Values)
	for k, v := range v {
		w[k] = v
	}
	return w
}

// String returns an abbreviated string with the values in this
// snapshot sorted by key.
func (v Values) String() string {
	var keys []string
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Timing is a snapshot of a timer: the number of times it was
// charged and the total duration charged to it.
type Timing struct {
	N     int64
	Total time.Duration
}

// Mean returns the mean duration charged to the timer, or 0 if the
// timer was never charged.
func (t Timing) Mean() time.Duration {
	if t.N == 0 {
		return 0
	}
	return t.Total / time.Duration(t.N)
}

// Timings is a snapshot of the timers in a collection.
type Timings map[string]Timing

// A Map is a set of counters and timers keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
	timers map[string]*Timer
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{
		values: make(map[string]*Int),
		timers: make(map[string]*Timer),
	}
}

// Int returns the counter with the provided name. The counter is
// created if it does not already exist.
func (m *Map) Int(name string) *Int {
	m.mu.Lock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	m.mu.Unlock()
	return v
}

// Timer returns the timer with the provided name. The timer is
// created if it does not already exist.
func (m *Map) Timer(name string) *Timer {
	m.mu.Lock()
	t := m.timers[name]
	if t == nil {
		t = new(Timer)
		m.timers[name] = t
	}
	m.mu.Unlock()
	return t
}

// AddAll adds all counters in the map to the provided snapshot.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// AddTimings adds all timers in the map to the provided snapshot.
func (m *Map) AddTimings(timings Timings) {
	m.mu.Lock()
	for k, t := range m.timers {
		n, total := t.Get()
		timing := timings[k]
		timing.N += n
		timing.Total += total
		timings[k] = timing
	}
	m.mu.Unlock()
}

// Reset zeroes all counters and timers in the map.
func (m *Map) Reset() {
	m.mu.Lock()
	for _, v := range m.values {
		v.Set(0)
	}
	for _, t := range m.timers {
		t.Set(0, 0)
	}
	m.mu.Unlock()
}

// An Int is a integer counter. Ints can be atomically
// incremented and set.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the current value of a counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}

// A Timer accumulates durations. Timers can be charged
// concurrently.
type Timer struct {
	n     int64
	nanos int64
}

// Add charges the duration d to the timer.
func (t *Timer) Add(d time.Duration) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.n, 1)
	atomic.AddInt64(&t.nanos, int64(d))
}

// Set sets the timer's count and total duration.
func (t *Timer) Set(n int64, total time.Duration) {
	if t == nil {
		return
	}
	atomic.StoreInt64(&t.n, n)
	atomic.StoreInt64(&t.nanos, int64(total))
}

// Get returns the number of times the timer was charged and the
// total duration charged to it.
func (t *Timer) Get() (n int64, total time.Duration) {
	if t == nil {
		return 0, 0
	}
	return atomic.LoadInt64(&t.n), time.Duration(atomic.LoadInt64(&t.nanos))
}
