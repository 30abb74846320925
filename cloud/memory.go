// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/stats"
	"github.com/grailbio/macroq/value"
)

// Memory is a Store that keeps records in process memory. Loads
// return independent copies, so a loaded value may be mutated freely.
type Memory struct {
	stats *stats.Map

	mu      sync.Mutex
	records map[ID]*record
}

// A record holds one live value. The record mutex serializes
// accumulations, which may arrive concurrently for coinciding output
// ranges.
type record struct {
	mu    sync.Mutex
	value value.Value
}

// NewMemory returns a fresh, empty memory store.
func NewMemory() *Memory {
	return &Memory{
		stats:   stats.NewMap(),
		records: make(map[ID]*record),
	}
}

// Store implements Store.
func (m *Memory) Store(ctx context.Context, v value.Value) (ID, error) {
	begin := time.Now()
	p, err := value.Marshal(v)
	if err != nil {
		return ID{}, err
	}
	id := ContentID(p)
	m.mu.Lock()
	_, ok := m.records[id]
	if !ok {
		m.records[id] = &record{value: v.Clone()}
	}
	m.mu.Unlock()
	m.stats.Int("stores").Add(1)
	if ok {
		m.stats.Int("hits").Add(1)
	} else {
		m.stats.Int("writebytes").Add(int64(len(p)))
	}
	m.stats.Timer("write").Add(time.Since(begin))
	return id, nil
}

// Placeholder implements Store.
func (m *Memory) Placeholder(ctx context.Context, v value.Value) (ID, error) {
	id := FreshID()
	m.mu.Lock()
	m.records[id] = &record{value: v.Clone()}
	m.mu.Unlock()
	m.stats.Int("placeholders").Add(1)
	return id, nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, id ID) (value.Value, error) {
	begin := time.Now()
	rec := m.lookup(id)
	if rec == nil {
		return value.Value{}, errors.E(errors.NotExist, fmt.Sprintf("load %s", id))
	}
	rec.mu.Lock()
	v := rec.value.Clone()
	rec.mu.Unlock()
	m.stats.Int("loads").Add(1)
	m.stats.Timer("read").Add(time.Since(begin))
	return v, nil
}

// Accumulate implements Store.
func (m *Memory) Accumulate(ctx context.Context, id ID, b batch.Batch, partial value.Value) error {
	rec := m.lookup(id)
	if rec == nil {
		return errors.E(errors.NotExist, fmt.Sprintf("accumulate %s", id))
	}
	rec.mu.Lock()
	err := b.AccumulateResult(&rec.value, partial)
	rec.mu.Unlock()
	m.stats.Int("accumulates").Add(1)
	return err
}

// Clear implements Store.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.records = make(map[ID]*record)
	m.mu.Unlock()
	return nil
}

// Stats implements Store.
func (m *Memory) Stats() stats.Values {
	vals := make(stats.Values)
	m.stats.AddAll(vals)
	return vals
}

// Timings returns a snapshot of the store's timers.
func (m *Memory) Timings() stats.Timings {
	timings := make(stats.Timings)
	m.stats.AddTimings(timings)
	return timings
}

// ResetStats zeroes the store's counters and timers.
func (m *Memory) ResetStats() {
	m.stats.Reset()
}

// Install stores the encoded record p under the provided id,
// replacing any existing record. It is used by transports that ship
// records between stores, where the id was assigned by the sender.
func (m *Memory) Install(id ID, p []byte) error {
	var v value.Value
	if err := value.Unmarshal(p, &v); err != nil {
		return err
	}
	m.mu.Lock()
	m.records[id] = &record{value: v}
	m.mu.Unlock()
	m.stats.Int("installs").Add(1)
	return nil
}

// Contains tells whether the store holds a record under id.
func (m *Memory) Contains(id ID) bool {
	return m.lookup(id) != nil
}

func (m *Memory) lookup(id ID) *record {
	m.mu.Lock()
	rec := m.records[id]
	m.mu.Unlock()
	return rec
}
