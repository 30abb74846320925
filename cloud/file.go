// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cloud

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/stats"
	"github.com/grailbio/macroq/value"
)

// fileConcurrency bounds the number of file operations a File store
// issues at once.
const fileConcurrency = 16

// A File is a Store that keeps records at URLs beneath a prefix, one
// file per record; thus records can be kept at any URL supported by
// grailfile (e.g., S3). Content records known to be present are
// memoized, so repeated Stores of the same content skip the
// filesystem. Accumulations are serialized per record within the
// process: a file store must be accumulated into from a single
// process at a time.
type File struct {
	// Prefix is the grailfile prefix under which records are stored.
	// A record is stored at "{Prefix}/{shard}/{id}.rec".
	Prefix string

	stats *stats.Map
	lim   *limiter.Limiter

	mu    sync.Mutex
	locks map[ID]*sync.Mutex
	known map[ID]bool
}

// NewFile returns a store that keeps records under the provided
// prefix URL.
func NewFile(prefix string) *File {
	lim := limiter.New()
	lim.Release(fileConcurrency)
	return &File{
		Prefix: prefix,
		stats:  stats.NewMap(),
		lim:    lim,
		locks:  make(map[ID]*sync.Mutex),
		known:  make(map[ID]bool),
	}
}

func (f *File) path(id ID) string {
	return file.Join(f.Prefix, fmt.Sprintf("%02x", byte(id.Hi>>56)), id.String()+".rec")
}

// Store implements Store.
func (f *File) Store(ctx context.Context, v value.Value) (ID, error) {
	p, err := value.Marshal(v)
	if err != nil {
		return ID{}, err
	}
	id := ContentID(p)
	f.stats.Int("stores").Add(1)
	f.mu.Lock()
	ok := f.known[id]
	f.mu.Unlock()
	if ok {
		f.stats.Int("hits").Add(1)
		return id, nil
	}
	if err := f.lim.Acquire(ctx, 1); err != nil {
		return ID{}, err
	}
	defer f.lim.Release(1)
	begin := time.Now()
	defer func() { f.stats.Timer("write").Add(time.Since(begin)) }()
	// Any stat failure reads as a miss; rewriting an existing record
	// is harmless since contents are fixed by the id.
	if _, err := file.Stat(ctx, f.path(id)); err == nil {
		f.stats.Int("hits").Add(1)
		f.remember(id)
		return id, nil
	}
	if err := f.write(ctx, id, p); err != nil {
		return ID{}, err
	}
	f.stats.Int("writebytes").Add(int64(len(p)))
	f.remember(id)
	return id, nil
}

// remember marks a content record as present so that later Stores of
// the same content skip the filesystem.
func (f *File) remember(id ID) {
	f.mu.Lock()
	f.known[id] = true
	f.mu.Unlock()
}

// Placeholder implements Store.
func (f *File) Placeholder(ctx context.Context, v value.Value) (ID, error) {
	p, err := value.Marshal(v)
	if err != nil {
		return ID{}, err
	}
	id := FreshID()
	if err := f.lim.Acquire(ctx, 1); err != nil {
		return ID{}, err
	}
	defer f.lim.Release(1)
	if err := f.write(ctx, id, p); err != nil {
		return ID{}, err
	}
	f.stats.Int("placeholders").Add(1)
	return id, nil
}

// Load implements Store.
func (f *File) Load(ctx context.Context, id ID) (value.Value, error) {
	if err := f.lim.Acquire(ctx, 1); err != nil {
		return value.Value{}, err
	}
	defer f.lim.Release(1)
	return f.load(ctx, id)
}

// Accumulate implements Store.
func (f *File) Accumulate(ctx context.Context, id ID, b batch.Batch, partial value.Value) error {
	lock := f.lock(id)
	lock.Lock()
	defer lock.Unlock()
	if err := f.lim.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.lim.Release(1)
	v, err := f.load(ctx, id)
	if err != nil {
		return err
	}
	if err := b.AccumulateResult(&v, partial); err != nil {
		return err
	}
	p, err := value.Marshal(v)
	if err != nil {
		return err
	}
	f.stats.Int("accumulates").Add(1)
	return f.write(ctx, id, p)
}

// Clear implements Store.
func (f *File) Clear(ctx context.Context) error {
	lst := file.List(ctx, f.Prefix, true)
	var paths []string
	for lst.Scan() {
		paths = append(paths, lst.Path())
	}
	if err := lst.Err(); err != nil {
		return err
	}
	for _, path := range paths {
		if err := file.Remove(ctx, path); err != nil && !errors.Is(errors.NotExist, err) {
			return err
		}
	}
	// A clear starts a new memoization epoch.
	f.mu.Lock()
	f.known = make(map[ID]bool)
	f.locks = make(map[ID]*sync.Mutex)
	f.mu.Unlock()
	return nil
}

// Stats implements Store.
func (f *File) Stats() stats.Values {
	vals := make(stats.Values)
	f.stats.AddAll(vals)
	return vals
}

// Timings returns a snapshot of the store's timers.
func (f *File) Timings() stats.Timings {
	timings := make(stats.Timings)
	f.stats.AddTimings(timings)
	return timings
}

// ResetStats zeroes the store's counters and timers.
func (f *File) ResetStats() {
	f.stats.Reset()
}

func (f *File) load(ctx context.Context, id ID) (value.Value, error) {
	begin := time.Now()
	defer func() { f.stats.Timer("read").Add(time.Since(begin)) }()
	fl, err := file.Open(ctx, f.path(id))
	if err != nil {
		return value.Value{}, err
	}
	p, err := ioutil.ReadAll(fl.Reader(ctx))
	if closeErr := closeFile(ctx, fl); err == nil {
		err = closeErr
	}
	if err != nil {
		return value.Value{}, err
	}
	var v value.Value
	if err := value.Unmarshal(p, &v); err != nil {
		return value.Value{}, err
	}
	f.stats.Int("loads").Add(1)
	f.stats.Int("readbytes").Add(int64(len(p)))
	return v, nil
}

func (f *File) write(ctx context.Context, id ID, p []byte) error {
	fl, err := file.Create(ctx, f.path(id))
	if err != nil {
		return err
	}
	if _, err := fl.Writer(ctx).Write(p); err != nil {
		fl.Discard(ctx)
		return err
	}
	return closeFile(ctx, fl)
}

func (f *File) lock(id ID) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock := f.locks[id]
	if lock == nil {
		lock = new(sync.Mutex)
		f.locks[id] = lock
	}
	return lock
}

type closeNoSyncer interface {
	CloseNoSync(context.Context) error
}

// closeFile closes the provided file. It avoids syncing if the
// implementation supports it.
func closeFile(ctx context.Context, f file.File) error {
	if closer, ok := f.(closeNoSyncer); ok {
		return closer.CloseNoSync(ctx)
	}
	return f.Close(ctx)
}
