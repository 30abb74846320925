// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cloud implements the record stores through which macro
// tasks exchange data. Input values are stored under content-derived
// record ids, so that storing the same value twice yields the same
// record and transfers nothing; output records are created under
// fresh unique ids and merged into by accumulation. Stores keep
// records in memory or at file URLs.
package cloud

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/macroq/batch"
	"github.com/grailbio/macroq/stats"
	"github.com/grailbio/macroq/value"
	"github.com/spaolacci/murmur3"
)

// An ID names a record in a Store. Input records take their id from
// their content; output records are assigned fresh ids so that
// repeated runs never share outputs.
type ID struct {
	Hi, Lo uint64
}

// ContentID returns the id under which the encoded record p is
// stored. Equal contents always produce equal ids.
func ContentID(p []byte) ID {
	hi, lo := murmur3.Sum128(p)
	return ID{hi, lo}
}

// FreshID returns a unique id, never equal to any content id in
// practice.
func FreshID() ID {
	u := uuid.New()
	return ID{
		Hi: binary.BigEndian.Uint64(u[:8]),
		Lo: binary.BigEndian.Uint64(u[8:]),
	}
}

// String returns the full hexadecimal form of the id.
func (id ID) String() string {
	return fmt.Sprintf("%016x%016x", id.Hi, id.Lo)
}

// Short returns an abbreviated form of the id for display.
func (id ID) Short() string {
	return id.String()[:12]
}

// A List is an ordered list of record ids, as produced by storing a
// tuple of task arguments.
type List []ID

// String returns the abbreviated ids in the list.
func (l List) String() string {
	ids := make([]string, len(l))
	for i, id := range l {
		ids[i] = id.Short()
	}
	return strings.Join(ids, ",")
}

// Store is the interface to a record store. Implementations are safe
// for concurrent use, and concurrent accumulations into a single
// record are serialized.
type Store interface {
	// Store writes the value under its content id and returns the id.
	// Storing a value already present is a no-op.
	Store(ctx context.Context, v value.Value) (ID, error)

	// Placeholder creates a record under a fresh id, holding v. Each
	// call creates a new, independent record.
	Placeholder(ctx context.Context, v value.Value) (ID, error)

	// Load returns the value stored under id. If no such record
	// exists, an error with kind errors.NotExist is returned: loads
	// are only ever issued for records stored earlier, so a missing
	// record is a programming error.
	Load(ctx context.Context, id ID) (value.Value, error)

	// Accumulate merges the partial result of batch b into the record
	// id.
	Accumulate(ctx context.Context, id ID, b batch.Batch, partial value.Value) error

	// Clear drops all records from the store.
	Clear(ctx context.Context) error

	// Stats returns a snapshot of the store's counters.
	Stats() stats.Values
}

// StoreTuple stores each value of the tuple and returns the list of
// record ids, in tuple order.
func StoreTuple(ctx context.Context, store Store, args value.Tuple) (List, error) {
	ids := make(List, len(args))
	err := traverse.Each(len(args), func(i int) error {
		id, err := store.Store(ctx, args[i])
		ids[i] = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LoadTuple loads the records named by ids and returns them as a
// tuple, in list order.
func LoadTuple(ctx context.Context, store Store, ids List) (value.Tuple, error) {
	args := make(value.Tuple, len(ids))
	err := traverse.Each(len(ids), func(i int) error {
		v, err := store.Load(ctx, ids[i])
		args[i] = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return args, nil
}
