// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package macroq implements a distributed macro task scheduler.
	Users define coarse-grained numerical tasks over tuples of values
	(scalars, fields, and vectors of fields); macroq partitions the
	vector arguments of each submission into batches, executes the
	batches on a pool of subworlds, and merges the partial results by
	accumulation into a single output value. While users express
	computations as plain Go types implementing the Task interface,
	macroq takes care of partitioning, data movement, scheduling, and
	reduction.

	Task arguments are exchanged through record stores (package
	cloud). Input records are addressed by their content, so that
	submitting the same data twice stores and ships it only once;
	output records are created fresh for every submission, so that
	repeated submissions compute independent results.

	Macro task queues (package exec) can run locally, but use
	bigmachine for distribution among a cluster of compute nodes. In
	either case, user code does not change; the details of
	distribution are handled by the combination of bigmachine and
	macroq.

	Because Go cannot serialize code to be sent over the wire and
	executed remotely, distributed macroq programs have to be written
	with a few constraints:

	1. Task types that run on remote subworlds must be registered with
	encoding/gob and must carry their parameters in exported fields;
	the task value is gob-encoded when it is shipped.

	2. The driver program must be compiled on the same GOOS and GOARCH
	as the target architecture. When running locally, this is not a
	concern, but programs that require distribution must be run from a
	linux/amd64 binary.

	Tasks may also be applied immediately, without a queue, in the
	calling goroutine; results are identical to deferred execution
	through a queue. See package exec for details.
*/
package macroq
