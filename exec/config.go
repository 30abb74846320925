// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/macroq/cloud"
)

func init() {
	config.Register("macroq", func(inst *config.Constructor) {
		q := newQueue()
		inst.IntVar(&q.nsub, "subworlds", 0, "the number of subworlds on which tasks run; 0 provisions one per CPU")
		inst.IntVar(&q.gran, "granularity", 0, "the default batch size for unpartitioned tasks; 0 uses the built-in default")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system on which subworlds run; empty runs them in process")
		var storage string
		inst.StringVar(&storage, "storage", "", "a URL prefix under which records are kept; empty keeps records in memory")
		inst.Doc = "macroq configures the macro task queue runtime"
		inst.New = func() (interface{}, error) {
			if system != nil {
				q.runtime = newBigmachineRuntime(system)
			}
			if storage != "" {
				q.store = cloud.NewFile(storage)
			}
			if err := q.start(); err != nil {
				return nil, err
			}
			return q, nil
		}
	})
}
