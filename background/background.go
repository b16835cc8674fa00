// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package background - setup and run a group of background processes
// sharing a common shutdown signal
package background

import (
	"sync"
)

// T - handle for later stopping the group
type T struct {
	wg       sync.WaitGroup
	finalise chan struct{}
}

// Process - interface for a single background process
type Process interface {
	Run(args interface{}, shutdown <-chan struct{})
}

// Processes - list of processes to start as a group
type Processes []Process

// Start - start up a set of background processes
// all passed the same arg value
func Start(processes Processes, args interface{}) *T {
	register := &T{
		finalise: make(chan struct{}),
	}
	register.wg.Add(len(processes))

	for _, p := range processes {
		go func(p Process) {
			defer register.wg.Done()
			p.Run(args, register.finalise)
		}(p)
	}
	return register
}

// Stop - stop the group and wait for all processes to return
func (t *T) Stop() {
	if nil == t {
		return
	}
	close(t.finalise)
	t.wg.Wait()
}
