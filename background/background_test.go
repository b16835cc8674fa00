// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package background_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/depot-cache/depotd/background"
)

type counted struct {
	started  int32
	finished int32
}

func (c *counted) Run(args interface{}, shutdown <-chan struct{}) {
	atomic.AddInt32(&c.started, 1)
	<-shutdown
	atomic.AddInt32(&c.finished, 1)
}

func TestStartStop(t *testing.T) {
	one := &counted{}
	two := &counted{}

	processes := background.Processes{one, two}
	bg := background.Start(processes, nil)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&one.started), "first not started")
	assert.Equal(t, int32(1), atomic.LoadInt32(&two.started), "second not started")

	bg.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&one.finished), "first not finished")
	assert.Equal(t, int32(1), atomic.LoadInt32(&two.finished), "second not finished")
}

func TestStopNil(t *testing.T) {
	var bg *background.T
	assert.NotPanics(t, func() { bg.Stop() }, "nil stop")
}
