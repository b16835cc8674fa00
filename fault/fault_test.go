// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/depot-cache/depotd/fault"
)

func TestErrorClasses(t *testing.T) {
	assert.True(t, fault.IsErrNotFound(fault.NotFoundLocally), "NotFoundLocally class")
	assert.True(t, fault.IsErrNotFound(fault.NoProviders), "NoProviders class")
	assert.True(t, fault.IsErrNotFound(fault.OriginNotFound), "OriginNotFound class")
	assert.True(t, fault.IsErrInvalid(fault.IntegrityMismatch), "IntegrityMismatch class")
	assert.True(t, fault.IsErrTimeout(fault.PeerTimeout), "PeerTimeout class")
	assert.True(t, fault.IsErrProcess(fault.QuotaExceeded), "QuotaExceeded class")
	assert.False(t, fault.IsErrNotFound(fault.IntegrityMismatch), "wrong class")
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "artifact is not stored locally", fault.NotFoundLocally.Error(), "error text")
}
