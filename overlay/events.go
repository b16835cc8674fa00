// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"github.com/depot-cache/depotd/artifact"
)

// InboundEvent - a remote peer asked this node for an artifact
//
// the application answers through the attached Responder; an
// unanswered request is reset once the response window elapses
type InboundEvent struct {
	Hash      artifact.Hash
	Responder Responder
}

// Responder - single use handle for answering one inbound request
type Responder struct {
	id uint64
}
