// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/depot-cache/depotd/artifact"
)

// commands are the only way callers influence engine state; each
// carries its own reply channel of capacity one so the loop never
// blocks on a slow caller
type command interface {
	isCommand()
}

type fetchReply struct {
	data []byte
	err  error
}

type listenCommand struct {
	addr  ma.Multiaddr
	reply chan error
}

type dialCommand struct {
	info  peerlib.AddrInfo
	reply chan error
}

type provideCommand struct {
	hash  string
	reply chan error
}

type stopProvidingCommand struct {
	hash  string
	reply chan error
}

type providersCommand struct {
	hash  string
	reply chan []peerlib.ID
}

type peersCommand struct {
	reply chan []peerlib.ID
}

type requestCommand struct {
	to    peerlib.ID
	hash  string
	reply chan fetchReply
}

type respondCommand struct {
	id    uint64
	data  []byte
	err   error
	reply chan error
}

func (listenCommand) isCommand()        {}
func (dialCommand) isCommand()          {}
func (provideCommand) isCommand()       {}
func (stopProvidingCommand) isCommand() {}
func (providersCommand) isCommand()     {}
func (peersCommand) isCommand()         {}
func (requestCommand) isCommand()       {}
func (respondCommand) isCommand()       {}

// events are produced by network callbacks and timers and consumed
// only by the engine loop
type event interface {
	isEvent()
}

type peerFoundEvent struct {
	info peerlib.AddrInfo
}

type gossipEvent struct {
	from peerlib.ID
	msg  announcement
}

type inboundStreamEvent struct {
	hash   artifact.Hash
	stream responseStream
}

type requestDoneEvent struct {
	id   uint64
	data []byte
	err  error
}

type requestExpiredEvent struct {
	id uint64
}

type responderExpiredEvent struct {
	id uint64
}

func (peerFoundEvent) isEvent()        {}
func (gossipEvent) isEvent()           {}
func (inboundStreamEvent) isEvent()    {}
func (requestDoneEvent) isEvent()      {}
func (requestExpiredEvent) isEvent()   {}
func (responderExpiredEvent) isEvent() {}
