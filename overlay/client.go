// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

// Client - a cheap copyable handle onto the engine command channel
//
// safe for concurrent use from any goroutine; every method returns
// fault.EngineStopped once the engine has shut down
type Client struct {
	commands chan<- command
	done     <-chan struct{}
}

func (c Client) submit(cmd command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-c.done:
		return fault.EngineStopped
	}
}

func (c Client) awaitErr(cmd command, reply chan error) error {
	if err := c.submit(cmd); nil != err {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		// the loop may have replied just before stopping
		select {
		case err := <-reply:
			return err
		default:
			return fault.EngineStopped
		}
	}
}

func (c Client) awaitPeers(cmd command, reply chan []peerlib.ID) []peerlib.ID {
	if err := c.submit(cmd); nil != err {
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-c.done:
		select {
		case ids := <-reply:
			return ids
		default:
			return nil
		}
	}
}

func (c Client) awaitFetch(cmd command, reply chan fetchReply) ([]byte, error) {
	if err := c.submit(cmd); nil != err {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.data, r.err
	case <-c.done:
		select {
		case r := <-reply:
			return r.data, r.err
		default:
			return nil, fault.EngineStopped
		}
	}
}

// Listen - start accepting connections on addr
func (c Client) Listen(addr ma.Multiaddr) error {
	reply := make(chan error, 1)
	return c.awaitErr(listenCommand{addr: addr, reply: reply}, reply)
}

// Dial - connect to a remote peer and add it to the partial view
func (c Client) Dial(info peerlib.AddrInfo) error {
	reply := make(chan error, 1)
	return c.awaitErr(dialCommand{info: info, reply: reply}, reply)
}

// Provide - announce h as locally available
func (c Client) Provide(h artifact.Hash) error {
	reply := make(chan error, 1)
	return c.awaitErr(provideCommand{hash: h.String(), reply: reply}, reply)
}

// StopProviding - withdraw the announcement for h
func (c Client) StopProviding(h artifact.Hash) error {
	reply := make(chan error, 1)
	return c.awaitErr(stopProvidingCommand{hash: h.String(), reply: reply}, reply)
}

// ListProviders - peers recently seen announcing h
func (c Client) ListProviders(h artifact.Hash) []peerlib.ID {
	reply := make(chan []peerlib.ID, 1)
	return c.awaitPeers(providersCommand{hash: h.String(), reply: reply}, reply)
}

// ListPeers - the current partial view of the network
func (c Client) ListPeers() []peerlib.ID {
	reply := make(chan []peerlib.ID, 1)
	return c.awaitPeers(peersCommand{reply: reply}, reply)
}

// RequestArtifact - fetch the content of h from a specific peer
//
// returns fault.PeerTimeout when the peer does not answer within the
// engine request timeout and fault.PeerTransferFailed on any stream
// or decode failure
func (c Client) RequestArtifact(to peerlib.ID, h artifact.Hash) ([]byte, error) {
	reply := make(chan fetchReply, 1)
	return c.awaitFetch(requestCommand{to: to, hash: h.String(), reply: reply}, reply)
}

// Respond - answer one inbound request; a Responder is single use
// and returns fault.ResponderUsed on reuse or after expiry
func (c Client) Respond(r Responder, data []byte, rerr error) error {
	reply := make(chan error, 1)
	return c.awaitErr(respondCommand{id: r.id, data: data, err: rerr, reply: reply}, reply)
}
