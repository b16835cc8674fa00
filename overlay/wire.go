// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package overlay

import (
	"context"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/libp2p/go-libp2p-core/network"
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/bitmark-inc/logger"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

// announcement kinds carried on the gossip topic
const (
	announceProvide  = "provide"
	announceWithdraw = "withdraw"
)

// announcement - gossip record advertising availability of artifacts
type announcement struct {
	Kind   string   `cbor:"kind"`
	Hashes []string `cbor:"hashes"`
}

// one request/response pair per stream
type artifactRequest struct {
	Hash string `cbor:"hash"`
}

type artifactResponse struct {
	Found bool   `cbor:"found"`
	Data  []byte `cbor:"data,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// the subset of network.Stream needed to answer a request; narrowed
// so tests can respond through an in-memory stand in
type responseStream interface {
	io.Writer
	io.Closer
	Reset() error
	SetWriteDeadline(time.Time) error
}

// exchange - open a stream to a peer, send one request and read the
// response; runs outside the engine loop
func (e *Engine) exchange(to peerlib.ID, hash string) ([]byte, error) {
	log := e.log

	ctx, cancel := context.WithTimeout(e.ctx, e.requestTimeout)
	defer cancel()

	s, err := e.host.NewStream(ctx, to, artifactProtocol)
	if nil != err {
		log.Debugf("exchange: stream to %s: %s", to.Pretty(), err)
		return nil, fault.PeerTransferFailed
	}
	_ = s.SetDeadline(time.Now().Add(e.requestTimeout))

	if err := cbor.NewEncoder(s).Encode(artifactRequest{Hash: hash}); nil != err {
		log.Debugf("exchange: send to %s: %s", to.Pretty(), err)
		_ = s.Reset()
		return nil, fault.PeerTransferFailed
	}

	var response artifactResponse
	if err := cbor.NewDecoder(s).Decode(&response); nil != err {
		log.Debugf("exchange: receive from %s: %s", to.Pretty(), err)
		_ = s.Reset()
		return nil, fault.PeerTransferFailed
	}
	_ = s.Close()

	if !response.Found {
		log.Debugf("exchange: %s does not hold %s: %q", to.Pretty(), hash, response.Error)
		return nil, fault.PeerTransferFailed
	}
	return response.Data, nil
}

// publish - broadcast an announcement on the gossip topic
func (e *Engine) publish(a announcement) error {
	data, err := cbor.Marshal(a)
	if nil != err {
		return err
	}
	return e.pubsub.Publish(announceTopic, data)
}

// handleStream - inbound side of the artifact protocol; decodes the
// request and hands it to the engine loop for dispatch
func (e *Engine) handleStream(s network.Stream) {
	log := e.log

	if !e.limiter.Allow() {
		log.Debugf("inbound request from %s rejected: rate limit", s.Conn().RemotePeer().Pretty())
		_ = s.Reset()
		return
	}

	_ = s.SetReadDeadline(time.Now().Add(e.responseWindow))

	var request artifactRequest
	if err := cbor.NewDecoder(s).Decode(&request); nil != err {
		log.Debugf("inbound request decode: %s", err)
		_ = s.Reset()
		return
	}

	h, err := artifact.Parse(request.Hash)
	if nil != err {
		go writeResponse(log, s, e.responseWindow, nil, err)
		return
	}

	e.emit(inboundStreamEvent{hash: h, stream: s})
}

// writeResponse - send one response and close the stream; runs
// outside the engine loop
func writeResponse(log *logger.L, s responseStream, window time.Duration, data []byte, rerr error) {
	_ = s.SetWriteDeadline(time.Now().Add(window))

	response := artifactResponse{Found: nil == rerr, Data: data}
	if nil != rerr {
		response.Error = rerr.Error()
	}

	if err := cbor.NewEncoder(s).Encode(response); nil != err {
		log.Debugf("response send: %s", err)
		_ = s.Reset()
		return
	}
	_ = s.Close()
}

// subLoop - pump gossip messages into the engine loop
func (e *Engine) subLoop(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(e.ctx)
		if nil != err {
			return
		}
		from := msg.GetFrom()
		if from == e.host.ID() {
			continue
		}
		var a announcement
		if err := cbor.Unmarshal(msg.Data, &a); nil != err {
			e.log.Debugf("announcement decode from %s: %s", from.Pretty(), err)
			continue
		}
		e.emit(gossipEvent{from: from, msg: a})
	}
}
