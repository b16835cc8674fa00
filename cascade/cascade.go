// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cascade - artifact retrieval ordering
//
// A resolve walks three tiers: the local store, then a peer that
// recently announced the artifact, then the upstream origin.  Every
// remote fetch is committed through the store first so the bytes
// handed back are always the verified on-disk copy, and every
// successful commit is announced to the overlay.
package cascade

import (
	"bytes"
	"io"

	"github.com/bitmark-inc/logger"
	peerlib "github.com/libp2p/go-libp2p-core/peer"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

// Storage - the store operations a resolve needs
type Storage interface {
	Get(artifact.Hash) ([]byte, error)
	Put(artifact.Hash, io.Reader) (bool, error)
	Has(artifact.Hash) bool
}

// Network - the overlay operations a resolve needs
type Network interface {
	ListProviders(artifact.Hash) []peerlib.ID
	RequestArtifact(peerlib.ID, artifact.Hash) ([]byte, error)
	Provide(artifact.Hash) error
}

// Origin - the upstream registry fallback
type Origin interface {
	FetchBlob(string, artifact.Hash) ([]byte, error)
}

// Resolver - ties the three retrieval tiers together
type Resolver struct {
	log     *logger.L
	store   Storage
	network Network
	origin  Origin
}

// NewResolver - build a resolver over concrete tiers
func NewResolver(store Storage, network Network, origin Origin, log *logger.L) *Resolver {
	return &Resolver{
		log:     log,
		store:   store,
		network: network,
		origin:  origin,
	}
}

// Resolve - return the verified content of h, fetching and caching
// it from a peer or the origin when not already held locally
//
// name scopes the origin lookup; it plays no part in the local or
// peer tiers since content is addressed purely by hash
func (r *Resolver) Resolve(name string, h artifact.Hash) ([]byte, error) {
	log := r.log

	data, err := r.store.Get(h)
	if nil == err {
		log.Debugf("resolve %s: local", h)
		return data, nil
	}
	if fault.NotFoundLocally != err {
		return nil, err
	}

	if err := r.fromPeers(h); nil != err {
		log.Debugf("resolve %s: peers: %s", h, err)
		if err := r.fromOrigin(name, h); nil != err {
			log.Debugf("resolve %s: origin: %s", h, err)
			return nil, err
		}
	}

	// hand back the committed copy rather than the transfer buffer
	return r.store.Get(h)
}

// fetch from the first peer currently announcing h; any failure in
// this tier falls through to the origin
func (r *Resolver) fromPeers(h artifact.Hash) error {
	providers := r.network.ListProviders(h)
	if 0 == len(providers) {
		return fault.NoProviders
	}

	provider := providers[0]
	data, err := r.network.RequestArtifact(provider, h)
	if nil != err {
		return err
	}

	if _, err := r.store.Put(h, bytes.NewReader(data)); nil != err {
		return err
	}
	r.log.Infof("resolve %s: fetched from peer %s", h, provider.Pretty())
	r.announce(h)
	return nil
}

func (r *Resolver) fromOrigin(name string, h artifact.Hash) error {
	data, err := r.origin.FetchBlob(name, h)
	if nil != err {
		return err
	}

	if _, err := r.store.Put(h, bytes.NewReader(data)); nil != err {
		return err
	}
	r.log.Infof("resolve %s: fetched from origin", h)
	r.announce(h)
	return nil
}

// announcing is best effort; a failed announce only costs remote
// peers a cache miss
func (r *Resolver) announce(h artifact.Hash) {
	if err := r.network.Provide(h); nil != err {
		r.log.Warnf("announce %s: %s", h, err)
	}
}
