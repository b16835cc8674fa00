// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cascade

import (
	"github.com/bitmark-inc/logger"

	"github.com/depot-cache/depotd/overlay"
)

// Answering - the overlay operation needed to answer a request
type Answering interface {
	Respond(overlay.Responder, []byte, error) error
}

// Responder - serves inbound artifact requests from the local store
type Responder struct {
	log    *logger.L
	store  Storage
	client Answering
	events <-chan overlay.InboundEvent
}

// NewResponder - build the inbound request server
func NewResponder(store Storage, client Answering, events <-chan overlay.InboundEvent, log *logger.L) *Responder {
	return &Responder{
		log:    log,
		store:  store,
		client: client,
		events: events,
	}
}

// Run - answer inbound requests until shutdown; background.Process
// interface
func (r *Responder) Run(args interface{}, shutdown <-chan struct{}) {
	log := r.log
	log.Info("starting…")

loop:
	for {
		select {
		case <-shutdown:
			break loop
		case ev := <-r.events:
			data, err := r.store.Get(ev.Hash)
			if nil == err {
				log.Debugf("serving %s (%d bytes)", ev.Hash, len(data))
			} else {
				log.Debugf("request for %s: %s", ev.Hash, err)
			}
			if err := r.client.Respond(ev.Responder, data, err); nil != err {
				log.Debugf("respond for %s: %s", ev.Hash, err)
			}
		}
	}

	log.Info("finished")
}
