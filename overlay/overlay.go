// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package overlay - the peer to peer exchange subsystem
//
// A single engine goroutine exclusively owns all network protocol
// state: the libp2p host, local discovery, the gossip announce topic
// and the artifact request/response protocol.  Everything else in
// the node talks to it through a Client handle that submits typed
// commands over a channel, each carrying a single use reply slot, so
// no locking of swarm state is ever needed.
package overlay

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bitmark-inc/logger"
	libp2p "github.com/libp2p/go-libp2p"
	crypto "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/host"
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/libp2p/go-libp2p-core/protocol"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	tls "github.com/libp2p/go-libp2p-tls"
	discovery "github.com/libp2p/go-libp2p/p2p/discovery"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/depot-cache/depotd/fault"
	"github.com/depot-cache/depotd/util"
)

// protocol identifiers
const announceTopic = "/depot/announce/1.0.0"
const artifactProtocol protocol.ID = "/depot/artifact/1.0.0"
const mdnsServiceTag = "depot"

// time intervals
const (
	mdnsInterval          = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultResponseWindow = 30 * time.Second
	dialTimeout           = 30 * time.Second
	partialViewExpiry     = 2 * time.Minute
	providerExpiry        = 3 * time.Minute
	reannounceInitial     = 5 * time.Second
	reannounceInterval    = 1 * time.Minute
	cacheSweepInterval    = 1 * time.Minute
)

// channel capacities
const (
	commandBacklog = 128
	eventBacklog   = 256
	inboundBacklog = 64
)

// inbound artifact request rate limiting
const (
	inboundRateLimit = 50 // per second
	inboundRateBurst = 100
)

// Configuration - explicit startup values for the engine
//
// there are deliberately no process wide statics: identity and
// topics are constructed once here and owned by the engine
type Configuration struct {
	PrivateKey     string        // hex encoded key; empty selects a fresh ephemeral identity
	RequestTimeout time.Duration // zero selects the default
}

// Engine - exclusive owner of the overlay network state
type Engine struct {
	log    *logger.L
	host   host.Host
	mdns   discovery.Service
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc

	requestTimeout time.Duration
	responseWindow time.Duration
	limiter        *rate.Limiter

	commands  chan command
	netEvents chan event
	events    chan InboundEvent
	done      chan struct{}

	// indirections for the network edges, overridable in tests
	exchangeFunc func(peerlib.ID, string) ([]byte, error)
	publishFunc  func(announcement) error

	// state below is touched only by the Run loop
	nextRequestID uint64
	pendingOut    map[uint64]*pendingRequest
	nextInboundID uint64
	pendingIn     map[uint64]*inboundPending
	provided      map[string]struct{}
	providers     *cache.Cache
	partialView   *cache.Cache
}

// an outstanding outbound request; the entry is released exactly
// once, either fulfilled or timed out
type pendingRequest struct {
	reply chan fetchReply
	timer *time.Timer
}

// an inbound request awaiting a Respond call
type inboundPending struct {
	stream responseStream
	timer  *time.Timer
}

func newEngine(log *logger.L, requestTimeout time.Duration) *Engine {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
		requestTimeout: requestTimeout,
		responseWindow: defaultResponseWindow,
		limiter:        rate.NewLimiter(rate.Limit(inboundRateLimit), inboundRateBurst),
		commands:       make(chan command, commandBacklog),
		netEvents:      make(chan event, eventBacklog),
		events:         make(chan InboundEvent, inboundBacklog),
		done:           make(chan struct{}),
		pendingOut:     make(map[uint64]*pendingRequest),
		pendingIn:      make(map[uint64]*inboundPending),
		provided:       make(map[string]struct{}),
		providers:      cache.New(providerExpiry, cacheSweepInterval),
		partialView:    cache.New(partialViewExpiry, cacheSweepInterval),
	}
	e.exchangeFunc = e.exchange
	e.publishFunc = e.publish
	return e
}

// New - build the engine: identity, TLS secured host, gossip topic,
// artifact stream protocol and local discovery
func New(configuration *Configuration, log *logger.L) (*Engine, error) {
	e := newEngine(log, configuration.RequestTimeout)

	prvKey, err := identityKey(configuration.PrivateKey, log)
	if nil != err {
		e.cancel()
		return nil, err
	}

	newHost, err := libp2p.New(e.ctx,
		libp2p.Identity(prvKey),
		libp2p.Security(tls.ID, tls.New),
	)
	if nil != err {
		e.cancel()
		return nil, err
	}
	e.host = newHost
	e.host.SetStreamHandler(artifactProtocol, e.handleStream)

	ps, err := pubsub.NewGossipSub(e.ctx, e.host)
	if nil != err {
		e.cancel()
		e.host.Close()
		return nil, err
	}
	e.pubsub = ps
	sub, err := ps.Subscribe(announceTopic)
	if nil != err {
		e.cancel()
		e.host.Close()
		return nil, err
	}
	go e.subLoop(sub)

	// local network discovery; a restricted environment without
	// multicast still works through dial and bootstrap
	svc, err := discovery.NewMdnsService(e.ctx, e.host, mdnsInterval, mdnsServiceTag)
	if nil != err {
		log.Warnf("mdns unavailable: %s", err)
	} else {
		svc.RegisterNotifee(&mdnsNotifee{engine: e})
		e.mdns = svc
	}

	log.Infof("peer identity: %s", e.host.ID().Pretty())
	return e, nil
}

func identityKey(hexKey string, log *logger.L) (crypto.PrivKey, error) {
	if "" == hexKey {
		log.Warn("no private key configured, using an ephemeral identity")
		return util.GenRandPrvKey()
	}
	return util.DecodePrvKeyFromHex(hexKey)
}

// ID - this node's peer identity
func (e *Engine) ID() peerlib.ID {
	return e.host.ID()
}

// Client - a handle for submitting commands to the engine
func (e *Engine) Client() Client {
	return Client{commands: e.commands, done: e.done}
}

// Events - inbound artifact requests surfaced to the application
func (e *Engine) Events() <-chan InboundEvent {
	return e.events
}

// Run - the engine loop; background.Process interface
//
// services commands, network events and pending request expiry; no
// other goroutine mutates the engine state
func (e *Engine) Run(args interface{}, shutdown <-chan struct{}) {
	log := e.log
	log.Info("starting…")

	delay := time.After(reannounceInitial)
loop:
	for {
		select {
		case <-shutdown:
			break loop
		case cmd := <-e.commands:
			e.handleCommand(cmd)
		case evt := <-e.netEvents:
			e.handleEvent(evt)
		case <-delay:
			delay = time.After(reannounceInterval)
			e.reannounce()
		}
	}

	close(e.done)
	e.cancel()
	if nil != e.mdns {
		e.mdns.Close()
	}
	if nil != e.host {
		e.host.Close()
	}
	log.Info("finished")
}

func (e *Engine) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case listenCommand:
		c.reply <- e.host.Network().Listen(c.addr)
	case dialCommand:
		go e.dial(c)
	case provideCommand:
		e.provided[c.hash] = struct{}{}
		c.reply <- e.publishFunc(announcement{Kind: announceProvide, Hashes: []string{c.hash}})
	case stopProvidingCommand:
		delete(e.provided, c.hash)
		c.reply <- e.publishFunc(announcement{Kind: announceWithdraw, Hashes: []string{c.hash}})
	case providersCommand:
		c.reply <- e.lookupProviders(c.hash)
	case peersCommand:
		c.reply <- e.knownPeers()
	case requestCommand:
		e.startRequest(c)
	case respondCommand:
		c.reply <- e.finishInbound(c)
	}
}

func (e *Engine) handleEvent(evt event) {
	switch ev := evt.(type) {
	case peerFoundEvent:
		if nil != e.host && ev.info.ID == e.host.ID() {
			return
		}
		if nil != e.host {
			e.host.Peerstore().AddAddrs(ev.info.ID, ev.info.Addrs, peerstore.ProviderAddrTTL)
		}
		e.partialView.Set(ev.info.ID.Pretty(), ev.info, partialViewExpiry)

	case gossipEvent:
		// any traffic proves liveness
		e.refreshPeer(ev.from)
		switch ev.msg.Kind {
		case announceProvide:
			for _, hash := range ev.msg.Hashes {
				e.providers.Set(providerKey(hash, ev.from), ev.from, providerExpiry)
			}
		case announceWithdraw:
			for _, hash := range ev.msg.Hashes {
				e.providers.Delete(providerKey(hash, ev.from))
			}
		default:
			e.log.Debugf("ignoring announcement kind %q from %s", ev.msg.Kind, ev.from.Pretty())
		}

	case inboundStreamEvent:
		id := e.nextInboundID
		e.nextInboundID += 1
		entry := &inboundPending{stream: ev.stream}
		entry.timer = time.AfterFunc(e.responseWindow, func() { e.emit(responderExpiredEvent{id: id}) })
		e.pendingIn[id] = entry
		select {
		case e.events <- InboundEvent{Hash: ev.hash, Responder: Responder{id: id}}:
		default:
			// the application is not draining events; shed the request
			delete(e.pendingIn, id)
			entry.timer.Stop()
			_ = ev.stream.Reset()
			e.log.Warn("inbound request dropped: event backlog full")
		}

	case requestDoneEvent:
		if p, ok := e.pendingOut[ev.id]; ok {
			delete(e.pendingOut, ev.id)
			p.timer.Stop()
			p.reply <- fetchReply{data: ev.data, err: ev.err}
		}

	case requestExpiredEvent:
		if p, ok := e.pendingOut[ev.id]; ok {
			delete(e.pendingOut, ev.id)
			p.reply <- fetchReply{err: fault.PeerTimeout}
		}

	case responderExpiredEvent:
		if entry, ok := e.pendingIn[ev.id]; ok {
			delete(e.pendingIn, ev.id)
			_ = entry.stream.Reset()
		}
	}
}

func (e *Engine) startRequest(c requestCommand) {
	id := e.nextRequestID
	e.nextRequestID += 1

	p := &pendingRequest{reply: c.reply}
	p.timer = time.AfterFunc(e.requestTimeout, func() { e.emit(requestExpiredEvent{id: id}) })
	e.pendingOut[id] = p

	go func() {
		data, err := e.exchangeFunc(c.to, c.hash)
		e.emit(requestDoneEvent{id: id, data: data, err: err})
	}()
}

func (e *Engine) finishInbound(c respondCommand) error {
	entry, ok := e.pendingIn[c.id]
	if !ok {
		return fault.ResponderUsed
	}
	delete(e.pendingIn, c.id)
	entry.timer.Stop()
	go writeResponse(e.log, entry.stream, e.responseWindow, c.data, c.err)
	return nil
}

func (e *Engine) dial(c dialCommand) {
	ctx, cancel := context.WithTimeout(e.ctx, dialTimeout)
	defer cancel()

	err := e.host.Connect(ctx, c.info)
	if nil == err {
		e.emit(peerFoundEvent{info: c.info})
	}
	c.reply <- err
}

// republish the provided set so remote provider records do not go
// stale while this node still holds the content
func (e *Engine) reannounce() {
	if 0 == len(e.provided) {
		return
	}
	hashes := make([]string, 0, len(e.provided))
	for hash := range e.provided {
		hashes = append(hashes, hash)
	}
	if err := e.publishFunc(announcement{Kind: announceProvide, Hashes: hashes}); nil != err {
		e.log.Warnf("reannounce: %s", err)
	}
}

func (e *Engine) refreshPeer(from peerlib.ID) {
	key := from.Pretty()
	if existing, ok := e.partialView.Get(key); ok {
		e.partialView.Set(key, existing, partialViewExpiry)
	} else {
		e.partialView.Set(key, peerlib.AddrInfo{ID: from}, partialViewExpiry)
	}
}

func (e *Engine) lookupProviders(hash string) []peerlib.ID {
	prefix := hash + "|"
	ids := make([]peerlib.ID, 0, 4)
	for key, item := range e.providers.Items() {
		if strings.HasPrefix(key, prefix) {
			if id, ok := item.Object.(peerlib.ID); ok {
				ids = append(ids, id)
			}
		}
	}
	sortIDs(ids)
	return ids
}

func (e *Engine) knownPeers() []peerlib.ID {
	ids := make([]peerlib.ID, 0, 8)
	for _, item := range e.partialView.Items() {
		if info, ok := item.Object.(peerlib.AddrInfo); ok {
			ids = append(ids, info.ID)
		}
	}
	sortIDs(ids)
	return ids
}

// deliver an event to the loop without wedging the producer when the
// engine has already stopped
func (e *Engine) emit(evt event) {
	select {
	case e.netEvents <- evt:
	case <-e.done:
	}
}

func providerKey(hash string, id peerlib.ID) string {
	return hash + "|" + id.Pretty()
}

func sortIDs(ids []peerlib.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// mdns notifications only feed the partial view through the loop
type mdnsNotifee struct {
	engine *Engine
}

func (m *mdnsNotifee) HandlePeerFound(info peerlib.AddrInfo) {
	m.engine.emit(peerFoundEvent{info: info})
}
