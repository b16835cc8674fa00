// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bootstrap - seed the overlay from DNS TXT records
//
// A nodes domain publishes TXT records of the form:
//
//	depot=v1 a=/ip4/203.0.113.7/tcp/4150/p2p/Qm…
//
// where every a= field is a full multiaddr ending in the peer
// identity.  The records are refetched on an interval taken from the
// record TTL so a rotated seed list propagates without restarts.
package bootstrap

import (
	"net"
	"strings"
	"time"

	"github.com/bitmark-inc/logger"
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	"github.com/miekg/dns"

	"github.com/depot-cache/depotd/fault"
	"github.com/depot-cache/depotd/util"
)

const (
	tagline = "depot=v1"

	resolvConf = "/etc/resolv.conf"

	initialDelay    = 5 * time.Second
	minimumInterval = 1 * time.Minute
	maximumInterval = 1 * time.Hour
	failureInterval = 1 * time.Minute
)

// Dialer - the overlay operation needed to reach a seed peer
type Dialer interface {
	Dial(peerlib.AddrInfo) error
}

// Bootstrap - periodic DNS driven seeding of the partial view
type Bootstrap struct {
	log    *logger.L
	domain string
	dialer Dialer

	firstDelay time.Duration
	lookupFunc func(string, *logger.L) ([]peerlib.AddrInfo, time.Duration, error)
}

// New - create the bootstrapper for one nodes domain
func New(domain string, dialer Dialer, log *logger.L) (*Bootstrap, error) {
	domain = strings.TrimSpace(domain)
	if "" == domain {
		return nil, fault.InvalidNodesDomain
	}
	return &Bootstrap{
		log:        log,
		domain:     domain,
		dialer:     dialer,
		firstDelay: initialDelay,
		lookupFunc: dnsLookup,
	}, nil
}

// Run - fetch and dial seeds until shutdown; background.Process
// interface
func (b *Bootstrap) Run(args interface{}, shutdown <-chan struct{}) {
	log := b.log
	log.Info("starting…")

	delay := time.After(b.firstDelay)
loop:
	for {
		select {
		case <-shutdown:
			break loop
		case <-delay:
			delay = time.After(b.refresh())
		}
	}

	log.Info("finished")
}

func (b *Bootstrap) refresh() time.Duration {
	log := b.log

	infos, ttl, err := b.lookupFunc(b.domain, log)
	if nil != err {
		log.Warnf("lookup %s: %s", b.domain, err)
		return failureInterval
	}
	log.Infof("lookup %s: %d seed peers, ttl: %s", b.domain, len(infos), ttl)

	for _, info := range infos {
		if err := b.dialer.Dial(info); nil != err {
			log.Debugf("dial seed %s: %s", info.ID.Pretty(), err)
		}
	}

	return clampInterval(ttl)
}

func clampInterval(ttl time.Duration) time.Duration {
	if ttl < minimumInterval {
		return minimumInterval
	}
	if ttl > maximumInterval {
		return maximumInterval
	}
	return ttl
}

// query the system resolver directly so the record TTL is visible
func dnsLookup(domain string, log *logger.L) ([]peerlib.AddrInfo, time.Duration, error) {
	config, err := dns.ClientConfigFromFile(resolvConf)
	if nil != err {
		return nil, 0, err
	}

	client := new(dns.Client)
	message := new(dns.Msg)
	message.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	server := net.JoinHostPort(config.Servers[0], config.Port)
	response, _, err := client.Exchange(message, server)
	if nil != err {
		return nil, 0, err
	}

	ttl := maximumInterval
	infos := make([]peerlib.AddrInfo, 0, 4)
	for _, answer := range response.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		if recordTTL := time.Duration(txt.Hdr.Ttl) * time.Second; recordTTL < ttl {
			ttl = recordTTL
		}
		record := strings.Join(txt.Txt, "")
		recordInfos, err := parseTxt(record)
		if nil != err {
			log.Debugf("ignoring record %q: %s", record, err)
			continue
		}
		infos = append(infos, recordInfos...)
	}

	return infos, ttl, nil
}

// parseTxt - extract peer addresses from one TXT record
func parseTxt(record string) ([]peerlib.AddrInfo, error) {
	fields := strings.Fields(record)
	if 0 == len(fields) || tagline != fields[0] {
		return nil, fault.InvalidNodesDomain
	}

	infos := make([]peerlib.AddrInfo, 0, 2)
	for _, field := range fields[1:] {
		if !strings.HasPrefix(field, "a=") {
			continue
		}
		info, err := util.MaAddrToAddrInfo(field[2:])
		if nil != err {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
