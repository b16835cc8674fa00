// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bootstrap

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bitmark-inc/logger"
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-cache/depotd/fault"
	"github.com/depot-cache/depotd/util"
)

func TestMain(m *testing.M) {
	dir, err := ioutil.TempDir("", "bootstrap-test-log")
	if nil != err {
		panic(err)
	}
	defer os.RemoveAll(dir)

	logConfig := logger.Configuration{
		Directory: dir,
		File:      "bootstrap_test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "error",
		},
	}
	if err := logger.Initialise(logConfig); nil != err {
		panic(fmt.Sprintf("logger initialise failed: %s", err))
	}
	defer logger.Finalise()

	os.Exit(m.Run())
}

func testPeerAddr(t *testing.T) (peerlib.ID, string) {
	prvKey, err := util.GenRandPrvKey()
	require.NoError(t, err, "key generation")
	id, err := peerlib.IDFromPrivateKey(prvKey)
	require.NoError(t, err, "peer id")
	return id, "/ip4/203.0.113.7/tcp/4150/p2p/" + id.Pretty()
}

func TestParseTxt(t *testing.T) {
	id, addr := testPeerAddr(t)

	infos, err := parseTxt("depot=v1 a=" + addr)
	require.NoError(t, err, "parse")
	require.Equal(t, 1, len(infos), "address count")
	assert.Equal(t, id, infos[0].ID, "wrong peer id")
	assert.Equal(t, 1, len(infos[0].Addrs), "dialable address count")
}

func TestParseTxtMultipleAddresses(t *testing.T) {
	_, first := testPeerAddr(t)
	_, second := testPeerAddr(t)

	infos, err := parseTxt("depot=v1 a=" + first + " a=" + second)
	require.NoError(t, err, "parse")
	assert.Equal(t, 2, len(infos), "address count")
}

func TestParseTxtIgnoresUnknownFields(t *testing.T) {
	_, addr := testPeerAddr(t)

	infos, err := parseTxt("depot=v1 x=ignored a=" + addr + " note=also-ignored")
	require.NoError(t, err, "parse")
	assert.Equal(t, 1, len(infos), "address count")
}

func TestParseTxtRejectsForeignRecords(t *testing.T) {
	items := []string{
		"",
		"v=spf1 include:example.com ~all",
		"depot=v2 a=/ip4/203.0.113.7/tcp/4150",
	}
	for i, item := range items {
		_, err := parseTxt(item)
		assert.Equal(t, fault.InvalidNodesDomain, err, "%d: wrong error", i)
	}
}

func TestParseTxtRejectsBadAddress(t *testing.T) {
	items := []string{
		"depot=v1 a=not-a-multiaddr",
		"depot=v1 a=/ip4/203.0.113.7/tcp/4150", // missing peer identity
	}
	for i, item := range items {
		_, err := parseTxt(item)
		assert.Equal(t, fault.InvalidPeerAddress, err, "%d: wrong error", i)
	}
}

func TestClampInterval(t *testing.T) {
	assert.Equal(t, minimumInterval, clampInterval(time.Second), "below minimum")
	assert.Equal(t, 10*time.Minute, clampInterval(10*time.Minute), "in range")
	assert.Equal(t, maximumInterval, clampInterval(24*time.Hour), "above maximum")
}

func TestNewRequiresDomain(t *testing.T) {
	_, err := New("  ", nil, logger.New("bootstrap-test"))
	assert.Equal(t, fault.InvalidNodesDomain, err, "wrong error")
}

type recordingDialer struct {
	sync.Mutex
	dialed []peerlib.ID
}

func (d *recordingDialer) Dial(info peerlib.AddrInfo) error {
	d.Lock()
	d.dialed = append(d.dialed, info.ID)
	d.Unlock()
	return nil
}

func (d *recordingDialer) count() int {
	d.Lock()
	defer d.Unlock()
	return len(d.dialed)
}

func TestRunDialsSeeds(t *testing.T) {
	id, _ := testPeerAddr(t)

	dialer := &recordingDialer{}
	b, err := New("nodes.test.example", dialer, logger.New("bootstrap-test"))
	require.NoError(t, err, "new")

	b.firstDelay = 10 * time.Millisecond
	b.lookupFunc = func(domain string, log *logger.L) ([]peerlib.AddrInfo, time.Duration, error) {
		return []peerlib.AddrInfo{{ID: id}}, time.Hour, nil
	}

	shutdown := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		b.Run(nil, shutdown)
		close(finished)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && 0 == dialer.count() {
		time.Sleep(20 * time.Millisecond)
	}

	close(shutdown)
	<-finished

	require.True(t, dialer.count() > 0, "seed never dialed")
	dialer.Lock()
	assert.Equal(t, id, dialer.dialed[0], "wrong peer dialed")
	dialer.Unlock()
}
