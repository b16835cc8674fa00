// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/depot-cache/depotd/util"
)

func TestHostPortToMultiAddr(t *testing.T) {
	items := []struct {
		in  string
		out string
		ok  bool
	}{
		{"127.0.0.1:4150", "/ip4/127.0.0.1/tcp/4150", true},
		{"0.0.0.0:4150", "/ip4/0.0.0.0/tcp/4150", true},
		{"[::1]:4150", "/ip6/::1/tcp/4150", true},
		{"localhost:4150", "", false},
		{"127.0.0.1", "", false},
		{"", "", false},
	}
	for i, item := range items {
		addr, err := util.HostPortToMultiAddr(item.in)
		if item.ok {
			assert.NoError(t, err, "%d: unexpected error", i)
			assert.Equal(t, item.out, addr.String(), "%d: wrong multiaddr", i)
		} else {
			assert.Error(t, err, "%d: expected error", i)
		}
	}
}

func TestHostPortsToMultiAddrsDropsInvalid(t *testing.T) {
	addrs := util.HostPortsToMultiAddrs([]string{"127.0.0.1:1000", "junk", "[::1]:2000"})
	assert.Equal(t, 2, len(addrs), "wrong count")
}

func TestKeyHexRoundTrip(t *testing.T) {
	prvKey, err := util.GenRandPrvKey()
	assert.NoError(t, err, "key generation")

	hexKey, err := util.EncodePrvKeyToHex(prvKey)
	assert.NoError(t, err, "encode")

	decoded, err := util.DecodePrvKeyFromHex(hexKey)
	assert.NoError(t, err, "decode")
	assert.True(t, prvKey.Equals(decoded), "round trip")

	_, err = util.DecodePrvKeyFromHex("not hex at all")
	assert.Error(t, err, "bad hex accepted")
}
