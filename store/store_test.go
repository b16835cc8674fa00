// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store_test

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
	"github.com/depot-cache/depotd/store"
)

func TestMain(m *testing.M) {
	dir, err := ioutil.TempDir("", "store-test-log")
	if nil != err {
		panic(err)
	}
	defer os.RemoveAll(dir)

	logConfig := logger.Configuration{
		Directory: dir,
		File:      "store_test.log",
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

func newTestStore(t *testing.T, allocated uint64) (*store.Store, func()) {
	dir, err := ioutil.TempDir("", "store-test")
	require.NoError(t, err, "temp dir")

	s, err := store.New(dir, allocated, logger.New("store-test"))
	require.NoError(t, err, "open store")

	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s, done := newTestStore(t, 1<<20)
	defer done()

	content := []byte("hello artifact")
	h := artifact.Sum(artifact.SHA256, content)

	stored, err := s.Put(h, bytes.NewReader(content))
	assert.NoError(t, err, "put")
	assert.True(t, stored, "first put should store")

	data, err := s.Get(h)
	assert.NoError(t, err, "get")
	assert.Equal(t, content, data, "round trip")
	assert.Equal(t, 1, s.Count(), "count")
}

func TestPutIdempotent(t *testing.T) {
	s, done := newTestStore(t, 1<<20)
	defer done()

	content := []byte("stored once")
	h := artifact.Sum(artifact.SHA256, content)

	_, err := s.Put(h, bytes.NewReader(content))
	require.NoError(t, err, "first put")
	before := s.AvailableSpace()

	stored, err := s.Put(h, bytes.NewReader(content))
	assert.NoError(t, err, "second put")
	assert.False(t, stored, "second put must be a no-op")
	assert.Equal(t, before, s.AvailableSpace(), "available space changed")
}

func TestPutIntegrityMismatch(t *testing.T) {
	s, done := newTestStore(t, 1<<20)
	defer done()

	h := artifact.Sum(artifact.SHA256, []byte("claimed content"))

	stored, err := s.Put(h, bytes.NewReader([]byte("actual content")))
	assert.Equal(t, fault.IntegrityMismatch, err, "expected integrity error")
	assert.False(t, stored, "must not store")

	_, err = s.Get(h)
	assert.Equal(t, fault.NotFoundLocally, err, "corrupted entry visible")
	assert.Equal(t, 0, s.Count(), "count after rejected put")
}

func TestPutQuotaExceeded(t *testing.T) {
	s, done := newTestStore(t, 16)
	defer done()

	before := s.AvailableSpace()

	content := []byte("this artifact is larger than the sixteen byte budget")
	h := artifact.Sum(artifact.SHA256, content)

	stored, err := s.Put(h, bytes.NewReader(content))
	assert.Equal(t, fault.QuotaExceeded, err, "expected quota error")
	assert.False(t, stored, "must not store")
	assert.Equal(t, before, s.AvailableSpace(), "available space changed")

	_, err = s.Get(h)
	assert.Equal(t, fault.NotFoundLocally, err, "rejected entry visible")
}

func TestGetMissing(t *testing.T) {
	s, done := newTestStore(t, 1<<20)
	defer done()

	h := artifact.Sum(artifact.SHA256, []byte("never stored"))
	_, err := s.Get(h)
	assert.Equal(t, fault.NotFoundLocally, err, "wrong error")
}

func TestAccountingAcrossAlgorithms(t *testing.T) {
	s, done := newTestStore(t, 1<<20)
	defer done()

	content := []byte("same bytes, two identities")
	h256 := artifact.Sum(artifact.SHA256, content)
	hb3 := artifact.Sum(artifact.BLAKE3, content)

	_, err := s.Put(h256, bytes.NewReader(content))
	require.NoError(t, err, "sha256 put")
	_, err = s.Put(hb3, bytes.NewReader(content))
	require.NoError(t, err, "blake3 put")

	assert.Equal(t, 2, s.Count(), "distinct hashes are distinct artifacts")
	assert.Equal(t, uint64(2*len(content)), s.Used(), "usage accounting")
}
