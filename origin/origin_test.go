// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package origin_test

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/bitmark-inc/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
	"github.com/depot-cache/depotd/origin"
)

func TestMain(m *testing.M) {
	dir, err := ioutil.TempDir("", "origin-test-log")
	if nil != err {
		panic(err)
	}
	defer os.RemoveAll(dir)

	logConfig := logger.Configuration{
		Directory: dir,
		File:      "origin_test.log",
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

type upstream struct {
	auth      *httptest.Server
	registry  *httptest.Server
	authHits  int64
	blobs     map[string][]byte
	authFail  bool
	rejectAll bool
}

func newUpstream() *upstream {
	u := &upstream{blobs: make(map[string][]byte)}

	u.auth = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&u.authHits, 1)
		if u.authFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"token": "secret-token", "expires_in": 300}`)
	}))

	u.registry = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u.rejectAll || "Bearer secret-token" != r.Header.Get("Authorization") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		data, ok := u.blobs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))

	return u
}

func (u *upstream) close() {
	u.auth.Close()
	u.registry.Close()
}

func (u *upstream) gateway() *origin.Gateway {
	return origin.New(&origin.Configuration{
		Registry: u.registry.URL,
		Auth:     u.auth.URL,
		Service:  "test-registry",
	}, logger.New("origin-test"))
}

func TestFetchBlob(t *testing.T) {
	u := newUpstream()
	defer u.close()

	content := []byte("upstream blob content")
	h := artifact.Sum(artifact.SHA256, content)
	u.blobs["/v2/library/alpine/blobs/"+h.String()] = content

	g := u.gateway()
	data, err := g.FetchBlob("alpine", h)
	require.NoError(t, err, "fetch")
	assert.Equal(t, content, data, "wrong content")
}

func TestFetchBlobNotFound(t *testing.T) {
	u := newUpstream()
	defer u.close()

	h := artifact.Sum(artifact.SHA256, []byte("never published"))
	_, err := u.gateway().FetchBlob("alpine", h)
	assert.Equal(t, fault.OriginNotFound, err, "wrong error")
}

func TestFetchBlobUnauthorized(t *testing.T) {
	u := newUpstream()
	defer u.close()
	u.rejectAll = true

	h := artifact.Sum(artifact.SHA256, []byte("forbidden"))
	_, err := u.gateway().FetchBlob("alpine", h)
	assert.Equal(t, fault.OriginUnauthorized, err, "wrong error")
}

func TestTokenFetchFailure(t *testing.T) {
	u := newUpstream()
	defer u.close()
	u.authFail = true

	h := artifact.Sum(artifact.SHA256, []byte("anything"))
	_, err := u.gateway().FetchBlob("alpine", h)
	assert.Equal(t, fault.OriginRequestFail, err, "wrong error")
}

func TestTokenReuseAcrossFetches(t *testing.T) {
	u := newUpstream()
	defer u.close()

	first := []byte("blob one")
	second := []byte("blob two")
	h1 := artifact.Sum(artifact.SHA256, first)
	h2 := artifact.Sum(artifact.SHA256, second)
	u.blobs["/v2/library/alpine/blobs/"+h1.String()] = first
	u.blobs["/v2/library/alpine/blobs/"+h2.String()] = second

	g := u.gateway()
	_, err := g.FetchBlob("alpine", h1)
	require.NoError(t, err, "first fetch")
	_, err = g.FetchBlob("alpine", h2)
	require.NoError(t, err, "second fetch")

	assert.Equal(t, int64(1), atomic.LoadInt64(&u.authHits), "token not reused")
}

func TestQualifiedRepositoryName(t *testing.T) {
	u := newUpstream()
	defer u.close()

	content := []byte("namespaced blob")
	h := artifact.Sum(artifact.SHA256, content)
	u.blobs["/v2/example/service/blobs/"+h.String()] = content

	data, err := u.gateway().FetchBlob("example/service", h)
	require.NoError(t, err, "fetch")
	assert.Equal(t, content, data, "wrong content")
}
