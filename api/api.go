// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package api - the local HTTP surface
//
// Speaks enough of the docker registry v2 pull protocol for a docker
// daemon pointed at this node to fetch blobs through the retrieval
// cascade, plus small JSON endpoints for node inspection.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bitmark-inc/logger"
	peerlib "github.com/libp2p/go-libp2p-core/peer"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

// Resolving - retrieval operation behind the blob endpoint
type Resolving interface {
	Resolve(string, artifact.Hash) ([]byte, error)
}

// Network - overlay enquiries behind the inspection endpoints
type Network interface {
	ListPeers() []peerlib.ID
}

// Storage - store accounting behind the status endpoint
type Storage interface {
	Allocated() uint64
	Used() uint64
	Count() int
}

// Server - handler state for one node
type Server struct {
	log      *logger.L
	resolver Resolving
	network  Network
	store    Storage
	version  string
}

// NewServer - build the HTTP surface over the node internals
func NewServer(resolver Resolving, network Network, store Storage, version string, log *logger.L) *Server {
	return &Server{
		log:      log,
		resolver: resolver,
		network:  network,
		store:    store,
		version:  version,
	}
}

// Router - the complete route table
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/", s.handleV2)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// GET /v2/ answers the registry ping; GET /v2/<name>/blobs/<digest>
// resolves a blob through the cascade
func (s *Server) handleV2(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method && http.MethodHead != r.Method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")

	if "/v2/" == r.URL.Path {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
		return
	}

	trimmed := strings.TrimPrefix(r.URL.Path, "/v2/")
	slash := strings.LastIndex(trimmed, "/blobs/")
	if slash <= 0 {
		http.NotFound(w, r)
		return
	}
	name := trimmed[:slash]
	digest := trimmed[slash+len("/blobs/"):]

	h, err := artifact.Parse(digest)
	if nil != err {
		http.Error(w, "invalid digest", http.StatusBadRequest)
		return
	}

	data, err := s.resolver.Resolve(name, h)
	if nil != err {
		s.log.Warnf("blob %s/%s: %s", name, h, err)
		if fault.IsErrNotFound(err) {
			http.NotFound(w, r)
		} else {
			http.Error(w, "retrieval failed", http.StatusBadGateway)
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Docker-Content-Digest", h.String())
	if http.MethodHead == r.Method {
		return
	}
	w.Write(data)
}

// GET /peers - the current partial view as a JSON array
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := s.network.ListPeers()
	peers := make([]string, 0, len(ids))
	for _, id := range ids {
		peers = append(peers, id.Pretty())
	}
	writeJSON(w, peers)
}

type statusReply struct {
	Version       string `json:"version"`
	ArtifactCount int    `json:"artifact_count"`
	PeersCount    int    `json:"peers_count"`
	DiskAllocated uint64 `json:"disk_allocated"`
	DiskUsage     uint64 `json:"disk_usage"`
}

// GET /status - node accounting summary
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if http.MethodGet != r.Method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, statusReply{
		Version:       s.version,
		ArtifactCount: s.store.Count(),
		PeersCount:    len(s.network.ListPeers()),
		DiskAllocated: s.store.Allocated(),
		DiskUsage:     s.store.Used(),
	})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); nil != err {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}
