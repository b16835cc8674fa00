// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store - content addressed local artifact storage
//
// Artifacts are kept as plain files under
// <dir>/artifacts/<algorithm>/<hex digest> and verified against
// their claimed digest while being written.  A small leveldb index
// carries per artifact accounting so that the disk quota and the
// artifact count survive restarts.
//
// Writes stream into a staging area and are promoted with an atomic
// rename, so a failed or mismatched upload is never visible to
// readers.
package store

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitmark-inc/logger"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

const (
	artifactsDirectory = "artifacts"
	stagingDirectory   = "staging"
)

// Store - a content addressed artifact store with a disk quota
type Store struct {
	sync.Mutex

	log       *logger.L
	dir       string
	staging   string
	allocated uint64
	used      uint64
	count     int
	index     *index
}

// New - open or create a store rooted at dir with the given space
// budget in bytes
func New(dir string, allocated uint64, log *logger.L) (*Store, error) {
	staging := filepath.Join(dir, stagingDirectory)
	for _, d := range []string{
		filepath.Join(dir, artifactsDirectory),
		staging,
	} {
		if err := os.MkdirAll(d, 0700); nil != err {
			return nil, err
		}
	}

	// stale staging files from a previous crash are unreferenced
	if entries, err := ioutil.ReadDir(staging); nil == err {
		for _, entry := range entries {
			_ = os.Remove(filepath.Join(staging, entry.Name()))
		}
	}

	idx, err := openIndex(dir)
	if nil != err {
		return nil, err
	}

	used, count, err := idx.totals()
	if nil != err {
		idx.close()
		return nil, err
	}

	log.Infof("open: allocated: %d bytes  used: %d bytes  artifacts: %d", allocated, used, count)

	return &Store{
		log:       log,
		dir:       dir,
		staging:   staging,
		allocated: allocated,
		used:      used,
		count:     count,
		index:     idx,
	}, nil
}

// Close - release the index database
func (s *Store) Close() error {
	s.Lock()
	defer s.Unlock()
	return s.index.close()
}

// Put - stream content into the store, verifying it against h
//
// returns false without writing when the artifact already exists;
// fault.IntegrityMismatch when the recomputed digest disagrees with
// the claimed hash; fault.QuotaExceeded when committing the content
// would exceed the configured space budget
func (s *Store) Put(h artifact.Hash, r io.Reader) (bool, error) {
	if !h.Valid() {
		return false, fault.InvalidHash
	}
	if s.Has(h) {
		return false, nil
	}

	stagingFile, err := ioutil.TempFile(s.staging, "put-")
	if nil != err {
		return false, err
	}
	stagingName := stagingFile.Name()
	discard := func() {
		stagingFile.Close()
		_ = os.Remove(stagingName)
	}

	hasher := h.Algorithm.New()
	size, err := io.Copy(io.MultiWriter(stagingFile, hasher), r)
	if nil != err {
		discard()
		return false, err
	}
	if err := stagingFile.Close(); nil != err {
		_ = os.Remove(stagingName)
		return false, err
	}

	if !h.Equal(artifact.Hash{Algorithm: h.Algorithm, Digest: hasher.Sum(nil)}) {
		_ = os.Remove(stagingName)
		s.log.Warnf("put: digest mismatch for claimed %s", h)
		return false, fault.IntegrityMismatch
	}

	s.Lock()
	defer s.Unlock()

	// a concurrent put of the same content may have won the race
	if s.index.has(h) {
		_ = os.Remove(stagingName)
		return false, nil
	}

	// quota is checked against currently available space immediately
	// before commit so concurrent large writes cannot both squeeze in
	if uint64(size) > s.availableLocked() {
		_ = os.Remove(stagingName)
		s.log.Warnf("put: %s needs %d bytes, only %d available", h, size, s.availableLocked())
		return false, fault.QuotaExceeded
	}

	final := s.pathFor(h)
	if err := os.MkdirAll(filepath.Dir(final), 0700); nil != err {
		_ = os.Remove(stagingName)
		return false, err
	}
	if err := os.Rename(stagingName, final); nil != err {
		_ = os.Remove(stagingName)
		return false, err
	}

	if err := s.index.put(h, uint64(size)); nil != err {
		// roll the file back so index and tree stay consistent
		_ = os.Remove(final)
		return false, err
	}
	s.used += uint64(size)
	s.count += 1

	s.log.Debugf("put: stored %s (%d bytes)", h, size)
	return true, nil
}

// Get - return the verified bytes previously stored under h
func (s *Store) Get(h artifact.Hash) ([]byte, error) {
	if !h.Valid() {
		return nil, fault.InvalidHash
	}
	data, err := ioutil.ReadFile(s.pathFor(h))
	if nil != err {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundLocally
		}
		return nil, err
	}
	return data, nil
}

// Has - true if content is stored under h
func (s *Store) Has(h artifact.Hash) bool {
	s.Lock()
	defer s.Unlock()
	return s.index.has(h)
}

// AvailableSpace - current free budget in bytes
func (s *Store) AvailableSpace() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.availableLocked()
}

// Used - bytes currently committed
func (s *Store) Used() uint64 {
	s.Lock()
	defer s.Unlock()
	return s.used
}

// Allocated - the configured space budget in bytes
func (s *Store) Allocated() uint64 {
	return s.allocated
}

// Count - number of stored artifacts
func (s *Store) Count() int {
	s.Lock()
	defer s.Unlock()
	return s.count
}

func (s *Store) availableLocked() uint64 {
	if s.used >= s.allocated {
		return 0
	}
	return s.allocated - s.used
}

func (s *Store) pathFor(h artifact.Hash) string {
	return filepath.Join(s.dir, artifactsDirectory, h.Algorithm.String(), h.String()[artifact.PrefixLength:])
}
