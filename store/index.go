// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/depot-cache/depotd/artifact"
)

const indexDatabase = "depot-index.leveldb"

// per artifact accounting record
type indexRecord struct {
	Size     uint64 `cbor:"size"`
	StoredAt int64  `cbor:"stored_at"`
}

type index struct {
	db *leveldb.DB
}

func openIndex(dir string) (*index, error) {
	db, err := leveldb.OpenFile(filepath.Join(dir, indexDatabase), nil)
	if nil != err {
		return nil, err
	}
	return &index{db: db}, nil
}

func (i *index) close() error {
	return i.db.Close()
}

func (i *index) has(h artifact.Hash) bool {
	ok, err := i.db.Has([]byte(h.String()), nil)
	return nil == err && ok
}

func (i *index) put(h artifact.Hash, size uint64) error {
	record, err := cbor.Marshal(indexRecord{
		Size:     size,
		StoredAt: time.Now().Unix(),
	})
	if nil != err {
		return err
	}
	return i.db.Put([]byte(h.String()), record, nil)
}

// totals - rebuild usage and count by scanning all records
func (i *index) totals() (uint64, int, error) {
	used := uint64(0)
	count := 0

	iter := i.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var record indexRecord
		if err := cbor.Unmarshal(iter.Value(), &record); nil != err {
			return 0, 0, err
		}
		used += record.Size
		count += 1
	}
	return used, count, iter.Error()
}
