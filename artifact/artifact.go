// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package artifact - content addressed artifact identifiers
//
// An artifact is an immutable byte sequence keyed by the digest of
// its content.  The identifier exchanged over the wire and in the
// registry API is a fixed width algorithm prefix followed by the hex
// encoded digest, e.g. "sha256:9f86d08…".
package artifact

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/depot-cache/depotd/fault"
)

// Algorithm - the fixed enumeration of supported digest algorithms
type Algorithm int

// supported digest algorithms
const (
	SHA256 Algorithm = iota
	SHA512
	BLAKE3
)

// PrefixLength - all identifier prefixes are exactly this many
// characters including the trailing colon
const PrefixLength = 7

var algorithmNames = map[Algorithm]string{
	SHA256: "sha256",
	SHA512: "sha512",
	BLAKE3: "blake3",
}

var algorithmSizes = map[Algorithm]int{
	SHA256: sha256.Size,
	SHA512: sha512.Size,
	BLAKE3: 32,
}

func (a Algorithm) String() string {
	name, ok := algorithmNames[a]
	if !ok {
		return "unknown"
	}
	return name
}

// Prefix - the fixed width identifier prefix for this algorithm
func (a Algorithm) Prefix() string {
	return a.String() + ":"
}

// Size - the digest length in bytes
func (a Algorithm) Size() int {
	return algorithmSizes[a]
}

// New - a fresh hash.Hash computing this algorithm
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA512:
		return sha512.New()
	case BLAKE3:
		return blake3.New()
	default:
		return sha256.New()
	}
}

// Hash - an algorithm tag plus raw digest value; the sole key for
// artifact identity
type Hash struct {
	Algorithm Algorithm
	Digest    []byte
}

// Parse - decode the wire form of an artifact identifier
//
// the algorithm prefix is exactly PrefixLength characters and is
// stripped before hex decoding the remainder
func Parse(s string) (Hash, error) {
	if len(s) <= PrefixLength {
		return Hash{}, fault.InvalidHash
	}

	prefix := s[:PrefixLength]
	algorithm, err := algorithmByPrefix(prefix)
	if nil != err {
		return Hash{}, err
	}

	digest, err := hex.DecodeString(s[PrefixLength:])
	if nil != err {
		return Hash{}, fault.InvalidHash
	}
	h := Hash{
		Algorithm: algorithm,
		Digest:    digest,
	}
	if !h.Valid() {
		return Hash{}, fault.InvalidHash
	}
	return h, nil
}

func algorithmByPrefix(prefix string) (Algorithm, error) {
	for a, name := range algorithmNames {
		if prefix == name+":" {
			return a, nil
		}
	}
	return 0, fault.InvalidHash
}

// Sum - digest a byte sequence under the given algorithm
func Sum(a Algorithm, data []byte) Hash {
	hasher := a.New()
	hasher.Write(data)
	return Hash{
		Algorithm: a,
		Digest:    hasher.Sum(nil),
	}
}

// String - the wire form: prefix plus hex encoded digest
func (h Hash) String() string {
	return h.Algorithm.Prefix() + hex.EncodeToString(h.Digest)
}

// Valid - check the digest length matches the algorithm
func (h Hash) Valid() bool {
	if _, ok := algorithmNames[h.Algorithm]; !ok {
		return false
	}
	return len(h.Digest) == h.Algorithm.Size()
}

// Equal - compare two hashes for identity
func (h Hash) Equal(other Hash) bool {
	return h.Algorithm == other.Algorithm && bytes.Equal(h.Digest, other.Digest)
}

// Matches - check content against the claimed digest
func (h Hash) Matches(data []byte) bool {
	return h.Equal(Sum(h.Algorithm, data))
}
