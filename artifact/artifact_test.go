// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package artifact_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

func TestParseRoundTrip(t *testing.T) {
	content := []byte("a small artifact")
	digest := sha256.Sum256(content)
	s := "sha256:" + hex.EncodeToString(digest[:])

	h, err := artifact.Parse(s)
	assert.NoError(t, err, "parse error")
	assert.Equal(t, artifact.SHA256, h.Algorithm, "wrong algorithm")
	assert.Equal(t, digest[:], h.Digest, "wrong digest")
	assert.Equal(t, s, h.String(), "wire form mismatch")
	assert.True(t, h.Matches(content), "content should match")
	assert.False(t, h.Matches([]byte("other content")), "content should not match")
}

func TestParsePrefixStripping(t *testing.T) {
	// exactly 7 characters of prefix are stripped regardless of algorithm
	for _, a := range []artifact.Algorithm{artifact.SHA256, artifact.SHA512, artifact.BLAKE3} {
		assert.Equal(t, artifact.PrefixLength, len(a.Prefix()), "prefix width: %s", a)

		h := artifact.Sum(a, []byte("payload"))
		parsed, err := artifact.Parse(h.String())
		assert.NoError(t, err, "parse error: %s", a)
		assert.True(t, h.Equal(parsed), "round trip: %s", a)
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"",
		"sha256:",
		"sha256:zzzz",
		"sha999:00ff",
		"sha256:00ff", // truncated digest
		"md5:d41d8cd98f00b204e9800998ecf8427e",
	}
	for _, s := range bad {
		_, err := artifact.Parse(s)
		assert.Equal(t, fault.InvalidHash, err, "accepted %q", s)
	}
}

func TestSumDistinctAlgorithms(t *testing.T) {
	content := []byte("same bytes")
	h1 := artifact.Sum(artifact.SHA256, content)
	h2 := artifact.Sum(artifact.BLAKE3, content)
	assert.False(t, h1.Equal(h2), "different algorithms must not collide")
	assert.Equal(t, 32, len(h1.Digest), "sha256 digest size")
	assert.Equal(t, 64, len(artifact.Sum(artifact.SHA512, content).Digest), "sha512 digest size")
}
