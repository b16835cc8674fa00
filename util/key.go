// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"crypto/rand"
	"encoding/hex"

	crypto "github.com/libp2p/go-libp2p-core/crypto"

	"github.com/depot-cache/depotd/fault"
)

// GenRandPrvKey - generate a random ed25519 private key
func GenRandPrvKey() (crypto.PrivKey, error) {
	prvKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if nil != err {
		return nil, err
	}
	return prvKey, nil
}

// EncodePrvKeyToHex - private key to hex encoded string
func EncodePrvKeyToHex(prvKey crypto.PrivKey) (string, error) {
	marshalKey, err := crypto.MarshalPrivateKey(prvKey)
	if nil != err {
		return "", err
	}
	return hex.EncodeToString(marshalKey), nil
}

// DecodePrvKeyFromHex - hex encoded string to private key
func DecodePrvKeyFromHex(hexKey string) (crypto.PrivKey, error) {
	decoded, err := hex.DecodeString(hexKey)
	if nil != err {
		return nil, fault.InvalidPrivateKey
	}
	prvKey, err := crypto.UnmarshalPrivateKey(decoded)
	if nil != err {
		return nil, fault.InvalidPrivateKey
	}
	return prvKey, nil
}
