// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/bitmark-inc/logger"

	"github.com/depot-cache/depotd/util"
)

// ensureIdentity - load the hex encoded peer key from keyFile,
// generating and saving a fresh one on first start
func ensureIdentity(keyFile string, log *logger.L) (string, error) {
	data, err := ioutil.ReadFile(keyFile)
	if nil == err {
		return strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	log.Infof("generating peer identity: %s", keyFile)

	prvKey, err := util.GenRandPrvKey()
	if nil != err {
		return "", err
	}
	hexKey, err := util.EncodePrvKeyToHex(prvKey)
	if nil != err {
		return "", err
	}
	if err := ioutil.WriteFile(keyFile, []byte(hexKey+"\n"), 0600); nil != err {
		return "", err
	}
	return hexKey, nil
}
