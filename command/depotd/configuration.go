// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitmark-inc/logger"

	"github.com/depot-cache/depotd/configuration"
	"github.com/depot-cache/depotd/origin"
	"github.com/depot-cache/depotd/util"
)

// basic defaults (directories and files are relative to the
// "data_directory" from the configuration file)
const (
	defaultDataDirectory = "" // this will error; use "." for the same directory as the config file

	defaultStoreDirectory = "artifacts"
	defaultStoreAllocated = 10 * 1024 * 1024 * 1024 // bytes

	defaultPeerKeyFile = "peer.key"

	defaultLogDirectory = "log"
	defaultLogFile      = "depotd.log"
	defaultLogCount     = 10          // number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when <logfile> exceeds this size
)

// path expanded or calculated defaults
var (
	defaultLogLevels = map[string]string{
		logger.DefaultTag: "critical",
		"main":            "info",
	}
)

type StoreType struct {
	Directory string `gluamapper:"directory" json:"directory"`
	Allocated uint64 `gluamapper:"allocated" json:"allocated"`
}

type PeeringType struct {
	Listen         []string `gluamapper:"listen" json:"listen"`
	Connect        []string `gluamapper:"connect" json:"connect"`
	PrivateKeyFile string   `gluamapper:"private_key_file" json:"private_key_file"`
}

type HTTPType struct {
	Listen []string `gluamapper:"listen" json:"listen"`
}

type Configuration struct {
	DataDirectory string `gluamapper:"data_directory" json:"data_directory"`
	PidFile       string `gluamapper:"pidfile" json:"pidfile"`
	Nodes         string `gluamapper:"nodes" json:"nodes"`

	Store   StoreType            `gluamapper:"store" json:"store"`
	Peering PeeringType          `gluamapper:"peering" json:"peering"`
	HTTP    HTTPType             `gluamapper:"http" json:"http"`
	Origin  origin.Configuration `gluamapper:"origin" json:"origin"`
	Logging logger.Configuration `gluamapper:"logging" json:"logging"`
}

// will read decode and verify the configuration
func getConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	options := &Configuration{

		DataDirectory: defaultDataDirectory,
		PidFile:       "", // no PidFile by default
		Nodes:         "none",

		Store: StoreType{
			Directory: defaultStoreDirectory,
			Allocated: defaultStoreAllocated,
		},

		Peering: PeeringType{
			PrivateKeyFile: defaultPeerKeyFile,
		},

		HTTP: HTTPType{
			Listen: []string{"127.0.0.1:7888"},
		},

		Logging: logger.Configuration{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels:    defaultLogLevels,
		},
	}

	if err := configuration.ParseConfigurationFile(configurationFileName, options); nil != err {
		return nil, err
	}

	// ensure absolute data directory
	if "" == options.DataDirectory || "~" == options.DataDirectory {
		return nil, fmt.Errorf("path: %q is not a valid directory", options.DataDirectory)
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	} else {
		options.DataDirectory = filepath.Clean(options.DataDirectory)
	}

	// this directory must exist - i.e. must be created prior to running
	if fileInfo, err := os.Stat(options.DataDirectory); nil != err {
		return nil, err
	} else if !fileInfo.IsDir() {
		return nil, fmt.Errorf("path: %q is not a directory", options.DataDirectory)
	}

	// force all relevant items to be absolute paths
	// if not, assign them to the data directory
	mustBeAbsolute := []*string{
		&options.Store.Directory,
		&options.Peering.PrivateKeyFile,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = util.EnsureAbsolute(options.DataDirectory, *f)
	}

	// optional absolute paths i.e. blank or an absolute path
	optionalAbsolute := []*string{
		&options.PidFile,
	}
	for _, f := range optionalAbsolute {
		if "" != *f {
			*f = util.EnsureAbsolute(options.DataDirectory, *f)
		}
	}

	// fail if the log file is not a simple file name
	switch filepath.Dir(options.Logging.File) {
	case "", ".":
	default:
		return nil, fmt.Errorf("files: %q is not plain name", options.Logging.File)
	}

	// create directories if they do not already exist
	for _, d := range []*string{
		&options.Store.Directory,
		&options.Logging.Directory,
	} {
		if err := os.MkdirAll(*d, 0700); nil != err {
			return nil, err
		}
	}

	// done
	return options, nil
}
