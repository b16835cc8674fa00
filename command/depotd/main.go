// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// depotd - the depot cache node daemon
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/logger"
	peerlib "github.com/libp2p/go-libp2p-core/peer"
	"github.com/urfave/cli"

	"github.com/depot-cache/depotd/api"
	"github.com/depot-cache/depotd/background"
	"github.com/depot-cache/depotd/bootstrap"
	"github.com/depot-cache/depotd/cascade"
	"github.com/depot-cache/depotd/origin"
	"github.com/depot-cache/depotd/overlay"
	"github.com/depot-cache/depotd/store"
	"github.com/depot-cache/depotd/util"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero" // do not change this value

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "depotd"
	app.Usage = "peer to peer artifact cache node"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config-file, c",
			Value: "",
			Usage: "*configuration `FILE`",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: " suppress console messages",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "gen-identity",
			Usage:  "generate a new peer identity key",
			Action: runGenerateIdentity,
		},
	}

	app.Action = runNode

	if err := app.Run(os.Args); nil != err {
		exitwithstatus.Message("%s: terminated with error: %s", app.Name, err)
	}
}

func runGenerateIdentity(c *cli.Context) error {
	prvKey, err := util.GenRandPrvKey()
	if nil != err {
		return err
	}
	hexKey, err := util.EncodePrvKeyToHex(prvKey)
	if nil != err {
		return err
	}
	id, err := peerlib.IDFromPrivateKey(prvKey)
	if nil != err {
		return err
	}
	fmt.Fprintf(c.App.Writer, "private_key: %s\npeer_id: %s\n", hexKey, id.Pretty())
	return nil
}

func runNode(c *cli.Context) error {
	program := c.App.Name
	quiet := c.GlobalBool("quiet")

	configurationFile := c.GlobalString("config-file")
	if "" == configurationFile {
		exitwithstatus.Message("%s: a config-file option is required", program)
	}

	theConfiguration, err := getConfiguration(configurationFile)
	if nil != err {
		exitwithstatus.Message("%s: failed to read configuration from: %q  error: %s", program, configurationFile, err)
	}

	// start logging
	if err := logger.Initialise(theConfiguration.Logging); nil != err {
		exitwithstatus.Message("%s: logger setup failed with error: %s", program, err)
	}
	defer logger.Finalise()

	// create a logger channel for the main program
	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0600)
		if nil != err {
			if os.IsExist(err) {
				exitwithstatus.Message("%s: another instance is already running", program)
			}
			exitwithstatus.Message("%s: PID file: %q creation failed, error: %s", program, theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// the local artifact store
	log.Info("initialise store")
	artifactStore, err := store.New(theConfiguration.Store.Directory, theConfiguration.Store.Allocated, logger.New("store"))
	if nil != err {
		log.Criticalf("store initialise error: %s", err)
		exitwithstatus.Message("store initialise error: %s", err)
	}
	defer artifactStore.Close()

	// a stable identity so announcements survive restarts
	identity, err := ensureIdentity(theConfiguration.Peering.PrivateKeyFile, log)
	if nil != err {
		log.Criticalf("identity error: %s", err)
		exitwithstatus.Message("identity error: %s", err)
	}

	// the overlay engine
	log.Info("initialise overlay")
	engine, err := overlay.New(&overlay.Configuration{PrivateKey: identity}, logger.New("overlay"))
	if nil != err {
		log.Criticalf("overlay initialise error: %s", err)
		exitwithstatus.Message("overlay initialise error: %s", err)
	}
	client := engine.Client()

	// the upstream registry
	gateway := origin.New(&theConfiguration.Origin, logger.New("origin"))

	// retrieval and serving
	resolver := cascade.NewResolver(artifactStore, client, gateway, logger.New("cascade"))
	responder := cascade.NewResponder(artifactStore, client, engine.Events(), logger.New("responder"))

	processes := background.Processes{engine, responder}

	// network seeding
	switch nodesDomain := theConfiguration.Nodes; nodesDomain {
	case "":
		log.Critical("nodes cannot be blank choose from: none or sub.domain.tld")
		exitwithstatus.Message("nodes cannot be blank choose from: none or sub.domain.tld")
	case "none":
		log.Info("bootstrap disabled")
	default:
		// domain names are complex to validate so just rely on
		// trying to fetch the TXT records for validation
		seeder, err := bootstrap.New(nodesDomain, client, logger.New("bootstrap"))
		if nil != err {
			log.Criticalf("bootstrap initialise error: %s", err)
			exitwithstatus.Message("bootstrap initialise error: %s", err)
		}
		processes = append(processes, seeder)
	}

	// start the background processes
	bg := background.Start(processes, nil)
	defer bg.Stop()

	// open the overlay listeners
	listenAddrs := util.HostPortsToMultiAddrs(theConfiguration.Peering.Listen)
	if 0 == len(listenAddrs) {
		log.Critical("no valid peering listen addresses")
		exitwithstatus.Message("no valid peering listen addresses")
	}
	for _, addr := range listenAddrs {
		if err := client.Listen(addr); nil != err {
			log.Criticalf("listen on %s error: %s", addr, err)
			exitwithstatus.Message("listen on %s error: %s", addr, err)
		}
	}
	log.Infof("peering listeners: %s", util.PrintMaAddrs(listenAddrs))

	// dial any statically configured peers
	for _, connect := range theConfiguration.Peering.Connect {
		info, err := util.MaAddrToAddrInfo(connect)
		if nil != err {
			log.Criticalf("connect address %q error: %s", connect, err)
			exitwithstatus.Message("connect address %q error: %s", connect, err)
		}
		if err := client.Dial(*info); nil != err {
			log.Warnf("dial %s error: %s", info.ID.Pretty(), err)
		}
	}

	// the local HTTP surface
	server := api.NewServer(resolver, client, artifactStore, version, logger.New("api"))
	for _, listen := range theConfiguration.HTTP.Listen {
		go func(addr string) {
			log.Infof("http listener on: %s", addr)
			err := http.ListenAndServe(addr, server.Router())
			log.Criticalf("http listener %s error: %s", addr, err)
		}(listen)
	}

	// wait for CTRL-C before shutting down to allow manual testing
	if !quiet {
		fmt.Printf("\n\nWaiting for CTRL-C (SIGINT) or 'kill <pid>' (SIGTERM)…")
	}

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received signal: %v", sig)
	if !quiet {
		fmt.Printf("\nreceived signal: %v\n", sig)
		fmt.Printf("\nshutting down…\n")
	}

	log.Info("shutting down…")
	return nil
}
