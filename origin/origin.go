// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package origin - last resort artifact retrieval from an upstream
// registry speaking the docker v2 protocol
//
// Pull tokens are fetched per repository from the auth endpoint and
// held in a TTL cache sized from the advertised expires_in, so
// repeated fetches of one repository reuse a single token.
package origin

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bitmark-inc/logger"
	cache "github.com/patrickmn/go-cache"

	"github.com/depot-cache/depotd/artifact"
	"github.com/depot-cache/depotd/fault"
)

// Configuration - upstream endpoints; zero values select docker hub
type Configuration struct {
	Registry string `gluamapper:"registry" json:"registry"`
	Auth     string `gluamapper:"auth" json:"auth"`
	Service  string `gluamapper:"service" json:"service"`
}

const (
	defaultRegistry = "https://registry-1.docker.io"
	defaultAuth     = "https://auth.docker.io/token"
	defaultService  = "registry.docker.io"

	requestTimeout = 30 * time.Second

	defaultTokenLife  = 5 * time.Minute
	tokenSafetyMargin = 30 * time.Second
	tokenSweep        = 1 * time.Minute
)

// Gateway - client for one upstream registry
type Gateway struct {
	log      *logger.L
	client   *http.Client
	registry string
	auth     string
	service  string
	tokens   *cache.Cache
}

// New - build a gateway from configuration, applying docker hub
// defaults for unset fields
func New(configuration *Configuration, log *logger.L) *Gateway {
	registry := configuration.Registry
	if "" == registry {
		registry = defaultRegistry
	}
	auth := configuration.Auth
	if "" == auth {
		auth = defaultAuth
	}
	service := configuration.Service
	if "" == service {
		service = defaultService
	}

	return &Gateway{
		log:      log,
		client:   &http.Client{Timeout: requestTimeout},
		registry: strings.TrimRight(registry, "/"),
		auth:     auth,
		service:  service,
		tokens:   cache.New(defaultTokenLife, tokenSweep),
	}
}

// FetchBlob - download the blob for h from the repository holding
// name, authenticating with a cached pull token
func (g *Gateway) FetchBlob(name string, h artifact.Hash) ([]byte, error) {
	log := g.log

	repository := repositoryPath(name)
	token, err := g.token(repository)
	if nil != err {
		return nil, err
	}

	blobURL := g.registry + "/v2/" + repository + "/blobs/" + h.String()
	request, err := http.NewRequest(http.MethodGet, blobURL, nil)
	if nil != err {
		return nil, fault.OriginRequestFail
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := g.client.Do(request)
	if nil != err {
		log.Warnf("blob fetch %s: %s", blobURL, err)
		return nil, fault.OriginRequestFail
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		data, err := ioutil.ReadAll(response.Body)
		if nil != err {
			return nil, fault.OriginRequestFail
		}
		log.Debugf("fetched %s from origin (%d bytes)", h, len(data))
		return data, nil

	case http.StatusUnauthorized, http.StatusForbidden:
		// the token was rejected so a cached copy is useless
		g.tokens.Delete(repository)
		return nil, fault.OriginUnauthorized

	case http.StatusNotFound:
		return nil, fault.OriginNotFound

	default:
		log.Warnf("blob fetch %s: status %d", blobURL, response.StatusCode)
		return nil, fault.OriginRequestFail
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (g *Gateway) token(repository string) (string, error) {
	log := g.log

	if cached, ok := g.tokens.Get(repository); ok {
		return cached.(string), nil
	}

	values := url.Values{}
	values.Set("service", g.service)
	values.Set("scope", "repository:"+repository+":pull")

	response, err := g.client.Get(g.auth + "?" + values.Encode())
	if nil != err {
		log.Warnf("token fetch for %s: %s", repository, err)
		return "", fault.OriginRequestFail
	}
	defer response.Body.Close()

	if http.StatusOK != response.StatusCode {
		log.Warnf("token fetch for %s: status %d", repository, response.StatusCode)
		return "", fault.OriginRequestFail
	}

	var tr tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&tr); nil != err {
		return "", fault.OriginRequestFail
	}
	if "" == tr.Token {
		return "", fault.OriginRequestFail
	}

	life := time.Duration(tr.ExpiresIn) * time.Second
	if life <= tokenSafetyMargin {
		life = defaultTokenLife
	} else {
		life -= tokenSafetyMargin
	}
	g.tokens.Set(repository, tr.Token, life)

	return tr.Token, nil
}

// bare names live in the library namespace on docker hub
func repositoryPath(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return "library/" + name
}
