// SPDX-License-Identifier: ISC
// Copyright (c) 2021-2022 Depot Cache contributors
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fault

// GenericError - error base
type GenericError string

// to allow for different classes of errors
type (
	ExistsError   GenericError
	InvalidError  GenericError
	NotFoundError GenericError
	ProcessError  GenericError
	TimeoutError  GenericError
)

// common errors - keep in alphabetic order
var (
	AlreadyInitialised   = ProcessError("already initialised")
	EngineStopped        = ProcessError("overlay engine is not running")
	IntegrityMismatch    = InvalidError("recomputed digest does not match the claimed hash")
	InvalidConfiguration = InvalidError("configuration file must end with a table")
	InvalidHash          = InvalidError("invalid artifact hash")
	InvalidNodesDomain   = InvalidError("invalid nodes domain")
	InvalidPeerAddress   = InvalidError("invalid peer address")
	InvalidPrivateKey    = InvalidError("invalid private key")
	InvalidStructPointer = InvalidError("invalid struct pointer")
	NoListenAddress      = InvalidError("no listen addresses")
	NoProviders          = NotFoundError("no provider advertises the artifact")
	NotFoundLocally      = NotFoundError("artifact is not stored locally")
	NotInitialised       = ProcessError("not initialised")
	OriginNotFound       = NotFoundError("origin registry does not have the artifact")
	OriginRequestFail    = ProcessError("origin registry request failed")
	OriginUnauthorized   = ProcessError("origin registry authorization failed")
	PeerTimeout          = TimeoutError("peer did not respond within the deadline")
	PeerTransferFailed   = ProcessError("peer transfer failed")
	QuotaExceeded        = ProcessError("insufficient local space for artifact")
	RateLimiting         = ProcessError("rate limit exceeded")
	ResponderUsed        = ProcessError("response capability already used or expired")
)

// the error interface base method
func (e GenericError) Error() string { return string(e) }

// the error interface methods
func (e ExistsError) Error() string   { return string(e) }
func (e InvalidError) Error() string  { return string(e) }
func (e NotFoundError) Error() string { return string(e) }
func (e ProcessError) Error() string  { return string(e) }
func (e TimeoutError) Error() string  { return string(e) }

// IsErrExists - determine if an error is an ExistsError
func IsErrExists(e error) bool { _, ok := e.(ExistsError); return ok }

// IsErrInvalid - determine if an error is an InvalidError
func IsErrInvalid(e error) bool { _, ok := e.(InvalidError); return ok }

// IsErrNotFound - determine if an error is a NotFoundError
func IsErrNotFound(e error) bool { _, ok := e.(NotFoundError); return ok }

// IsErrProcess - determine if an error is a ProcessError
func IsErrProcess(e error) bool { _, ok := e.(ProcessError); return ok }

// IsErrTimeout - determine if an error is a TimeoutError
func IsErrTimeout(e error) bool { _, ok := e.(TimeoutError); return ok }
