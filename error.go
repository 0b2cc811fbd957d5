// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific StoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the StoreError will be
	// set to the underlying error returned from walletdb.
	ErrDatabase ErrorCode = iota

	// ErrData indicates that a stored key or value is malformed: a short
	// read, a truncated payload, or a transaction that fails to
	// deserialize.
	ErrData

	// ErrMissingNetwork indicates that the namespace holds wallet data
	// but no network record, which every initialized namespace must
	// have.
	ErrMissingNetwork

	// ErrMissingDescriptor indicates that the namespace has a network
	// record but no external descriptor.
	ErrMissingDescriptor

	// ErrImmutableRow indicates an attempt to rewrite a write-once row
	// (the network record or a keychain descriptor) with a different
	// value.
	ErrImmutableRow

	// ErrUnknownVersion indicates that the store was created by a newer
	// version of this package.
	ErrUnknownVersion
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:          "ErrDatabase",
	ErrData:              "ErrData",
	ErrMissingNetwork:    "ErrMissingNetwork",
	ErrMissingDescriptor: "ErrMissingDescriptor",
	ErrImmutableRow:      "ErrImmutableRow",
	ErrUnknownVersion:    "ErrUnknownVersion",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single type for errors that can happen during store
// operation.
type StoreError struct {
	Code        ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e StoreError) Unwrap() error {
	return e.Err
}

// storeError creates a StoreError given a set of arguments.
func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{Code: c, Description: desc, Err: err}
}

// IsError returns whether the error is a StoreError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	serr, ok := err.(StoreError)
	return ok && serr.Code == code
}

// DanglingRefError describes an anchor or observation flag that references a
// transaction id with no transaction record, either committed or earlier in
// the same batch.  This is a data error on the caller's side, not a
// transient store failure, but it is the caller's decision how to treat it.
type DanglingRefError struct {
	// TxID is the referenced transaction id that has no record.
	TxID chainhash.Hash
}

// Error satisfies the error interface and prints human-readable errors.
func (e DanglingRefError) Error() string {
	return fmt.Sprintf("no transaction record for %v", e.TxID)
}
