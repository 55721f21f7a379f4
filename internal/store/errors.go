// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

// Sentinel errors shared by the backends.
var (
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrIndexNotFound   = errors.New("index not found")
	ErrIndexConflict   = errors.New("index already exists with different options")
	ErrImmutableID     = errors.New("the _id field is immutable")
	ErrInvalidUpdate   = errors.New("invalid update document")
	ErrClosed          = errors.New("store is closed")
	ErrUnsupportedURI  = errors.New("unsupported connection string")
	ErrInvalidDocument = errors.New("invalid document")
)
