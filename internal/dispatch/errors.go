// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"

	"github.com/dringdahl0320/mongo-mcp-server/internal/schema"
)

// Kind classifies a failed call.
type Kind string

// Error kinds reported in envelopes.
const (
	KindInvalidArgument Kind = "InvalidArgument"
	KindUnknownTool     Kind = "UnknownTool"
	KindValidation      Kind = "ValidationError"
	KindInternal        Kind = "InternalError"
	KindStore           Kind = "StoreError"
	KindDuplicateName   Kind = "DuplicateName"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), Err: errors.Unwrap(err)}
}

// InvalidArgument reports malformed or missing input.
func InvalidArgument(format string, args ...any) *Error {
	return Errorf(KindInvalidArgument, format, args...)
}

// Classify maps any error onto an Error. Model validation failures become
// ValidationError; anything not already classified is a store failure.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindStore, Message: err.Error(), Err: err}
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
