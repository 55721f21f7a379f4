// Copyright 2024 OnChain Media Corporation
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Path names the route that served a call.
type Path string

// Execution paths.
const (
	PathTyped   Path = "typed"
	PathGeneric Path = "generic"
)

// RequestContext is the part of a request echoed back with a failure, enough
// to reproduce it.
type RequestContext struct {
	Operation  string `json:"operation"`
	Collection string `json:"collection,omitempty"`
	Filter     any    `json:"filter,omitempty"`
	Projection any    `json:"projection,omitempty"`
	Sort       any    `json:"sort,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
	Skip       int64  `json:"skip,omitempty"`
	Update     any    `json:"update,omitempty"`
	Document   any    `json:"document,omitempty"`
	Pipeline   any    `json:"pipeline,omitempty"`
	Keys       any    `json:"keys,omitempty"`
	Index      string `json:"index,omitempty"`
}

// ErrorBody is the failure half of an envelope.
type ErrorBody struct {
	Kind    Kind            `json:"kind"`
	Message string          `json:"message"`
	Context *RequestContext `json:"context,omitempty"`
}

// Envelope is the one response shape of every operation: usedPath plus
// either a result or an error.
type Envelope struct {
	UsedPath Path
	Result   any
	Error    *ErrorBody
}

// OK reports whether the call succeeded.
func (e *Envelope) OK() bool { return e.Error == nil }

// MarshalJSON writes {usedPath, result} or {usedPath, error}. usedPath is
// left out when the call failed before a path was chosen.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.Error != nil {
		return json.Marshal(struct {
			UsedPath Path       `json:"usedPath,omitempty"`
			Error    *ErrorBody `json:"error"`
		}{e.UsedPath, e.Error})
	}
	return json.Marshal(struct {
		UsedPath Path `json:"usedPath"`
		Result   any  `json:"result"`
	}{e.UsedPath, e.Result})
}

// Success wraps a result.
func Success(path Path, result any) *Envelope {
	return &Envelope{UsedPath: path, Result: result}
}

// Failure wraps an error with the request that caused it.
func Failure(path Path, err error, req RequestContext) *Envelope {
	de := Classify(err)
	return &Envelope{
		UsedPath: path,
		Error:    &ErrorBody{Kind: de.Kind, Message: de.Error(), Context: &req},
	}
}

// Normalize builds the envelope for an outcome.
func Normalize(path Path, result any, err error, req RequestContext) *Envelope {
	if err != nil {
		return Failure(path, err, req)
	}
	return Success(path, result)
}

// recoverInto turns a panic into an InternalError envelope.
func recoverInto(env **Envelope, path *Path, req RequestContext, logger *slog.Logger) {
	if r := recover(); r != nil {
		logger.Error("operation panicked", "operation", req.Operation, "collection", req.Collection, "panic", r)
		*env = Failure(*path, Errorf(KindInternal, "internal error: %v", r), req)
	}
}

// Text renders an envelope as indented JSON.
func (e *Envelope) Text() string {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":%q,"message":%q}}`, KindInternal, err.Error())
	}
	return string(data)
}
