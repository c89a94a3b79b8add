// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package mwcom

import (
	"errors"
	"fmt"

	"github.com/eclipse-score/mw-com-lola/internal/comerr"
)

// ContextualError wraps an error with additional context about the
// operation that produced it. It implements Unwrap for use with
// errors.Is/errors.As.
type ContextualError struct {
	Op  string // the operation that failed, e.g. "ProxyEvent.Subscribe"
	Err error
}

func (e *ContextualError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *ContextualError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with operation context. Returns nil if err is nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ContextualError{Op: op, Err: err}
}

// Code is the error-code taxonomy surfaced across the public API (§6/§7).
// Transient and platform errors carry a Code and are returned as values;
// configuration and contract-violation errors are reported through
// FatalError instead, since they are treated as abort-worthy.
type Code = comerr.Code

const (
	CodeSampleAllocationFailure          = comerr.CodeSampleAllocationFailure
	CodeBindingFailure                   = comerr.CodeBindingFailure
	CodeInvalidConfiguration             = comerr.CodeInvalidConfiguration
	CodeInvalidInstanceIdentifierString  = comerr.CodeInvalidInstanceIdentifierString
	CodeInvalidBindingInformation        = comerr.CodeInvalidBindingInformation
	CodeInvalidHandle                    = comerr.CodeInvalidHandle
	CodeServiceNotAvailable              = comerr.CodeServiceNotAvailable
	CodeServiceNotOffered                = comerr.CodeServiceNotOffered
	CodeCommunicationLinkError           = comerr.CodeCommunicationLinkError
	CodeFieldValueIsNotValid             = comerr.CodeFieldValueIsNotValid
	CodeCouldNotExecute                  = comerr.CodeCouldNotExecute
	CodeMethodNotExisting                = comerr.CodeMethodNotExisting
)

// FatalError marks a configuration or contract-violation error (§7): the
// spec requires the process abort on these, so callers that detect one
// should not attempt to recover it as a normal control-flow error.
type FatalError = comerr.FatalError

// Fatal panics with a *FatalError. Used at the few call sites where a
// process abort is the only sound response: unknown serialization
// version, malformed configuration, duplicate child registration, slot
// index out of bounds.
func Fatal(reason string) {
	comerr.Fatal(reason)
}

var (
	// ErrNilHandle indicates an unexpected nil binding/service handle.
	ErrNilHandle = errors.New("mwcom: nil handle")
	// ErrBuilderConsumed indicates a builder has already been used to
	// construct its product.
	ErrBuilderConsumed = errors.New("mwcom: builder already consumed")
	// ErrClosed indicates an operation on an already-closed object.
	ErrClosed = errors.New("mwcom: already closed")
	// ErrNoData indicates the absence of data, not a failure (e.g. no new
	// samples available).
	ErrNoData = errors.New("mwcom: no data available")
	// ErrFieldValueNotValid indicates a ProxyField.Get call reached a
	// field the skeleton side has never published a value for (§4.6
	// "FieldValueIsNotValid").
	ErrFieldValueNotValid = errors.New("mwcom: field value is not valid")
	// ErrMethodNotExisting indicates a GenericProxy method call target
	// was not found in the dispatch table (§6 kMethodNotExisting).
	ErrMethodNotExisting = errors.New("mwcom: method does not exist")
	// ErrCouldNotExecute indicates a registered method handler returned
	// an error (§6 kCouldNotExecute).
	ErrCouldNotExecute = errors.New("mwcom: method could not execute")
)
