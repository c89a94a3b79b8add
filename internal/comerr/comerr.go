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

// Package comerr holds the error taxonomy shared by mwcom and
// mwcom/config. It lives below both so that config can report fatal
// configuration errors without importing the façade package, and mwcom
// can re-export the same types as part of its public surface.
package comerr

import (
	"errors"
	"fmt"
)

// Code is the error-code taxonomy surfaced across the public API.
type Code int

const (
	CodeSampleAllocationFailure Code = iota + 1
	CodeBindingFailure
	CodeInvalidConfiguration
	CodeInvalidInstanceIdentifierString
	CodeInvalidBindingInformation
	CodeInvalidHandle
	CodeServiceNotAvailable
	CodeServiceNotOffered
	CodeCommunicationLinkError
	CodeFieldValueIsNotValid
	CodeCouldNotExecute
	CodeMethodNotExisting
)

func (c Code) String() string {
	switch c {
	case CodeSampleAllocationFailure:
		return "SampleAllocationFailure"
	case CodeBindingFailure:
		return "BindingFailure"
	case CodeInvalidConfiguration:
		return "InvalidConfiguration"
	case CodeInvalidInstanceIdentifierString:
		return "InvalidInstanceIdentifierString"
	case CodeInvalidBindingInformation:
		return "InvalidBindingInformation"
	case CodeInvalidHandle:
		return "InvalidHandle"
	case CodeServiceNotAvailable:
		return "ServiceNotAvailable"
	case CodeServiceNotOffered:
		return "ServiceNotOffered"
	case CodeCommunicationLinkError:
		return "CommunicationLinkError"
	case CodeFieldValueIsNotValid:
		return "FieldValueIsNotValid"
	case CodeCouldNotExecute:
		return "CouldNotExecute"
	case CodeMethodNotExisting:
		return "MethodNotExisting"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

func (c Code) Error() string {
	return "mwcom: " + c.String()
}

func (c Code) Is(target error) bool {
	var t Code
	if errors.As(target, &t) {
		return c == t
	}
	return false
}

// FatalError marks a configuration or contract-violation error: these
// require the process to abort rather than be treated as ordinary,
// retryable error values.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "mwcom: fatal: " + e.Reason
}

// Fatal panics with a *FatalError.
func Fatal(reason string) {
	panic(&FatalError{Reason: reason})
}
