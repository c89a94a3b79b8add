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

package lola

import (
	"errors"

	"code.hybscloud.com/iox"

	"github.com/eclipse-score/mw-com-lola/internal/comerr"
)

// ErrSampleAllocationFailure is returned by Allocate when no slot
// satisfies the selection policy (§4.1). It is transient: the caller may
// retry (§7 "Transient ... Returned as error; caller may retry"). It is
// an alias of iox.ErrWouldBlock for ecosystem consistency with the rest
// of the retrieval pack's transient-error idiom.
var ErrSampleAllocationFailure = iox.ErrWouldBlock

// IsSampleAllocationFailure reports whether err is (or wraps)
// ErrSampleAllocationFailure.
func IsSampleAllocationFailure(err error) bool {
	return iox.IsWouldBlock(err)
}

// ErrNoCapacity is returned by RegisterPid when the mapping array is
// full or has zero capacity (§4.4, §8 boundary behaviors).
var ErrNoCapacity = errors.New("lola: application/pid mapping has no free capacity")

// ErrNotInWriting is a contract violation: Send or drop was called on a
// slot that is not currently in InWriting state.
var ErrNotInWriting = errors.New("lola: slot is not in_writing")

// ErrTornDown indicates an operation was attempted on a slot or region
// whose storage teardown already transitioned it to Invalid (§4.1 slot
// state machine, §4.3 StopOfferService step 2).
var ErrTornDown = errors.New("lola: control word is invalid (region torn down)")

// ErrAlreadySubscribed is a contract violation (§4.2): Subscribe called
// from any state other than NotSubscribed.
var ErrAlreadySubscribed = errors.New("lola: subscribe is only valid from NotSubscribed")

// ErrNotSubscribed is returned by GetNewSamples when called while the
// subscription is not in the Subscribed state (§4.2 Contract).
var ErrNotSubscribed = errors.New("lola: subscription is not in Subscribed state")

// ErrServiceNotOffered indicates ConnectToService or GenericGetNewSamples
// found no live offerer for the requested instance (§4.3).
var ErrServiceNotOffered = errors.New("lola: service instance is not offered")

// ErrTimestampWraparound is fatal per-event (§4.1 "Timestamp semantics").
var ErrTimestampWraparound = errors.New("lola: event timestamp counter wrapped past 48 bits")

// ErrClosed is returned by SampleAllocateePtr.Send when the handle has
// already been sent or closed (§3 "move-only handle").
var ErrClosed = errors.New("lola: sample handle already sent or closed")

// ErrElementNotConnected is returned by GenericGetNewSamples when no
// typed EventConnection has been created for the requested element in
// this process yet (§4.6 "GenericProxy"): a type-erased proxy has no
// concrete T of its own to materialize a payload array with, so it can
// only read bytes for elements a typed skeleton/proxy already connected
// to (see DESIGN.md open question 5).
var ErrElementNotConnected = errors.New("lola: element has no connected payload storage in this process")

// fatalf reports a contract violation or configuration error per §7: the
// spec requires the process abort on these.
func fatalf(reason string) {
	comerr.Fatal(reason)
}
