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

// SubscriptionState mirrors lola.SubscriptionState at the façade level so
// callers never need to import a binding package directly (§4.6).
type SubscriptionState int

const (
	NotSubscribed SubscriptionState = iota
	SubscriptionPending
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case NotSubscribed:
		return "NotSubscribed"
	case SubscriptionPending:
		return "SubscriptionPending"
	case Subscribed:
		return "Subscribed"
	default:
		return "Unknown"
	}
}

// SampleAllocatee is the façade-level move-only producer handle: fill
// Payload, then either Send to publish or Close to abandon (§4.1, §4.6).
// Any binding's allocatee handle (e.g. *lola.SampleAllocateePtr[T])
// satisfies this structurally.
type SampleAllocatee[T any] interface {
	Payload() *T
	Send() error
	Close()
}

// Sample is the façade-level consumer handle, borrowed for the lifetime
// of a GetNewSamples callback (or until Close, §4.2).
type Sample[T any] interface {
	Payload() *T
	Close()
}

// SkeletonEventBinding is the narrow producer-side contract a binding
// technology implements for one event (§4.6 "narrow binding
// interfaces").
type SkeletonEventBinding[T any] interface {
	Allocate() (SampleAllocatee[T], error)
	Send(value T) error

	// PrepareOffer validates any binding-specific precondition before the
	// instance is published to service discovery (§4.6 OfferService
	// sequence step 3: "for each child: call child's PrepareOffer"). A
	// plain event has none and returns nil; SkeletonFieldBinding overrides
	// this to require an initial value.
	PrepareOffer() error

	// PrepareStopOffer runs the mirror-image hook on the way down (§4.6
	// StopOfferService sequence: "remove from discovery, then for each
	// child call PrepareStopOffer, then clear the offered flag"). A plain
	// event has nothing to quiesce and returns nil.
	PrepareStopOffer() error
}

// ProxyEventBinding is the narrow consumer-side contract.
type ProxyEventBinding[T any] interface {
	Subscribe(maxSamples uint16) error
	Unsubscribe()
	GetSubscriptionState() SubscriptionState
	SetReceiveHandler(h func())
	UnsetReceiveHandler()
	GetNewSamples(maxCount uint32, fn func(Sample[T])) (uint32, error)
	GetNumNewSamplesAvailable() uint32
	GetFreeSampleCount() uint32
}

// SkeletonFieldBinding extends SkeletonEventBinding with the persisted
// current value a field carries (§4.6, §3.7 "Fields").
type SkeletonFieldBinding[T any] interface {
	SkeletonEventBinding[T]
	UpdateValue(value T) error
}

// ProxyFieldBinding extends ProxyEventBinding with a synchronous Get of
// the field's last published value.
type ProxyFieldBinding[T any] interface {
	ProxyEventBinding[T]
	Get() (T, error)
}

// MethodBinding is the minimal façade-level RPC call/dispatch contract
// (§3.7 "Methods", stubbed — no networked transport, §1 Non-goals).
type MethodBinding interface {
	Call(request any) (response any, err error)
}

// MethodHandler is a skeleton-side method implementation registered
// against a MethodBinding's dispatch table.
type MethodHandler func(request any) (response any, err error)
