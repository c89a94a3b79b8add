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

// Package mock implements the façade's narrow binding interfaces
// (mwcom.SkeletonEventBinding, mwcom.ProxyEventBinding, ...) entirely
// in-process, with no shared memory or lock files (§4.6 "narrow binding
// interfaces" — any binding technology may satisfy them). It exists so a
// user of the mwcom façade can unit test skeleton/proxy wiring without
// the real lola binding's OS-level dependencies.
package mock

import (
	"errors"
	"sync"

	"github.com/eclipse-score/mw-com-lola/mwcom"
)

// ErrAlreadySent is returned by a mock allocatee handle's Send when it
// has already been sent or closed.
var ErrAlreadySent = errors.New("mock: sample already sent or closed")

// sample is the mock consumer handle: a plain copy of the published
// value, since there is no slot array to reference.
type sample[T any] struct {
	value T
}

func (s *sample[T]) Payload() *T { return &s.value }
func (s *sample[T]) Close()      {}

// allocatee is the mock producer handle.
type allocatee[T any] struct {
	binding *EventBinding[T]
	value   T
	done    bool
}

func (a *allocatee[T]) Payload() *T { return &a.value }

func (a *allocatee[T]) Send() error {
	if a.done {
		return ErrAlreadySent
	}
	a.done = true
	a.binding.publish(a.value)
	return nil
}

func (a *allocatee[T]) Close() { a.done = true }

// EventBinding is an in-memory stand-in for one event or field, backing
// both mwcom.SkeletonEventBinding[T] and mwcom.ProxyEventBinding[T] so
// the same mock can sit on either side of a test.
type EventBinding[T any] struct {
	mu         sync.Mutex
	buffer     []T
	delivered  int
	state      mwcom.SubscriptionState
	maxSamples uint16
	handler    func()
}

// NewEventBinding constructs an empty, unsubscribed mock event.
func NewEventBinding[T any]() *EventBinding[T] {
	return &EventBinding[T]{}
}

func (b *EventBinding[T]) publish(value T) {
	b.mu.Lock()
	b.buffer = append(b.buffer, value)
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h()
	}
}

// Allocate implements mwcom.SkeletonEventBinding.
func (b *EventBinding[T]) Allocate() (mwcom.SampleAllocatee[T], error) {
	return &allocatee[T]{binding: b}, nil
}

// Send implements mwcom.SkeletonEventBinding.
func (b *EventBinding[T]) Send(value T) error {
	b.publish(value)
	return nil
}

// UpdateValue implements mwcom.SkeletonFieldBinding.
func (b *EventBinding[T]) UpdateValue(value T) error {
	return b.Send(value)
}

// Subscribe implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) Subscribe(maxSamples uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = mwcom.Subscribed
	b.maxSamples = maxSamples
	return nil
}

// Unsubscribe implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = mwcom.NotSubscribed
	b.delivered = len(b.buffer)
	b.handler = nil
}

// GetSubscriptionState implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) GetSubscriptionState() mwcom.SubscriptionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetReceiveHandler implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) SetReceiveHandler(h func()) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// UnsetReceiveHandler implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) UnsetReceiveHandler() {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
}

// GetNewSamples implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) GetNewSamples(maxCount uint32, fn func(mwcom.Sample[T])) (uint32, error) {
	b.mu.Lock()
	pending := b.buffer[b.delivered:]
	var n uint32
	for _, v := range pending {
		if n >= maxCount {
			break
		}
		fn(&sample[T]{value: v})
		n++
	}
	b.delivered += int(n)
	b.mu.Unlock()
	return n, nil
}

// GetNumNewSamplesAvailable implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) GetNumNewSamplesAvailable() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(len(b.buffer) - b.delivered)
}

// GetFreeSampleCount implements mwcom.ProxyEventBinding.
func (b *EventBinding[T]) GetFreeSampleCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint32(b.maxSamples)
}

// PrepareOffer implements mwcom.SkeletonEventBinding (§4.6 step 3). This
// single mock type backs both plain events and fields, which have
// different preconditions (a field requires an initial value, an event
// does not) — since the two roles aren't distinguishable from EventBinding
// alone, it always succeeds here. A test that specifically exercises the
// field initial-value gate should assert against mwcom.LolaSkeletonFieldBinding
// instead, where PrepareOffer does check it.
func (b *EventBinding[T]) PrepareOffer() error { return nil }

// PrepareStopOffer implements mwcom.SkeletonEventBinding (§4.6
// StopOfferService sequence). Nothing to quiesce for the mock.
func (b *EventBinding[T]) PrepareStopOffer() error { return nil }

// Get implements mwcom.ProxyFieldBinding: the most recently published
// value, or mwcom.ErrFieldValueNotValid if nothing has been published
// yet.
func (b *EventBinding[T]) Get() (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if len(b.buffer) == 0 {
		return zero, mwcom.ErrFieldValueNotValid
	}
	return b.buffer[len(b.buffer)-1], nil
}

var (
	_ mwcom.SkeletonEventBinding[int] = (*EventBinding[int])(nil)
	_ mwcom.SkeletonFieldBinding[int] = (*EventBinding[int])(nil)
	_ mwcom.ProxyEventBinding[int]    = (*EventBinding[int])(nil)
	_ mwcom.ProxyFieldBinding[int]    = (*EventBinding[int])(nil)
)
