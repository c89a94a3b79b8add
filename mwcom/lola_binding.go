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
	"sync"

	"github.com/eclipse-score/mw-com-lola/mwcom/lola"
)

// LolaSkeletonEventBinding adapts a *lola.EventConnection[T] to
// SkeletonEventBinding[T] (§4.6).
type LolaSkeletonEventBinding[T any] struct {
	conn *lola.EventConnection[T]
}

// NewLolaSkeletonEventBinding wraps an already-constructed connection,
// normally obtained via a ServiceDataStorage's registered control plane.
func NewLolaSkeletonEventBinding[T any](conn *lola.EventConnection[T]) *LolaSkeletonEventBinding[T] {
	return &LolaSkeletonEventBinding[T]{conn: conn}
}

func (b *LolaSkeletonEventBinding[T]) Allocate() (SampleAllocatee[T], error) {
	h, err := b.conn.Allocate()
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (b *LolaSkeletonEventBinding[T]) Send(value T) error { return b.conn.Send(value) }

// PrepareOffer has no precondition for a plain event (§4.6).
func (b *LolaSkeletonEventBinding[T]) PrepareOffer() error { return nil }

// PrepareStopOffer has nothing to quiesce for a plain event (§4.6).
func (b *LolaSkeletonEventBinding[T]) PrepareStopOffer() error { return nil }

// LolaSkeletonFieldBinding adds the persisted current-value slot a field
// needs on top of the plain event binding (§3.7 "Fields").
type LolaSkeletonFieldBinding[T any] struct {
	*LolaSkeletonEventBinding[T]
	mu      sync.Mutex
	current T
	isValid bool
}

func NewLolaSkeletonFieldBinding[T any](conn *lola.EventConnection[T]) *LolaSkeletonFieldBinding[T] {
	return &LolaSkeletonFieldBinding[T]{LolaSkeletonEventBinding: NewLolaSkeletonEventBinding(conn)}
}

// UpdateValue publishes value as the field's new current value and
// records it so a fresh subscriber's Get returns it immediately.
func (b *LolaSkeletonFieldBinding[T]) UpdateValue(value T) error {
	if err := b.conn.Send(value); err != nil {
		return err
	}
	b.mu.Lock()
	b.current = value
	b.isValid = true
	b.mu.Unlock()
	return nil
}

// PrepareOffer requires UpdateValue to have been called at least once
// before the field can be offered (§4.6: "PrepareOffer requires an
// initial value to be set; if unset, fails with FieldValueIsNotValid and
// does not call PrepareOffer on the binding"). This shadows the
// always-nil LolaSkeletonEventBinding.PrepareOffer embedded above.
func (b *LolaSkeletonFieldBinding[T]) PrepareOffer() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isValid {
		return ErrFieldValueNotValid
	}
	return nil
}

// PrepareStopOffer invalidates the persisted current value (§4.6: mirrors
// PrepareOffer's initial-value requirement going the other way), so a
// Get reaching this binding's snapshot after StopOfferService correctly
// reports ErrFieldValueNotValid rather than a stale value.
func (b *LolaSkeletonFieldBinding[T]) PrepareStopOffer() error {
	b.mu.Lock()
	b.isValid = false
	b.mu.Unlock()
	return nil
}

func (b *LolaSkeletonFieldBinding[T]) snapshot() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.isValid
}

// LolaProxyEventBinding adapts a *lola.EventConnection[T] plus its own
// *lola.Subscription to ProxyEventBinding[T] (§4.6).
type LolaProxyEventBinding[T any] struct {
	conn *lola.EventConnection[T]
	sub  *lola.Subscription
}

// NewLolaProxyEventBinding adapts an already-constructed Subscription,
// normally obtained via ServiceDataStorage.NewTrackedSubscription so a
// crash-recovery pass can find it later (§4.4).
func NewLolaProxyEventBinding[T any](conn *lola.EventConnection[T], sub *lola.Subscription) *LolaProxyEventBinding[T] {
	return &LolaProxyEventBinding[T]{conn: conn, sub: sub}
}

func (b *LolaProxyEventBinding[T]) Subscribe(maxSamples uint16) error {
	return b.sub.Subscribe(maxSamples)
}

func (b *LolaProxyEventBinding[T]) Unsubscribe() { b.sub.Unsubscribe() }

func (b *LolaProxyEventBinding[T]) GetSubscriptionState() SubscriptionState {
	return SubscriptionState(b.sub.GetSubscriptionState())
}

func (b *LolaProxyEventBinding[T]) SetReceiveHandler(h func()) {
	b.sub.SetReceiveHandler(lola.ReceiveHandler(h))
}

func (b *LolaProxyEventBinding[T]) UnsetReceiveHandler() { b.sub.UnsetReceiveHandler() }

func (b *LolaProxyEventBinding[T]) GetNewSamples(maxCount uint32, fn func(Sample[T])) (uint32, error) {
	return b.conn.GetNewSamples(b.sub, maxCount, func(p *lola.SamplePtr[T]) { fn(p) })
}

func (b *LolaProxyEventBinding[T]) GetNumNewSamplesAvailable() uint32 {
	return b.conn.GetNumNewSamplesAvailable(b.sub)
}

func (b *LolaProxyEventBinding[T]) GetFreeSampleCount() uint32 {
	return b.conn.GetFreeSampleCount(b.sub)
}

// LolaProxyFieldBinding adds a synchronous Get reading the skeleton-side
// binding's last published value directly (in-process convenience; a
// genuine cross-process Get would instead subscribe-and-wait-for-first-
// sample, which callers can still do via GetNewSamples).
type LolaProxyFieldBinding[T any] struct {
	*LolaProxyEventBinding[T]
	skeleton *LolaSkeletonFieldBinding[T]
}

func NewLolaProxyFieldBinding[T any](conn *lola.EventConnection[T], sub *lola.Subscription, skeleton *LolaSkeletonFieldBinding[T]) *LolaProxyFieldBinding[T] {
	return &LolaProxyFieldBinding[T]{
		LolaProxyEventBinding: NewLolaProxyEventBinding(conn, sub),
		skeleton:              skeleton,
	}
}

// Get returns the field's current value (§4.6 "FieldValueIsNotValid"):
// an error if the skeleton has never called UpdateValue.
func (b *LolaProxyFieldBinding[T]) Get() (T, error) {
	var zero T
	if b.skeleton == nil {
		return zero, ErrFieldValueNotValid
	}
	value, ok := b.skeleton.snapshot()
	if !ok {
		return zero, ErrFieldValueNotValid
	}
	return value, nil
}
