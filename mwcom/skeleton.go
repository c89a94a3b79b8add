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
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/config"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola"
)

// childSlot is one named child (event, field, or method) a
// SkeletonBase/ProxyBase owns, kept in a name-keyed registry rather than
// patched pointers so Go's map/slice relocation never invalidates a
// handle the way raw pointer members would on a naive move (§4.6, §9).
type childSlot struct {
	kind  config.ElementKind
	value any
}

// SkeletonBase is the binding-agnostic parent every generated-looking
// skeleton type embeds: it owns the underlying service instance's
// OfferService/StopOfferService lifecycle and the name-keyed registry of
// its event/field/method children (§4.6).
type SkeletonBase struct {
	instance config.InstanceIdentifier
	log      *zap.Logger

	mu       sync.Mutex
	children map[string]*childSlot
	storage  *lola.ServiceDataStorage
	offered  lola.OneWayFlag
}

// NewSkeletonBase constructs an unoffered skeleton for instance. A nil
// logger is replaced with zap.NewNop().
//
// The backing shared-memory region and per-element control planes are
// built eagerly here, via lola.PrepareServiceStorage, rather than at
// OfferService time: event/field children need a live control plane to
// register against as soon as they are constructed (§4.6 step 1,
// "collect child event/field bindings"), and a field's initial-value
// precondition must be checkable before the instance is ever published
// to service discovery (§4.6 step 3). Publishing happens later, in
// OfferService, once every child has passed its own PrepareOffer.
func NewSkeletonBase(instance config.InstanceIdentifier, log *zap.Logger) *SkeletonBase {
	log = logz.OrNop(log)
	storage, err := lola.PrepareServiceStorage(instance, log)
	if err != nil {
		Fatal(fmt.Sprintf("mwcom: NewSkeletonBase: %v", err))
	}
	return &SkeletonBase{
		instance: instance,
		log:      log,
		children: map[string]*childSlot{},
		storage:  storage,
	}
}

// offerable is the narrow role-interface SkeletonEvent/SkeletonField
// children expose so OfferService can gate the offer on each of them
// uniformly, without caring which one is a field (§4.6 step 3).
type offerable interface {
	PrepareOffer() error
}

// stopOfferable is offerable's mirror-image role-interface: every
// SkeletonEvent/SkeletonField also exposes PrepareStopOffer, so
// StopOfferService can quiesce each of them uniformly (§4.6 StopOfferService
// sequence step 2).
type stopOfferable interface {
	PrepareStopOffer() error
}

func (b *SkeletonBase) registerChild(name string, kind config.ElementKind, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.children[name]; exists {
		Fatal(fmt.Sprintf("mwcom: duplicate child registration %q", name))
	}
	b.children[name] = &childSlot{kind: kind, value: value}
}

// OfferService runs the binding-agnostic offer sequence (§4.6): call each
// child's PrepareOffer, and only if every one of them succeeds, publish
// the instance to service discovery. A field with no initial value fails
// with ErrFieldValueNotValid, propagated unchanged (not wrapped) — the
// instance never becomes discoverable and no other child's Send/Update
// is affected. Calling it twice is a no-op; once StopOfferService has
// been called, a SkeletonBase cannot be re-offered (its offered flag,
// like the QM-disconnect flag, is one-way per §3.7 — construct a fresh
// skeleton for a new offer epoch).
func (b *SkeletonBase) OfferService() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.offered.IsSet() {
		return nil
	}
	for _, child := range b.children {
		o, ok := child.value.(offerable)
		if !ok {
			continue
		}
		if err := o.PrepareOffer(); err != nil {
			return err
		}
	}
	if err := b.storage.Publish(); err != nil {
		return WrapError("SkeletonBase.OfferService", err)
	}
	b.offered.Set()
	return nil
}

// StopOfferService withdraws the offer (§4.3 step 2, §4.6 mirror-sequence:
// remove from discovery, then per-child PrepareStopOffer). The offered
// flag is one-way and stays set, so a later OfferService on this
// SkeletonBase is a no-op. Idempotent: storage.StopOfferService is itself
// idempotent, and a PrepareStopOffer failure on one child is logged and
// does not stop the rest from being quiesced.
func (b *SkeletonBase) StopOfferService() error {
	b.mu.Lock()
	storage := b.storage
	children := make([]*childSlot, 0, len(b.children))
	for _, c := range b.children {
		children = append(children, c)
	}
	b.mu.Unlock()
	if storage == nil {
		return nil
	}
	if err := storage.StopOfferService(); err != nil {
		return WrapError("SkeletonBase.StopOfferService", err)
	}
	for _, child := range children {
		so, ok := child.value.(stopOfferable)
		if !ok {
			continue
		}
		if err := so.PrepareStopOffer(); err != nil {
			b.log.Warn("child PrepareStopOffer failed", zap.Error(err))
		}
	}
	return nil
}

// Storage returns the backing ServiceDataStorage, built eagerly by
// NewSkeletonBase. Used by SkeletonEvent/SkeletonField constructors to
// look up their control plane.
func (b *SkeletonBase) Storage() *lola.ServiceDataStorage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storage
}

// Instance returns the configuration handle this skeleton was built
// from.
func (b *SkeletonBase) Instance() config.InstanceIdentifier { return b.instance }

// SkeletonEvent is the producer-side façade for one event (§4.6).
type SkeletonEvent[T any] struct {
	name    string
	binding SkeletonEventBinding[T]
}

// NewSkeletonEvent builds the event's control plane from parent's
// prepared storage and registers it as a named child. Children may be
// constructed any time after NewSkeletonBase, including before
// OfferService (§4.6 step 1).
func NewSkeletonEvent[T any](parent *SkeletonBase, name string) *SkeletonEvent[T] {
	storage := parent.Storage()
	conn := lola.EventConnectionFor[T](storage, config.ElementKindEvent, name)
	if conn == nil {
		Fatal(fmt.Sprintf("mwcom: no event %q configured for this instance", name))
	}
	ev := &SkeletonEvent[T]{name: name, binding: NewLolaSkeletonEventBinding(conn)}
	parent.registerChild(name, config.ElementKindEvent, ev)
	return ev
}

// Allocate implements the producer Contract (§4.1).
func (e *SkeletonEvent[T]) Allocate() (SampleAllocatee[T], error) {
	h, err := e.binding.Allocate()
	return h, WrapError("SkeletonEvent.Allocate", err)
}

// Send is the producer shorthand.
func (e *SkeletonEvent[T]) Send(value T) error {
	return WrapError("SkeletonEvent.Send", e.binding.Send(value))
}

// PrepareOffer delegates to the binding (§4.6 step 3). A plain event has
// no precondition.
func (e *SkeletonEvent[T]) PrepareOffer() error {
	return e.binding.PrepareOffer()
}

// PrepareStopOffer delegates to the binding (§4.6 StopOfferService
// mirror-sequence step 2).
func (e *SkeletonEvent[T]) PrepareStopOffer() error {
	return e.binding.PrepareStopOffer()
}

// SkeletonField is the producer-side façade for a field (§3.7, §4.6).
type SkeletonField[T any] struct {
	name    string
	binding SkeletonFieldBinding[T]
}

// NewSkeletonField mirrors NewSkeletonEvent for fields.
func NewSkeletonField[T any](parent *SkeletonBase, name string) *SkeletonField[T] {
	storage := parent.Storage()
	conn := lola.EventConnectionFor[T](storage, config.ElementKindField, name)
	if conn == nil {
		Fatal(fmt.Sprintf("mwcom: no field %q configured for this instance", name))
	}
	binding := NewLolaSkeletonFieldBinding(conn)
	f := &SkeletonField[T]{name: name, binding: binding}
	parent.registerChild(name, config.ElementKindField, f)
	return f
}

// Update publishes value as the field's new current value (§4.6).
func (f *SkeletonField[T]) Update(value T) error {
	return WrapError("SkeletonField.Update", f.binding.UpdateValue(value))
}

// PrepareOffer fails with ErrFieldValueNotValid, unwrapped, if Update has
// never been called (§4.6: "propagated unchanged").
func (f *SkeletonField[T]) PrepareOffer() error {
	return f.binding.PrepareOffer()
}

// PrepareStopOffer delegates to the binding, which invalidates the
// persisted current value (§4.6 mirror-sequence step 2).
func (f *SkeletonField[T]) PrepareStopOffer() error {
	return f.binding.PrepareStopOffer()
}

// SkeletonMethod is the minimal façade-level method dispatch registration
// (§3.7 "Methods, stubbed"). It is not a networked RPC transport (§1
// Non-goals); it exists so kMethodNotExisting/kCouldNotExecute have a
// real call site reachable from a GenericProxy.
type SkeletonMethod struct {
	name    string
	handler MethodHandler
}

// NewSkeletonMethod registers handler under name as a child of parent.
func NewSkeletonMethod(parent *SkeletonBase, name string, handler MethodHandler) *SkeletonMethod {
	m := &SkeletonMethod{name: name, handler: handler}
	parent.registerChild(name, config.ElementKindMethod, m)
	return m
}

func (m *SkeletonMethod) Call(request any) (any, error) {
	resp, err := m.handler(request)
	if err != nil {
		return nil, WrapError("SkeletonMethod.Call", fmt.Errorf("%w: %v", ErrCouldNotExecute, err))
	}
	return resp, nil
}
