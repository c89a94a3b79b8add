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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/config"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola"
)

// FindServiceHandle identifies one StartFindService registration so it
// can later be passed to StopFindService (§4.3 step 3). It carries a
// uuid rather than a raw index so handles from independent
// StartFindService calls never collide.
type FindServiceHandle struct {
	id uuid.UUID
}

func (h FindServiceHandle) String() string { return h.id.String() }

// ProxyBase is the binding-agnostic parent every generated-looking proxy
// type embeds: it resolves the underlying ServiceDataStorage once the
// instance is found, and owns the name-keyed registry of its event/field
// children (§4.6).
type ProxyBase struct {
	instance config.InstanceIdentifier
	log      *zap.Logger

	mu       sync.Mutex
	children map[string]*childSlot
	storage  *lola.ServiceDataStorage
}

// FindService reports whether a live skeleton currently offers instance
// (§4.3 step 3).
func FindService(instance config.InstanceIdentifier) (bool, error) {
	offered, err := lola.FindService(instance)
	return offered, WrapError("FindService", err)
}

// FindServiceHandler is invoked on every observed offered-state
// transition by StartFindService.
type FindServiceHandler func(instance config.InstanceIdentifier, offered bool)

var startFindServiceRegistry = struct {
	mu   sync.Mutex
	subs map[FindServiceHandle]interface{ Close() }
}{subs: map[FindServiceHandle]interface{ Close() }{}}

// StartFindService begins asynchronous discovery of instance, invoking
// handler on every transition, and returns a handle for StopFindService
// (§4.3 step 3).
func StartFindService(instance config.InstanceIdentifier, pollInterval time.Duration, handler FindServiceHandler) FindServiceHandle {
	sub := lola.StartFindService(instance, pollInterval, func(inst config.InstanceIdentifier, offered bool) {
		handler(inst, offered)
	})
	h := FindServiceHandle{id: uuid.New()}
	startFindServiceRegistry.mu.Lock()
	startFindServiceRegistry.subs[h] = sub
	startFindServiceRegistry.mu.Unlock()
	return h
}

// StopFindService ends a StartFindService registration. Unknown or
// already-stopped handles are a no-op.
func StopFindService(h FindServiceHandle) {
	startFindServiceRegistry.mu.Lock()
	sub, ok := startFindServiceRegistry.subs[h]
	delete(startFindServiceRegistry.subs, h)
	startFindServiceRegistry.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// NewProxyBase connects to instance's shared region. The instance must
// already be offered (callers typically gate this on FindService or a
// StartFindService callback, §4.3).
func NewProxyBase(instance config.InstanceIdentifier, log *zap.Logger) (*ProxyBase, error) {
	storage, err := lola.ConnectToService(instance)
	if err != nil {
		return nil, WrapError("NewProxyBase", err)
	}
	return &ProxyBase{
		instance: instance,
		log:      logz.OrNop(log),
		children: map[string]*childSlot{},
		storage:  storage,
	}, nil
}

func (p *ProxyBase) registerChild(name string, kind config.ElementKind, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.children[name]; exists {
		Fatal(fmt.Sprintf("mwcom: duplicate child registration %q", name))
	}
	p.children[name] = &childSlot{kind: kind, value: value}
}

// Instance returns the configuration handle this proxy was built from.
func (p *ProxyBase) Instance() config.InstanceIdentifier { return p.instance }

// ProxyEvent is the consumer-side façade for one event (§4.6).
type ProxyEvent[T any] struct {
	name    string
	binding ProxyEventBinding[T]
}

// NewProxyEvent resolves name's control plane from parent's storage and
// registers it as a named child.
func NewProxyEvent[T any](parent *ProxyBase, name string) *ProxyEvent[T] {
	conn := lola.EventConnectionFor[T](parent.storage, config.ElementKindEvent, name)
	if conn == nil {
		Fatal(fmt.Sprintf("mwcom: no event %q configured for this instance", name))
	}
	sub := parent.storage.NewTrackedSubscription(conn.Control)
	ev := &ProxyEvent[T]{name: name, binding: NewLolaProxyEventBinding(conn, sub)}
	parent.registerChild(name, config.ElementKindEvent, ev)
	return ev
}

func (e *ProxyEvent[T]) Subscribe(maxSamples uint16) error {
	return WrapError("ProxyEvent.Subscribe", e.binding.Subscribe(maxSamples))
}

func (e *ProxyEvent[T]) Unsubscribe() { e.binding.Unsubscribe() }

func (e *ProxyEvent[T]) GetSubscriptionState() SubscriptionState {
	return e.binding.GetSubscriptionState()
}

func (e *ProxyEvent[T]) SetReceiveHandler(h func()) { e.binding.SetReceiveHandler(h) }

func (e *ProxyEvent[T]) UnsetReceiveHandler() { e.binding.UnsetReceiveHandler() }

// GetNewSamples implements the consumer Contract (§4.1/§4.2).
func (e *ProxyEvent[T]) GetNewSamples(maxCount uint32, fn func(Sample[T])) (uint32, error) {
	n, err := e.binding.GetNewSamples(maxCount, fn)
	return n, WrapError("ProxyEvent.GetNewSamples", err)
}

func (e *ProxyEvent[T]) GetNumNewSamplesAvailable() uint32 {
	return e.binding.GetNumNewSamplesAvailable()
}

func (e *ProxyEvent[T]) GetFreeSampleCount() uint32 { return e.binding.GetFreeSampleCount() }

// ProxyField is the consumer-side façade for a field (§3.7, §4.6).
type ProxyField[T any] struct {
	name    string
	binding ProxyFieldBinding[T]
}

// NewProxyField mirrors NewProxyEvent for fields. skeletonSide, if the
// skeleton lives in this same process, lets Get observe the last
// published value directly; pass nil when unavailable, in which case Get
// always reports ErrFieldValueNotValid. Samples received via
// GetNewSamples do not change what Get returns.
func NewProxyField[T any](parent *ProxyBase, name string, skeletonSide *SkeletonField[T]) *ProxyField[T] {
	conn := lola.EventConnectionFor[T](parent.storage, config.ElementKindField, name)
	if conn == nil {
		Fatal(fmt.Sprintf("mwcom: no field %q configured for this instance", name))
	}
	var skelBinding *LolaSkeletonFieldBinding[T]
	if skeletonSide != nil {
		skelBinding, _ = skeletonSide.binding.(*LolaSkeletonFieldBinding[T])
	}
	sub := parent.storage.NewTrackedSubscription(conn.Control)
	binding := NewLolaProxyFieldBinding(conn, sub, skelBinding)
	f := &ProxyField[T]{name: name, binding: binding}
	parent.registerChild(name, config.ElementKindField, f)
	return f
}

func (f *ProxyField[T]) Get() (T, error) {
	v, err := f.binding.Get()
	return v, WrapError("ProxyField.Get", err)
}

func (f *ProxyField[T]) Subscribe(maxSamples uint16) error {
	return WrapError("ProxyField.Subscribe", f.binding.Subscribe(maxSamples))
}

func (f *ProxyField[T]) Unsubscribe() { f.binding.Unsubscribe() }

func (f *ProxyField[T]) GetNewSamples(maxCount uint32, fn func(Sample[T])) (uint32, error) {
	n, err := f.binding.GetNewSamples(maxCount, fn)
	return n, WrapError("ProxyField.GetNewSamples", err)
}

// ProxyMethod is the consumer-side façade for a method call (§3.7,
// stubbed per §1 Non-goals: no networked transport).
type ProxyMethod struct {
	name   string
	target *SkeletonMethod
}

// NewProxyMethod resolves name against parent's skeleton-side method
// table. Both proxy and skeleton must live in the same process (§1
// Non-goals: no networked transport).
func NewProxyMethod(parent *ProxyBase, name string, skeletonSide *SkeletonMethod) *ProxyMethod {
	m := &ProxyMethod{name: name, target: skeletonSide}
	parent.registerChild(name, config.ElementKindMethod, m)
	return m
}

// Call invokes the bound method, or ErrMethodNotExisting if none was
// resolved (§6 kMethodNotExisting).
func (m *ProxyMethod) Call(request any) (any, error) {
	if m.target == nil {
		return nil, WrapError("ProxyMethod.Call", ErrMethodNotExisting)
	}
	return m.target.Call(request)
}

// GenericProxy is a type-erased proxy used for tooling that does not
// know an instance's concrete event/field types at compile time (§4.6
// "GenericProxy"): it exposes the raw set of configured element names
// and kinds without requiring generated bindings, and delivers samples
// as raw byte regions rather than a typed *T (§4.6, grounded on
// iceoryx2-go's pubsub.go Sample.Payload() []byte pattern already used
// for SamplePtr[T]/SampleAllocateePtr[T] in mwcom/lola/sample.go).
type GenericProxy struct {
	base *ProxyBase

	mu       sync.Mutex
	lastSeen map[string]uint64
}

// NewGenericProxy wraps an already-connected ProxyBase.
func NewGenericProxy(base *ProxyBase) *GenericProxy {
	return &GenericProxy{base: base, lastSeen: map[string]uint64{}}
}

func genericElementKey(kind config.ElementKind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// GetNewSamples delivers at most maxCount new samples for the named
// event or field as raw byte regions, newest-to-oldest, exactly like the
// typed ProxyEvent/ProxyField GetNewSamples (§4.1/§4.2 Contract) but
// without requiring this process to have generated bindings for the
// element's type. The byte slice passed to fn is only valid for the
// duration of the call. The element's typed EventConnection must already
// exist in this process (created by some NewSkeletonEvent/
// NewSkeletonField/NewProxyEvent/NewProxyField call against the same
// storage) — GenericProxy has no concrete T to allocate a payload array
// with otherwise.
func (g *GenericProxy) GetNewSamples(kind config.ElementKind, name string, maxCount uint32, fn func([]byte)) (uint32, error) {
	key := genericElementKey(kind, name)
	g.mu.Lock()
	lastSeen := g.lastSeen[key]
	g.mu.Unlock()

	n, newest, err := lola.GenericGetNewSamples(g.base.storage, kind, name, lastSeen, maxCount, fn)

	g.mu.Lock()
	g.lastSeen[key] = newest
	g.mu.Unlock()

	return n, WrapError("GenericProxy.GetNewSamples", err)
}

// GetNumNewSamplesAvailable counts ready slots newer than this
// GenericProxy's watermark for the named element, without advancing it
// or taking references (§4.2 Contract peek).
func (g *GenericProxy) GetNumNewSamplesAvailable(kind config.ElementKind, name string) uint32 {
	control := g.base.storage.Control(kind, name)
	if control == nil {
		return 0
	}
	key := genericElementKey(kind, name)
	g.mu.Lock()
	lastSeen := g.lastSeen[key]
	g.mu.Unlock()
	return control.GetNumNewSamplesAvailable(lastSeen)
}

// ElementNames returns every event/field/method name configured for this
// instance's service type, keyed by kind.
func (g *GenericProxy) ElementNames(kind config.ElementKind) []string {
	t, ok := g.base.instance.Type()
	if !ok || t.Lola == nil {
		return nil
	}
	var names map[string]uint16
	switch kind {
	case config.ElementKindEvent:
		names = t.Lola.Events
	case config.ElementKindField:
		names = t.Lola.Fields
	case config.ElementKindMethod:
		names = t.Lola.Methods
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	return out
}

// AreBindingsValid reports whether every child a ProxyBase has so far
// registered resolved to a non-nil binding (§4.6 "AreBindingsValid"),
// used after constructing a generated-looking proxy's children to detect
// a partially-wired binding before first use.
func (p *ProxyBase) AreBindingsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, child := range p.children {
		if child.value == nil {
			return false
		}
	}
	return true
}

// AreBindingsValid mirrors ProxyBase's check for a skeleton's children.
func (b *SkeletonBase) AreBindingsValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, child := range b.children {
		if child.value == nil {
			return false
		}
	}
	return true
}
