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
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/eclipse-score/mw-com-lola/mwcom/config"
)

const facadeTestManifest = `{
	"serializationVersion": 1,
	"serviceInstanceDeployment": [
		{
			"serviceType": {
				"serializationVersion": 1,
				"serviceType": "test.FacadeService",
				"version": {"serializationVersion": 1, "majorVersion": 1, "minorVersion": 0}
			},
			"bindingInfoIndex": 0,
			"bindingInfo": {
				"serializationVersion": 1,
				"instanceId": 1,
				"sharedMemorySize": 4096,
				"events": {
					"Counter": {
						"serializationVersion": 1,
						"numberOfSampleSlots": 4,
						"enforceMaxSamples": false,
						"numberOfIpcTracingSlots": 0
					}
				},
				"fields": {
					"Status": {
						"serializationVersion": 1,
						"numberOfSampleSlots": 2,
						"enforceMaxSamples": false,
						"numberOfIpcTracingSlots": 0
					}
				},
				"strict": false
			},
			"instanceSpecifier": "mwcom_facade_test/instance1",
			"quality": "QM"
		}
	]
}`

func loadFacadeTestInstance(t *testing.T) config.InstanceIdentifier {
	t.Helper()
	cfg, err := config.Parse([]byte(facadeTestManifest))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	spec, err := config.NewInstanceSpecifier("mwcom_facade_test/instance1")
	if err != nil {
		t.Fatalf("NewInstanceSpecifier: %v", err)
	}
	ids := cfg.Resolve(spec)
	if len(ids) != 1 {
		t.Fatalf("expected exactly one resolved instance, got %d", len(ids))
	}
	return ids[0]
}

func TestFacadeEventRoundTrip(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelEvent := NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyEvent := NewProxyEvent[int32](proxy, "Counter")

	if err := proxyEvent.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := skelEvent.Send(42); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []int32
	n, err := proxyEvent.GetNewSamples(8, func(s Sample[int32]) {
		got = append(got, *s.Payload())
	})
	if err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	if n != 1 || len(got) != 1 || got[0] != 42 {
		t.Fatalf("expected to observe the published value 42 through the proxy, got n=%d got=%v", n, got)
	}
}

// TestFacadeGenericProxyRawBytes exercises §4.6 GenericProxy: samples are
// delivered as raw byte regions rather than a typed *T, for tooling that
// has no generated binding for the element's type.
func TestFacadeGenericProxyRawBytes(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelEvent := NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	generic := NewGenericProxy(proxy)

	names := generic.ElementNames(config.ElementKindEvent)
	if len(names) != 1 || names[0] != "Counter" {
		t.Fatalf("expected ElementNames to report [Counter], got %v", names)
	}

	if n := generic.GetNumNewSamplesAvailable(config.ElementKindEvent, "Counter"); n != 0 {
		t.Fatalf("expected no samples available before any Send, got %d", n)
	}

	if err := skelEvent.Send(42); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n := generic.GetNumNewSamplesAvailable(config.ElementKindEvent, "Counter"); n != 1 {
		t.Fatalf("expected GetNumNewSamplesAvailable to report 1 after Send, got %d", n)
	}

	var got int32
	n, err := generic.GetNewSamples(config.ElementKindEvent, "Counter", 8, func(b []byte) {
		if len(b) != 4 {
			t.Fatalf("expected a 4-byte payload region for int32, got %d bytes", len(b))
		}
		got = int32(binary.LittleEndian.Uint32(b))
	})
	if err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	if n != 1 || got != 42 {
		t.Fatalf("expected to observe the published value 42 as raw bytes, got n=%d got=%d", n, got)
	}

	if n := generic.GetNumNewSamplesAvailable(config.ElementKindEvent, "Counter"); n != 0 {
		t.Fatalf("expected GetNumNewSamplesAvailable to report 0 after delivery, got %d", n)
	}
}

func TestFacadeFieldRoundTrip(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelField := NewSkeletonField[string](skel, "Status")
	if err := skelField.Update("ready"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyField := NewProxyField[string](proxy, "Status", skelField)

	v, err := proxyField.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "ready" {
		t.Fatalf("expected Get to observe the skeleton-side value %q, got %q", "ready", v)
	}
}

// TestFacadeOfferServiceRejectsUnsetField exercises spec.md §4.6: a field
// with no initial value must fail OfferService with FieldValueIsNotValid,
// and the instance must never become discoverable — a subsequent
// NewProxyBase against the same instance must fail too.
func TestFacadeOfferServiceRejectsUnsetField(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	defer skel.StopOfferService()
	NewSkeletonField[string](skel, "Status")

	if err := skel.OfferService(); !errors.Is(err, ErrFieldValueNotValid) {
		t.Fatalf("expected ErrFieldValueNotValid from an unset field, got %v", err)
	}

	if _, err := NewProxyBase(inst, nil); err == nil {
		t.Fatalf("expected NewProxyBase to fail: the instance was never published to discovery")
	}
}

func TestFacadeProxyFieldGetWithoutSkeletonSide(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelField := NewSkeletonField[string](skel, "Status")
	if err := skelField.Update("ready"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyField := NewProxyField[string](proxy, "Status", nil)

	if _, err := proxyField.Get(); !errors.Is(err, ErrFieldValueNotValid) {
		t.Fatalf("expected ErrFieldValueNotValid without a skeleton-side binding, got %v", err)
	}
}

func TestFacadeDuplicateChildRegistrationPanics(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a panic registering the same child name twice")
		}
		if _, ok := r.(*FatalError); !ok {
			t.Fatalf("expected a *FatalError panic, got %T: %v", r, r)
		}
	}()
	NewSkeletonEvent[int32](skel, "Counter")
}

func TestFacadeGetNewSamplesZeroMaxCountIsNoOp(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelEvent := NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyEvent := NewProxyEvent[int32](proxy, "Counter")
	if err := proxyEvent.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := skelEvent.Send(7); err != nil {
		t.Fatalf("Send: %v", err)
	}

	n, err := proxyEvent.GetNewSamples(0, func(s Sample[int32]) {
		t.Fatalf("fn should not be invoked when maxCount is 0")
	})
	if err != nil || n != 0 {
		t.Fatalf("expected a no-op for maxCount=0, got n=%d err=%v", n, err)
	}
}

func TestFacadeReceiveHandlerUnsetBeforeDelivery(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelEvent := NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyEvent := NewProxyEvent[int32](proxy, "Counter")
	if err := proxyEvent.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var fired int
	proxyEvent.SetReceiveHandler(func() { fired++ })
	proxyEvent.UnsetReceiveHandler()

	if err := skelEvent.Send(1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fired != 0 {
		t.Fatalf("expected no firings once the handler was unset before the send, got %d", fired)
	}
}

// TestFacadeReceiveHandlerReentrancy exercises spec.md §8 scenario 4: a
// receive handler that calls GetSubscriptionState, GetFreeSampleCount,
// GetNumNewSamplesAvailable, GetNewSamples, UnsetReceiveHandler, and
// Unsubscribe, all on the same event, from within its own call stack. It
// must run to completion without deadlocking, and the subscription must
// observe NotSubscribed once the handler (and thus Send) returns.
func TestFacadeReceiveHandlerReentrancy(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelEvent := NewSkeletonEvent[int32](skel, "Counter")
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	proxyEvent := NewProxyEvent[int32](proxy, "Counter")
	if err := proxyEvent.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	done := make(chan struct{})
	proxyEvent.SetReceiveHandler(func() {
		defer close(done)
		_ = proxyEvent.GetSubscriptionState()
		_ = proxyEvent.GetFreeSampleCount()
		_ = proxyEvent.GetNumNewSamplesAvailable()
		if _, err := proxyEvent.GetNewSamples(8, func(Sample[int32]) {}); err != nil {
			t.Errorf("GetNewSamples from within handler: %v", err)
		}
		proxyEvent.UnsetReceiveHandler()
		proxyEvent.Unsubscribe()
	})

	if err := skelEvent.Send(7); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-done:
	default:
		t.Fatalf("expected the reentrant handler to have already run synchronously from Send")
	}

	if got := proxyEvent.GetSubscriptionState(); got != NotSubscribed {
		t.Fatalf("expected NotSubscribed after the handler unsubscribed itself, got %s", got)
	}
}

func TestFacadeMethodCallDispatch(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	skelMethod := NewSkeletonMethod(skel, "Reset", func(request any) (any, error) {
		return "ok", nil
	})
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	proxy, err := NewProxyBase(inst, nil)
	if err != nil {
		t.Fatalf("NewProxyBase: %v", err)
	}
	bound := NewProxyMethod(proxy, "Reset", skelMethod)
	resp, err := bound.Call(nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("expected response %q, got %v", "ok", resp)
	}

	unbound := NewProxyMethod(proxy, "Missing", nil)
	if _, err := unbound.Call(nil); !errors.Is(err, ErrMethodNotExisting) {
		t.Fatalf("expected ErrMethodNotExisting for an unbound method, got %v", err)
	}
}

func TestFacadeMethodCallWrapsHandlerError(t *testing.T) {
	inst := loadFacadeTestInstance(t)

	skel := NewSkeletonBase(inst, nil)
	boom := errors.New("boom")
	skelMethod := NewSkeletonMethod(skel, "Reset", func(request any) (any, error) {
		return nil, boom
	})
	if err := skel.OfferService(); err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer skel.StopOfferService()

	if _, err := skelMethod.Call(nil); !errors.Is(err, ErrCouldNotExecute) {
		t.Fatalf("expected ErrCouldNotExecute wrapping the handler error, got %v", err)
	}
}

const facadeConcurrentManifest = `{
	"serializationVersion": 1,
	"serviceInstanceDeployment": [
		{
			"serviceType": {
				"serializationVersion": 1,
				"serviceType": "test.FacadeConcurrentService",
				"version": {"serializationVersion": 1, "majorVersion": 1, "minorVersion": 0}
			},
			"bindingInfoIndex": 0,
			"bindingInfo": {
				"serializationVersion": 1,
				"instanceId": 1,
				"sharedMemorySize": 4096,
				"events": {"Counter": {"serializationVersion": 1, "numberOfSampleSlots": 4, "enforceMaxSamples": false, "numberOfIpcTracingSlots": 0}},
				"strict": false
			},
			"instanceSpecifier": "mwcom_facade_concurrent_test/instance1",
			"quality": "QM"
		},
		{
			"serviceType": {
				"serializationVersion": 1,
				"serviceType": "test.FacadeConcurrentService",
				"version": {"serializationVersion": 1, "majorVersion": 1, "minorVersion": 0}
			},
			"bindingInfoIndex": 0,
			"bindingInfo": {
				"serializationVersion": 1,
				"instanceId": 2,
				"sharedMemorySize": 4096,
				"events": {"Counter": {"serializationVersion": 1, "numberOfSampleSlots": 4, "enforceMaxSamples": false, "numberOfIpcTracingSlots": 0}},
				"strict": false
			},
			"instanceSpecifier": "mwcom_facade_concurrent_test/instance2",
			"quality": "QM"
		},
		{
			"serviceType": {
				"serializationVersion": 1,
				"serviceType": "test.FacadeConcurrentService",
				"version": {"serializationVersion": 1, "majorVersion": 1, "minorVersion": 0}
			},
			"bindingInfoIndex": 0,
			"bindingInfo": {
				"serializationVersion": 1,
				"instanceId": 3,
				"sharedMemorySize": 4096,
				"events": {"Counter": {"serializationVersion": 1, "numberOfSampleSlots": 4, "enforceMaxSamples": false, "numberOfIpcTracingSlots": 0}},
				"strict": false
			},
			"instanceSpecifier": "mwcom_facade_concurrent_test/instance3",
			"quality": "QM"
		}
	]
}`

// TestFacadeConcurrentSkeletonCreation exercises §8 scenario 6: three
// threads create and offer three distinct instance specifiers of the same
// service type in parallel. All three offers must succeed, FindService on
// each specifier must return exactly one live handle, and an independent
// consumer on each instance must see only its own producer's samples.
func TestFacadeConcurrentSkeletonCreation(t *testing.T) {
	cfg, err := config.Parse([]byte(facadeConcurrentManifest))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}

	specifiers := []string{
		"mwcom_facade_concurrent_test/instance1",
		"mwcom_facade_concurrent_test/instance2",
		"mwcom_facade_concurrent_test/instance3",
	}

	insts := make([]config.InstanceIdentifier, len(specifiers))
	for i, name := range specifiers {
		spec, err := config.NewInstanceSpecifier(name)
		if err != nil {
			t.Fatalf("NewInstanceSpecifier(%q): %v", name, err)
		}
		resolved := cfg.Resolve(spec)
		if len(resolved) != 1 {
			t.Fatalf("expected exactly one resolved instance for %q, got %d", name, len(resolved))
		}
		insts[i] = resolved[0]
	}

	skeletons := make([]*SkeletonBase, len(insts))
	events := make([]*SkeletonEvent[int32], len(insts))
	offerErrs := make([]error, len(insts))

	var wg sync.WaitGroup
	for i := range insts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			skel := NewSkeletonBase(insts[i], nil)
			ev := NewSkeletonEvent[int32](skel, "Counter")
			skeletons[i] = skel
			events[i] = ev
			offerErrs[i] = skel.OfferService()
		}(i)
	}
	wg.Wait()
	defer func() {
		for _, skel := range skeletons {
			skel.StopOfferService()
		}
	}()

	for i, err := range offerErrs {
		if err != nil {
			t.Fatalf("instance %d: OfferService: %v", i, err)
		}
	}

	for i, inst := range insts {
		offered, err := FindService(inst)
		if err != nil {
			t.Fatalf("instance %d: FindService: %v", i, err)
		}
		if !offered {
			t.Fatalf("instance %d: expected FindService to report offered", i)
		}
	}

	proxyEvents := make([]*ProxyEvent[int32], len(insts))
	for i, inst := range insts {
		proxy, err := NewProxyBase(inst, nil)
		if err != nil {
			t.Fatalf("instance %d: NewProxyBase: %v", i, err)
		}
		pe := NewProxyEvent[int32](proxy, "Counter")
		if err := pe.Subscribe(4); err != nil {
			t.Fatalf("instance %d: Subscribe: %v", i, err)
		}
		proxyEvents[i] = pe
	}

	var sendWg sync.WaitGroup
	for i := range insts {
		sendWg.Add(1)
		go func(i int) {
			defer sendWg.Done()
			if err := events[i].Send(int32(100 + i)); err != nil {
				offerErrs[i] = err
			}
		}(i)
	}
	sendWg.Wait()
	for i, err := range offerErrs {
		if err != nil {
			t.Fatalf("instance %d: Send: %v", i, err)
		}
	}

	for i, pe := range proxyEvents {
		var got []int32
		n, err := pe.GetNewSamples(8, func(s Sample[int32]) {
			got = append(got, *s.Payload())
		})
		if err != nil {
			t.Fatalf("instance %d: GetNewSamples: %v", i, err)
		}
		if n != 1 || len(got) != 1 || got[0] != int32(100+i) {
			t.Fatalf("instance %d: expected to see only its own value %d, got n=%d got=%v", i, 100+i, n, got)
		}
	}
}
