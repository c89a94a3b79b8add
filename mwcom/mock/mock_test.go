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

package mock

import (
	"testing"

	"github.com/eclipse-score/mw-com-lola/mwcom"
)

func TestEventBindingPublishAndGetNewSamples(t *testing.T) {
	b := NewEventBinding[int32]()
	if err := b.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Send(7); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []int32
	n, err := b.GetNewSamples(8, func(s mwcom.Sample[int32]) {
		got = append(got, *s.Payload())
	})
	if err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	if n != 1 || len(got) != 1 || got[0] != 7 {
		t.Fatalf("expected one sample with value 7, got n=%d got=%v", n, got)
	}

	n2, err := b.GetNewSamples(8, func(s mwcom.Sample[int32]) {
		t.Fatalf("fn should not fire when nothing new was published")
	})
	if err != nil || n2 != 0 {
		t.Fatalf("expected 0 new samples on the second call, got n=%d err=%v", n2, err)
	}
}

func TestEventBindingAllocateSend(t *testing.T) {
	b := NewEventBinding[string]()
	if err := b.Subscribe(1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	handle, err := b.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	*handle.Payload() = "hello"
	if err := handle.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := handle.Send(); err != ErrAlreadySent {
		t.Fatalf("expected ErrAlreadySent on a second Send, got %v", err)
	}

	var got string
	if _, err := b.GetNewSamples(1, func(s mwcom.Sample[string]) {
		got = *s.Payload()
	}); err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected to observe %q, got %q", "hello", got)
	}
}

func TestEventBindingReceiveHandler(t *testing.T) {
	b := NewEventBinding[int32]()
	var fired int
	b.SetReceiveHandler(func() { fired++ })

	if err := b.Send(1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected handler to fire once, got %d", fired)
	}

	b.UnsetReceiveHandler()
	if err := b.Send(2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected no further firings after UnsetReceiveHandler, got %d", fired)
	}
}

func TestEventBindingUnsubscribeAdvancesPastBacklog(t *testing.T) {
	b := NewEventBinding[int32]()
	if err := b.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Send(1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	b.Unsubscribe()
	if s := b.GetSubscriptionState(); s != mwcom.NotSubscribed {
		t.Fatalf("expected NotSubscribed after Unsubscribe, got %s", s)
	}

	n, err := b.GetNewSamples(8, func(s mwcom.Sample[int32]) {
		t.Fatalf("fn should not fire for samples published before Unsubscribe was called")
	})
	if err != nil || n != 0 {
		t.Fatalf("expected Unsubscribe to mark the backlog as already delivered, got n=%d err=%v", n, err)
	}
}

func TestEventBindingGetFieldValue(t *testing.T) {
	b := NewEventBinding[string]()
	if _, err := b.Get(); err != mwcom.ErrFieldValueNotValid {
		t.Fatalf("expected ErrFieldValueNotValid before any value is published, got %v", err)
	}

	if err := b.UpdateValue("active"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	v, err := b.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "active" {
		t.Fatalf("expected %q, got %q", "active", v)
	}
}

func TestEventBindingGetFreeSampleCount(t *testing.T) {
	b := NewEventBinding[int32]()
	if err := b.Subscribe(6); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := b.GetFreeSampleCount(); got != 6 {
		t.Fatalf("expected GetFreeSampleCount to report the subscribed maxSamples of 6, got %d", got)
	}
}
