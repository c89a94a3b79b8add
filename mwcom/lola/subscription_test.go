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

import "testing"

func TestSubscriptionLifecycle(t *testing.T) {
	control := NewEventDataControl(2, nil, nil)
	sub := NewSubscription(control)

	if s := sub.GetSubscriptionState(); s != NotSubscribed {
		t.Fatalf("fresh subscription should be NotSubscribed, got %s", s)
	}

	if err := sub.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if s := sub.GetSubscriptionState(); s != Subscribed {
		t.Fatalf("expected Subscribed, got %s", s)
	}

	// Re-subscribing while already Subscribed is idempotent.
	if err := sub.Subscribe(4); err != nil {
		t.Fatalf("re-Subscribe should be a no-op, got %v", err)
	}

	sub.Unsubscribe()
	if s := sub.GetSubscriptionState(); s != NotSubscribed {
		t.Fatalf("expected NotSubscribed after Unsubscribe, got %s", s)
	}
}

func TestSubscriptionZeroCapacityRejected(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	sub := NewSubscription(control)
	if err := sub.Subscribe(0); err != ErrNoCapacity {
		t.Fatalf("expected ErrNoCapacity for maxSamples=0, got %v", err)
	}
}

func TestSubscriptionReceiveHandlerFiresOnSend(t *testing.T) {
	control := NewEventDataControl(2, nil, nil)
	sub := NewSubscription(control)
	if err := sub.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var fired int
	sub.SetReceiveHandler(func() { fired++ })

	conn := NewEventConnection[int32](control)
	if err := conn.Send(1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected handler to fire once after Send, got %d", fired)
	}

	sub.UnsetReceiveHandler()
	if err := conn.Send(2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected no further firings after UnsetReceiveHandler, got %d", fired)
	}
}

func TestSubscriptionUnsubscribeClearsHandler(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	sub := NewSubscription(control)
	if err := sub.Subscribe(1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var fired bool
	sub.SetReceiveHandler(func() { fired = true })
	sub.Unsubscribe()

	// notify after Unsubscribe must not panic even though the handler
	// was cleared concurrently with any in-flight notification, and must
	// not reach the cleared handler.
	sub.notify()
	if fired {
		t.Fatalf("handler fired after Unsubscribe should have cleared it")
	}
}

func TestSubscriptionForceDropRollsBackState(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	sub := NewSubscription(control)
	if err := sub.Subscribe(1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	sub.forceDrop()
	if s := sub.GetSubscriptionState(); s != NotSubscribed {
		t.Fatalf("expected NotSubscribed after forceDrop, got %s", s)
	}
}
