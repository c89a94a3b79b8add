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

func TestEventConnectionSendAndGetNewSamples(t *testing.T) {
	control := NewEventDataControl(4, nil, nil)
	conn := NewEventConnection[int32](control)

	sub := NewSubscription(control)
	if err := sub.Subscribe(4); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := conn.Send(42); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []int32
	n, err := conn.GetNewSamples(sub, 8, func(p *SamplePtr[int32]) {
		got = append(got, *p.Payload())
	})
	if err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	if n != 1 || len(got) != 1 || got[0] != 42 {
		t.Fatalf("expected one sample with value 42, got n=%d got=%v", n, got)
	}

	// A second call with nothing new published delivers nothing.
	n2, err := conn.GetNewSamples(sub, 8, func(p *SamplePtr[int32]) {
		t.Fatalf("fn should not be invoked when there is nothing new")
	})
	if err != nil || n2 != 0 {
		t.Fatalf("expected 0 new samples on the second call, got n=%d err=%v", n2, err)
	}
}

func TestSampleAllocateePtrCloseAbandonsSlot(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	conn := NewEventConnection[int32](control)

	handle, err := conn.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	*handle.Payload() = 1
	handle.Close()

	// The only slot should be reusable immediately since Close abandons
	// rather than sends.
	handle2, err := conn.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Close should succeed: %v", err)
	}
	if err := handle2.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSampleAllocateePtrPanicsAfterSend(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	conn := NewEventConnection[int32](control)
	handle, err := conn.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := handle.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := handle.Send(); err != ErrClosed {
		t.Fatalf("expected ErrClosed on second Send, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("Payload after Send should panic")
		}
	}()
	handle.Payload()
}

func TestSamplePtrPanicsAfterClose(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	conn := NewEventConnection[int32](control)
	sub := NewSubscription(control)
	if err := sub.Subscribe(1); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := conn.Send(5); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var held *SamplePtr[int32]
	if _, err := conn.GetNewSamples(sub, 1, func(p *SamplePtr[int32]) {
		held = p
	}); err != nil {
		t.Fatalf("GetNewSamples: %v", err)
	}
	// fn's handle is closed automatically by GetNewSamples once fn
	// returns, so using it afterward must panic.
	defer func() {
		if recover() == nil {
			t.Fatalf("Payload after auto-close should panic")
		}
	}()
	held.Payload()
}

func TestGetNewSamplesRejectsUnsubscribed(t *testing.T) {
	control := NewEventDataControl(1, nil, nil)
	conn := NewEventConnection[int32](control)
	sub := NewSubscription(control)

	if _, err := conn.GetNewSamples(sub, 1, func(p *SamplePtr[int32]) {}); err != ErrNotSubscribed {
		t.Fatalf("expected ErrNotSubscribed, got %v", err)
	}
}
