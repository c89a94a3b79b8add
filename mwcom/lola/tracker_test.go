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

func TestSampleReferenceTrackerBoundsOutstandingGuards(t *testing.T) {
	tr := NewSampleReferenceTracker(2)
	if n := tr.GetNumAvailableSamples(); n != 2 {
		t.Fatalf("expected 2 available, got %d", n)
	}

	f := tr.Allocate(3)
	g1, ok := f.Take()
	if !ok {
		t.Fatalf("first Take should succeed")
	}
	g2, ok := f.Take()
	if !ok {
		t.Fatalf("second Take should succeed")
	}
	if _, ok := f.Take(); ok {
		t.Fatalf("third Take should fail: tracker capacity is only 2")
	}
	if n := tr.GetNumAvailableSamples(); n != 0 {
		t.Fatalf("expected 0 available while both guards are live, got %d", n)
	}

	g1.Close()
	if n := tr.GetNumAvailableSamples(); n != 1 {
		t.Fatalf("expected 1 available after releasing one guard, got %d", n)
	}
	g2.Close()
	g2.Close() // idempotent
	if n := tr.GetNumAvailableSamples(); n != 2 {
		t.Fatalf("expected 2 available after releasing both guards, got %d", n)
	}
}

func TestTrackerGuardFactoryBudgetIndependentOfCapacity(t *testing.T) {
	tr := NewSampleReferenceTracker(5)
	f := tr.Allocate(2)
	if _, ok := f.Take(); !ok {
		t.Fatalf("Take 1 should succeed")
	}
	if _, ok := f.Take(); !ok {
		t.Fatalf("Take 2 should succeed")
	}
	if _, ok := f.Take(); ok {
		t.Fatalf("Take 3 should fail: factory budget of 2 is exhausted even though tracker has spare capacity")
	}
}

func TestSampleReferenceGuardCloseOnNilIsNoOp(t *testing.T) {
	var g *SampleReferenceGuard
	g.Close()
}
