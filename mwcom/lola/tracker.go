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

import "code.hybscloud.com/atomix"

// SampleReferenceTracker bounds how many sample references a single
// subscription may hold concurrently (§4.2, §8 "For every subscription
// with max_samples = m, at all times |live SamplePtrs| <= m").
type SampleReferenceTracker struct {
	available atomix.Int64
	capacity  int64
}

// NewSampleReferenceTracker initializes the counter to maxSamples.
func NewSampleReferenceTracker(maxSamples uint16) *SampleReferenceTracker {
	t := &SampleReferenceTracker{capacity: int64(maxSamples)}
	t.available.StoreRelease(int64(maxSamples))
	return t
}

// GetNumAvailableSamples is a plain read (§4.2).
func (t *SampleReferenceTracker) GetNumAvailableSamples() uint32 {
	n := t.available.LoadAcquire()
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// Allocate returns a TrackerGuardFactory that can grant up to n guards;
// the factory only ever hands out as many as the tracker has capacity
// for at the moment each guard is taken (§4.2 "Allocate(n) returns a
// TrackerGuardFactory granting up to n SampleReferenceGuards").
func (t *SampleReferenceTracker) Allocate(n uint32) *TrackerGuardFactory {
	return &TrackerGuardFactory{tracker: t, remaining: n}
}

// TrackerGuardFactory hands out SampleReferenceGuards one at a time,
// never exceeding both its own remaining budget and the tracker's live
// capacity.
type TrackerGuardFactory struct {
	tracker   *SampleReferenceTracker
	remaining uint32
}

// Take attempts to decrement the tracker's available counter and, on
// success, returns a guard plus true. Returns (nil, false) once either
// the factory's own budget or the tracker's capacity is exhausted.
func (f *TrackerGuardFactory) Take() (*SampleReferenceGuard, bool) {
	if f.remaining == 0 {
		return nil, false
	}
	for {
		cur := f.tracker.available.LoadAcquire()
		if cur <= 0 {
			return nil, false
		}
		if f.tracker.available.CompareAndSwapAcqRel(cur, cur-1) {
			f.remaining--
			return &SampleReferenceGuard{tracker: f.tracker}, true
		}
	}
}

// SampleReferenceGuard owns one unit of a SampleReferenceTracker's
// capacity. Close releases it; Close is idempotent.
type SampleReferenceGuard struct {
	tracker *SampleReferenceTracker
	closed  bool
}

// Close releases the guard's unit of capacity back to the tracker.
func (g *SampleReferenceGuard) Close() {
	if g == nil || g.closed {
		return
	}
	g.closed = true
	g.tracker.available.AddAcqRel(1)
}
