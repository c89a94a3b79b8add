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

import "unsafe"

// EventDataStorage is the generic slot array backing one event: a
// contiguous array of length number_of_sample_slots +
// number_of_tracing_slots (§3 "Slot"). Go generics cannot express the
// original's "payload is POD, addressed by raw shared-memory offset"
// layout across process boundaries (there is no portable way to lay out
// an arbitrary T at a byte offset the way a C++ template instantiation
// can) — see DESIGN.md for this adaptation. The control-word plane
// (EventDataControl/EventDataControlComposite), the ApplicationIdPidMapping,
// and every subscription's TransactionLog are genuinely shared and
// mmap'd (built over the ServiceDataStorage region's bytes via
// buildRegionLayout); only this generic payload array remains
// process-local, addressed by the same slot index the control plane
// hands out, which is sufficient to exercise every invariant in §4.1/§8
// within one process.
type EventDataStorage[T any] struct {
	data []T
}

// NewEventDataStorage allocates n zero-valued slots.
func NewEventDataStorage[T any](n int) *EventDataStorage[T] {
	return &EventDataStorage[T]{data: make([]T, n)}
}

// At returns a pointer to slot idx's payload.
func (s *EventDataStorage[T]) At(idx int) *T { return &s.data[idx] }

// EventConnection couples a ControlPlane with its generic payload array,
// implementing the producer (Allocate/Send) and consumer
// (GetNewSamples/GetNumNewSamplesAvailable) contracts of §4.1 for one
// concrete sample type T.
type EventConnection[T any] struct {
	Control ControlPlane
	Data    *EventDataStorage[T]
}

// NewEventConnection builds a connection over an already-constructed
// control plane (EventDataControl for QM-only events,
// EventDataControlComposite for ASIL-B events) and a freshly allocated
// payload array of the same slot count.
func NewEventConnection[T any](control ControlPlane) *EventConnection[T] {
	return &EventConnection[T]{
		Control: control,
		Data:    NewEventDataStorage[T](control.NumSlots()),
	}
}

// Allocate implements the producer Allocate contract (§4.1).
func (e *EventConnection[T]) Allocate() (*SampleAllocateePtr[T], error) {
	idx, err := e.Control.Allocate()
	if err != nil {
		return nil, err
	}
	return &SampleAllocateePtr[T]{conn: e, idx: idx, active: true}, nil
}

// Send is the producer shorthand: allocate, copy value in place, send
// (§4.1 "Send(value): ... not usable if T cannot be copy-constructed in
// place" — in Go every T is copyable by assignment, so this is always
// available).
func (e *EventConnection[T]) Send(value T) error {
	handle, err := e.Allocate()
	if err != nil {
		return err
	}
	*handle.Payload() = value
	return handle.Send()
}

// GetNewSamples implements the consumer Contract (§4.1/§4.2): scans for
// Ready slots newer than sub's last-seen watermark, up to maxCount,
// taking one SampleReferenceTracker guard and one TransactionLog row per
// delivered sample, invoking fn with a borrowed SamplePtr for each. The
// watermark advances to the newest timestamp *observed* during the scan,
// not merely the newest delivered, even when maxCount truncates
// delivery (§4.1 GetNewSamples). fn's SamplePtr is closed automatically
// once fn returns, unless fn has already closed it itself.
func (e *EventConnection[T]) GetNewSamples(sub *Subscription, maxCount uint32, fn func(*SamplePtr[T])) (uint32, error) {
	sub.mu.Lock()
	if sub.state != Subscribed {
		sub.mu.Unlock()
		return 0, ErrNotSubscribed
	}
	tracker := sub.tracker
	txLog := sub.txLog
	lastSeen := sub.lastSeenTimestamp()
	sub.mu.Unlock()

	candidates, newest := e.Control.ScanNew(lastSeen)
	sub.lastSeen.StoreRelease(newest)
	if maxCount == 0 || len(candidates) == 0 {
		return 0, nil
	}

	factory := tracker.Allocate(maxCount)
	var delivered uint32
	for _, cand := range candidates {
		guard, ok := factory.Take()
		if !ok {
			break
		}
		// Log the intent before the CAS (§4.2 "write-ahead-style"): a
		// crash between these two lines leaves a replayable row whose
		// rollback is a harmless no-op, since the reference it describes
		// was never actually taken.
		row := txLog.BeginReference(cand.idx)
		if _, ok := e.Control.Reference(cand.idx); !ok {
			txLog.Commit(row)
			guard.Close()
			continue
		}
		ptr := &SamplePtr[T]{conn: e, idx: cand.idx, guard: guard, txLog: txLog, txRow: row}
		fn(ptr)
		ptr.Close()
		delivered++
	}
	return delivered, nil
}

// GetNumNewSamplesAvailable implements the consumer Contract peek
// (§4.2), without advancing the watermark or taking references.
func (e *EventConnection[T]) GetNumNewSamplesAvailable(sub *Subscription) uint32 {
	return e.Control.GetNumNewSamplesAvailable(sub.lastSeenTimestamp())
}

// genericAccessor is implemented by every EventConnection[T], letting
// GenericGetNewSamples read a slot's payload as raw bytes without
// knowing the connection's concrete T (§4.6 "GenericProxy ... samples
// delivered as raw byte regions", grounded on iceoryx2-go's pubsub.go
// Sample.Payload() []byte).
type genericAccessor interface {
	PayloadBytes(idx int) []byte
}

// PayloadBytes returns a raw byte view over slot idx's payload, sized to
// T. Valid only until the slot is next claimed by a producer.
func (e *EventConnection[T]) PayloadBytes(idx int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(e.Data.At(idx))), unsafe.Sizeof(*new(T)))
}

// GetFreeSampleCount reports how many more SamplePtrs sub could
// currently take before hitting its max_samples bound (§4.2 Contract).
func (e *EventConnection[T]) GetFreeSampleCount(sub *Subscription) uint32 {
	sub.mu.Lock()
	tracker := sub.tracker
	sub.mu.Unlock()
	if tracker == nil {
		return 0
	}
	return tracker.GetNumAvailableSamples()
}

// SampleAllocateePtr is a move-only producer-side handle referencing a
// slot in InWriting state (§3). Dropping it without Send releases the
// slot as unused. Go has no destructors, so "dropping" is modeled as an
// explicit Close call. After Send or Close, Payload panics as a contract
// violation, a second Send returns ErrClosed and a second Close is a
// no-op.
type SampleAllocateePtr[T any] struct {
	conn   *EventConnection[T]
	idx    int
	active bool
}

// Payload returns a pointer to the in-writing slot for the caller to
// fill before Send.
func (p *SampleAllocateePtr[T]) Payload() *T {
	if !p.active {
		panic("lola: SampleAllocateePtr used after Send or Close")
	}
	return p.conn.Data.At(p.idx)
}

// Send commits the slot (§4.1 producer Send), consuming the handle.
func (p *SampleAllocateePtr[T]) Send() error {
	if !p.active {
		return ErrClosed
	}
	err := p.conn.Control.Send(p.idx)
	p.active = false
	return err
}

// Close releases the slot as unused without sending, the Go realization
// of "dropping without Send" (§4.1, §8 scenario 2).
func (p *SampleAllocateePtr[T]) Close() {
	if !p.active {
		return
	}
	p.conn.Control.AbandonAllocate(p.idx)
	p.active = false
}

// SamplePtr is a move-only consumer-side handle owning one unit of a
// SampleReferenceTracker's capacity plus one refcount on a control slot
// (§3). Dropping it (Close) releases both. A SamplePtr must never
// outlive the Subscription it was obtained from.
type SamplePtr[T any] struct {
	conn   *EventConnection[T]
	idx    int
	guard  *SampleReferenceGuard
	txLog  *TransactionLog
	txRow  int
	closed bool
}

// Payload returns a pointer to the referenced slot's data. Valid until
// Close.
func (p *SamplePtr[T]) Payload() *T {
	if p.closed {
		panic("lola: SamplePtr used after Close")
	}
	return p.conn.Data.At(p.idx)
}

// Close releases the reference (control-word decrement, TransactionLog
// commit, tracker guard release). Idempotent.
func (p *SamplePtr[T]) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.conn.Control.Release(p.idx)
	if p.txLog != nil {
		p.txLog.Commit(p.txRow)
	}
	if p.guard != nil {
		p.guard.Close()
	}
}
