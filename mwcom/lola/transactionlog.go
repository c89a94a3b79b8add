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

import (
	"code.hybscloud.com/atomix"

	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// txDelta is the signed change a TransactionLog row applies to a slot's
// refcount: +1 when a reference is taken, -1 when released.
type txDelta int32

const (
	deltaIncrement txDelta = 1
	deltaDecrement txDelta = -1
)

// Packed txEntry row layout: a single word encoding {active: 1 bit,
// delta sign: 1 bit, slotIndex: 32 bits}, the same single-CAS-word
// idiom controlWord and pidMappingEntry use, so a TransactionLog row
// only ever needs one wordSize slot of shared memory.
const (
	txActiveBit    = uint64(1) << 63
	txDeltaNegBit  = uint64(1) << 62
	txSlotIndexMax = uint64(1)<<32 - 1
)

func packTxRow(slotIndex int, delta txDelta) uint64 {
	w := txActiveBit | (uint64(uint32(slotIndex)) & txSlotIndexMax)
	if delta < 0 {
		w |= txDeltaNegBit
	}
	return w
}

func unpackTxRow(w uint64) (active bool, slotIndex int, delta txDelta) {
	active = w&txActiveBit != 0
	slotIndex = int(w & txSlotIndexMax)
	if w&txDeltaNegBit != 0 {
		delta = deltaDecrement
	} else {
		delta = deltaIncrement
	}
	return
}

// TransactionLog is a per-subscription, fixed-capacity array recording,
// for each slot this subscriber has referenced, the delta it applied, so
// a crashed subscriber's references can be rolled back by a peer (§3
// "Subscription", §4.2). A write-ahead pattern: intent logged before the
// mutation, cleared after. rows is backed by a wordSize-aligned buffer —
// a block of a txLogPool (itself carved out of the ServiceDataStorage
// region) for every subscription OfferService's control planes hand out,
// or a private buffer for standalone construction (§9).
type TransactionLog struct {
	rows []*atomix.Uint64
}

// NewTransactionLog allocates a log with room for capacity concurrently
// outstanding references over a private, non-shared buffer — in
// practice sized to a subscription's max_samples, since
// SampleReferenceTracker already bounds how many references can be live
// at once. Used by unit tests and any Subscription whose control plane
// has no txLogPool attached.
func NewTransactionLog(capacity int) *TransactionLog {
	return newTransactionLogOverBytes(wordsBuffer(normalizeCapacity(capacity)), normalizeCapacity(capacity))
}

// NewTransactionLogOverRegion builds the same log with every row
// addressed inside region starting at off.
func NewTransactionLogOverRegion(region *shm.Region, off shm.Offset, capacity int) *TransactionLog {
	capacity = normalizeCapacity(capacity)
	return newTransactionLogOverBytes(regionWords(region, off, capacity), capacity)
}

func newTransactionLogOverBytes(buf []byte, capacity int) *TransactionLog {
	rows := make([]*atomix.Uint64, capacity)
	for i := range rows {
		rows[i] = wordAt(buf, i)
	}
	return &TransactionLog{rows: rows}
}

// BeginReference records the intent to apply +1 to slotIndex's control
// word *before* the caller performs the CAS, so a crash between this
// call and the CAS still leaves a replayable (harmless, since the CAS
// hadn't happened yet — see Replay's idempotence note) record. Returns
// the row index to pass to Commit. A log with no free row is a contract
// violation (the caller's SampleReferenceTracker capacity must never
// exceed the log's capacity) and aborts via fatalf instead of returning.
func (l *TransactionLog) BeginReference(slotIndex int) int {
	return l.begin(slotIndex, deltaIncrement)
}

// BeginRelease mirrors BeginReference for a -1 delta.
func (l *TransactionLog) BeginRelease(slotIndex int) int {
	return l.begin(slotIndex, deltaDecrement)
}

// begin claims the first free (active bit clear) row it finds for slotIndex,
// trying the next row on a lost CAS race rather than retrying the same
// one (the original's active.CompareAndSwapAcqRel(false, true) had the
// same single-attempt-per-row behavior).
func (l *TransactionLog) begin(slotIndex int, delta txDelta) int {
	for i := range l.rows {
		old := l.rows[i].LoadAcquire()
		if old&txActiveBit != 0 {
			continue
		}
		if l.rows[i].CompareAndSwapAcqRel(old, packTxRow(slotIndex, delta)) {
			return i
		}
	}
	fatalf("lola: TransactionLog exhausted (subscription capacity invariant violated)")
	return -1
}

// Commit clears the intent at row, called after the control-word
// mutation it describes has been applied.
func (l *TransactionLog) Commit(row int) {
	if row < 0 {
		return
	}
	for {
		old := l.rows[row].LoadAcquire()
		if old&txActiveBit == 0 {
			return
		}
		if l.rows[row].CompareAndSwapAcqRel(old, old&^txActiveBit) {
			return
		}
	}
}

// PendingEntry is one still-active (non-cleared) row, as surfaced to a
// recovery pass (§4.4 step 1).
type PendingEntry struct {
	SlotIndex int
	Delta     int
}

// Pending returns every row whose intent was never cleared: a subscriber
// that crashed between BeginReference/BeginRelease and Commit.
func (l *TransactionLog) Pending() []PendingEntry {
	var out []PendingEntry
	for i := range l.rows {
		active, slotIndex, delta := unpackTxRow(l.rows[i].LoadAcquire())
		if !active {
			continue
		}
		out = append(out, PendingEntry{SlotIndex: slotIndex, Delta: int(delta)})
	}
	return out
}

// Reset clears every row, used once a recovery pass has replayed (or a
// subscription has cleanly unsubscribed and released everything).
func (l *TransactionLog) Reset() {
	for i := range l.rows {
		l.rows[i].StoreRelease(0)
	}
}
