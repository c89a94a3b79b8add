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

// Packed control-word layout (§3 "Control slot"): a single 64-bit word
// encoding {refcount: u14, timestamp: u48, invalid: 1 bit, in_writing: 1
// bit}. The exact bit layout is not externally observable; this one packs
// refcount lowest so the common reference/release CAS only needs to touch
// the bottom 14 bits.
const (
	refcountBits  = 14
	refcountMask  = uint64(1)<<refcountBits - 1
	maxRefcount   = refcountMask
	timestampBits = 48
	timestampMask = uint64(1)<<timestampBits - 1
	timestampShift = refcountBits
	invalidBit    = uint64(1) << 62
	inWritingBit  = uint64(1) << 63

	// maxTimestamp is the largest representable 48-bit timestamp; §4.1
	// requires the producer halt sending on the event if the monotonic
	// counter would exceed it.
	maxTimestamp = timestampMask
)

// controlWord is the atomic metadata word governing one slot's lifecycle
// (§3 GLOSSARY "Control word"). All transitions go through a single CAS
// on the packed word (§4.1 state-machine table). word points at one
// wordSize slot of a producer's ServiceDataStorage region (or, for a
// standalone/unit-test EventDataControl, a private backing buffer of the
// identical shape) — the control-word plane is never heap-private in
// production use (§3 "EventDataControl", §9).
type controlWord struct {
	word *atomix.Uint64
}

func packWord(refcount uint32, timestamp uint64, invalid, inWriting bool) uint64 {
	w := uint64(refcount) & refcountMask
	w |= (timestamp & timestampMask) << timestampShift
	if invalid {
		w |= invalidBit
	}
	if inWriting {
		w |= inWritingBit
	}
	return w
}

func unpackWord(w uint64) (refcount uint32, timestamp uint64, invalid, inWriting bool) {
	refcount = uint32(w & refcountMask)
	timestamp = (w >> timestampShift) & timestampMask
	invalid = w&invalidBit != 0
	inWriting = w&inWritingBit != 0
	return
}

// slotState names the four states from §4.1 for logging/testing.
type slotState int

const (
	slotInvalid slotState = iota
	slotUnused
	slotInWriting
	slotReady
)

func (c *controlWord) state() (slotState, uint32, uint64) {
	w := c.word.LoadAcquire()
	refcount, ts, invalid, inWriting := unpackWord(w)
	switch {
	case invalid:
		return slotInvalid, refcount, ts
	case inWriting:
		return slotInWriting, refcount, ts
	case ts == 0:
		return slotUnused, refcount, ts
	default:
		return slotReady, refcount, ts
	}
}

// eligibleForAllocate reports whether this slot may be claimed by a
// producer right now: not invalid, not already in_writing, refcount 0
// (§4.1 "Allocate: ... oldest slot with refcount==0 and not currently
// in_writing").
func (c *controlWord) eligibleForAllocate() (ok bool, timestamp uint64) {
	w := c.word.LoadAcquire()
	refcount, ts, invalid, inWriting := unpackWord(w)
	if invalid || inWriting || refcount != 0 {
		return false, 0
	}
	return true, ts
}

// tryClaim attempts the Unused/Ready(_,0) -> InWriting CAS for this exact
// timestamp snapshot, failing harmlessly (for the caller to rescan) if
// the word changed underneath it.
func (c *controlWord) tryClaim(expectedTimestamp uint64) bool {
	old := packWord(0, expectedTimestamp, false, false)
	newWord := packWord(0, expectedTimestamp, false, true)
	return c.word.CompareAndSwapAcqRel(old, newWord)
}

// abandonClaim reverts an InWriting slot back to Unused/Ready without
// assigning a new timestamp, used when a composite allocation must undo
// one partition's claim after the other partition's claim failed.
func (c *controlWord) abandonClaim(timestamp uint64) {
	old := packWord(0, timestamp, false, true)
	newWord := packWord(0, timestamp, false, false)
	c.word.CompareAndSwapAcqRel(old, newWord)
}

// commitSend performs the InWriting -> Ready(timestamp, 0) transition
// (§4.1 producer Send). Returns false if the slot was not observed
// in_writing (contract violation) or was concurrently invalidated.
func (c *controlWord) commitSend(timestamp uint64) bool {
	for {
		old := c.word.LoadAcquire()
		_, _, invalid, inWriting := unpackWord(old)
		if invalid {
			return false
		}
		if !inWriting {
			return false
		}
		newWord := packWord(0, timestamp, false, false)
		if c.word.CompareAndSwapAcqRel(old, newWord) {
			return true
		}
	}
}

// abandonInWriting performs InWriting -> Unused (§4.1 "producer drop w/o
// Send"). Called when a SampleAllocateePtr is dropped without Send.
func (c *controlWord) abandonInWriting() {
	for {
		old := c.word.LoadAcquire()
		refcount, ts, invalid, inWriting := unpackWord(old)
		if invalid || !inWriting {
			return
		}
		_ = refcount
		newWord := packWord(0, ts, false, false)
		if c.word.CompareAndSwapAcqRel(old, newWord) {
			return
		}
	}
}

// tryReference performs Ready(T,k) -> Ready(T,k+1) iff k < MAX_REF and
// the slot is not invalid/in_writing (§4.1 consumer reference
// transition). Returns (timestamp, true) on success.
func (c *controlWord) tryReference() (uint64, bool) {
	for {
		old := c.word.LoadAcquire()
		refcount, ts, invalid, inWriting := unpackWord(old)
		if invalid || inWriting || ts == 0 {
			return 0, false
		}
		if refcount >= maxRefcount {
			return 0, false
		}
		newWord := packWord(refcount+1, ts, false, false)
		if c.word.CompareAndSwapAcqRel(old, newWord) {
			return ts, true
		}
	}
}

// release performs Ready(T,k>=1) -> Ready(T,k-1) (§4.1 consumer release
// transition). A release against an already-zero slot is a silent no-op:
// recovery may race a release from a dying subscriber's cleanup pass. On
// an Invalid slot with a non-zero refcount the refcount is still
// decremented and the invalid bit is kept.
func (c *controlWord) release() {
	for {
		old := c.word.LoadAcquire()
		refcount, ts, invalid, inWriting := unpackWord(old)
		if refcount == 0 {
			return
		}
		newWord := packWord(refcount-1, ts, invalid, inWriting)
		if c.word.CompareAndSwapAcqRel(old, newWord) {
			return
		}
	}
}

// invalidate performs any-state -> Invalid (§4.1 "storage teardown").
func (c *controlWord) invalidate() {
	for {
		old := c.word.LoadAcquire()
		refcount, ts, invalid, _ := unpackWord(old)
		if invalid {
			return
		}
		newWord := packWord(refcount, ts, true, false)
		if c.word.CompareAndSwapAcqRel(old, newWord) {
			return
		}
	}
}

// refcount reads the current refcount without otherwise interpreting the
// word; used by tests asserting the refcount invariant (§8).
func (c *controlWord) refcount() uint32 {
	refcount, _, _, _ := unpackWord(c.word.LoadAcquire())
	return refcount
}

// rollback undoes a crashed subscriber's TransactionLog delta directly
// against the control word (§4.4 step 1, §8 "a recovery pass decrements
// the affected control words by exactly k"). A +1 delta (an outstanding
// reference the subscriber never released) is undone by one release().
// Production code never logs a -1 delta (see TransactionLog doc on
// BeginRelease), so there is nothing for a negative delta to undo here;
// rollback is a no-op for it rather than guessing at an increment that
// would re-grant a reference nobody is holding.
func (c *controlWord) rollback(delta int) {
	if delta > 0 {
		c.release()
	}
}
