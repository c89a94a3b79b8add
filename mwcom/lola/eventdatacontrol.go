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
	"sort"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// maxAllocateAttempts bounds the CAS retry loop in Allocate: "slot
// allocation may retry while any candidate exists" (§4.1), but a bound
// keeps a pathological thundering herd from spinning forever.
const maxAllocateAttempts = 4096

// sampleCandidate is one slot a consumer scan found eligible for
// delivery, before reference-counting and capacity checks are applied.
type sampleCandidate struct {
	idx       int
	timestamp uint64
}

// subscriptionHandle is the narrow view an EventDataControl needs of a
// Subscription: its current watermark (for the allocation hysteresis,
// §4.1 "Tie-break") and a way to force it back to NotSubscribed when its
// partition disconnects (§4.1 "QM consumers are explicitly dropped").
type subscriptionHandle interface {
	lastSeenTimestamp() uint64
	forceDrop()
	notify()
}

// ControlPlane is the narrow interface an event's data plane exposes to
// producer/consumer call sites, implemented by both a single
// EventDataControl (QM-only events) and EventDataControlComposite
// (ASIL-B events, §4.1 "QM/ASIL-B composite"). Generic sample-level
// operations (EventConnection[T] in sample.go) are built on top of
// this, keeping control-word bookkeeping independent of the payload
// type, keeping the slot payload a plain data value with no control-word
// concerns of its own.
type ControlPlane interface {
	NumSlots() int
	Allocate() (int, error)
	Send(idx int) error
	AbandonAllocate(idx int)
	Reference(idx int) (uint64, bool)
	Release(idx int)
	Rollback(idx int, delta int)
	Invalidate()
	ScanNew(lastSeen uint64) (candidates []sampleCandidate, newestObserved uint64)
	GetNumNewSamplesAvailable(lastSeen uint64) uint32
	RegisterSubscription(sub subscriptionHandle)
	UnregisterSubscription(sub subscriptionHandle)
	ClaimTransactionLog() (*TransactionLog, int, error)
	ReleaseTransactionLog(row int)
}

// EventDataControl is an ordered sequence of control slots for a single
// (event, safety partition) (§3 "EventDataControl"). Timestamps it
// assigns are monotonic per (event, partition) and never 0. slots is
// always backed by a wordSize-aligned byte buffer — a region-mapped one
// for every control plane OfferService builds, or a private one for
// standalone construction (unit tests) — never a bare Go-heap slice of
// multi-field structs (§9).
type EventDataControl struct {
	slots    []controlWord
	clock    atomix.Uint64
	halted   OneWayFlag
	notifyFn func()
	log      *zap.Logger
	txPool   *txLogPool

	mu            sync.Mutex
	subscriptions map[subscriptionHandle]struct{}
}

// ControlWordsSize returns the byte footprint of n control-word slots,
// the unit buildRegionLayout uses to carve a contiguous Offset range out
// of a ServiceDataStorage region for one partition's control-word plane.
func ControlWordsSize(n int) int { return n * wordSize }

// NewEventDataControl constructs a control array of n slots over a
// private, non-shared buffer (used by unit tests and any caller that
// does not go through OfferService). notifyFn, if non-nil, is invoked
// after every successful Send (§4.1 "performs a per-partition
// notification"); it must not block the sender (§5).
func NewEventDataControl(n int, notifyFn func(), log *zap.Logger) *EventDataControl {
	return newEventDataControl(wordsBuffer(n), n, notifyFn, log)
}

// NewEventDataControlOverRegion builds the same control array as
// NewEventDataControl, but with every slot's word addressed at off
// inside region — the real production path OfferService uses, making
// the control-word plane genuinely shared and mmap'd (§3, §9).
func NewEventDataControlOverRegion(region *shm.Region, off shm.Offset, n int, notifyFn func(), log *zap.Logger) *EventDataControl {
	return newEventDataControl(regionWords(region, off, n), n, notifyFn, log)
}

func newEventDataControl(buf []byte, n int, notifyFn func(), log *zap.Logger) *EventDataControl {
	if n <= 0 {
		panic("lola: EventDataControl requires at least one slot")
	}
	slots := make([]controlWord, n)
	for i := range slots {
		slots[i].word = wordAt(buf, i)
	}
	return &EventDataControl{
		slots:         slots,
		notifyFn:      notifyFn,
		log:           logz.OrNop(log),
		subscriptions: map[subscriptionHandle]struct{}{},
	}
}

// attachTransactionLogPool binds pool as the source of per-subscription
// TransactionLogs this control plane hands out (§9 "max_subscribers
// bounds concurrent subscriptions"). Called once by OfferService/tests;
// nil means Subscribe falls back to an unbounded, heap-backed log
// (see ClaimTransactionLog).
func (c *EventDataControl) attachTransactionLogPool(pool *txLogPool) {
	c.txPool = pool
}

// ClaimTransactionLog hands out a TransactionLog for a newly subscribed
// consumer (§3 "Subscription", §4.2). If this control plane was built
// without a region-backed pool (construction via NewEventDataControl
// outside OfferService), it falls back to a private, fixed-capacity log
// sized to NumSlots so unit tests retain their existing behavior.
func (c *EventDataControl) ClaimTransactionLog() (*TransactionLog, int, error) {
	if c.txPool == nil {
		return NewTransactionLog(len(c.slots)), -1, nil
	}
	return c.txPool.Claim()
}

// ReleaseTransactionLog frees the pool slot row claimed by
// ClaimTransactionLog, a no-op if row is -1 (the no-pool fallback) or
// this plane has no pool attached.
func (c *EventDataControl) ReleaseTransactionLog(row int) {
	if c.txPool == nil || row < 0 {
		return
	}
	c.txPool.Release(row)
}

var _ ControlPlane = (*EventDataControl)(nil)

func (c *EventDataControl) NumSlots() int { return len(c.slots) }

// minSubscriberLastSeen returns the smallest last_seen_timestamp among
// registered subscriptions, or ^uint64(0) if there are none (so the
// hysteresis check in Allocate never excludes a slot when nobody is
// subscribed).
func (c *EventDataControl) minSubscriberLastSeen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	min := ^uint64(0)
	for sub := range c.subscriptions {
		if ts := sub.lastSeenTimestamp(); ts < min {
			min = ts
		}
	}
	return min
}

func (c *EventDataControl) RegisterSubscription(sub subscriptionHandle) {
	c.mu.Lock()
	c.subscriptions[sub] = struct{}{}
	c.mu.Unlock()
}

func (c *EventDataControl) UnregisterSubscription(sub subscriptionHandle) {
	c.mu.Lock()
	delete(c.subscriptions, sub)
	c.mu.Unlock()
}

// forceDropAllSubscriptions rolls back every registered subscription
// (used by EventDataControlComposite when it disconnects the QM
// partition, §4.1).
func (c *EventDataControl) forceDropAllSubscriptions() {
	c.mu.Lock()
	subs := make([]subscriptionHandle, 0, len(c.subscriptions))
	for sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.forceDrop()
	}
}

// Allocate implements the producer selection policy (§4.1 Contract —
// producer side): the oldest slot with refcount==0 and not in_writing,
// preferring the smallest timestamp, with hysteresis against slots newer
// than any subscribed consumer's last_seen_timestamp so a slot a
// consumer is about to read is not immediately reclaimed.
func (c *EventDataControl) Allocate() (int, error) {
	sw := spin.Wait{}
	watermark := c.minSubscriberLastSeen()
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		bestIdx := -1
		var bestTimestamp uint64 = ^uint64(0)
		for i := range c.slots {
			ok, ts := c.slots[i].eligibleForAllocate()
			if !ok {
				continue
			}
			if ts != 0 && ts > watermark {
				// This slot is newer than at least one consumer has
				// already seen; leave it for that consumer (hysteresis).
				continue
			}
			if ts < bestTimestamp {
				bestTimestamp = ts
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return -1, ErrSampleAllocationFailure
		}
		if c.slots[bestIdx].tryClaim(bestTimestamp) {
			return bestIdx, nil
		}
		sw.Once()
	}
	return -1, ErrSampleAllocationFailure
}

func (c *EventDataControl) AbandonAllocate(idx int) {
	c.slots[idx].abandonInWriting()
}

// nextTimestamp returns the next strictly monotonic, never-zero
// timestamp for this (event, partition), halting the event fatally on
// 48-bit wraparound (§4.1 "Timestamp semantics").
func (c *EventDataControl) nextTimestamp() uint64 {
	t := c.clock.AddAcqRel(1)
	if t > maxTimestamp {
		if c.halted.Set() {
			fatalf("lola: event timestamp counter wrapped past 48 bits")
		}
		return maxTimestamp
	}
	return t
}

// Send implements the producer commit (§4.1 Contract — producer side):
// assigns the next monotonic timestamp and transitions the slot to
// Ready, then performs a best-effort per-partition notification.
func (c *EventDataControl) Send(idx int) error {
	if c.halted.IsSet() {
		return ErrTimestampWraparound
	}
	ts := c.nextTimestamp()
	if !c.slots[idx].commitSend(ts) {
		return ErrNotInWriting
	}
	if c.notifyFn != nil {
		c.notifyFn()
	}
	c.notifySubscriptions()
	return nil
}

// notifySubscriptions invokes every registered subscription's receive
// handler after a successful Send (§4.2 "installed receive handlers are
// invoked once new samples are available").
func (c *EventDataControl) notifySubscriptions() {
	c.mu.Lock()
	subs := make([]subscriptionHandle, 0, len(c.subscriptions))
	for sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		sub.notify()
	}
}

// commitSendAt is used by EventDataControlComposite to mirror a
// timestamp already assigned by the canonical (ASIL-B) partition onto
// the QM partition's control word for the same slot index.
func (c *EventDataControl) commitSendAt(idx int, ts uint64) bool {
	return c.slots[idx].commitSend(ts)
}

func (c *EventDataControl) Reference(idx int) (uint64, bool) {
	return c.slots[idx].tryReference()
}

func (c *EventDataControl) Release(idx int) {
	c.slots[idx].release()
}

// Rollback undoes a crashed subscriber's outstanding reference on slot
// idx (§4.4 step 1). Driven by Recover against a TransactionLog's
// PendingEntry rows, never by ordinary consumer code.
func (c *EventDataControl) Rollback(idx int, delta int) {
	c.slots[idx].rollback(delta)
}

// Invalidate transitions every slot to Invalid (§4.1 "any -> storage
// teardown -> Invalid"), used by StopOfferService (§4.3 step 2).
func (c *EventDataControl) Invalidate() {
	for i := range c.slots {
		c.slots[i].invalidate()
	}
}

// ScanNew returns every Ready slot with timestamp > lastSeen, sorted
// newest-first, along with the newest timestamp observed across the
// whole array (§4.1 GetNewSamples: "delivers samples newest-to-oldest
// within a call" and "last_seen_timestamp is advanced to the newest
// timestamp observed (not to the newest delivered)"). Sorting here,
// before a caller's maxCount truncates the candidate list, is what makes
// the second half of that guarantee safe: since last_seen always jumps
// to the newest timestamp this scan observed, any candidate the
// delivery loop drops for exceeding maxCount would otherwise never be
// offered again.
func (c *EventDataControl) ScanNew(lastSeen uint64) ([]sampleCandidate, uint64) {
	newest := lastSeen
	var cands []sampleCandidate
	for i := range c.slots {
		state, _, ts := c.slots[i].state()
		if state != slotReady {
			continue
		}
		if ts > newest {
			newest = ts
		}
		if ts > lastSeen {
			cands = append(cands, sampleCandidate{idx: i, timestamp: ts})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].timestamp > cands[j].timestamp })
	return cands, newest
}

// GetNumNewSamplesAvailable counts Ready slots newer than lastSeen
// (§4.1 Contract — consumer side).
func (c *EventDataControl) GetNumNewSamplesAvailable(lastSeen uint64) uint32 {
	var n uint32
	for i := range c.slots {
		state, _, ts := c.slots[i].state()
		if state == slotReady && ts > lastSeen {
			n++
		}
	}
	return n
}
