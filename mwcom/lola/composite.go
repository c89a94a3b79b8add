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
	"code.hybscloud.com/spin"
	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// EventDataControlComposite layers a QM and an ASIL-B EventDataControl
// over one data-slot array (§3 "composite control"): both partitions
// refer to the same data slots, but are allocated, sent and scanned
// through independent control words so a misbehaving QM consumer cannot
// starve the ASIL-B producer.
type EventDataControlComposite struct {
	qm           *EventDataControl
	asil         *EventDataControl
	qmDisconnect OneWayFlag
	log          *zap.Logger
}

var _ ControlPlane = (*EventDataControlComposite)(nil)

// NewEventDataControlComposite builds a composite over n slots. notifyFn
// is invoked once per Send regardless of how many partitions it reached.
func NewEventDataControlComposite(n int, notifyFn func(), log *zap.Logger) *EventDataControlComposite {
	log = logz.OrNop(log)
	return &EventDataControlComposite{
		qm:   NewEventDataControl(n, nil, log),
		asil: NewEventDataControl(n, notifyFn, log),
		log:  log,
	}
}

// NewEventDataControlCompositeOverRegion mirrors NewEventDataControlComposite,
// with both partitions' control words addressed inside region (qmOff,
// asilOff) instead of private buffers — the production path
// OfferService uses for an ASIL-B quality instance (§3, §9).
func NewEventDataControlCompositeOverRegion(region *shm.Region, qmOff, asilOff shm.Offset, n int, notifyFn func(), log *zap.Logger) *EventDataControlComposite {
	log = logz.OrNop(log)
	return &EventDataControlComposite{
		qm:   NewEventDataControlOverRegion(region, qmOff, n, nil, log),
		asil: NewEventDataControlOverRegion(region, asilOff, n, notifyFn, log),
		log:  log,
	}
}

func (c *EventDataControlComposite) NumSlots() int { return c.qm.NumSlots() }

// IsQMDisconnected reports whether the producer has permanently stopped
// servicing the QM partition (§4.1, §9 open question: one-way, for the
// producer's lifetime).
func (c *EventDataControlComposite) IsQMDisconnected() bool {
	return c.qmDisconnect.IsSet()
}

// Allocate implements the composite policy (§4.1 "QM/ASIL-B composite"):
// prefer a slot acceptable to both partitions; if none exists and the
// ASIL-B partition alone has a candidate, disconnect QM permanently and
// continue servicing only ASIL-B.
func (c *EventDataControlComposite) Allocate() (int, error) {
	if c.qmDisconnect.IsSet() {
		return c.asil.Allocate()
	}

	idx, err := c.allocateBoth()
	if err == nil {
		return idx, nil
	}

	idx, err = c.asil.Allocate()
	if err != nil {
		return -1, ErrSampleAllocationFailure
	}
	if c.qmDisconnect.Set() {
		c.log.Warn("qm partition disconnected: no slot satisfied both partitions",
			zap.Int("slot", idx))
		c.qm.forceDropAllSubscriptions()
	}
	return idx, nil
}

// allocateBoth finds and claims a slot index that is simultaneously
// eligible in the QM and ASIL-B control arrays.
func (c *EventDataControlComposite) allocateBoth() (int, error) {
	sw := spin.Wait{}
	n := c.qm.NumSlots()
	qmWatermark := c.qm.minSubscriberLastSeen()
	asilWatermark := c.asil.minSubscriberLastSeen()
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		bestIdx := -1
		var bestTimestamp uint64 = ^uint64(0)
		for i := 0; i < n; i++ {
			qmOK, qmTS := c.qm.slots[i].eligibleForAllocate()
			if !qmOK || (qmTS != 0 && qmTS > qmWatermark) {
				continue
			}
			asilOK, asilTS := c.asil.slots[i].eligibleForAllocate()
			if !asilOK || (asilTS != 0 && asilTS > asilWatermark) {
				continue
			}
			ts := asilTS
			if qmTS < ts {
				ts = qmTS
			}
			if ts < bestTimestamp {
				bestTimestamp = ts
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			return -1, ErrSampleAllocationFailure
		}
		_, qmTS := c.qm.slots[bestIdx].eligibleForAllocate()
		_, asilTS := c.asil.slots[bestIdx].eligibleForAllocate()
		if c.qm.slots[bestIdx].tryClaim(qmTS) {
			if c.asil.slots[bestIdx].tryClaim(asilTS) {
				return bestIdx, nil
			}
			c.qm.slots[bestIdx].abandonClaim(qmTS)
		}
		sw.Once()
	}
	return -1, ErrSampleAllocationFailure
}

func (c *EventDataControlComposite) AbandonAllocate(idx int) {
	c.asil.AbandonAllocate(idx)
	if !c.qmDisconnect.IsSet() {
		c.qm.AbandonAllocate(idx)
	}
}

// Send commits the ASIL-B partition (canonical clock owner) and mirrors
// the same timestamp onto the QM partition unless it has been
// disconnected.
func (c *EventDataControlComposite) Send(idx int) error {
	if c.asil.halted.IsSet() {
		return ErrTimestampWraparound
	}
	ts := c.asil.nextTimestamp()
	if !c.asil.slots[idx].commitSend(ts) {
		return ErrNotInWriting
	}
	if !c.qmDisconnect.IsSet() {
		c.qm.commitSendAt(idx, ts)
		c.qm.notifySubscriptions()
	}
	if c.asil.notifyFn != nil {
		c.asil.notifyFn()
	}
	c.asil.notifySubscriptions()
	return nil
}

func (c *EventDataControlComposite) Reference(idx int) (uint64, bool) {
	return c.asil.Reference(idx)
}

func (c *EventDataControlComposite) Release(idx int) {
	c.asil.Release(idx)
}

// Rollback undoes an ASIL-B consumer's crashed reference (§4.4 step 1).
func (c *EventDataControlComposite) Rollback(idx int, delta int) {
	c.asil.Rollback(idx, delta)
}

func (c *EventDataControlComposite) Invalidate() {
	c.qm.Invalidate()
	c.asil.Invalidate()
}

func (c *EventDataControlComposite) ScanNew(lastSeen uint64) ([]sampleCandidate, uint64) {
	return c.asil.ScanNew(lastSeen)
}

func (c *EventDataControlComposite) GetNumNewSamplesAvailable(lastSeen uint64) uint32 {
	return c.asil.GetNumNewSamplesAvailable(lastSeen)
}

func (c *EventDataControlComposite) RegisterSubscription(sub subscriptionHandle) {
	c.asil.RegisterSubscription(sub)
}

func (c *EventDataControlComposite) UnregisterSubscription(sub subscriptionHandle) {
	c.asil.UnregisterSubscription(sub)
}

// attachTransactionLogPool binds the ASIL-B (canonical) partition's
// control plane to pool, mirroring the ScanNew delegation above: the
// composite has exactly one TransactionLog pool per element, keyed off
// its canonical partition.
func (c *EventDataControlComposite) attachTransactionLogPool(pool *txLogPool) {
	c.asil.attachTransactionLogPool(pool)
}

func (c *EventDataControlComposite) ClaimTransactionLog() (*TransactionLog, int, error) {
	return c.asil.ClaimTransactionLog()
}

func (c *EventDataControlComposite) ReleaseTransactionLog(row int) {
	c.asil.ReleaseTransactionLog(row)
}

// QM returns the QM-partition control plane for a QM consumer's
// Subscribe call. Once disconnected, Allocate/Send never touch it again,
// but existing reads against already-ready slots remain valid until the
// subscription is rolled back (§4.1).
func (c *EventDataControlComposite) QM() ControlPlane { return qmView{c} }

// qmView adapts the QM partition for consumer use while delegating
// Allocate/Send (producer-only operations QM consumers never call) to
// the composite so a misused call still observes disconnect semantics.
var _ ControlPlane = qmView{}

type qmView struct{ c *EventDataControlComposite }

func (v qmView) NumSlots() int { return v.c.qm.NumSlots() }
func (v qmView) Allocate() (int, error) {
	if v.c.qmDisconnect.IsSet() {
		return -1, ErrSampleAllocationFailure
	}
	return v.c.allocateBoth()
}
func (v qmView) Send(idx int) error { return ErrNotInWriting }
func (v qmView) AbandonAllocate(idx int) { v.c.qm.AbandonAllocate(idx) }
func (v qmView) Reference(idx int) (uint64, bool) {
	if v.c.qmDisconnect.IsSet() {
		return 0, false
	}
	return v.c.qm.Reference(idx)
}
func (v qmView) Release(idx int)             { v.c.qm.Release(idx) }
func (v qmView) Rollback(idx int, delta int) { v.c.qm.Rollback(idx, delta) }
func (v qmView) Invalidate()                 { v.c.qm.Invalidate() }
func (v qmView) ScanNew(lastSeen uint64) ([]sampleCandidate, uint64) {
	if v.c.qmDisconnect.IsSet() {
		return nil, lastSeen
	}
	return v.c.qm.ScanNew(lastSeen)
}
func (v qmView) GetNumNewSamplesAvailable(lastSeen uint64) uint32 {
	if v.c.qmDisconnect.IsSet() {
		return 0
	}
	return v.c.qm.GetNumNewSamplesAvailable(lastSeen)
}
func (v qmView) RegisterSubscription(sub subscriptionHandle)   { v.c.qm.RegisterSubscription(sub) }
func (v qmView) UnregisterSubscription(sub subscriptionHandle) { v.c.qm.UnregisterSubscription(sub) }
func (v qmView) ClaimTransactionLog() (*TransactionLog, int, error) {
	return v.c.qm.ClaimTransactionLog()
}
func (v qmView) ReleaseTransactionLog(row int) { v.c.qm.ReleaseTransactionLog(row) }
