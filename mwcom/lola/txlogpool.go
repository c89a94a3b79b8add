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
	"code.hybscloud.com/spin"
)

// txLogPoolDefaultSlots bounds how many subscriptions may concurrently
// hold a TransactionLog over one event when its deployment does not set
// MaxSubscribers explicitly (§4.5 "MaxSubscribers ... optional").
const txLogPoolDefaultSlots = 8

// txLogPool partitions a contiguous range of a ServiceDataStorage
// region's words into fixed-size TransactionLog blocks, one per
// concurrently subscribed consumer of a single event/field (§3
// "Subscription" ... "TransactionLog"). Claiming a block uses the same
// CAS-scan-the-free-rows idiom ApplicationIdPidMapping.RegisterPid uses
// to hand out its rows: a free block's occupied word reads 0; claiming
// it is a single CompareAndSwap from 0 to 1.
//
// Each block is (1 + rows) words: word 0 is the occupied flag, the
// remaining rows words are the TransactionLog itself (§9 addressed
// entirely through shm.Offset/atomix.Uint64 words, never a struct cast).
type txLogPool struct {
	buf   []byte
	slots int
	rows  int
}

// newTxLogPool wraps buf (slots*(1+rows) words) as a pool of slots
// TransactionLog blocks, each with capacity rows.
func newTxLogPool(buf []byte, slots, rows int) *txLogPool {
	return &txLogPool{buf: buf, slots: slots, rows: rows}
}

// txLogPoolSize returns the byte footprint of a pool with the given slot
// count and per-block row capacity, the unit buildRegionLayout uses to
// carve out each element's transaction-log area.
func txLogPoolSize(slots, rows int) int {
	return slots * (1 + rows) * wordSize
}

func (p *txLogPool) blockWords() int { return 1 + p.rows }

func (p *txLogPool) occupiedWord(i int) *atomix.Uint64 {
	return wordAt(p.buf, i*p.blockWords())
}

func (p *txLogPool) rowsBuf(i int) []byte {
	base := i * p.blockWords() * wordSize
	return p.buf[base+wordSize : base+p.blockWords()*wordSize]
}

// Claim finds a free block, marks it occupied, and returns a
// TransactionLog bound to its rows plus the block index (pass to
// Release). Retries across the whole pool up to pidMappingRetries times
// before giving up with ErrNoCapacity (§4.5 "MaxSubscribers" enforced
// here: a subscriber beyond this bound cannot obtain a log at all).
func (p *txLogPool) Claim() (*TransactionLog, int, error) {
	sw := spin.Wait{}
	for attempt := 0; attempt < pidMappingRetries; attempt++ {
		for i := 0; i < p.slots; i++ {
			w := p.occupiedWord(i)
			if w.LoadAcquire() != 0 {
				continue
			}
			if w.CompareAndSwapAcqRel(0, 1) {
				return newTransactionLogOverBytes(p.rowsBuf(i), p.rows), i, nil
			}
		}
		sw.Once()
	}
	return nil, -1, ErrNoCapacity
}

// Release frees block i, clearing its rows first so a later Claim never
// observes a stale pending entry from the previous occupant.
func (p *txLogPool) Release(i int) {
	if i < 0 || i >= p.slots {
		return
	}
	newTransactionLogOverBytes(p.rowsBuf(i), p.rows).Reset()
	p.occupiedWord(i).StoreRelease(0)
}
