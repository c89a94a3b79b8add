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
	"os"
	"strconv"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// pidEntryWords is the per-row word count: one packed
// occupied+pid control word, one application-id hash word.
const pidEntryWords = 2

// pidStatus mirrors §3 ApplicationIdPidMapping's {Unused, Updating, Used}
// status field, packed into a ctrl word alongside the pid (bits 0-31) so
// both are observed/mutated by a single CAS.
type pidStatus uint64

const (
	pidStatusUnused pidStatus = iota
	pidStatusUpdating
	pidStatusUsed
)

const pidStatusShift = 32
const pidStatusMask = uint64(0x3) << pidStatusShift

func packPidCtrl(status pidStatus, pid int32) uint64 {
	return (uint64(status) << pidStatusShift) | uint64(uint32(pid))
}

func unpackPidCtrl(w uint64) (status pidStatus, pid int32) {
	return pidStatus((w & pidStatusMask) >> pidStatusShift), int32(uint32(w))
}

// pidMappingRetries bounds the CAS retry loop RegisterPid performs
// before giving up (§9 "bounded retry, default 50, injectable for
// testing").
const pidMappingRetries = 50

// CASOperator abstracts the single compare-and-swap RegisterPid retries
// against, so tests can inject a fake that always fails to exercise the
// bounded-retry exhaustion path deterministically (§9 testability note)
// without needing 50 genuine concurrent writers.
type CASOperator interface {
	// TryClaim attempts to claim a free row for applicationId/pid,
	// returning true on success.
	TryClaim(row int, applicationId string, pid int32) bool
	// TryUpdate attempts to overwrite the pid already stored in row
	// (§4.4 "CAS it to Updating, overwrite pid, CAS to Used"), returning
	// the pid that was stored before the update and true on success.
	TryUpdate(row int, pid int32) (previousPid int32, ok bool)
}

// pidMappingEntry is one row of the fixed-capacity registry: a packed
// occupied+pid control word and an application-id hash word, both
// pointing at wordSize slots of the backing region (or a private buffer
// for standalone construction) rather than owning atomix values directly
// (§9 "offset-addressed, fixed-width words").
type pidMappingEntry struct {
	ctrl    *atomix.Uint64
	appHash *atomix.Uint64
}

// ApplicationIdPidMapping is a fixed-capacity, CAS-driven registry
// mapping application identifiers to the PID that currently offers them
// (§3 "ApplicationIdPidMapping", §4.4). OfferService lays it out as the
// first payload section of the ServiceDataStorage region, right after
// the header, so any peer mapping the same region can enumerate live
// offerers by walking these same words (§9).
type ApplicationIdPidMapping struct {
	entries []pidMappingEntry
	cas     CASOperator
	retries int
}

// defaultCASOperator claims or updates a row via the entry's own ctrl
// word.
type defaultCASOperator struct {
	m *ApplicationIdPidMapping
}

func (d defaultCASOperator) TryClaim(row int, applicationId string, pid int32) bool {
	e := &d.m.entries[row]
	old := packPidCtrl(pidStatusUnused, 0)
	if !e.ctrl.CompareAndSwapAcqRel(old, packPidCtrl(pidStatusUpdating, 0)) {
		return false
	}
	e.appHash.StoreRelease(hashApplicationId(applicationId))
	e.ctrl.StoreRelease(packPidCtrl(pidStatusUsed, pid))
	return true
}

func (d defaultCASOperator) TryUpdate(row int, pid int32) (int32, bool) {
	e := &d.m.entries[row]
	w := e.ctrl.LoadAcquire()
	status, prevPid := unpackPidCtrl(w)
	if status != pidStatusUsed {
		return 0, false
	}
	if !e.ctrl.CompareAndSwapAcqRel(w, packPidCtrl(pidStatusUpdating, prevPid)) {
		return 0, false
	}
	e.ctrl.StoreRelease(packPidCtrl(pidStatusUsed, pid))
	return prevPid, true
}

// NewApplicationIdPidMapping allocates a registry with room for capacity
// concurrent offerers over a private, non-shared buffer (unit tests and
// any caller outside OfferService).
func NewApplicationIdPidMapping(capacity int) *ApplicationIdPidMapping {
	return newApplicationIdPidMapping(wordsBuffer(normalizeCapacity(capacity) * pidEntryWords))
}

// NewApplicationIdPidMappingOverRegion builds the same registry with
// every row's words addressed inside region starting at off — the
// production path OfferService uses.
func NewApplicationIdPidMappingOverRegion(region *shm.Region, off shm.Offset, capacity int) *ApplicationIdPidMapping {
	capacity = normalizeCapacity(capacity)
	return newApplicationIdPidMapping(regionWords(region, off, capacity*pidEntryWords))
}

func normalizeCapacity(capacity int) int {
	if capacity < 0 {
		return 0
	}
	return capacity
}

func newApplicationIdPidMapping(buf []byte) *ApplicationIdPidMapping {
	capacity := len(buf) / (pidEntryWords * wordSize)
	entries := make([]pidMappingEntry, capacity)
	for i := range entries {
		entries[i] = pidMappingEntry{
			ctrl:    wordAt(buf, i*pidEntryWords),
			appHash: wordAt(buf, i*pidEntryWords+1),
		}
	}
	m := &ApplicationIdPidMapping{entries: entries, retries: pidMappingRetries}
	m.cas = defaultCASOperator{m: m}
	return m
}

// SetCASOperator overrides the claim strategy (tests only).
func (m *ApplicationIdPidMapping) SetCASOperator(op CASOperator) { m.cas = op }

// findByApplicationId scans every occupied row for one whose stored
// application-id hash matches hash (§4.4 "If an entry with this
// application_id exists").
func (m *ApplicationIdPidMapping) findByApplicationId(hash uint64) (int, bool) {
	for row := range m.entries {
		status, _ := unpackPidCtrl(m.entries[row].ctrl.LoadAcquire())
		if status != pidStatusUsed {
			continue
		}
		if m.entries[row].appHash.LoadAcquire() == hash {
			return row, true
		}
	}
	return -1, false
}

// RegisterPid implements §4.4's two-branch algorithm: if applicationId
// already owns a row, its pid is overwritten (via the Updating ->  Used
// CAS sequence) and the previously-stored pid is returned; otherwise a
// free (Unused) row is claimed for it and previousPid is 0. Both
// branches retry up to pidMappingRetries times against concurrent
// claimants before returning ErrNoCapacity (§4.4, §8 "capacity
// boundary").
func (m *ApplicationIdPidMapping) RegisterPid(applicationId string, pid int32) (row int, previousPid int32, err error) {
	hash := hashApplicationId(applicationId)
	sw := spin.Wait{}
	for attempt := 0; attempt < m.retries; attempt++ {
		if existing, ok := m.findByApplicationId(hash); ok {
			if prev, ok := m.cas.TryUpdate(existing, pid); ok {
				return existing, prev, nil
			}
			sw.Once()
			continue
		}
		for row := range m.entries {
			status, _ := unpackPidCtrl(m.entries[row].ctrl.LoadAcquire())
			if status != pidStatusUnused {
				continue
			}
			if m.cas.TryClaim(row, applicationId, pid) {
				return row, 0, nil
			}
		}
		sw.Once()
	}
	return -1, 0, ErrNoCapacity
}

// Unregister frees row, used on clean StopOfferService.
func (m *ApplicationIdPidMapping) Unregister(row int) {
	if row < 0 || row >= len(m.entries) {
		return
	}
	m.entries[row].ctrl.StoreRelease(packPidCtrl(pidStatusUnused, 0))
	m.entries[row].appHash.StoreRelease(0)
}

// PidEntry is one occupied row, as surfaced to a recovery pass.
type PidEntry struct {
	Row int
	Pid int32
}

// LiveEntries returns every currently occupied (Used) row.
func (m *ApplicationIdPidMapping) LiveEntries() []PidEntry {
	var out []PidEntry
	for row := range m.entries {
		status, pid := unpackPidCtrl(m.entries[row].ctrl.LoadAcquire())
		if status != pidStatusUsed {
			continue
		}
		out = append(out, PidEntry{Row: row, Pid: pid})
	}
	return out
}

// ReapDead scans every occupied row and frees those whose pid no longer
// exists (§4.4 step 1: "recovery pass probes /proc/{pid}"), returning the
// rows it freed so the caller can drive the corresponding control-plane
// rollback (TransactionLog replay, Invalidate).
func (m *ApplicationIdPidMapping) ReapDead() []PidEntry {
	var reaped []PidEntry
	for _, e := range m.LiveEntries() {
		if pidAlive(e.Pid) {
			continue
		}
		m.Unregister(e.Row)
		reaped = append(reaped, e)
	}
	return reaped
}

// pidAlive reports whether /proc/{pid} exists, the liveness probe used
// in place of a genuine waitpid (this process is not necessarily the
// offerer's parent, so it cannot reap it directly).
func pidAlive(pid int32) bool {
	_, err := os.Stat("/proc/" + strconv.Itoa(int(pid)))
	return err == nil
}

// hashApplicationId folds an application id string into a uint64 for
// cheap atomic storage and lookup by RegisterPid's existing-entry branch
// (§4.4). This mirrors the spec's own application_id: u32 representation
// in a larger domain, trading an already-accepted collision risk (two
// distinct ids hashing equal) for storing a single fixed-width word
// instead of an arbitrary string.
func hashApplicationId(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}
