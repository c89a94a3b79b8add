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
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/eclipse-score/mw-com-lola/internal/logz"
)

// trackedSubscription is one proxy-side Subscription a ServiceDataStorage
// has seen created, recorded so a later crash-recovery pass (§4.4) can
// find and roll it back without needing every proxy-event façade object
// to stay reachable.
type trackedSubscription struct {
	control ControlPlane
	sub     *Subscription
}

// TrackConsumer records sub (bound to control) as owned by pid, so
// Recover can roll it back if pid is later found dead (§4.4 step 1). The
// proxy side reaches this once per ProxyEvent/ProxyField it constructs,
// through NewTrackedSubscription (see mwcom.NewProxyEvent/NewProxyField); RegisterPid failure is logged
// and otherwise ignored, matching §4.4's "recovery is opportunistic, not
// required for correctness of the happy path" framing — an unregistered
// pid simply never gets reaped.
func (s *ServiceDataStorage) TrackConsumer(pid int32, control ControlPlane, sub *Subscription) {
	s.mu.Lock()
	if s.consumers == nil {
		s.consumers = map[int32][]trackedSubscription{}
	}
	s.consumers[pid] = append(s.consumers[pid], trackedSubscription{control: control, sub: sub})
	s.mu.Unlock()

	if _, _, err := s.pidMapping.RegisterPid(fmt.Sprintf("consumer-%p", sub), pid); err != nil {
		s.log.Warn("consumer pid registration failed", zap.Int32("pid", pid), zap.Error(err))
	}
}

// NewTrackedSubscription builds a Subscription over control and records
// it under the calling process's pid in one step, the path every
// in-process ProxyEvent/ProxyField actually uses.
func (s *ServiceDataStorage) NewTrackedSubscription(control ControlPlane) *Subscription {
	sub := NewSubscription(control)
	s.TrackConsumer(int32(os.Getpid()), control, sub)
	return sub
}

// RecoveryReport summarizes one Recover pass for logging/testing.
type RecoveryReport struct {
	// ReapedPids is every pid ApplicationIdPidMapping found dead.
	ReapedPids []int32
	// RolledBackSlots is the total count of PendingEntry rows replayed
	// across every recovered subscription (§8 "decrements the affected
	// control words by exactly k").
	RolledBackSlots int
	// TornDown reports whether the dead pid was this instance's
	// offering skeleton and the region was torn down as a result (§4.4
	// step 3).
	TornDown bool
}

// Recover runs one opportunistic crash-recovery pass (§4.4): reap every
// dead pid from the ApplicationIdPidMapping, replay each of its tracked
// subscriptions' pending TransactionLog rows against their control
// planes, and roll those subscriptions back to NotSubscribed. If the
// dead pid was this instance's offering skeleton, tear the region down
// (step 3) — there is by construction never another skeleton for the
// same instance in this process (OfferService rejects a second offer of
// the same instance outright), so "no other skeleton offers this
// instance" is automatically true once the skeleton's own pid is reaped.
func (s *ServiceDataStorage) Recover() RecoveryReport {
	reaped := s.pidMapping.ReapDead()
	report := RecoveryReport{}
	if len(reaped) == 0 {
		return report
	}

	s.mu.Lock()
	skeletonDied := false
	for _, entry := range reaped {
		report.ReapedPids = append(report.ReapedPids, entry.Pid)
		if entry.Pid == s.skeletonPid {
			skeletonDied = true
		}
		for _, ts := range s.consumers[entry.Pid] {
			pending := ts.sub.PendingRecovery()
			for _, p := range pending {
				ts.control.Rollback(p.SlotIndex, p.Delta)
			}
			report.RolledBackSlots += len(pending)
			ts.sub.Recover()
		}
		delete(s.consumers, entry.Pid)
	}
	s.mu.Unlock()

	if skeletonDied && s.isOwner {
		s.log.Warn("offering process died; tearing down service instance",
			zap.Int32("pid", s.skeletonPid))
		if err := s.StopOfferService(); err == nil {
			report.TornDown = true
		}
	}

	logz.OrNop(s.log).Info("recovery pass complete",
		zap.Int32s("reaped_pids", report.ReapedPids),
		zap.Int("rolled_back_slots", report.RolledBackSlots),
		zap.Bool("torn_down", report.TornDown))
	return report
}
