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
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// SubscriptionState mirrors the three states a proxy event's subscription
// can be in (§3 "Subscription").
type SubscriptionState int

const (
	NotSubscribed SubscriptionState = iota
	SubscriptionPending
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case NotSubscribed:
		return "NotSubscribed"
	case SubscriptionPending:
		return "SubscriptionPending"
	case Subscribed:
		return "Subscribed"
	default:
		return "Unknown"
	}
}

// ReceiveHandler is invoked (on some unspecified thread, never the
// caller's own SetReceiveHandler call) when new samples become available
// (§4.2). It is safe to call GetSubscriptionState, GetFreeSampleCount,
// GetNumNewSamplesAvailable, GetNewSamples, UnsetReceiveHandler, and
// Unsubscribe on the same event from within the handler body (§5, §8
// scenario 4): notify() copies the handler pointer and releases
// handlerMu before invoking it, so none of those calls can deadlock
// against the handler's own invocation.
type ReceiveHandler func()

// Subscription is the per-proxy-event state machine sitting on top of a
// ControlPlane: subscription lifecycle, last-seen watermark, and the
// bookkeeping (SampleReferenceTracker, TransactionLog) needed to bound
// and recover outstanding sample references (§3, §4.2).
//
// Locking discipline (§5): mu guards state/tracker/txLog transitions and
// is held only for bookkeeping, never across a user callback. handlerMu
// guards only the handler pointer itself and is never held while the
// handler runs (notify() reads the pointer under RLock, releases it,
// then calls the handler outside any lock), so a handler invocation can
// freely call back into Unsubscribe/SetReceiveHandler/
// UnsetReceiveHandler without deadlocking against itself or a
// concurrent caller.
type Subscription struct {
	control ControlPlane

	mu         sync.Mutex
	state      SubscriptionState
	maxSamples uint16
	tracker    *SampleReferenceTracker
	txLog      *TransactionLog
	txLogRow   int

	lastSeen atomix.Uint64

	handlerMu sync.RWMutex
	handler   ReceiveHandler
}

var _ subscriptionHandle = (*Subscription)(nil)

// NewSubscription builds an unsubscribed handle over a control plane.
func NewSubscription(control ControlPlane) *Subscription {
	return &Subscription{control: control, state: NotSubscribed}
}

// GetSubscriptionState returns the current state (§4.2 Contract).
func (s *Subscription) GetSubscriptionState() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe transitions NotSubscribed -> Subscribed, sizing the
// SampleReferenceTracker to maxSamples, claiming this subscription's
// TransactionLog from the control plane's pool (§4.5 "MaxSubscribers"
// enforced at this claim), and registering for allocation hysteresis
// (§4.2 Contract — Subscribe). Re-subscribing while already Subscribed
// is a no-op returning nil.
func (s *Subscription) Subscribe(maxSamples uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Subscribed {
		return nil
	}
	if maxSamples == 0 {
		return ErrNoCapacity
	}
	txLog, row, err := s.control.ClaimTransactionLog()
	if err != nil {
		return err
	}
	s.state = SubscriptionPending
	s.tracker = NewSampleReferenceTracker(maxSamples)
	s.txLog = txLog
	s.txLogRow = row
	s.maxSamples = maxSamples
	s.lastSeen.StoreRelease(0)
	s.state = Subscribed
	s.control.RegisterSubscription(s)
	return nil
}

// Unsubscribe tears the subscription down: unregisters from the control
// plane, waits for every outstanding SamplePtr to close (bounded, since
// the caller is expected not to leak handles), then resets bookkeeping.
// It releases mu before clearing the receive handler so a concurrently
// running handler invocation is never blocked behind this call, nor vice
// versa (§5).
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.state == NotSubscribed {
		s.mu.Unlock()
		return
	}
	s.state = NotSubscribed
	s.control.UnregisterSubscription(s)
	tracker := s.tracker
	txLog := s.txLog
	row := s.txLogRow
	s.mu.Unlock()

	if tracker != nil {
		waitForDrain(tracker)
	}

	s.handlerMu.Lock()
	s.handler = nil
	s.handlerMu.Unlock()

	if txLog != nil {
		txLog.Reset()
		s.control.ReleaseTransactionLog(row)
	}

	s.mu.Lock()
	s.tracker = nil
	s.txLog = nil
	s.txLogRow = -1
	s.mu.Unlock()
}

// waitForDrain spins until every guard the tracker handed out has been
// returned, with a generous bound so a caller that genuinely leaked a
// SamplePtr does not hang Unsubscribe forever.
func waitForDrain(tracker *SampleReferenceTracker) {
	sw := spin.Wait{}
	deadline := time.Now().Add(2 * time.Second)
	for tracker.available.LoadAcquire() < tracker.capacity {
		if time.Now().After(deadline) {
			return
		}
		sw.Once()
	}
}

// PendingRecovery returns this subscription's outstanding (uncommitted)
// TransactionLog rows, for a peer's crash-recovery pass to replay
// against the control plane (§4.4 step 1). Safe to call concurrently;
// does not itself mutate any state.
func (s *Subscription) PendingRecovery() []PendingEntry {
	s.mu.Lock()
	txLog := s.txLog
	s.mu.Unlock()
	if txLog == nil {
		return nil
	}
	return txLog.Pending()
}

// Recover rolls this subscription back to NotSubscribed after a peer has
// already replayed its PendingRecovery rows against the control plane
// (§4.4 steps 1-2). Distinct from forceDrop only in being driven by a
// dead-pid detection rather than a QM-partition disconnect; the end
// state is identical, and both leave a fresh Subscribe free to succeed.
func (s *Subscription) Recover() {
	s.mu.Lock()
	if s.state == NotSubscribed {
		s.mu.Unlock()
		return
	}
	s.state = NotSubscribed
	s.control.UnregisterSubscription(s)
	txLog := s.txLog
	row := s.txLogRow
	s.tracker = nil
	s.txLog = nil
	s.txLogRow = -1
	s.mu.Unlock()

	s.handlerMu.Lock()
	s.handler = nil
	s.handlerMu.Unlock()

	if txLog != nil {
		txLog.Reset()
		s.control.ReleaseTransactionLog(row)
	}
}

// SetReceiveHandler installs h, replacing any previously installed
// handler (§4.2 Contract).
func (s *Subscription) SetReceiveHandler(h ReceiveHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// UnsetReceiveHandler removes the current handler, if any.
func (s *Subscription) UnsetReceiveHandler() {
	s.handlerMu.Lock()
	s.handler = nil
	s.handlerMu.Unlock()
}

// notify reads the installed receive handler, if any, under handlerMu's
// read lock so a concurrent SetReceiveHandler/UnsetReceiveHandler/
// Unsubscribe cannot race with the handler pointer itself, then releases
// that lock and invokes the handler. The handler body runs with neither
// handlerMu nor the subscription's state mutex held, so it may freely
// call GetNewSamples or GetSubscriptionState.
func (s *Subscription) notify() {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()
	if h != nil {
		h()
	}
}

// lastSeenTimestamp implements subscriptionHandle for EventDataControl's
// allocation hysteresis.
func (s *Subscription) lastSeenTimestamp() uint64 {
	return s.lastSeen.LoadAcquire()
}

// forceDrop implements subscriptionHandle: a QM subscription is rolled
// back to NotSubscribed when its partition disconnects (§4.1). It does
// not call UnregisterSubscription itself, since the caller
// (EventDataControl.forceDropAllSubscriptions) is already iterating that
// registry.
func (s *Subscription) forceDrop() {
	s.mu.Lock()
	s.state = NotSubscribed
	txLog := s.txLog
	row := s.txLogRow
	s.tracker = nil
	s.txLog = nil
	s.txLogRow = -1
	s.mu.Unlock()
	if txLog != nil {
		txLog.Reset()
		s.control.ReleaseTransactionLog(row)
	}
}
