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

// Package lola implements the "LoLa" shared-memory publish/subscribe
// binding: single-producer/multi-consumer zero-copy sample transport
// (EventDataControl, SamplePtr/SampleAllocateePtr), subscription and
// slot-reference tracking (Subscription, SampleReferenceTracker,
// TransactionLog), the application/PID registry and crash recovery
// (ApplicationIdPidMapping), and service lifecycle and discovery
// (OfferService/StopOfferService/FindService/StartFindService).
//
// lola is one binding behind the binding-agnostic façade in the parent
// mwcom package; it never imports mwcom, only mwcom/config for the
// deployment types it is configured from and mwcom/lola/shm for its
// shared-memory primitives.
package lola
