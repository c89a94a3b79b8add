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

// Package mwcom is a binding-agnostic communication management façade over
// a shared-memory publish/subscribe transport (the "lola" binding, see
// mwcom/lola). It exposes typed skeleton (producer) and proxy (consumer)
// objects that compose individual service elements — events, fields and
// methods — while dispatching each operation to the underlying binding
// through narrow interfaces.
//
// # Getting started
//
// Initialize the runtime once per process, offer a skeleton event and
// subscribe to it from a proxy:
//
//	mwcom.InitializeRuntime(nil)
//	instance := mwcom.RuntimeConfig().Resolve(spec)[0]
//
//	skel := mwcom.NewSkeletonBase(instance, nil)
//	skel.OfferService()
//	event := mwcom.NewSkeletonEvent[int32](skel, "Counter")
//	event.Send(42)
//
//	proxy, _ := mwcom.NewProxyBase(instance, nil)
//	sub := mwcom.NewProxyEvent[int32](proxy, "Counter")
//	sub.Subscribe(4)
//	n, err := sub.GetNewSamples(8, func(s mwcom.Sample[int32]) {
//	    _ = *s.Payload()
//	})
package mwcom
