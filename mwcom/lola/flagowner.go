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

// OneWayFlag is a set-once, never-reset boolean. It backs both the
// skeleton "offered" flag and the QM-disconnect flag (§4.1
// "qm_disconnect=true"; §9 open question "Source disconnect policy ...
// is one-way and permanent").
type OneWayFlag struct {
	set atomix.Bool
}

// Set flips the flag to true. Returns true iff this call was the one
// that transitioned it (false if it was already set).
func (f *OneWayFlag) Set() bool {
	return f.set.CompareAndSwapAcqRel(false, true)
}

// IsSet reports the flag's current state.
func (f *OneWayFlag) IsSet() bool {
	return f.set.LoadAcquire()
}
