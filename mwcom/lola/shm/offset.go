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

package shm

import "fmt"

// Offset is a reference to a byte position within a Region, expressed
// relative to the region's base rather than as a raw process address
// (§9: "no raw addresses are stored persistently in shared memory"). Two
// processes that have independently mapped the same region at different
// base addresses can exchange Offsets meaningfully; they can never
// exchange raw pointers.
type Offset uint64

// Null is the reserved "no reference" offset. 0 is never a valid payload
// offset because every region reserves its header at offset 0.
const Null Offset = 0

func (o Offset) IsNull() bool { return o == Null }

// Resolve returns a byte slice of length n inside r's mapping, starting at
// offset o. It panics on out-of-bounds access: an offset computed from a
// corrupt or foreign region is a contract violation, not a recoverable
// error, the same "slot index out of bounds" fatal classification used
// elsewhere for corrupt control-plane state (§7).
func (o Offset) Resolve(r *Region, n int) []byte {
	data := r.Bytes()
	start := uint64(o)
	end := start + uint64(n)
	if end > uint64(len(data)) {
		panic(fmt.Sprintf("shm: offset %d+%d out of bounds (region size %d)", start, n, len(data)))
	}
	return data[start:end]
}

