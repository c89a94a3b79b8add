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
	"unsafe"

	"code.hybscloud.com/atomix"

	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// wordSize is the byte width of one atomix.Uint64, the only granularity
// every shared-memory-resident structure in this package is built from
// (§9 "offset-addressed, fixed-width words"). Only atomix.Uint64 itself
// is ever cast over raw region bytes; multi-field value types
// (atomix.Bool, atomix.Int64, ...) are never laid out directly over
// shared memory since their in-memory representation is not part of
// atomix's documented contract, unlike a plain 8-byte word's.
const wordSize = 8

// init asserts the one layout fact every cast in this file depends on:
// atomix.Uint64 is exactly one machine word wide, with no padding or
// auxiliary fields, so &buf[i*wordSize] is a valid *atomix.Uint64 for
// any 8-byte-aligned buf (grounded on the mmap-to-typed-pointer idiom in
// _examples/other_examples/..._feeder-shm-seqlock.go.go).
func init() {
	var w atomix.Uint64
	if unsafe.Sizeof(w) != wordSize {
		panic("lola: atomix.Uint64 is not a single 8-byte word; shared-memory word layout assumption violated")
	}
}

// wordsBuffer allocates n words of private (non-shared) backing bytes,
// used when a control structure is constructed standalone (unit tests,
// or the mock/no-region path) rather than over a mapped shm.Region.
func wordsBuffer(n int) []byte {
	return make([]byte, n*wordSize)
}

// wordAt casts the i'th word-sized slot of buf to an *atomix.Uint64.
func wordAt(buf []byte, i int) *atomix.Uint64 {
	return (*atomix.Uint64)(unsafe.Pointer(&buf[i*wordSize]))
}

// regionWords resolves n words (n*wordSize bytes) of region starting at
// off, the sole production call site feeding shm.Offset.Resolve (§9):
// every region-backed control word, pid-mapping entry, and transaction
// log row in this package is addressed through an Offset computed once
// by buildRegionLayout, never through a raw pointer.
func regionWords(region *shm.Region, off shm.Offset, n int) []byte {
	return off.Resolve(region, n*wordSize)
}
