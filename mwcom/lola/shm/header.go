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

import (
	"encoding/binary"
	"fmt"
)

// regionMagic identifies a ServiceDataStorage region file. Any other value
// at offset 0 means the file was created by something else, or is
// corrupt.
const regionMagic uint32 = 0x4c4f4c41 // "LOLA"

// HeaderSize is the fixed size in bytes of the region header (§3
// "ServiceDataStorage ... header"). It is reserved at offset 0 of every
// region so that Offset 0 can double as the Null offset (offset.go).
const HeaderSize = 32

// Header is the fixed-layout region header every ServiceDataStorage file
// starts with: a magic, a layout version, the region's total size, and a
// generation number. Opening an existing region checks the magic and the
// version only; Size and Generation are recorded but not checked, and
// Generation is written as the creator passes it (nothing in this
// repository increments it).
type Header struct {
	Version    uint32
	Size       uint64
	Generation uint64
}

// EncodeHeader writes h into the first HeaderSize bytes of buf.
func EncodeHeader(buf []byte, h Header) {
	if len(buf) < HeaderSize {
		panic("shm: buffer too small for header")
	}
	binary.LittleEndian.PutUint32(buf[0:4], regionMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Size)
	binary.LittleEndian.PutUint64(buf[16:24], h.Generation)
}

// DecodeHeader validates and parses the header at the start of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("shm: region too small for a header (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != regionMagic {
		return Header{}, fmt.Errorf("shm: bad region magic %#x", magic)
	}
	return Header{
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		Size:       binary.LittleEndian.Uint64(buf[8:16]),
		Generation: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
