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

package config

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/eclipse-score/mw-com-lola/internal/comerr"
)

// serviceVersionSerializationVersion is bumped whenever the wire shape of
// ServiceVersionType changes; a mismatch on load is fatal (§4.5).
const serviceVersionSerializationVersion uint32 = 1

// ServiceVersionType represents the version of a service interface. Its
// fields are intentionally unexported: ara::com style APIs do not expose
// raw major/minor numbers directly, only through NewServiceVersionType,
// Major/Minor accessors and the comparison helpers below — a
// private-fields-plus-factory-function design with no public constructor;
// construction goes through a free function instead.
type ServiceVersionType struct {
	major uint32
	minor uint32
}

// NewServiceVersionType constructs a ServiceVersionType. It is the only way
// to obtain one; there is deliberately no exported zero-value constructor
// a caller might reach for instead.
func NewServiceVersionType(major, minor uint32) ServiceVersionType {
	return ServiceVersionType{major: major, minor: minor}
}

func (v ServiceVersionType) Major() uint32 { return v.major }
func (v ServiceVersionType) Minor() uint32 { return v.minor }

func (v ServiceVersionType) String() string {
	return fmt.Sprintf("%d.%d", v.major, v.minor)
}

// Equal reports whether v and other carry the same major/minor pair.
func (v ServiceVersionType) Equal(other ServiceVersionType) bool {
	return v.major == other.major && v.minor == other.minor
}

// EqualPair compares v directly against a raw (major, minor) pair,
// without constructing a second ServiceVersionType.
func (v ServiceVersionType) EqualPair(major, minor uint32) bool {
	return v.major == major && v.minor == minor
}

// Less implements a strict weak ordering, major first then minor.
func (v ServiceVersionType) Less(other ServiceVersionType) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	return v.minor < other.minor
}

type serviceVersionWire struct {
	SerializationVersion uint32 `json:"serializationVersion"`
	MajorVersion         uint32 `json:"majorVersion"`
	MinorVersion         uint32 `json:"minorVersion"`
}

// MarshalJSON writes the bit-exact key names required by §6.
func (v ServiceVersionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(serviceVersionWire{
		SerializationVersion: serviceVersionSerializationVersion,
		MajorVersion:         v.major,
		MinorVersion:         v.minor,
	})
}

// UnmarshalJSON rejects a serializationVersion mismatch fatally (§4.5: "Every
// number field has a recognized serialization version; deserializing a
// differing version is fatal").
func (v *ServiceVersionType) UnmarshalJSON(data []byte) error {
	var wire serviceVersionWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SerializationVersion != serviceVersionSerializationVersion {
		comerr.Fatal(fmt.Sprintf("ServiceVersionType: unknown serializationVersion %d", wire.SerializationVersion))
	}
	v.major = wire.MajorVersion
	v.minor = wire.MinorVersion
	return nil
}
