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
	"math"

	json "github.com/goccy/go-json"

	"github.com/eclipse-score/mw-com-lola/internal/comerr"
)

const lolaEventDeploymentSerializationVersion uint32 = 1

// LolaEventInstanceDeployment configures one event's shared-memory slot
// layout (§4.5). NumberOfSampleSlots/MaxSubscribers/MaxConcurrentAllocations
// are optional (nil means "unset"); EnforceMaxSamples and
// NumberOfTracingSlots are not.
type LolaEventInstanceDeployment struct {
	NumberOfSampleSlots       *uint16
	MaxSubscribers            *uint16
	MaxConcurrentAllocations  *uint8
	EnforceMaxSamples         bool
	NumberOfTracingSlots      uint8
}

// TotalSampleSlots returns NumberOfSampleSlots + NumberOfTracingSlots,
// fatally rejecting overflow past uint16 (§4.5 invariant: "number_of_sample_slots
// + number_of_tracing_slots ≤ u16::MAX").
func (d LolaEventInstanceDeployment) TotalSampleSlots() (uint16, bool) {
	if d.NumberOfSampleSlots == nil {
		return 0, false
	}
	total := uint32(*d.NumberOfSampleSlots) + uint32(d.NumberOfTracingSlots)
	if total > math.MaxUint16 {
		comerr.Fatal("LolaEventInstanceDeployment: number of sample slots plus tracing slots exceeds uint16 range")
	}
	return uint16(total), true
}

func (d LolaEventInstanceDeployment) Equal(o LolaEventInstanceDeployment) bool {
	return optEq(d.NumberOfSampleSlots, o.NumberOfSampleSlots) &&
		optEq(d.MaxSubscribers, o.MaxSubscribers) &&
		optEqU8(d.MaxConcurrentAllocations, o.MaxConcurrentAllocations) &&
		d.EnforceMaxSamples == o.EnforceMaxSamples &&
		d.NumberOfTracingSlots == o.NumberOfTracingSlots
}

func optEq(a, b *uint16) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func optEqU8(a, b *uint8) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

type lolaEventWire struct {
	SerializationVersion     uint32  `json:"serializationVersion"`
	NumberOfSampleSlots      *uint16 `json:"numberOfSampleSlots,omitempty"`
	MaxSubscribers           *uint16 `json:"maxSubscribers,omitempty"`
	MaxConcurrentAllocations *uint8  `json:"maxConcurrentAllocations,omitempty"`
	EnforceMaxSamples        bool    `json:"enforceMaxSamples"`
	NumberOfIpcTracingSlots  uint8   `json:"numberOfIpcTracingSlots"`
}

func (d LolaEventInstanceDeployment) MarshalJSON() ([]byte, error) {
	return json.Marshal(lolaEventWire{
		SerializationVersion:     lolaEventDeploymentSerializationVersion,
		NumberOfSampleSlots:      d.NumberOfSampleSlots,
		MaxSubscribers:           d.MaxSubscribers,
		MaxConcurrentAllocations: d.MaxConcurrentAllocations,
		EnforceMaxSamples:        d.EnforceMaxSamples,
		// Tracing is out of scope (§1 Non-goals); always serialized disabled.
		NumberOfIpcTracingSlots: 0,
	})
}

func (d *LolaEventInstanceDeployment) UnmarshalJSON(data []byte) error {
	var wire lolaEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SerializationVersion != lolaEventDeploymentSerializationVersion {
		comerr.Fatal(fmt.Sprintf("LolaEventInstanceDeployment: unknown serializationVersion %d", wire.SerializationVersion))
	}
	d.NumberOfSampleSlots = wire.NumberOfSampleSlots
	d.MaxSubscribers = wire.MaxSubscribers
	d.MaxConcurrentAllocations = wire.MaxConcurrentAllocations
	d.EnforceMaxSamples = wire.EnforceMaxSamples
	d.NumberOfTracingSlots = wire.NumberOfIpcTracingSlots
	return nil
}

// Validate rejects configurations that must fail at load time rather than
// be guessed at: number_of_sample_slots unset while
// number_of_tracing_slots > 0 is ambiguous and is rejected outright.
func (d LolaEventInstanceDeployment) Validate() error {
	if d.NumberOfSampleSlots == nil && d.NumberOfTracingSlots > 0 {
		return fmt.Errorf("config: numberOfTracingSlots > 0 requires numberOfSampleSlots to be set")
	}
	return nil
}

// LolaFieldInstanceDeployment configures a field's shared-memory layout. A
// field is an event plus a persisted last value (§4.6 GLOSSARY), so it
// shares the event deployment's shape exactly. It is an alias of
// LolaEventInstanceDeployment, not a distinct type; the JSON object key
// ("fields" vs "events") decides which map a deployment is stored in.
type LolaFieldInstanceDeployment = LolaEventInstanceDeployment

// QualityType discriminates a safety partition for uid allow-lists.
type QualityType uint8

const (
	QualityTypeQM QualityType = iota
	QualityTypeASILB
)

func (q QualityType) String() string {
	if q == QualityTypeASILB {
		return "ASIL_B"
	}
	return "QM"
}

func (q QualityType) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

func (q *QualityType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ASIL_B":
		*q = QualityTypeASILB
	case "QM":
		*q = QualityTypeQM
	default:
		return fmt.Errorf("config: unknown QualityType %q", text)
	}
	return nil
}

const lolaServiceInstanceDeploymentSerializationVersion uint32 = 1

// LolaServiceInstanceDeployment configures one service instance's shared
// region: its events, fields, size, and access control.
type LolaServiceInstanceDeployment struct {
	InstanceId        *uint16
	SharedMemorySize  *uint64
	Events            map[string]LolaEventInstanceDeployment
	Fields            map[string]LolaFieldInstanceDeployment
	StrictPermissions bool
	AllowedConsumer   map[QualityType][]uint32
	AllowedProvider   map[QualityType][]uint32
}

type lolaServiceInstanceWire struct {
	SerializationVersion uint32                                 `json:"serializationVersion"`
	InstanceId           *uint16                                `json:"instanceId,omitempty"`
	SharedMemorySize     *uint64                                `json:"sharedMemorySize,omitempty"`
	Events               map[string]LolaEventInstanceDeployment `json:"events,omitempty"`
	Fields               map[string]LolaFieldInstanceDeployment `json:"fields,omitempty"`
	Strict               bool                                   `json:"strict"`
	AllowedConsumer      map[QualityType][]uint32               `json:"allowedConsumer,omitempty"`
	AllowedProvider      map[QualityType][]uint32               `json:"allowedProvider,omitempty"`
}

func (d LolaServiceInstanceDeployment) MarshalJSON() ([]byte, error) {
	return json.Marshal(lolaServiceInstanceWire{
		SerializationVersion: lolaServiceInstanceDeploymentSerializationVersion,
		InstanceId:           d.InstanceId,
		SharedMemorySize:     d.SharedMemorySize,
		Events:               d.Events,
		Fields:               d.Fields,
		Strict:               d.StrictPermissions,
		AllowedConsumer:      d.AllowedConsumer,
		AllowedProvider:      d.AllowedProvider,
	})
}

func (d *LolaServiceInstanceDeployment) UnmarshalJSON(data []byte) error {
	var wire lolaServiceInstanceWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SerializationVersion != lolaServiceInstanceDeploymentSerializationVersion {
		comerr.Fatal(fmt.Sprintf("LolaServiceInstanceDeployment: unknown serializationVersion %d", wire.SerializationVersion))
	}
	d.InstanceId = wire.InstanceId
	d.SharedMemorySize = wire.SharedMemorySize
	d.Events = wire.Events
	d.Fields = wire.Fields
	d.StrictPermissions = wire.Strict
	d.AllowedConsumer = wire.AllowedConsumer
	d.AllowedProvider = wire.AllowedProvider
	return nil
}

func (d LolaServiceInstanceDeployment) Validate() error {
	for name, e := range d.Events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("config: event %q: %w", name, err)
		}
	}
	for name, f := range d.Fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("config: field %q: %w", name, err)
		}
	}
	return nil
}

// LolaServiceTypeDeployment maps an event/field/method name to its
// element id within a service type, for Lola binding purposes.
type LolaServiceTypeDeployment struct {
	ServiceId uint16
	Events    map[string]uint16
	Fields    map[string]uint16
	Methods   map[string]uint16
}

type lolaServiceTypeWire struct {
	ServiceId uint16            `json:"serviceId"`
	Events    map[string]uint16 `json:"events,omitempty"`
	Fields    map[string]uint16 `json:"fields,omitempty"`
	Methods   map[string]uint16 `json:"methods,omitempty"`
}

func (d LolaServiceTypeDeployment) MarshalJSON() ([]byte, error) {
	return json.Marshal(lolaServiceTypeWire{
		ServiceId: d.ServiceId,
		Events:    d.Events,
		Fields:    d.Fields,
		Methods:   d.Methods,
	})
}

func (d *LolaServiceTypeDeployment) UnmarshalJSON(data []byte) error {
	var wire lolaServiceTypeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.ServiceId = wire.ServiceId
	d.Events = wire.Events
	d.Fields = wire.Fields
	d.Methods = wire.Methods
	return nil
}
