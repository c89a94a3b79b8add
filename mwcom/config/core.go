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

import "fmt"

// ElementKind discriminates the kind of service element an ElementFqId
// refers to.
type ElementKind uint8

const (
	ElementKindInvalid ElementKind = iota
	ElementKindEvent
	ElementKindField
	ElementKindMethod
)

func (k ElementKind) String() string {
	switch k {
	case ElementKindEvent:
		return "EVENT"
	case ElementKindField:
		return "FIELD"
	case ElementKindMethod:
		return "METHOD"
	default:
		return "INVALID"
	}
}

// ElementFqId uniquely identifies a service element across a node: the
// 4-tuple {service_id, element_id, instance_id, element_kind} (§3).
type ElementFqId struct {
	ServiceId   uint16
	ElementId   uint16
	InstanceId  uint16
	ElementKind ElementKind
}

func (id ElementFqId) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", id.ElementKind, id.ServiceId, id.InstanceId, id.ElementId)
}

func (id ElementFqId) IsValid() bool {
	return id.ElementKind != ElementKindInvalid
}

// BindingInfoKind is the variant discriminant carried by every
// cross-process handle and deployment (§6): which binding produced it.
type BindingInfoKind uint8

const (
	BindingInfoLola BindingInfoKind = iota
	BindingInfoSomeIp
	BindingInfoBlank
)

func (k BindingInfoKind) String() string {
	switch k {
	case BindingInfoLola:
		return "Lola"
	case BindingInfoSomeIp:
		return "SomeIp"
	default:
		return "Blank"
	}
}

func (k BindingInfoKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", uint8(k))), nil
}

func (k *BindingInfoKind) UnmarshalJSON(data []byte) error {
	var v uint8
	if _, err := fmt.Sscanf(string(data), "%d", &v); err != nil {
		return err
	}
	*k = BindingInfoKind(v)
	return nil
}

// HandleType is the opaque, serializable reference to a concrete service
// instance returned by FindService. It carries enough information for a
// proxy to resolve the binding that backs it.
type HandleType struct {
	ServiceId   uint16
	InstanceId  uint16
	BindingInfo BindingInfoKind
}

func (h HandleType) IsValid() bool {
	return h.BindingInfo != BindingInfoBlank || h.ServiceId != 0
}

func (h HandleType) String() string {
	return fmt.Sprintf("HandleType{service=%d instance=%d binding=%s}", h.ServiceId, h.InstanceId, h.BindingInfo)
}
