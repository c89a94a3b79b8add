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

// ServiceInstanceDeployment binds an InstanceSpecifier to a concrete
// binding-specific deployment (§4.5). Exactly one of Lola/SomeIp is
// populated, selected by BindingInfo; SomeIp is reserved (§9 open
// question) and carries no payload in this implementation.
type ServiceInstanceDeployment struct {
	Service            ServiceIdentifierType
	BindingInfo        BindingInfoKind
	Quality            QualityType
	InstanceSpecifier  InstanceSpecifier
	Lola               *LolaServiceInstanceDeployment
}

type serviceInstanceDeploymentWire struct {
	Service           ServiceIdentifierType `json:"serviceType"`
	BindingInfoIndex  BindingInfoKind       `json:"bindingInfoIndex"`
	BindingInfo       json.RawMessage       `json:"bindingInfo"`
	InstanceSpecifier string                `json:"instanceSpecifier"`
	Quality           QualityType           `json:"quality"`
}

func (d ServiceInstanceDeployment) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	var err error
	switch d.BindingInfo {
	case BindingInfoLola:
		if d.Lola == nil {
			return nil, fmt.Errorf("config: ServiceInstanceDeployment: BindingInfoLola without a Lola payload")
		}
		payload, err = json.Marshal(d.Lola)
	default:
		payload, err = json.Marshal(struct{}{})
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(serviceInstanceDeploymentWire{
		Service:           d.Service,
		BindingInfoIndex:  d.BindingInfo,
		BindingInfo:       payload,
		InstanceSpecifier: d.InstanceSpecifier.String(),
		Quality:           d.Quality,
	})
}

func (d *ServiceInstanceDeployment) UnmarshalJSON(data []byte) error {
	var wire serviceInstanceDeploymentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	spec, err := NewInstanceSpecifier(wire.InstanceSpecifier)
	if err != nil {
		comerr.Fatal(fmt.Sprintf("ServiceInstanceDeployment: %v", err))
	}
	d.Service = wire.Service
	d.BindingInfo = wire.BindingInfoIndex
	d.InstanceSpecifier = spec
	d.Quality = wire.Quality
	if wire.BindingInfoIndex == BindingInfoLola {
		var lola LolaServiceInstanceDeployment
		if err := json.Unmarshal(wire.BindingInfo, &lola); err != nil {
			return err
		}
		d.Lola = &lola
	}
	return nil
}

// ServiceTypeDeployment binds a ServiceIdentifierType to its
// binding-specific element-id table.
type ServiceTypeDeployment struct {
	BindingInfo BindingInfoKind
	Lola        *LolaServiceTypeDeployment
}

type serviceTypeDeploymentWire struct {
	BindingInfoIndex BindingInfoKind `json:"bindingInfoIndex"`
	BindingInfo      json.RawMessage `json:"bindingInfo"`
}

func (d ServiceTypeDeployment) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	var err error
	switch d.BindingInfo {
	case BindingInfoLola:
		if d.Lola == nil {
			return nil, fmt.Errorf("config: ServiceTypeDeployment: BindingInfoLola without a Lola payload")
		}
		payload, err = json.Marshal(d.Lola)
	default:
		payload, err = json.Marshal(struct{}{})
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(serviceTypeDeploymentWire{
		BindingInfoIndex: d.BindingInfo,
		BindingInfo:      payload,
	})
}

func (d *ServiceTypeDeployment) UnmarshalJSON(data []byte) error {
	var wire serviceTypeDeploymentWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.BindingInfo = wire.BindingInfoIndex
	if wire.BindingInfoIndex == BindingInfoLola {
		var lola LolaServiceTypeDeployment
		if err := json.Unmarshal(wire.BindingInfo, &lola); err != nil {
			return err
		}
		d.Lola = &lola
	}
	return nil
}

// InstanceIdentifier is a stable handle into a Configuration's tables: a
// pointer to the canonical ServiceInstanceDeployment and ServiceTypeDeployment
// it was resolved from (§4.5, §9 "pointers/handles to entries must remain
// valid for the configuration's lifetime"). It is comparable by value since
// it only carries the owning Configuration's identity plus a stable index.
type InstanceIdentifier struct {
	cfg   *Configuration
	index int
}

// Instance returns the ServiceInstanceDeployment this identifier resolves
// to within its owning Configuration.
func (id InstanceIdentifier) Instance() ServiceInstanceDeployment {
	return id.cfg.instances[id.index]
}

// Type returns the ServiceTypeDeployment for the same service.
func (id InstanceIdentifier) Type() (ServiceTypeDeployment, bool) {
	inst := id.Instance()
	t, ok := id.cfg.types[inst.Service.ToString()]
	return t, ok
}

func (id InstanceIdentifier) IsValid() bool {
	return id.cfg != nil && id.index >= 0 && id.index < len(id.cfg.instances)
}
