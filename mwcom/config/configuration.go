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
	"os"

	json "github.com/goccy/go-json"

	"github.com/eclipse-score/mw-com-lola/internal/comerr"
)

const manifestSerializationVersion uint32 = 1

// Configuration holds the (service_type → ServiceTypeDeployment) and
// (instance_specifier → ServiceInstanceDeployment) tables loaded from one
// manifest. Maps are Go's native insertion-stable-enough structures for
// this purpose; InstanceIdentifier handles index into the instances slice,
// which never reorders after Load, so handles stay valid for the
// Configuration's lifetime (§4.5, §9).
type Configuration struct {
	types     map[string]ServiceTypeDeployment
	instances []ServiceInstanceDeployment
	bySpec    map[string]int
}

type manifestWire struct {
	SerializationVersion      uint32                           `json:"serializationVersion"`
	ServiceTypeDeployment     map[string]ServiceTypeDeployment `json:"serviceTypeDeployment"`
	ServiceInstanceDeployment []ServiceInstanceDeployment       `json:"serviceInstanceDeployment"`
}

// Load reads and parses a manifest file. A missing or malformed file, a
// duplicate instance specifier or instanceId, or a deployment that fails
// Validate is reported as an ordinary error so the caller (by
// convention, mwcom.InitializeRuntime) can choose how to surface it. A
// serializationVersion mismatch, on the manifest itself or on any nested
// deployment object, and an instance specifier that fails to parse abort
// immediately via comerr.Fatal, since a skewed serialization version
// makes the rest of that object's fields unreliable to interpret.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Configuration from an already-read manifest document.
func Parse(data []byte) (*Configuration, error) {
	var wire manifestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("config: parsing manifest: %w", err)
	}
	if wire.SerializationVersion != manifestSerializationVersion {
		comerr.Fatal(fmt.Sprintf("config manifest: unknown serializationVersion %d", wire.SerializationVersion))
	}

	cfg := &Configuration{
		types:     wire.ServiceTypeDeployment,
		instances: wire.ServiceInstanceDeployment,
		bySpec:    make(map[string]int, len(wire.ServiceInstanceDeployment)),
	}
	if cfg.types == nil {
		cfg.types = map[string]ServiceTypeDeployment{}
	}
	seenInstanceId := map[string]map[uint16]bool{}
	for i, inst := range cfg.instances {
		if err := inst.Validate(); err != nil {
			return nil, err
		}
		key := inst.InstanceSpecifier.String()
		if _, dup := cfg.bySpec[key]; dup {
			return nil, fmt.Errorf("config: duplicate instance specifier %q", key)
		}
		cfg.bySpec[key] = i

		if inst.Lola != nil && inst.Lola.InstanceId != nil {
			svc := inst.Service.ToString()
			if seenInstanceId[svc] == nil {
				seenInstanceId[svc] = map[uint16]bool{}
			}
			id := *inst.Lola.InstanceId
			if seenInstanceId[svc][id] {
				return nil, fmt.Errorf("config: duplicate instanceId %d for service type %q", id, svc)
			}
			seenInstanceId[svc][id] = true
		}
	}
	return cfg, nil
}

// Validate validates a deployment by binding kind.
func (d ServiceInstanceDeployment) Validate() error {
	if d.BindingInfo == BindingInfoLola {
		if d.Lola == nil {
			return fmt.Errorf("config: instance %q: BindingInfoLola without a Lola payload", d.InstanceSpecifier)
		}
		return d.Lola.Validate()
	}
	return nil
}

// Resolve implements "InstanceSpecifier → Set<InstanceIdentifier>" (§4.3
// Deployment resolution): a pure function of the loaded configuration.
// Since instance specifiers are unique per Configuration in this
// implementation, the set has at most one element.
func (c *Configuration) Resolve(spec InstanceSpecifier) []InstanceIdentifier {
	idx, ok := c.bySpec[spec.String()]
	if !ok {
		return nil
	}
	return []InstanceIdentifier{{cfg: c, index: idx}}
}

// Instances returns every InstanceIdentifier known to the configuration.
func (c *Configuration) Instances() []InstanceIdentifier {
	out := make([]InstanceIdentifier, len(c.instances))
	for i := range c.instances {
		out[i] = InstanceIdentifier{cfg: c, index: i}
	}
	return out
}

// ServiceType looks up a service type's deployment by its type name.
func (c *Configuration) ServiceType(name string) (ServiceTypeDeployment, bool) {
	t, ok := c.types[name]
	return t, ok
}
