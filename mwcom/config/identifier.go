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

const identifierSerializationVersion uint32 = 1

// ServiceIdentifierType names a service interface type plus its version.
type ServiceIdentifierType struct {
	typeName string
	version  ServiceVersionType
}

func NewServiceIdentifierType(typeName string, version ServiceVersionType) ServiceIdentifierType {
	return ServiceIdentifierType{typeName: typeName, version: version}
}

func (s ServiceIdentifierType) ToString() string            { return s.typeName }
func (s ServiceIdentifierType) Version() ServiceVersionType  { return s.version }
func (s ServiceIdentifierType) Equal(o ServiceIdentifierType) bool {
	return s.typeName == o.typeName && s.version.Equal(o.version)
}
func (s ServiceIdentifierType) Less(o ServiceIdentifierType) bool {
	if s.typeName != o.typeName {
		return s.typeName < o.typeName
	}
	return s.version.Less(o.version)
}

type serviceIdentifierWire struct {
	SerializationVersion uint32             `json:"serializationVersion"`
	ServiceType          string             `json:"serviceType"`
	Version              ServiceVersionType `json:"version"`
}

func (s ServiceIdentifierType) MarshalJSON() ([]byte, error) {
	return json.Marshal(serviceIdentifierWire{
		SerializationVersion: identifierSerializationVersion,
		ServiceType:          s.typeName,
		Version:              s.version,
	})
}

func (s *ServiceIdentifierType) UnmarshalJSON(data []byte) error {
	var wire serviceIdentifierWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SerializationVersion != identifierSerializationVersion {
		comerr.Fatal(fmt.Sprintf("ServiceIdentifierType: unknown serializationVersion %d", wire.SerializationVersion))
	}
	s.typeName = wire.ServiceType
	s.version = wire.Version
	return nil
}

// instanceSpecifierCharset is the constrained charset an InstanceSpecifier
// path may use: ASCII letters, digits, '/', '_', '.'.
func instanceSpecifierCharset(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '/' || r == '_' || r == '.':
		return true
	default:
		return false
	}
}

// InstanceSpecifier is a path-like name identifying a deployed service
// instance within a Configuration.
type InstanceSpecifier struct {
	path string
}

// NewInstanceSpecifier validates path against the constrained charset
// (§4.5). An invalid path is a configuration error per §7 ("unresolved
// specifier" is fatal), surfaced here as an ordinary error so callers
// parsing untrusted strings (e.g. FindService arguments) get a value they
// can propagate rather than a forced abort; config.Load itself treats a
// bad specifier found inside a manifest as fatal.
func NewInstanceSpecifier(path string) (InstanceSpecifier, error) {
	if path == "" {
		return InstanceSpecifier{}, fmt.Errorf("config: empty instance specifier")
	}
	for _, r := range path {
		if !instanceSpecifierCharset(r) {
			return InstanceSpecifier{}, fmt.Errorf("config: instance specifier %q contains invalid character %q", path, r)
		}
	}
	return InstanceSpecifier{path: path}, nil
}

func (s InstanceSpecifier) String() string { return s.path }
func (s InstanceSpecifier) Equal(o InstanceSpecifier) bool { return s.path == o.path }
