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

package mwcom

import "github.com/eclipse-score/mw-com-lola/mwcom/config"

// The core data-model types (§3) live in mwcom/config, the lowest-level
// leaf package, and are re-exported here so façade callers can name them
// as mwcom.ElementFqId etc. without reaching into the config package
// directly for types that are not really about configuration loading.
type (
	ElementKind     = config.ElementKind
	ElementFqId     = config.ElementFqId
	BindingInfoKind = config.BindingInfoKind
	HandleType      = config.HandleType

	// ServiceVersionType is round-trip serializable per §8; every
	// ServiceIdentifierType carries one.
	ServiceVersionType = config.ServiceVersionType
)

const (
	ElementKindInvalid = config.ElementKindInvalid
	ElementKindEvent    = config.ElementKindEvent
	ElementKindField    = config.ElementKindField
	ElementKindMethod   = config.ElementKindMethod

	BindingInfoLola   = config.BindingInfoLola
	BindingInfoSomeIp = config.BindingInfoSomeIp
	BindingInfoBlank  = config.BindingInfoBlank
)

// NewServiceVersionType constructs a ServiceVersionType; see
// config.NewServiceVersionType.
var NewServiceVersionType = config.NewServiceVersionType
