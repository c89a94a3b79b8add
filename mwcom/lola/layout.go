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
	"sort"

	"github.com/eclipse-score/mw-com-lola/mwcom/config"
	"github.com/eclipse-score/mw-com-lola/mwcom/lola/shm"
)

// elementLayout is where one event or field's control-word plane(s) and
// transaction-log pool live inside a region (§3 "ServiceDataStorage",
// §9 "Offsets ... meaningful to any process that maps the same
// region"). asilOff is only meaningful when composite is true.
type elementLayout struct {
	key       string
	slots     int
	composite bool
	maxSubs   int

	controlOff shm.Offset
	asilOff    shm.Offset
	poolOff    shm.Offset
}

func (e elementLayout) poolSize() int { return txLogPoolSize(e.maxSubs, e.slots) }

// regionLayout is the full deterministic byte plan for one
// ServiceDataStorage region. Any process that parses the same
// deployment config computes the identical layout, which is what lets a
// consumer that opens an existing region (rather than creating it) find
// the right offsets without the producer having to publish them
// separately (§9).
type regionLayout struct {
	pidMappingOff shm.Offset
	pidCapacity   int
	elements      []elementLayout
	size          int
}

// buildRegionLayout computes the byte plan for dep's events and fields,
// in a fixed order (sorted by controlKey) so the layout is reproducible
// from the deployment config alone.
func buildRegionLayout(dep *config.LolaServiceInstanceDeployment) regionLayout {
	composite := dep != nil && dep.Quality == config.QualityTypeASILB

	var elements []elementLayout
	if dep != nil {
		for name, ev := range dep.Events {
			elements = append(elements, newElementLayout(config.ElementKindEvent, name, ev, composite))
		}
		for name, fd := range dep.Fields {
			elements = append(elements, newElementLayout(config.ElementKindField, name, fd, composite))
		}
	}
	sort.Slice(elements, func(i, j int) bool { return elements[i].key < elements[j].key })

	layout := regionLayout{pidMappingOff: shm.Offset(shm.HeaderSize), pidCapacity: pidMappingCapacity}
	off := layout.pidMappingOff + shm.Offset(pidMappingCapacity*pidEntryWords*wordSize)

	for i := range elements {
		elements[i].controlOff = off
		off += shm.Offset(ControlWordsSize(elements[i].slots))
		if elements[i].composite {
			elements[i].asilOff = off
			off += shm.Offset(ControlWordsSize(elements[i].slots))
		}
		elements[i].poolOff = off
		off += shm.Offset(elements[i].poolSize())
	}
	layout.elements = elements
	layout.size = int(off)
	return layout
}

func newElementLayout(kind config.ElementKind, name string, ev config.LolaEventInstanceDeployment, composite bool) elementLayout {
	total, ok := ev.TotalSampleSlots()
	if !ok {
		total = 1
	}
	maxSubs := txLogPoolDefaultSlots
	if ev.MaxSubscribers != nil {
		maxSubs = int(*ev.MaxSubscribers)
	}
	return elementLayout{key: controlKey(kind, name), slots: int(total), composite: composite, maxSubs: maxSubs}
}

func (l regionLayout) element(key string) (elementLayout, bool) {
	for _, e := range l.elements {
		if e.key == key {
			return e, true
		}
	}
	return elementLayout{}, false
}
