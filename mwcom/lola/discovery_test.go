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
	"testing"

	"github.com/eclipse-score/mw-com-lola/mwcom/config"
)

const discoveryTestManifest = `{
	"serializationVersion": 1,
	"serviceInstanceDeployment": [
		{
			"serviceType": {
				"serializationVersion": 1,
				"serviceType": "test.DiscoveryService",
				"version": {"serializationVersion": 1, "majorVersion": 1, "minorVersion": 0}
			},
			"bindingInfoIndex": 0,
			"bindingInfo": {
				"serializationVersion": 1,
				"instanceId": 1,
				"sharedMemorySize": 4096,
				"events": {
					"Counter": {
						"serializationVersion": 1,
						"numberOfSampleSlots": 4,
						"enforceMaxSamples": false,
						"numberOfIpcTracingSlots": 0
					}
				},
				"strict": false
			},
			"instanceSpecifier": "lola_discovery_test/instance1",
			"quality": "QM"
		}
	]
}`

func loadDiscoveryTestInstance(t *testing.T) config.InstanceIdentifier {
	t.Helper()
	cfg, err := config.Parse([]byte(discoveryTestManifest))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	spec, err := config.NewInstanceSpecifier("lola_discovery_test/instance1")
	if err != nil {
		t.Fatalf("NewInstanceSpecifier: %v", err)
	}
	ids := cfg.Resolve(spec)
	if len(ids) != 1 {
		t.Fatalf("expected exactly one resolved instance, got %d", len(ids))
	}
	return ids[0]
}

func TestOfferServiceFindServiceRoundTrip(t *testing.T) {
	inst := loadDiscoveryTestInstance(t)

	if offered, err := FindService(inst); err != nil || offered {
		t.Fatalf("expected not offered before OfferService, got offered=%v err=%v", offered, err)
	}

	storage, err := OfferService(inst, nil)
	if err != nil {
		t.Fatalf("OfferService: %v", err)
	}

	if offered, err := FindService(inst); err != nil || !offered {
		t.Fatalf("expected offered after OfferService, got offered=%v err=%v", offered, err)
	}

	control := storage.Control(config.ElementKindEvent, "Counter")
	if control == nil {
		t.Fatalf("expected a control plane registered for event Counter")
	}

	if err := storage.StopOfferService(); err != nil {
		t.Fatalf("StopOfferService: %v", err)
	}
	if offered, err := FindService(inst); err != nil || offered {
		t.Fatalf("expected not offered after StopOfferService, got offered=%v err=%v", offered, err)
	}
}

func TestOfferServiceRejectsDoubleOffer(t *testing.T) {
	inst := loadDiscoveryTestInstance(t)

	storage, err := OfferService(inst, nil)
	if err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer storage.StopOfferService()

	if _, err := OfferService(inst, nil); err != ErrAlreadyOffered {
		t.Fatalf("expected ErrAlreadyOffered on a second concurrent offer, got %v", err)
	}
}

func TestConnectToServiceInProcess(t *testing.T) {
	inst := loadDiscoveryTestInstance(t)

	storage, err := OfferService(inst, nil)
	if err != nil {
		t.Fatalf("OfferService: %v", err)
	}
	defer storage.StopOfferService()

	connected, err := ConnectToService(inst)
	if err != nil {
		t.Fatalf("ConnectToService: %v", err)
	}
	if connected != storage {
		t.Fatalf("expected ConnectToService to resolve the same in-process ServiceDataStorage")
	}
}

func TestConnectToServiceFailsWhenNotOffered(t *testing.T) {
	inst := loadDiscoveryTestInstance(t)
	if _, err := ConnectToService(inst); err != ErrServiceNotOffered {
		t.Fatalf("expected ErrServiceNotOffered, got %v", err)
	}
}
