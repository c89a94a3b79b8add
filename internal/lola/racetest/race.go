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

//go:build race

// Package racetest lets the control/slot state-machine tests tell whether
// they are running under the race detector, mirroring the build-tag split
// hayabusa-cloud-lfq uses for its own lock-free queue tests.
package racetest

// Enabled is true when the race detector is active.
const Enabled = true
