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

// Package shm provides the low-level shared-memory primitives the lola
// binding builds on: an offset-based pointer type for anything stored
// inside a mapped region, mmap'd region lifecycle (create-or-open with a
// validated header, temp-file-plus-rename creation), and advisory-lock
// files used to gate service lifecycle transitions.
package shm
